package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"parking-service/internal/access"
	"parking-service/internal/http/middleware"
	"parking-service/internal/ledger"
	"parking-service/internal/repository"
	"parking-service/internal/service"
)

type Handler struct {
	coordinator   *access.Coordinator
	reportService *service.ReportService
	gateEventRepo *repository.GateEventRepository
	log           zerolog.Logger
}

func NewHandler(
	coordinator *access.Coordinator,
	reportService *service.ReportService,
	gateEventRepo *repository.GateEventRepository,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		coordinator:   coordinator,
		reportService: reportService,
		gateEventRepo: gateEventRepo,
		log:           log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	api := r.Group("/api/v1")

	// the ANPR capture loop posts raw OCR candidates here
	api.POST("/lanes/:direction/observations", h.submitObservation)
	api.POST("/payments", h.submitPayment)

	protected := api.Group("/")
	protected.Use(authMiddleware)

	reports := protected.Group("/reports")
	{
		reports.GET("/stats", h.getStats)
		reports.GET("/trends", h.getTrends)
		reports.GET("/activity", h.getRecentActivity)
		reports.GET("/unauthorized-exits", h.getUnauthorizedExits)
		reports.GET("/current-vehicles", h.getCurrentVehicles)
	}

	protected.GET("/gate/events", h.getGateEvents)
}

func (h *Handler) submitObservation(c *gin.Context) {
	direction := access.Direction(c.Param("direction"))
	if direction != access.DirectionEntry && direction != access.DirectionExit {
		c.JSON(http.StatusBadRequest, errorResponse("direction must be entry or exit"))
		return
	}

	var req struct {
		Candidate string `json:"candidate" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	decision, err := h.coordinator.Lane(direction).Observe(c.Request.Context(), req.Candidate)
	if err != nil {
		if errors.Is(err, ledger.ErrStorageUnavailable) {
			c.JSON(http.StatusServiceUnavailable, errorResponse("storage unavailable"))
			return
		}
		h.log.Error().Err(err).Str("direction", string(direction)).Msg("observation failed")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"outcome": decision.Outcome,
		"plate":   decision.Plate,
	})
}

func (h *Handler) submitPayment(c *gin.Context) {
	var req struct {
		Plate  string  `json:"plate" binding:"required"`
		Amount float64 `json:"amount" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	updated, err := h.coordinator.SubmitPayment(c.Request.Context(), req.Plate, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrValidation):
			c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		case errors.Is(err, ledger.ErrStorageUnavailable):
			c.JSON(http.StatusServiceUnavailable, errorResponse("storage unavailable"))
		default:
			h.log.Error().Err(err).Str("plate", req.Plate).Msg("payment failed")
			c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		}
		return
	}
	if !updated {
		c.JSON(http.StatusNotFound, errorResponse("no open unpaid stay for plate"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "paid"})
}

// operator resolves the authenticated user behind a protected request.
func operator(c *gin.Context) string {
	claims, ok := middleware.MustClaims(c)
	if !ok {
		return "unknown"
	}
	return claims.UserID
}

func (h *Handler) getStats(c *gin.Context) {
	stats, err := h.reportService.Stats(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Str("operator", operator(c)).Msg("stats report failed")
		c.JSON(http.StatusServiceUnavailable, errorResponse("reports unavailable"))
		return
	}
	h.log.Debug().Str("operator", operator(c)).Msg("stats report served")
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) getTrends(c *gin.Context) {
	trends, err := h.reportService.Trends(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("trends report failed")
		c.JSON(http.StatusServiceUnavailable, errorResponse("reports unavailable"))
		return
	}
	c.JSON(http.StatusOK, trends)
}

func (h *Handler) getRecentActivity(c *gin.Context) {
	page, err := h.reportService.RecentActivity(c.Request.Context(), parseLimit(c))
	if err != nil {
		h.log.Error().Err(err).Msg("activity report failed")
		c.JSON(http.StatusServiceUnavailable, errorResponse("reports unavailable"))
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) getUnauthorizedExits(c *gin.Context) {
	page, err := h.reportService.UnauthorizedExits(c.Request.Context(), parseLimit(c))
	if err != nil {
		h.log.Error().Err(err).Msg("unauthorized exits report failed")
		c.JSON(http.StatusServiceUnavailable, errorResponse("reports unavailable"))
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) getCurrentVehicles(c *gin.Context) {
	page, err := h.reportService.CurrentVehicles(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("current vehicles report failed")
		c.JSON(http.StatusServiceUnavailable, errorResponse("reports unavailable"))
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) getGateEvents(c *gin.Context) {
	events, err := h.gateEventRepo.ListRecent(c.Request.Context(), parseLimit(c))
	if err != nil {
		h.log.Error().Err(err).Str("operator", operator(c)).Msg("gate events listing failed")
		c.JSON(http.StatusServiceUnavailable, errorResponse("gate events unavailable"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func parseLimit(c *gin.Context) int {
	raw := c.Query("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return limit
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}
