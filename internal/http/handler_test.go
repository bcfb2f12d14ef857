package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-service/internal/access"
	"parking-service/internal/auth"
	gatectl "parking-service/internal/gate"
	"parking-service/internal/http/middleware"
	"parking-service/internal/ledger"
	"parking-service/internal/model"
	"parking-service/internal/store"
)

type memStore struct {
	mu      sync.Mutex
	records []model.ActivityRecord
}

func (s *memStore) Append(_ context.Context, rec *model.ActivityRecord) (store.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *rec)
	return store.Outcome{Backend: store.BackendPrimary}, nil
}

func (s *memStore) History(_ context.Context, plate string) ([]model.ActivityRecord, store.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ActivityRecord
	for _, r := range s.records {
		if r.Plate == plate {
			out = append(out, r)
		}
	}
	return out, store.Outcome{Backend: store.BackendPrimary}, nil
}

func (s *memStore) MarkPaid(_ context.Context, plate string, amount float64) (bool, store.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if r.Plate != plate {
			continue
		}
		if r.Action != model.ActionEntry || r.Paid {
			break
		}
		s.records[i].Paid = true
		s.records[i].AmountDue = amount
		return true, store.Outcome{Backend: store.BackendPrimary}, nil
	}
	return false, store.Outcome{Backend: store.BackendPrimary}, nil
}

type noopGate struct{}

func (noopGate) SendMeta(gatectl.Command, gatectl.Meta) gatectl.SendResult {
	return gatectl.Acknowledged
}

func (noopGate) OpenThenClose(context.Context, time.Duration, gatectl.Meta) {}

// timingGate records when the barrier opened and closed.
type timingGate struct {
	mu       sync.Mutex
	openedAt time.Time
	closedAt time.Time
}

func (g *timingGate) SendMeta(gatectl.Command, gatectl.Meta) gatectl.SendResult {
	return gatectl.Acknowledged
}

func (g *timingGate) OpenThenClose(ctx context.Context, hold time.Duration, _ gatectl.Meta) {
	g.mu.Lock()
	g.openedAt = time.Now()
	g.mu.Unlock()
	select {
	case <-time.After(hold):
	case <-ctx.Done():
	}
	g.mu.Lock()
	g.closedAt = time.Now()
	g.mu.Unlock()
}

func (g *timingGate) times() (time.Time, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.openedAt, g.closedAt
}

const testSecret = "test-secret"

func testRouter(t *testing.T) (*gin.Engine, *memStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ms := &memStore{}
	l := ledger.New(ms, zerolog.Nop())
	coordinator := access.NewCoordinator(l, noopGate{}, access.Options{
		HoldDuration:  time.Millisecond,
		AlertInterval: time.Millisecond,
	}, zerolog.Nop())

	handler := NewHandler(coordinator, nil, nil, zerolog.Nop())
	authMiddleware := middleware.Auth(auth.NewParser(testSecret))
	return NewRouter(handler, authMiddleware, "test", func() bool { return true }), ms
}

func signToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		UserID: "operator-1",
		Role:   "operator",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func postJSON(router *gin.Engine, path string, payload any) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSubmitObservationConfirmsEntry(t *testing.T) {
	router, ms := testRouter(t)

	var last map[string]any
	for i := 0; i < 3; i++ {
		w := postJSON(router, "/api/v1/lanes/entry/observations", gin.H{"candidate": "RAB123C"})
		require.Equal(t, http.StatusOK, w.Code)
		last = map[string]any{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &last))
	}

	assert.Equal(t, string(access.OutcomeEntryAllowed), last["outcome"])
	assert.Equal(t, "RAB123C", last["plate"])

	recs, _, err := ms.History(context.Background(), "RAB123C")
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestGateHoldOutlivesRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)

	ms := &memStore{}
	l := ledger.New(ms, zerolog.Nop())
	tg := &timingGate{}
	hold := 150 * time.Millisecond
	coordinator := access.NewCoordinator(l, tg, access.Options{
		HoldDuration:  hold,
		AlertInterval: time.Millisecond,
	}, zerolog.Nop())

	handler := NewHandler(coordinator, nil, nil, zerolog.Nop())
	authMiddleware := middleware.Auth(auth.NewParser(testSecret))
	router := NewRouter(handler, authMiddleware, "test", func() bool { return true })

	srv := httptest.NewServer(router)
	defer srv.Close()

	// Real requests: the request context is cancelled as soon as each
	// handler returns, which must not curtail the hold.
	body, _ := json.Marshal(gin.H{"candidate": "RAB123C"})
	for i := 0; i < 3; i++ {
		resp, err := http.Post(srv.URL+"/api/v1/lanes/entry/observations", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	require.Eventually(t, func() bool {
		_, closed := tg.times()
		return !closed.IsZero()
	}, 2*time.Second, 5*time.Millisecond)

	opened, closed := tg.times()
	assert.GreaterOrEqual(t, closed.Sub(opened), hold)
}

func TestSubmitObservationRejectsUnknownDirection(t *testing.T) {
	router, _ := testRouter(t)
	w := postJSON(router, "/api/v1/lanes/sideways/observations", gin.H{"candidate": "RAB123C"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitObservationRequiresCandidate(t *testing.T) {
	router, _ := testRouter(t)
	w := postJSON(router, "/api/v1/lanes/entry/observations", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitPayment(t *testing.T) {
	router, ms := testRouter(t)
	_, err := ms.Append(context.Background(), &model.ActivityRecord{
		Plate: "RAB123C", Action: model.ActionEntry, OccurredAt: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	w := postJSON(router, "/api/v1/payments", gin.H{"plate": "RAB123C", "amount": 500})
	assert.Equal(t, http.StatusOK, w.Code)

	recs, _, err := ms.History(context.Background(), "RAB123C")
	require.NoError(t, err)
	assert.True(t, recs[0].Paid)
	assert.Equal(t, 500.0, recs[0].AmountDue)
}

func TestSubmitPaymentNoOpenStay(t *testing.T) {
	router, _ := testRouter(t)
	w := postJSON(router, "/api/v1/payments", gin.H{"plate": "RAB123C", "amount": 500})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitPaymentRejectsBadBody(t *testing.T) {
	router, _ := testRouter(t)
	w := postJSON(router, "/api/v1/payments", gin.H{"plate": "RAB123C", "amount": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReportsRequireToken(t *testing.T) {
	router, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/stats", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthzReportsGateMode(t *testing.T) {
	router, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "simulation", body["gate"])
}

func TestTokenRoundTrip(t *testing.T) {
	parser := auth.NewParser(testSecret)
	claims, err := parser.Parse(signToken(t))
	require.NoError(t, err)
	assert.Equal(t, "operator-1", claims.UserID)
}
