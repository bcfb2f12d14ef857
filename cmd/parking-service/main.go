package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.bug.st/serial"
	"gorm.io/datatypes"

	"parking-service/internal/access"
	"parking-service/internal/auth"
	"parking-service/internal/client"
	"parking-service/internal/config"
	"parking-service/internal/db"
	"parking-service/internal/gate"
	httphandler "parking-service/internal/http"
	"parking-service/internal/http/middleware"
	"parking-service/internal/journal"
	"parking-service/internal/ledger"
	"parking-service/internal/logger"
	"parking-service/internal/model"
	"parking-service/internal/payment"
	"parking-service/internal/repository"
	"parking-service/internal/service"
	"parking-service/internal/store"
)

const reconcileInterval = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.Environment)

	database, err := db.New(cfg, appLogger)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("failed to connect database")
	}

	ledgerRepo := repository.NewLedgerRepository(database)
	gateEventRepo := repository.NewGateEventRepository(database)

	jrnl, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		appLogger.Fatal().Err(err).Str("path", cfg.Journal.Path).Msg("failed to open journal")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dualStore := store.NewDualStore(ledgerRepo, jrnl, appLogger)
	go dualStore.RunReconciler(ctx, reconcileInterval)

	activityLedger := ledger.New(dualStore, appLogger)

	gateCtrl := gate.Connect(
		cfg.Gate.Port,
		cfg.Gate.BaudRate,
		cfg.Gate.ConnectRetries,
		cfg.Gate.ConnectBackoff,
		cfg.Gate.ResponseWindow,
		appLogger,
	)
	defer gateCtrl.Close()
	gateCtrl.SetAuditor(func(cmd gate.Command, result gate.SendResult, meta gate.Meta) {
		lane := meta.Lane
		if lane == "" {
			lane = "maintenance"
		}
		event := &model.GateEvent{
			Lane:     lane,
			Command:  string(cmd),
			Result:   result.String(),
			RecordID: meta.RecordID,
			SentAt:   time.Now(),
		}
		if meta.Plate != "" {
			plate := meta.Plate
			event.Plate = &plate
		}
		if len(meta.Detail) > 0 {
			if detail, err := json.Marshal(meta.Detail); err == nil {
				event.Detail = datatypes.JSON(detail)
			}
		}
		if err := gateEventRepo.Create(context.Background(), event); err != nil {
			appLogger.Warn().Err(err).Str("command", string(cmd)).Msg("gate event not audited")
		}
	})

	coordinator := access.NewCoordinator(activityLedger, gateCtrl, access.Options{
		HoldDuration:     cfg.Gate.HoldDuration,
		BufferSize:       cfg.Confirmer.BufferSize,
		ConfirmThreshold: cfg.Confirmer.Threshold,
		Cooldown:         cfg.Confirmer.Cooldown,
	}, appLogger)

	if cfg.Payment.Port != "" {
		port, err := serial.Open(cfg.Payment.Port, &serial.Mode{BaudRate: cfg.Payment.BaudRate})
		if err != nil {
			appLogger.Error().Err(err).Str("port", cfg.Payment.Port).Msg("payment kiosk unavailable")
		} else {
			terminal := payment.NewTerminal(
				port,
				activityLedger,
				cfg.Billing.RatePerHour,
				cfg.Payment.ResponseWindow,
				appLogger,
			)
			go func() {
				if err := terminal.Run(ctx); err != nil && ctx.Err() == nil {
					appLogger.Error().Err(err).Msg("payment kiosk stopped")
				}
			}()
		}
	}

	if cfg.Camera.ServiceURL != "" {
		poller := client.NewCameraPoller(
			client.NewCameraClient(cfg),
			coordinator,
			cfg.Camera.PollInterval,
			appLogger,
		)
		go poller.Run(ctx)
	}

	reportService := service.NewReportService(ledgerRepo, jrnl, appLogger)

	tokenParser := auth.NewParser(cfg.Auth.AccessSecret)

	handler := httphandler.NewHandler(coordinator, reportService, gateEventRepo, appLogger)
	authMiddleware := middleware.Auth(tokenParser)
	router := httphandler.NewRouter(handler, authMiddleware, cfg.Environment, gateCtrl.Simulated)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	appLogger.Info().
		Str("addr", addr).
		Bool("gate_simulated", gateCtrl.Simulated()).
		Msg("starting parking service")

	if err := router.Run(addr); err != nil {
		appLogger.Error().Err(err).Msg("failed to start server")
		os.Exit(1)
	}
}
