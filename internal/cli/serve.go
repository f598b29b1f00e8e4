package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/omnichat/server/internal/api"
	"github.com/satriahrh/omnichat/server/internal/auth"
	"github.com/satriahrh/omnichat/server/internal/websocket"
	"github.com/satriahrh/omnichat/server/usecase"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := newServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	if configured, err := svc.keys.Configured(ctx); err != nil {
		logger.Warn("Failed to read API key", zap.Error(err))
	} else if !configured && !cfg.Gemini.Mock {
		logger.Warn("No Gemini API key configured, set one with omnichat key set")
	}

	secret := cfg.Server.JWTSecret
	if secret == "" {
		secret = uuid.NewString()
		logger.Warn("JWT_SECRET not set, using a random secret; tokens will not survive a restart")
	}
	issuer, err := auth.NewIssuer(secret, cfg.Server.JWTTTL)
	if err != nil {
		return err
	}

	ttsRepo, err := newTextToSpeech(cfg.Speech, logger)
	if err != nil {
		return err
	}
	sttRepo := newSpeechToText(cfg.Speech, logger)

	registry := usecase.NewSessionRegistry(
		svc.llm,
		svc.preferences,
		usecase.SessionOptions{EmotionAnalysis: cfg.Gemini.EmotionAnalysis},
		cfg.Server.IdleTimeout,
		logger,
	)
	registry.Start()
	defer registry.Stop()

	hub := websocket.NewHub(registry, sttRepo, ttsRepo, logger)
	go hub.Run()
	defer hub.Shutdown()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.InitRoutes(e, registry, svc.keys, hub, issuer, logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := e.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	logger.Info("Server started",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("store", cfg.Storage.Backend),
		zap.String("speech", cfg.Speech.Provider),
		zap.Bool("mockGateway", cfg.Gemini.Mock))

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	logger.Info("Server exited")
	return nil
}
