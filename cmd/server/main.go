package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pagecast/narrator/internal/config"
	"github.com/pagecast/narrator/internal/observability"
	"github.com/pagecast/narrator/internal/resilience"
	"github.com/pagecast/narrator/internal/settings"
	"github.com/pagecast/narrator/internal/tts"
	"github.com/pagecast/narrator/internal/voiceserver"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("grpc_port", cfg.GRPCPort).
		Str("tts_provider", cfg.TTSProvider).
		Str("settings_backend", cfg.SettingsBackend).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice Server starting")

	shutdownTracing := observability.InitTracing(nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := settings.NewStore(ctx, settings.Options{
		Backend:     cfg.SettingsBackend,
		File:        cfg.SettingsFile,
		DatabaseURL: cfg.DatabaseURL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open settings store")
	}
	defer store.Close()

	synth, err := tts.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create TTS client")
	}
	defer synth.Close()

	// Streaming responses run as long as the upstream keeps talking, so no write timeout
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           voiceserver.New(cfg, synth, store).Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("http://localhost:%s/stream_audio", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.GRPCPort != "" {
		grpcServer, healthServer := voiceserver.NewGRPCServer()
		if b, ok := synth.(interface{ Breaker() *resilience.CircuitBreaker }); ok {
			voiceserver.TrackBreaker(healthServer, b.Breaker())
		}

		lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
		if err != nil {
			logger.Fatal().Err(err).Str("port", cfg.GRPCPort).Msg("Failed to listen for gRPC")
		}

		g.Go(func() error {
			logger.Info().Str("port", cfg.GRPCPort).Msg("gRPC health service listening")
			if err := grpcServer.Serve(lis); err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			healthServer.Shutdown()
			grpcServer.GracefulStop()
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return shutdownTracing(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Server exited with error")
		os.Exit(1)
	}

	logger.Info().Msg("Server exited gracefully")
}
