package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pagecast/narrator/internal/app"
	"github.com/pagecast/narrator/internal/config"
	"github.com/pagecast/narrator/internal/document"
	"github.com/pagecast/narrator/internal/narration"
	"github.com/pagecast/narrator/internal/observability"
	"github.com/pagecast/narrator/internal/settings"
	"github.com/pagecast/narrator/internal/voiceserver"
)

func main() {
	pdfPath := flag.String("pdf", "", "PDF document to narrate")
	page := flag.Int("page", 1, "page to narrate")
	outPath := flag.String("out", "", "write the narrated MP3 here (default stdout)")
	transport := flag.String("transport", "", "override VOICE_TRANSPORT (http or ws)")
	check := flag.String("check", "", "query the voice server gRPC health service at host:port and exit")
	flag.Parse()

	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// stdout may carry audio, so logs go to stderr
	observability.InitLoggerTo(os.Stderr, cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *check != "" {
		os.Exit(runCheck(ctx, *check))
	}

	if *pdfPath == "" {
		fmt.Fprintln(os.Stderr, "usage: narrator -pdf file.pdf [-page n] [-out file.mp3]")
		os.Exit(2)
	}
	if *transport != "" {
		cfg.Transport = *transport
	}

	var out io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", *outPath).Msg("Failed to create output file")
		}
		defer f.Close()
		out = f
	}

	store, err := settings.NewStore(ctx, settings.Options{
		Backend:     cfg.SettingsBackend,
		File:        cfg.SettingsFile,
		DatabaseURL: cfg.DatabaseURL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open settings store")
	}

	var streamer narration.Streamer
	switch cfg.Transport {
	case "ws":
		streamer = narration.NewWSStreamer(cfg.VoiceServerURL)
	default:
		streamer = narration.NewHTTPStreamer(cfg.VoiceServerURL, &http.Client{})
	}

	updates := make(chan narration.Telemetry, 1)
	reader, err := app.NewReader(ctx, app.Options{
		Streamer:     streamer,
		Media:        app.PlaybackMedia(out, cfg.PlaybackRate),
		Store:        store,
		PollInterval: cfg.PollEvery(),
		StallTimeout: cfg.StallAfter(),
		Observer: func(t narration.Telemetry) {
			// Keep only the newest snapshot
			select {
			case updates <- t:
			default:
				select {
				case <-updates:
				default:
				}
				select {
				case updates <- t:
				default:
				}
			}
		},
		OnPage: func(c document.PageChange) {
			logger.Info().Int("page", c.Page).Int("pages", c.Pages).Int("chars", len(c.Text)).Msg("Page loaded")
		},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create reader")
	}
	defer reader.Close()

	if err := reader.Open(ctx, *pdfPath); err != nil {
		logger.Fatal().Err(err).Str("path", *pdfPath).Msg("Failed to open document")
	}
	if *page != 1 {
		if err := reader.GoTo(ctx, *page); err != nil {
			logger.Fatal().Err(err).Int("page", *page).Msg("Failed to show page")
		}
	}

	player := reader.Player()
	if err := player.Play(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start narration")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				player.Stop()
				return nil
			case t := <-updates:
				fmt.Fprintf(os.Stderr, "\r%s / %s  %3.0f%%  %d chunks",
					narration.FormatTime(t.CurrentTime), narration.FormatTime(t.Duration), t.Progress, t.ChunksReceived)
				switch player.State() {
				case narration.StateEnded:
					fmt.Fprintln(os.Stderr)
					return nil
				case narration.StateFailed:
					fmt.Fprintln(os.Stderr)
					return fmt.Errorf("narration failed: %w", t.Err)
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Narration stopped")
		os.Exit(1)
	}
	logger.Info().Str("file", reader.FileName()).Int("page", reader.Viewer().Page()).Msg("Narration finished")
}

func runCheck(ctx context.Context, target string) int {
	logger := observability.WithComponent("health")

	client, err := voiceserver.NewHealthClient(target)
	if err != nil {
		logger.Error().Err(err).Str("target", target).Msg("Failed to create health client")
		return 1
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ok, err := client.HealthCheck(ctx)
	if err != nil {
		logger.Error().Err(err).Str("target", target).Msg("Health check failed")
		return 1
	}
	if !ok {
		logger.Warn().Str("target", target).Msg("Voice server not serving")
		return 1
	}
	logger.Info().Str("target", target).Msg("Voice server serving")
	return 0
}
