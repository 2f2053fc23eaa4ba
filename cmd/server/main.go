package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/kvale/meet/internal/adapters/http"
	"github.com/kvale/meet/internal/adapters/rtc"
	signalws "github.com/kvale/meet/internal/adapters/signal"
	"github.com/kvale/meet/internal/config"
	"github.com/kvale/meet/internal/core"
	"github.com/kvale/meet/internal/translate"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	iceServers := make([]webrtc.ICEServer, 0, len(cfg.StunServers))
	for _, u := range cfg.StunServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{u}})
	}
	engine, err := rtc.NewEngine(iceServers)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create media engine")
	}
	// A dead engine is fatal to the whole service: shut down in order
	// instead of continuing silently.
	engine.OnDied(func(err error) {
		log.Error().Err(err).Msg("media engine died, shutting down")
		cancel()
	})

	registry := core.NewRegistry(engine)

	var translator *translate.Client
	if cfg.TranslateURL != "" {
		translator = translate.NewClient(cfg.TranslateURL)
		log.Info().Str("url", cfg.TranslateURL).Msg("server-side subtitle translation enabled")
	}
	ctl := signalws.NewController(registry, translator, cfg.ReadLimit)

	r := router.SetupRouter(ctx, cfg, registry, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Meet server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	registry.Shutdown("Server shutting down")
	engine.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
