package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"smartrouter/internal/config"
	"smartrouter/internal/gateway"
	"smartrouter/internal/ratelimit"
	"smartrouter/internal/upstream"
)

func main() {
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := log.With().Str("component", "smart-router").Logger()
	if config.ParseBoolEnv("LOG_PRETTY", false) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// One shared client for every upstream; per-request deadlines come from
	// the handler context, the client timeout is the hard backstop.
	client := &http.Client{Timeout: cfg.UpstreamTimeout + 10*time.Second}

	registry := upstream.Registry{}
	for _, a := range []upstream.Adapter{
		upstream.NewLocalAdapter(cfg.Local.BaseURL, client, logger),
		upstream.NewAnthropicAdapter("anthropic", cfg.Anthropic.BaseURL, cfg.Anthropic.APIKey, client, logger),
		upstream.NewAnthropicAdapter("zai", cfg.ZAI.BaseURL, cfg.ZAI.APIKey, client, logger),
		upstream.NewOpenAIAdapter(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, client, logger),
		upstream.NewGeminiAdapter(cfg.Gemini.BaseURL, cfg.Gemini.APIKey, client, logger),
	} {
		registry[a.Name()] = a
	}

	dispatcher, err := upstream.NewDispatcher(cfg.Routes, registry)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid route table")
	}

	limiter := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst)
	if limiter != nil {
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				limiter.Cleanup(10 * time.Minute)
			}
		}()
	}

	gate := gateway.NewGate(cfg.MaxConcurrent)
	handler := gateway.NewRouter(gateway.Dependencies{
		Dispatcher:           dispatcher,
		Stats:                gateway.NewStats(),
		Gate:                 gate,
		Limiter:              limiter,
		Log:                  logger,
		AuthToken:            cfg.AuthToken,
		AllowUnauthenticated: cfg.AllowUnauthenticated,
		MaxBodyBytes:         cfg.MaxBodyBytes,
		BodyReadTimeout:      cfg.BodyReadTimeout,
		UpstreamTimeout:      cfg.UpstreamTimeout,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// Streaming responses can outlive any fixed write window, so the
		// write timeout stays disabled and SSE relies on its stall timer.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Int64("in_flight", gate.Active()).Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("shutdown did not drain cleanly")
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}
}
