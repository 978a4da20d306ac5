package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tiewasters99/ispy-game/internal/billing"
	"github.com/Tiewasters99/ispy-game/internal/config"
	"github.com/Tiewasters99/ispy-game/internal/credits"
	"github.com/Tiewasters99/ispy-game/internal/gamemaster"
	"github.com/Tiewasters99/ispy-game/internal/game"
	"github.com/Tiewasters99/ispy-game/internal/geocode"
	"github.com/Tiewasters99/ispy-game/internal/httpserver"
	"github.com/Tiewasters99/ispy-game/internal/llm"
	"github.com/Tiewasters99/ispy-game/internal/logging"
	"github.com/Tiewasters99/ispy-game/internal/phone"
	"github.com/Tiewasters99/ispy-game/internal/rtc"
	"github.com/Tiewasters99/ispy-game/internal/transcript"
	"github.com/Tiewasters99/ispy-game/internal/tts"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledger, closeLedger := newLedger(ctx, cfg, logger)
	defer closeLedger()

	model, err := newLLM(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("provider", cfg.LLMProvider).Msg("llm setup failed")
	}
	gm := gamemaster.NewService(model, ledger, logger)
	rules := game.Rules{EnforceLeader: cfg.EnforceLeader}

	elevenlabs := tts.NewElevenLabsClient(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID, logger)
	var voice tts.Streamer = elevenlabs
	if cfg.ElevenLabsKey == "" && cfg.DeepgramKey != "" {
		voice = tts.NewDeepgramClient(cfg.DeepgramKey, cfg.DeepgramModel, logger)
	}

	geo := geocode.NewClient(logger)
	pay := billing.NewService(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.PublicBaseURL, ledger, logger)

	calls := rtc.NewHandler(rtc.Config{
		Agent: gm,
		Synth: tts.PCMSynthesizer{Streamer: voice},
		NewRecognizer: func(l zerolog.Logger) rtc.Recognizer {
			return transcript.NewAssemblyAIService(cfg.AssemblyAIKey, l)
		},
		Locator:        geo,
		ICEServers:     rtc.ParseICEServers(cfg.ICEServersJSON),
		Rules:          rules,
		SilenceTimeout: cfg.SilenceTimeout,
		Logger:         logger,
	})
	defer calls.Close()

	opts := httpserver.Options{
		GameMaster:      gm.Handle,
		TTS:             tts.NewHandler(elevenlabs, logger).Handle,
		Geocode:         geo.Handle,
		Checkout:        pay.HandleCheckout,
		Webhook:         pay.HandleWebhook,
		Calls:           calls,
		CallPassword:    cfg.CallPassword,
		TwilioAuthToken: cfg.TwilioAuthToken,
		PublicBaseURL:   cfg.PublicBaseURL,
		Logger:          logger,
	}
	if cfg.TwilioAuthToken != "" {
		line := phone.New(phone.Config{Agent: gm, Rules: rules, Logger: logger})
		go line.Run(ctx)
		opts.Phone = line
	} else {
		logger.Warn().Msg("TWILIO_AUTH_TOKEN not set - phone line disabled")
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           httpserver.New(opts),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddress).Msg("server listening")
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		_ = server.Close()
	}
}

// newLedger picks the credit store named by LEDGER.
func newLedger(ctx context.Context, cfg config.Config, logger zerolog.Logger) (credits.Ledger, func()) {
	switch cfg.Ledger {
	case "supabase":
		sb, err := credits.NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceKey, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("supabase ledger setup failed")
		}
		return sb, func() {}
	case "postgres":
		pg, err := credits.NewPostgres(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres ledger setup failed")
		}
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("database migration failed")
		}
		return pg, pg.Close
	default:
		logger.Warn().Msg("using in-memory ledger - credits reset on restart")
		return credits.NewMemory(), func() {}
	}
}

func newLLM(ctx context.Context, cfg config.Config) (llm.Client, error) {
	if cfg.LLMProvider == "gemini" {
		return llm.NewGeminiClient(ctx, cfg.GeminiKey, cfg.GeminiModel)
	}
	return llm.NewCerebrasClient(cfg.CerebrasKey, cfg.CerebrasModelID), nil
}
