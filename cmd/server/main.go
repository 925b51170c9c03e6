package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/brightloop-voice/booking-agent/internal/asr"
	"github.com/brightloop-voice/booking-agent/internal/config"
	"github.com/brightloop-voice/booking-agent/internal/dialogue"
	"github.com/brightloop-voice/booking-agent/internal/eventsink"
	"github.com/brightloop-voice/booking-agent/internal/observability"
	"github.com/brightloop-voice/booking-agent/internal/orgcontext"
	"github.com/brightloop-voice/booking-agent/internal/telephony"
	"github.com/brightloop-voice/booking-agent/internal/tts"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("tts_provider", cfg.TTSProvider).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("booking agent starting")

	orgProvider, orgPing, closeOrgStore := buildOrgProvider(cfg, logger)
	defer closeOrgStore()

	sink, closeSink := buildEventSink(cfg, logger)
	defer closeSink()

	callStore := telephony.NewCallStore()
	defer callStore.Close()

	app := &app{
		cfg:       cfg,
		orgs:      orgProvider,
		sink:      sink,
		callStore: callStore,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/calls/inbound", telephony.WebhookHandler(callStore))
	mux.HandleFunc("/streams/voice", app.handleStream)
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(
		asrReadinessCheck(cfg),
		ttsReadinessCheck(cfg),
		llmReadinessCheck(cfg),
		orgPing,
	))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}
	logger.Info().Msg("server exited gracefully")
}

// app holds the collaborators shared across calls; CallRunner is the only
// thing that owns per-call mutable state (spec §5).
type app struct {
	cfg       *config.Config
	orgs      orgcontext.Provider
	sink      eventsink.Sink
	callStore *telephony.CallStore
}

// handleStream upgrades one inbound media stream, resolves its
// organization by the dialed number carried on the StreamStart event, and
// runs a dedicated CallRunner for the call's lifetime.
func (a *app) handleStream(w http.ResponseWriter, r *http.Request) {
	logger := observability.GetLogger()

	socket, err := telephony.Upgrade(w, r, a.callStore)
	if err != nil {
		logger.Error().Err(err).Msg("telephony: upgrade failed")
		return
	}

	go socket.ServeRead()
	go socket.ServeWrite()

	startEvt, ok := <-socket.Events()
	if !ok || startEvt.Kind != telephony.EventStreamStart {
		logger.Warn().Msg("telephony: stream closed before a start event arrived")
		_ = socket.Close()
		return
	}

	ctx := context.Background()
	org, err := a.orgs.Resolve(ctx, startEvt.CalledNumber)
	if err != nil {
		logger.Error().Err(err).Str("called_number", startEvt.CalledNumber).Msg("orgcontext: resolve failed")
		org = orgcontext.Default(startEvt.CalledNumber)
	}

	timers := dialogue.TimerDurations{
		Silence:           time.Duration(a.cfg.SilenceTimeoutMs) * time.Millisecond,
		Conversation:      time.Duration(a.cfg.ConversationTimeoutMs) * time.Millisecond,
		FallbackGreeting:  time.Duration(a.cfg.FallbackGreetingMs) * time.Millisecond,
		BargeInDebounce:   time.Duration(a.cfg.BargeInDebounceMs) * time.Millisecond,
		SessionCloseGrace: time.Duration(a.cfg.SessionCloseGraceMs) * time.Millisecond,
	}

	sess := dialogue.NewSession(uuid.NewString(), startEvt.CallSid, org, timers)

	asrClient := asr.NewDeepgramClient(a.cfg)

	ttsClient, err := tts.NewClient(a.cfg, tts.VoiceSelection{
		Provider: org.VoiceSettings.Provider,
		VoiceID:  org.VoiceSettings.VoiceID,
		Speed:    org.VoiceSettings.Speed,
	})
	if err != nil {
		logger.Error().Err(err).Msg("tts: failed to build client, falling back to config provider")
		ttsClient, _ = tts.NewClient(a.cfg, tts.VoiceSelection{})
	}

	llmClient := dialogue.NewOpenAILLMClient(a.cfg)

	runner := dialogue.NewCallRunner(sess, dialogue.Runtime{
		Socket:       socket,
		ASR:          asrClient,
		TTS:          ttsClient,
		LLM:          llmClient,
		StateMachine: dialogue.NewStateMachine(nil),
		Sink:         a.sink,
	})

	logger.Info().
		Str("session_id", sess.SessionID).
		Str("call_sid", sess.CallSid).
		Str("org_id", org.ID).
		Msg("dialogue: call session starting")

	runner.Bootstrap(startEvt)
	runner.Run(ctx)

	logger.Info().Str("session_id", sess.SessionID).Msg("dialogue: call session ended")
}

// buildOrgProvider wires a CachedProvider over Postgres when DATABASE_URL
// is set; otherwise it falls back to a store that never finds a mapping,
// so every call resolves to orgcontext.Default (spec §6.3's described
// fallback-on-lookup-failure behavior, extended to "no store configured").
func buildOrgProvider(cfg *config.Config, logger zerolog.Logger) (orgcontext.Provider, observability.HealthCheckFunc, func()) {
	var store orgcontext.Store
	var closeFn func()

	if cfg.DatabaseURL != "" {
		pgStore, err := orgcontext.NewPostgresStore(context.Background(), cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("orgcontext: failed to connect to postgres")
		}
		store = pgStore
		closeFn = pgStore.Close
	} else {
		logger.Warn().Msg("orgcontext: DATABASE_URL not set, serving orgcontext.Default for every call")
		store = nullStore{}
		closeFn = func() {}
	}

	provider := orgcontext.NewCachedProvider(
		store,
		time.Duration(cfg.OrgCacheTTLSec)*time.Second,
		cfg.OrgCacheCapacity,
		cfg.DefaultOrgID,
	)

	ping := func(ctx context.Context) (bool, error) {
		if err := provider.Ping(ctx); err != nil {
			return false, err
		}
		return true, nil
	}

	return provider, ping, closeFn
}

// nullStore implements orgcontext.Store by always reporting no mapping,
// for deployments without a configuration database.
type nullStore struct{}

func (nullStore) FetchByNumber(context.Context, string) (orgcontext.Context, error) {
	return orgcontext.Context{}, orgcontext.ErrNotFound
}

func (nullStore) Ping(context.Context) error { return nil }

// buildEventSink wires a RedisSink when REDIS_URL is set, otherwise a
// NoopSink (spec §6.4: best-effort, the voice path never depends on it).
func buildEventSink(cfg *config.Config, logger zerolog.Logger) (eventsink.Sink, func()) {
	if cfg.RedisURL == "" {
		logger.Warn().Msg("eventsink: REDIS_URL not set, turn/call records will be discarded")
		return eventsink.NoopSink{}, func() {}
	}

	sink, err := eventsink.NewRedisSink(cfg.RedisURL, cfg.EventStreamKey, cfg.EventQueueSize)
	if err != nil {
		logger.Error().Err(err).Msg("eventsink: failed to connect to redis, falling back to NoopSink")
		return eventsink.NoopSink{}, func() {}
	}
	return sink, func() { _ = sink.Close() }
}

// asrReadinessCheck validates ASR configuration without opening a live
// connection (the /ready probe should not spend provider API quota).
func asrReadinessCheck(cfg *config.Config) observability.HealthCheckFunc {
	return func(ctx context.Context) (bool, error) {
		if cfg.ASRAPIKey == "" {
			return false, fmt.Errorf("asr: ASR_API_KEY not configured")
		}
		return true, nil
	}
}

func ttsReadinessCheck(cfg *config.Config) observability.HealthCheckFunc {
	return func(ctx context.Context) (bool, error) {
		if _, err := tts.NewClient(cfg, tts.VoiceSelection{}); err != nil {
			return false, err
		}
		return true, nil
	}
}

func llmReadinessCheck(cfg *config.Config) observability.HealthCheckFunc {
	return func(ctx context.Context) (bool, error) {
		if cfg.LLMAPIKey == "" {
			return false, fmt.Errorf("llm: LLM_API_KEY not configured")
		}
		return true, nil
	}
}
