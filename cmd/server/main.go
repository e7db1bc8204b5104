package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slotdesk/internal/api"
	"slotdesk/internal/availability"
	"slotdesk/internal/booking"
	"slotdesk/internal/calendar"
	"slotdesk/internal/config"
	"slotdesk/internal/crmapi"
	"slotdesk/internal/db"
	"slotdesk/internal/events"
	"slotdesk/internal/metrics"
	"slotdesk/internal/notify"
	"slotdesk/internal/schedule"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

func main() {
	_ = godotenv.Load()

	// Initialize logger
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(config.Path())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		logger = logger.Level(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	holder := schedule.NewHolder(schedule.DefaultPolicy())
	err = config.WatchSchedule(ctx, cfg.Booking.ScheduleFile, 30*time.Second, &logger, func(p schedule.Policy) {
		holder.Set(p)
		logger.Info().Str("window", p.DayStart+"-"+p.DayEnd).Int("slot_minutes", p.SlotMinutes).Msg("schedule loaded")
	})
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.Booking.ScheduleFile).Msg("schedule file unavailable, using default window")
	}

	database, err := db.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer database.Close()

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}

	client := crmapi.NewClient(crmapi.Endpoints{
		CalendarURL: cfg.Webhooks.CalendarURL,
		BookingURL:  cfg.Webhooks.BookingURL,
		ReferralURL: cfg.Webhooks.ReferralURL,
		APIKey:      cfg.Webhooks.APIKey,
	}, cfg.WebhookTimeout())
	client.UseLocation(holder.Current().Loc())
	if rdb != nil && cfg.CacheTTL() > 0 {
		client.UseRedisCache(rdb, cfg.CacheTTL())
	}
	if cfg.Webhooks.RatePerSecond > 0 {
		client.UseRateLimit(rate.NewLimiter(rate.Limit(cfg.Webhooks.RatePerSecond), 1))
	}

	source, err := busySource(ctx, cfg, client, holder)
	if err != nil {
		logger.Fatal().Err(err).Msg("calendar source error")
	}
	syncer := calendar.NewSynchronizer(source, holder, &logger)
	calc := availability.NewCalculator(holder)
	fsm := booking.NewFSM(calc, &logger)

	memStore := booking.NewMemoryStore(cfg.SessionTimeout())
	var store booking.Store = memStore
	if cfg.Booking.SessionStore == "redis" {
		store = booking.NewFailoverStore(
			booking.NewRedisStore(rdb, cfg.SessionTimeout(), 2*cfg.SubmitTimeout()),
			memStore,
			&logger,
		)
	}
	go cleanupSessions(ctx, memStore, &logger)

	bus := events.NewEventBus(&logger)
	if cfg.Telegram.BotToken != "" && len(cfg.Telegram.Managers) > 0 {
		bot, err := notify.NewBotSender(cfg.Telegram.BotToken)
		if err != nil {
			logger.Error().Err(err).Msg("telegram notifications disabled")
		} else {
			notifier := notify.NewManagerNotifier(bot, cfg.Telegram.Managers, &logger)
			bus.Subscribe(events.BookingConfirmed, notifier.HandleEvent)
			go notifier.Run(ctx)
		}
	}

	deps := booking.OrchestratorDeps{
		FSM:     fsm,
		Store:   store,
		Busy:    syncer,
		Sink:    client,
		Repo:    database,
		Bus:     bus,
		Timeout: cfg.SubmitTimeout(),
		Logger:  &logger,
	}
	if cfg.Webhooks.ReferralURL != "" {
		deps.Referrals = client
	}
	orchestrator := booking.NewOrchestrator(deps)

	if cfg.Backup.Enabled {
		go db.NewBackupService(database, cfg.Backup, &logger).Start(ctx)
	}

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	checks := []readinessCheck{{name: "db", check: database.PingContext}}
	if rdb != nil {
		checks = append(checks, readinessCheck{name: "redis", check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	if cfg.Calendar.Source != "google" {
		checks = append(checks, readinessCheck{name: "calendar webhook", check: client.HealthCheck})
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, checks, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	handler := api.NewHandler(fsm, store, syncer, orchestrator, cfg.Server.ReferralCookie, &logger)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins:     cfg.Server.AllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute(),
	}, &logger)

	// Submissions may wait for the CRM up to the submit timeout.
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.SubmitTimeout() + 10*time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()

	logger.Info().Str("address", cfg.Server.Address).Str("calendar", cfg.Calendar.Source).Str("sessions", cfg.Booking.SessionStore).Msg("booking server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("http server error")
	}
	logger.Info().Msg("booking server stopped")
}

func busySource(ctx context.Context, cfg *config.Config, client *crmapi.Client, holder *schedule.Holder) (calendar.Source, error) {
	if cfg.Calendar.Source != "google" {
		return client, nil
	}
	creds, err := os.ReadFile(cfg.Calendar.Google.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read google credentials: %w", err)
	}
	return calendar.NewGoogleSource(ctx, creds, cfg.Calendar.Google.CalendarID, holder)
}

func cleanupSessions(ctx context.Context, store *booking.MemoryStore, logger *zerolog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := store.Cleanup(); n > 0 {
				logger.Debug().Int("removed", n).Int("active", store.Len()).Msg("expired sessions removed")
			}
		}
	}
}

// readinessCheck is one dependency /readyz must reach.
type readinessCheck struct {
	name  string
	check func(context.Context) error
}

func readinessHandler(checks []readinessCheck, logger *zerolog.Logger) http.HandlerFunc {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctxPing, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for _, c := range checks {
			if err := c.check(ctxPing); err != nil {
				logger.Warn().Err(err).Str("check", c.name).Msg("readiness check failed")
				http.Error(w, c.name+" not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}

func startHealthServer(ctx context.Context, port int, checks []readinessCheck, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", readinessHandler(checks, logger))

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
