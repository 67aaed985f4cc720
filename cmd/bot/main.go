package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	"stirka/internal/booking"
	"stirka/internal/bot"
	"stirka/internal/config"
	"stirka/internal/db"
	"stirka/internal/directory"
	"stirka/internal/events"
	"stirka/internal/metrics"
	"stirka/internal/reminders"
	"stirka/internal/repository"
	"stirka/internal/reset"
	"stirka/internal/schedule"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Msg("failed to read .env")
	}

	cfg, err := config.Load(os.Getenv("STIRKA_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger = logger.Level(cfg.LogLevel())

	if cfg.Telegram.BotToken == "" || cfg.Telegram.BotToken == "YOUR_BOT_TOKEN_HERE" {
		logger.Fatal().Msg("set telegram.bot_token in config or TOKEN in environment")
	}

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid timezone")
	}

	entries, err := cfg.DirectoryEntries()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to read users")
	}
	dir, err := directory.New(entries)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid user directory")
	}
	logger.Info().Int("users", dir.Len()).Msg("user directory loaded")

	database, err := db.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer database.Close()
	store := schedule.NewStore(database, &logger)

	var (
		rdb   *redis.Client
		flows booking.FlowStore = repository.NewMemoryFlowRepository(cfg.FlowTTL())
	)
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		flows = repository.NewFailoverFlowRepository(
			repository.NewRedisFlowRepository(rdb, cfg.FlowTTL()),
			flows,
			&logger,
		)
	}

	bus := events.NewEventBus()
	bus.OnError(func(ev events.Event, err error) {
		logger.Warn().Err(err).Str("event", ev.Type).Msg("event handler failed")
	})
	subscribeAudit(bus, &logger)

	engine := booking.NewEngine(store, dir, flows, bus, loc, &logger)

	b, err := bot.New(cfg.Telegram.BotToken, engine, store, dir, bot.Options{
		MachineLabels: cfg.Booking.MachineLabels,
		Admins:        cfg.Admins,
		Debug:         cfg.Telegram.Debug,
		Notifications: bot.NotifierConfig{
			RatePerSecond: cfg.Notifications.RatePerSecond,
			Burst:         cfg.Notifications.Burst,
			MaxRetries:    cfg.Notifications.MaxRetries,
		},
	}, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("create bot error")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resetter, err := reset.NewService(cfg.Reset.Schedule, loc, cfg.Reset.Message, store, dir, b.Notifier(), &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid reset schedule")
	}
	resetter.WithPublisher(bus)
	if cfg.Reset.ArchivePath != "" {
		resetter.WithArchiver(reset.NewExcelArchiver(cfg.Reset.ArchivePath, dir, b.MachineLabels()))
	}
	go resetter.Run(ctx)

	if cfg.RemindersEnabled() {
		rem := reminders.NewService(&reminders.Config{
			CheckInterval:              cfg.ReminderInterval(),
			Window:                     cfg.ReminderWindow(),
			MaxConcurrentNotifications: cfg.Reminders.MaxConcurrent,
		}, store, b.Notifier(), loc, &logger)
		rem.Start()
		defer rem.Stop()
	}

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, database, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	if cfg.Backup.Enabled {
		go startBackupLoop(ctx, database, cfg, &logger)
	}

	logger.Info().Str("timezone", loc.String()).Msg("washing bot started")
	b.Start(ctx)
}

// subscribeAudit writes every booking change to the log.
func subscribeAudit(bus *events.EventBus, logger *zerolog.Logger) {
	l := logger.With().Str("component", "audit").Logger()
	onBooking := func(ev events.Event) error {
		var p events.BookingPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		e := l.Info().
			Str("event", ev.Type).
			Int64("user_id", p.UserID).
			Str("date", p.Booking.Date).
			Str("slot", p.Booking.TimeSlot).
			Int("machine", int(p.Booking.Machine))
		if p.Previous != nil {
			e = e.Str("previous", p.Previous.Key().String())
		}
		e.Msg("booking changed")
		return nil
	}
	bus.Subscribe(events.BookingCommitted, onBooking)
	bus.Subscribe(events.BookingRescheduled, onBooking)
	bus.Subscribe(events.ScheduleCleared, func(ev events.Event) error {
		var p events.ClearedPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		l.Info().
			Int64("removed", p.Removed).
			Int("notified", p.Notified).
			Int("failed", p.Failed).
			Msg("schedule cleared")
		return nil
	})
}

func startBackupLoop(ctx context.Context, database *db.DB, cfg *config.Config, logger *zerolog.Logger) {
	if cfg.Backup.Path == "" {
		cfg.Backup.Path = "backups"
	}
	if cfg.Backup.IntervalHours <= 0 {
		cfg.Backup.IntervalHours = 24
	}
	if cfg.Backup.RetentionDays <= 0 {
		cfg.Backup.RetentionDays = 14
	}

	if err := os.MkdirAll(cfg.Backup.Path, 0o755); err != nil {
		logger.Error().Err(err).Msg("failed to create backup directory")
		return
	}

	interval := time.Duration(cfg.Backup.IntervalHours) * time.Hour
	retention := time.Duration(cfg.Backup.RetentionDays) * 24 * time.Hour

	select {
	case <-time.After(time.Minute):
		runBackupTask(ctx, database, cfg.Backup.Path, retention, logger)
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			runBackupTask(ctx, database, cfg.Backup.Path, retention, logger)
		case <-ctx.Done():
			return
		}
	}
}

func runBackupTask(ctx context.Context, database *db.DB, dir string, retention time.Duration, logger *zerolog.Logger) {
	dest := filepath.Join(dir, fmt.Sprintf("stirka_%s.db", time.Now().Format("20060102_150405")))

	logger.Info().Str("path", dest).Msg("starting database backup")
	if err := database.Backup(ctx, dest); err != nil {
		logger.Error().Err(err).Msg("backup failed")
	} else {
		logger.Info().Msg("backup completed successfully")
	}

	deleted, err := database.CleanupBackups(dir, retention)
	if err != nil {
		logger.Error().Err(err).Msg("backup cleanup failed")
	} else if deleted > 0 {
		logger.Info().Int("deleted", deleted).Msg("cleaned up old backups")
	}
}

func startHealthServer(ctx context.Context, port int, database *db.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := database.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	serve(ctx, port, mux, "health", logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	serve(ctx, port, mux, "metrics", logger)
}

func serve(ctx context.Context, port int, h http.Handler, name string, logger *zerolog.Logger) {
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Str("server", name).Msg("http server error")
	}
}
