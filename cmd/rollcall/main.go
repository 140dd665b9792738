package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/jcolson/dndvault-bot-sub000/internal/app"
	"github.com/jcolson/dndvault-bot-sub000/internal/clock"
	"github.com/jcolson/dndvault-bot-sub000/internal/config"
	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
	"github.com/jcolson/dndvault-bot-sub000/internal/policy"
	"github.com/jcolson/dndvault-bot-sub000/internal/scheduler"
	"github.com/jcolson/dndvault-bot-sub000/internal/shard"
	"github.com/jcolson/dndvault-bot-sub000/internal/storage/postgres"
	"github.com/jcolson/dndvault-bot-sub000/internal/transport/discord"
	transporthttp "github.com/jcolson/dndvault-bot-sub000/internal/transport/http"
	"github.com/jcolson/dndvault-bot-sub000/migrations"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	loadEnvFile(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("rollcall stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	if cfg.DiscordToken == "" {
		return errors.New("DISCORD_TOKEN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(startupCtx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to db: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(startupCtx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	if err := migrations.Apply(startupCtx, pool, logger); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	eventRepo := postgres.NewEventRepository(pool)
	profileRepo := postgres.NewProfileRepository(pool)
	policyRepo := postgres.NewPolicyRepository(pool)
	characterRepo := postgres.NewCharacterRepository(pool)

	defaults, err := config.NewPolicyDefaults(cfg.PolicyFile, policy.Default(), logger)
	if err != nil {
		return err
	}
	stopWatch, err := defaults.Watch()
	if err != nil {
		return err
	}
	defer stopWatch()

	var source policy.Source = policyRepo
	if cfg.RedisAddr != "" {
		rdb := policy.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer rdb.Close()
		source = policy.NewRedisSource(rdb, policyRepo, cfg.PolicyCacheTTL, logger)
		logger.Info("shared policy cache enabled", "addr", cfg.RedisAddr)
	}
	policies := policy.NewCache(source,
		policy.WithTTL(cfg.PolicyCacheTTL),
		policy.WithDefaults(defaults.Policy),
		policy.WithLogger(logger),
	)
	defaults.OnChange(func(domain.GuildPolicy) { policies.InvalidateAll() })

	session, err := discord.NewSession(cfg.DiscordToken, cfg.ShardID, cfg.ShardCount)
	if err != nil {
		return err
	}
	gateway := discord.NewGateway(session)
	guard := shard.New(cfg.ShardID, cfg.ShardCount, gateway.Guilds)

	deps := app.Deps{
		Events:     eventRepo,
		Profiles:   profileRepo,
		Characters: characterRepo,
		Policies:   policies,
		Gateway:    gateway,
		Guard:      guard,
		Clock:      clock.NewSystem(),
		Limiter:    rate.NewLimiter(rate.Limit(cfg.NotifyRate), cfg.NotifyBurst),
		Logger:     logger,
	}
	events := app.NewEventService(deps)
	reactions := app.NewReactionQueue(app.NewReactionHandler(deps, events), 0, logger)
	sweeps := app.NewSweepService(deps, events,
		app.WithReminderLookahead(cfg.ReminderLookahead),
		app.WithRecurrenceGrace(cfg.RecurrenceGrace),
	)

	detach := discord.NewListener(reactions, guard.Serves, logger).Register(session)
	defer detach()
	if err := session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("discord session close", "err", err)
		}
	}()
	go reactions.Run(ctx)

	sched := scheduler.New(logger)
	for _, job := range []struct {
		name, spec string
		run        scheduler.Job
	}{
		{"reminders", cfg.ReminderSchedule, sweeps.Reminders},
		{"recurrences", cfg.RecurrenceSchedule, sweeps.Recurrences},
		{"retention", cfg.RetentionSchedule, sweeps.Retention},
	} {
		if err := sched.Add(job.name, job.spec, job.run); err != nil {
			return err
		}
	}
	sched.Start()

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: transporthttp.NewRouter(transporthttp.Services{
			Events:      events,
			Sweeps:      sweeps,
			Policies:    policies,
			PolicyStore: policyRepo,
			Profiles:    profileRepo,
			DB:          pool,
			CORSOrigins: cfg.CORSOrigins,
			Logger:      logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("rollcall listening", "port", cfg.Port, "shard_id", cfg.ShardID, "shard_count", cfg.ShardCount)

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.ListenAndServe()
	}()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("server shutdown", "err", err)
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler shutdown", "err", err)
	}
	stop()
	logger.Info("rollcall stopped")
	return nil
}
