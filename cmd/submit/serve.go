package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"submit/internal/config"
	"submit/internal/engine"
	"submit/internal/migrate"
	"submit/internal/notify"
	"submit/internal/ratelimit"
	"submit/internal/scheduler"
	"submit/internal/server"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long: `Serve the HTTP API and the LINE webhook. With the scheduler enabled the
judgment and reminder jobs also run in-process at their configured times;
otherwise an outside scheduler calls the /cron endpoints.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()
			if cfg.Server.JWTSecret == "" {
				return fmt.Errorf("jwt secret is required for bearer auth (--jwt-secret or SUBMIT_JWT_SECRET)")
			}
			if cfg.Line.ChannelSecret == "" {
				log.Warn("LINE channel secret not set, webhook deliveries will be rejected")
			}
			if cfg.Server.DevLogin {
				log.Warn("dev login is enabled, do not use this in production")
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			conn, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer conn.Close()
			applied, err := migrate.Migrate(ctx, conn)
			if err != nil {
				return err
			}
			for _, a := range applied {
				log.Info("migration applied", zap.Int("version", a.Version), zap.String("name", a.Name))
			}

			line := notify.NewLineClient(cfg.Line.APIBase, cfg.Line.ChannelAccessToken, log)
			e := engine.New(conn, cfg, line, log)

			limiter, closeLimiter, err := newLimiter(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer closeLimiter()

			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: cfg.Server.BasePath,
				Auth: server.AuthConfig{
					JWTSecret:  cfg.Server.JWTSecret,
					CronSecret: cfg.Server.CronSecret,
					DevLogin:   cfg.Server.DevLogin,
				},
				LineChannelSecret: cfg.Line.ChannelSecret,
				Limiter:           limiter,
				WebhookRule:       ratelimit.Rule{Limit: cfg.RateLimit.Webhook.Limit, Window: cfg.RateLimit.Webhook.Window},
				APIRule:           ratelimit.Rule{Limit: cfg.RateLimit.API.Limit, Window: cfg.RateLimit.API.Window},
				AuthRule:          ratelimit.Rule{Limit: cfg.RateLimit.Auth.Limit, Window: cfg.RateLimit.Auth.Window},
				TrustProxy:        cfg.RateLimit.TrustProxy,
				Log:               log,
			})
			if err != nil {
				return err
			}

			if cfg.Schedule.Enabled {
				sched, err := newScheduler(cfg, e, log)
				if err != nil {
					return err
				}
				go sched.Start(ctx)
			}
			if len(cfg.Hooks) > 0 {
				go server.NewHookDispatcher(e.Repo, cfg.Hooks, log).Run(ctx)
			}

			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			log.Info("serving submit API",
				zap.String("addr", cfg.Server.Addr),
				zap.String("base_path", cfg.Server.BasePath),
				zap.Bool("scheduler", cfg.Schedule.Enabled),
				zap.Int("hooks", len(cfg.Hooks)))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}

// newLimiter picks the rate-limit store. Redis shares counters across
// replicas; memory is per process.
func newLimiter(ctx context.Context, cfg *config.Config, log *zap.Logger) (ratelimit.Limiter, func(), error) {
	switch cfg.RateLimit.Backend {
	case "redis":
		r, err := ratelimit.NewRedis(ctx, cfg.RateLimit.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("rate limit redis: %w", err)
		}
		log.Info("rate limiting with redis")
		return r, func() { r.Close() }, nil
	default:
		m := ratelimit.NewMemory()
		go m.Run(ctx, time.Minute)
		return m, func() {}, nil
	}
}

func newScheduler(cfg *config.Config, e engine.Engine, log *zap.Logger) (*scheduler.Scheduler, error) {
	clocks := map[string]string{
		server.JobJudgment: cfg.Schedule.Judgment,
		server.JobMorning:  cfg.Schedule.Morning,
		server.JobEvening:  cfg.Schedule.Evening,
		server.JobUrgent:   cfg.Schedule.Urgent,
	}
	var jobs []scheduler.Job
	for _, name := range server.Jobs {
		clock := clocks[name]
		if clock == "" {
			continue
		}
		name := name
		job, err := scheduler.Daily(name, clock, func(ctx context.Context) error {
			res, err := server.RunJob(ctx, e, name)
			if err != nil {
				return err
			}
			log.Info("scheduled job finished", zap.String("job", name), zap.Any("result", res))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", name, err)
		}
		jobs = append(jobs, job)
	}
	return scheduler.New(cfg.Location(), log, jobs...), nil
}
