package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/arenarank/arenarank-permissions/internal/app"
	"github.com/arenarank/arenarank-permissions/internal/authz"
	"github.com/arenarank/arenarank-permissions/internal/identity"
	"github.com/arenarank/arenarank-permissions/internal/observability"
	"github.com/arenarank/arenarank-permissions/internal/permissions"
	"github.com/arenarank/arenarank-permissions/internal/platform/cache"
	"github.com/arenarank/arenarank-permissions/internal/platform/db"
	"github.com/arenarank/arenarank-permissions/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	directory := identity.NewRepository(pool)

	repo := permissions.NewRepository(pool)
	hot := permissions.NewHotCache(redisClient, cfg.HotCacheTTL)
	service := permissions.NewService(repo, directory, hot, logger).WithMetrics(metrics)

	guard := authz.Middleware{Resolver: service, Logger: logger, Metrics: metrics}

	groupsHandler := permissions.NewGroupsHandler(logger, service, guard)
	usersHandler := permissions.NewHandler(logger, service, guard)

	taskClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Warn("task client close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(taskClient, logger, guard)

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		Directory:     directory,
		GroupsHandler: groupsHandler,
		UsersHandler:  usersHandler,
		JobsHandler:   jobsHandler,
		Metrics:       metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}
