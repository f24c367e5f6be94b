package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/notify-gateway/internal/broker"
	"github.com/jmehdipour/notify-gateway/internal/config"
	"github.com/jmehdipour/notify-gateway/internal/db"
	httpSrv "github.com/jmehdipour/notify-gateway/internal/http"
	"github.com/jmehdipour/notify-gateway/internal/logger"
	"github.com/jmehdipour/notify-gateway/internal/metrics"
	"github.com/jmehdipour/notify-gateway/internal/publisher"
	"github.com/jmehdipour/notify-gateway/internal/routing"
	"github.com/jmehdipour/notify-gateway/internal/service/notify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := logger.Init(cfg.Log.Level, cfg.Log.Encoding); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		log := logger.Log
		defer func() { _ = log.Sync() }()

		metrics.MustRegister(prometheus.DefaultRegisterer)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		redisClient, err := db.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		if redisClient != nil {
			defer func() { _ = redisClient.Close() }()
		}

		svc, closeBroker, err := buildService(ctx, cfg, redisClient, log)
		if err != nil {
			return err
		}
		defer closeBroker()

		server := httpSrv.NewServer(cfg, svc, redisClient, log)

		return runServer(ctx, server, cfg.HTTP, log)
	},
}

type httpServer interface {
	Start(addr string) error
	Shutdown(ctx context.Context) error
}

// runServer serves until ctx is done or the server fails. A failed Start
// (e.g. the port is taken) is returned so the process exits non-zero.
func runServer(ctx context.Context, server httpServer, cfg config.HTTPConfig, log *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Addr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("signal received, shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error("http server exited", zap.Error(err))
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpSrv.ShutdownTimeout(cfg))
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	return runErr
}

// buildService opens the configured broker and assembles the publish
// pipeline. The returned func closes the broker.
func buildService(ctx context.Context, cfg config.Config, rdb *redis.Client, log *zap.Logger) (*notify.Service, func(), error) {
	routes, err := routing.NewDeriver(cfg.Routing.Prefix)
	if err != nil {
		return nil, nil, fmt.Errorf("routing: %w", err)
	}

	client, err := broker.Open(ctx, cfg.Broker, rdb, log)
	if err != nil {
		return nil, nil, fmt.Errorf("broker connect: %w", err)
	}
	closeBroker := func() {
		if err := client.Close(); err != nil {
			log.Warn("broker close", zap.Error(err))
		}
	}

	svc, err := newService(client, cfg, routes, log)
	if err != nil {
		closeBroker()
		return nil, nil, err
	}
	return svc, closeBroker, nil
}

func newService(pub broker.Publisher, cfg config.Config, routes routing.Deriver, log *zap.Logger) (*notify.Service, error) {
	opts := []publisher.Option{publisher.WithLogger(log)}
	if b := cfg.Broker.Breaker; b.FailThreshold > 0 {
		opts = append(opts, publisher.WithBreaker(publisher.NewBreaker(b.FailThreshold, b.OpenFor)))
	}
	gw, err := publisher.New(pub, cfg.Broker.Exchange, opts...)
	if err != nil {
		return nil, err
	}
	return notify.New(routes, gw, log), nil
}
