package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/notify-gateway/internal/broker"
	"github.com/jmehdipour/notify-gateway/internal/config"
	"github.com/jmehdipour/notify-gateway/internal/db"
	"github.com/jmehdipour/notify-gateway/internal/logger"
	"github.com/jmehdipour/notify-gateway/internal/metrics"
	"github.com/jmehdipour/notify-gateway/internal/model"
	"github.com/jmehdipour/notify-gateway/internal/routing"
	"github.com/jmehdipour/notify-gateway/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type tailFlags struct {
	pattern     string
	typ         string
	channels    []string
	categories  []string
	metricsAddr string
}

func newTailCmd() *cobra.Command {
	var f tailFlags
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Subscribe to the exchange and log routed notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTail(cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.pattern, "pattern", "", "topic binding pattern (default: every notification key)")
	fl.StringVar(&f.typ, "type", "", "only this audience type (ignored with --pattern)")
	fl.StringSliceVar(&f.channels, "channel", nil, "only envelopes addressed to these channels")
	fl.StringSliceVar(&f.categories, "category", nil, "only these categories")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve /metrics on this address")

	return cmd
}

// build resolves the flags against the routing prefix.
func (f tailFlags) build(routes routing.Deriver) (*worker.Tail, error) {
	w := &worker.Tail{Pattern: f.pattern}

	if w.Pattern == "" {
		var t model.NotificationType
		if f.typ != "" {
			var ok bool
			if t, ok = model.ParseNotificationType(f.typ); !ok {
				return nil, fmt.Errorf("unknown type %q", f.typ)
			}
		}
		w.Pattern = routes.Pattern(t)
	}
	for _, s := range f.channels {
		ch, ok := model.ParseChannel(s)
		if !ok {
			return nil, fmt.Errorf("unknown channel %q", s)
		}
		w.Channels = append(w.Channels, ch)
	}
	for _, s := range f.categories {
		c, ok := model.ParseCategory(s)
		if !ok {
			return nil, fmt.Errorf("unknown category %q", s)
		}
		w.Categories = append(w.Categories, c)
	}
	return w, nil
}

func runTail(cmd *cobra.Command, f tailFlags) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
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

	routes, err := routing.NewDeriver(cfg.Routing.Prefix)
	if err != nil {
		return fmt.Errorf("routing: %w", err)
	}
	w, err := f.build(routes)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2) broker
	var rdbCfg config.RedisConfig
	if cfg.Broker.Driver == broker.DriverRedis {
		rdbCfg = cfg.Redis
	}
	rdb, err := db.NewRedisClient(ctx, rdbCfg)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	client, err := broker.Open(ctx, cfg.Broker, rdb, log)
	if err != nil {
		return fmt.Errorf("broker connect: %w", err)
	}
	defer func() { _ = client.Close() }()

	// 3) metrics endpoint
	if f.metricsAddr != "" {
		srv := &http.Server{Addr: f.metricsAddr, Handler: promhttp.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", zap.Error(err))
			}
		}()
		defer func() { _ = srv.Shutdown(context.Background()) }()
	}

	// 4) run until signal
	w.Sub = client
	w.Exchange = cfg.Broker.Exchange
	w.Log = log.With(zap.String("worker", "tail"), zap.String("driver", client.Driver()))
	return w.Run(ctx)
}
