package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmehdipour/notify-gateway/internal/broker"
	"github.com/jmehdipour/notify-gateway/internal/config"
	"github.com/jmehdipour/notify-gateway/internal/db"
	"github.com/jmehdipour/notify-gateway/internal/logger"
	"github.com/jmehdipour/notify-gateway/internal/model"
	"github.com/jmehdipour/notify-gateway/internal/routing"
	"github.com/jmehdipour/notify-gateway/internal/service/notify"
	"github.com/spf13/cobra"
)

type publishFlags struct {
	title    string
	body     string
	typ      string
	category string
	channels []string
	targets  []string
	sample   bool
	dryRun   bool
	timeout  time.Duration
}

func newPublishCmd() *cobra.Command {
	var f publishFlags
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish one notification and exit",
		Example: `  notify-gateway publish --sample --dry-run
  notify-gateway publish --title "Deploy" --body "v2 is live" --type SystemWide --category Update --channel Email --channel Push`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.title, "title", "", "notification title")
	fl.StringVar(&f.body, "body", "", "notification body")
	fl.StringVar(&f.typ, "type", "", "SystemWide | UserSpecific | Group")
	fl.StringVar(&f.category, "category", "", "Update | Offer | Alert")
	fl.StringSliceVar(&f.channels, "channel", nil, "Email | Push | SMS | Whatsapp (repeatable)")
	fl.StringSliceVar(&f.targets, "target", nil, "target user id (repeatable)")
	fl.BoolVar(&f.sample, "sample", false, "publish the fixed sample notification")
	fl.BoolVar(&f.dryRun, "dry-run", false, "use an in-memory broker and print the routing key and payload")
	fl.DurationVar(&f.timeout, "timeout", 30*time.Second, "overall publish deadline")
	cmd.MarkFlagsMutuallyExclusive("sample", "title")

	return cmd
}

func (f publishFlags) envelope() model.Envelope {
	if f.sample {
		return notify.SampleEnvelope()
	}
	e := model.Envelope{
		Title:       f.title,
		Body:        f.body,
		Type:        model.NotificationType(f.typ),
		Category:    model.Category(f.category),
		TargetUsers: f.targets,
	}
	if t, ok := model.ParseNotificationType(f.typ); ok {
		e.Type = t
	}
	if c, ok := model.ParseCategory(f.category); ok {
		e.Category = c
	}
	for _, s := range f.channels {
		ch, ok := model.ParseChannel(s)
		if !ok {
			ch = model.Channel(s)
		}
		e.Channels = append(e.Channels, ch)
	}
	return e
}

func runPublish(cmd *cobra.Command, f publishFlags) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Encoding); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log := logger.Log
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
	defer cancel()

	if f.dryRun {
		routes, err := routing.NewDeriver(cfg.Routing.Prefix)
		if err != nil {
			return fmt.Errorf("routing: %w", err)
		}
		mem := broker.NewMemory(cfg.Broker.Exchange)
		svc, err := newService(mem, cfg, routes, log)
		if err != nil {
			return err
		}
		rcpt, err := svc.Publish(ctx, f.envelope())
		if err != nil {
			return err
		}
		sent := mem.Published()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "exchange:    %s\n", rcpt.Exchange)
		fmt.Fprintf(out, "routing key: %s\n", rcpt.RoutingKey)
		fmt.Fprintf(out, "message id:  %s\n", rcpt.MessageID)
		fmt.Fprintf(out, "payload:     %s\n", sent[len(sent)-1].Body)
		return nil
	}

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

	svc, closeBroker, err := buildService(ctx, cfg, rdb, log)
	if err != nil {
		return err
	}
	defer closeBroker()

	rcpt, err := svc.Publish(ctx, f.envelope())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"published":    true,
		"message_id":   rcpt.MessageID,
		"exchange":     rcpt.Exchange,
		"routing_key":  rcpt.RoutingKey,
		"published_at": rcpt.PublishedAt,
	})
}
