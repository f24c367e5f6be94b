package config

import (
	"bytes"
	_ "embed"
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Routing   RoutingConfig   `mapstructure:"routing"`
	Broker    BrokerConfig    `mapstructure:"broker"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	BodyLimit       string        `mapstructure:"body_limit"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"` // json | console
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	PoolSize    int           `mapstructure:"pool_size"`
}

type RateLimitConfig struct {
	RPS    int           `mapstructure:"rps"` // 0 disables
	Window time.Duration `mapstructure:"window"`
}

type RoutingConfig struct {
	Prefix string `mapstructure:"prefix"`
}

type BrokerConfig struct {
	Driver   string        `mapstructure:"driver"` // amqp | kafka | nats | redis | memory
	Exchange string        `mapstructure:"exchange"`
	Breaker  BreakerConfig `mapstructure:"breaker"`
	AMQP     AMQPConfig    `mapstructure:"amqp"`
	Kafka    KafkaConfig   `mapstructure:"kafka"`
	NATS     NATSConfig    `mapstructure:"nats"`
}

type BreakerConfig struct {
	FailThreshold int           `mapstructure:"fail_threshold"` // 0 disables
	OpenFor       time.Duration `mapstructure:"open_for"`
}

type AMQPConfig struct {
	URL             string        `mapstructure:"url"`
	VirtualHost     string        `mapstructure:"vhost"`
	DeclareExchange bool          `mapstructure:"declare_exchange"`
	Durable         bool          `mapstructure:"durable"`
	Heartbeat       time.Duration `mapstructure:"heartbeat"`
	ConfirmTimeout  time.Duration `mapstructure:"confirm_timeout"`
}

type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	GroupID         string        `mapstructure:"group_id"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	AutoCreateTopic bool          `mapstructure:"auto_create_topic"`
	RequireAllAcks  bool          `mapstructure:"require_all_acks"`
	MinBytes        int           `mapstructure:"min_bytes"`
	MaxBytes        int           `mapstructure:"max_bytes"`
	CommitInterval  time.Duration `mapstructure:"commit_interval"`
}

type NATSConfig struct {
	URL          string        `mapstructure:"url"`
	Name         string        `mapstructure:"name"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FlushTimeout time.Duration `mapstructure:"flush_timeout"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies
// env overrides (NOTIFYGW_*, nested keys joined by underscores).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			// a missing file keeps the defaults; a broken one is an error
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, err
			}
		}
	}

	// env override (NOTIFYGW_BROKER_DRIVER, ...)
	v.SetEnvPrefix("NOTIFYGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
