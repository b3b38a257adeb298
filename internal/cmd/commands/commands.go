// Package commands parses commands service flags and launches its runtime.
package commands

import (
	"context"
	"flag"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/sitesync/internal/platform/cmd"
	"github.com/louisbranch/sitesync/internal/platform/logging"
	commandsapp "github.com/louisbranch/sitesync/internal/services/commands/app"
)

// Config holds commands service configuration.
type Config struct {
	HTTPPort           int           `env:"SITESYNC_COMMANDS_HTTP_PORT" envDefault:"8090"`
	HealthPort         int           `env:"SITESYNC_COMMANDS_HEALTH_PORT" envDefault:"8091"`
	DBPath             string        `env:"SITESYNC_COMMANDS_DB_PATH" envDefault:"data/commands.db"`
	Workers            int           `env:"SITESYNC_COMMANDS_WORKERS" envDefault:"8"`
	PollInterval       time.Duration `env:"SITESYNC_COMMANDS_POLL_INTERVAL" envDefault:"2s"`
	CommandTimeout     time.Duration `env:"SITESYNC_COMMANDS_COMMAND_TIMEOUT" envDefault:"30s"`
	DrainBatch         int           `env:"SITESYNC_COMMANDS_DRAIN_BATCH" envDefault:"100"`
	MaxBatch           int           `env:"SITESYNC_COMMANDS_MAX_BATCH" envDefault:"500"`
	RedisURL           string        `env:"SITESYNC_COMMANDS_REDIS_URL"`
	LeaseTTL           time.Duration `env:"SITESYNC_COMMANDS_LEASE_TTL" envDefault:"30s"`
	KafkaBrokers       string        `env:"SITESYNC_COMMANDS_KAFKA_BROKERS"`
	KafkaTopicPrefix   string        `env:"SITESYNC_COMMANDS_KAFKA_TOPIC_PREFIX" envDefault:"sitesync."`
	OutboxPollInterval time.Duration `env:"SITESYNC_COMMANDS_OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	OutboxBatchSize    int           `env:"SITESYNC_COMMANDS_OUTBOX_BATCH_SIZE" envDefault:"50"`
	OutboxMaxAttempts  int           `env:"SITESYNC_COMMANDS_OUTBOX_MAX_ATTEMPTS" envDefault:"8"`
	Debug              bool          `env:"SITESYNC_COMMANDS_DEBUG"`
	LogJSON            bool          `env:"SITESYNC_COMMANDS_LOG_JSON"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "The commands HTTP server port")
	fs.IntVar(&cfg.HealthPort, "health-port", cfg.HealthPort, "The commands health gRPC server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The commands SQLite database path")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Projects drained concurrently")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Recovery sweep interval")
	fs.DurationVar(&cfg.CommandTimeout, "command-timeout", cfg.CommandTimeout, "Per-command execution deadline")
	fs.IntVar(&cfg.DrainBatch, "drain-batch", cfg.DrainBatch, "PENDING commands loaded per drain query")
	fs.IntVar(&cfg.MaxBatch, "max-batch", cfg.MaxBatch, "Maximum commands per submission")
	fs.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "Redis URL for the distributed project lease")
	fs.DurationVar(&cfg.LeaseTTL, "lease-ttl", cfg.LeaseTTL, "Project lease duration")
	fs.StringVar(&cfg.KafkaBrokers, "kafka-brokers", cfg.KafkaBrokers, "Comma-separated Kafka brokers for outbox delivery")
	fs.StringVar(&cfg.KafkaTopicPrefix, "kafka-topic-prefix", cfg.KafkaTopicPrefix, "Prefix for outbox Kafka topics")
	fs.DurationVar(&cfg.OutboxPollInterval, "outbox-poll-interval", cfg.OutboxPollInterval, "Outbox relay poll interval")
	fs.IntVar(&cfg.OutboxBatchSize, "outbox-batch-size", cfg.OutboxBatchSize, "Outbox rows claimed per pass")
	fs.IntVar(&cfg.OutboxMaxAttempts, "outbox-max-attempts", cfg.OutboxMaxAttempts, "Delivery attempts before an outbox row is dead")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	fs.BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "Write logs as JSON")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Brokers splits the configured broker list.
func (c Config) Brokers() []string {
	var brokers []string
	for _, broker := range strings.Split(c.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// Run starts the commands runtime.
func Run(ctx context.Context, cfg Config) error {
	logger := logging.New(entrypoint.ServiceCommands, logging.Config{Debug: cfg.Debug, JSON: cfg.LogJSON})
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceCommands, func(ctx context.Context) error {
		return commandsapp.Run(ctx, commandsapp.RuntimeConfig{
			HTTPPort:           cfg.HTTPPort,
			HealthPort:         cfg.HealthPort,
			DBPath:             cfg.DBPath,
			Workers:            cfg.Workers,
			PollInterval:       cfg.PollInterval,
			CommandTimeout:     cfg.CommandTimeout,
			DrainBatch:         cfg.DrainBatch,
			MaxBatch:           cfg.MaxBatch,
			RedisURL:           cfg.RedisURL,
			LeaseTTL:           cfg.LeaseTTL,
			KafkaBrokers:       cfg.Brokers(),
			KafkaTopicPrefix:   cfg.KafkaTopicPrefix,
			OutboxPollInterval: cfg.OutboxPollInterval,
			OutboxBatchSize:    cfg.OutboxBatchSize,
			OutboxMaxAttempts:  cfg.OutboxMaxAttempts,
			Logger:             logger,
		})
	})
}
