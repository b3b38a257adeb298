// Package app wires the commands service runtime.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/sitesync/internal/platform/logging"
	"github.com/louisbranch/sitesync/internal/platform/timeouts"
	"github.com/louisbranch/sitesync/internal/services/commands/api/httpapi"
	"github.com/louisbranch/sitesync/internal/services/commands/dispatch"
	"github.com/louisbranch/sitesync/internal/services/commands/domain/entities"
	"github.com/louisbranch/sitesync/internal/services/commands/engine"
	"github.com/louisbranch/sitesync/internal/services/commands/gateway"
	"github.com/louisbranch/sitesync/internal/services/commands/outbox"
	"github.com/louisbranch/sitesync/internal/services/commands/storage/sqlite"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// RuntimeConfig controls service startup, dependencies, and loop behavior.
type RuntimeConfig struct {
	HTTPPort           int
	HealthPort         int
	DBPath             string
	Workers            int
	PollInterval       time.Duration
	CommandTimeout     time.Duration
	DrainBatch         int
	MaxBatch           int
	RedisURL           string
	LeaseTTL           time.Duration
	KafkaBrokers       []string
	KafkaTopicPrefix   string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	Logger             log.FieldLogger
}

const (
	defaultHTTPPort   = 8090
	defaultHealthPort = 8091
	defaultDBPath     = "data/commands.db"
	redisPingTimeout  = 2 * time.Second
	healthServiceName = "commands.runtime"
)

func (c RuntimeConfig) normalized() RuntimeConfig {
	if c.HTTPPort <= 0 {
		c.HTTPPort = defaultHTTPPort
	}
	if c.HealthPort <= 0 {
		c.HealthPort = defaultHealthPort
	}
	if strings.TrimSpace(c.DBPath) == "" {
		c.DBPath = defaultDBPath
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = timeouts.CommandExecution
	}
	c.Logger = logging.OrDiscard(c.Logger)
	return c
}

// Run starts the store, the processing loops, and both servers, and blocks
// until ctx is done or one of them fails.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.normalized()
	if cfg.HTTPPort == cfg.HealthPort {
		return fmt.Errorf("http port and health port must differ (both %d)", cfg.HTTPPort)
	}
	logger := cfg.Logger

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create commands storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open commands sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("close commands sqlite store")
		}
	}()

	locker, closeLocker, err := newLocker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLocker()

	publisher, err := newPublisher(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := publisher.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("close outbox publisher")
		}
	}()

	p, err := newPipeline(store, cfg, locker, publisher)
	if err != nil {
		return err
	}

	httpListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.HTTPPort))
	if err != nil {
		return fmt.Errorf("listen on http port %d: %w", cfg.HTTPPort, err)
	}
	defer httpListener.Close()
	healthListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.HealthPort))
	if err != nil {
		return fmt.Errorf("listen on health port %d: %w", cfg.HealthPort, err)
	}
	defer healthListener.Close()

	httpServer := &http.Server{
		Handler:           httpapi.NewServer(p.gateway, store.Ping, logger),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(healthServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return p.dispatcher.Run(groupCtx)
	})
	group.Go(func() error {
		return p.relay.Run(groupCtx)
	})
	group.Go(func() error {
		logger.WithField("addr", httpListener.Addr().String()).Info("commands http server listening")
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		logger.WithField("addr", healthListener.Addr().String()).Info("commands health server listening")
		if err := grpcServer.Serve(healthListener); err != nil {
			return fmt.Errorf("serve health grpc: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		healthServer.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("shutdown http server")
		}
		grpcServer.GracefulStop()
		return nil
	})

	err = group.Wait()
	logger.Info("commands service stopped")
	return err
}

// pipeline is the command path from submission to outbox publication.
type pipeline struct {
	executor   *engine.Executor
	dispatcher *dispatch.Dispatcher
	gateway    *gateway.Gateway
	relay      *outbox.Relay
}

func newPipeline(store *sqlite.Store, cfg RuntimeConfig, locker dispatch.Locker, publisher outbox.Publisher) (*pipeline, error) {
	logger := logging.OrDiscard(cfg.Logger)
	reg, err := entities.NewRegistry()
	if err != nil {
		return nil, err
	}
	executor, err := engine.New(store, reg, engine.Config{
		Timeout:    cfg.CommandTimeout,
		DrainBatch: cfg.DrainBatch,
		Logger:     logger.WithField("component", "executor"),
	})
	if err != nil {
		return nil, fmt.Errorf("build executor: %w", err)
	}
	dispatcher, err := dispatch.New(executor, store, dispatch.Config{
		Workers:      cfg.Workers,
		PollInterval: cfg.PollInterval,
		Locker:       locker,
		Logger:       logger.WithField("component", "dispatcher"),
	})
	if err != nil {
		return nil, fmt.Errorf("build dispatcher: %w", err)
	}
	gw, err := gateway.New(store, dispatcher, gateway.Config{
		MaxBatch: cfg.MaxBatch,
		Logger:   logger.WithField("component", "gateway"),
	})
	if err != nil {
		return nil, fmt.Errorf("build gateway: %w", err)
	}
	relay, err := outbox.New(store, publisher, outbox.Config{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		MaxAttempts:  cfg.OutboxMaxAttempts,
		Logger:       logger.WithField("component", "outbox"),
	})
	if err != nil {
		return nil, fmt.Errorf("build outbox relay: %w", err)
	}
	return &pipeline{executor: executor, dispatcher: dispatcher, gateway: gw, relay: relay}, nil
}

// newLocker returns the Redis lease when a URL is configured and nil
// otherwise, which leaves the dispatcher on its in-process lock.
func newLocker(ctx context.Context, cfg RuntimeConfig) (dispatch.Locker, func(), error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return nil, func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	closeClient := func() {
		if err := client.Close(); err != nil {
			cfg.Logger.WithError(err).Warn("close redis client")
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		closeClient()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	locker, err := dispatch.NewRedisLocker(client, dispatch.RedisLockerConfig{
		TTL:    cfg.LeaseTTL,
		Logger: cfg.Logger,
	})
	if err != nil {
		closeClient()
		return nil, nil, err
	}
	return locker, closeClient, nil
}

func newPublisher(cfg RuntimeConfig) (outbox.Publisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return outbox.NewLogPublisher(cfg.Logger), nil
	}
	publisher, err := outbox.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopicPrefix)
	if err != nil {
		return nil, fmt.Errorf("build kafka publisher: %w", err)
	}
	return publisher, nil
}
