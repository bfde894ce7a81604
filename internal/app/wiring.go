package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grafana/pyroscope-go"
	lgcfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"

	"whalewatch/internal/api/http"
	"whalewatch/internal/api/http/handlers"
	"whalewatch/internal/api/http/mw"
	"whalewatch/internal/classify"
	"whalewatch/internal/config"
	dedupe "whalewatch/internal/dedupe/redis"
	"whalewatch/internal/digest"
	"whalewatch/internal/dispatch"
	"whalewatch/internal/fetch/blockcypher"
	"whalewatch/internal/metrics"
	"whalewatch/internal/pubsub/nats"
	"whalewatch/internal/registry"
	"whalewatch/internal/retention"
	"whalewatch/internal/scheduler"
	"whalewatch/internal/security"
	"whalewatch/internal/service"
	"whalewatch/internal/stores/clickhouse"
	"whalewatch/internal/stores/redis"
)

type Container struct {
	app *App
	log logger.Logger

	// infra
	redis *redis.Client
	ch    *clickhouse.Conn
	nc    *nats.Client

	chWriter *clickhouse.Writer

	// tracker state is persisted across restarts
	tracker   *classify.Tracker
	snapshots *redis.SnapshotStore

	// services
	monitor   *service.MonitorService
	digests   *service.DigestService
	retention ServiceRunner
	sched     *scheduler.Scheduler
	webhook   *dispatch.Webhook

	// servers
	httpSrv *http.Server

	// metrics
	profiler *pyroscope.Profiler
}

// ServiceRunner is a one-shot job with a reference time
type ServiceRunner interface {
	Run(ctx context.Context, now time.Time) error
}

func (c *Container) Start() error {
	if c.webhook != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.webhook.SendTest(ctx); err != nil {
			c.log.Warnf("Webhook test message failed: %v", err)
		}
	}
	return c.app.Start()
}

func (c *Container) Stop(ctx context.Context) error {
	if err := c.app.Shutdown(ctx); err != nil {
		return fmt.Errorf("app shutdown is failed, error=%w", err)
	}

	// persist the activity baselines so a restart does not lose them
	if data, err := c.tracker.Snapshot(); err != nil {
		c.log.Errorf("Failed to snapshot activity tracker: %v", err)
	} else if err = c.snapshots.Save(ctx, data); err != nil {
		c.log.Errorf("Failed to persist activity snapshot: %v", err)
	}

	return nil
}

// Build constructs the whole container. Components come up in dependency
// order and the returned cleanup tears them down in reverse.
func Build(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	lg := logger.New(lgcfg.LoggerCfg{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	lg.Info("Successfully initialize logger")

	profiler, err := metrics.InitPProf(&cfg.Metrics.Pyroscope, cfg.App.InstanceID)
	if err != nil {
		return nil, nil, fmt.Errorf("pyroscope initialize failed: %w", err)
	}
	if profiler != nil {
		lg.Infof("Successfully initialize Pyroscope to %s as %s", cfg.Metrics.Pyroscope.ServerAddr, cfg.Metrics.Pyroscope.AppName)
	}

	// Redis client
	rdb, err := redis.New(ctx, cfg.Stores.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize redis client: %w", err)
	}

	markerStore, err := redis.NewMarkerStore(rdb)
	if err != nil {
		return nil, nil, err
	}
	hwmStore, err := redis.NewHighWaterStore(rdb)
	if err != nil {
		return nil, nil, err
	}
	snapshotStore, err := redis.NewSnapshotStore(rdb)
	if err != nil {
		return nil, nil, err
	}
	digestMarks, err := redis.NewDigestMarkStore(rdb)
	if err != nil {
		return nil, nil, err
	}

	// Dedupe, with the optional bloom prefilter
	var bloom *dedupe.Bloom
	if cfg.Dedupe.Bloom.Enabled {
		if bloom, err = dedupe.NewBloom(&cfg.Dedupe.Bloom, rdb); err != nil {
			return nil, nil, fmt.Errorf("failed to initialize bloom: %w", err)
		}
		if err = bloom.Ensure(ctx); err != nil {
			lg.Warnf("Bloom filter unavailable, dedupe falls back to SETNX only: %v", err)
			bloom = nil
		} else {
			lg.Infof("Successfully initialize Bloom by key=%s, cap=%d, errRate=%f", bloom.Key, bloom.Capacity, bloom.ErrRate)
		}
	}

	deduper, err := dedupe.NewRedisDeduper(lg, &cfg.Dedupe, rdb, bloom)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize redis deduper: %w", err)
	}
	lg.Infof("Successfully initialize Deduper redis_client by prefix %s", cfg.Dedupe.Prefix)

	// ClickHouse client and schema
	ch, err := clickhouse.New(ctx, &cfg.Stores.ClickHouse)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize clickhouse client: %w", err)
	}
	if err = ch.EnsureSchema(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to ensure clickhouse schema: %w", err)
	}
	url := strings.Split(cfg.Stores.ClickHouse.DSN, "?")
	lg.Infof("Successfully initialize clickhouse client, url=%s", url[0])

	chWriter := clickhouse.NewWriter(lg, ch.Native, cfg.Stores.ClickHouse)
	lg.Info("Successfully initialize clickhouse writer")

	eventStore, err := clickhouse.NewEventStore(ch)
	if err != nil {
		return nil, nil, err
	}

	// NATS broadcaster
	natsCl, err := nats.New(lg, &cfg.PubSub.NATS)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize nats client: %w", err)
	}

	// Registry: wallet lists, exchange table, marker hydration
	reg, err := registry.New(lg, cfg, markerStore)
	if err != nil {
		return nil, nil, err
	}
	if err = reg.Load(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to load wallet registry: %w", err)
	}

	// Provider client
	fetcher, err := blockcypher.New(lg, &cfg.Provider)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize provider client: %w", err)
	}

	// Activity tracker, restored from the last snapshot when one exists
	tracker := classify.NewTracker(cfg.Classify)
	if data, loadErr := snapshotStore.Load(ctx); loadErr != nil {
		lg.Warnf("Failed to load activity snapshot: %v", loadErr)
	} else if data != nil {
		if restoreErr := tracker.Restore(data, time.Now().UTC()); restoreErr != nil {
			lg.Warnf("Activity snapshot rejected, starting cold: %v", restoreErr)
		} else {
			lg.Info("Activity baselines restored from snapshot")
		}
	}

	classifier, err := classify.New(lg, cfg, reg.ExchangeTable(), tracker)
	if err != nil {
		return nil, nil, err
	}

	mon := metrics.NewMonitor()

	// Service layer
	monitorSvc, err := service.NewMonitorService(lg, cfg, fetcher, reg, deduper, classifier, chWriter, natsCl, mon)
	if err != nil {
		return nil, nil, err
	}

	aggregator, err := digest.NewAggregator(lg, cfg.Digest, eventStore, reg)
	if err != nil {
		return nil, nil, err
	}

	webhook := dispatch.NewWebhook(lg, cfg.Dispatch.Webhook)

	digestSvc, err := service.NewDigestService(lg, cfg, aggregator, digestMarks, webhook, natsCl, mon)
	if err != nil {
		return nil, nil, err
	}

	retentionSvc, err := retention.NewRunner(lg, cfg, eventStore, hwmStore)
	if err != nil {
		return nil, nil, err
	}

	sched, err := scheduler.New(lg, cfg, scheduler.RealClock(), reg, monitorSvc, digestSvc, retentionSvc, tracker, mon)
	if err != nil {
		return nil, nil, err
	}

	// HTTP surface
	var (
		jwtMW    *mw.JWTMiddleware
		verifier *security.RS256Verifier
	)
	if cfg.Security.JWT.Enabled {
		if verifier, err = security.NewRS256Verifier(&cfg.Security.JWT); err != nil {
			return nil, nil, fmt.Errorf("failed to initialize JWT verifier: %w", err)
		}
		if jwtMW, err = mw.NewJWTMiddleware(verifier); err != nil {
			return nil, nil, err
		}
		lg.Info("Successfully initialize JWT-Verifier")
	}

	checks := map[string]func(context.Context) error{
		"redis":      func(c context.Context) error { return rdb.Ping(c).Err() },
		"clickhouse": func(c context.Context) error { return ch.Native.Ping(c) },
		"nats":       natsCl.Health,
	}

	h, err := handlers.NewHandler(lg, monitorSvc, digestSvc, reg, sched, checks)
	if err != nil {
		return nil, nil, err
	}

	router := http.BuildRouter(h,
		mw.NewLogging(lg),
		mw.NewRateLimit(rdb, cfg.RateLimit, verifier),
		jwtMW,
	)

	httpSrv, err := http.NewServer(lg, cfg.API.HTTP, router)
	if err != nil {
		return nil, nil, err
	}
	lg.Info("Successfully initialize HTTP server")

	c := &Container{
		log:       lg,
		redis:     rdb,
		ch:        ch,
		nc:        natsCl,
		chWriter:  chWriter,
		tracker:   tracker,
		snapshots: snapshotStore,
		monitor:   monitorSvc,
		digests:   digestSvc,
		retention: retentionSvc,
		sched:     sched,
		webhook:   webhook,
		httpSrv:   httpSrv,
		profiler:  profiler,
	}
	c.app = New(lg, httpSrv, sched)

	cleanupF := func() {
		ctxClean, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if c.profiler != nil {
			if err := c.profiler.Stop(); err != nil {
				lg.Errorf("Failed to stop profiler: %v", err)
			}
		}

		if err := chWriter.Close(ctxClean); err != nil {
			lg.Errorf("Failed to close by cleanupF clickhouse writer: %v", err)
		}

		if err := ch.Close(); err != nil {
			lg.Errorf("Failed to close by cleanupF clickhouse client: %v", err)
		}

		if err := natsCl.Close(); err != nil {
			lg.Errorf("Failed to close by cleanupF nats client: %v", err)
		}

		if err := rdb.Close(); err != nil {
			lg.Errorf("Failed to close by cleanupF redis client: %v", err)
		}

		lg.Info("Successfully cleaned up dependency")
	}

	lg.Info("Successfully initialize Wiring")
	return c, cleanupF, nil
}
