package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"mortuary/internal/alerting"
	caseMetrics "mortuary/internal/caserecord/metrics"
	caseService "mortuary/internal/caserecord/service"
	clearanceService "mortuary/internal/clearance/service"
	custodyService "mortuary/internal/custody/service"
	"mortuary/internal/notify"
	notifykafka "mortuary/internal/notify/kafka"
	"mortuary/internal/platform/config"
	"mortuary/internal/platform/httpserver"
	platformkafka "mortuary/internal/platform/kafka"
	"mortuary/internal/platform/logger"
	"mortuary/internal/platform/metrics"
	"mortuary/internal/platform/postgres"
	"mortuary/internal/platform/redis"
	retrievalMetrics "mortuary/internal/retrieval/metrics"
	retrievalService "mortuary/internal/retrieval/service"
	slotMetrics "mortuary/internal/slot/metrics"
	slotService "mortuary/internal/slot/service"
	"mortuary/internal/storage"
	"mortuary/internal/storage/memory"
	pgstore "mortuary/internal/storage/postgres"
	httptransport "mortuary/internal/transport/http"
)

const alertScanTimeout = time.Minute

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("mortuary stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("mortuary stopped")
}

type infra struct {
	db     *sql.DB
	redis  *redis.Client
	kafka  *kgo.Client
	health map[string]httptransport.HealthCheck
}

func (i *infra) close() {
	if i.kafka != nil {
		i.kafka.Close()
	}
	if i.redis != nil {
		_ = i.redis.Close()
	}
	if i.db != nil {
		_ = i.db.Close()
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.close()

	dispatcher := notify.NewDispatcher(buildSink(cfg, deps, log),
		notify.WithLogger(log),
		notify.WithMetrics(notify.NewMetrics(reg)),
		notify.WithBuffer(cfg.Notify.Buffer),
		notify.WithSendTimeout(cfg.Notify.SendTimeout),
	)

	store := buildStore(cfg, deps, dispatcher, log)

	clearance, err := clearanceService.New(store, clearanceService.WithLogger(log))
	if err != nil {
		return err
	}
	slots, err := slotService.New(store,
		slotService.WithLogger(log),
		slotService.WithMetrics(slotMetrics.New(reg)),
		slotService.WithEmergencyReasonMinLength(cfg.Lifecycle.EmergencyReasonMinLen),
	)
	if err != nil {
		return err
	}
	if err := slots.SyncOccupancy(ctx); err != nil {
		return err
	}
	custody, err := custodyService.New(store, custodyService.WithLogger(log))
	if err != nil {
		return err
	}
	finalizer, err := retrievalService.New(store, clearance, slots, custody,
		retrievalService.WithLogger(log),
		retrievalService.WithMetrics(retrievalMetrics.New(reg)),
		retrievalService.WithPermanenceLimit(cfg.Lifecycle.PermanenceLimit),
	)
	if err != nil {
		return err
	}
	cases, err := caseService.New(store, clearance, slots, custody, finalizer,
		caseService.WithLogger(log),
		caseService.WithMetrics(caseMetrics.New(reg)),
		caseService.WithMaxEntryRejections(cfg.Lifecycle.MaxEntryRejections),
	)
	if err != nil {
		return err
	}

	var deduper alerting.Deduper = alerting.NewMemoryDeduper()
	if deps.redis != nil {
		deduper = alerting.NewRedisDeduper(deps.redis)
	}
	scanner, err := alerting.NewScanner(cases, clearance, dispatcher,
		alerting.WithLogger(log),
		alerting.WithMetrics(alerting.NewMetrics(reg)),
		alerting.WithDeduper(deduper),
		alerting.WithPermanenceLimit(cfg.Lifecycle.PermanenceLimit),
		alerting.WithClearanceSLA(cfg.Alerting.ClearanceSLA),
		alerting.WithDedupeWindow(cfg.Alerting.DedupeWindow),
	)
	if err != nil {
		return err
	}
	scheduler, err := alerting.NewScheduler(cfg.Alerting.Schedule, scanner, alertScanTimeout, log)
	if err != nil {
		return err
	}

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Logger:   log,
		Metrics:  metrics.New(reg),
		Gatherer: reg,
		Health:   deps.health,
		Handlers: []httptransport.Registrar{
			httptransport.NewCaseHandler(cases, log),
			httptransport.NewSlotHandler(slots, log),
			httptransport.NewClearanceHandler(clearance, log),
			httptransport.NewCustodyHandler(custody, log),
			httptransport.NewRetrievalHandler(finalizer, log),
		},
	})
	srv := httpserver.New(cfg.Addr, router)

	// The dispatcher outlives the server and scheduler so their last events
	// are drained rather than dropped.
	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(ctx))
	dispatchDone := make(chan error, 1)
	go func() { dispatchDone <- dispatcher.Run(dispatchCtx) }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting mortuary", "addr", cfg.Addr, "storage", storageName(deps))
		return httpserver.Serve(gctx, srv)
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	err = g.Wait()

	stopDispatch()
	if derr := <-dispatchDone; derr != nil && err == nil {
		err = derr
	}
	return err
}

// connect opens every configured backing service. Unset URLs leave the
// corresponding client nil.
func connect(ctx context.Context, cfg config.Server, log *slog.Logger) (*infra, error) {
	deps := &infra{health: map[string]httptransport.HealthCheck{}}

	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database, log)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(db); err != nil {
			_ = db.Close()
			return nil, err
		}
		deps.db = db
		deps.health["postgres"] = db.PingContext
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		deps.close()
		return nil, err
	}
	if rc != nil {
		deps.redis = rc
		deps.health["redis"] = rc.Health
	}

	kc, err := platformkafka.New(ctx, cfg.Kafka, log)
	if err != nil {
		deps.close()
		return nil, err
	}
	if kc != nil {
		deps.kafka = kc
		deps.health["kafka"] = func(ctx context.Context) error { return platformkafka.Health(ctx, kc) }
	}
	return deps, nil
}

func buildSink(cfg config.Server, deps *infra, log *slog.Logger) notify.Sink {
	if deps.kafka != nil {
		return notifykafka.NewSink(deps.kafka, cfg.Kafka.NotifyTopic)
	}
	return notify.NewLogSink(log)
}

func buildStore(cfg config.Server, deps *infra, publisher notify.Publisher, log *slog.Logger) storage.Transactor {
	if deps.db != nil {
		return pgstore.New(deps.db,
			pgstore.WithPublisher(publisher),
			pgstore.WithTxTimeout(cfg.Database.TxTimeout),
			pgstore.WithLogger(log),
		)
	}
	return memory.New(
		memory.WithPublisher(publisher),
		memory.WithTxTimeout(cfg.Database.TxTimeout),
		memory.WithLogger(log),
	)
}

func storageName(deps *infra) string {
	if deps.db != nil {
		return "postgres"
	}
	return "memory"
}
