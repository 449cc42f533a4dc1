package app

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"toolgrid/internal/domain"
	"toolgrid/internal/infra/bus"
	"toolgrid/internal/infra/cache"
	"toolgrid/internal/infra/catalog"
	"toolgrid/internal/infra/catalog/validator"
	"toolgrid/internal/infra/health"
	"toolgrid/internal/infra/rpc"
	"toolgrid/internal/infra/syncer"
	"toolgrid/internal/infra/telemetry"
)

type App struct {
	logger *zap.Logger
}

type ServeConfig struct {
	ConfigPath string
	DataDir    string
	ServiceID  string
}

type ValidateConfig struct {
	ConfigPath string
}

func New(logger *zap.Logger) *App {
	return &App{
		logger: logger.Named("app"),
	}
}

// Serve runs the registry node until ctx is canceled.
func (a *App) Serve(ctx context.Context, cfg ServeConfig) error {
	store, err := catalog.NewStore(ctx, cfg.ConfigPath, a.logger)
	if err != nil {
		return err
	}
	snapshot := store.Snapshot()
	runtime := snapshot.Runtime

	a.logger.Info("catalog loaded",
		zap.String("config", cfg.ConfigPath),
		zap.Int("servers", len(snapshot.Servers)))

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewPrometheusMetrics(registry)

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "data"
	}
	durable, err := cache.OpenBoltStore(filepath.Join(dataDir, "toolgrid.db"))
	if err != nil {
		return err
	}
	defer durable.Close()

	cacheMgr := cache.NewManager(cache.Options{
		Logger:        a.logger,
		Metrics:       metrics,
		Durable:       durable,
		L1Capacity:    runtime.CacheL1Capacity,
		SweepInterval: seconds(runtime.SweepIntervalSeconds),
	})
	cacheMgr.StartSweeper()
	defer cacheMgr.StopSweeper()

	client := rpc.NewClient(rpc.Options{
		Endpoint:    runtime.RPC.Endpoint,
		DialTimeout: seconds(runtime.RPC.DialTimeoutSeconds),
		Logger:      a.logger,
		Metrics:     metrics,
	})
	defer client.Close()
	discovery := rpc.NewDiscovery(client)

	if err := a.verifyServers(ctx, snapshot, discovery); err != nil {
		return err
	}

	tracker := health.NewTracker(health.Options{
		Source:           discovery,
		Tools:            allActionNames(snapshot),
		Essential:        runtime.EssentialTools,
		CheckInterval:    seconds(runtime.CheckIntervalSeconds),
		FailureThreshold: runtime.FailureThreshold,
		Logger:           a.logger,
		Metrics:          metrics,
	})
	tracker.CheckNow(ctx)
	tracker.Start()
	defer tracker.Stop()

	eventBus := bus.NewMemBus(bus.MemBusConfig{
		SubscriberBufferSize: runtime.EventBufferSize,
	})
	defer eventBus.Close()

	sync := syncer.New(syncer.Options{
		ServiceID:         cfg.ServiceID,
		Bus:               eventBus,
		Slots:             durable,
		HeartbeatInterval: seconds(runtime.HeartbeatIntervalSeconds),
		HeartbeatTTL:      seconds(runtime.HeartbeatTTLSeconds),
		ReconcileInterval: seconds(runtime.ReconcileIntervalSeconds),
		ExecutionGrace:    seconds(runtime.ExecutionGraceSeconds),
		Resync:            resyncFromStore(store),
		Logger:            a.logger,
		Metrics:           metrics,
	})
	if err := sync.Start(); err != nil {
		return err
	}
	defer sync.Stop()

	if err := announceCatalog(ctx, sync, snapshot); err != nil {
		return err
	}

	coordinator := NewCoordinator(CoordinatorOptions{
		Logger:    a.logger,
		Readiness: tracker,
		Transport: client,
		Ledger:    sync,
		Cache:     cacheMgr,
	})

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return store.Watch(groupCtx)
	})
	group.Go(func() error {
		return telemetry.StartHTTPServer(groupCtx, telemetry.HTTPServerOptions{
			Addr:     runtime.Metrics.ListenAddress,
			Registry: registry,
			Ready:    tracker.EssentialReady,
			Handlers: map[string]http.Handler{
				"/v1/invoke": coordinator.InvokeHandler(),
			},
		}, a.logger)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// ValidateConfig loads and checks the catalog without serving. It is the
// backing for the validate subcommand.
func (a *App) ValidateConfig(ctx context.Context, cfg ValidateConfig) error {
	loader := catalog.NewLoader(a.logger)
	loaded, err := loader.Load(ctx, cfg.ConfigPath)
	if err != nil {
		return err
	}
	a.logger.Info("catalog is valid",
		zap.String("config", cfg.ConfigPath),
		zap.Int("servers", len(loaded.Servers)),
		zap.Int("tools", len(allActionNames(loaded))))
	return nil
}

// verifyServers runs the consistency check against the live endpoint.
// Inconsistency in a server whose actions include an essential tool is
// fatal; everything else is logged. An unreachable endpoint is not fatal
// here, the health tracker owns that condition.
func (a *App) verifyServers(ctx context.Context, snapshot domain.Catalog, discovery *rpc.Discovery) error {
	essential := make(map[string]struct{}, len(snapshot.Runtime.EssentialTools))
	for _, tool := range snapshot.Runtime.EssentialTools {
		essential[tool] = struct{}{}
	}

	for id, spec := range snapshot.Servers {
		inventory, err := discovery.ServerInventory(ctx, id)
		if err != nil {
			a.logger.Warn("server inventory unavailable, skipping consistency check",
				zap.String("server", id),
				zap.Error(err))
			continue
		}
		report := validator.Validate(snapshot, id, inventory)
		if report.Consistent {
			continue
		}
		if serverIsEssential(spec, essential) {
			return validator.Require(report)
		}
		a.logger.Warn("server implementation does not match catalog",
			zap.String("server", id),
			zap.Strings("missing", report.Missing),
			zap.Strings("extra", report.Extra))
	}
	return nil
}

func serverIsEssential(spec domain.ServerDefinition, essential map[string]struct{}) bool {
	for _, action := range spec.ActionNames() {
		if _, ok := essential[action]; ok {
			return true
		}
	}
	return false
}

func allActionNames(snapshot domain.Catalog) []string {
	var names []string
	for _, spec := range snapshot.Servers {
		names = append(names, spec.ActionNames()...)
	}
	return names
}

func resyncFromStore(store *catalog.Store) syncer.ResyncFunc {
	return func(ctx context.Context) (map[string]domain.ServerDefinition, error) {
		return store.Snapshot().Servers, nil
	}
}

func announceCatalog(ctx context.Context, sync *syncer.Synchronizer, snapshot domain.Catalog) error {
	for id, spec := range snapshot.Servers {
		clone := domain.CloneServerDefinition(spec)
		event := domain.ToolEvent{
			Type:     domain.EventRegister,
			ToolID:   id,
			ToolSpec: &clone,
		}
		if err := sync.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
