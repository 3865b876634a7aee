// Package app initializes and holds long-lived application services,
// acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/bnowain/FB-Monitor/internal/api"
	"github.com/bnowain/FB-Monitor/internal/circuit"
	"github.com/bnowain/FB-Monitor/internal/config"
	"github.com/bnowain/FB-Monitor/internal/extract"
	"github.com/bnowain/FB-Monitor/internal/logging"
	"github.com/bnowain/FB-Monitor/internal/monitor"
	"github.com/bnowain/FB-Monitor/internal/notify"
	"github.com/bnowain/FB-Monitor/internal/orchestrator"
	"github.com/bnowain/FB-Monitor/internal/publish"
	"github.com/bnowain/FB-Monitor/internal/ratelimit"
	"github.com/bnowain/FB-Monitor/internal/session"
	"github.com/bnowain/FB-Monitor/internal/snapshot"
	"github.com/bnowain/FB-Monitor/internal/store/memory"
	"github.com/bnowain/FB-Monitor/internal/store/postgres"
	"github.com/bnowain/FB-Monitor/internal/track"
)

// App holds the shared, long-lived services for the monitor. It is
// initialized once at startup and passed to the commands that need it.
type App struct {
	Cfg config.Config

	Store     monitor.Store
	Snapshots monitor.SnapshotStore
	Publisher monitor.Publisher
	Notifier  monitor.Notifier
	Governor  *ratelimit.Governor
	Tracker   *track.Scheduler
	State     *track.StateFile
	Chain     *extract.Chain

	Pool *circuit.Pool
	Main *circuit.Main

	loader    *loader
	apiServer *http.Server
}

// NewApp instantiates the configured providers. It fails fast if any
// critical service cannot be initialized. Circuits are NOT launched
// here; commands that need the network call StartCircuits.
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	l := logging.L
	l.Info("initializing services")

	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	snaps, err := newSnapshots(ctx, cfg)
	if err != nil {
		return nil, err
	}
	pub, err := newPublisher(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pool := circuit.NewPool(cfg.Tor, nil)
	main := circuit.NewMain(cfg.Tor)

	a := &App{
		Cfg:       cfg,
		Store:     store,
		Snapshots: snaps,
		Publisher: pub,
		Notifier:  notify.New(cfg.Notify),
		Governor: ratelimit.New(ratelimit.Config{
			AnonymousPerHour:     cfg.Rate.AnonymousPerHour,
			AuthenticatedPerHour: cfg.Rate.AuthenticatedPerHour,
			RotateThreshold:      cfg.Rate.RotateThreshold,
		}, nil),
		Tracker: track.NewScheduler(nil),
		State:   track.NewStateFile(cfg.StateFile),
		Pool:    pool,
		Main:    main,
	}

	a.Tracker.SetMaxLookback(cfg.Track.MaxLookback)

	prober := &session.Prober{Cfg: cfg.Session}
	racer := circuit.NewRacer(pool, main, prober, cfg.Tor.RaceTimeout)
	a.loader = newLoader(cfg.Session, racer)

	mobile := &extract.CollyMobileFetcher{
		Proxy: func() string {
			if healthy := pool.Healthy(); len(healthy) > 0 {
				return "socks5://" + healthy[0].SocksAddr()
			}
			return ""
		},
	}
	a.Chain = extract.NewChain(nil, mobile)
	a.Chain.Health().OnAllDegraded(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.Notifier.Notify(ctx,
			"Extraction critical",
			"every extraction strategy has gone cold; the target markup likely changed"); err != nil {
			l.Warn("critical notification failed", zap.Error(err))
		}
	})

	l.Info("services initialized")
	return a, nil
}

// Orchestrator builds the cycle coordinator over the app's services and
// restores persisted tracking state.
func (a *App) Orchestrator() (*orchestrator.Orchestrator, error) {
	o := orchestrator.New(orchestrator.Deps{
		Config:    a.Cfg,
		Loader:    a.loader,
		Chain:     a.Chain,
		Extractor: extract.NewFieldExtractor(nil),
		Store:     a.Store,
		Snapshots: a.Snapshots,
		Publisher: a.Publisher,
		Notifier:  a.Notifier,
		Governor:  a.Governor,
		Tracker:   a.Tracker,
		State:     a.State,
		Rotate:    a.Pool.RenewAll,
	})
	st, err := a.State.Load()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	o.RestoreState(st)
	return o, nil
}

// StartCircuits launches the reference circuit and the pool, then waits
// for at least one pooled instance to bootstrap.
func (a *App) StartCircuits(ctx context.Context) error {
	if err := a.Main.Ensure(ctx); err != nil {
		return fmt.Errorf("reference circuit: %w", err)
	}
	if err := a.Pool.Start(ctx); err != nil {
		return fmt.Errorf("circuit pool: %w", err)
	}
	ready, err := a.Pool.WaitReady(ctx, a.Cfg.Tor.BootstrapTimeout)
	if err != nil {
		return fmt.Errorf("circuit pool bootstrap: %w", err)
	}
	logging.L.Info("circuit pool ready", zap.Int("instances", ready))
	return nil
}

// StartAPI serves the status interface in the background.
func (a *App) StartAPI() {
	if a.Cfg.API.Addr == "" {
		return
	}
	srv := api.NewServer(a.Pool, a.Tracker, a.Chain.Health())
	a.apiServer = &http.Server{
		Addr:              a.Cfg.API.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logging.L.Info("status server listening", zap.String("addr", a.Cfg.API.Addr))
		if err := a.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L.Error("status server failed", zap.Error(err))
		}
	}()
}

// Close gracefully shuts down all services.
func (a *App) Close() {
	l := logging.L
	l.Info("shutting down services")

	if a.apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.apiServer.Shutdown(ctx); err != nil {
			l.Warn("status server shutdown failed", zap.Error(err))
		}
		cancel()
	}
	a.loader.Close()
	a.Pool.Stop()
	a.Main.Stop()
	if err := a.Store.Close(); err != nil {
		l.Warn("store close failed", zap.Error(err))
	}
	if err := a.Publisher.Close(); err != nil {
		l.Warn("publisher close failed", zap.Error(err))
	}
	if err := l.Sync(); err != nil {
		// Best effort; stderr may be a terminal that rejects Sync.
		_ = err
	}
}

func newStore(ctx context.Context, cfg config.Config) (monitor.Store, error) {
	switch cfg.Store.Provider {
	case "memory", "":
		logging.L.Info("using in-memory store; data will not survive restarts")
		return memory.New(nil), nil
	case "postgres":
		if cfg.Store.DSN == "" {
			return nil, fmt.Errorf("store provider is 'postgres' but store.dsn is not set")
		}
		logging.L.Info("connecting to PostgreSQL")
		return postgres.New(ctx, cfg.Store.DSN)
	default:
		return nil, fmt.Errorf("unknown store provider: %s", cfg.Store.Provider)
	}
}

func newSnapshots(ctx context.Context, cfg config.Config) (monitor.SnapshotStore, error) {
	switch cfg.Snapshot.Provider {
	case "noop":
		logging.L.Info("snapshots disabled; raw HTML will be discarded")
		return snapshot.Noop{}, nil
	case "local", "":
		dir := cfg.Snapshot.Dir
		if dir == "" {
			dir = "snapshots"
		}
		return snapshot.NewLocal(dir)
	case "gcs":
		if cfg.Snapshot.Bucket == "" {
			return nil, fmt.Errorf("snapshot provider is 'gcs' but snapshot.bucket is not set")
		}
		logging.L.Info("using GCS snapshot store", zap.String("bucket", cfg.Snapshot.Bucket))
		return snapshot.NewGCS(ctx, cfg.Snapshot.Bucket)
	default:
		return nil, fmt.Errorf("unknown snapshot provider: %s", cfg.Snapshot.Provider)
	}
}

func newPublisher(ctx context.Context, cfg config.Config) (monitor.Publisher, error) {
	switch cfg.Publish.Provider {
	case "noop", "":
		return publish.Noop{}, nil
	case "memory":
		return publish.NewMemory(), nil
	case "pubsub":
		if cfg.Publish.ProjectID == "" {
			return nil, fmt.Errorf("publish provider is 'pubsub' but publish.project_id is not set")
		}
		logging.L.Info("connecting to GCP Pub/Sub", zap.String("project", cfg.Publish.ProjectID))
		return publish.NewPubSub(ctx, cfg.Publish.ProjectID)
	default:
		return nil, fmt.Errorf("unknown publish provider: %s", cfg.Publish.Provider)
	}
}
