// Command smfsd mounts a remote media catalog as a browsable, streaming
// filesystem. Wiring follows the teacher's own main.go/app/main.go: a
// thin main that builds its collaborators top-down and hands off to a
// blocking Serve call, generalized here into cobra's RunE instead of a
// bare flag.Parse.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"smfs/internal/catalog"
	"smfs/internal/catalogsource"
	"smfs/internal/cachedir"
	"smfs/internal/config"
	"smfs/internal/fsops"
	"smfs/internal/fuseadapter"
	"smfs/internal/logging"
	"smfs/internal/metrics"
	"smfs/internal/refresh"
	"smfs/internal/refreshchannel"
	"smfs/internal/shutdown"
	"smfs/internal/snapshotstore"
	"smfs/internal/urlfetch"
)

func main() {
	cmd := config.NewRootCommand(run)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	logFactory, err := logging.NewFactory(cfg.LogLevel, false)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logFactory.Sync()

	log := logFactory.For("main")

	store, err := snapshotstore.Open(cfg.SnapshotDBPath)
	if err != nil {
		return fmt.Errorf("opening snapshot store: %w", err)
	}
	defer store.Close()

	cache, err := cachedir.New(cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("preparing cache dir: %w", err)
	}

	coordinator := shutdown.New(cfg.MountPoint, nil, logFactory.For("shutdown"))

	sessionFactory := catalog.NewHTTPSessionFactory(nil, logFactory.For("stream"), coordinator.ShuttingDown)
	cat := catalog.New(cfg.CacheDir, cfg.EnabledTypes, sessionFactory, logFactory.For("catalog"))
	coordinator.SetCatalog(cat)

	if snap, ok, err := store.Load(); err != nil {
		log.Warnw("failed to load cached snapshot", "err", err)
	} else if ok {
		cat.ApplySnapshot(catalogsource.ToEntries(snap))
		log.Infow("seeded catalog from cached snapshot", "version", cat.Version())
	}

	source := catalogsource.NewClient(cfg.Host, cfg.Port, cfg.APIKey, cfg.StreamGroupProfileIDs, cfg.IsShort)

	var dial refresh.Dialer
	if cfg.RefreshChannelURL != "" {
		dial = func() (refreshchannel.Channel, error) {
			ch, err := refreshchannel.Dial(cfg.RefreshChannelURL)
			if err != nil {
				return nil, err
			}
			coordinator.SetRefreshChannel(ch)
			return ch, nil
		}
	}

	refreshLogger := logFactory.For("refresh")
	controller := refresh.New(cat, source, dial, refreshLogger, coordinator.ShuttingDown, coordinator.Shutdown)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var registry *metrics.Registry
	if cfg.MetricsAddr != "" {
		registry = metrics.NewRegistry()
		go registry.PollSessionStats(ctx, cat, 5*time.Second)
		go metrics.Serve(ctx, cfg.MetricsAddr)
	}

	controller.OnSnapshotApplied(func(snap catalogsource.Snapshot) {
		if err := store.Save(snap); err != nil {
			log.Warnw("failed to persist snapshot cache", "err", err)
		}
	})
	if registry != nil {
		controller.OnReloadResult(func(err error) {
			if err != nil {
				registry.RefreshFailures.Inc()
			} else {
				registry.RefreshSuccesses.Inc()
			}
		})
	}

	if dial != nil {
		go controller.Run(ctx)
	} else if err := controller.Reload(ctx); err != nil {
		log.Warnw("initial catalog reload failed, continuing with cached/empty catalog", "err", err)
	}

	fetcher := urlfetch.New(nil)
	ops := fsops.New(cat, cache, fetcher, logFactory.For("fsops"), coordinator.ShuttingDown)

	conn, err := fuseadapter.Mount(cfg.MountPoint, "smfs")
	if err != nil {
		return fmt.Errorf("mounting %s: %w", cfg.MountPoint, err)
	}
	defer conn.Close()

	coordinator.RegisterSignals()

	log.Infow("serving filesystem", "mount_point", cfg.MountPoint)
	fs := &fuseadapter.FS{Ops: ops}
	if err := fuseadapter.Serve(conn, fs); err != nil {
		log.Errorw("filesystem server exited with error", "err", err)
	}

	coordinator.Shutdown()
	<-coordinator.Done()

	return nil
}
