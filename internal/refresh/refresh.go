// Package refresh implements RefreshController (§4.F): it subscribes to
// a refreshchannel.Channel, applies reload/delete messages to a
// catalog.Catalog, and reconnects with exponential backoff, triggering
// a Reload on every successful reconnect.
package refresh

import (
	"context"
	"time"

	"go.uber.org/zap"

	"smfs/internal/catalog"
	"smfs/internal/catalogsource"
	"smfs/internal/refreshchannel"
)

// Dialer opens a new refreshchannel.Channel, used so Controller can
// reconnect without depending on the websocket package directly.
type Dialer func() (refreshchannel.Channel, error)

// Controller runs the reload/delete/reconnect loop described in §4.F.
type Controller struct {
	catalog *catalog.Catalog
	source  catalogsource.Source
	dial    Dialer
	logger  *zap.SugaredLogger

	shuttingDown func() bool
	onShutdown   func()

	onReloadResult    func(err error)
	onSnapshotApplied func(snap catalogsource.Snapshot)
}

// New builds a Controller. shuttingDown is consulted so the controller
// exits its loop cooperatively once the ShutdownCoordinator asserts the
// global stop flag. onShutdown is invoked when a "shutdown" frame
// arrives, letting the ShutdownCoordinator begin teardown.
func New(cat *catalog.Catalog, source catalogsource.Source, dial Dialer, logger *zap.SugaredLogger, shuttingDown func() bool, onShutdown func()) *Controller {
	return &Controller{catalog: cat, source: source, dial: dial, logger: logger, shuttingDown: shuttingDown, onShutdown: onShutdown}
}

// OnReloadResult registers a callback invoked with the error (nil on
// success) of every Reload attempt, letting a metrics.Registry track
// refresh success/failure counts without Controller depending on it
// directly.
func (c *Controller) OnReloadResult(fn func(err error)) {
	c.onReloadResult = fn
}

// OnSnapshotApplied registers a callback invoked with every
// successfully-fetched Snapshot right after it is applied to the
// catalog, letting a snapshotstore.Store persist it as the cold-start
// cache without Controller depending on that package directly.
func (c *Controller) OnSnapshotApplied(fn func(snap catalogsource.Snapshot)) {
	c.onSnapshotApplied = fn
}

// Reload fetches a fresh snapshot (with the §4.F/§6 retry policy) and
// applies it to the catalog.
func (c *Controller) Reload(ctx context.Context) error {
	snap, err := catalogsource.FetchWithRetry(ctx, c.source)
	if err != nil {
		c.logger.Errorw("snapshot fetch failed, keeping previous catalog", "err", err)
		if c.onReloadResult != nil {
			c.onReloadResult(err)
		}
		return err
	}

	entries := catalogsource.ToEntries(snap)
	c.catalog.ApplySnapshot(entries)
	c.logger.Infow("catalog reloaded", "entries", len(entries), "version", c.catalog.Version())
	if c.onSnapshotApplied != nil {
		c.onSnapshotApplied(snap)
	}
	if c.onReloadResult != nil {
		c.onReloadResult(nil)
	}
	return nil
}

// Run connects to the refresh channel and processes messages until ctx
// is cancelled or shutdown is asserted, reconnecting with exponential
// backoff (1,2,4,8,16,32s capped) whenever the connection drops, and
// triggering a Reload after every successful (re)connect.
func (c *Controller) Run(ctx context.Context) {
	backoff := time.Second

	for {
		if c.shuttingDown() || ctx.Err() != nil {
			return
		}

		ch, err := c.dial()
		if err != nil {
			c.logger.Warnw("refresh channel dial failed, retrying", "err", err, "backoff", backoff)
			if !c.sleepBackoff(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = time.Second
		c.Reload(ctx)
		c.consume(ctx, ch)
		ch.Close()
	}
}

func (c *Controller) consume(ctx context.Context, ch refreshchannel.Channel) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch.Messages():
			if !ok {
				return
			}
			c.handle(ctx, msg)
		case <-ch.Errors():
			return
		}

		if c.shuttingDown() {
			return
		}
	}
}

func (c *Controller) handle(ctx context.Context, msg refreshchannel.Message) {
	switch msg.Kind {
	case refreshchannel.KindReload:
		c.Reload(ctx)
	case refreshchannel.KindDelete:
		if err := c.catalog.Remove(msg.Path); err != nil {
			c.logger.Warnw("delete message for unknown path", "path", msg.Path, "err", err)
		}
	case refreshchannel.KindShutdown:
		c.logger.Infow("shutdown message received on refresh channel")
		if c.onShutdown != nil {
			c.onShutdown()
		}
	default:
		c.logger.Warnw("unrecognized refresh channel frame", "raw", msg.Raw)
	}
}

func (c *Controller) sleepBackoff(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	const cap = 32 * time.Second
	next := d * 2
	if next > cap {
		return cap
	}
	return next
}
