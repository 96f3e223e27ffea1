// Package shutdown implements the ordered teardown sequence described
// in §4.G: assert a process-wide "shutting down" flag, stop and drain
// every StreamSession, close the refresh channel, unmount the
// filesystem, and only then let main return. The signal wiring is
// grounded on gcsfuse's main.go registerSIGINTHandler (SIGINT-driven
// fuse.Unmount retry loop); SPEC_FULL.md's addition of SIGTERM handling
// follows the same os/signal.Notify pattern the retrieval pack's
// rfs/main.go and streamFS/main.go use for both signals together. Order
// of teardown itself is grounded on the teacher's
// filesystem/server/providers/fuse Server.Close (fileSystem.Close,
// unmount, connection.Close, in that order).
package shutdown

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"

	"smfs/internal/catalog"
	"smfs/internal/fuseadapter"
	"smfs/internal/refreshchannel"
)

// Coordinator owns the shutting-down flag every other component polls
// (StreamSession.IncrReaders, refresh.Controller.Run) plus the ordered
// teardown sequence triggered by a signal, a refresh-channel "shutdown"
// frame, or an explicit call to Shutdown.
type Coordinator struct {
	mountPoint string
	catalog    *catalog.Catalog
	logger     *zap.SugaredLogger

	flag atomic.Bool
	once sync.Once
	done chan struct{}

	refreshChan refreshchannel.Channel
	refreshMu   sync.Mutex
}

// New builds a Coordinator for the filesystem mounted at mountPoint.
// cat may be nil if the catalog is constructed after the coordinator
// (its ShuttingDown callback is often threaded into the catalog's own
// session factory); call SetCatalog once it exists.
func New(mountPoint string, cat *catalog.Catalog, logger *zap.SugaredLogger) *Coordinator {
	return &Coordinator{
		mountPoint: mountPoint,
		catalog:    cat,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// SetCatalog records the catalog to stop sessions on during Shutdown,
// for callers that construct the Coordinator before the Catalog exists.
func (c *Coordinator) SetCatalog(cat *catalog.Catalog) {
	c.catalog = cat
}

// ShuttingDown reports whether teardown has begun. Passed to
// StreamSession.New and refresh.Controller as their shuttingDown
// callback.
func (c *Coordinator) ShuttingDown() bool {
	return c.flag.Load()
}

// SetRefreshChannel records the currently-live refresh channel so
// Shutdown can close it. Safe to call repeatedly as refresh.Controller
// reconnects.
func (c *Coordinator) SetRefreshChannel(ch refreshchannel.Channel) {
	c.refreshMu.Lock()
	c.refreshChan = ch
	c.refreshMu.Unlock()
}

// RegisterSignals starts a goroutine that begins teardown on SIGINT or
// SIGTERM, matching gcsfuse's registerSIGINTHandler but covering both
// signals per SPEC_FULL.md's addition.
func (c *Coordinator) RegisterSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		c.logger.Infow("received signal, beginning shutdown", "signal", sig)
		c.Shutdown()
	}()
}

// Shutdown runs the teardown sequence exactly once: assert the flag,
// stop and drain every StreamSession, close the refresh channel, and
// unmount the filesystem. Safe to call multiple times or concurrently;
// only the first call does anything, and every caller blocks until
// teardown completes.
func (c *Coordinator) Shutdown() {
	c.once.Do(func() {
		c.flag.Store(true)

		if c.catalog != nil {
			c.logger.Info("stopping stream sessions")
			c.catalog.StopAllSessions()
		}

		c.refreshMu.Lock()
		ch := c.refreshChan
		c.refreshMu.Unlock()
		if ch != nil {
			if err := ch.Close(); err != nil {
				c.logger.Warnw("closing refresh channel", "err", err)
			}
		}

		c.logger.Infow("unmounting filesystem", "mount_point", c.mountPoint)
		if err := fuseadapter.Unmount(c.mountPoint); err != nil {
			c.logger.Errorw("failed to unmount filesystem", "err", err)
		}

		close(c.done)
	})
}

// Done returns a channel closed once Shutdown has completed teardown.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}
