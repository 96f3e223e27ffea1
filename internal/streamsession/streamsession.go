// Package streamsession implements the reader-counted HTTP streaming
// lifecycle that feeds a bounded pipe for one remote .ts file. The
// producer loop is grounded on the teacher's vlc/main.go and
// stream/main.go Stream types (background goroutine issuing an HTTP GET
// and copying chunks into a ring buffer, with sleep-and-retry on
// failure); the reader-count/state-machine gate around it replaces the
// teacher's ad hoc "is anyone reading" checks with the explicit
// Idle/Running/Stopping/Stopped machine.
package streamsession

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"smfs/internal/pipe"
	"smfs/internal/smfserr"
)

// State is one of the four lifecycle states from the design.
type State int

const (
	Idle State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "idle"
	}
}

const (
	// DefaultPipeCapacity is the BoundedPipe size backing every session:
	// 4 MiB, within the 1-64 MiB allowed range.
	DefaultPipeCapacity = 4 * 1024 * 1024

	retryDelay = 5 * time.Second
	// maxRetries bounds the recommended (not mandatory) retry cap
	// mentioned in the design notes; 0 means unbounded.
	maxRetries = 10
)

// ShuttingDown reports whether the process-wide shutdown flag is set.
// StreamSession consults it so it never starts new work once the
// ShutdownCoordinator has begun teardown.
type ShuttingDown func() bool

// StreamSession drives one HTTP GET against url and feeds a single
// BoundedPipe consumed by FsOps reads.
type StreamSession struct {
	ID     uuid.UUID
	URL    string
	Pipe   *pipe.BoundedPipe
	logger *zap.SugaredLogger
	client *http.Client
	shuttingDown ShuttingDown

	mu      sync.Mutex
	readers int
	state   State
	done    chan struct{}

	stopFlag atomic.Bool
}

// New builds a StreamSession for url. The session starts Idle; no HTTP
// request is issued until the first IncrReaders call.
func New(url string, client *http.Client, logger *zap.SugaredLogger, shuttingDown ShuttingDown) *StreamSession {
	if client == nil {
		client = defaultClient()
	}

	return &StreamSession{
		ID:           uuid.New(),
		URL:          url,
		Pipe:         pipe.New(DefaultPipeCapacity),
		logger:       logger,
		client:       client,
		shuttingDown: shuttingDown,
		state:        Idle,
	}
}

func defaultClient() *http.Client {
	transport := &http.Transport{
		ForceAttemptHTTP2:   true,
		DisableCompression:  true,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 15 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		// No overall timeout: streams are long-lived by design.
	}
}

// State returns the current lifecycle state.
func (s *StreamSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsStopped reports whether the session has fully wound down.
func (s *StreamSession) IsStopped() bool {
	return s.State() == Stopped
}

// Readers returns the current reader count.
func (s *StreamSession) Readers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readers
}

// IncrReaders increments the reader count, starting the worker if the
// session was Idle. Returns smfserr KindShuttingDown if the process is
// tearing down and the session has not already started.
func (s *StreamSession) IncrReaders() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Idle && s.shuttingDown != nil && s.shuttingDown() {
		return smfserr.New("stream.open", s.URL, smfserr.KindShuttingDown, nil)
	}

	s.readers++

	if s.state == Idle {
		s.state = Running
		s.done = make(chan struct{})
		s.stopFlag.Store(false)
		go s.run(s.done)
	}

	return nil
}

// DecrReaders decrements the reader count. Once it reaches zero the
// session asserts stop and transitions toward Stopping; the caller does
// not block on the worker actually exiting.
func (s *StreamSession) DecrReaders() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readers > 0 {
		s.readers--
	}

	if s.readers == 0 && s.state == Running {
		s.state = Stopping
		s.stopFlag.Store(true)
		s.Pipe.WakeAll()
	}
}

// Stop asserts the stop flag and wakes pipe waiters unconditionally,
// used by catalog rebuilds and shutdown. A no-op on an already-Stopped
// session.
func (s *StreamSession) Stop() {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return
	}
	if s.state == Running {
		s.state = Stopping
	}
	done := s.done
	s.mu.Unlock()

	s.stopFlag.Store(true)
	s.Pipe.WakeAll()

	if done != nil {
		<-done
	}
}

// Drain waits for the worker to reach Stopped. Safe to call whether or
// not a worker was ever started.
func (s *StreamSession) Drain() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (s *StreamSession) stopRequested() bool {
	return s.stopFlag.Load() || (s.shuttingDown != nil && s.shuttingDown())
}

// ReadStream copies up to len(buf) bytes from the pipe. A return of 0
// means EOF for the filesystem read.
func (s *StreamSession) ReadStream(buf []byte) int {
	return s.Pipe.Read(buf, s.stopRequested)
}

func (s *StreamSession) run(done chan struct{}) {
	defer close(done)
	defer func() {
		s.mu.Lock()
		s.state = Stopped
		s.mu.Unlock()
		s.stopFlag.Store(true)
		s.Pipe.Close()
	}()

	attempts := 0

	for {
		if s.stopRequested() {
			return
		}

		start := time.Now()
		n, err := s.fetchOnce()

		if err == nil {
			s.logger.Infow("stream completed",
				"session", s.ID, "url", s.URL,
				"bytes", n, "duration", time.Since(start),
				"rate", humanize.Bytes(uint64(rateBytesPerSec(n, time.Since(start)))))
			return
		}

		if s.stopRequested() {
			return
		}

		attempts++
		s.logger.Warnw("stream fetch failed, retrying",
			"session", s.ID, "url", s.URL, "attempt", attempts, "err", err)

		if maxRetries > 0 && attempts >= maxRetries {
			s.logger.Errorw("stream fetch exceeded retry cap, giving up",
				"session", s.ID, "url", s.URL, "attempts", attempts)
			return
		}

		select {
		case <-time.After(retryDelay):
		}
		if s.stopRequested() {
			return
		}
	}
}

func rateBytesPerSec(n int64, d time.Duration) uint64 {
	if d <= 0 {
		return uint64(n)
	}
	return uint64(float64(n) / d.Seconds())
}

// fetchOnce issues one HTTP GET and streams the body into the pipe
// until EOF, an error, or an aborted write.
func (s *StreamSession) fetchOnce() (int64, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The body Read below blocks on network I/O and cannot observe
	// stopRequested by itself; this watcher cancels the request context
	// as soon as stop is asserted so a reader waiting on DecrReaders
	// doesn't have to wait out an in-flight network read.
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s.stopRequested() {
					cancel()
					return
				}
			}
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return 0, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, smfserr.New("stream.fetch", s.URL, smfserr.KindNetworkFatal, io.ErrUnexpectedEOF)
	}

	buf := make([]byte, 64*1024)
	var total int64

	for {
		if s.stopRequested() {
			cancel()
			return total, nil
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			res := s.Pipe.Write(buf[:n], s.stopRequested)
			total += int64(res.N)
			if res.Aborted {
				cancel()
				return total, nil
			}
		}

		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}
