package streamsession

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func neverShuttingDown() bool { return false }

func TestIncrReadersStartsWorker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	s := New(srv.URL, srv.Client(), testLogger(), neverShuttingDown)

	if s.State() != Idle {
		t.Fatalf("new session state = %v, want Idle", s.State())
	}

	if err := s.IncrReaders(); err != nil {
		t.Fatalf("IncrReaders: %v", err)
	}

	buf := make([]byte, 32)
	total := 0
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n := s.ReadStream(buf[total:])
		if n == 0 {
			break
		}
		total += n
	}

	if string(buf[:total]) != "hello world" {
		t.Errorf("stream content = %q, want %q", buf[:total], "hello world")
	}
}

func TestDecrReadersToZeroStopsWorker(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		w.Write([]byte("chunk1"))
		if flusher != nil {
			flusher.Flush()
		}
		<-block
		w.Write([]byte("chunk2"))
	}))
	defer srv.Close()
	defer close(block)

	s := New(srv.URL, srv.Client(), testLogger(), neverShuttingDown)
	if err := s.IncrReaders(); err != nil {
		t.Fatalf("IncrReaders: %v", err)
	}

	buf := make([]byte, 8)
	// Drain the first chunk so the worker is blocked on the pipe/body.
	for i := 0; i < 50; i++ {
		if n := s.Pipe.Len(); n > 0 {
			s.ReadStream(buf)
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.DecrReaders()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == Stopped {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Errorf("session state after drain = %v, want Stopped", s.State())
}

func TestStopOnStoppedIsNoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("done"))
	}))
	defer srv.Close()

	s := New(srv.URL, srv.Client(), testLogger(), neverShuttingDown)
	if err := s.IncrReaders(); err != nil {
		t.Fatalf("IncrReaders: %v", err)
	}
	s.Drain()

	if s.State() != Stopped {
		t.Fatalf("state after natural completion = %v, want Stopped", s.State())
	}

	s.Stop()
	s.Stop()
	if s.State() != Stopped {
		t.Errorf("state after double Stop = %v, want Stopped", s.State())
	}
}

func TestIncrReadersFailsWhenShuttingDown(t *testing.T) {
	s := New("http://example.invalid/x", &http.Client{}, testLogger(), func() bool { return true })
	err := s.IncrReaders()
	if err == nil {
		t.Fatalf("expected error when shutting down")
	}
}

var _ = io.EOF
