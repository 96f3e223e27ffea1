package shutdown

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"smfs/internal/catalog"
	"smfs/internal/refreshchannel"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func TestShuttingDownFalseBeforeShutdown(t *testing.T) {
	cat := catalog.New(t.TempDir(), []string{"xml", "m3u", "strm"}, nil, testLogger())
	c := New("/mnt/smfs", cat, testLogger())

	if c.ShuttingDown() {
		t.Fatalf("ShuttingDown() = true before Shutdown was called")
	}
}

func TestShutdownAssertsFlagAndClosesDone(t *testing.T) {
	cat := catalog.New(t.TempDir(), []string{"xml", "m3u", "strm"}, nil, testLogger())
	c := New(t.TempDir(), cat, testLogger())

	c.Shutdown()

	if !c.ShuttingDown() {
		t.Errorf("ShuttingDown() = false after Shutdown")
	}
	select {
	case <-c.Done():
	default:
		t.Errorf("Done() channel not closed after Shutdown returned")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	cat := catalog.New(t.TempDir(), []string{"xml", "m3u", "strm"}, nil, testLogger())
	c := New(t.TempDir(), cat, testLogger())

	c.Shutdown()
	c.Shutdown()
}

type fakeRefreshChannel struct {
	closeErr error
	closed   bool
}

func (f *fakeRefreshChannel) Messages() <-chan refreshchannel.Message { return nil }
func (f *fakeRefreshChannel) Errors() <-chan error                    { return nil }
func (f *fakeRefreshChannel) Close() error {
	f.closed = true
	return f.closeErr
}

func TestShutdownClosesRegisteredRefreshChannel(t *testing.T) {
	cat := catalog.New(t.TempDir(), []string{"xml", "m3u", "strm"}, nil, testLogger())
	c := New(t.TempDir(), cat, testLogger())

	fake := &fakeRefreshChannel{closeErr: errors.New("boom")}
	c.SetRefreshChannel(fake)

	c.Shutdown()

	if !fake.closed {
		t.Errorf("registered refresh channel was not closed during shutdown")
	}
}
