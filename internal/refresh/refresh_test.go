package refresh

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"smfs/internal/catalog"
	"smfs/internal/catalogsource"
	"smfs/internal/refreshchannel"
)

type stubSource struct {
	snap catalogsource.Snapshot
}

func (s *stubSource) FetchSnapshot(ctx context.Context) (catalogsource.Snapshot, error) {
	return s.snap, nil
}

type stubChannel struct {
	messages chan refreshchannel.Message
	errs     chan error
	closed   int32
}

func newStubChannel() *stubChannel {
	return &stubChannel{
		messages: make(chan refreshchannel.Message, 4),
		errs:     make(chan error, 1),
	}
}

func (c *stubChannel) Messages() <-chan refreshchannel.Message { return c.messages }
func (c *stubChannel) Errors() <-chan error                    { return c.errs }
func (c *stubChannel) Close() error {
	atomic.StoreInt32(&c.closed, 1)
	return nil
}

func TestReloadAppliesSnapshot(t *testing.T) {
	cat := catalog.New("/tmp/smfs_test", []string{"xml"}, nil, zap.NewNop().Sugar())
	src := &stubSource{snap: catalogsource.Snapshot{
		"1": catalogsource.Group{Name: "A", URL: "http://h/A"},
	}}

	ctrl := New(cat, src, nil, zap.NewNop().Sugar(), func() bool { return false }, nil)
	if err := ctrl.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if _, _, ok := cat.Lookup("/A/A.xml"); !ok {
		t.Errorf("expected /A/A.xml after reload")
	}
}

func TestDeleteMessageRemovesPath(t *testing.T) {
	cat := catalog.New("/tmp/smfs_test", []string{"ts"}, nil, zap.NewNop().Sugar())
	cat.InsertRemoteFile("/A/X/X.ts", "http://h/X")

	ctrl := New(cat, &stubSource{}, nil, zap.NewNop().Sugar(), func() bool { return false }, nil)
	ctrl.handle(context.Background(), refreshchannel.Message{Kind: refreshchannel.KindDelete, Path: "/A/X/X.ts"})

	if _, _, ok := cat.Lookup("/A/X/X.ts"); ok {
		t.Errorf("path survived delete message")
	}
}

func TestShutdownMessageInvokesCallback(t *testing.T) {
	var called int32
	cat := catalog.New("/tmp/smfs_test", nil, nil, zap.NewNop().Sugar())
	ctrl := New(cat, &stubSource{}, nil, zap.NewNop().Sugar(), func() bool { return false }, func() {
		atomic.StoreInt32(&called, 1)
	})

	ctrl.handle(context.Background(), refreshchannel.Message{Kind: refreshchannel.KindShutdown})

	if atomic.LoadInt32(&called) != 1 {
		t.Errorf("onShutdown was not invoked")
	}
}

func TestRunReconnectsAndReloads(t *testing.T) {
	cat := catalog.New("/tmp/smfs_test", []string{"xml"}, nil, zap.NewNop().Sugar())
	src := &stubSource{snap: catalogsource.Snapshot{"1": catalogsource.Group{Name: "B", URL: "http://h/B"}}}

	dialed := int32(0)
	var shuttingDown int32

	dial := func() (refreshchannel.Channel, error) {
		n := atomic.AddInt32(&dialed, 1)
		ch := newStubChannel()
		go func() {
			time.Sleep(10 * time.Millisecond)
			if n >= 2 {
				atomic.StoreInt32(&shuttingDown, 1)
			}
			close(ch.messages)
		}()
		return ch, nil
	}

	ctrl := New(cat, src, dial, zap.NewNop().Sugar(), func() bool { return atomic.LoadInt32(&shuttingDown) == 1 }, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	ctrl.Run(ctx)

	if got := atomic.LoadInt32(&dialed); got != 2 {
		t.Errorf("dialed = %d, want 2 (one reconnect after the first channel closed)", got)
	}
	if _, _, ok := cat.Lookup("/B/B.xml"); !ok {
		t.Errorf("expected catalog reloaded via Run")
	}
}
