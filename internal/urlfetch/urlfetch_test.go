package urlfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestFetchRangeCopiesRequestedSlice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	f := New(srv.Client())

	buf := make([]byte, 4)
	n, err := f.FetchRange(context.Background(), srv.URL, buf, 3)
	if err != nil {
		t.Fatalf("FetchRange: %v", err)
	}
	if string(buf[:n]) != "3456" {
		t.Errorf("got %q, want %q", buf[:n], "3456")
	}
}

func TestFetchRangeOffsetPastEndReturnsZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("abc"))
	}))
	defer srv.Close()

	f := New(srv.Client())
	buf := make([]byte, 4)
	n, err := f.FetchRange(context.Background(), srv.URL, buf, 10)
	if err != nil {
		t.Fatalf("FetchRange: %v", err)
	}
	if n != 0 {
		t.Errorf("n = %d, want 0", n)
	}
}

func TestFetchRangeCachesBody(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("cached"))
	}))
	defer srv.Close()

	f := New(srv.Client())
	buf := make([]byte, 6)

	f.FetchRange(context.Background(), srv.URL, buf, 0)
	f.FetchRange(context.Background(), srv.URL, buf, 0)

	if hits != 1 {
		t.Errorf("server hit %d times, want 1 (second call should be cache-served)", hits)
	}
}
