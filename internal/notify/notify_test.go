package notify_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stepline/internal/notify"
)

// collector gathers dispatched identifiers across goroutines.
type collector struct {
	mu    sync.Mutex
	guids []string
	seen  chan struct{}
}

func newCollector() *collector {
	return &collector{seen: make(chan struct{}, 64)}
}

func (c *collector) listen(guid string) {
	c.mu.Lock()
	c.guids = append(c.guids, guid)
	c.mu.Unlock()
	select {
	case c.seen <- struct{}{}:
	default:
	}
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.guids...)
}

func (c *collector) waitFor(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		if got := c.snapshot(); len(got) >= n {
			return got
		}
		select {
		case <-c.seen:
		case <-deadline:
			t.Fatalf("timed out waiting for %d notifications, have %v", n, c.snapshot())
		}
	}
}

func newTestChannel(t *testing.T, url string) *notify.Channel {
	t.Helper()
	ch := notify.New(url)
	ch.RetryDelay = 20 * time.Millisecond
	ch.PollInterval = 10 * time.Millisecond
	return ch
}

// sseHandler writes the given frames as an event stream and holds the
// connection open until the client goes away.
func sseHandler(frames ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for _, frame := range frames {
			fmt.Fprint(w, frame)
			flusher.Flush()
		}
		<-req.Context().Done()
	}
}

func TestStreamDispatchesUpdateEvents(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		"event: OnAssignmentUpdated\ndata: \"g-1\"\n\n",
		"data: g-2\n\n",
		"event: SomethingElse\ndata: \"g-ignored\"\n\n",
		"event: OnAssignmentUpdated\ndata: \"g-3\"\n\n",
	))
	defer srv.Close()

	c := newCollector()
	ch := newTestChannel(t, srv.URL)
	ch.Subscribe(c.listen)
	ch.Start(context.Background())
	defer ch.Stop()

	got := c.waitFor(t, 3)
	want := []string{"g-1", "g-2", "g-3"}
	for i, guid := range want {
		if got[i] != guid {
			t.Fatalf("notification %d: got %q, want %q (all: %v)", i, got[i], guid, got)
		}
	}
	for _, guid := range got {
		if guid == "g-ignored" {
			t.Fatalf("foreign event name must not dispatch: %v", got)
		}
	}
}

func TestInitialConnectRetries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if attempts.Add(1) < 3 {
			http.Error(w, "not yet", http.StatusServiceUnavailable)
			return
		}
		sseHandler("data: \"g-late\"\n\n")(w, req)
	}))
	defer srv.Close()

	c := newCollector()
	ch := newTestChannel(t, srv.URL)
	ch.Subscribe(c.listen)
	ch.Start(context.Background())
	defer ch.Stop()

	got := c.waitFor(t, 1)
	if got[0] != "g-late" {
		t.Fatalf("unexpected notification: %v", got)
	}
	if attempts.Load() < 3 {
		t.Fatalf("expected at least 3 connection attempts, got %d", attempts.Load())
	}
}

func TestReconnectAfterStreamDrop(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		n := conns.Add(1)
		if n == 1 {
			// first connection delivers one event then closes
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: \"g-1\"\n\n")
			return
		}
		sseHandler("data: \"g-2\"\n\n")(w, req)
	}))
	defer srv.Close()

	c := newCollector()
	ch := newTestChannel(t, srv.URL)
	ch.Subscribe(c.listen)
	ch.Start(context.Background())
	defer ch.Stop()

	got := c.waitFor(t, 2)
	if got[0] != "g-1" || got[1] != "g-2" {
		t.Fatalf("expected events from both connections, got %v", got)
	}
}

func TestPollingFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]string{"g-1", "g-2"})
	}))
	defer srv.Close()

	c := newCollector()
	ch := newTestChannel(t, srv.URL)
	ch.Subscribe(c.listen)
	ch.Start(context.Background())
	defer ch.Stop()

	// several rounds; repeats across rounds are expected under
	// at-least-once delivery
	got := c.waitFor(t, 4)
	for _, guid := range got {
		if guid != "g-1" && guid != "g-2" {
			t.Fatalf("unexpected identifier %q in %v", guid, got)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	srv := httptest.NewServer(sseHandler("data: \"g-1\"\n\n", "data: \"g-2\"\n\n"))
	defer srv.Close()

	kept := newCollector()
	removed := newCollector()
	ch := newTestChannel(t, srv.URL)
	ch.Subscribe(kept.listen)
	id := ch.Subscribe(removed.listen)
	ch.Unsubscribe(id)
	ch.Start(context.Background())
	defer ch.Stop()

	kept.waitFor(t, 2)
	if got := removed.snapshot(); len(got) != 0 {
		t.Fatalf("unsubscribed listener still received %v", got)
	}
}

func TestStartIsIdempotentAndStopWaits(t *testing.T) {
	srv := httptest.NewServer(sseHandler("data: \"g-1\"\n\n"))
	defer srv.Close()

	c := newCollector()
	ch := newTestChannel(t, srv.URL)
	ch.Subscribe(c.listen)
	ch.Start(context.Background())
	ch.Start(context.Background())
	c.waitFor(t, 1)
	ch.Stop()
	ch.Stop()

	before := len(c.snapshot())
	time.Sleep(50 * time.Millisecond)
	if after := len(c.snapshot()); after != before {
		t.Fatalf("dispatch continued after Stop: %d -> %d", before, after)
	}
}
