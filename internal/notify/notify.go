// Package notify consumes the backend's entity-update channel. It prefers a
// server-sent event stream and falls back to interval polling when the
// endpoint does not speak streams. Delivery is at-least-once with no
// ordering guarantee; a notification is a hint to re-fetch, never the state
// itself.
package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// eventName is the update event emitted by the notify endpoint.
	eventName = "OnAssignmentUpdated"

	defaultRetryDelay   = 5 * time.Second
	defaultPollInterval = 2 * time.Second
)

// Listener receives the identifier of an entity that changed server-side.
type Listener func(guid string)

type subscription struct {
	id int
	fn Listener
}

// Channel maintains a single connection to the notify endpoint and fans
// incoming identifiers out to subscribers. It is constructed explicitly and
// started by its owner; Start on a running channel is a no-op.
type Channel struct {
	URL        string
	HTTPClient *http.Client

	// RetryDelay paces both the initial-connect retry loop and
	// reconnect-after-drop. Overridable in tests.
	RetryDelay   time.Duration
	PollInterval time.Duration

	mu      sync.Mutex
	subs    []subscription
	nextID  int
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a channel for the given notify endpoint URL.
func New(url string) *Channel {
	return &Channel{
		URL:          url,
		HTTPClient:   &http.Client{},
		RetryDelay:   defaultRetryDelay,
		PollInterval: defaultPollInterval,
	}
}

// Subscribe registers a listener and returns its registration id.
// Listeners are invoked synchronously in registration order.
func (ch *Channel) Subscribe(fn Listener) int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.nextID++
	ch.subs = append(ch.subs, subscription{id: ch.nextID, fn: fn})
	return ch.nextID
}

// Unsubscribe removes a registration. Other subscribers are unaffected.
func (ch *Channel) Unsubscribe(id int) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	kept := ch.subs[:0]
	for _, s := range ch.subs {
		if s.id != id {
			kept = append(kept, s)
		}
	}
	ch.subs = kept
}

// Start launches the consume loop. Connection establishment is not
// guaranteed to ever succeed; failures are retried on a fixed delay and the
// caller must not block on it.
func (ch *Channel) Start(ctx context.Context) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	ch.running = true
	ch.cancel = cancel
	ch.done = make(chan struct{})
	go ch.run(ctx)
}

// Stop tears the connection down and waits for the consume loop to exit.
func (ch *Channel) Stop() {
	ch.mu.Lock()
	if !ch.running {
		ch.mu.Unlock()
		return
	}
	cancel, done := ch.cancel, ch.done
	ch.running = false
	ch.mu.Unlock()
	cancel()
	<-done
}

func (ch *Channel) run(ctx context.Context) {
	defer close(ch.done)
	for {
		if err := ch.consume(ctx); err != nil && ctx.Err() == nil {
			log.Printf("notify: connection lost: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(ch.RetryDelay):
		}
	}
}

// consume opens the stream and dispatches until the connection drops. A
// non-stream response switches this connection attempt to polling mode.
func (ch *Channel) consume(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ch.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := ch.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("notify endpoint: status %d", resp.StatusCode)
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "text/event-stream" {
		resp.Body.Close()
		return ch.poll(ctx)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	event, data := "", ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data != "" && (event == "" || event == eventName) {
				ch.dispatch(strings.Trim(data, `"`))
			}
			event, data = "", ""
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// poll degrades to interval polling: each round returns the identifiers
// changed recently as a JSON array. Repeats across rounds are expected and
// harmless under at-least-once semantics.
func (ch *Channel) poll(ctx context.Context) error {
	ticker := time.NewTicker(ch.PollInterval)
	defer ticker.Stop()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ch.URL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		resp, err := ch.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("notify poll: status %d", resp.StatusCode)
		}
		var guids []string
		err = json.NewDecoder(resp.Body).Decode(&guids)
		resp.Body.Close()
		if err != nil {
			return err
		}
		for _, guid := range guids {
			ch.dispatch(guid)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (ch *Channel) dispatch(guid string) {
	if guid == "" {
		return
	}
	ch.mu.Lock()
	subs := make([]subscription, len(ch.subs))
	copy(subs, ch.subs)
	ch.mu.Unlock()
	for _, s := range subs {
		s.fn(guid)
	}
}
