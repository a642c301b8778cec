package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrNotFound marks a 404 from the backend: the entity does not exist (or no
// longer exists). Transient failures surface as *APIError or transport errors
// so callers can tell the two apart.
var ErrNotFound = errors.New("entity not found")

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err means the entity is absent server-side.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is a 409 duplicate-creation conflict.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// Client is the base HTTP client for the workflow-tracking backend. The
// entity services hang off it so one constructed client covers the whole
// REST surface.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration

	Actors      *ActorService
	Roles       *RoleService
	Objectives  *ObjectiveService
	Assignments *AssignmentService
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	c := &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
	c.Actors = &ActorService{c: c}
	c.Roles = &RoleService{c: c}
	c.Objectives = &ObjectiveService{c: c}
	c.Assignments = &AssignmentService{c: c}
	return c
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, endpoint, ErrNotFound)
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func tenantQuery(tenantID string) url.Values {
	if tenantID == "" {
		return nil
	}
	return url.Values{"tenantId": {tenantID}}
}

// listIDs fetches the identifier list half of a GetAll call.
func (c *Client) listIDs(ctx context.Context, endpoint, tenantID string) ([]string, error) {
	var ids []string
	if err := c.do(ctx, http.MethodGet, endpoint, tenantQuery(tenantID), nil, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// createID posts a create payload and decodes the server-assigned identifier.
func (c *Client) createID(ctx context.Context, endpoint string, payload any) (string, error) {
	var id string
	if err := c.do(ctx, http.MethodPost, endpoint, nil, payload, &id); err != nil {
		return "", err
	}
	return id, nil
}

// resolveAll fans out one detail fetch per identifier and collects the
// successes in id-list order. The backend only returns identifier lists from
// GetAll, so every listing pays this N+1 cost; a failed or vanished detail
// fetch drops out of the result silently rather than failing the listing.
func resolveAll[T any](ctx context.Context, ids []string, fetch func(context.Context, string) (T, error)) []T {
	type slot struct {
		v  T
		ok bool
	}
	slots := make([]slot, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			v, err := fetch(ctx, id)
			if err != nil {
				return
			}
			slots[i] = slot{v: v, ok: true}
		}(i, id)
	}
	wg.Wait()
	out := make([]T, 0, len(ids))
	for _, s := range slots {
		if s.ok {
			out = append(out, s.v)
		}
	}
	return out
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
