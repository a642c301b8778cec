package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"stepline/internal/api"
	"stepline/internal/domain"
)

// fakeBackend serves the /Assignment surface over in-memory wire records so
// tests control exact field casing and failure behavior.
type fakeBackend struct {
	mu       sync.Mutex
	records  map[string]map[string]any
	order    []string
	failing  map[string]bool
	payloads []map[string]any
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		records: map[string]map[string]any{},
		failing: map[string]bool{},
	}
}

func (f *fakeBackend) add(record map[string]any) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	guid, _ := record["guid"].(string)
	if guid == "" {
		guid, _ = record["Guid"].(string)
	}
	if guid == "" {
		guid = uuid.New().String()
		record["guid"] = guid
	}
	f.records[guid] = record
	f.order = append(f.order, guid)
	return guid
}

func (f *fakeBackend) handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/Assignment/GetAll", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		ids := append([]string(nil), f.order...)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(ids)
	})
	r.Get("/Assignment/Get/{guid}", func(w http.ResponseWriter, req *http.Request) {
		guid := chi.URLParam(req, "guid")
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failing[guid] {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		record, ok := f.records[guid]
		if !ok {
			http.NotFound(w, req)
			return
		}
		json.NewEncoder(w).Encode(record)
	})
	r.Post("/Assignment/Create", func(w http.ResponseWriter, req *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.payloads = append(f.payloads, payload)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(uuid.New().String())
	})
	r.Patch("/Assignment/SetStatus", f.capturePatch)
	r.Patch("/Assignment/SetPriority", f.capturePatch)
	r.Delete("/Assignment/Delete/{guid}", func(w http.ResponseWriter, req *http.Request) {
		guid := chi.URLParam(req, "guid")
		f.mu.Lock()
		delete(f.records, guid)
		f.mu.Unlock()
	})
	return r
}

func (f *fakeBackend) capturePatch(w http.ResponseWriter, req *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.payloads = append(f.payloads, payload)
	f.mu.Unlock()
}

func (f *fakeBackend) lastPayload(t *testing.T) map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		t.Fatalf("no payload captured")
	}
	return f.payloads[len(f.payloads)-1]
}

func newTestClient(t *testing.T, backend *fakeBackend) *api.Client {
	t.Helper()
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)
	return api.New(srv.URL)
}

func stepRecord(guid string, seq int, status domain.StepStatus) map[string]any {
	return map[string]any{
		"guid":                guid,
		"displayName":         "step " + guid,
		"duration":            1,
		"sequenceNumber":      seq,
		"priority":            0,
		"status":              int(status),
		"parentObjectiveGuid": "wf-1",
	}
}

func TestListAllDropsFailedFetches(t *testing.T) {
	backend := newFakeBackend()
	backend.add(stepRecord("a", 1, domain.StatusPlanned))
	backend.add(stepRecord("b", 2, domain.StatusPlanned))
	backend.add(stepRecord("c", 3, domain.StatusPlanned))
	backend.failing["b"] = true
	c := newTestClient(t, backend)

	steps, err := c.Assignments.ListAll(context.Background(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[0].Guid != "a" || steps[1].Guid != "c" {
		t.Fatalf("unexpected order: %s, %s", steps[0].Guid, steps[1].Guid)
	}
}

func TestGetByIDDistinguishesAbsenceFromFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.add(stepRecord("a", 1, domain.StatusPlanned))
	backend.failing["broken"] = true
	backend.add(stepRecord("broken", 2, domain.StatusPlanned))
	c := newTestClient(t, backend)
	ctx := context.Background()

	if _, err := c.Assignments.GetByID(ctx, "a"); err != nil {
		t.Fatalf("get existing: %v", err)
	}
	_, err := c.Assignments.GetByID(ctx, "missing")
	if !api.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
	_, err = c.Assignments.GetByID(ctx, "broken")
	if err == nil || api.IsNotFound(err) {
		t.Fatalf("expected transient error distinct from not-found, got %v", err)
	}
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected APIError 500, got %v", err)
	}
}

func TestCreateOmitsServerOwnedFields(t *testing.T) {
	backend := newFakeBackend()
	c := newTestClient(t, backend)

	guid, err := c.Assignments.Create(context.Background(), domain.WorkStep{
		DisplayName:         "new step",
		Duration:            3,
		SequenceNumber:      99,
		AssigneeGuid:        "someone",
		Priority:            domain.PriorityLongTerm,
		Status:              domain.StatusPlanned,
		ParentObjectiveGuid: "wf-1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if guid == "" {
		t.Fatalf("expected server-assigned guid")
	}
	payload := backend.lastPayload(t)
	if _, ok := payload["SequenceNumber"]; ok {
		t.Fatalf("sequence number must not be sent")
	}
	if _, ok := payload["Priority"]; ok {
		t.Fatalf("priority must not be sent")
	}
	if v, ok := payload["AssigneeGuid"]; !ok || v != nil {
		t.Fatalf("assignee must be sent as explicit null, got %v", v)
	}
	if payload["ParentObjectiveGuid"] != "wf-1" {
		t.Fatalf("parent workflow missing from payload")
	}
}

func TestPatchPayloads(t *testing.T) {
	backend := newFakeBackend()
	c := newTestClient(t, backend)
	ctx := context.Background()

	if err := c.Assignments.SetStatus(ctx, "a", domain.StatusCompleted); err != nil {
		t.Fatalf("set status: %v", err)
	}
	payload := backend.lastPayload(t)
	if payload["Guid"] != "a" || payload["assignmentStatus"] != float64(domain.StatusCompleted) {
		t.Fatalf("unexpected status payload: %v", payload)
	}

	if err := c.Assignments.SetPriority(ctx, "a", domain.PriorityMidTerm); err != nil {
		t.Fatalf("set priority: %v", err)
	}
	payload = backend.lastPayload(t)
	if payload["Guid"] != "a" || payload["priority"] != float64(domain.PriorityMidTerm) {
		t.Fatalf("unexpected priority payload: %v", payload)
	}
}

func TestIsConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "duplicate", http.StatusConflict)
	}))
	defer srv.Close()
	c := api.New(srv.URL)

	_, err := c.Roles.Create(context.Background(), "Manager", true, "", "")
	if !api.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if api.IsNotFound(err) {
		t.Fatalf("conflict must not read as not-found")
	}
}
