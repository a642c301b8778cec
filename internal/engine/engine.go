// Package engine holds the client-side work step cache and keeps it
// consistent with the backend across create/delete/status-change operations
// and push-notification reconciliation. Authoritative state lives
// server-side; the local collection is a cache that may be momentarily stale
// between a notification and its reconciliation.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"

	"stepline/internal/domain"
)

// StepService is the slice of the repository client the engine depends on.
// Implemented by api.AssignmentService.
type StepService interface {
	ListAll(ctx context.Context, tenantID string) ([]domain.WorkStep, error)
	GetByID(ctx context.Context, guid string) (domain.WorkStep, error)
	Create(ctx context.Context, step domain.WorkStep) (string, error)
	Delete(ctx context.Context, guid string) error
	SetPriority(ctx context.Context, guid string, priority domain.Priority) error
	SetStatus(ctx context.Context, guid string, status domain.StepStatus) error
}

// WorkflowStats aggregates the steps of one workflow.
type WorkflowStats struct {
	Total     int     `json:"total"`
	Completed int     `json:"completed"`
	Duration  float64 `json:"duration"`
}

// Engine is the workflow progression engine. Steps are kept in arrival
// order, keyed by guid. Network calls happen outside the lock, so
// operations interleave at those points; the invariants hold after each
// operation settles, not across its suspension points.
type Engine struct {
	Steps StepService

	// Scope returns the current tenant scope for full loads; empty means
	// unscoped. Wired to the session by the caller.
	Scope func() string

	mu      sync.Mutex
	steps   []domain.WorkStep
	lastErr string
}

// New creates an engine over the given step service.
func New(svc StepService) *Engine {
	return &Engine{Steps: svc}
}

func (e *Engine) scope() string {
	if e.Scope == nil {
		return ""
	}
	return e.Scope()
}

func (e *Engine) recordErr(op string, err error) {
	e.mu.Lock()
	e.lastErr = fmt.Sprintf("%s: %v", op, err)
	e.mu.Unlock()
	log.Printf("engine: %s: %v", op, err)
}

// LastError returns the most recently recorded failure, empty if none.
func (e *Engine) LastError() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// LoadAll replaces the local collection with a fresh fetch. On total
// failure the prior state is left untouched and the error is recorded; this
// is the reconciliation fallback whenever local state is suspected stale.
func (e *Engine) LoadAll(ctx context.Context) error {
	fresh, err := e.Steps.ListAll(ctx, e.scope())
	if err != nil {
		e.recordErr("load work steps", err)
		return err
	}
	e.mu.Lock()
	e.steps = fresh
	e.lastErr = ""
	e.mu.Unlock()
	return nil
}

// Reconcile applies a push notification for one identifier by re-fetching
// authoritative state. If the fetch reports absence or failure the local
// entry is left untouched: the channel cannot tell "deleted" from
// "transient failure", so deletions are only reliably reflected by the next
// full LoadAll. Local-state stability wins over immediate consistency here.
func (e *Engine) Reconcile(ctx context.Context, guid string) error {
	step, err := e.Steps.GetByID(ctx, guid)
	if err != nil {
		log.Printf("engine: reconcile %s: %v", guid, err)
		return err
	}
	e.mu.Lock()
	e.upsertLocked(step)
	e.mu.Unlock()
	return nil
}

// upsertLocked replaces the entry with a matching guid in place, or appends
// a previously unseen one. Caller holds e.mu.
func (e *Engine) upsertLocked(step domain.WorkStep) {
	for i := range e.steps {
		if e.steps[i].Guid == step.Guid {
			e.steps[i] = step
			return
		}
	}
	e.steps = append(e.steps, step)
}

func (e *Engine) findLocked(guid string) (domain.WorkStep, bool) {
	for _, s := range e.steps {
		if s.Guid == guid {
			return s, true
		}
	}
	return domain.WorkStep{}, false
}

// Create persists a new step, reloads the collection, and enforces the
// single-active-step invariant for the step's workflow. Returns the
// server-assigned identifier.
func (e *Engine) Create(ctx context.Context, step domain.WorkStep) (string, error) {
	guid, err := e.Steps.Create(ctx, step)
	if err != nil {
		e.recordErr("create work step", err)
		return "", err
	}
	if err := e.LoadAll(ctx); err != nil {
		return guid, err
	}
	if err := e.EnsureInProgress(ctx, step.ParentObjectiveGuid); err != nil {
		return guid, err
	}
	return guid, nil
}

// Delete removes a step. If the deleted step had been the in-progress one
// for its workflow, a successor is promoted after the reload.
func (e *Engine) Delete(ctx context.Context, guid string) error {
	e.mu.Lock()
	prior, known := e.findLocked(guid)
	e.mu.Unlock()
	if err := e.Steps.Delete(ctx, guid); err != nil {
		e.recordErr("delete work step", err)
		return err
	}
	if err := e.LoadAll(ctx); err != nil {
		return err
	}
	if known && prior.Status == domain.StatusInProgress {
		return e.EnsureInProgress(ctx, prior.ParentObjectiveGuid)
	}
	return nil
}

// SetPriority persists the change remotely and edits the local entry
// directly for responsiveness. On failure the collection is reloaded to
// resynchronize with whatever the server actually holds.
func (e *Engine) SetPriority(ctx context.Context, guid string, priority domain.Priority) error {
	if err := e.Steps.SetPriority(ctx, guid, priority); err != nil {
		e.recordErr("set priority", err)
		e.LoadAll(ctx)
		return err
	}
	e.mu.Lock()
	if step, ok := e.findLocked(guid); ok {
		step.Priority = priority
		e.upsertLocked(step)
	}
	e.mu.Unlock()
	return nil
}

// SetStatus persists the change remotely and edits the local entry
// directly. Completion forces a full reload afterward: the server may
// promote a successor step as a side effect, which only a reload reveals.
// On failure the collection is reloaded to resynchronize.
func (e *Engine) SetStatus(ctx context.Context, guid string, status domain.StepStatus) error {
	if err := e.Steps.SetStatus(ctx, guid, status); err != nil {
		e.recordErr("set status", err)
		e.LoadAll(ctx)
		return err
	}
	e.mu.Lock()
	if step, ok := e.findLocked(guid); ok {
		step.Status = status
		e.upsertLocked(step)
	}
	e.mu.Unlock()
	if status == domain.StatusCompleted {
		return e.LoadAll(ctx)
	}
	return nil
}

// EnsureInProgress enforces the single-active-step invariant for one
// workflow: if no step is in progress, the planned step with the lowest
// sequence number is promoted (ties break by arrival order, first one
// wins). No-op when a step is already active, or when the workflow has no
// planned steps.
func (e *Engine) EnsureInProgress(ctx context.Context, workflowGuid string) error {
	e.mu.Lock()
	var candidate *domain.WorkStep
	for i := range e.steps {
		s := &e.steps[i]
		if s.ParentObjectiveGuid != workflowGuid {
			continue
		}
		if s.Status == domain.StatusInProgress {
			e.mu.Unlock()
			return nil
		}
		if s.Status != domain.StatusPlanned {
			continue
		}
		if candidate == nil || s.SequenceNumber < candidate.SequenceNumber {
			candidate = s
		}
	}
	if candidate == nil {
		e.mu.Unlock()
		return nil
	}
	guid := candidate.Guid
	e.mu.Unlock()

	if err := e.Steps.SetStatus(ctx, guid, domain.StatusInProgress); err != nil {
		e.recordErr("promote work step", err)
		e.LoadAll(ctx)
		return err
	}
	return e.LoadAll(ctx)
}

// Snapshot returns a copy of the current collection in arrival order.
func (e *Engine) Snapshot() []domain.WorkStep {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.WorkStep, len(e.steps))
	copy(out, e.steps)
	return out
}

// StepsByWorkflow returns the cached steps belonging to one workflow.
func (e *Engine) StepsByWorkflow(workflowGuid string) []domain.WorkStep {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.WorkStep
	for _, s := range e.steps {
		if s.ParentObjectiveGuid == workflowGuid {
			out = append(out, s)
		}
	}
	return out
}

// Stats recomputes the aggregate view for one workflow from current state.
func (e *Engine) Stats(workflowGuid string) WorkflowStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	var st WorkflowStats
	for _, s := range e.steps {
		if s.ParentObjectiveGuid != workflowGuid {
			continue
		}
		st.Total++
		st.Duration += s.Duration
		if s.Status == domain.StatusCompleted {
			st.Completed++
		}
	}
	return st
}
