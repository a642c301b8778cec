package domain

import "fmt"

// Priority buckets a work step by planning horizon.
type Priority int

const (
	PriorityShortTerm Priority = iota
	PriorityMidTerm
	PriorityLongTerm
)

// PriorityFromCode converts a raw backend code to a Priority.
func PriorityFromCode(code int) (Priority, error) {
	if code < int(PriorityShortTerm) || code > int(PriorityLongTerm) {
		return 0, fmt.Errorf("unknown priority code %d", code)
	}
	return Priority(code), nil
}

func (p Priority) String() string {
	switch p {
	case PriorityShortTerm:
		return "short-term"
	case PriorityMidTerm:
		return "mid-term"
	case PriorityLongTerm:
		return "long-term"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// StepStatus is the work step state machine: planned -> in_progress -> completed.
type StepStatus int

const (
	StatusPlanned StepStatus = iota
	StatusInProgress
	StatusCompleted
)

// StepStatusFromCode converts a raw backend code to a StepStatus.
func StepStatusFromCode(code int) (StepStatus, error) {
	if code < int(StatusPlanned) || code > int(StatusCompleted) {
		return 0, fmt.Errorf("unknown status code %d", code)
	}
	return StepStatus(code), nil
}

func (s StepStatus) String() string {
	switch s {
	case StatusPlanned:
		return "planned"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Role grants capabilities to actors. Admin roles double as manager roles
// for tenant selection.
type Role struct {
	Guid        string `json:"guid"`
	DisplayName string `json:"displayName"`
	Description string `json:"description,omitempty"`
	IsAdmin     bool   `json:"isAdmin"`
	TenantID    string `json:"tenantId,omitempty"`
}

// Actor is a system participant. A tenant root is an actor whose TenantID
// equals its own Guid.
type Actor struct {
	Guid        string `json:"guid"`
	DisplayName string `json:"displayName"`
	Role        *Role  `json:"role,omitempty"`
	TenantID    string `json:"tenantId,omitempty"`
}

// IsTenantRoot reports whether the actor is the self-referential root of a
// tenant scope.
func (a Actor) IsTenantRoot() bool {
	return a.TenantID != "" && a.TenantID == a.Guid
}

// Workflow is a goal-level container with a deadline, owning zero or more
// work steps.
type Workflow struct {
	Guid         string `json:"guid"`
	DisplayName  string `json:"displayName"`
	Description  string `json:"description,omitempty"`
	DeadlineDate string `json:"deadlineDate"`
	TenantID     string `json:"tenantId,omitempty"`
}

// WorkStep is an ordered unit of work within a workflow. The sequence number
// defines intra-workflow ordering and is assigned server-side; it is not
// guaranteed contiguous. ParentObjectiveGuid is immutable after creation.
type WorkStep struct {
	Guid                string     `json:"guid"`
	DisplayName         string     `json:"displayName"`
	Description         string     `json:"description,omitempty"`
	Duration            float64    `json:"duration"`
	SequenceNumber      int        `json:"sequenceNumber"`
	AssigneeGuid        string     `json:"assigneeGuid,omitempty"`
	RequiredRoleGuid    string     `json:"requiredRoleGuid,omitempty"`
	Priority            Priority   `json:"priority"`
	Status              StepStatus `json:"status"`
	ParentObjectiveGuid string     `json:"parentObjectiveGuid"`
}
