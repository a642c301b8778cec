package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"stepline/internal/domain"
)

// The backend serializes inconsistently across endpoints: some emit
// PascalCase field names, some camelCase, some a mix. Decoding goes through
// an explicit alias list per field, camelCase first with PascalCase as the
// fallback, and the first non-empty value wins.

// ErrMalformedRecord marks a wire record that cannot be normalized into a
// canonical entity.
var ErrMalformedRecord = errors.New("malformed wire record")

// unknownName is the sentinel display name for records missing one.
const unknownName = "Unknown"

type wireRecord map[string]json.RawMessage

func decodeWireRecord(data []byte) (wireRecord, error) {
	var r wireRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if r == nil {
		return nil, fmt.Errorf("%w: null record", ErrMalformedRecord)
	}
	return r, nil
}

func (r wireRecord) str(aliases ...string) string {
	for _, key := range aliases {
		raw, ok := r[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		if s != "" {
			return s
		}
	}
	return ""
}

func (r wireRecord) num(aliases ...string) (float64, bool) {
	for _, key := range aliases {
		raw, ok := r[key]
		if !ok {
			continue
		}
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		return f, true
	}
	return 0, false
}

func (r wireRecord) boolean(aliases ...string) bool {
	for _, key := range aliases {
		raw, ok := r[key]
		if !ok {
			continue
		}
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			continue
		}
		if b {
			return true
		}
	}
	return false
}

func (r wireRecord) nested(aliases ...string) (json.RawMessage, bool) {
	for _, key := range aliases {
		raw, ok := r[key]
		if !ok {
			continue
		}
		if string(raw) == "null" {
			continue
		}
		return raw, true
	}
	return nil, false
}

func (r wireRecord) guid() (string, error) {
	g := r.str("guid", "Guid")
	if g == "" {
		return "", fmt.Errorf("%w: missing guid", ErrMalformedRecord)
	}
	return g, nil
}

func (r wireRecord) name() string {
	if n := r.str("displayName", "DisplayName"); n != "" {
		return n
	}
	return unknownName
}

func decodeRole(data []byte) (domain.Role, error) {
	r, err := decodeWireRecord(data)
	if err != nil {
		return domain.Role{}, fmt.Errorf("role: %w", err)
	}
	guid, err := r.guid()
	if err != nil {
		return domain.Role{}, fmt.Errorf("role: %w", err)
	}
	return domain.Role{
		Guid:        guid,
		DisplayName: r.name(),
		Description: r.str("description", "Description"),
		IsAdmin:     r.boolean("isAdmin", "IsAdmin"),
		TenantID:    r.str("tenantId", "TenantId"),
	}, nil
}

func decodeActor(data []byte) (domain.Actor, error) {
	r, err := decodeWireRecord(data)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("actor: %w", err)
	}
	guid, err := r.guid()
	if err != nil {
		return domain.Actor{}, fmt.Errorf("actor: %w", err)
	}
	a := domain.Actor{
		Guid:        guid,
		DisplayName: r.name(),
		TenantID:    r.str("tenantId", "TenantId"),
	}
	if raw, ok := r.nested("role", "Role"); ok {
		role, err := decodeRole(raw)
		if err != nil {
			return domain.Actor{}, fmt.Errorf("actor %s: %w", guid, err)
		}
		a.Role = &role
	}
	return a, nil
}

func decodeWorkflow(data []byte) (domain.Workflow, error) {
	r, err := decodeWireRecord(data)
	if err != nil {
		return domain.Workflow{}, fmt.Errorf("objective: %w", err)
	}
	guid, err := r.guid()
	if err != nil {
		return domain.Workflow{}, fmt.Errorf("objective: %w", err)
	}
	return domain.Workflow{
		Guid:         guid,
		DisplayName:  r.name(),
		Description:  r.str("description", "Description"),
		DeadlineDate: r.str("deadlineDate", "DeadlineDate"),
		TenantID:     r.str("tenantId", "TenantId"),
	}, nil
}

func decodeWorkStep(data []byte) (domain.WorkStep, error) {
	r, err := decodeWireRecord(data)
	if err != nil {
		return domain.WorkStep{}, fmt.Errorf("assignment: %w", err)
	}
	guid, err := r.guid()
	if err != nil {
		return domain.WorkStep{}, fmt.Errorf("assignment: %w", err)
	}
	duration, _ := r.num("duration", "Duration")
	seq, _ := r.num("sequenceNumber", "SequenceNumber")
	prioCode, _ := r.num("priority", "Priority")
	statusCode, _ := r.num("status", "Status")
	prio, err := domain.PriorityFromCode(int(prioCode))
	if err != nil {
		return domain.WorkStep{}, fmt.Errorf("assignment %s: %w: %v", guid, ErrMalformedRecord, err)
	}
	status, err := domain.StepStatusFromCode(int(statusCode))
	if err != nil {
		return domain.WorkStep{}, fmt.Errorf("assignment %s: %w: %v", guid, ErrMalformedRecord, err)
	}
	return domain.WorkStep{
		Guid:                guid,
		DisplayName:         r.name(),
		Description:         r.str("description", "Description"),
		Duration:            duration,
		SequenceNumber:      int(seq),
		AssigneeGuid:        r.str("assigneeGuid", "AssigneeGuid"),
		RequiredRoleGuid:    r.str("requiredRoleGuid", "RequiredRoleGuid"),
		Priority:            prio,
		Status:              status,
		ParentObjectiveGuid: r.str("parentObjectiveGuid", "ParentObjectiveGuid"),
	}, nil
}
