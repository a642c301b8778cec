package api

import (
	"context"
	"encoding/json"
	"net/http"

	"stepline/internal/domain"
)

// AssignmentService covers the /Assignment REST surface. Assignments are
// work steps in the canonical model.
type AssignmentService struct {
	c *Client
}

func (s *AssignmentService) ListAll(ctx context.Context, tenantID string) ([]domain.WorkStep, error) {
	ids, err := s.c.listIDs(ctx, "Assignment/GetAll", tenantID)
	if err != nil {
		return nil, err
	}
	return resolveAll(ctx, ids, s.GetByID), nil
}

func (s *AssignmentService) GetByID(ctx context.Context, guid string) (domain.WorkStep, error) {
	var raw json.RawMessage
	if err := s.c.do(ctx, http.MethodGet, "Assignment/Get/"+guid, nil, nil, &raw); err != nil {
		return domain.WorkStep{}, err
	}
	return decodeWorkStep(raw)
}

// Create persists a new work step and returns the server-assigned
// identifier. Sequence number and priority are computed server-side and
// never sent, and the assignee starts out explicitly empty regardless of
// what the partial step carries.
func (s *AssignmentService) Create(ctx context.Context, step domain.WorkStep) (string, error) {
	return s.c.createID(ctx, "Assignment/Create", map[string]any{
		"DisplayName":         step.DisplayName,
		"Description":         nullable(step.Description),
		"Duration":            step.Duration,
		"AssigneeGuid":        nil,
		"RequiredRoleGuid":    nullable(step.RequiredRoleGuid),
		"Status":              int(step.Status),
		"ParentObjectiveGuid": step.ParentObjectiveGuid,
	})
}

func (s *AssignmentService) Delete(ctx context.Context, guid string) error {
	return s.c.do(ctx, http.MethodDelete, "Assignment/Delete/"+guid, nil, nil, nil)
}

func (s *AssignmentService) SetPriority(ctx context.Context, guid string, priority domain.Priority) error {
	return s.c.do(ctx, http.MethodPatch, "Assignment/SetPriority", nil, map[string]any{
		"Guid":     guid,
		"priority": int(priority),
	}, nil)
}

func (s *AssignmentService) SetStatus(ctx context.Context, guid string, status domain.StepStatus) error {
	return s.c.do(ctx, http.MethodPatch, "Assignment/SetStatus", nil, map[string]any{
		"Guid":             guid,
		"assignmentStatus": int(status),
	}, nil)
}
