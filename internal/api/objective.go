package api

import (
	"context"
	"encoding/json"
	"net/http"

	"stepline/internal/domain"
)

// ObjectiveService covers the /Objective REST surface. Objectives are
// workflows in the canonical model.
type ObjectiveService struct {
	c *Client
}

func (s *ObjectiveService) ListAll(ctx context.Context, tenantID string) ([]domain.Workflow, error) {
	ids, err := s.c.listIDs(ctx, "Objective/GetAll", tenantID)
	if err != nil {
		return nil, err
	}
	return resolveAll(ctx, ids, s.GetByID), nil
}

func (s *ObjectiveService) GetByID(ctx context.Context, guid string) (domain.Workflow, error) {
	var raw json.RawMessage
	if err := s.c.do(ctx, http.MethodGet, "Objective/Get/"+guid, nil, nil, &raw); err != nil {
		return domain.Workflow{}, err
	}
	return decodeWorkflow(raw)
}

func (s *ObjectiveService) Create(ctx context.Context, displayName, deadlineDate, description, tenantID string) (string, error) {
	return s.c.createID(ctx, "Objective/Create", map[string]any{
		"DisplayName":  displayName,
		"Description":  nullable(description),
		"DeadlineDate": deadlineDate,
		"TenantId":     nullable(tenantID),
	})
}

func (s *ObjectiveService) Delete(ctx context.Context, guid string) error {
	return s.c.do(ctx, http.MethodDelete, "Objective/Delete/"+guid, nil, nil, nil)
}
