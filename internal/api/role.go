package api

import (
	"context"
	"encoding/json"
	"net/http"

	"stepline/internal/domain"
)

// RoleService covers the /Role REST surface.
type RoleService struct {
	c *Client
}

func (s *RoleService) ListAll(ctx context.Context, tenantID string) ([]domain.Role, error) {
	ids, err := s.c.listIDs(ctx, "Role/GetAll", tenantID)
	if err != nil {
		return nil, err
	}
	return resolveAll(ctx, ids, s.GetByID), nil
}

func (s *RoleService) GetByID(ctx context.Context, guid string) (domain.Role, error) {
	var raw json.RawMessage
	if err := s.c.do(ctx, http.MethodGet, "Role/Get/"+guid, nil, nil, &raw); err != nil {
		return domain.Role{}, err
	}
	return decodeRole(raw)
}

func (s *RoleService) Create(ctx context.Context, displayName string, isAdmin bool, description, tenantID string) (string, error) {
	return s.c.createID(ctx, "Role/Create", map[string]any{
		"DisplayName": displayName,
		"IsAdmin":     isAdmin,
		"Description": nullable(description),
		"TenantId":    nullable(tenantID),
	})
}

func (s *RoleService) Delete(ctx context.Context, guid string) error {
	return s.c.do(ctx, http.MethodDelete, "Role/Delete/"+guid, nil, nil, nil)
}
