package api

import (
	"context"
	"encoding/json"
	"net/http"

	"stepline/internal/domain"
)

// ActorService covers the /Actor REST surface.
type ActorService struct {
	c *Client
}

// ListAll resolves every actor visible in the tenant scope. Details that
// fail to fetch are dropped from the result.
func (s *ActorService) ListAll(ctx context.Context, tenantID string) ([]domain.Actor, error) {
	ids, err := s.c.listIDs(ctx, "Actor/GetAll", tenantID)
	if err != nil {
		return nil, err
	}
	return resolveAll(ctx, ids, s.GetByID), nil
}

// GetByID fetches a single actor. Absence surfaces as ErrNotFound, distinct
// from transient failure.
func (s *ActorService) GetByID(ctx context.Context, guid string) (domain.Actor, error) {
	var raw json.RawMessage
	if err := s.c.do(ctx, http.MethodGet, "Actor/Get/"+guid, nil, nil, &raw); err != nil {
		return domain.Actor{}, err
	}
	return decodeActor(raw)
}

// Create registers an actor and returns the server-assigned identifier.
func (s *ActorService) Create(ctx context.Context, displayName, roleGuid, tenantID string) (string, error) {
	return s.c.createID(ctx, "Actor/Create", map[string]any{
		"DisplayName": displayName,
		"RoleGuid":    nullable(roleGuid),
		"TenantId":    nullable(tenantID),
	})
}

func (s *ActorService) Delete(ctx context.Context, guid string) error {
	return s.c.do(ctx, http.MethodDelete, "Actor/Delete/"+guid, nil, nil, nil)
}

// SetTenantID moves an actor into a tenant scope. Setting an actor's tenant
// to its own guid makes it a tenant root.
func (s *ActorService) SetTenantID(ctx context.Context, guid, tenantID string) error {
	return s.c.do(ctx, http.MethodPatch, "Actor/SetTenantId", nil, map[string]any{
		"Guid":     guid,
		"TenantId": tenantID,
	}, nil)
}
