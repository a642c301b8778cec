// Package provision bootstraps the role and tenant-root entities a fresh
// backend needs before anyone can log in.
package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"stepline/internal/api"
	"stepline/internal/domain"
)

const (
	managerRoleName = "Manager"
	managerRoleDesc = "System manager role"
)

// RoleAPI and ActorAPI are the client slices the bootstrapper needs.
type RoleAPI interface {
	ListAll(ctx context.Context, tenantID string) ([]domain.Role, error)
	GetByID(ctx context.Context, guid string) (domain.Role, error)
	Create(ctx context.Context, displayName string, isAdmin bool, description, tenantID string) (string, error)
}

type ActorAPI interface {
	ListAll(ctx context.Context, tenantID string) ([]domain.Actor, error)
	GetByID(ctx context.Context, guid string) (domain.Actor, error)
	Create(ctx context.Context, displayName, roleGuid, tenantID string) (string, error)
	SetTenantID(ctx context.Context, guid, tenantID string) error
}

// Bootstrapper provisions the manager role and a tenant-root actor.
type Bootstrapper struct {
	Roles  RoleAPI
	Actors ActorAPI
}

// EnsureManagerRole returns an existing manager/admin role, creating one if
// the backend has none. A 409 on create means another client won the race;
// the conflicting role is re-queried instead of failing.
func (b Bootstrapper) EnsureManagerRole(ctx context.Context) (domain.Role, error) {
	roles, err := b.Roles.ListAll(ctx, "")
	if err != nil {
		return domain.Role{}, fmt.Errorf("list roles: %w", err)
	}
	if role, ok := findManagerRole(roles); ok {
		return role, nil
	}
	guid, err := b.Roles.Create(ctx, managerRoleName, true, managerRoleDesc, "")
	if err != nil {
		if !api.IsConflict(err) {
			return domain.Role{}, fmt.Errorf("create manager role: %w", err)
		}
		roles, err = b.Roles.ListAll(ctx, "")
		if err != nil {
			return domain.Role{}, fmt.Errorf("re-list roles after conflict: %w", err)
		}
		if role, ok := findManagerRole(roles); ok {
			return role, nil
		}
		return domain.Role{}, errors.New("manager role conflicted on create but cannot be found")
	}
	return b.Roles.GetByID(ctx, guid)
}

func findManagerRole(roles []domain.Role) (domain.Role, bool) {
	for _, r := range roles {
		if strings.EqualFold(r.DisplayName, managerRoleName) {
			return r, true
		}
	}
	for _, r := range roles {
		if r.IsAdmin {
			return r, true
		}
	}
	return domain.Role{}, false
}

// EnsureTenant returns the tenant-root actor with the given display name,
// creating it if absent. A new tenant root gets the manager role and its
// tenant id set to its own guid, the self-reference that marks the root of
// a scoping boundary.
func (b Bootstrapper) EnsureTenant(ctx context.Context, displayName string) (domain.Actor, error) {
	role, err := b.EnsureManagerRole(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	actors, err := b.Actors.ListAll(ctx, "")
	if err != nil {
		return domain.Actor{}, fmt.Errorf("list actors: %w", err)
	}
	for _, a := range actors {
		if a.DisplayName == displayName {
			return a, nil
		}
	}
	guid, err := b.Actors.Create(ctx, displayName, role.Guid, "")
	if err != nil {
		return domain.Actor{}, fmt.Errorf("create tenant actor: %w", err)
	}
	if err := b.Actors.SetTenantID(ctx, guid, guid); err != nil {
		return domain.Actor{}, fmt.Errorf("self-reference tenant actor: %w", err)
	}
	return b.Actors.GetByID(ctx, guid)
}
