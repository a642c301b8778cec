package provision_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"stepline/internal/api"
	"stepline/internal/domain"
	"stepline/internal/provision"
)

type fakeRoles struct {
	roles       []domain.Role
	createCalls int
	// conflictOnCreate makes Create fail 409 and inject the racing
	// winner's role, simulating another client provisioning concurrently.
	conflictOnCreate bool
}

func (f *fakeRoles) ListAll(ctx context.Context, tenantID string) ([]domain.Role, error) {
	return append([]domain.Role(nil), f.roles...), nil
}

func (f *fakeRoles) GetByID(ctx context.Context, guid string) (domain.Role, error) {
	for _, r := range f.roles {
		if r.Guid == guid {
			return r, nil
		}
	}
	return domain.Role{}, fmt.Errorf("role %s: not found", guid)
}

func (f *fakeRoles) Create(ctx context.Context, displayName string, isAdmin bool, description, tenantID string) (string, error) {
	f.createCalls++
	if f.conflictOnCreate {
		f.roles = append(f.roles, domain.Role{Guid: "raced", DisplayName: displayName, IsAdmin: isAdmin})
		return "", &api.APIError{StatusCode: 409, Body: "duplicate"}
	}
	guid := uuid.New().String()
	f.roles = append(f.roles, domain.Role{Guid: guid, DisplayName: displayName, IsAdmin: isAdmin, Description: description})
	return guid, nil
}

type fakeActors struct {
	actors  map[string]domain.Actor
	tenants map[string]string
}

func newFakeActors() *fakeActors {
	return &fakeActors{actors: map[string]domain.Actor{}, tenants: map[string]string{}}
}

func (f *fakeActors) ListAll(ctx context.Context, tenantID string) ([]domain.Actor, error) {
	out := make([]domain.Actor, 0, len(f.actors))
	for _, a := range f.actors {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeActors) GetByID(ctx context.Context, guid string) (domain.Actor, error) {
	a, ok := f.actors[guid]
	if !ok {
		return domain.Actor{}, fmt.Errorf("actor %s: not found", guid)
	}
	return a, nil
}

func (f *fakeActors) Create(ctx context.Context, displayName, roleGuid, tenantID string) (string, error) {
	guid := uuid.New().String()
	f.actors[guid] = domain.Actor{Guid: guid, DisplayName: displayName, Role: &domain.Role{Guid: roleGuid}}
	return guid, nil
}

func (f *fakeActors) SetTenantID(ctx context.Context, guid, tenantID string) error {
	a, ok := f.actors[guid]
	if !ok {
		return fmt.Errorf("actor %s: not found", guid)
	}
	a.TenantID = tenantID
	f.actors[guid] = a
	f.tenants[guid] = tenantID
	return nil
}

func TestEnsureManagerRoleCreatesWhenAbsent(t *testing.T) {
	roles := &fakeRoles{}
	b := provision.Bootstrapper{Roles: roles, Actors: newFakeActors()}

	role, err := b.EnsureManagerRole(context.Background())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if role.DisplayName != "Manager" || !role.IsAdmin {
		t.Fatalf("unexpected role: %+v", role)
	}

	// second run finds the existing role and does not create again
	if _, err := b.EnsureManagerRole(context.Background()); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if roles.createCalls != 1 {
		t.Fatalf("expected 1 create, got %d", roles.createCalls)
	}
}

func TestEnsureManagerRolePrefersNameThenAdmin(t *testing.T) {
	roles := &fakeRoles{roles: []domain.Role{
		{Guid: "r-admin", DisplayName: "Root", IsAdmin: true},
		{Guid: "r-name", DisplayName: "manager"},
	}}
	b := provision.Bootstrapper{Roles: roles, Actors: newFakeActors()}

	role, err := b.EnsureManagerRole(context.Background())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if role.Guid != "r-name" {
		t.Fatalf("name match should win over admin fallback, got %+v", role)
	}
}

func TestEnsureManagerRoleSurvivesCreateRace(t *testing.T) {
	roles := &fakeRoles{conflictOnCreate: true}
	b := provision.Bootstrapper{Roles: roles, Actors: newFakeActors()}

	role, err := b.EnsureManagerRole(context.Background())
	if err != nil {
		t.Fatalf("ensure after conflict: %v", err)
	}
	if role.Guid != "raced" {
		t.Fatalf("expected the racing winner's role, got %+v", role)
	}
}

func TestEnsureTenantCreatesSelfReferencingRoot(t *testing.T) {
	roles := &fakeRoles{}
	actors := newFakeActors()
	b := provision.Bootstrapper{Roles: roles, Actors: actors}

	tenant, err := b.EnsureTenant(context.Background(), "Demo Company")
	if err != nil {
		t.Fatalf("ensure tenant: %v", err)
	}
	if tenant.DisplayName != "Demo Company" {
		t.Fatalf("unexpected tenant: %+v", tenant)
	}
	if tenant.TenantID != tenant.Guid {
		t.Fatalf("tenant root must reference itself: %+v", tenant)
	}
	if !tenant.IsTenantRoot() {
		t.Fatalf("IsTenantRoot should hold for the provisioned root")
	}
	if got := actors.tenants[tenant.Guid]; got != tenant.Guid {
		t.Fatalf("self-reference not persisted: %q", got)
	}
}

func TestEnsureTenantIsIdempotent(t *testing.T) {
	b := provision.Bootstrapper{Roles: &fakeRoles{}, Actors: newFakeActors()}
	ctx := context.Background()

	first, err := b.EnsureTenant(ctx, "Demo Company")
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	second, err := b.EnsureTenant(ctx, "Demo Company")
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if first.Guid != second.Guid {
		t.Fatalf("re-running provisioning must reuse the tenant: %s vs %s", first.Guid, second.Guid)
	}
}
