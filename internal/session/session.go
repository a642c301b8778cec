// Package session tracks the current actor and tenant scope. A tenant has
// no resource of its own: it is an actor whose tenant id points back at its
// own guid, and every scoped query elsewhere uses that guid.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"stepline/internal/domain"
)

// Storage keys for the persisted identifiers. These survive process
// restarts and are the only durable client-side state.
const (
	KeyActor  = "currentActorGuid"
	KeyTenant = "currentTenantGuid"
)

// ErrNoSession marks a restore attempt with nothing stored.
var ErrNoSession = errors.New("no stored session")

// Store persists the two session identifiers across restarts.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

// ActorGetter is the slice of the repository client the session needs.
type ActorGetter interface {
	GetByID(ctx context.Context, guid string) (domain.Actor, error)
}

// Session holds the identity context. Zero or both of actor and tenant are
// set; Login establishes both together.
type Session struct {
	Actors ActorGetter
	Store  Store

	mu     sync.Mutex
	actor  *domain.Actor
	tenant *domain.Actor
}

// New creates a session over the given actor service and store.
func New(actors ActorGetter, store Store) *Session {
	return &Session{Actors: actors, Store: store}
}

// CurrentActor returns the logged-in actor, nil when logged out.
func (s *Session) CurrentActor() *domain.Actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actor
}

// CurrentTenant returns the active tenant root, nil when logged out.
func (s *Session) CurrentTenant() *domain.Actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tenant
}

// TenantScope returns the guid scoping all workflow and step queries, empty
// when no tenant is active.
func (s *Session) TenantScope() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tenant == nil {
		return ""
	}
	return s.tenant.Guid
}

// Login sets actor and tenant and persists their identifiers.
func (s *Session) Login(actor, tenant domain.Actor) error {
	if err := s.Store.Set(KeyActor, actor.Guid); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	if err := s.Store.Set(KeyTenant, tenant.Guid); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	s.mu.Lock()
	s.actor, s.tenant = &actor, &tenant
	s.mu.Unlock()
	return nil
}

// Logout clears the in-memory context and the stored identifiers.
func (s *Session) Logout() {
	s.mu.Lock()
	s.actor, s.tenant = nil, nil
	s.mu.Unlock()
	_ = s.Store.Delete(KeyActor)
	_ = s.Store.Delete(KeyTenant)
}

// Restore re-hydrates the session from stored identifiers by re-fetching
// both entities. Any fetch failure or absence forces a logout so stale
// identifiers do not linger in storage.
func (s *Session) Restore(ctx context.Context) error {
	actorGuid, okA := s.Store.Get(KeyActor)
	tenantGuid, okT := s.Store.Get(KeyTenant)
	if !okA || !okT {
		return ErrNoSession
	}
	actor, err := s.Actors.GetByID(ctx, actorGuid)
	if err != nil {
		s.Logout()
		return fmt.Errorf("restore session actor: %w", err)
	}
	tenant, err := s.Actors.GetByID(ctx, tenantGuid)
	if err != nil {
		s.Logout()
		return fmt.Errorf("restore session tenant: %w", err)
	}
	s.mu.Lock()
	s.actor, s.tenant = &actor, &tenant
	s.mu.Unlock()
	return nil
}

// Managers filters actors usable as tenant roots: admins, or holders of a
// role whose name contains "manager". The backend has no tenant resource,
// so these actors stand in for tenants during selection.
func Managers(actors []domain.Actor) []domain.Actor {
	var out []domain.Actor
	for _, a := range actors {
		if a.Role == nil {
			continue
		}
		if a.Role.IsAdmin || strings.Contains(strings.ToLower(a.Role.DisplayName), "manager") {
			out = append(out, a)
		}
	}
	return out
}
