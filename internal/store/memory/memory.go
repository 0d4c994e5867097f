// Package memory provides an in-memory store used for tests and for
// running the bridge without Postgres.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mailhook/mailhook/internal/hook"
	"github.com/mailhook/mailhook/internal/store"
)

// Store keeps hooks, domains and delivery attempts in process memory.
// It implements the same interfaces as the Postgres store.
type Store struct {
	mu         sync.RWMutex
	hooks      map[string]hook.Hook // by id
	domains    map[string]hook.Domain
	deliveries []hook.LoggedAttempt
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		hooks:   make(map[string]hook.Hook),
		domains: make(map[string]hook.Domain),
	}
}

// FindByEmail implements hook.Registry.
func (s *Store) FindByEmail(_ context.Context, address string) (*hook.Hook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	address = strings.ToLower(address)
	for _, h := range s.hooks {
		if h.Email == address {
			copied := h
			return &copied, nil
		}
	}
	return nil, hook.ErrNotFound
}

// Append implements hook.DeliveryLog.
func (s *Store) Append(_ context.Context, attempt hook.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deliveries = append(s.deliveries, hook.LoggedAttempt{
		DeliveryAttempt: attempt,
		ID:              uuid.NewString(),
		CreatedAt:       time.Now().UTC(),
	})
	return nil
}

// ListDeliveries returns the most recent delivery attempts, newest first.
func (s *Store) ListDeliveries(_ context.Context, limit int) ([]hook.LoggedAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	n := len(s.deliveries)
	if limit > n {
		limit = n
	}
	out := make([]hook.LoggedAttempt, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.deliveries[i])
	}
	return out, nil
}

// CreateHook registers a new hook with a lowercased email key.
func (s *Store) CreateHook(_ context.Context, h hook.Hook) (hook.Hook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h.Email = strings.ToLower(strings.TrimSpace(h.Email))
	for _, existing := range s.hooks {
		if existing.Email == h.Email {
			return hook.Hook{}, store.ErrDuplicate
		}
	}
	h.ID = uuid.NewString()
	s.hooks[h.ID] = h
	return h, nil
}

// GetHook fetches one hook by id.
func (s *Store) GetHook(_ context.Context, id string) (hook.Hook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.hooks[id]
	if !ok {
		return hook.Hook{}, hook.ErrNotFound
	}
	return h, nil
}

// ListHooks returns all registered hooks ordered by email.
func (s *Store) ListHooks(_ context.Context) ([]hook.Hook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hooks := make([]hook.Hook, 0, len(s.hooks))
	for _, h := range s.hooks {
		hooks = append(hooks, h)
	}
	sort.Slice(hooks, func(i, j int) bool { return hooks[i].Email < hooks[j].Email })
	return hooks, nil
}

// UpdateHook overwrites a hook's target, secret and enabled flag.
func (s *Store) UpdateHook(_ context.Context, h hook.Hook) (hook.Hook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.hooks[h.ID]
	if !ok {
		return hook.Hook{}, hook.ErrNotFound
	}
	h.Email = strings.ToLower(strings.TrimSpace(h.Email))
	for id, other := range s.hooks {
		if id != h.ID && other.Email == h.Email {
			return hook.Hook{}, store.ErrDuplicate
		}
	}
	existing.Email = h.Email
	existing.WebhookURL = h.WebhookURL
	existing.WebhookSecret = h.WebhookSecret
	existing.IsEnabled = h.IsEnabled
	s.hooks[h.ID] = existing
	return existing, nil
}

// DeleteHook removes a hook by id.
func (s *Store) DeleteHook(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.hooks[id]; !ok {
		return hook.ErrNotFound
	}
	delete(s.hooks, id)
	return nil
}

// CreateDomain registers a custom mail domain, initially unverified.
func (s *Store) CreateDomain(_ context.Context, name string) (hook.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name = strings.ToLower(strings.TrimSpace(name))
	for _, d := range s.domains {
		if d.Name == name {
			return hook.Domain{}, store.ErrDuplicate
		}
	}
	d := hook.Domain{ID: uuid.NewString(), Name: name}
	s.domains[d.ID] = d
	return d, nil
}

// ListDomains returns all registered custom domains ordered by name.
func (s *Store) ListDomains(_ context.Context) ([]hook.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	domains := make([]hook.Domain, 0, len(s.domains))
	for _, d := range s.domains {
		domains = append(domains, d)
	}
	sort.Slice(domains, func(i, j int) bool { return domains[i].Name < domains[j].Name })
	return domains, nil
}

// VerifyDomain marks a domain as verified.
func (s *Store) VerifyDomain(_ context.Context, id string) (hook.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.domains[id]
	if !ok {
		return hook.Domain{}, store.ErrDomainNotFound
	}
	d.Verified = true
	s.domains[id] = d
	return d, nil
}

// DeleteDomain removes a domain by id.
func (s *Store) DeleteDomain(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.domains[id]; !ok {
		return store.ErrDomainNotFound
	}
	delete(s.domains, id)
	return nil
}

// VerifiedDomains implements hook.VerifiedDomainSource.
func (s *Store) VerifiedDomains(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for _, d := range s.domains {
		if d.Verified {
			names = append(names, d.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}
