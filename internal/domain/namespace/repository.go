package namespace

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/turtacn/WAL-Service/pkg/errors"
)

// Store is the namespace policy persistence contract. The production
// implementation lives in internal/infrastructure/database/postgres; the
// in-memory implementation below serves tests and seeded development runs.
type Store interface {
	// GetByName returns the namespace named name, or CodeNamespaceNotFound.
	GetByName(ctx context.Context, name string) (*Namespace, error)

	// List returns all namespaces ordered by name.
	List(ctx context.Context) ([]*Namespace, error)

	// Upsert creates or replaces a namespace record.
	Upsert(ctx context.Context, ns *Namespace) error

	// Delete removes a namespace record. Deleting an absent name is not an
	// error.
	Delete(ctx context.Context, name string) error
}

// InMemoryStore is a mutex-guarded map-backed Store.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]*Namespace
}

// NewInMemoryStore returns an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]*Namespace)}
}

// NewSeededStore returns an in-memory store pre-populated with the given
// namespaces.
func NewSeededStore(namespaces ...*Namespace) *InMemoryStore {
	s := NewInMemoryStore()
	for _, ns := range namespaces {
		s.data[strings.ToLower(ns.Name)] = ns
	}
	return s
}

func (s *InMemoryStore) GetByName(_ context.Context, name string) (*Namespace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.data[strings.ToLower(name)]
	if !ok {
		return nil, errors.NamespaceNotFound(name)
	}
	clone := *ns
	return &clone, nil
}

func (s *InMemoryStore) List(_ context.Context) ([]*Namespace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Namespace, 0, len(s.data))
	for _, ns := range s.data {
		clone := *ns
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemoryStore) Upsert(_ context.Context, ns *Namespace) error {
	if ns == nil || ns.Name == "" {
		return errors.Validation("namespace name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *ns
	clone.Name = strings.ToLower(ns.Name)
	s.data[clone.Name] = &clone
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, strings.ToLower(name))
	return nil
}
