package testutil

import (
	"context"
	"sync"

	"github.com/elementojuris/billing/internal/types"
	"github.com/samber/lo"
)

type tenantRecord struct {
	adminEmails  []string
	activeUsers  int64
	clients      map[string]bool // id -> soft deleted
	storageBytes int64
}

// InMemoryTenantStore implements tenant.Directory and tenant.UsageCounter.
type InMemoryTenantStore struct {
	mu      sync.RWMutex
	tenants map[string]*tenantRecord
}

// NewInMemoryTenantStore creates an empty tenant store
func NewInMemoryTenantStore() *InMemoryTenantStore {
	return &InMemoryTenantStore{tenants: make(map[string]*tenantRecord)}
}

// AddTenant registers a tenant with its admin emails.
func (s *InMemoryTenantStore) AddTenant(tenantID string, adminEmails ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[tenantID] = &tenantRecord{
		adminEmails: lo.Uniq(adminEmails),
		clients:     make(map[string]bool),
	}
}

// SetActiveUsers overrides the active user count.
func (s *InMemoryTenantStore) SetActiveUsers(tenantID string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tenants[tenantID]; ok {
		t.activeUsers = n
	}
}

// AddClient creates an active client and returns its id.
func (s *InMemoryTenantStore) AddClient(tenantID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := types.GenerateUUID()
	if t, ok := s.tenants[tenantID]; ok {
		t.clients[id] = false
	}
	return id
}

// SoftDeleteClient flags a client deleted; it no longer counts.
func (s *InMemoryTenantStore) SoftDeleteClient(tenantID, clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tenants[tenantID]; ok {
		if _, exists := t.clients[clientID]; exists {
			t.clients[clientID] = true
		}
	}
}

// SetStorageUsed overrides the stored document bytes.
func (s *InMemoryTenantStore) SetStorageUsed(tenantID string, bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tenants[tenantID]; ok {
		t.storageBytes = bytes
	}
}

func (s *InMemoryTenantStore) Exists(_ context.Context, tenantID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tenants[tenantID]
	return ok, nil
}

func (s *InMemoryTenantStore) AdminEmails(_ context.Context, tenantID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tenants[tenantID]; ok {
		return append([]string(nil), t.adminEmails...), nil
	}
	return nil, nil
}

func (s *InMemoryTenantStore) CountActiveUsers(_ context.Context, tenantID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tenants[tenantID]; ok {
		return t.activeUsers, nil
	}
	return 0, nil
}

func (s *InMemoryTenantStore) CountActiveClients(_ context.Context, tenantID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return 0, nil
	}
	return int64(lo.CountBy(lo.Values(t.clients), func(deleted bool) bool { return !deleted })), nil
}

func (s *InMemoryTenantStore) StorageUsedBytes(_ context.Context, tenantID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tenants[tenantID]; ok {
		return t.storageBytes, nil
	}
	return 0, nil
}
