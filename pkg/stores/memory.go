package stores

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/greentic-ai/greentic-provision/pkg/provision"
)

// InMemoryConfigStore holds config entries per namespace in process
// memory. Used by tests and the CLI's noop path.
type InMemoryConfigStore struct {
	mu   sync.Mutex
	data map[string]map[string]json.RawMessage
}

// NewInMemoryConfigStore returns an empty config store.
func NewInMemoryConfigStore() *InMemoryConfigStore {
	return &InMemoryConfigStore{data: make(map[string]map[string]json.RawMessage)}
}

func (s *InMemoryConfigStore) ApplyPatch(ctx context.Context, namespace string, patch *provision.OrderedStringMap[json.RawMessage]) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.data[namespace]
	if !ok {
		ns = make(map[string]json.RawMessage)
		s.data[namespace] = ns
	}

	var changed []string
	patch.Range(func(key string, value json.RawMessage) {
		ns[key] = value
		changed = append(changed, key)
	})
	return changed, nil
}

func (s *InMemoryConfigStore) ReadNamespace(ctx context.Context, namespace string) (map[string]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]json.RawMessage)
	for k, v := range s.data[namespace] {
		out[k] = v
	}
	return out, nil
}

// InMemorySecretsStore holds secret values per namespace in process
// memory. Values are opaque strings; callers are responsible for not
// logging them.
type InMemorySecretsStore struct {
	mu   sync.Mutex
	data map[string]map[string]string
}

// NewInMemorySecretsStore returns an empty secrets store.
func NewInMemorySecretsStore() *InMemorySecretsStore {
	return &InMemorySecretsStore{data: make(map[string]map[string]string)}
}

func (s *InMemorySecretsStore) SetSecret(ctx context.Context, namespace, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.data[namespace]
	if !ok {
		ns = make(map[string]string)
		s.data[namespace] = ns
	}
	ns[key] = value
	return nil
}

func (s *InMemorySecretsStore) DeleteSecret(ctx context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ns, ok := s.data[namespace]; ok {
		delete(ns, key)
	}
	return nil
}

func (s *InMemorySecretsStore) ListKeys(ctx context.Context, namespace string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.data[namespace]
	if !ok {
		return nil, nil
	}
	keys := make([]string, 0, len(ns))
	for k := range ns {
		keys = append(keys, k)
	}
	return keys, nil
}

// installKey uniquely identifies a ProviderInstallRecord.
type installKey struct {
	environment string
	tenant      string
	team        string
	providerID  string
	installID   string
}

func keyFor(tenant provision.TenantContext, providerID, installID string) installKey {
	return installKey{
		environment: tenant.Environment,
		tenant:      tenant.Tenant,
		team:        tenant.Team,
		providerID:  providerID,
		installID:   installID,
	}
}

// InMemoryInstallStore holds ProviderInstallRecords in process memory.
type InMemoryInstallStore struct {
	mu      sync.Mutex
	records map[installKey]provision.ProviderInstallRecord
}

// NewInMemoryInstallStore returns an empty install store.
func NewInMemoryInstallStore() *InMemoryInstallStore {
	return &InMemoryInstallStore{records: make(map[installKey]provision.ProviderInstallRecord)}
}

func (s *InMemoryInstallStore) Get(ctx context.Context, tenant provision.TenantContext, providerID, installID string) (*provision.ProviderInstallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[keyFor(tenant, providerID, installID)]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (s *InMemoryInstallStore) Put(ctx context.Context, record provision.ProviderInstallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[keyFor(record.Tenant, record.ProviderID, record.InstallID)] = record
	return nil
}

func (s *InMemoryInstallStore) List(ctx context.Context) ([]provision.ProviderInstallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]provision.ProviderInstallRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record)
	}
	return out, nil
}

func (s *InMemoryInstallStore) Delete(ctx context.Context, tenant provision.TenantContext, providerID, installID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, keyFor(tenant, providerID, installID))
	return nil
}
