package stores

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/greentic-ai/greentic-provision/pkg/provision"
)

// FileInstallStore is a single-file-backed InstallStore: it loads every
// record off disk on construction and rewrites the entire file on every
// mutation. This is a deliberate trade-off — mutation visibility in the
// in-memory copy dominates durability here. A failed write is logged by
// the caller (persist returns the error) but never rolls back the
// in-memory update, so Get/List/Delete always reflect the latest Put even
// if the file on disk lags behind.
type FileInstallStore struct {
	mu      sync.Mutex
	path    string
	records map[installKey]provision.ProviderInstallRecord
}

// NewFileInstallStore loads path (if it exists) into memory and returns
// a store that rewrites path on every subsequent mutation.
func NewFileInstallStore(path string) (*FileInstallStore, error) {
	store := &FileInstallStore{
		path:    path,
		records: make(map[installKey]provision.ProviderInstallRecord),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return store, nil
	}
	if err != nil {
		return nil, provision.NewIOError("failed to read install store file", err).WithResource(path)
	}
	if len(data) == 0 {
		return store, nil
	}

	var records []provision.ProviderInstallRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, provision.NewDecodeError("failed to parse install store file", err)
	}
	for _, record := range records {
		store.records[keyFor(record.Tenant, record.ProviderID, record.InstallID)] = record
	}
	return store, nil
}

func (s *FileInstallStore) Get(ctx context.Context, tenant provision.TenantContext, providerID, installID string) (*provision.ProviderInstallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[keyFor(tenant, providerID, installID)]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (s *FileInstallStore) List(ctx context.Context) ([]provision.ProviderInstallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]provision.ProviderInstallRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record)
	}
	return out, nil
}

// Put upserts record and attempts to persist the full record set. A
// persistence failure is returned to the caller but the in-memory
// mutation above already stands — by design, per FileInstallStore's
// best-effort contract.
func (s *FileInstallStore) Put(ctx context.Context, record provision.ProviderInstallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[keyFor(record.Tenant, record.ProviderID, record.InstallID)] = record
	return s.persistLocked()
}

func (s *FileInstallStore) Delete(ctx context.Context, tenant provision.TenantContext, providerID, installID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, keyFor(tenant, providerID, installID))
	return s.persistLocked()
}

func (s *FileInstallStore) persistLocked() error {
	records := make([]provision.ProviderInstallRecord, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return provision.NewDecodeError("failed to marshal install store", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return provision.NewIOError("failed to write install store file", err).WithResource(s.path)
	}
	return nil
}
