package stores

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/greentic-ai/greentic-provision/pkg/provision"
)

func TestFileInstallStoreRoundTripsThroughDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "installs.json")
	ctx := context.Background()
	tenant := provision.TenantContext{Environment: "prod"}

	store, err := NewFileInstallStore(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	record := provision.ProviderInstallRecord{
		Tenant: tenant, ProviderID: "p", InstallID: "i", ConfigNamespace: "ns", SecretsNamespace: "ns:secrets",
	}
	if err := store.Put(ctx, record); err != nil {
		t.Fatalf("put: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to be written, got %v", err)
	}

	reopened, err := NewFileInstallStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Get(ctx, tenant, "p", "i")
	if err != nil || got == nil {
		t.Fatalf("expected record after reopen, got %v err=%v", got, err)
	}
	if got.ConfigNamespace != "ns" {
		t.Fatalf("expected ns, got %s", got.ConfigNamespace)
	}
}

func TestFileInstallStoreMissingFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.json")

	store, err := NewFileInstallStore(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	all, err := store.List(context.Background())
	if err != nil || len(all) != 0 {
		t.Fatalf("expected empty store, got %v err=%v", all, err)
	}
}

func TestFileInstallStoreDeleteRewritesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "installs.json")
	ctx := context.Background()
	tenant := provision.TenantContext{}

	store, err := NewFileInstallStore(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := store.Put(ctx, provision.ProviderInstallRecord{Tenant: tenant, ProviderID: "p", InstallID: "i"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Delete(ctx, tenant, "p", "i"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	reopened, err := NewFileInstallStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	all, err := reopened.List(ctx)
	if err != nil || len(all) != 0 {
		t.Fatalf("expected empty store after delete, got %v err=%v", all, err)
	}
}
