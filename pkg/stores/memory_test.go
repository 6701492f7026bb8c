package stores

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/greentic-ai/greentic-provision/pkg/provision"
)

func TestInMemoryConfigStoreApplyPatchAndRead(t *testing.T) {
	store := NewInMemoryConfigStore()
	patch := provision.NewOrderedStringMap[json.RawMessage]()
	patch.Set("foo", json.RawMessage(`"bar"`))

	changed, err := store.ApplyPatch(context.Background(), "ns-1", patch)
	if err != nil {
		t.Fatalf("apply patch: %v", err)
	}
	if len(changed) != 1 || changed[0] != "foo" {
		t.Fatalf("expected changed=[foo], got %v", changed)
	}

	data, err := store.ReadNamespace(context.Background(), "ns-1")
	if err != nil {
		t.Fatalf("read namespace: %v", err)
	}
	if string(data["foo"]) != `"bar"` {
		t.Fatalf("expected foo=bar, got %s", data["foo"])
	}
}

func TestInMemorySecretsStoreSetDeleteList(t *testing.T) {
	store := NewInMemorySecretsStore()
	ctx := context.Background()

	if err := store.SetSecret(ctx, "ns-1", "token", "s3cr3t"); err != nil {
		t.Fatalf("set: %v", err)
	}
	keys, err := store.ListKeys(ctx, "ns-1")
	if err != nil || len(keys) != 1 || keys[0] != "token" {
		t.Fatalf("expected [token], got %v err=%v", keys, err)
	}

	if err := store.DeleteSecret(ctx, "ns-1", "token"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	keys, _ = store.ListKeys(ctx, "ns-1")
	if len(keys) != 0 {
		t.Fatalf("expected empty after delete, got %v", keys)
	}
}

func TestInMemoryInstallStorePutGetListDelete(t *testing.T) {
	store := NewInMemoryInstallStore()
	ctx := context.Background()
	tenant := provision.TenantContext{Environment: "prod", Tenant: "t", Team: "team"}

	record := provision.ProviderInstallRecord{
		Tenant: tenant, ProviderID: "p", InstallID: "i", ConfigNamespace: "ns", SecretsNamespace: "ns:secrets",
	}
	if err := store.Put(ctx, record); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Get(ctx, tenant, "p", "i")
	if err != nil || got == nil {
		t.Fatalf("expected record, got %v err=%v", got, err)
	}
	if got.ConfigNamespace != "ns" {
		t.Fatalf("expected ns, got %s", got.ConfigNamespace)
	}

	all, err := store.List(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("expected 1 record, got %d err=%v", len(all), err)
	}

	if err := store.Delete(ctx, tenant, "p", "i"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ = store.Get(ctx, tenant, "p", "i")
	if got != nil {
		t.Fatal("expected record to be gone after delete")
	}
}
