package provision

import (
	"context"
	"encoding/json"
	"testing"
)

type fakeConfigStore struct {
	applyPatchCalls int
	namespace       string
	data            map[string]json.RawMessage
}

func newFakeConfigStore() *fakeConfigStore {
	return &fakeConfigStore{data: make(map[string]json.RawMessage)}
}

func (f *fakeConfigStore) ApplyPatch(ctx context.Context, namespace string, patch *OrderedStringMap[json.RawMessage]) ([]string, error) {
	f.applyPatchCalls++
	f.namespace = namespace
	var changed []string
	patch.Range(func(key string, value json.RawMessage) {
		f.data[key] = value
		changed = append(changed, key)
	})
	return changed, nil
}

func (f *fakeConfigStore) ReadNamespace(ctx context.Context, namespace string) (map[string]json.RawMessage, error) {
	return f.data, nil
}

type fakeSecretsStore struct {
	setCalls    int
	deleteCalls int
	values      map[string]string
}

func newFakeSecretsStore() *fakeSecretsStore {
	return &fakeSecretsStore{values: make(map[string]string)}
}

func (f *fakeSecretsStore) SetSecret(ctx context.Context, namespace, key, value string) error {
	f.setCalls++
	f.values[key] = value
	return nil
}

func (f *fakeSecretsStore) DeleteSecret(ctx context.Context, namespace, key string) error {
	f.deleteCalls++
	delete(f.values, key)
	return nil
}

func (f *fakeSecretsStore) ListKeys(ctx context.Context, namespace string) ([]string, error) {
	keys := make([]string, 0, len(f.values))
	for k := range f.values {
		keys = append(keys, k)
	}
	return keys, nil
}

type fakeInstallStore struct {
	putCalls int
	last     ProviderInstallRecord
}

func (f *fakeInstallStore) Get(ctx context.Context, tenant TenantContext, providerID, installID string) (*ProviderInstallRecord, error) {
	return nil, nil
}

func (f *fakeInstallStore) Put(ctx context.Context, record ProviderInstallRecord) error {
	f.putCalls++
	f.last = record
	return nil
}

func (f *fakeInstallStore) List(ctx context.Context) ([]ProviderInstallRecord, error) { return nil, nil }
func (f *fakeInstallStore) Delete(ctx context.Context, tenant TenantContext, providerID, installID string) error {
	return nil
}

func TestProvisionNamespaceDerivation(t *testing.T) {
	ns := provisionNamespace(TenantContext{Environment: "prod", Tenant: "tenant-a", Team: "team-a"}, "p", "i")
	if ns != "provision:prod:tenant-a:team-a:p:i" {
		t.Fatalf("unexpected namespace: %s", ns)
	}
	if secretsNamespace(ns) != ns+":secrets" {
		t.Fatalf("unexpected secrets namespace: %s", secretsNamespace(ns))
	}
}

func TestProvisionNamespaceDerivationMissingFieldsBecomeUnknown(t *testing.T) {
	ns := provisionNamespace(TenantContext{}, "p", "i")
	if ns != "provision:unknown:unknown:unknown:p:i" {
		t.Fatalf("unexpected namespace: %s", ns)
	}
}

func TestApplyDryRunTouchesNoStore(t *testing.T) {
	configStore := newFakeConfigStore()
	secretsStore := newFakeSecretsStore()
	installStore := &fakeInstallStore{}
	applier := NewProvisionApplier(configStore, secretsStore, nil, installStore)

	result := ProvisionResult{Plan: NewProvisionPlan()}
	result.Plan.ConfigPatch.Set("foo", json.RawMessage(`"bar"`))
	result.Plan.SecretsPatch.Set.Set("token", RedactedSecret())

	report, err := applier.Apply(context.Background(), result, ProvisionInputs{ProviderID: "p", InstallID: "i"}, ModeDryRun)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if configStore.applyPatchCalls != 0 {
		t.Fatalf("expected config store untouched in dry-run, got %d calls", configStore.applyPatchCalls)
	}
	if secretsStore.setCalls != 0 {
		t.Fatalf("expected secrets store untouched in dry-run, got %d calls", secretsStore.setCalls)
	}
	if installStore.putCalls != 0 {
		t.Fatalf("expected install store untouched in dry-run, got %d calls", installStore.putCalls)
	}
	if len(report.ConfigChanges) != 1 || report.ConfigChanges[0] != "foo" {
		t.Fatalf("expected config_changes to report foo, got %v", report.ConfigChanges)
	}
	if len(report.SecretSetKeys) != 1 || report.SecretSetKeys[0] != "token" {
		t.Fatalf("expected secret_set_keys to report token, got %v", report.SecretSetKeys)
	}
}

func TestApplyWithOneConfigEntry(t *testing.T) {
	configStore := newFakeConfigStore()
	secretsStore := newFakeSecretsStore()
	installStore := &fakeInstallStore{}
	applier := NewProvisionApplier(configStore, secretsStore, nil, installStore)

	result := ProvisionResult{Plan: NewProvisionPlan()}
	result.Plan.ConfigPatch.Set("foo", json.RawMessage(`"bar"`))

	report, err := applier.Apply(context.Background(), result, ProvisionInputs{ProviderID: "p", InstallID: "i"}, ModeInstall)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(report.ConfigChanges) != 1 || report.ConfigChanges[0] != "foo" {
		t.Fatalf("expected config_changes=[foo], got %v", report.ConfigChanges)
	}
	if string(configStore.data["foo"]) != `"bar"` {
		t.Fatalf("expected config store to have foo=bar, got %s", configStore.data["foo"])
	}
	if installStore.putCalls != 1 {
		t.Fatalf("expected install record to be persisted on apply, got %d calls", installStore.putCalls)
	}
}

func TestApplySkipsRedactedSecrets(t *testing.T) {
	configStore := newFakeConfigStore()
	secretsStore := newFakeSecretsStore()
	installStore := &fakeInstallStore{}
	applier := NewProvisionApplier(configStore, secretsStore, nil, installStore)

	result := ProvisionResult{Plan: NewProvisionPlan()}
	result.Plan.SecretsPatch.Set.Set("redacted-key", RedactedSecret())
	result.Plan.SecretsPatch.Set.Set("plain-key", PlaintextSecret("s3cr3t"))

	report, err := applier.Apply(context.Background(), result, ProvisionInputs{ProviderID: "p", InstallID: "i"}, ModeInstall)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if secretsStore.setCalls != 1 {
		t.Fatalf("expected exactly 1 secret to be written (the non-redacted one), got %d", secretsStore.setCalls)
	}
	if _, ok := secretsStore.values["redacted-key"]; ok {
		t.Fatal("expected redacted key to never reach the secrets store")
	}
	if secretsStore.values["plain-key"] != "s3cr3t" {
		t.Fatalf("expected plain-key to be written, got %q", secretsStore.values["plain-key"])
	}
	if len(report.SecretSetKeys) != 1 || report.SecretSetKeys[0] != "plain-key" {
		t.Fatalf("expected secret_set_keys=[plain-key], got %v", report.SecretSetKeys)
	}
}

func TestApplyOAuthStartStoresTokens(t *testing.T) {
	configStore := newFakeConfigStore()
	secretsStore := newFakeSecretsStore()
	installStore := &fakeInstallStore{}
	refresh := "refresh-1"
	applier := NewProvisionApplier(configStore, secretsStore, stubOAuthHandler{tokenSet: &OAuthTokenSet{AccessToken: "access-1", RefreshToken: &refresh}}, installStore)

	result := ProvisionResult{Plan: NewProvisionPlan()}
	result.Plan.OAuthOps = append(result.Plan.OAuthOps, OAuthOp{Op: "start", Provider: "github"})

	if _, err := applier.Apply(context.Background(), result, ProvisionInputs{ProviderID: "p", InstallID: "i"}, ModeInstall); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if secretsStore.values["oauth_access_token"] != "access-1" {
		t.Fatalf("expected oauth_access_token to be stored, got %q", secretsStore.values["oauth_access_token"])
	}
	if secretsStore.values["oauth_refresh_token"] != "refresh-1" {
		t.Fatalf("expected oauth_refresh_token to be stored, got %q", secretsStore.values["oauth_refresh_token"])
	}
}

type stubOAuthHandler struct {
	tokenSet *OAuthTokenSet
}

func (s stubOAuthHandler) Start(ctx context.Context, op OAuthOp) (*OAuthTokenSet, error) {
	return s.tokenSet, nil
}
