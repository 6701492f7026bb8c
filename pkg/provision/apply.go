package provision

import (
	"context"
	"encoding/json"
	"fmt"
)

// ConfigStore persists config key/value entries under a namespace.
type ConfigStore interface {
	ApplyPatch(ctx context.Context, namespace string, patch *OrderedStringMap[json.RawMessage]) ([]string, error)
	ReadNamespace(ctx context.Context, namespace string) (map[string]json.RawMessage, error)
}

// SecretsStore persists opaque secret values under a namespace. A
// SecretsStore implementation must never log plaintext values.
type SecretsStore interface {
	SetSecret(ctx context.Context, namespace, key, value string) error
	DeleteSecret(ctx context.Context, namespace, key string) error
	ListKeys(ctx context.Context, namespace string) ([]string, error)
}

// OAuthTokenSet is what an OAuthHandler returns after starting a flow.
type OAuthTokenSet struct {
	AccessToken  string
	RefreshToken *string
}

// OAuthHandler drives an OAuth op on behalf of the applier. Start may
// return (nil, nil) when the op requires no token material yet (e.g. the
// flow is interactive and the token arrives out of band).
type OAuthHandler interface {
	Start(ctx context.Context, op OAuthOp) (*OAuthTokenSet, error)
}

// NoopOAuthHandler never starts a flow; it is the default handler for
// callers that don't wire OAuth.
type NoopOAuthHandler struct{}

func (NoopOAuthHandler) Start(ctx context.Context, op OAuthOp) (*OAuthTokenSet, error) {
	return nil, nil
}

// SubscriptionState is the durable record the applier projects from a
// "register" or "update" subscription op.
type SubscriptionState struct {
	ID       string
	Resource string
	Expiry   *string
	LastSync *string
}

// ProviderInstallRecord uniquely identifies one provider installation for
// one tenant and carries the namespaces and subscription state derived
// from applying its plan.
type ProviderInstallRecord struct {
	Tenant            TenantContext
	ProviderID        string
	InstallID         string
	ConfigNamespace   string
	SecretsNamespace  string
	Subscriptions     []SubscriptionState
}

// InstallStore persists ProviderInstallRecords keyed by
// (tenant, provider id, install id). Put is an upsert.
type InstallStore interface {
	Get(ctx context.Context, tenant TenantContext, providerID, installID string) (*ProviderInstallRecord, error)
	Put(ctx context.Context, record ProviderInstallRecord) error
	List(ctx context.Context) ([]ProviderInstallRecord, error)
	Delete(ctx context.Context, tenant TenantContext, providerID, installID string) error
}

// ApplyReport summarizes what an Apply call did (or, in dry-run, would
// do) to the stores.
type ApplyReport struct {
	ConfigNamespace   string
	SecretsNamespace  string
	ConfigChanges     []string
	SecretSetKeys     []string
	SecretDeletedKeys []string
	OAuthOps          []OAuthOp
	Install           ProviderInstallRecord
}

// provisionNamespace derives the config namespace
// provision:{env}:{tenant}:{team}:{provider_id}:{install_id}, substituting
// "unknown" for any empty tenant-context field.
func provisionNamespace(tenant TenantContext, providerID, installID string) string {
	field := func(s string) string {
		if s == "" {
			return "unknown"
		}
		return s
	}
	return fmt.Sprintf("provision:%s:%s:%s:%s:%s",
		field(tenant.Environment), field(tenant.Tenant), field(tenant.Team), providerID, installID)
}

// secretsNamespace derives the secrets namespace for a config namespace.
func secretsNamespace(configNamespace string) string {
	return configNamespace + ":secrets"
}

// ProvisionApplier projects a ProvisionResult's plan onto a ConfigStore,
// SecretsStore, OAuthHandler and InstallStore, or — in dry-run mode —
// reports what it would do without touching any of them.
type ProvisionApplier struct {
	ConfigStore  ConfigStore
	SecretsStore SecretsStore
	OAuthHandler OAuthHandler
	InstallStore InstallStore
}

// NewProvisionApplier wires the four store capabilities together.
func NewProvisionApplier(configStore ConfigStore, secretsStore SecretsStore, oauthHandler OAuthHandler, installStore InstallStore) *ProvisionApplier {
	if oauthHandler == nil {
		oauthHandler = NoopOAuthHandler{}
	}
	return &ProvisionApplier{
		ConfigStore:  configStore,
		SecretsStore: secretsStore,
		OAuthHandler: oauthHandler,
		InstallStore: installStore,
	}
}

// Apply projects result.Plan onto the stores per mode. DryRun touches no
// store: it reports every config_patch key, every secrets_patch.set key
// (redacted ones included) and every deleted secret key, with the install
// record constructed but not persisted, no subscription state projected,
// and no secret or OAuth side effect performed.
func (a *ProvisionApplier) Apply(ctx context.Context, result ProvisionResult, inputs ProvisionInputs, mode ProvisionMode) (ApplyReport, error) {
	configNamespace := provisionNamespace(inputs.Tenant, inputs.ProviderID, inputs.InstallID)
	secretsNS := secretsNamespace(configNamespace)

	report := ApplyReport{
		ConfigNamespace:  configNamespace,
		SecretsNamespace: secretsNS,
		OAuthOps:         result.Plan.OAuthOps,
	}

	install := ProviderInstallRecord{
		Tenant:           inputs.Tenant,
		ProviderID:       inputs.ProviderID,
		InstallID:        inputs.InstallID,
		ConfigNamespace:  configNamespace,
		SecretsNamespace: secretsNS,
	}

	plan := result.Plan

	if mode == ModeDryRun {
		report.ConfigChanges = plan.ConfigPatch.Keys()
		report.SecretSetKeys = plan.SecretsPatch.Set.Keys()
		report.SecretDeletedKeys = append([]string(nil), plan.SecretsPatch.Delete...)
		report.Install = install
		return report, nil
	}

	changedKeys, err := a.ConfigStore.ApplyPatch(ctx, configNamespace, plan.ConfigPatch)
	if err != nil {
		return report, NewIOError("config store apply_patch failed", err).WithResource(configNamespace)
	}
	report.ConfigChanges = changedKeys

	var setKeys []string
	plan.SecretsPatch.Set.Range(func(key string, value RedactedValue) {
		if value.Redacted || value.Value == nil {
			// Redacted entry carries no material — skip, per the
			// invariant that lets dry-run plans be safely logged.
			return
		}
		if err := a.SecretsStore.SetSecret(ctx, secretsNS, key, *value.Value); err != nil {
			return
		}
		setKeys = append(setKeys, key)
	})
	report.SecretSetKeys = setKeys

	for _, key := range plan.SecretsPatch.Delete {
		if err := a.SecretsStore.DeleteSecret(ctx, secretsNS, key); err != nil {
			continue
		}
	}
	report.SecretDeletedKeys = append([]string(nil), plan.SecretsPatch.Delete...)

	var subscriptions []SubscriptionState
	for _, op := range plan.SubscriptionOps {
		if op.Op != "register" && op.Op != "update" {
			continue
		}
		state := SubscriptionState{}
		if op.ID != nil {
			state.ID = *op.ID
		}
		if op.Metadata != nil {
			if resourceRaw, ok := op.Metadata.Get("resource"); ok {
				state.Resource = string(resourceRaw)
			}
			if expiryRaw, ok := op.Metadata.Get("expiry"); ok {
				expiry := string(expiryRaw)
				state.Expiry = &expiry
			}
		}
		subscriptions = append(subscriptions, state)
	}
	install.Subscriptions = subscriptions

	for _, op := range plan.OAuthOps {
		tokenSet, err := a.OAuthHandler.Start(ctx, op)
		if err != nil || tokenSet == nil {
			continue
		}
		if err := a.SecretsStore.SetSecret(ctx, secretsNS, "oauth_access_token", tokenSet.AccessToken); err == nil {
			report.SecretSetKeys = append(report.SecretSetKeys, "oauth_access_token")
		}
		if tokenSet.RefreshToken != nil {
			if err := a.SecretsStore.SetSecret(ctx, secretsNS, "oauth_refresh_token", *tokenSet.RefreshToken); err == nil {
				report.SecretSetKeys = append(report.SecretSetKeys, "oauth_refresh_token")
			}
		}
	}

	report.Install = install
	if err := a.InstallStore.Put(ctx, install); err != nil {
		// Best-effort: persistence failures are logged by the caller but
		// do not roll back the in-memory effect already applied above.
		return report, NewIOError("install store put failed", err).WithResource(configNamespace)
	}

	return report, nil
}
