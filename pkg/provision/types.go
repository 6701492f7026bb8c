// Package provision implements the provisioning engine: the sequential
// Collect/Validate/Apply/Summary step pipeline, the sandboxed wasm
// executor that runs each step, the plan/apply model, and pack manifest
// discovery.
package provision

import (
	"encoding/json"
)

// ProvisionMode describes the caller's intent for a provisioning run.
type ProvisionMode string

const (
	ModeInstall ProvisionMode = "install"
	ModeUpdate  ProvisionMode = "update"
	ModeDelete  ProvisionMode = "delete"
	ModeDryRun  ProvisionMode = "dry_run"
)

// ProvisionStep is one of the four fixed pipeline stages, always run in
// this order.
type ProvisionStep string

const (
	StepCollect  ProvisionStep = "collect"
	StepValidate ProvisionStep = "validate"
	StepApply    ProvisionStep = "apply"
	StepSummary  ProvisionStep = "summary"
)

// Steps is the fixed, ordered pipeline.
var Steps = []ProvisionStep{StepCollect, StepValidate, StepApply, StepSummary}

// TenantContext identifies who a provisioning run is for. All fields are
// optional; missing fields resolve to "unknown" when deriving a storage
// namespace (see provisionNamespace).
type TenantContext struct {
	Environment string `json:"environment,omitempty"`
	Tenant      string `json:"tenant,omitempty"`
	Team        string `json:"team,omitempty"`
	User        string `json:"user,omitempty"`
}

// ProvisionInputs is the caller-supplied input to a provisioning run.
type ProvisionInputs struct {
	Tenant         TenantContext   `json:"tenant"`
	ProviderID     string          `json:"provider_id" validate:"required"`
	InstallID      string          `json:"install_id" validate:"required"`
	PublicBaseURL  *string         `json:"public_base_url,omitempty"`
	Answers        json.RawMessage `json:"answers"`
	ExistingState  json.RawMessage `json:"existing_state,omitempty"`
}

// RedactedValue carries either a plaintext secret value or a marker that
// the value has been redacted. A redacted entry must never carry
// plaintext: Redacted == true implies Value == nil.
type RedactedValue struct {
	Redacted bool    `json:"redacted"`
	Value    *string `json:"value,omitempty"`
}

// RedactedSecret returns a RedactedValue that carries no plaintext.
func RedactedSecret() RedactedValue {
	return RedactedValue{Redacted: true}
}

// PlaintextSecret returns a RedactedValue carrying value in the clear.
func PlaintextSecret(value string) RedactedValue {
	return RedactedValue{Redacted: false, Value: &value}
}

// SecretsPatch describes secret mutations: keys to set (possibly redacted)
// and keys to delete.
type SecretsPatch struct {
	Set    *OrderedStringMap[RedactedValue] `json:"set"`
	Delete []string                         `json:"delete"`
}

// NewSecretsPatch returns an empty SecretsPatch.
func NewSecretsPatch() SecretsPatch {
	return SecretsPatch{Set: NewOrderedStringMap[RedactedValue]()}
}

// WebhookOp describes a webhook registration/update/removal requested by a
// step.
type WebhookOp struct {
	Op       string                        `json:"op"`
	ID       *string                       `json:"id,omitempty"`
	URL      *string                       `json:"url,omitempty"`
	Metadata *OrderedStringMap[json.RawMessage] `json:"metadata,omitempty"`
}

// SubscriptionOp describes a subscription registration/update/removal
// requested by a step.
type SubscriptionOp struct {
	Op       string                              `json:"op"`
	ID       *string                             `json:"id,omitempty"`
	Metadata *OrderedStringMap[json.RawMessage] `json:"metadata,omitempty"`
}

// OAuthOp describes an OAuth flow a step wants the applier to drive.
// Start is currently the only supported op kind.
type OAuthOp struct {
	Op          string   `json:"op"`
	Provider    string   `json:"provider"`
	Scopes      []string `json:"scopes"`
	RedirectURL *string  `json:"redirect_url,omitempty"`
}

// ProvisionPlan is the accumulated, mergeable output of a provisioning
// run: config to write, secrets to set/delete, and side-effect ops to
// perform on apply.
type ProvisionPlan struct {
	ConfigPatch     *OrderedStringMap[json.RawMessage] `json:"config_patch"`
	SecretsPatch    SecretsPatch                        `json:"secrets_patch"`
	WebhookOps      []WebhookOp                          `json:"webhook_ops"`
	SubscriptionOps []SubscriptionOp                     `json:"subscription_ops"`
	OAuthOps        []OAuthOp                            `json:"oauth_ops"`
	Notes           []string                             `json:"notes"`
}

// NewProvisionPlan returns an empty plan with its ordered maps initialized.
func NewProvisionPlan() ProvisionPlan {
	return ProvisionPlan{
		ConfigPatch:     NewOrderedStringMap[json.RawMessage](),
		SecretsPatch:    NewSecretsPatch(),
		WebhookOps:      []WebhookOp{},
		SubscriptionOps: []SubscriptionOp{},
		OAuthOps:        []OAuthOp{},
		Notes:           []string{},
	}
}

// ProvisionPlanPatch is an incremental update to a ProvisionPlan produced
// by a single step. Every field is optional: a nil field means the step
// made no change in that dimension. Non-nil fields merge monotonically —
// config_patch and secrets_patch.set overwrite by key, everything else
// appends.
type ProvisionPlanPatch struct {
	ConfigPatch     *OrderedStringMap[json.RawMessage] `json:"config_patch,omitempty"`
	SecretsPatch    *SecretsPatch                        `json:"secrets_patch,omitempty"`
	WebhookOps      []WebhookOp                          `json:"webhook_ops,omitempty"`
	SubscriptionOps []SubscriptionOp                     `json:"subscription_ops,omitempty"`
	OAuthOps        []OAuthOp                            `json:"oauth_ops,omitempty"`
	Notes           []string                             `json:"notes,omitempty"`
}

// StepOutput is what a single pipeline step produces: the full output
// envelope as data, a free-form diagnostics sequence, an optional plan
// patch to merge, and optional follow-up questions for interactive
// callers. diagnostics is always empty coming out of the sandboxed
// executor (diagnostics there originate in the pipeline/discovery layer,
// not the component), but the field exists on StepOutput itself because
// fixture replay (PlanFromFixtures) and future non-executor producers of
// a StepOutput are free to populate it.
type StepOutput struct {
	Data        json.RawMessage     `json:"data"`
	Diagnostics []string            `json:"diagnostics"`
	PlanPatch   *ProvisionPlanPatch `json:"plan_patch,omitempty"`
	Questions   json.RawMessage     `json:"questions,omitempty"`
}

// StepResult pairs a step with the output it produced.
type StepResult struct {
	Step   ProvisionStep `json:"step"`
	Output StepOutput    `json:"output"`
}

// ProvisionResult is the full output of a pipeline run: the merged plan,
// the per-step trace that produced it, and every step's diagnostics
// appended in step order.
type ProvisionResult struct {
	Plan        ProvisionPlan `json:"plan"`
	StepResults []StepResult  `json:"step_results"`
	Diagnostics []string      `json:"diagnostics"`
}
