package provision

import (
	"encoding/json"
	"testing"
)

func TestDecodeStepOutputPreservesWholeEnvelopeAsData(t *testing.T) {
	raw := []byte(`{"data":{"ignored":"by-contract"},"plan":{"config_patch":{"k":"v"}},"questions":["q1"]}`)

	output, err := decodeStepOutput(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if string(output.Data) != string(raw) {
		t.Fatalf("expected data to be the whole envelope, got %s", output.Data)
	}
	if output.PlanPatch == nil {
		t.Fatal("expected a plan patch extracted from .plan")
	}
	if got, _ := output.PlanPatch.ConfigPatch.Get("k"); string(got) != `"v"` {
		t.Fatalf("expected config_patch.k == \"v\", got %s", got)
	}
	if string(output.Questions) != `["q1"]` {
		t.Fatalf("expected questions to come from .questions, got %s", output.Questions)
	}
	if len(output.Diagnostics) != 0 {
		t.Fatalf("expected empty diagnostics at the executor layer, got %v", output.Diagnostics)
	}
}

func TestDecodeStepOutputWithNoPlanLeavesPlanPatchNil(t *testing.T) {
	output, err := decodeStepOutput([]byte(`{"data":{}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if output.PlanPatch != nil {
		t.Fatalf("expected no plan patch when .plan is absent, got %+v", output.PlanPatch)
	}
}

func TestDecodeStepOutputNullPlanLeavesPlanPatchNil(t *testing.T) {
	output, err := decodeStepOutput([]byte(`{"data":{},"plan":null}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if output.PlanPatch != nil {
		t.Fatalf("expected no plan patch for a null .plan, got %+v", output.PlanPatch)
	}
}

func TestDecodeStepOutputRejectsMalformedJSON(t *testing.T) {
	if _, err := decodeStepOutput([]byte("not json")); !IsKind(err, KindDecode) {
		t.Fatalf("expected a decode error for malformed output, got %v", err)
	}
}

func TestDecodePlanPatchDropsNonStringNotesSilently(t *testing.T) {
	patch, err := decodePlanPatch(json.RawMessage(`{"notes":["keep", 42, "also keep", {"x":1}]}`))
	if err != nil {
		t.Fatalf("decode plan patch: %v", err)
	}
	if want := []string{"keep", "also keep"}; !diagnosticsEqual(patch.Notes, want) {
		t.Fatalf("expected non-string notes dropped, got %v", patch.Notes)
	}
}

func TestDecodePlanPatchExtractsOps(t *testing.T) {
	raw := json.RawMessage(`{
		"webhook_ops": [{"op": "register", "url": "https://example.invalid/hook"}],
		"subscription_ops": [{"op": "register"}],
		"oauth_ops": [{"op": "start", "provider": "github", "scopes": ["repo"]}]
	}`)

	patch, err := decodePlanPatch(raw)
	if err != nil {
		t.Fatalf("decode plan patch: %v", err)
	}
	if len(patch.WebhookOps) != 1 || patch.WebhookOps[0].Op != "register" {
		t.Fatalf("expected one webhook op, got %+v", patch.WebhookOps)
	}
	if len(patch.SubscriptionOps) != 1 {
		t.Fatalf("expected one subscription op, got %+v", patch.SubscriptionOps)
	}
	if len(patch.OAuthOps) != 1 || patch.OAuthOps[0].Provider != "github" {
		t.Fatalf("expected one oauth op for github, got %+v", patch.OAuthOps)
	}
}

func TestErrorStepOutputCarriesStepAndMessage(t *testing.T) {
	output := errorStepOutput(StepApply, NewTrapError("boom"))

	var data map[string]string
	if err := json.Unmarshal(output.Data, &data); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if data["step"] != string(StepApply) {
		t.Fatalf("expected step %q, got %q", StepApply, data["step"])
	}
	if data["error"] == "" {
		t.Fatal("expected a non-empty error message")
	}
	if output.PlanPatch != nil {
		t.Fatalf("expected no plan patch in an error envelope, got %+v", output.PlanPatch)
	}
	if len(output.Diagnostics) != 0 {
		t.Fatalf("expected empty diagnostics in an error envelope, got %v", output.Diagnostics)
	}
}
