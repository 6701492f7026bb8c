package provision

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestEntryFlowsUnmarshalsEmptyShape(t *testing.T) {
	var flows EntryFlows
	if err := json.Unmarshal([]byte(`null`), &flows); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if flows.Map != nil || flows.List != nil {
		t.Fatalf("expected empty shape, got %+v", flows)
	}
}

func TestEntryFlowsUnmarshalsMapShape(t *testing.T) {
	var flows EntryFlows
	if err := json.Unmarshal([]byte(`{"setup": "flow-setup"}`), &flows); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	id, ok := flows.lookup("setup")
	if !ok || id != "flow-setup" {
		t.Fatalf("expected setup -> flow-setup, got %q ok=%v", id, ok)
	}
}

func TestEntryFlowsUnmarshalsListShape(t *testing.T) {
	var flows EntryFlows
	if err := json.Unmarshal([]byte(`[{"entry":"setup","id":"flow-1"},{"entry":"requirements","name":"flow-2"}]`), &flows); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if id, ok := flows.lookup("setup"); !ok || id != "flow-1" {
		t.Fatalf("expected setup -> flow-1, got %q ok=%v", id, ok)
	}
	if id, ok := flows.lookup("requirements"); !ok || id != "flow-2" {
		t.Fatalf("expected requirements -> flow-2 (falls back to name), got %q ok=%v", id, ok)
	}
}

func TestDiscoverProvisioningRequiresSetupEntry(t *testing.T) {
	manifest := &PackManifest{ID: "pack-a", Version: "1.0.0"}
	_, err := DiscoverProvisioning(manifest)
	if !IsKind(err, KindNoProvisioningEntry) {
		t.Fatalf("expected KindNoProvisioningEntry, got %v", err)
	}
}

func TestDiscoverProvisioningResolvesAllThreeFlows(t *testing.T) {
	manifest := &PackManifest{
		ID:      "pack-a",
		Version: "1.0.0",
		Meta: PackMeta{
			EntryFlows: EntryFlows{Map: map[string]string{
				"setup":         "flow-setup",
				"requirements":  "flow-reqs",
				"subscriptions": "flow-subs",
			}},
			RequiresPublicBaseURL: true,
			Capabilities:          []string{"webhook"},
		},
	}

	descriptor, err := DiscoverProvisioning(manifest)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if descriptor.SetupEntryFlow != "flow-setup" {
		t.Fatalf("expected flow-setup, got %q", descriptor.SetupEntryFlow)
	}
	if descriptor.RequirementsFlow != "flow-reqs" {
		t.Fatalf("expected flow-reqs, got %q", descriptor.RequirementsFlow)
	}
	if descriptor.SubscriptionsFlow != "flow-subs" {
		t.Fatalf("expected flow-subs, got %q", descriptor.SubscriptionsFlow)
	}
	if !descriptor.RequiresPublicBaseURL {
		t.Fatal("expected RequiresPublicBaseURL to propagate")
	}
}

func TestDiscoverProvisioningFallsBackToTopLevelFlows(t *testing.T) {
	manifest := &PackManifest{
		ID:      "pack-a",
		Version: "1.0.0",
		Flows:   []PackFlow{{Entry: "setup", ID: "flow-setup"}},
	}

	descriptor, err := DiscoverProvisioning(manifest)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if descriptor.SetupEntryFlow != "flow-setup" {
		t.Fatalf("expected flow-setup from top-level flows, got %q", descriptor.SetupEntryFlow)
	}
}

func TestLoadManifestFindsFirstCandidateInDirectory(t *testing.T) {
	dir := t.TempDir()
	manifestJSON := `{"id":"pack-a","version":"1.0.0","meta":{"entry_flows":{"setup":"flow-1"}}}`
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(manifestJSON), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	manifest, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if manifest.ID != "pack-a" {
		t.Fatalf("expected pack-a, got %q", manifest.ID)
	}
}

func TestLoadManifestMissingReturnsManifestNotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadManifest(dir)
	if !IsKind(err, KindManifestNotFound) {
		t.Fatalf("expected KindManifestNotFound, got %v", err)
	}
}

func TestNormalizeManifestObjectCollapsesPackIDAlias(t *testing.T) {
	obj := map[string]interface{}{
		"pack_id": "pack-a",
		"version": "1.0.0",
	}
	normalized := normalizeManifestObject(obj)
	if normalized["id"] != "pack-a" {
		t.Fatalf("expected pack_id to become id, got %+v", normalized)
	}
	if _, ok := normalized["pack_id"]; ok {
		t.Fatal("expected pack_id to be removed after normalization")
	}
}

func TestNormalizeManifestObjectResolvesNumericPackIDViaSymbols(t *testing.T) {
	obj := map[string]interface{}{
		"pack_id": float64(1),
		"version": "1.0.0",
		"symbols": map[string]interface{}{
			"pack_ids": []interface{}{"pack-zero", "pack-one"},
		},
	}
	normalized := normalizeManifestObject(obj)
	if normalized["id"] != "pack-one" {
		t.Fatalf("expected numeric pack_id 1 to resolve to pack-one, got %+v", normalized["id"])
	}
}

func TestNormalizeManifestObjectPrefersExplicitID(t *testing.T) {
	obj := map[string]interface{}{
		"id":      "explicit",
		"pack_id": "alias",
		"version": "1.0.0",
	}
	normalized := normalizeManifestObject(obj)
	if normalized["id"] != "explicit" {
		t.Fatalf("expected explicit id to win, got %+v", normalized["id"])
	}
}
