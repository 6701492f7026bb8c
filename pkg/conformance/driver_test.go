package conformance

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/greentic-ai/greentic-provision/pkg/provision"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func rawMeta(t *testing.T, kv map[string]string) *provision.OrderedStringMap[json.RawMessage] {
	t.Helper()
	m := provision.NewOrderedStringMap[json.RawMessage]()
	for k, v := range kv {
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal metadata: %v", err)
		}
		m.Set(k, raw)
	}
	return m
}

func TestCheckConformance_RedactionInvariant(t *testing.T) {
	plan := provision.NewProvisionPlan()
	plan.SecretsPatch.Set.Set("token", provision.RedactedSecret())
	result := provision.ProvisionResult{Plan: plan}

	if errs := checkConformance(result); len(errs) != 0 {
		t.Fatalf("expected no violations for a redacted secret, got %v", errs)
	}

	leaky := provision.NewProvisionPlan()
	leaky.SecretsPatch.Set.Set("token", provision.PlaintextSecret("super-secret"))
	leakyResult := provision.ProvisionResult{Plan: leaky}

	errs := checkConformance(leakyResult)
	found := false
	for _, e := range errs {
		if e == "secrets_patch contains non-redacted values" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected redaction violation, got %v", errs)
	}
}

func TestCheckConformance_DeterministicByConstruction(t *testing.T) {
	plan := provision.NewProvisionPlan()
	plan.ConfigPatch.Set("zebra", json.RawMessage(`"z"`))
	plan.ConfigPatch.Set("alpha", json.RawMessage(`"a"`))
	result := provision.ProvisionResult{Plan: plan}

	if errs := checkConformance(result); len(errs) != 0 {
		t.Fatalf("expected deterministic serialization via ordered maps, got %v", errs)
	}
}

func TestValidateOps_DenyAlwaysRuns(t *testing.T) {
	plan := provision.ProvisionPlan{
		WebhookOps: []provision.WebhookOp{{Op: "teleport"}},
	}

	violations, err := validateOps(context.Background(), plan, false)
	if err != nil {
		t.Fatalf("validateOps: %v", err)
	}
	if len(violations) != 1 {
		t.Fatalf("expected one deny violation for an unknown op, got %v", violations)
	}
}

func TestValidateOps_WarnGatedByStrict(t *testing.T) {
	plan := provision.ProvisionPlan{
		SubscriptionOps: []provision.SubscriptionOp{{Op: "register"}},
	}

	loose, err := validateOps(context.Background(), plan, false)
	if err != nil {
		t.Fatalf("validateOps: %v", err)
	}
	if len(loose) != 0 {
		t.Fatalf("expected no violations in non-strict mode, got %v", loose)
	}

	strict, err := validateOps(context.Background(), plan, true)
	if err != nil {
		t.Fatalf("validateOps: %v", err)
	}
	if len(strict) != 1 {
		t.Fatalf("expected one warn violation in strict mode, got %v", strict)
	}

	withResource := provision.ProvisionPlan{
		SubscriptionOps: []provision.SubscriptionOp{
			{Op: "register", Metadata: rawMeta(t, map[string]string{"resource": "issues"})},
		},
	}
	ok, err := validateOps(context.Background(), withResource, true)
	if err != nil {
		t.Fatalf("validateOps: %v", err)
	}
	if len(ok) != 0 {
		t.Fatalf("expected no violations once metadata.resource is present, got %v", ok)
	}
}

func TestRun_ScansDirectoryAndReportsPerPackFailures(t *testing.T) {
	dir := t.TempDir()
	reportPath := filepath.Join(dir, "report.json")
	logDir := filepath.Join(dir, "logs")
	artifactDir := filepath.Join(dir, "artifacts")

	driver := NewDriver(testLogger())
	report, err := driver.Run(context.Background(), "testdata/packs", reportPath, Options{
		LogDir:      logDir,
		ArtifactDir: artifactDir,
	})
	if err == nil {
		t.Fatal("expected a conformance failure since a fixture pack has no setup entry")
	}
	if !provision.IsKind(err, provision.KindConformanceFailed) {
		t.Fatalf("expected a ConformanceFailed error, got %v", err)
	}

	if len(report.Packs) != 3 {
		t.Fatalf("expected 3 packs scanned, got %d: %+v", len(report.Packs), report.Packs)
	}

	byName := make(map[string]ConformancePackReport, len(report.Packs))
	for _, p := range report.Packs {
		byName[p.Pack] = p
	}

	noSetup, ok := byName["no-setup"]
	if !ok {
		t.Fatal("expected a report entry for no-setup")
	}
	if noSetup.OK {
		t.Fatal("expected no-setup to fail (no setup entry flow)")
	}

	broken, ok := byName["broken-manifest"]
	if !ok {
		t.Fatal("expected a report entry for broken-manifest")
	}
	if broken.OK {
		t.Fatal("expected broken-manifest to fail (no manifest file)")
	}

	githubIssues, ok := byName["github-issues"]
	if !ok {
		t.Fatal("expected a report entry for github-issues")
	}
	if !githubIssues.OK {
		t.Fatalf("expected github-issues to pass (missing components become step error envelopes, and its empty plan meets both invariants), got errors %v", githubIssues.Errors)
	}

	if _, err := os.Stat(reportPath); err != nil {
		t.Fatalf("expected report file to be written: %v", err)
	}
	for _, name := range []string{"no-setup.log", "broken-manifest.log", "github-issues.log"} {
		if _, err := os.Stat(filepath.Join(logDir, name)); err != nil {
			t.Fatalf("expected log file %s to be written: %v", name, err)
		}
	}
}

func TestRun_ProviderFilter(t *testing.T) {
	dir := t.TempDir()
	reportPath := filepath.Join(dir, "report.json")

	driver := NewDriver(testLogger())
	report, _ := driver.Run(context.Background(), "testdata/packs", reportPath, Options{
		Provider: "no-setup",
		LogDir:   filepath.Join(dir, "logs"),
	})

	if len(report.Packs) != 1 {
		t.Fatalf("expected provider filter to select exactly one pack, got %d", len(report.Packs))
	}
	if report.Packs[0].Pack != "no-setup" {
		t.Fatalf("expected the no-setup pack, got %s", report.Packs[0].Pack)
	}
}
