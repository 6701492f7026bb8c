// Package conformance batch-runs packs in dry-run mode and checks the
// invariants a well-behaved component must uphold: deterministic plan
// serialization, secret redaction, and (optionally) op schema validity.
package conformance

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/greentic-ai/greentic-provision/pkg/provision"
)

//go:embed policy/ops.rego
var opsPolicySrc string

// ConformancePackReport is one pack's result within a ConformanceReport.
type ConformancePackReport struct {
	Pack       string   `json:"pack"`
	Version    *string  `json:"version,omitempty"`
	OK         bool     `json:"ok"`
	Errors     []string `json:"errors"`
	PlanNotes  int      `json:"plan_notes"`
	SecretKeys []string `json:"secret_keys"`
}

func passed(pack, version string, result provision.ProvisionResult) ConformancePackReport {
	return ConformancePackReport{
		Pack:       pack,
		Version:    &version,
		OK:         true,
		Errors:     []string{},
		PlanNotes:  len(result.Plan.Notes),
		SecretKeys: result.Plan.SecretsPatch.Set.Keys(),
	}
}

func failed(pack, errMsg string) ConformancePackReport {
	return ConformancePackReport{
		Pack:       pack,
		OK:         false,
		Errors:     []string{errMsg},
		SecretKeys: []string{},
	}
}

func failedWith(pack, version string, errs []string) ConformancePackReport {
	return ConformancePackReport{
		Pack:       pack,
		Version:    &version,
		OK:         false,
		Errors:     errs,
		SecretKeys: []string{},
	}
}

// ConformanceReport is the top-level report the driver writes to disk.
type ConformanceReport struct {
	Packs []ConformancePackReport `json:"packs"`
}

// AnyFailed reports whether any pack in the report is not OK.
func (r ConformanceReport) AnyFailed() bool {
	for _, p := range r.Packs {
		if !p.OK {
			return true
		}
	}
	return false
}

// Options configures a conformance run. Only Provider, StrictOps and
// Live are meant to be set by callers; the directory fields have
// sensible defaults applied by Run.
type Options struct {
	// Provider, if non-empty, restricts the scan to the single pack
	// whose directory/file stem matches it exactly.
	Provider string
	// StrictOps runs the embedded op-schema policy's warn tier, not just
	// its deny tier, and treats warn violations as pack failures. The
	// deny tier (unknown op kind) always runs regardless of this flag.
	StrictOps bool
	// Live is accepted for CLI compatibility but is not implemented:
	// every run is a dry-run, and Run logs a warning if Live is set.
	Live bool
	// ArtifactDir is where inputs/step_outputs/diagnostics/pack.json are
	// written for a failing pack. Defaults to
	// ".greentic/provision/artifacts".
	ArtifactDir string
	// LogDir is where a one-line-per-field log is written per pack.
	// Defaults to "target/conformance_logs".
	LogDir string
	// Limits bounds each pack's step executions. Defaults to
	// provision.DefaultExecutionLimits().
	Limits provision.ExecutionLimits
}

func (o Options) withDefaults() Options {
	if o.ArtifactDir == "" {
		o.ArtifactDir = filepath.Join(".greentic", "provision", "artifacts")
	}
	if o.LogDir == "" {
		o.LogDir = filepath.Join("target", "conformance_logs")
	}
	if (o.Limits == provision.ExecutionLimits{}) {
		o.Limits = provision.DefaultExecutionLimits()
	}
	return o
}

// Driver runs conformance checks over a directory of packs.
type Driver struct {
	logger zerolog.Logger
}

// NewDriver returns a Driver that logs through logger.
func NewDriver(logger zerolog.Logger) *Driver {
	return &Driver{logger: logger.With().Str("component", "conformance").Logger()}
}

// Run scans packsDir for pack directories (optionally filtered to a
// single provider by file stem), dry-runs each one, checks it against
// the conformance invariants, and writes a JSON ConformanceReport to
// reportPath. Once the scan completes, it returns the report and a
// non-nil error iff at least one pack failed — mirroring the CLI's
// "non-zero exit iff any pack fails" contract one layer down, so callers
// that want the report even on failure can still read the returned value.
// A failure of the scan itself (creating the log directory, reading
// packsDir, writing a pack log or the report) is returned as that error
// instead.
func (d *Driver) Run(ctx context.Context, packsDir, reportPath string, opts Options) (ConformanceReport, error) {
	opts = opts.withDefaults()

	if opts.Live {
		d.logger.Warn().Msg("live mode is not implemented; running dry-run only")
	}

	if err := os.MkdirAll(opts.LogDir, 0o755); err != nil {
		return ConformanceReport{}, provision.NewIOError("failed to create conformance log directory", err)
	}

	entries, err := os.ReadDir(packsDir)
	if err != nil {
		return ConformanceReport{}, provision.NewIOError("failed to read packs directory", err)
	}

	var paths []string
	for _, entry := range entries {
		name := entry.Name()
		if opts.Provider != "" {
			stem := name[:len(name)-len(filepath.Ext(name))]
			if stem != opts.Provider {
				continue
			}
		}
		paths = append(paths, filepath.Join(packsDir, name))
	}
	sort.Strings(paths)

	report := ConformanceReport{Packs: make([]ConformancePackReport, 0, len(paths))}
	for _, packPath := range paths {
		entry := d.runPack(ctx, packPath, opts)
		if err := d.writeLog(opts.LogDir, entry); err != nil {
			return report, err
		}
		report.Packs = append(report.Packs, entry)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return report, provision.NewDecodeError("failed to marshal conformance report", err)
	}
	if err := os.WriteFile(reportPath, data, 0o644); err != nil {
		return report, provision.NewIOError("failed to write conformance report", err)
	}

	if report.AnyFailed() {
		return report, provision.NewConformanceFailedError()
	}
	return report, nil
}

// runPack dry-runs a single pack and converts any failure along the way
// into a failed ConformancePackReport rather than aborting the batch —
// one bad pack must never stop the rest of the scan from completing.
func (d *Driver) runPack(ctx context.Context, packPath string, opts Options) ConformancePackReport {
	label := filepath.Base(packPath)

	resolved, err := provision.ResolvePackPath(packPath)
	if err != nil {
		return failed(label, fmt.Sprintf("pack error: %s", err))
	}
	defer resolved.Cleanup()

	manifest, err := provision.LoadManifest(resolved.Root)
	if err != nil {
		return failed(label, fmt.Sprintf("manifest error: %s", err))
	}

	descriptor, err := provision.DiscoverProvisioning(manifest)
	if err != nil {
		return failed(label, "missing setup entry")
	}

	baseURL := "https://example.invalid"
	inputs := provision.ProvisionInputs{
		ProviderID:    descriptor.PackID,
		InstallID:     descriptor.PackID + "-install",
		PublicBaseURL: &baseURL,
		Answers:       json.RawMessage("{}"),
	}

	executor, err := provision.NewExecutorForPack(ctx, resolved.Root, opts.Limits)
	if err != nil {
		return failed(label, fmt.Sprintf("executor error: %s", err))
	}
	defer executor.Close(ctx)

	if descriptor.RequirementsFlow != "" {
		preflight := provision.ProvisionContext{
			Inputs: inputs,
			Mode:   provision.ModeDryRun,
			Step:   provision.StepValidate,
		}
		// RunNamedStep, not RunStep: pre-flight needs the explicit error
		// so a failing requirements flow fails the pack outright, rather
		// than being silently accepted as an {"error": ...} data envelope
		// the way an ordinary pipeline step failure would be.
		if _, err := executor.RunNamedStep(ctx, preflight); err != nil {
			return failed(label, fmt.Sprintf("requirements failed: %s", err))
		}
	}

	// Run is a best-effort traversal: an ordinary step failure surfaces
	// as that step's own error-envelope output, not a returned error, so
	// this branch is only reachable if the executor itself violated its
	// infallible RunStep contract.
	engine := provision.NewProvisionEngine(executor)
	result, err := engine.Run(ctx, provision.ModeDryRun, inputs)
	if err != nil {
		return failed(label, fmt.Sprintf("run failed: %s", err))
	}

	checks := checkConformance(result)
	opsViolations, err := validateOps(ctx, result.Plan, opts.StrictOps)
	if err != nil {
		d.logger.Warn().Err(err).Str("pack", label).Msg("op-schema conformance check could not run")
	} else {
		checks = append(checks, opsViolations...)
	}

	if len(checks) == 0 {
		return passed(label, descriptor.PackVersion, result)
	}

	if err := captureFailureArtifacts(opts.ArtifactDir, label, inputs, result); err != nil {
		d.logger.Warn().Err(err).Str("pack", label).Msg("failed to capture conformance artifacts")
	}
	return failedWith(label, descriptor.PackVersion, checks)
}

// checkConformance runs the two structural invariants every pack must
// satisfy: the plan serializes deterministically, and no secrets_patch
// entry leaks plaintext alongside its redacted flag.
func checkConformance(result provision.ProvisionResult) []string {
	var errs []string

	once, err1 := json.Marshal(result.Plan)
	twice, err2 := json.Marshal(result.Plan)
	if err1 != nil || err2 != nil || string(once) != string(twice) {
		errs = append(errs, "plan serialization not deterministic")
	}

	nonRedacted := false
	result.Plan.SecretsPatch.Set.Range(func(_ string, value provision.RedactedValue) {
		if !value.Redacted || value.Value != nil {
			nonRedacted = true
		}
	})
	if nonRedacted {
		errs = append(errs, "secrets_patch contains non-redacted values")
	}

	return errs
}

// opsInput is the shape validateOps feeds to the embedded Rego policy:
// the plan to check, and whether the warn tier should be evaluated.
type opsInput struct {
	Plan   provision.ProvisionPlan `json:"plan"`
	Strict bool                    `json:"strict"`
}

// validateOps evaluates the embedded op-schema policy against plan. The
// deny tier (unknown op kind) always runs; the warn tier (missing
// metadata a later apply step would need) only runs, and only counts as
// a failure, when strictOps is true — matching the additive, opt-in
// semantics pkg/policy uses for the same checks.
func validateOps(ctx context.Context, plan provision.ProvisionPlan, strictOps bool) ([]string, error) {
	input := opsInput{Plan: plan, Strict: strictOps}

	var violations []string
	denyViolations, err := evalOpsRuleSet(ctx, input, "deny")
	if err != nil {
		return nil, err
	}
	violations = append(violations, denyViolations...)

	if strictOps {
		warnViolations, err := evalOpsRuleSet(ctx, input, "warn")
		if err != nil {
			return nil, err
		}
		violations = append(violations, warnViolations...)
	}

	return violations, nil
}

func evalOpsRuleSet(ctx context.Context, input opsInput, set string) ([]string, error) {
	query := fmt.Sprintf("data.greentic.conformance.ops.%s", set)
	r := rego.New(
		rego.Module("ops.rego", opsPolicySrc),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("op-schema policy evaluation failed: %w", err)
	}

	var violations []string
	for _, result := range results {
		for _, expr := range result.Expressions {
			items, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, item := range items {
				if msg, ok := item.(string); ok {
					violations = append(violations, msg)
				}
			}
		}
	}
	return violations, nil
}

// captureFailureArtifacts writes the inputs, step results, diagnostics
// and a pack label for a failing pack under
// <artifactDir>/<pack>/<timestamp>/, so a human can inspect exactly what
// the run saw without re-running it.
func captureFailureArtifacts(artifactDir, label string, inputs provision.ProvisionInputs, result provision.ProvisionResult) error {
	dir := filepath.Join(artifactDir, label, time.Now().UTC().Format("20060102T150405Z"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return provision.NewIOError("failed to create artifact directory", err)
	}

	if err := writeJSON(filepath.Join(dir, "inputs.json"), inputs); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, "step_outputs.json"), result.StepResults); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, "diagnostics.json"), result.Diagnostics); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, "pack.json"), map[string]string{"pack": label}); err != nil {
		return err
	}
	return nil
}

func writeJSON(path string, value interface{}) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return provision.NewDecodeError("failed to marshal artifact", err).WithResource(path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return provision.NewIOError("failed to write artifact", err).WithResource(path)
	}
	return nil
}

// writeLog writes a one-line-per-field text log for a single pack's
// report under logDir/<pack>.log.
func (d *Driver) writeLog(logDir string, entry ConformancePackReport) error {
	path := filepath.Join(logDir, entry.Pack+".log")

	contents := fmt.Sprintf("pack=%s\n", entry.Pack)
	if entry.Version != nil {
		contents += fmt.Sprintf("version=%s\n", *entry.Version)
	}
	contents += fmt.Sprintf("ok=%t\n", entry.OK)
	if len(entry.Errors) > 0 {
		contents += "errors:\n"
		for _, e := range entry.Errors {
			contents += fmt.Sprintf("- %s\n", e)
		}
	}

	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return provision.NewIOError("failed to write conformance log", err).WithResource(path)
	}
	return nil
}
