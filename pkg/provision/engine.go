package provision

import (
	"context"
	"encoding/json"
	"os"
)

// ProvisionContext is what the engine hands to the executor for each
// step: the caller's inputs, the run mode, which step is being executed,
// and every StepResult produced by earlier steps in this run.
type ProvisionContext struct {
	Inputs       ProvisionInputs
	Mode         ProvisionMode
	Step         ProvisionStep
	PriorResults []StepResult
}

// ProvisionExecutor runs a single pipeline step and returns its output.
// The sandboxed wasm executor (Executor in executor.go) is the production
// implementation; NoopExecutor exists for tests and fixture-driven runs
// that don't need a real component.
type ProvisionExecutor interface {
	RunStep(ctx context.Context, pctx ProvisionContext) (StepOutput, error)
}

// NoopExecutor returns an empty StepOutput for every step. Useful as a
// placeholder executor in tests that only exercise engine sequencing.
type NoopExecutor struct{}

func (NoopExecutor) RunStep(ctx context.Context, pctx ProvisionContext) (StepOutput, error) {
	return StepOutput{Data: []byte("null"), Diagnostics: []string{}}, nil
}

// ProvisionEngine drives the fixed Collect/Validate/Apply/Summary
// pipeline, invoking executor once per step and folding each step's plan
// patch into a single running ProvisionPlan.
type ProvisionEngine struct {
	executor ProvisionExecutor
}

// NewProvisionEngine returns an engine that runs steps through executor.
func NewProvisionEngine(executor ProvisionExecutor) *ProvisionEngine {
	return &ProvisionEngine{executor: executor}
}

// Run executes all four steps in order, accumulating StepResults and
// merging each step's plan patch into the result plan as it goes. A step
// sees every StepResult produced by the steps before it via
// ProvisionContext.PriorResults. This is a best-effort traversal: a
// conforming ProvisionExecutor never returns a non-nil error from
// RunStep (Executor.RunStep converts every internal failure into an
// error-envelope StepOutput instead — see executor.go), so a step
// failure never skips a later step or shortens the result. Run always
// produces all four StepResults; diagnostics from every step are
// appended, in step order, to the returned ProvisionResult.
func (e *ProvisionEngine) Run(ctx context.Context, mode ProvisionMode, inputs ProvisionInputs) (ProvisionResult, error) {
	result := ProvisionResult{
		Plan:        NewProvisionPlan(),
		StepResults: make([]StepResult, 0, len(Steps)),
		Diagnostics: []string{},
	}

	for _, step := range Steps {
		pctx := ProvisionContext{
			Inputs:       inputs,
			Mode:         mode,
			Step:         step,
			PriorResults: result.StepResults,
		}

		output, err := e.executor.RunStep(ctx, pctx)
		if err != nil {
			// Defensive only: a well-behaved ProvisionExecutor never
			// reaches this branch. Fold it into the same error-envelope
			// shape RunStep itself would have produced, rather than
			// aborting the pipeline.
			output = errorStepOutput(step, err)
		}

		result.Diagnostics = append(result.Diagnostics, output.Diagnostics...)

		if output.PlanPatch != nil {
			result.Plan.MergePatch(*output.PlanPatch)
		}

		result.StepResults = append(result.StepResults, StepResult{Step: step, Output: output})
	}

	return result, nil
}

// PlanFromFixtures replays pre-recorded StepResult fixtures — JSON files
// each holding one step's {step, output}, the same shape as each element
// of the "step_outputs.json" array the conformance driver captures for a
// failing pack (that array file itself is not accepted as a fixture) —
// merging their plan patches and diagnostics in the same
// order Run would have produced them. No executor is invoked; this is
// used by tests that exercise the merge/diagnostics logic against a
// captured or hand-written run without standing up a wasm component.
func PlanFromFixtures(paths []string) (ProvisionResult, error) {
	result := ProvisionResult{
		Plan:        NewProvisionPlan(),
		StepResults: make([]StepResult, 0, len(paths)),
		Diagnostics: []string{},
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return result, NewIOError("failed to read fixture", err).WithResource(path)
		}

		var stepResult StepResult
		if err := json.Unmarshal(data, &stepResult); err != nil {
			return result, NewDecodeError("failed to decode fixture", err).WithResource(path)
		}

		result.Diagnostics = append(result.Diagnostics, stepResult.Output.Diagnostics...)
		if stepResult.Output.PlanPatch != nil {
			result.Plan.MergePatch(*stepResult.Output.PlanPatch)
		}
		result.StepResults = append(result.StepResults, stepResult)
	}

	return result, nil
}
