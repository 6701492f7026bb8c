package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// inputOffset is the fixed linear-memory offset a component's input JSON
// is written at before run is invoked. Components never grow memory
// below this line themselves, so a fixed offset is sufficient — there is
// no allocator handshake in this ABI.
const inputOffset = 4096

// ExecutionLimits bounds a single step invocation: how long it may run,
// how large its input/output may be, and how much linear memory its
// instance may grow to.
type ExecutionLimits struct {
	Timeout          time.Duration
	MaxInputBytes    int
	MaxOutputBytes   int
	MemoryLimitPages uint32
}

// DefaultExecutionLimits returns conservative limits suitable for
// third-party pack components: 5 second timeout, 1MB input/output caps,
// 16MB of linear memory.
func DefaultExecutionLimits() ExecutionLimits {
	return ExecutionLimits{
		Timeout:          5 * time.Second,
		MaxInputBytes:    1 << 20,
		MaxOutputBytes:   1 << 20,
		MemoryLimitPages: 256,
	}
}

// Executor runs provisioning steps as sandboxed wasm components. Each
// component exposes exactly one export beyond memory — a function named
// "run" with signature (i32, i32) -> (i32, i32) that reads its input JSON
// from inputOffset and returns a (pointer, length) pair for its output
// JSON, written anywhere in the instance's own linear memory. There is no
// WASI import and no host-imported function: a pack component does
// nothing but transform JSON in and JSON out.
type Executor struct {
	runtime wazero.Runtime
	limits  ExecutionLimits

	mu         sync.RWMutex
	compiled   map[ProvisionStep]wazero.CompiledModule
}

// NewExecutor creates an Executor whose wazero runtime enforces limits's
// memory cap and closes any running instance when its context is
// cancelled — the mechanism RunStep's per-step context.WithTimeout relies
// on to turn a step timeout into a trapped call rather than a runaway
// goroutine.
func NewExecutor(ctx context.Context, limits ExecutionLimits) *Executor {
	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(limits.MemoryLimitPages).
		WithCloseOnContextDone(true)

	return &Executor{
		runtime:  wazero.NewRuntimeWithConfig(ctx, runtimeConfig),
		limits:   limits,
		compiled: make(map[ProvisionStep]wazero.CompiledModule),
	}
}

// LoadComponent compiles wasmBytes and registers it as the component that
// runs for step. A pack may reuse the same bytes for multiple steps, or
// supply a distinct component per step.
func (e *Executor) LoadComponent(ctx context.Context, step ProvisionStep, wasmBytes []byte) error {
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return NewCompileError(err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled[step] = compiled
	return nil
}

// Close releases the wazero runtime and every compiled module registered
// with it.
func (e *Executor) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// stepInvocation is the JSON shape written into the component's memory:
// the caller's inputs, the run mode, which step is executing, and every
// result produced by earlier steps in this run.
type stepInvocation struct {
	Inputs       ProvisionInputs `json:"inputs"`
	Mode         ProvisionMode   `json:"mode"`
	Step         ProvisionStep   `json:"step"`
	PriorResults []StepResult    `json:"prior_results"`
}

// RunStep implements ProvisionExecutor. It is infallible by contract: any
// failure resolving, instantiating, or running the component, or
// decoding its output, is caught and converted into a well-formed
// StepOutput carrying an "error" field in data, per the "the pipeline
// therefore never aborts" failure surface. Callers that need the
// explicit error instead — conformance's pre-flight checks, for example
// — use RunNamedStep.
func (e *Executor) RunStep(ctx context.Context, pctx ProvisionContext) (StepOutput, error) {
	output, err := e.RunNamedStep(ctx, pctx)
	if err != nil {
		return errorStepOutput(pctx.Step, err), nil
	}
	return output, nil
}

// RunNamedStep runs pctx.Step and returns any failure directly, without
// wrapping it into an error envelope. This is the explicit-error entry
// point §4.3 requires for conformance's pre-flight checks, where a
// requirements-flow failure must fail the pack rather than be silently
// accepted as ordinary step output.
func (e *Executor) RunNamedStep(ctx context.Context, pctx ProvisionContext) (StepOutput, error) {
	e.mu.RLock()
	compiled, ok := e.compiled[pctx.Step]
	e.mu.RUnlock()
	if !ok {
		return StepOutput{}, NewComponentNotFoundError(string(pctx.Step))
	}

	input, err := json.Marshal(stepInvocation{
		Inputs:       pctx.Inputs,
		Mode:         pctx.Mode,
		Step:         pctx.Step,
		PriorResults: pctx.PriorResults,
	})
	if err != nil {
		return StepOutput{}, NewDecodeError("failed to marshal step invocation", err)
	}
	if len(input) > e.limits.MaxInputBytes {
		return StepOutput{}, NewInputTooLargeError(len(input))
	}

	runCtx, cancel := context.WithTimeout(ctx, e.limits.Timeout)
	defer cancel()

	module, err := e.runtime.InstantiateModule(runCtx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return StepOutput{}, NewCompileError(err)
	}
	defer module.Close(context.Background())

	output, err := e.invoke(runCtx, module, input)
	if err != nil {
		return StepOutput{}, err
	}

	return decodeStepOutput(output)
}

// errorStepOutput builds the {"error": "<msg>", "step": "<name>"} data
// envelope §4.3's failure surface specifies: empty diagnostics, no plan
// patch, no questions.
func errorStepOutput(step ProvisionStep, err error) StepOutput {
	envelope, marshalErr := json.Marshal(map[string]string{
		"error": err.Error(),
		"step":  string(step),
	})
	if marshalErr != nil {
		envelope = json.RawMessage(`{"error":"unknown error","step":"` + string(step) + `"}`)
	}
	return StepOutput{Data: envelope, Diagnostics: []string{}}
}

// rawStepOutputEnvelope is the shape a component's JSON output takes:
// everything is preserved in Data, and .plan/.questions are additionally
// extracted into their typed fields.
type rawStepOutputEnvelope struct {
	Plan      json.RawMessage `json:"plan"`
	Questions json.RawMessage `json:"questions"`
}

// decodeStepOutput implements the "Output decoding" rules of §4.3: data
// is the whole output object (the full envelope is preserved, not just a
// ".data" sub-field), plan_patch is extracted from ".plan" and
// normalized per the "Plan-patch extraction" rules, questions comes from
// ".questions", and diagnostics is always empty at this layer.
func decodeStepOutput(output []byte) (StepOutput, error) {
	var envelope rawStepOutputEnvelope
	if err := json.Unmarshal(output, &envelope); err != nil {
		return StepOutput{}, NewDecodeError("failed to decode step output", err)
	}

	stepOutput := StepOutput{
		Data:        json.RawMessage(output),
		Diagnostics: []string{},
		Questions:   envelope.Questions,
	}

	if len(envelope.Plan) > 0 && string(envelope.Plan) != "null" {
		patch, err := decodePlanPatch(envelope.Plan)
		if err != nil {
			return StepOutput{}, err
		}
		stepOutput.PlanPatch = patch
	}

	return stepOutput, nil
}

// rawPlanPatch mirrors ProvisionPlanPatch except for notes, which need
// per-entry type checking before they can be accepted as strings.
type rawPlanPatch struct {
	ConfigPatch     *OrderedStringMap[json.RawMessage] `json:"config_patch"`
	SecretsPatch    *SecretsPatch                       `json:"secrets_patch"`
	WebhookOps      []WebhookOp                         `json:"webhook_ops"`
	SubscriptionOps []SubscriptionOp                    `json:"subscription_ops"`
	OAuthOps        []OAuthOp                            `json:"oauth_ops"`
	Notes           []json.RawMessage                   `json:"notes"`
}

// decodePlanPatch applies the "Plan-patch extraction" normalization
// rules to a component's raw ".plan" object: config_patch becomes an
// ordered map, secrets_patch/webhook_ops/subscription_ops/oauth_ops
// decode directly, and notes silently drops any non-string entry rather
// than failing the whole decode.
func decodePlanPatch(raw json.RawMessage) (*ProvisionPlanPatch, error) {
	var parsed rawPlanPatch
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, NewDecodeError("failed to decode plan patch", err)
	}

	patch := &ProvisionPlanPatch{
		ConfigPatch:     parsed.ConfigPatch,
		SecretsPatch:    parsed.SecretsPatch,
		WebhookOps:      parsed.WebhookOps,
		SubscriptionOps: parsed.SubscriptionOps,
		OAuthOps:        parsed.OAuthOps,
	}

	for _, rawNote := range parsed.Notes {
		var note string
		if err := json.Unmarshal(rawNote, &note); err != nil {
			continue
		}
		patch.Notes = append(patch.Notes, note)
	}

	return patch, nil
}

// invoke writes input at inputOffset, calls run(inputOffset, len(input)),
// and reads back the (pointer, length) result it returns. runCtx carries
// the step's timeout; once it expires, WithCloseOnContextDone(true) tears
// the instance down mid-call, which surfaces here as a trap. A watcher
// goroutine waits for runCtx to end and is joined after the call.
func (e *Executor) invoke(runCtx context.Context, module api.Module, input []byte) ([]byte, error) {
	memory := module.Memory()
	if memory == nil {
		return nil, NewMemoryError(fmt.Errorf("component does not export memory"))
	}
	if !memory.Write(inputOffset, input) {
		return nil, NewMemoryError(fmt.Errorf("failed to write input at offset %d", inputOffset))
	}

	run := module.ExportedFunction("run")
	if run == nil {
		return nil, NewComponentNotFoundError("run")
	}

	done := make(chan struct{})
	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	go func() {
		select {
		case <-runCtx.Done():
		case <-watchCtx.Done():
		}
		close(done)
	}()

	results, err := run.Call(runCtx, uint64(inputOffset), uint64(len(input)))
	<-done
	if err != nil {
		if runCtx.Err() != nil {
			return nil, NewTrapError("step execution exceeded its time limit")
		}
		return nil, NewTrapError(err.Error())
	}
	if len(results) != 2 {
		return nil, NewTrapError("run did not return (pointer, length)")
	}

	outputPtr := uint32(results[0])
	outputLen := uint32(results[1])
	if int(outputLen) > e.limits.MaxOutputBytes {
		return nil, NewOutputTooLargeError(int(outputLen))
	}

	output, ok := memory.Read(outputPtr, outputLen)
	if !ok {
		return nil, NewMemoryError(fmt.Errorf("failed to read output at offset %d length %d", outputPtr, outputLen))
	}
	// Read returns a view into the instance's memory; copy it out since
	// the instance is closed by the caller right after this returns.
	copied := make([]byte, len(output))
	copy(copied, output)
	return copied, nil
}
