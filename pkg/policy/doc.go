// Package policy provides Open Policy Agent (OPA) integration for the
// provisioning engine's op-schema conformance check.
//
// This package evaluates a provision plan's webhook, subscription, and OAuth
// ops against Rego policies before they're handed to the applier, catching
// malformed ops (unknown op kind) and, in strict mode, ops missing the
// metadata a later apply step would need (a subscription with no resource,
// a webhook with no URL, an OAuth start with no scopes).
//
// # Architecture
//
// The policy system consists of four main components:
//
//  1. Engine - Compiles and evaluates Rego policies
//  2. Loader - Loads policies from files, directories, and bundles
//  3. Types - Data structures for policies, violations, and results
//  4. Built-in Policies - Pre-defined op-schema conformance policies
//
// # Usage
//
// Creating a policy engine:
//
//	logger := zerolog.New(os.Stdout)
//	engine, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Evaluating a plan:
//
//	result, err := engine.Evaluate(ctx, plan, &policy.PolicyContext{
//	    ProviderID: "github",
//	    InstallID:  "install-456",
//	    Strict:     true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if !result.Allowed {
//	    for _, violation := range result.Violations {
//	        fmt.Printf("Policy %s violated: %s\n", violation.Policy, violation.Message)
//	    }
//	}
//
// Loading custom policies:
//
//	paths := []string{
//	    "/etc/greentic-provision/policies",
//	    "/opt/policies/custom.rego",
//	}
//
//	err = engine.LoadPolicies(ctx, paths)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Built-in Policies
//
// The following policies are included by default:
//
//  1. subscription-ops - subscription ops use a known op kind and (strict mode) carry resource metadata
//  2. webhook-ops - webhook ops use a known op kind and (strict mode) carry a delivery URL
//  3. oauth-ops - OAuth ops use the "start" op and (strict mode) request at least one scope
//
// # Custom Policies
//
// Custom policies can be written in Rego and loaded from files:
//
//	package custom.policies.webhook_host_allowlist
//
//	import rego.v1
//
//	deny contains violation if {
//	    some i
//	    op := input.plan.webhook_ops[i]
//	    op.url
//	    not startswith(op.url, "https://")
//
//	    violation := {
//	        "message": sprintf("webhook_ops[%d] url must use https", [i]),
//	        "severity": "error",
//	    }
//	}
//
// # Deny vs Warn
//
// Each policy package may define both a deny rule set and a warn rule set.
// deny violations always block apply. warn violations are opt-in: they only
// surface when PolicyContext.Strict is true, and never block apply on their
// own - callers decide what to do with PolicyResult.Warnings.
//
// # Severity Levels
//
// Violations have four severity levels:
//
//  - info: Informational messages
//  - warning: Issues that should be reviewed but don't block operations
//  - error: Issues that block operations
//  - critical: Severe issues requiring immediate attention
//
// # Performance
//
// Policies are validated once at registration time and re-parsed per query
// (OPA's rego.New has no cheap way to share a single PrepareForEval across
// both the deny and warn queries of a policy). Evaluation happens once per
// run, against a single plan, so this cost is immaterial in practice.
//
// # Context Injection
//
// Policy evaluations can include context information:
//
//  - ProviderID/InstallID: which install the plan belongs to
//  - Mode: the run mode (install, update, delete, dry_run)
//  - Strict: whether semantic (warn-tier) checks should run
//  - DryRun: whether this is a plan-only evaluation
//
// This context allows policies to make run-aware decisions.
package policy
