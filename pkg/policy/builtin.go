package policy

import (
	"time"
)

// GetBuiltinPolicies returns the built-in op-schema conformance policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		subscriptionOpsPolicy(),
		webhookOpsPolicy(),
		oauthOpsPolicy(),
	}
}

// subscriptionOpsPolicy checks subscription ops against the op schema:
// unknown op kinds always fail; in strict mode, register/update ops must
// carry resource metadata so the subscription can be routed and torn down.
func subscriptionOpsPolicy() Policy {
	return Policy{
		Name:        "subscription-ops",
		Description: "Subscription ops must use a known op kind and, in strict mode, carry resource metadata",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"op-schema", "subscription"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package greentic.policies.subscription_ops

import rego.v1

valid_ops := {"register", "update", "remove"}

deny contains violation if {
	some i
	op := input.plan.subscription_ops[i]
	not op.op in valid_ops
	violation := {
		"op": sprintf("subscription_ops[%d]", [i]),
		"message": sprintf("subscription_ops[%d] has unknown op %q", [i, op.op]),
		"severity": "error",
	}
}

warn contains violation if {
	input.context.strict
	some i
	op := input.plan.subscription_ops[i]
	op.op in {"register", "update"}
	not object.get(op, "metadata", {}).resource
	violation := {
		"op": sprintf("subscription_ops[%d]", [i]),
		"message": sprintf("subscription_ops[%d] (%s) is missing metadata.resource", [i, op.op]),
		"severity": "error",
	}
}`,
	}
}

// webhookOpsPolicy checks webhook ops against the op schema: unknown op
// kinds always fail; in strict mode, register/update ops must carry a
// delivery URL.
func webhookOpsPolicy() Policy {
	return Policy{
		Name:        "webhook-ops",
		Description: "Webhook ops must use a known op kind and, in strict mode, carry a delivery URL",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"op-schema", "webhook"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package greentic.policies.webhook_ops

import rego.v1

valid_ops := {"register", "update", "remove"}

deny contains violation if {
	some i
	op := input.plan.webhook_ops[i]
	not op.op in valid_ops
	violation := {
		"op": sprintf("webhook_ops[%d]", [i]),
		"message": sprintf("webhook_ops[%d] has unknown op %q", [i, op.op]),
		"severity": "error",
	}
}

warn contains violation if {
	input.context.strict
	some i
	op := input.plan.webhook_ops[i]
	op.op in {"register", "update"}
	not op.url
	violation := {
		"op": sprintf("webhook_ops[%d]", [i]),
		"message": sprintf("webhook_ops[%d] (%s) is missing a delivery url", [i, op.op]),
		"severity": "error",
	}
}`,
	}
}

// oauthOpsPolicy checks OAuth ops against the op schema: only "start" is a
// supported op; in strict mode, a start must request at least one scope.
func oauthOpsPolicy() Policy {
	return Policy{
		Name:        "oauth-ops",
		Description: "OAuth ops must use the \"start\" op and, in strict mode, request at least one scope",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"op-schema", "oauth"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package greentic.policies.oauth_ops

import rego.v1

deny contains violation if {
	some i
	op := input.plan.oauth_ops[i]
	op.op != "start"
	violation := {
		"op": sprintf("oauth_ops[%d]", [i]),
		"message": sprintf("oauth_ops[%d] has unsupported op %q (only \"start\" is supported)", [i, op.op]),
		"severity": "error",
	}
}

warn contains violation if {
	input.context.strict
	some i
	op := input.plan.oauth_ops[i]
	op.op == "start"
	count(object.get(op, "scopes", [])) == 0
	violation := {
		"op": sprintf("oauth_ops[%d]", [i]),
		"message": sprintf("oauth_ops[%d] start for provider %q requests no scopes", [i, op.provider]),
		"severity": "error",
	}
}`,
	}
}
