package provision

import "encoding/json"

// MergePatch folds patch into the plan in place. The merge is monotone
// and order-sensitive: config_patch and secrets_patch.set overwrite by
// key (later patches win on conflicting keys), secrets_patch.delete and
// the three ops lists append. A nil field on patch leaves the
// corresponding part of the plan untouched.
func (p *ProvisionPlan) MergePatch(patch ProvisionPlanPatch) {
	if patch.ConfigPatch != nil {
		patch.ConfigPatch.Range(func(key string, value json.RawMessage) {
			p.ConfigPatch.Set(key, value)
		})
	}
	if patch.SecretsPatch != nil {
		patch.SecretsPatch.Set.Range(func(key string, value RedactedValue) {
			p.SecretsPatch.Set.Set(key, value)
		})
		p.SecretsPatch.Delete = append(p.SecretsPatch.Delete, patch.SecretsPatch.Delete...)
	}
	if patch.WebhookOps != nil {
		p.WebhookOps = append(p.WebhookOps, patch.WebhookOps...)
	}
	if patch.SubscriptionOps != nil {
		p.SubscriptionOps = append(p.SubscriptionOps, patch.SubscriptionOps...)
	}
	if patch.OAuthOps != nil {
		p.OAuthOps = append(p.OAuthOps, patch.OAuthOps...)
	}
	if patch.Notes != nil {
		p.Notes = append(p.Notes, patch.Notes...)
	}
}
