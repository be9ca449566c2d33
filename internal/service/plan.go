package service

import (
	"strings"

	"github.com/nordvik/trena/internal/repository"
)

// PlanClassifier decides whether a plan grants premium access.
//
// A plan is premium-granting when its Stripe lookup key is in the configured
// premium-key set, or when its name contains the word "premium". The union of
// both checks is deliberate: trainer-created plans carry no lookup key and are
// classified by name alone.
type PlanClassifier struct {
	premiumKeys map[string]struct{}
}

// NewPlanClassifier builds a classifier from the configured premium lookup
// keys. Key matching is case-insensitive.
func NewPlanClassifier(premiumKeys []string) *PlanClassifier {
	keys := make(map[string]struct{}, len(premiumKeys))
	for _, k := range premiumKeys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			keys[k] = struct{}{}
		}
	}
	return &PlanClassifier{premiumKeys: keys}
}

// IsPremiumPlan reports whether the plan grants premium access. A nil plan is
// never premium: a subscription with no resolvable plan must not grant access.
func (c *PlanClassifier) IsPremiumPlan(plan *repository.Plan) bool {
	if plan == nil {
		return false
	}

	if plan.StripeLookupKey.Valid {
		if _, ok := c.premiumKeys[strings.ToLower(plan.StripeLookupKey.String)]; ok {
			return true
		}
	}

	return strings.Contains(strings.ToLower(plan.Name), "premium")
}
