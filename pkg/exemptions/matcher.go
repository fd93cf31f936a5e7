// Package exemptions decides whether a resource and assignment pair is
// covered by an existing policy exemption.
package exemptions

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/azmove/azmove/pkg/policy"
)

// ExemptionAPI is the slice of the ARM client the collector needs.
type ExemptionAPI interface {
	ListPolicyExemptions(ctx context.Context, scope string) ([]*policy.Exemption, error)
}

// Collect fetches the exemptions visible at each scope in the chain,
// deduplicated by ID. The subscription-scope listing includes exemptions
// declared on resource groups and resources inside it. A scope that fails
// to list is logged and skipped: a missing exemption only means a finding
// is reported as needing review.
func Collect(ctx context.Context, client ExemptionAPI, scopes []string, logger zerolog.Logger) []*policy.Exemption {
	var all []*policy.Exemption
	seen := make(map[string]bool)

	for _, scope := range scopes {
		list, err := client.ListPolicyExemptions(ctx, scope)
		if err != nil {
			logger.Warn().Err(err).Str("scope", scope).Msg("Failed to list exemptions at scope")
			continue
		}
		for _, ex := range list {
			key := strings.ToLower(ex.ID)
			if seen[key] {
				continue
			}
			seen[key] = true
			all = append(all, ex)
		}
	}
	return all
}

// Match finds the first exemption covering the given resource and
// assignment. An exemption matches when its bound assignment ID equals the
// target assignment ID, its declared policy-definition-reference IDs (if
// any) contain the supplied reference ID, and the resource ID starts with
// the exemption scope, case-insensitively. No ordering beyond fetch order
// is promised.
func Match(resourceID, assignmentID, referenceID string, all []*policy.Exemption) *policy.Exemption {
	for _, ex := range all {
		if !strings.EqualFold(ex.PolicyAssignmentID, assignmentID) {
			continue
		}
		if len(ex.ReferenceIDs) > 0 && referenceID != "" && !containsFold(ex.ReferenceIDs, referenceID) {
			continue
		}
		if scopeCovers(ex.Scope, resourceID) {
			return ex
		}
	}
	return nil
}

// IsExpired reports whether the exemption's expiry has passed.
func IsExpired(ex *policy.Exemption, now time.Time) bool {
	return ex.ExpiresOn != nil && ex.ExpiresOn.Before(now)
}

// scopeCovers reports whether the resource ID falls under the scope path.
// Containment is prefix-based on path segments: "/subscriptions/S/resourceGroups/RG"
// covers every resource nested under that resource group.
func scopeCovers(scope, resourceID string) bool {
	scope = strings.ToLower(strings.TrimSuffix(scope, "/"))
	id := strings.ToLower(resourceID)
	if scope == "" {
		return false
	}
	if !strings.HasPrefix(id, scope) {
		return false
	}
	// Reject partial-segment prefixes: "/rg" must not cover "/rg2/...".
	return len(id) == len(scope) || id[len(scope)] == '/'
}

func containsFold(list []string, target string) bool {
	for _, item := range list {
		if strings.EqualFold(item, target) {
			return true
		}
	}
	return false
}
