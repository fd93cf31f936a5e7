// Package assignments collects and expands policy assignments across an
// inherited scope chain: deduplication by assignment ID, initiative
// expansion into member policies, and effect pre-resolution.
package assignments

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/azmove/azmove/pkg/cache"
	"github.com/azmove/azmove/pkg/policy"
)

// PolicyAPI is the slice of the ARM client the resolver needs.
type PolicyAPI interface {
	ListPolicyAssignments(ctx context.Context, scope string) ([]*policy.Assignment, error)
	GetPolicyDefinition(ctx context.Context, id string) (*policy.Definition, error)
	GetPolicySetDefinition(ctx context.Context, id string) (*policy.SetDefinition, error)
}

// Resolver fetches assignments and expands them into evaluatable
// effective policies. Definition fetches are cached by ID for the run.
type Resolver struct {
	client         PolicyAPI
	definitions    *cache.Map[*policy.Definition]
	setDefinitions *cache.Map[*policy.SetDefinition]
	logger         zerolog.Logger
}

// NewResolver creates an assignment resolver with fresh run-scoped caches.
// A non-nil caches observer receives their hit and miss events.
func NewResolver(client PolicyAPI, caches cache.Observer, logger zerolog.Logger) *Resolver {
	return &Resolver{
		client:         client,
		definitions:    cache.NewObserved[*policy.Definition]("policy_definitions", caches),
		setDefinitions: cache.NewObserved[*policy.SetDefinition]("policy_set_definitions", caches),
		logger:         logger.With().Str("component", "assignment-resolver").Logger(),
	}
}

// Collect lists assignments scoped exactly to each level, from the target
// outward, deduplicated by assignment ID. The first occurrence wins; the
// same assignment visible again at an ancestor scope is dropped. A level
// that fails to list is logged and skipped; an error is returned only when
// every level failed.
func (r *Resolver) Collect(ctx context.Context, scopes []string) ([]*policy.Assignment, error) {
	var collected []*policy.Assignment
	seen := make(map[string]bool)
	failures := 0

	for _, scope := range scopes {
		list, err := r.client.ListPolicyAssignments(ctx, scope)
		if err != nil {
			failures++
			r.logger.Warn().Err(err).Str("scope", scope).Msg("Failed to list assignments at scope")
			continue
		}

		for _, a := range list {
			key := strings.ToLower(a.ID)
			if seen[key] {
				continue
			}
			seen[key] = true
			collected = append(collected, a)
		}
	}

	if failures == len(scopes) && len(scopes) > 0 {
		return nil, fmt.Errorf("failed to list assignments at all %d scopes", len(scopes))
	}

	r.logger.Info().
		Int("scopes", len(scopes)).
		Int("assignments", len(collected)).
		Msg("Applicable assignments collected")
	return collected, nil
}

// Expand resolves one assignment into its effective policies: a single
// entry for a direct policy assignment, one entry per member for an
// initiative. Member expansion failures are logged and skipped without
// aborting the rest of the initiative.
func (r *Resolver) Expand(ctx context.Context, a *policy.Assignment) ([]*policy.EffectivePolicy, error) {
	if !policy.IsInitiativeID(a.PolicyDefinitionID) {
		def, err := r.definition(ctx, a.PolicyDefinitionID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve definition for assignment %s: %w", a.Name, err)
		}
		return []*policy.EffectivePolicy{r.effective(a, def, nil, policy.DefinitionReference{})}, nil
	}

	setDef, err := r.setDefinition(ctx, a.PolicyDefinitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve initiative for assignment %s: %w", a.Name, err)
	}

	expanded := make([]*policy.EffectivePolicy, 0, len(setDef.References))
	for _, ref := range setDef.References {
		def, err := r.definition(ctx, ref.PolicyDefinitionID)
		if err != nil {
			r.logger.Warn().
				Err(err).
				Str("initiative", setDef.Name).
				Str("member", ref.PolicyDefinitionID).
				Msg("Skipping unresolvable initiative member")
			continue
		}
		expanded = append(expanded, r.effective(a, def, setDef, ref))
	}

	r.logger.Debug().
		Str("initiative", setDef.Name).
		Int("members", len(expanded)).
		Msg("Initiative expanded")
	return expanded, nil
}

// ExpandAll expands every assignment, isolating per-assignment failures.
func (r *Resolver) ExpandAll(ctx context.Context, list []*policy.Assignment) []*policy.EffectivePolicy {
	var all []*policy.EffectivePolicy
	for _, a := range list {
		expanded, err := r.Expand(ctx, a)
		if err != nil {
			r.logger.Warn().Err(err).Str("assignment", a.Name).Msg("Skipping unresolvable assignment")
			continue
		}
		all = append(all, expanded...)
	}
	return all
}

// effective builds one effective policy with its pre-resolved effect.
func (r *Resolver) effective(a *policy.Assignment, def *policy.Definition, setDef *policy.SetDefinition, ref policy.DefinitionReference) *policy.EffectivePolicy {
	p := &policy.EffectivePolicy{
		Assignment:         a,
		Definition:         def,
		Initiative:         setDef,
		ReferenceID:        ref.ReferenceID,
		InitiativeBindings: ref.Parameters,
		RawEffect:          def.Rule.Then.Effect,
	}
	p.ResolvedEffect, p.EffectTrail = policy.ResolveEffect(p.RawEffect, a.Mode(), policy.NewParamContext(p))
	return p
}

func (r *Resolver) definition(ctx context.Context, id string) (*policy.Definition, error) {
	return r.definitions.GetOrLoad(strings.ToLower(id), func() (*policy.Definition, error) {
		return r.client.GetPolicyDefinition(ctx, id)
	})
}

func (r *Resolver) setDefinition(ctx context.Context, id string) (*policy.SetDefinition, error) {
	return r.setDefinitions.GetOrLoad(strings.ToLower(id), func() (*policy.SetDefinition, error) {
		return r.client.GetPolicySetDefinition(ctx, id)
	})
}
