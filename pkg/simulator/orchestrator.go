// Package simulator runs the what-if pipeline: resolve the target
// hierarchy, collect and expand the assignments that would apply there,
// and evaluate every subscription resource against every effective
// policy to predict post-move compliance.
package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/azmove/azmove/pkg/arm"
	"github.com/azmove/azmove/pkg/assignments"
	"github.com/azmove/azmove/pkg/cache"
	"github.com/azmove/azmove/pkg/exemptions"
	"github.com/azmove/azmove/pkg/hierarchy"
	"github.com/azmove/azmove/pkg/policy"
	"github.com/azmove/azmove/pkg/resources"
)

// EvalObserver receives one callback per evaluated pair, keyed by the
// resulting compliance state.
type EvalObserver interface {
	ObserveEvaluation(state string)
}

// PhaseTracer starts one span per pipeline phase. Implemented by
// telemetry.Tracer; nil disables tracing.
type PhaseTracer interface {
	StartPhaseSpan(ctx context.Context, phase string) (context.Context, trace.Span)
}

// Deps are the API surfaces the simulator draws on. An *arm.Client
// satisfies all four; tests substitute fakes per concern.
type Deps struct {
	Groups     hierarchy.GroupFetcher
	Policies   assignments.PolicyAPI
	Exemptions exemptions.ExemptionAPI
	Resources  resources.ResourceAPI

	// Observer is optional evaluation instrumentation.
	Observer EvalObserver

	// Caches receives hit and miss events from the run-scoped caches.
	Caches cache.Observer

	// Tracer wraps each pipeline phase in a span.
	Tracer PhaseTracer
}

// Simulator orchestrates one simulation run. All caches are scoped to
// the run; a new Simulator starts cold.
type Simulator struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New validates the options and builds a run-ready simulator.
func New(deps Deps, opts Options, logger zerolog.Logger) (*Simulator, error) {
	if opts.OutputMode == "" {
		opts.OutputMode = ModeViolationsOnly
	}
	if err := validator.New().Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid simulation options: %w", err)
	}
	return &Simulator{
		deps:   deps,
		opts:   opts,
		logger: logger.With().Str("component", "simulator").Logger(),
		now:    time.Now,
	}, nil
}

// Run executes the full pipeline and returns the report. A run with no
// applicable assignments is a successful run with zero results.
func (s *Simulator) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:          uuid.NewString(),
		SubscriptionID: s.opts.SubscriptionID,
		SourceGroup:    s.opts.SourceGroup,
		TargetGroup:    s.opts.TargetGroup,
		StartedAt:      s.now(),
		Classification: ClassificationSafe,
	}

	hctx, endPhase := s.phase(ctx, "hierarchy")
	chain, err := hierarchy.NewWalker(s.deps.Groups, s.logger).Walk(hctx, s.opts.TargetGroup)
	endPhase(err)
	if err != nil {
		return nil, err
	}
	for _, level := range chain {
		report.Hierarchy = append(report.Hierarchy, level.Name)
	}

	// Subscription-scoped assignments follow the subscription through the
	// move, so its own scope is evaluated ahead of the target chain.
	scopes := make([]string, 0, len(chain)+1)
	scopes = append(scopes, "/subscriptions/"+s.opts.SubscriptionID)
	for _, level := range chain {
		scopes = append(scopes, level.Scope())
	}

	actx, endPhase := s.phase(ctx, "assignments")
	resolver := assignments.NewResolver(s.deps.Policies, s.deps.Caches, s.logger)
	assigns, err := resolver.Collect(actx, scopes)
	if err != nil {
		endPhase(err)
		return nil, err
	}
	report.AssignmentCount = len(assigns)
	if len(assigns) == 0 {
		endPhase(nil)
		s.logger.Info().Str("target", s.opts.TargetGroup).Msg("No applicable assignments, nothing to evaluate")
		report.CompletedAt = s.now()
		return report, nil
	}

	effective := resolver.ExpandAll(actx, assigns)
	endPhase(nil)
	active := make([]*policy.EffectivePolicy, 0, len(effective))
	for _, p := range effective {
		if p.ResolvedEffect == policy.EffectDisabled {
			s.logger.Debug().Str("policy", p.DisplayName()).Msg("Skipping disabled policy")
			continue
		}
		active = append(active, p)
	}
	report.PolicyCount = len(active)

	ectx, endPhase := s.phase(ctx, "exemptions")
	exempts := exemptions.Collect(ectx, s.deps.Exemptions, scopes, s.logger)
	endPhase(nil)

	rctx, endPhase := s.phase(ctx, "resources")
	inv := resources.NewInventory(s.deps.Resources, s.deps.Caches, s.logger)
	resList, err := s.inventory(rctx, inv)
	endPhase(err)
	if err != nil {
		return nil, err
	}
	report.ResourceCount = len(resList)

	vctx, endPhase := s.phase(ctx, "evaluation")
	rows, err := s.evaluateAll(vctx, inv, resList, active, exempts)
	endPhase(err)
	if err != nil {
		return nil, err
	}

	s.finalize(report, rows)
	report.CompletedAt = s.now()

	s.logger.Info().
		Str("run_id", report.RunID).
		Int("resources", report.ResourceCount).
		Int("policies", report.PolicyCount).
		Int("violations", report.ViolationCount).
		Str("classification", string(report.Classification)).
		Msg("Simulation complete")
	return report, nil
}

// phase wraps one pipeline stage in a span when a tracer is wired. The
// returned func ends the span, recording err when it is non-nil.
func (s *Simulator) phase(ctx context.Context, name string) (context.Context, func(error)) {
	if s.deps.Tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := s.deps.Tracer.StartPhaseSpan(ctx, name)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// inventory lists the resources under evaluation, honoring the
// single-resource and portal-mode narrowing options.
func (s *Simulator) inventory(ctx context.Context, inv *resources.Inventory) ([]*arm.GenericResource, error) {
	var list []*arm.GenericResource
	if s.opts.ResourceID != "" {
		res, err := inv.Get(ctx, s.opts.ResourceID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch resource %s: %w", s.opts.ResourceID, err)
		}
		list = []*arm.GenericResource{res}
	} else {
		var err error
		list, err = inv.List(ctx, s.opts.SubscriptionID, s.opts.ResourceTypes)
		if err != nil {
			return nil, fmt.Errorf("failed to list resources: %w", err)
		}
	}
	if s.opts.PortalMode {
		list = inv.FilterPortal(ctx, list)
	}
	return list, nil
}

// evaluateAll produces one unfiltered result row per (resource, policy)
// pair, grouped by resource. Parallel and sequential execution fill the
// same indexed slots, so output order is identical either way.
func (s *Simulator) evaluateAll(ctx context.Context, inv *resources.Inventory, resList []*arm.GenericResource, active []*policy.EffectivePolicy, exempts []*policy.Exemption) ([][]Result, error) {
	rows := make([][]Result, len(resList))

	if !s.opts.Parallel {
		for i, res := range resList {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rows[i] = s.evaluateResource(ctx, inv, res, active, exempts)
		}
		return rows, nil
	}

	workers := s.opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, res := range resList {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rows[i] = s.evaluateResource(gctx, inv, res, active, exempts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

// evaluateResource evaluates one resource against every active policy.
func (s *Simulator) evaluateResource(ctx context.Context, inv *resources.Inventory, res *arm.GenericResource, active []*policy.EffectivePolicy, exempts []*policy.Exemption) []Result {
	acc := inv.Accessor(ctx, res)
	results := make([]Result, 0, len(active))
	for _, p := range active {
		results = append(results, s.evaluatePair(res, acc, p, exempts))
	}
	return results
}

// evaluatePair builds the result row for one (resource, policy) pair.
func (s *Simulator) evaluatePair(res *arm.GenericResource, acc *resources.Accessor, p *policy.EffectivePolicy, exempts []*policy.Exemption) Result {
	outcome := policy.EvaluateDetailed(p.Definition.Rule.If, acc, policy.NewParamContext(p))

	r := Result{
		SubscriptionID:   s.opts.SubscriptionID,
		SourceGroup:      s.opts.SourceGroup,
		TargetGroup:      s.opts.TargetGroup,
		ResourceID:       res.ID,
		ResourceName:     res.Name,
		ResourceType:     res.Type,
		ResourceLocation: res.Location,
		AssignmentID:     p.Assignment.ID,
		AssignmentName:   assignmentName(p.Assignment),
		AssignmentScope:  p.Assignment.Scope,
		PolicyID:         p.Definition.ID,
		PolicyName:       p.DisplayName(),
		ReferenceID:      p.ReferenceID,
		RawEffect:        p.RawEffect,
		ResolvedEffect:   p.ResolvedEffect,
		EffectTrail:      p.EffectTrail,
		AssignmentParams: marshalParams(p.Assignment.Parameters),
		InitiativeParams: marshalParams(p.InitiativeBindings),
		PolicyDefaults:   marshalParams(parameterDefaults(p.Definition.Parameters)),
		Impact:           p.ResolvedEffect.Impact(),
	}
	if p.Initiative != nil {
		r.InitiativeName = p.Initiative.DisplayName
		if r.InitiativeName == "" {
			r.InitiativeName = p.Initiative.Name
		}
	}

	switch outcome {
	case policy.OutcomeMatched:
		r.Violates = true
		r.ComplianceState = StateNonCompliant
	case policy.OutcomeIndeterminate:
		r.ComplianceState = StateIndeterminate
	default:
		r.ComplianceState = StateCompliant
	}

	if r.Violates {
		r.WaiverStatus = WaiverReview
		if ex := exemptions.Match(res.ID, p.Assignment.ID, p.ReferenceID, exempts); ex != nil && !exemptions.IsExpired(ex, s.now()) {
			r.WaiverStatus = WaiverExisting
			r.ExemptionName = exemptionName(ex)
			r.ExemptionReason = ex.Description
			if ex.ExpiresOn != nil {
				r.ExemptionExpiry = ex.ExpiresOn.Format(time.RFC3339)
			}
		}
	}

	if s.deps.Observer != nil {
		s.deps.Observer.ObserveEvaluation(r.ComplianceState)
	}
	return r
}

// finalize filters rows by output mode, aggregates summaries over the
// unfiltered set, and classifies the run.
func (s *Simulator) finalize(report *Report, rows [][]Result) {
	type key struct{ assignment, policyID, refID string }
	summaryIdx := make(map[key]int)

	for _, row := range rows {
		for _, r := range row {
			k := key{r.AssignmentID, r.PolicyID, r.ReferenceID}
			idx, ok := summaryIdx[k]
			if !ok {
				idx = len(report.Summaries)
				summaryIdx[k] = idx
				report.Summaries = append(report.Summaries, PolicySummary{
					AssignmentName: r.AssignmentName,
					PolicyName:     r.PolicyName,
					ReferenceID:    r.ReferenceID,
					ResolvedEffect: string(r.ResolvedEffect),
				})
			}
			sum := &report.Summaries[idx]
			if r.Violates {
				report.ViolationCount++
				sum.Violating++
				if !containsString(sum.ViolatingTypes, r.ResourceType) {
					sum.ViolatingTypes = append(sum.ViolatingTypes, r.ResourceType)
				}
			} else {
				sum.Compliant++
			}

			if s.includes(r) {
				report.Results = append(report.Results, r)
			}
		}
	}

	if report.ViolationCount > 0 {
		report.Classification = ClassificationReview
	}
}

// includes applies the output-mode filter to one result.
func (s *Simulator) includes(r Result) bool {
	switch s.opts.OutputMode {
	case ModeViolationsOnly:
		return r.Violates
	case ModeCompliantOnly:
		return !r.Violates
	default:
		return true
	}
}

func assignmentName(a *policy.Assignment) string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Name
}

func exemptionName(ex *policy.Exemption) string {
	if ex.DisplayName != "" {
		return ex.DisplayName
	}
	return ex.Name
}

// parameterDefaults flattens a parameter schema into its declared
// default values for the report.
func parameterDefaults(specs map[string]policy.ParameterSpec) map[string]any {
	if len(specs) == 0 {
		return nil
	}
	out := make(map[string]any)
	for name, spec := range specs {
		if spec.DefaultValue != nil {
			out[name] = spec.DefaultValue
		}
	}
	return out
}

func marshalParams(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

func containsString(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}
