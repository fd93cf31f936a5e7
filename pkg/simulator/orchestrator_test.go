package simulator

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/azmove/azmove/pkg/arm"
	"github.com/azmove/azmove/pkg/policy"
)

const (
	testSub   = "7b1e3f7a-1f44-4c2e-9f0a-55aa11bb22cc"
	subScope  = "/subscriptions/" + testSub
	corpScope = "/providers/Microsoft.Management/managementGroups/corp"

	assignmentID = corpScope + "/providers/microsoft.authorization/policyassignments/allowed-locations"
)

// fakeAzure serves groups, policy objects, exemptions, and resources
// from in-memory maps keyed by lowercased identifiers.
type fakeAzure struct {
	groups      map[string]*arm.ManagementGroup
	assignments map[string][]*policy.Assignment
	definitions map[string]*policy.Definition
	setDefs     map[string]*policy.SetDefinition
	exemptions  map[string][]*policy.Exemption
	resources   []*arm.GenericResource
}

func (f *fakeAzure) GetManagementGroup(_ context.Context, name string) (*arm.ManagementGroup, error) {
	g, ok := f.groups[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("management group %s not found", name)
	}
	return g, nil
}

func (f *fakeAzure) ListPolicyAssignments(_ context.Context, scope string) ([]*policy.Assignment, error) {
	return f.assignments[strings.ToLower(scope)], nil
}

func (f *fakeAzure) GetPolicyDefinition(_ context.Context, id string) (*policy.Definition, error) {
	d, ok := f.definitions[strings.ToLower(id)]
	if !ok {
		return nil, fmt.Errorf("definition %s not found", id)
	}
	return d, nil
}

func (f *fakeAzure) GetPolicySetDefinition(_ context.Context, id string) (*policy.SetDefinition, error) {
	d, ok := f.setDefs[strings.ToLower(id)]
	if !ok {
		return nil, fmt.Errorf("set definition %s not found", id)
	}
	return d, nil
}

func (f *fakeAzure) ListPolicyExemptions(_ context.Context, scope string) ([]*policy.Exemption, error) {
	return f.exemptions[strings.ToLower(scope)], nil
}

func (f *fakeAzure) ListResources(_ context.Context, _ string, _ []string) ([]*arm.GenericResource, error) {
	return f.resources, nil
}

func (f *fakeAzure) GetResource(_ context.Context, id string) (*arm.GenericResource, error) {
	for _, res := range f.resources {
		if strings.EqualFold(res.ID, id) {
			return res, nil
		}
	}
	return nil, fmt.Errorf("resource %s not found", id)
}

func (f *fakeAzure) deps() Deps {
	return Deps{Groups: f, Policies: f, Exemptions: f, Resources: f}
}

// newFakeAzure builds the baseline fixture: a two-level hierarchy with
// an allowed-locations assignment at the target group, one compliant
// resource and one violating resource in the subscription.
func newFakeAzure() *fakeAzure {
	defID := "/providers/microsoft.authorization/policydefinitions/allowed-locations"

	return &fakeAzure{
		groups: map[string]*arm.ManagementGroup{
			"corp": {
				ID:          corpScope,
				Name:        "corp",
				DisplayName: "Corp",
				Parent:      &arm.ParentGroup{ID: "/providers/Microsoft.Management/managementGroups/mgroot", Name: "mgroot"},
			},
			"mgroot": {
				ID:          "/providers/Microsoft.Management/managementGroups/mgroot",
				Name:        "mgroot",
				DisplayName: "Tenant Root",
			},
		},
		assignments: map[string][]*policy.Assignment{
			strings.ToLower(corpScope): {{
				ID:                 assignmentID,
				Name:               "allowed-locations",
				DisplayName:        "Allowed locations",
				Scope:              corpScope,
				PolicyDefinitionID: defID,
				Parameters: map[string]any{
					"effect": map[string]any{"value": "Deny"},
				},
			}},
		},
		definitions: map[string]*policy.Definition{
			strings.ToLower(defID): {
				ID:          defID,
				Name:        "allowed-locations",
				DisplayName: "Allowed locations",
				Rule: policy.Rule{
					If: &policy.ConditionNode{
						Not: &policy.ConditionNode{
							Field:    "location",
							Operator: policy.OpIn,
							Operand:  []any{"westeurope"},
						},
					},
					Then: policy.ThenClause{Effect: "[parameters('effect')]"},
				},
				Parameters: map[string]policy.ParameterSpec{
					"effect": {Type: "String", DefaultValue: "Audit"},
				},
			},
		},
		exemptions: map[string][]*policy.Exemption{},
		resources: []*arm.GenericResource{
			{
				ID:       subScope + "/resourceGroups/rg1/providers/Microsoft.Compute/virtualMachines/vm-we",
				Name:     "vm-we",
				Type:     "Microsoft.Compute/virtualMachines",
				Location: "westeurope",
			},
			{
				ID:       subScope + "/resourceGroups/rg1/providers/Microsoft.Storage/storageAccounts/steast",
				Name:     "steast",
				Type:     "Microsoft.Storage/storageAccounts",
				Location: "eastus",
			},
		},
	}
}

func defaultOptions() Options {
	return Options{
		SubscriptionID: testSub,
		SourceGroup:    "legacy",
		TargetGroup:    "corp",
		OutputMode:     ModeAll,
	}
}

func runSimulation(t *testing.T, fake *fakeAzure, opts Options) *Report {
	t.Helper()
	sim, err := New(fake.deps(), opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	report, err := sim.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	return report
}

func findResult(t *testing.T, report *Report, resourceName string) Result {
	t.Helper()
	for _, r := range report.Results {
		if r.ResourceName == resourceName {
			return r
		}
	}
	t.Fatalf("no result for resource %s (got %d results)", resourceName, len(report.Results))
	return Result{}
}

func TestRunDenyViolation(t *testing.T) {
	report := runSimulation(t, newFakeAzure(), defaultOptions())

	if got := len(report.Results); got != 2 {
		t.Fatalf("expected 2 results, got %d", got)
	}
	if report.Classification != ClassificationReview {
		t.Errorf("classification = %s, want %s", report.Classification, ClassificationReview)
	}
	if report.ViolationCount != 1 {
		t.Errorf("violation count = %d, want 1", report.ViolationCount)
	}
	if want := []string{"corp", "mgroot"}; !reflect.DeepEqual(report.Hierarchy, want) {
		t.Errorf("hierarchy = %v, want %v", report.Hierarchy, want)
	}

	bad := findResult(t, report, "steast")
	if !bad.Violates {
		t.Error("eastus resource should violate the allowed-locations policy")
	}
	if bad.ResolvedEffect != policy.EffectDeny {
		t.Errorf("resolved effect = %s, want Deny", bad.ResolvedEffect)
	}
	if bad.ComplianceState != StateNonCompliant {
		t.Errorf("compliance state = %s, want %s", bad.ComplianceState, StateNonCompliant)
	}
	if bad.WaiverStatus != WaiverReview {
		t.Errorf("waiver status = %q, want %q", bad.WaiverStatus, WaiverReview)
	}
	if bad.RawEffect != "[parameters('effect')]" {
		t.Errorf("raw effect = %q", bad.RawEffect)
	}
	if bad.Impact == "" {
		t.Error("impact description should not be empty")
	}

	good := findResult(t, report, "vm-we")
	if good.Violates {
		t.Error("westeurope resource should be compliant")
	}
	if good.ComplianceState != StateCompliant {
		t.Errorf("compliance state = %s, want %s", good.ComplianceState, StateCompliant)
	}
	if good.WaiverStatus != "" {
		t.Errorf("compliant result should carry no waiver status, got %q", good.WaiverStatus)
	}
}

func TestRunDoNotEnforceDowngradesEffect(t *testing.T) {
	fake := newFakeAzure()
	fake.assignments[strings.ToLower(corpScope)][0].EnforcementMode = policy.EnforcementDoNotEnforce

	report := runSimulation(t, fake, defaultOptions())

	bad := findResult(t, report, "steast")
	if !bad.Violates {
		t.Error("matching is unaffected by enforcement mode")
	}
	if bad.ResolvedEffect != policy.EffectAudit {
		t.Errorf("resolved effect = %s, want Audit under DoNotEnforce", bad.ResolvedEffect)
	}

	found := false
	for _, step := range bad.EffectTrail {
		if step == "doNotEnforce:Deny->Audit" {
			found = true
		}
	}
	if !found {
		t.Errorf("effect trail %v missing the enforcement substitution step", bad.EffectTrail)
	}
}

func TestRunExemptionMarksWaiver(t *testing.T) {
	fake := newFakeAzure()
	expires := time.Now().Add(24 * time.Hour)
	fake.exemptions[strings.ToLower(subScope)] = []*policy.Exemption{{
		ID:                 subScope + "/providers/microsoft.authorization/policyexemptions/waiver-1",
		Name:               "waiver-1",
		DisplayName:        "Existing waiver",
		Scope:              subScope,
		PolicyAssignmentID: assignmentID,
		Description:        "approved by security",
		ExpiresOn:          &expires,
	}}

	report := runSimulation(t, fake, defaultOptions())

	bad := findResult(t, report, "steast")
	if !bad.Violates {
		t.Error("exemption must not flip the violation itself")
	}
	if bad.WaiverStatus != WaiverExisting {
		t.Errorf("waiver status = %q, want %q", bad.WaiverStatus, WaiverExisting)
	}
	if bad.ExemptionName != "Existing waiver" {
		t.Errorf("exemption name = %q", bad.ExemptionName)
	}
	if bad.ExemptionReason != "approved by security" {
		t.Errorf("exemption reason = %q", bad.ExemptionReason)
	}
	if report.Classification != ClassificationReview {
		t.Errorf("exempted violations still classify the run as %s", ClassificationReview)
	}
}

func TestRunResourceGroupExemptionCoversOnlyItsGroup(t *testing.T) {
	fake := newFakeAzure()
	fake.resources = append(fake.resources, &arm.GenericResource{
		ID:       subScope + "/resourceGroups/rg2/providers/Microsoft.Storage/storageAccounts/stsouth",
		Name:     "stsouth",
		Type:     "Microsoft.Storage/storageAccounts",
		Location: "southeastasia",
	})

	// Declared on rg1, so it surfaces through the subscription-scope
	// listing rather than a listing of its own scope.
	fake.exemptions[strings.ToLower(subScope)] = []*policy.Exemption{{
		ID:                 subScope + "/resourceGroups/rg1/providers/microsoft.authorization/policyexemptions/rg-waiver",
		Name:               "rg-waiver",
		DisplayName:        "rg1 waiver",
		Scope:              subScope + "/resourceGroups/rg1",
		PolicyAssignmentID: assignmentID,
	}}

	report := runSimulation(t, fake, defaultOptions())

	inRG := findResult(t, report, "steast")
	if inRG.WaiverStatus != WaiverExisting {
		t.Errorf("rg1 violation waiver status = %q, want %q", inRG.WaiverStatus, WaiverExisting)
	}
	if inRG.ExemptionName != "rg1 waiver" {
		t.Errorf("exemption name = %q", inRG.ExemptionName)
	}

	outside := findResult(t, report, "stsouth")
	if !outside.Violates {
		t.Fatal("rg2 resource should violate the allowed-locations policy")
	}
	if outside.WaiverStatus != WaiverReview {
		t.Errorf("rg2 violation waiver status = %q, want %q", outside.WaiverStatus, WaiverReview)
	}
}

func TestRunExpiredExemptionNeedsReview(t *testing.T) {
	fake := newFakeAzure()
	expired := time.Now().Add(-time.Hour)
	fake.exemptions[strings.ToLower(subScope)] = []*policy.Exemption{{
		ID:                 subScope + "/providers/microsoft.authorization/policyexemptions/waiver-1",
		Name:               "waiver-1",
		Scope:              subScope,
		PolicyAssignmentID: assignmentID,
		ExpiresOn:          &expired,
	}}

	report := runSimulation(t, fake, defaultOptions())

	bad := findResult(t, report, "steast")
	if bad.WaiverStatus != WaiverReview {
		t.Errorf("expired exemption should leave status %q, got %q", WaiverReview, bad.WaiverStatus)
	}
}

func TestRunNoAssignments(t *testing.T) {
	fake := newFakeAzure()
	fake.assignments = map[string][]*policy.Assignment{}

	report := runSimulation(t, fake, defaultOptions())

	if len(report.Results) != 0 {
		t.Errorf("expected no results, got %d", len(report.Results))
	}
	if report.AssignmentCount != 0 {
		t.Errorf("assignment count = %d, want 0", report.AssignmentCount)
	}
	if report.Classification != ClassificationSafe {
		t.Errorf("classification = %s, want %s", report.Classification, ClassificationSafe)
	}
}

func TestRunViolationsOnlyFilter(t *testing.T) {
	opts := defaultOptions()
	opts.OutputMode = ModeViolationsOnly

	report := runSimulation(t, newFakeAzure(), opts)

	if len(report.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(report.Results))
	}
	if report.Results[0].ResourceName != "steast" {
		t.Errorf("filtered result = %s, want steast", report.Results[0].ResourceName)
	}

	// Summaries aggregate over the unfiltered pair set.
	if len(report.Summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(report.Summaries))
	}
	sum := report.Summaries[0]
	if sum.Violating != 1 || sum.Compliant != 1 {
		t.Errorf("summary counts = %d/%d, want 1/1", sum.Violating, sum.Compliant)
	}
	if !reflect.DeepEqual(sum.ViolatingTypes, []string{"Microsoft.Storage/storageAccounts"}) {
		t.Errorf("violating types = %v", sum.ViolatingTypes)
	}
}

func TestRunDisabledPolicySkipped(t *testing.T) {
	fake := newFakeAzure()
	fake.assignments[strings.ToLower(corpScope)][0].Parameters = map[string]any{
		"effect": map[string]any{"value": "Disabled"},
	}

	report := runSimulation(t, fake, defaultOptions())

	if report.PolicyCount != 0 {
		t.Errorf("policy count = %d, want 0 after disabling", report.PolicyCount)
	}
	if len(report.Results) != 0 {
		t.Errorf("disabled policy should produce no results, got %d", len(report.Results))
	}
	if report.Classification != ClassificationSafe {
		t.Errorf("classification = %s, want %s", report.Classification, ClassificationSafe)
	}
}

func TestRunSingleResource(t *testing.T) {
	opts := defaultOptions()
	opts.ResourceID = subScope + "/resourceGroups/rg1/providers/Microsoft.Storage/storageAccounts/steast"

	report := runSimulation(t, newFakeAzure(), opts)

	if report.ResourceCount != 1 {
		t.Fatalf("resource count = %d, want 1", report.ResourceCount)
	}
	if len(report.Results) != 1 || report.Results[0].ResourceName != "steast" {
		t.Fatalf("unexpected results: %+v", report.Results)
	}
}

func TestRunParallelMatchesSequential(t *testing.T) {
	fake := newFakeAzure()
	for i := 0; i < 20; i++ {
		loc := "westeurope"
		if i%3 == 0 {
			loc = "eastus"
		}
		fake.resources = append(fake.resources, &arm.GenericResource{
			ID:       fmt.Sprintf("%s/resourceGroups/rg2/providers/Microsoft.Compute/virtualMachines/vm-%02d", subScope, i),
			Name:     fmt.Sprintf("vm-%02d", i),
			Type:     "Microsoft.Compute/virtualMachines",
			Location: loc,
		})
	}

	sequential := runSimulation(t, fake, defaultOptions())

	opts := defaultOptions()
	opts.Parallel = true
	opts.Workers = 4
	parallel := runSimulation(t, fake, opts)

	if !reflect.DeepEqual(sequential.Results, parallel.Results) {
		t.Error("parallel evaluation must produce the same results in the same order")
	}
	if !reflect.DeepEqual(sequential.Summaries, parallel.Summaries) {
		t.Error("parallel evaluation must produce identical summaries")
	}
}

// runInstrumentation records phase spans and cache events from one run.
type runInstrumentation struct {
	mu     sync.Mutex
	phases []string
	caches map[string]int
}

func (o *runInstrumentation) StartPhaseSpan(ctx context.Context, phase string) (context.Context, trace.Span) {
	o.mu.Lock()
	o.phases = append(o.phases, phase)
	o.mu.Unlock()
	return ctx, trace.SpanFromContext(ctx)
}

func (o *runInstrumentation) RecordCacheEvent(cache, event string) {
	o.mu.Lock()
	if o.caches == nil {
		o.caches = make(map[string]int)
	}
	o.caches[cache+"/"+event]++
	o.mu.Unlock()
}

func TestRunInstrumentsPhasesAndCaches(t *testing.T) {
	instr := &runInstrumentation{}
	deps := newFakeAzure().deps()
	deps.Tracer = instr
	deps.Caches = instr

	sim, err := New(deps, defaultOptions(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := sim.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	want := []string{"hierarchy", "assignments", "exemptions", "resources", "evaluation"}
	if !reflect.DeepEqual(instr.phases, want) {
		t.Errorf("phases = %v, want %v", instr.phases, want)
	}

	// The single assignment's definition is fetched exactly once.
	if got := instr.caches["policy_definitions/miss"]; got != 1 {
		t.Errorf("definition cache misses = %d, want 1", got)
	}
	if got := instr.caches["policy_definitions/hit"]; got != 0 {
		t.Errorf("definition cache hits = %d, want 0", got)
	}
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	cases := []struct {
		name string
		opts Options
	}{
		{"missing subscription", Options{TargetGroup: "corp", OutputMode: ModeAll}},
		{"malformed subscription", Options{SubscriptionID: "not-a-uuid", TargetGroup: "corp", OutputMode: ModeAll}},
		{"missing target group", Options{SubscriptionID: testSub, OutputMode: ModeAll}},
		{"bad output mode", Options{SubscriptionID: testSub, TargetGroup: "corp", OutputMode: "everything"}},
		{"negative workers", Options{SubscriptionID: testSub, TargetGroup: "corp", OutputMode: ModeAll, Workers: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(Deps{}, tc.opts, zerolog.Nop()); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
