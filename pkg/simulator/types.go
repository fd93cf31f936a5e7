package simulator

import (
	"time"

	"github.com/azmove/azmove/pkg/policy"
)

// OutputMode filters which (resource, policy) results a run emits.
type OutputMode string

const (
	ModeViolationsOnly OutputMode = "violations-only"
	ModeCompliantOnly  OutputMode = "compliant-only"
	ModeAll            OutputMode = "all"
)

// Classification is the run-level verdict.
type Classification string

const (
	// ClassificationSafe means no violating pair was found: the
	// subscription can move without new policy impact.
	ClassificationSafe Classification = "safe-to-migrate"

	// ClassificationReview means at least one violating pair needs review
	// before the move.
	ClassificationReview Classification = "requires-review"
)

// Waiver status labels, kept from the original report vocabulary.
const (
	// WaiverExisting marks a violation already covered by an exemption.
	WaiverExisting = "Existente"

	// WaiverReview marks a violation with no covering exemption.
	WaiverReview = "Revisar"
)

// Compliance state labels per evaluated pair.
const (
	StateNonCompliant  = "NonCompliant"
	StateCompliant     = "Compliant"
	StateIndeterminate = "Indeterminate"
)

// Options configures one simulation run.
type Options struct {
	// SubscriptionID is the subscription whose resources are evaluated.
	SubscriptionID string `validate:"required,uuid"`

	// SourceGroup is the management group the subscription currently
	// lives under, recorded in the report.
	SourceGroup string

	// TargetGroup is the candidate destination management group.
	TargetGroup string `validate:"required"`

	// OutputMode filters emitted results.
	OutputMode OutputMode `validate:"oneof=violations-only compliant-only all"`

	// ResourceTypes narrows the inventory to the given resource types.
	ResourceTypes []string

	// ResourceID evaluates a single resource instead of the inventory.
	ResourceID string

	// Parallel enables bounded fan-out across the resource dimension.
	Parallel bool

	// Workers overrides the worker count; zero means one worker per
	// logical processor.
	Workers int `validate:"gte=0"`

	// PortalMode applies the reference portal's resource narrowing
	// (network interfaces with a public IP only) before evaluation.
	PortalMode bool
}

// Result is one evaluated (resource, effective policy) pair.
type Result struct {
	SubscriptionID string `json:"subscription_id"`
	SourceGroup    string `json:"source_group"`
	TargetGroup    string `json:"target_group"`

	ResourceID       string `json:"resource_id"`
	ResourceName     string `json:"resource_name"`
	ResourceType     string `json:"resource_type"`
	ResourceLocation string `json:"resource_location"`

	AssignmentID    string `json:"assignment_id"`
	AssignmentName  string `json:"assignment_name"`
	AssignmentScope string `json:"assignment_scope"`
	InitiativeName  string `json:"initiative_name,omitempty"`
	PolicyID        string `json:"policy_id"`
	PolicyName      string `json:"policy_name"`
	ReferenceID     string `json:"policy_definition_reference_id,omitempty"`

	RawEffect      string        `json:"raw_effect"`
	ResolvedEffect policy.Effect `json:"resolved_effect"`
	EffectTrail    []string      `json:"effect_trail,omitempty"`

	// Serialized parameter contexts for the export report.
	AssignmentParams string `json:"assignment_parameters,omitempty"`
	InitiativeParams string `json:"initiative_parameters,omitempty"`
	PolicyDefaults   string `json:"policy_defaults,omitempty"`

	Violates        bool   `json:"violates"`
	ComplianceState string `json:"compliance_state"`
	Impact          string `json:"impact"`

	WaiverStatus    string `json:"waiver_status,omitempty"`
	ExemptionName   string `json:"exemption_name,omitempty"`
	ExemptionReason string `json:"exemption_reason,omitempty"`
	ExemptionExpiry string `json:"exemption_expiry,omitempty"`
}

// PolicySummary aggregates one effective policy's results across the
// resource set.
type PolicySummary struct {
	AssignmentName string   `json:"assignment_name"`
	PolicyName     string   `json:"policy_name"`
	ReferenceID    string   `json:"policy_definition_reference_id,omitempty"`
	ResolvedEffect string   `json:"resolved_effect"`
	Violating      int      `json:"violating"`
	Compliant      int      `json:"compliant"`
	ViolatingTypes []string `json:"violating_types,omitempty"`
}

// Report is the outcome of one simulation run.
type Report struct {
	RunID          string          `json:"run_id"`
	SubscriptionID string          `json:"subscription_id"`
	SourceGroup    string          `json:"source_group"`
	TargetGroup    string          `json:"target_group"`
	Hierarchy      []string        `json:"hierarchy"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    time.Time       `json:"completed_at"`
	Classification Classification  `json:"classification"`
	Results        []Result        `json:"results"`
	Summaries      []PolicySummary `json:"summaries"`

	AssignmentCount int `json:"assignment_count"`
	PolicyCount     int `json:"policy_count"`
	ResourceCount   int `json:"resource_count"`
	ViolationCount  int `json:"violation_count"`
}
