package policy

import (
	"encoding/json"
	"strings"
	"time"
)

// EnforcementMode controls whether an assignment's effect is actually
// enforced or downgraded to non-blocking.
type EnforcementMode string

const (
	// EnforcementDefault enforces the assigned effect as declared.
	EnforcementDefault EnforcementMode = "Default"

	// EnforcementDoNotEnforce downgrades blocking effects to audit-style ones.
	EnforcementDoNotEnforce EnforcementMode = "DoNotEnforce"
)

// Effect is a policy effect after parameter resolution.
type Effect string

const (
	EffectDeny              Effect = "Deny"
	EffectDenyAction        Effect = "DenyAction"
	EffectAudit             Effect = "Audit"
	EffectAuditIfNotExists  Effect = "AuditIfNotExists"
	EffectDeployIfNotExists Effect = "DeployIfNotExists"
	EffectModify            Effect = "Modify"
	EffectAppend            Effect = "Append"
	EffectDisabled          Effect = "Disabled"
	EffectManual            Effect = "Manual"

	// EffectUnresolved marks an effect whose parameter chain could not be
	// resolved from any source. It must never be coerced to a known effect.
	EffectUnresolved Effect = "Unresolved"
)

var knownEffects = []Effect{
	EffectDeny, EffectDenyAction, EffectAudit, EffectAuditIfNotExists,
	EffectDeployIfNotExists, EffectModify, EffectAppend, EffectDisabled,
	EffectManual,
}

// NormalizeEffect canonicalizes an effect string, case-insensitively.
// Unknown effect names pass through unchanged.
func NormalizeEffect(raw string) Effect {
	for _, e := range knownEffects {
		if strings.EqualFold(raw, string(e)) {
			return e
		}
	}
	return Effect(raw)
}

// Impact returns a human-readable description of what the effect would do
// to a matching resource after the move.
func (e Effect) Impact() string {
	switch e {
	case EffectDeny:
		return "Blocks creation or update of the resource"
	case EffectDenyAction:
		return "Blocks specific actions on the resource"
	case EffectAudit:
		return "Flags the resource as non-compliant, no blocking"
	case EffectAuditIfNotExists:
		return "Flags the resource when a related resource is missing"
	case EffectDeployIfNotExists:
		return "Deploys a remediation resource on next evaluation"
	case EffectModify:
		return "Alters properties or tags on create or update"
	case EffectAppend:
		return "Appends fields to the resource on create or update"
	case EffectDisabled:
		return "Policy is disabled, no evaluation"
	case EffectManual:
		return "Compliance is attested manually"
	case EffectUnresolved:
		return "Effect could not be resolved, review the assignment parameters"
	default:
		return "Unrecognized effect, review the policy definition"
	}
}

// ParameterSpec is one entry of a definition's parameter schema.
type ParameterSpec struct {
	Type          string          `json:"type"`
	DefaultValue  any             `json:"defaultValue,omitempty"`
	AllowedValues []any           `json:"allowedValues,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// Rule is a definition's policyRule: an applicability condition plus the
// effect to apply to matching resources.
type Rule struct {
	If   *ConditionNode `json:"if"`
	Then ThenClause     `json:"then"`
}

// ThenClause carries the raw effect, which may be a literal or a
// parameter reference like "[parameters('effect')]".
type ThenClause struct {
	Effect string `json:"effect"`
}

// Definition is a policy definition. Immutable once fetched; cached by ID
// for the lifetime of a run.
type Definition struct {
	ID          string                   `json:"id"`
	Name        string                   `json:"name"`
	DisplayName string                   `json:"displayName"`
	Description string                   `json:"description,omitempty"`
	PolicyType  string                   `json:"policyType,omitempty"`
	Mode        string                   `json:"mode,omitempty"`
	Rule        Rule                     `json:"policyRule"`
	Parameters  map[string]ParameterSpec `json:"parameters,omitempty"`
}

// DefinitionReference is one member of an initiative, binding initiative
// parameters to the inner definition's parameters.
type DefinitionReference struct {
	PolicyDefinitionID string         `json:"policyDefinitionId"`
	ReferenceID        string         `json:"policyDefinitionReferenceId,omitempty"`
	Parameters         map[string]any `json:"parameters,omitempty"`
}

// SetDefinition is an initiative (policy set definition).
type SetDefinition struct {
	ID          string                   `json:"id"`
	Name        string                   `json:"name"`
	DisplayName string                   `json:"displayName"`
	Description string                   `json:"description,omitempty"`
	PolicyType  string                   `json:"policyType,omitempty"`
	References  []DefinitionReference    `json:"policyDefinitions"`
	Parameters  map[string]ParameterSpec `json:"parameters,omitempty"`
}

// IsInitiativeID reports whether a policy definition ID refers to an
// initiative rather than a single definition.
func IsInitiativeID(id string) bool {
	return strings.Contains(strings.ToLower(id), "/policysetdefinitions/")
}

// Assignment binds a definition or initiative to a scope with concrete
// parameter values and an enforcement mode.
type Assignment struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	DisplayName        string          `json:"displayName,omitempty"`
	Scope              string          `json:"scope"`
	PolicyDefinitionID string          `json:"policyDefinitionId"`
	EnforcementMode    EnforcementMode `json:"enforcementMode,omitempty"`
	Parameters         map[string]any  `json:"parameters,omitempty"`
	NotScopes          []string        `json:"notScopes,omitempty"`
}

// Mode returns the assignment's enforcement mode, defaulting to Default
// when the API omitted the field.
func (a *Assignment) Mode() EnforcementMode {
	if strings.EqualFold(string(a.EnforcementMode), string(EnforcementDoNotEnforce)) {
		return EnforcementDoNotEnforce
	}
	return EnforcementDefault
}

// Exemption declares a resource subtree exempt from one assignment.
type Exemption struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	DisplayName        string     `json:"displayName,omitempty"`
	Scope              string     `json:"scope"`
	PolicyAssignmentID string     `json:"policyAssignmentId"`
	ReferenceIDs       []string   `json:"policyDefinitionReferenceIds,omitempty"`
	Category           string     `json:"exemptionCategory,omitempty"`
	Description        string     `json:"description,omitempty"`
	ExpiresOn          *time.Time `json:"expiresOn,omitempty"`
}

// EffectivePolicy is one evaluatable (assignment, definition) pair after
// initiative expansion, carrying everything parameter resolution needs.
type EffectivePolicy struct {
	Assignment *Assignment
	Definition *Definition

	// Initiative is set when the assignment targets a set definition.
	Initiative *SetDefinition

	// ReferenceID is the member's policyDefinitionReferenceId within the
	// initiative, empty for direct assignments.
	ReferenceID string

	// InitiativeBindings maps the inner definition's parameter names to the
	// initiative's binding expressions for this member.
	InitiativeBindings map[string]any

	// RawEffect is the definition's then.effect before resolution.
	RawEffect string

	// ResolvedEffect is the effect after parameter resolution and
	// enforcement-mode substitution.
	ResolvedEffect Effect

	// EffectTrail records each resolution step for the export report.
	EffectTrail []string
}

// DisplayName returns the best human-readable name for the pair.
func (p *EffectivePolicy) DisplayName() string {
	if p.Definition != nil && p.Definition.DisplayName != "" {
		return p.Definition.DisplayName
	}
	if p.Definition != nil {
		return p.Definition.Name
	}
	return ""
}
