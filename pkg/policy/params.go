package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// maxResolveDepth bounds recursive parameter resolution. A pathological
// circular reference (A -> B -> A) terminates here and returns the last
// resolved, possibly still symbolic, value.
const maxResolveDepth = 5

var parameterRefPattern = regexp.MustCompile(`^\[parameters\('([^']+)'\)\]$`)

// ParameterReference is a parsed "[parameters('name')]" expression.
type ParameterReference struct {
	Name string
}

// ParseParameterReference recognizes the string-embedded parameter
// reference syntax, including the object-wrapped {"value": "[...]"} form
// assignments use. Parsed once at ingestion so resolution never re-matches
// the pattern per call site.
func ParseParameterReference(raw any) (ParameterReference, bool) {
	switch v := raw.(type) {
	case string:
		m := parameterRefPattern.FindStringSubmatch(strings.TrimSpace(v))
		if m == nil {
			return ParameterReference{}, false
		}
		return ParameterReference{Name: m[1]}, true
	case map[string]any:
		if inner, ok := v["value"]; ok && len(v) == 1 {
			return ParseParameterReference(inner)
		}
		return ParameterReference{}, false
	default:
		return ParameterReference{}, false
	}
}

// UnwrapValue strips the {"value": x} wrapper the assignment parameter map
// uses, leaving bare values untouched.
func UnwrapValue(raw any) any {
	if m, ok := raw.(map[string]any); ok {
		if inner, exists := m["value"]; exists && len(m) == 1 {
			return inner
		}
	}
	return raw
}

// ParamContext carries the three parameter sources for one effective
// policy, in precedence order: assignment values, initiative bindings
// (mapped through the set definition), then the definition's own defaults.
type ParamContext struct {
	// AssignmentParams are operator-supplied values from the assignment.
	AssignmentParams map[string]any

	// InitiativeBindings map the inner definition's parameter names to the
	// initiative's binding expressions. Nil for direct assignments.
	InitiativeBindings map[string]any

	// InitiativeDefaults are the set definition's declared parameters,
	// consulted when a binding expression references an initiative
	// parameter the assignment did not supply.
	InitiativeDefaults map[string]ParameterSpec

	// Defaults are the definition's own declared parameters.
	Defaults map[string]ParameterSpec
}

// NewParamContext builds a context for one effective policy.
func NewParamContext(p *EffectivePolicy) *ParamContext {
	ctx := &ParamContext{
		InitiativeBindings: p.InitiativeBindings,
	}
	if p.Assignment != nil {
		ctx.AssignmentParams = p.Assignment.Parameters
	}
	if p.Initiative != nil {
		ctx.InitiativeDefaults = p.Initiative.Parameters
	}
	if p.Definition != nil {
		ctx.Defaults = p.Definition.Parameters
	}
	return ctx
}

// Resolve resolves a raw value that may be a literal or a parameter
// reference chain. It returns the resolved value, the resolution trail
// (one entry per step, for the export report), and ok=false when no source
// yielded a value. A literal resolves to itself.
func (c *ParamContext) Resolve(raw any) (any, []string, bool) {
	value := raw
	var trail []string

	for depth := 0; depth < maxResolveDepth; depth++ {
		ref, isRef := ParseParameterReference(value)
		if !isRef {
			if depth == 0 {
				trail = append(trail, "literal")
			}
			return UnwrapValue(value), trail, true
		}

		next, source, found := c.lookup(ref.Name)
		if !found {
			trail = append(trail, fmt.Sprintf("unresolved:%s", ref.Name))
			return nil, trail, false
		}
		trail = append(trail, fmt.Sprintf("%s:%s", source, ref.Name))
		value = next
	}

	// Depth exceeded: hand back the last value unchanged rather than loop.
	trail = append(trail, "depth-exceeded")
	return UnwrapValue(value), trail, true
}

// lookup finds one parameter by name across the three sources in
// precedence order.
func (c *ParamContext) lookup(name string) (any, string, bool) {
	if v, ok := lookupFold(c.AssignmentParams, name); ok {
		return UnwrapValue(v), "assignment", true
	}
	if v, ok := lookupFold(c.InitiativeBindings, name); ok {
		return UnwrapValue(v), "initiative", true
	}
	if spec, ok := lookupSpecFold(c.InitiativeDefaults, name); ok && spec.DefaultValue != nil {
		return spec.DefaultValue, "initiative-default", true
	}
	if spec, ok := lookupSpecFold(c.Defaults, name); ok && spec.DefaultValue != nil {
		return spec.DefaultValue, "default", true
	}
	return nil, "", false
}

func lookupFold(m map[string]any, name string) (any, bool) {
	if m == nil {
		return nil, false
	}
	if v, ok := m[name]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

func lookupSpecFold(m map[string]ParameterSpec, name string) (ParameterSpec, bool) {
	if m == nil {
		return ParameterSpec{}, false
	}
	if v, ok := m[name]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return ParameterSpec{}, false
}

// ResolveEffect resolves a definition's raw then.effect through the
// parameter sources and applies the assignment's enforcement-mode
// substitution. Substitution runs after resolution, never before.
func ResolveEffect(rawEffect string, mode EnforcementMode, ctx *ParamContext) (Effect, []string) {
	value, trail, ok := ctx.Resolve(rawEffect)
	if !ok {
		return EffectUnresolved, trail
	}

	s, isString := value.(string)
	if !isString {
		// A non-string effect value is indeterminate, not a known effect.
		return EffectUnresolved, append(trail, "non-string-effect")
	}

	effect := NormalizeEffect(s)
	if mode == EnforcementDoNotEnforce {
		if substituted, changed := enforcementSubstitute(effect); changed {
			trail = append(trail, fmt.Sprintf("doNotEnforce:%s->%s", effect, substituted))
			effect = substituted
		}
	}
	return effect, trail
}

// enforcementSubstitute applies the platform's degrade-on-disable table
// for DoNotEnforce assignments.
func enforcementSubstitute(e Effect) (Effect, bool) {
	switch e {
	case EffectDeny, EffectDenyAction:
		return EffectAudit, true
	case EffectDeployIfNotExists, EffectModify:
		return EffectAuditIfNotExists, true
	default:
		return e, false
	}
}
