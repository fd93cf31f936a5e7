package arm

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/azmove/azmove/pkg/policy"
)

// ManagementGroup is the subset of the management group resource the
// hierarchy walker needs.
type ManagementGroup struct {
	ID          string
	Name        string
	DisplayName string

	// Parent is nil at the tenant root group.
	Parent *ParentGroup
}

// ParentGroup identifies a management group's parent node.
type ParentGroup struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// GenericResource is one entry of a subscription's resource inventory.
// Properties stays raw: the expanded bag is fetched lazily per resource.
type GenericResource struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Location   string            `json:"location"`
	Kind       string            `json:"kind,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
	Properties json.RawMessage   `json:"properties,omitempty"`
}

// envelope is the common ARM resource wrapper: identity at the top level,
// everything else under properties.
type envelope struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	Location   string          `json:"location,omitempty"`
	Properties json.RawMessage `json:"properties"`
}

// listPage is one page of an ARM collection response.
type listPage struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"nextLink,omitempty"`
}

func managementGroupFromEnvelope(raw []byte) (*ManagementGroup, error) {
	var env envelope
	if err := unmarshalLenient(raw, &env); err != nil {
		return nil, err
	}

	var props struct {
		DisplayName string `json:"displayName"`
		Details     struct {
			Parent *ParentGroup `json:"parent"`
		} `json:"details"`
	}
	if len(env.Properties) > 0 {
		if err := unmarshalLenient(env.Properties, &props); err != nil {
			return nil, err
		}
	}

	return &ManagementGroup{
		ID:          env.ID,
		Name:        env.Name,
		DisplayName: props.DisplayName,
		Parent:      props.Details.Parent,
	}, nil
}

func definitionFromEnvelope(raw []byte) (*policy.Definition, error) {
	var env envelope
	if err := unmarshalLenient(raw, &env); err != nil {
		return nil, err
	}

	var props struct {
		DisplayName string                          `json:"displayName"`
		Description string                          `json:"description"`
		PolicyType  string                          `json:"policyType"`
		Mode        string                          `json:"mode"`
		PolicyRule  policy.Rule                     `json:"policyRule"`
		Parameters  map[string]policy.ParameterSpec `json:"parameters"`
	}
	if err := unmarshalLenient(env.Properties, &props); err != nil {
		return nil, err
	}

	return &policy.Definition{
		ID:          env.ID,
		Name:        env.Name,
		DisplayName: props.DisplayName,
		Description: props.Description,
		PolicyType:  props.PolicyType,
		Mode:        props.Mode,
		Rule:        props.PolicyRule,
		Parameters:  props.Parameters,
	}, nil
}

func setDefinitionFromEnvelope(raw []byte) (*policy.SetDefinition, error) {
	var env envelope
	if err := unmarshalLenient(raw, &env); err != nil {
		return nil, err
	}

	var props struct {
		DisplayName       string                          `json:"displayName"`
		Description       string                          `json:"description"`
		PolicyType        string                          `json:"policyType"`
		PolicyDefinitions []policy.DefinitionReference    `json:"policyDefinitions"`
		Parameters        map[string]policy.ParameterSpec `json:"parameters"`
	}
	if err := unmarshalLenient(env.Properties, &props); err != nil {
		return nil, err
	}

	return &policy.SetDefinition{
		ID:          env.ID,
		Name:        env.Name,
		DisplayName: props.DisplayName,
		Description: props.Description,
		PolicyType:  props.PolicyType,
		References:  props.PolicyDefinitions,
		Parameters:  props.Parameters,
	}, nil
}

func assignmentFromEnvelope(raw []byte) (*policy.Assignment, error) {
	var env envelope
	if err := unmarshalLenient(raw, &env); err != nil {
		return nil, err
	}

	var props struct {
		DisplayName        string         `json:"displayName"`
		Scope              string         `json:"scope"`
		PolicyDefinitionID string         `json:"policyDefinitionId"`
		EnforcementMode    string         `json:"enforcementMode"`
		Parameters         map[string]any `json:"parameters"`
		NotScopes          []string       `json:"notScopes"`
	}
	if err := unmarshalLenient(env.Properties, &props); err != nil {
		return nil, err
	}

	return &policy.Assignment{
		ID:                 env.ID,
		Name:               env.Name,
		DisplayName:        props.DisplayName,
		Scope:              props.Scope,
		PolicyDefinitionID: props.PolicyDefinitionID,
		EnforcementMode:    policy.EnforcementMode(props.EnforcementMode),
		Parameters:         props.Parameters,
		NotScopes:          props.NotScopes,
	}, nil
}

func exemptionFromEnvelope(raw []byte) (*policy.Exemption, error) {
	var env envelope
	if err := unmarshalLenient(raw, &env); err != nil {
		return nil, err
	}

	var props struct {
		DisplayName        string   `json:"displayName"`
		Description        string   `json:"description"`
		PolicyAssignmentID string   `json:"policyAssignmentId"`
		ReferenceIDs       []string `json:"policyDefinitionReferenceIds"`
		Category           string   `json:"exemptionCategory"`
		ExpiresOn          string   `json:"expiresOn"`
	}
	if err := unmarshalLenient(env.Properties, &props); err != nil {
		return nil, err
	}

	ex := &policy.Exemption{
		ID:                 env.ID,
		Name:               env.Name,
		DisplayName:        props.DisplayName,
		Description:        props.Description,
		Scope:              ScopeFromID(env.ID),
		PolicyAssignmentID: props.PolicyAssignmentID,
		ReferenceIDs:       props.ReferenceIDs,
		Category:           props.Category,
	}
	if props.ExpiresOn != "" {
		if ts, err := time.Parse(time.RFC3339, props.ExpiresOn); err == nil {
			ex.ExpiresOn = &ts
		}
	}
	return ex, nil
}

// ScopeFromID strips the trailing extension-resource segment from an ARM
// ID, yielding the scope the extension is attached to. An exemption at
// "/subscriptions/S/providers/Microsoft.Authorization/policyExemptions/x"
// is scoped to "/subscriptions/S".
func ScopeFromID(id string) string {
	lower := strings.ToLower(id)
	marker := "/providers/microsoft.authorization/"
	if idx := strings.LastIndex(lower, marker); idx >= 0 {
		return id[:idx]
	}
	return id
}
