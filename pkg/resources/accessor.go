// Package resources provides the subscription resource inventory and the
// alias-to-value accessor used during rule evaluation. Expanded resource
// representations are fetched lazily and cached per resource ID; type
// specific supplementary lookups are cached under ID plus a qualifier.
package resources

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/azmove/azmove/pkg/arm"
	"github.com/azmove/azmove/pkg/cache"
	"github.com/azmove/azmove/pkg/propbag"
)

const networkInterfaceType = "Microsoft.Network/networkInterfaces"

// ResourceAPI is the slice of the ARM client the inventory needs.
type ResourceAPI interface {
	ListResources(ctx context.Context, subscriptionID string, types []string) ([]*arm.GenericResource, error)
	GetResource(ctx context.Context, resourceID string) (*arm.GenericResource, error)
}

// Inventory lists and expands subscription resources through run-scoped
// caches, safe for concurrent evaluation workers.
type Inventory struct {
	client        ResourceAPI
	expanded      *cache.Map[propbag.Value]
	supplementary *cache.Map[propbag.Value]
	logger        zerolog.Logger
}

// NewInventory creates an inventory with fresh caches. A non-nil caches
// observer receives their hit and miss events.
func NewInventory(client ResourceAPI, caches cache.Observer, logger zerolog.Logger) *Inventory {
	return &Inventory{
		client:        client,
		expanded:      cache.NewObserved[propbag.Value]("resource_properties", caches),
		supplementary: cache.NewObserved[propbag.Value]("resource_supplements", caches),
		logger:        logger.With().Str("component", "resource-inventory").Logger(),
	}
}

// List fetches the subscription's resources, optionally narrowed by type.
func (inv *Inventory) List(ctx context.Context, subscriptionID string, types []string) ([]*arm.GenericResource, error) {
	return inv.client.ListResources(ctx, subscriptionID, types)
}

// Get fetches one resource expanded, for single-resource test runs.
func (inv *Inventory) Get(ctx context.Context, resourceID string) (*arm.GenericResource, error) {
	return inv.client.GetResource(ctx, resourceID)
}

// properties returns the resource's expanded property bag, fetching it at
// most once per resource ID per run.
func (inv *Inventory) properties(ctx context.Context, res *arm.GenericResource) (propbag.Value, bool) {
	if len(res.Properties) > 0 {
		v, err := propbag.FromJSON(res.Properties)
		if err == nil {
			return v, true
		}
	}

	v, err := inv.expanded.GetOrLoad(strings.ToLower(res.ID), func() (propbag.Value, error) {
		full, err := inv.client.GetResource(ctx, res.ID)
		if err != nil {
			return propbag.Value{}, err
		}
		return propbag.FromJSON(full.Properties)
	})
	if err != nil {
		// A 404 means the resource disappeared between the listing and
		// the expansion; there is nothing left to evaluate deeply.
		if arm.IsNotFound(err) {
			inv.logger.Debug().Str("resource", res.ID).Msg("Resource gone before property expansion")
		} else {
			inv.logger.Warn().Err(err).Str("resource", res.ID).Msg("Failed to expand resource properties")
		}
		return propbag.Value{}, false
	}
	return v, true
}

// PublicIPAddressID returns the ID of the public IP bound to a network
// interface, if any. The association requires a dedicated typed fetch and
// is cached independently of the generic expansion.
func (inv *Inventory) PublicIPAddressID(ctx context.Context, res *arm.GenericResource) (string, bool) {
	if !strings.EqualFold(res.Type, networkInterfaceType) {
		return "", false
	}

	key := strings.ToLower(res.ID) + ":publicip"
	v, err := inv.supplementary.GetOrLoad(key, func() (propbag.Value, error) {
		full, err := inv.client.GetResource(ctx, res.ID)
		if err != nil {
			return propbag.Value{}, err
		}
		return propbag.FromJSON(full.Properties)
	})
	if err != nil {
		if arm.IsNotFound(err) {
			inv.logger.Debug().Str("resource", res.ID).Msg("Network interface gone before detail fetch")
		} else {
			inv.logger.Warn().Err(err).Str("resource", res.ID).Msg("Failed to fetch network interface details")
		}
		return "", false
	}

	configs, ok := v.Navigate("ipConfigurations")
	if !ok {
		return "", false
	}
	for i := 0; i < configs.Len(); i++ {
		config, _ := configs.Index(i)
		if id, ok := config.Navigate("properties.publicIPAddress.id"); ok && id.String() != "" {
			return id.String(), true
		}
	}
	return "", false
}

// FilterPortal applies the reference portal's narrowing before evaluation:
// network interfaces without a public IP association are dropped, every
// other resource passes through.
func (inv *Inventory) FilterPortal(ctx context.Context, list []*arm.GenericResource) []*arm.GenericResource {
	filtered := make([]*arm.GenericResource, 0, len(list))
	for _, res := range list {
		if strings.EqualFold(res.Type, networkInterfaceType) {
			if _, hasPublicIP := inv.PublicIPAddressID(ctx, res); !hasPublicIP {
				continue
			}
		}
		filtered = append(filtered, res)
	}
	return filtered
}

// Accessor binds one resource to the inventory for alias resolution
// during a single evaluation. It implements policy.FieldResolver.
type Accessor struct {
	ctx context.Context
	inv *Inventory
	res *arm.GenericResource
}

// Accessor returns a field resolver for the given resource.
func (inv *Inventory) Accessor(ctx context.Context, res *arm.GenericResource) *Accessor {
	return &Accessor{ctx: ctx, inv: inv, res: res}
}

// ResolveField maps a policy alias to the live value on the resource.
// A missing alias yields ok=false, never an error: the evaluator treats
// it as a non-matching condition.
func (a *Accessor) ResolveField(alias string) (propbag.Value, bool) {
	switch strings.ToLower(alias) {
	case "type":
		return propbag.FromAny(a.res.Type), true
	case "location":
		return propbag.FromAny(a.res.Location), true
	case "name", "fullname":
		return propbag.FromAny(a.res.Name), true
	case "id":
		return propbag.FromAny(a.res.ID), true
	case "kind":
		if a.res.Kind == "" {
			return propbag.Value{}, false
		}
		return propbag.FromAny(a.res.Kind), true
	case "tags":
		if len(a.res.Tags) == 0 {
			return propbag.Value{}, false
		}
		return propbag.FromAny(tagsToAny(a.res.Tags)), true
	}

	if key, ok := tagKeyFromAlias(alias); ok {
		for k, v := range a.res.Tags {
			if strings.EqualFold(k, key) {
				return propbag.FromAny(v), true
			}
		}
		return propbag.Value{}, false
	}

	// Resource-provider alias: "Microsoft.RP/type[/subtype]/property.path".
	if path, ok := a.providerAliasPath(alias); ok {
		bag, ok := a.inv.properties(a.ctx, a.res)
		if !ok {
			return propbag.Value{}, false
		}
		return bag.Navigate(path)
	}

	// Bare dotted path into the property bag.
	if strings.Contains(alias, ".") {
		bag, ok := a.inv.properties(a.ctx, a.res)
		if !ok {
			return propbag.Value{}, false
		}
		return bag.Navigate(alias)
	}

	return propbag.Value{}, false
}

// providerAliasPath splits a provider-qualified alias into the property
// path, provided the alias targets this resource's type. An alias for a
// different type never resolves on this resource.
func (a *Accessor) providerAliasPath(alias string) (string, bool) {
	if !strings.Contains(alias, "/") {
		return "", false
	}

	typePrefix := strings.ToLower(a.res.Type) + "/"
	if !strings.HasPrefix(strings.ToLower(alias), typePrefix) {
		return "", false
	}
	return alias[len(typePrefix):], true
}

// tagKeyFromAlias recognizes tags['X'] and tags["X"] and tags.X aliases.
func tagKeyFromAlias(alias string) (string, bool) {
	lower := strings.ToLower(alias)
	if !strings.HasPrefix(lower, "tags") {
		return "", false
	}
	rest := alias[len("tags"):]
	switch {
	case strings.HasPrefix(rest, "['") && strings.HasSuffix(rest, "']"):
		return rest[2 : len(rest)-2], true
	case strings.HasPrefix(rest, `["`) && strings.HasSuffix(rest, `"]`):
		return rest[2 : len(rest)-2], true
	case strings.HasPrefix(rest, "."):
		return rest[1:], true
	default:
		return "", false
	}
}

func tagsToAny(tags map[string]string) map[string]any {
	out := make(map[string]any, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
