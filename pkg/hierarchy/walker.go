// Package hierarchy walks management group parent links to produce the
// ordered scope chain a subscription would inherit assignments from.
package hierarchy

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/azmove/azmove/pkg/arm"
)

// GroupFetcher fetches one management group with its parent expanded.
type GroupFetcher interface {
	GetManagementGroup(ctx context.Context, name string) (*arm.ManagementGroup, error)
}

// Level is one node of the inherited scope chain.
type Level struct {
	Name        string
	DisplayName string
	ID          string
}

// Scope returns the ARM scope path for the level.
func (l Level) Scope() string {
	return "/providers/Microsoft.Management/managementGroups/" + l.Name
}

// Walker resolves the chain from a target group up to the tenant root.
type Walker struct {
	client GroupFetcher
	logger zerolog.Logger
}

// NewWalker creates a hierarchy walker.
func NewWalker(client GroupFetcher, logger zerolog.Logger) *Walker {
	return &Walker{
		client: client,
		logger: logger.With().Str("component", "hierarchy-walker").Logger(),
	}
}

// Walk follows parent links from the start group upward, one fetch at a
// time, until a node has no parent. A node that cannot be fetched
// truncates the walk: the partial chain is returned with a warning rather
// than a fatal error. Only failure to fetch the start group itself is an
// error, since no chain exists at all in that case.
func (w *Walker) Walk(ctx context.Context, startGroup string) ([]Level, error) {
	group, err := w.client.GetManagementGroup(ctx, startGroup)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch target management group %s: %w", startGroup, err)
	}

	chain := []Level{{Name: group.Name, DisplayName: group.DisplayName, ID: group.ID}}
	seen := map[string]bool{strings.ToLower(group.Name): true}

	for group.Parent != nil {
		parentName := group.Parent.Name
		if parentName == "" {
			parentName = nameFromID(group.Parent.ID)
		}
		if parentName == "" || seen[strings.ToLower(parentName)] {
			break
		}

		parent, err := w.client.GetManagementGroup(ctx, parentName)
		if err != nil {
			w.logger.Warn().
				Err(err).
				Str("group", parentName).
				Int("resolved_levels", len(chain)).
				Msg("Hierarchy walk truncated, continuing with partial chain")
			return chain, nil
		}

		chain = append(chain, Level{Name: parent.Name, DisplayName: parent.DisplayName, ID: parent.ID})
		seen[strings.ToLower(parent.Name)] = true
		group = parent
	}

	w.logger.Debug().
		Str("start", startGroup).
		Int("levels", len(chain)).
		Msg("Hierarchy resolved")
	return chain, nil
}

// nameFromID extracts the trailing segment of a management group ID.
func nameFromID(id string) string {
	idx := strings.LastIndexByte(id, '/')
	if idx < 0 || idx == len(id)-1 {
		return ""
	}
	return id[idx+1:]
}
