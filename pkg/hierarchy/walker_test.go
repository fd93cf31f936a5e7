package hierarchy

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/azmove/azmove/pkg/arm"
)

// fakeFetcher serves management groups from a map; names absent from the
// map fail with the given error.
type fakeFetcher struct {
	groups map[string]*arm.ManagementGroup
	err    error
}

func (f *fakeFetcher) GetManagementGroup(_ context.Context, name string) (*arm.ManagementGroup, error) {
	g, ok := f.groups[name]
	if !ok {
		if f.err != nil {
			return nil, f.err
		}
		return nil, errors.New("not found")
	}
	return g, nil
}

func mg(name string, parent string) *arm.ManagementGroup {
	g := &arm.ManagementGroup{
		ID:   "/providers/Microsoft.Management/managementGroups/" + name,
		Name: name,
	}
	if parent != "" {
		g.Parent = &arm.ParentGroup{
			ID:   "/providers/Microsoft.Management/managementGroups/" + parent,
			Name: parent,
		}
	}
	return g
}

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func TestWalk_FullChain(t *testing.T) {
	fetcher := &fakeFetcher{groups: map[string]*arm.ManagementGroup{
		"workloads":     mg("workloads", "landing-zones"),
		"landing-zones": mg("landing-zones", "root"),
		"root":          mg("root", ""),
	}}

	chain, err := NewWalker(fetcher, testLogger()).Walk(context.Background(), "workloads")
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}

	want := []string{"workloads", "landing-zones", "root"}
	if len(chain) != len(want) {
		t.Fatalf("Expected %d levels, got %d", len(want), len(chain))
	}
	for i, name := range want {
		if chain[i].Name != name {
			t.Errorf("Level %d: expected %s, got %s", i, name, chain[i].Name)
		}
	}
}

func TestWalk_TruncatesOnFetchFailure(t *testing.T) {
	// The parent link points at a group we cannot fetch: the walk must
	// surface the partial chain, not an error.
	fetcher := &fakeFetcher{groups: map[string]*arm.ManagementGroup{
		"workloads": mg("workloads", "forbidden"),
	}}

	chain, err := NewWalker(fetcher, testLogger()).Walk(context.Background(), "workloads")
	if err != nil {
		t.Fatalf("Expected partial chain, got error: %v", err)
	}
	if len(chain) != 1 || chain[0].Name != "workloads" {
		t.Errorf("Expected single-level chain, got %+v", chain)
	}
}

func TestWalk_StartGroupFailureIsFatal(t *testing.T) {
	fetcher := &fakeFetcher{groups: map[string]*arm.ManagementGroup{}}

	if _, err := NewWalker(fetcher, testLogger()).Walk(context.Background(), "missing"); err == nil {
		t.Fatal("Expected error when the start group cannot be fetched")
	}
}

func TestWalk_CycleGuard(t *testing.T) {
	fetcher := &fakeFetcher{groups: map[string]*arm.ManagementGroup{
		"a": mg("a", "b"),
		"b": mg("b", "a"),
	}}

	chain, err := NewWalker(fetcher, testLogger()).Walk(context.Background(), "a")
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	if len(chain) != 2 {
		t.Errorf("Expected the walk to stop at the cycle, got %d levels", len(chain))
	}
}

func TestLevelScope(t *testing.T) {
	l := Level{Name: "root"}
	want := "/providers/Microsoft.Management/managementGroups/root"
	if l.Scope() != want {
		t.Errorf("Scope() = %q, want %q", l.Scope(), want)
	}
}
