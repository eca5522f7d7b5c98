package hooks

import (
	"testing"

	"github.com/stellarlinkco/hookflow/pkg/core/events"
)

func mustReplace(t *testing.T, r *Registry, scope Scope, specs ...HandlerSpec) {
	t.Helper()
	if err := r.ReplaceScope(scope, specs); err != nil {
		t.Fatalf("replace %s: %v", scope, err)
	}
}

func resolvedIDs(specs []*compiledSpec) []string {
	ids := make([]string, 0, len(specs))
	for _, cs := range specs {
		ids = append(ids, cs.ID)
	}
	return ids
}

func TestResolveOrdersScopesThenRegistration(t *testing.T) {
	r := NewRegistry()
	mustReplace(t, r, ScopeComponent,
		HandlerSpec{ID: "comp-1", Kind: events.PreAction, Type: TypeCommand, Command: "c1"})
	mustReplace(t, r, ScopeHost,
		HandlerSpec{ID: "host-1", Kind: events.PreAction, Type: TypeCommand, Command: "h1"},
		HandlerSpec{ID: "host-2", Kind: events.PreAction, Type: TypeCommand, Command: "h2"})
	mustReplace(t, r, ScopeProject,
		HandlerSpec{ID: "proj-1", Kind: events.PreAction, Type: TypeCommand, Command: "p1"})

	got := resolvedIDs(r.resolve(events.PreAction, "write_file"))
	want := []string{"host-1", "host-2", "proj-1", "comp-1"}
	if len(got) != len(want) {
		t.Fatalf("resolved %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("resolved %v, want %v", got, want)
		}
	}
}

func TestResolveFiltersByKindAndPattern(t *testing.T) {
	r := NewRegistry()
	mustReplace(t, r, ScopeProject,
		HandlerSpec{ID: "writes", Kind: events.PreAction, Type: TypeCommand, Command: "a", Pattern: "write_.*"},
		HandlerSpec{ID: "reads", Kind: events.PreAction, Type: TypeCommand, Command: "b", Pattern: "read_.*"},
		HandlerSpec{ID: "all", Kind: events.PreAction, Type: TypeCommand, Command: "c"},
		HandlerSpec{ID: "other-kind", Kind: events.PostAction, Type: TypeCommand, Command: "d"})

	got := resolvedIDs(r.resolve(events.PreAction, "write_file"))
	want := []string{"writes", "all"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("resolved %v, want %v", got, want)
	}
}

func TestResolveKindWithoutMatchFieldInvokesAll(t *testing.T) {
	r := NewRegistry()
	mustReplace(t, r, ScopeProject,
		HandlerSpec{ID: "a", Kind: events.Stop, Type: TypeCommand, Command: "a"},
		HandlerSpec{ID: "b", Kind: events.Stop, Type: TypeCommand, Command: "b", Pattern: "never_matches_anything"})

	// Stop has no match field: every registered handler runs, patterns or
	// not, whatever match field value tags along.
	for _, field := range []string{"", "unrelated"} {
		got := resolvedIDs(r.resolve(events.Stop, field))
		if len(got) != 2 {
			t.Fatalf("field %q: resolved %v, want both handlers", field, got)
		}
	}
}

func TestResolveCollapsesDuplicateIdentity(t *testing.T) {
	r := NewRegistry()
	// Same (kind, target, pattern) in two scopes, target whitespace varying.
	mustReplace(t, r, ScopeHost,
		HandlerSpec{ID: "host-fmt", Kind: events.PreAction, Type: TypeCommand, Command: "npx  prettier  --write", Pattern: "write_.*"})
	mustReplace(t, r, ScopeProject,
		HandlerSpec{ID: "proj-fmt", Kind: events.PreAction, Type: TypeCommand, Command: "npx prettier --write", Pattern: "write_.*"})

	got := resolvedIDs(r.resolve(events.PreAction, "write_file"))
	if len(got) != 1 || got[0] != "host-fmt" {
		t.Fatalf("resolved %v, want the host copy only", got)
	}
}

func TestResolveExcludesConsumedOneShot(t *testing.T) {
	r := NewRegistry()
	mustReplace(t, r, ScopeProject,
		HandlerSpec{ID: "once", Kind: events.SessionStart, Type: TypeCommand, Command: "true", Once: true},
		HandlerSpec{ID: "always", Kind: events.SessionStart, Type: TypeCommand, Command: "true2"})

	first := r.resolve(events.SessionStart, "startup")
	if len(first) != 2 {
		t.Fatalf("first resolution = %v", resolvedIDs(first))
	}
	r.markConsumed(first[0])

	got := resolvedIDs(r.resolve(events.SessionStart, "startup"))
	if len(got) != 1 || got[0] != "always" {
		t.Fatalf("resolved %v after consumption", got)
	}
}

func TestReplaceScopeResetsOneShotMarks(t *testing.T) {
	r := NewRegistry()
	spec := HandlerSpec{ID: "once", Kind: events.SessionStart, Type: TypeCommand, Command: "true", Once: true}
	mustReplace(t, r, ScopeProject, spec)

	cs := r.resolve(events.SessionStart, "startup")[0]
	r.markConsumed(cs)
	if len(r.resolve(events.SessionStart, "startup")) != 0 {
		t.Fatal("one-shot not consumed")
	}

	// A reload starts a new lifetime.
	mustReplace(t, r, ScopeProject, spec)
	if len(r.resolve(events.SessionStart, "startup")) != 1 {
		t.Fatal("reload must reset consumption marks")
	}
}

func TestMarkConsumedIgnoresStalePartition(t *testing.T) {
	r := NewRegistry()
	spec := HandlerSpec{ID: "once", Kind: events.SessionStart, Type: TypeCommand, Command: "true", Once: true}
	mustReplace(t, r, ScopeProject, spec)
	stale := r.resolve(events.SessionStart, "startup")[0]

	// The scope is replaced while the handler runs; its completion must not
	// consume the new lifetime.
	mustReplace(t, r, ScopeProject, spec)
	r.markConsumed(stale)

	if len(r.resolve(events.SessionStart, "startup")) != 1 {
		t.Fatal("stale completion consumed the new partition")
	}
}

func TestReplaceScopeRejectsAtomically(t *testing.T) {
	r := NewRegistry()
	mustReplace(t, r, ScopeProject,
		HandlerSpec{ID: "keeper", Kind: events.PreAction, Type: TypeCommand, Command: "true"})
	before := r.Version()

	err := r.ReplaceScope(ScopeProject, []HandlerSpec{
		{ID: "ok", Kind: events.PreAction, Type: TypeCommand, Command: "true"},
		{ID: "broken", Kind: events.PreAction, Type: TypeCommand, Command: "true", Pattern: "("},
	})
	if err == nil {
		t.Fatal("expected compile rejection")
	}
	if r.Version() != before {
		t.Fatal("failed replacement must not bump the version")
	}
	got := resolvedIDs(r.resolve(events.PreAction, "anything"))
	if len(got) != 1 || got[0] != "keeper" {
		t.Fatalf("resolved %v, previous partition should survive", got)
	}
}

func TestRemoveScope(t *testing.T) {
	r := NewRegistry()
	mustReplace(t, r, ScopeComponent,
		HandlerSpec{ID: "comp", Kind: events.PreAction, Type: TypeCommand, Command: "true"})

	r.RemoveScope(ScopeComponent)
	if got := r.resolve(events.PreAction, "x"); len(got) != 0 {
		t.Fatalf("resolved %v after removal", resolvedIDs(got))
	}

	v := r.Version()
	r.RemoveScope(ScopeComponent)
	if r.Version() != v {
		t.Fatal("removing an absent scope must not bump the version")
	}
}

func TestHandlersSnapshot(t *testing.T) {
	r := NewRegistry()
	mustReplace(t, r, ScopeHost,
		HandlerSpec{ID: "fmt", Kind: events.PreAction, Type: TypeCommand, Command: " npx  prettier ", Pattern: "write_.*", Once: true})

	hs := r.Handlers()
	if len(hs) != 1 {
		t.Fatalf("handlers = %v", hs)
	}
	h := hs[0]
	if h.Scope != ScopeHost || h.ID != "fmt" || h.Kind != events.PreAction {
		t.Fatalf("snapshot = %+v", h)
	}
	if h.Target != "npx prettier" {
		t.Fatalf("target = %q, want normalized", h.Target)
	}
	if !h.Once || h.Consumed {
		t.Fatalf("lifecycle flags = %+v", h)
	}
}
