package graph_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/linkplane/linkplane/internal/graph"
)

func TestDefineIdempotent(t *testing.T) {
	r := graph.NewRegistry()

	target := graph.Target{Name: "zlib", Kind: graph.KindStatic, Origin: "host"}
	if err := r.Define(target); err != nil {
		t.Fatal(err)
	}
	if err := r.Define(target); err != nil {
		t.Fatalf("identical redefinition must be accepted: %v", err)
	}

	conflicting := target
	conflicting.Kind = graph.KindShared
	if err := r.Define(conflicting); !errors.Is(err, graph.ErrConflictingTarget) {
		t.Fatalf("expected a conflict error, got %v", err)
	}
}

func TestClosure(t *testing.T) {
	r := graph.NewRegistry()

	for _, target := range []graph.Target{
		{Name: "zlib", Kind: graph.KindInterface, Origin: "host"},
		{Name: "ssl", Kind: graph.KindInterface, Origin: "host"},
		{Name: "rpclib_secure", Kind: graph.KindStatic, Links: []string{"zlib", "ssl"}, Origin: "rpclib"},
	} {
		if err := r.Define(target); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Alias("host::rpclib", "rpclib_secure", nil, "resolver/rpclib"); err != nil {
		t.Fatal(err)
	}

	closure, err := r.Closure("host::rpclib")
	if err != nil {
		t.Fatal(err)
	}

	var names []string
	for _, target := range closure {
		names = append(names, target.Name)
	}
	want := []string{"host::rpclib", "rpclib_secure", "ssl", "zlib"}
	got := append([]string(nil), names...)
	for _, w := range want {
		found := false
		for _, g := range got {
			if g == w {
				found = true
			}
		}
		if !found {
			t.Errorf("closure missing %q: %v", w, got)
		}
	}
	if len(got) != len(want) {
		t.Errorf("unexpected closure size: %v", got)
	}
}

func TestClosureUnresolved(t *testing.T) {
	r := graph.NewRegistry()

	if err := r.Define(graph.Target{
		Name:   "rpclib_secure",
		Kind:   graph.KindStatic,
		Links:  []string{"ssl"},
		Origin: "rpclib",
	}); err != nil {
		t.Fatal(err)
	}

	// Defining the dangling target is fine; the failure surfaces when the
	// reference is followed.
	_, err := r.Closure("rpclib_secure")
	if !errors.Is(err, graph.ErrUnresolvedTarget) {
		t.Fatalf("expected unresolved-target error, got %v", err)
	}
	if !strings.Contains(err.Error(), `referenced by "rpclib_secure"`) {
		t.Errorf("error does not name the referrer: %v", err)
	}

	// Late definition heals the closure.
	if err := r.Define(graph.Target{Name: "ssl", Kind: graph.KindInterface, Origin: "host"}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Closure("rpclib_secure"); err != nil {
		t.Fatal(err)
	}
}

func TestRemoveOrigin(t *testing.T) {
	r := graph.NewRegistry()

	for _, target := range []graph.Target{
		{Name: "zlib", Kind: graph.KindInterface, Origin: "host"},
		{Name: "rpclib_secure", Kind: graph.KindStatic, Origin: "rpclib"},
		{Name: "rpclib_insecure", Kind: graph.KindStatic, Origin: "rpclib"},
	} {
		if err := r.Define(target); err != nil {
			t.Fatal(err)
		}
	}

	r.Remove("rpclib")

	if diff := cmp.Diff([]string{"zlib"}, r.Names()); diff != "" {
		t.Errorf("unexpected targets after removal (-want +got):\n%s", diff)
	}
}

func TestBundledCopies(t *testing.T) {
	r := graph.NewRegistry()

	for _, target := range []graph.Target{
		{Name: "zlib", Kind: graph.KindInterface, Origin: "host"},
		{Name: "rpclib_vendored_re2", Kind: graph.KindStatic, Origin: "rpclib", Bundled: true},
		{Name: "rpclib_secure", Kind: graph.KindStatic, Links: []string{"zlib", "rpclib_vendored_re2"}, Origin: "rpclib"},
	} {
		if err := r.Define(target); err != nil {
			t.Fatal(err)
		}
	}

	closure, err := r.Closure("rpclib_secure")
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"rpclib_vendored_re2"}, graph.BundledCopies(closure)); diff != "" {
		t.Errorf("unexpected bundled copies (-want +got):\n%s", diff)
	}
}
