// Package graph maintains the registry of link targets produced by package
// integrations. Targets are opaque: the registry tracks names, include paths
// and link edges, never the artifacts behind them.
package graph

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

var (
	// ErrUnresolvedTarget is reported when a link closure references a
	// target that was never registered. This is deliberately raised at
	// reference time, not at registration time: an integration that exports
	// nothing is not an error until something depends on it.
	ErrUnresolvedTarget = errors.New("unresolved target")

	// ErrConflictingTarget is reported when a name is redefined with a
	// different definition. Redefining a target identically is a no-op.
	ErrConflictingTarget = errors.New("conflicting target definition")
)

type Kind int

const (
	KindInterface Kind = iota // header-only or imported, nothing to link
	KindStatic
	KindShared
	KindAlias
)

func (k Kind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindShared:
		return "shared"
	case KindAlias:
		return "alias"
	default:
		return "interface"
	}
}

// Target is a named linkable artifact along with its usage requirements.
type Target struct {
	Name        string
	Kind        Kind
	IncludeDirs []string
	Links       []string // names of targets this one links against
	Defines     map[string]string
	Origin      string // who registered it, e.g. "host" or a package name
	Bundled     bool   // bundled-provider copy shipped inside a vendored package
}

func (t Target) Equal(other Target) bool {
	return t.Name == other.Name &&
		t.Kind == other.Kind &&
		slices.Equal(t.IncludeDirs, other.IncludeDirs) &&
		slices.Equal(t.Links, other.Links) &&
		maps.Equal(t.Defines, other.Defines) &&
		t.Origin == other.Origin &&
		t.Bundled == other.Bundled
}

const closureCacheSize = 256

// Registry is the in-memory build graph LinkPlane exports targets into.
type Registry struct {
	mu       sync.Mutex
	targets  map[string]Target
	closures *lru.Cache // target name -> []Target, invalidated on mutation
}

func NewRegistry() *Registry {
	closures, err := lru.New(closureCacheSize)
	if err != nil {
		panic(err) // only fails for non-positive sizes
	}
	return &Registry{
		targets:  make(map[string]Target),
		closures: closures,
	}
}

// Define registers a target. Defining the same name twice with an identical
// definition is a no-op; a differing redefinition is an error.
func (r *Registry) Define(t Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.targets[t.Name]; ok {
		if existing.Equal(t) {
			return nil
		}
		return fmt.Errorf("%w: %q already defined by %q", ErrConflictingTarget, t.Name, existing.Origin)
	}

	r.targets[t.Name] = t
	r.closures.Purge()
	return nil
}

// Alias registers a stable name that indirects to an underlying target. The
// alias carries the include directories of the re-exported package so that
// consumers never need to know which internal variant was chosen.
func (r *Registry) Alias(name, to string, includeDirs []string, origin string) error {
	return r.Define(Target{
		Name:        name,
		Kind:        KindAlias,
		IncludeDirs: includeDirs,
		Links:       []string{to},
		Origin:      origin,
	})
}

func (r *Registry) Lookup(name string) (Target, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.targets[name]
	return t, ok
}

// Remove drops all targets registered by the given origin. Used when an
// integration is re-run after a configuration change.
func (r *Registry) Remove(origin string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed bool
	for name, t := range r.targets {
		if t.Origin == origin {
			delete(r.targets, name)
			removed = true
		}
	}
	if removed {
		r.closures.Purge()
	}
}

// Names returns all registered target names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Sorted(maps.Keys(r.targets))
}

// Closure computes the transitive link set of the named target, the target
// itself included, in breadth-first order. A reference to a target that was
// never registered fails here, at the point of use.
func (r *Registry) Closure(name string) ([]Target, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.closures.Get(name); ok {
		return cached.([]Target), nil
	}

	root, ok := r.targets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnresolvedTarget, name)
	}

	var result []Target
	seen := map[string]struct{}{name: {}}
	queue := []Target{root}

	for len(queue) > 0 {
		var next Target
		next, queue = queue[0], queue[1:]
		result = append(result, next)

		for _, link := range next.Links {
			if _, ok := seen[link]; ok {
				continue
			}
			seen[link] = struct{}{}

			dep, ok := r.targets[link]
			if !ok {
				return nil, fmt.Errorf("%w: %q (referenced by %q)", ErrUnresolvedTarget, link, next.Name)
			}
			queue = append(queue, dep)
		}
	}

	r.closures.Add(name, result)
	return result, nil
}

// BundledCopies returns the names of bundled-provider targets present in the
// given link set. A non-empty result for a slot that had an external override
// available indicates a duplicated dependency in the final link.
func BundledCopies(closure []Target) []string {
	var names []string
	for _, t := range closure {
		if t.Bundled {
			names = append(names, t.Name)
		}
	}
	slices.Sort(names)
	return names
}
