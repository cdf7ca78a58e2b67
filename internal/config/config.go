package config

import (
	"cmp"
	"encoding/json"
	"fmt"
	"iter"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/goccy/go-yaml"
)

// Internal configuration data structures for LinkPlane.

// Metadata contains metadata about the configuration file itself. It is not
// interpreted; it only travels along for provenance of exported plans.
type Metadata struct {
	ExportedFrom string `json:"exported_from"`
	ExportedAt   string `json:"exported_at"`

	_ struct{} `additionalProperties:"false"`
}

// Root is the top-level configuration structure used by LinkPlane.
type Root struct {
	Metadata  Metadata            `json:"metadata"`
	Libraries map[string]*Library `json:"libraries,omitempty"`
	Packages  map[string]*Package `json:"packages,omitempty"`
	Toolchain *Toolchain          `json:"toolchain,omitempty"`
	Cache     *Cache              `json:"cache,omitempty"`
	Service   *Service            `json:"service,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

// SetSQLiteCacheByDefault sets the variable cache to a SQLite database stored
// in the given persistence directory if no other cache configuration exists.
func (r *Root) SetSQLiteCacheByDefault(persistenceDir string) bool {
	if r.Cache == nil {
		r.Cache = &Cache{}
	}

	switch r.Cache.Driver {
	case "", "sqlite3", "sqlite":
		if r.Cache.DSN == "" {
			r.Cache.Driver = "sqlite"
			r.Cache.DSN = filepath.Join(persistenceDir, "varcache.db")
		}
		return true
	}
	return false
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for the Root
// struct. This lets us define LinkPlane resources in a more user-friendly way
// with mappings where keys are the resource names.
func (r *Root) UnmarshalYAML(bs []byte) error {
	type rawRoot Root // avoid recursive calls to UnmarshalYAML by type aliasing
	var raw rawRoot

	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode Root: %w", err)
	}

	*r = Root(raw)
	return r.unmarshal(r)
}

func (r *Root) UnmarshalJSON(bs []byte) error {
	type rawRoot Root
	var raw rawRoot

	if err := json.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode Root: %w", err)
	}

	*r = Root(raw)
	return r.unmarshal(r)
}

func (*Root) unmarshal(raw *Root) error {
	for name := range raw.Libraries {
		raw.Libraries[name] = cmp.Or(raw.Libraries[name], &Library{})
		raw.Libraries[name].Name = name
	}

	for name := range raw.Packages {
		raw.Packages[name] = cmp.Or(raw.Packages[name], &Package{})
		raw.Packages[name].Name = name
	}

	// Optional sections are always non-nil after parsing so that callers
	// never have to guard against a missing section.
	raw.Toolchain = cmp.Or(raw.Toolchain, &Toolchain{})
	raw.Cache = cmp.Or(raw.Cache, &Cache{})
	raw.Service = cmp.Or(raw.Service, &Service{})

	return nil
}

func (r *Root) SortedLibraries() iter.Seq2[int, *Library] {
	return iterator(r.Libraries, func(l *Library) string { return l.Name })
}

func (r *Root) SortedPackages() iter.Seq2[int, *Package] {
	return iterator(r.Packages, func(p *Package) string { return p.Name })
}

// TopologicalSortedPackages returns packages from the configuration ordered
// by their requirements. Cycles are treated as errors. Missing requirements
// are ignored here; the resolver reports them when aliases are referenced.
func (r *Root) TopologicalSortedPackages() ([]*Package, error) {
	sorter := topologicalSortPackages{
		packages:   r.Packages,
		inprogress: make(map[string]struct{}),
		done:       make(map[string]struct{}),
	}

	for _, name := range slices.Sorted(maps.Keys(r.Packages)) {
		if err := sorter.Visit(r.Packages[name]); err != nil {
			return nil, err
		}
	}
	return sorter.sorted, nil
}

type topologicalSortPackages struct {
	packages   map[string]*Package
	inprogress map[string]struct{}
	done       map[string]struct{}
	sorted     []*Package
}

func (s *topologicalSortPackages) Visit(pkg *Package) error {
	if _, ok := s.inprogress[pkg.Name]; ok {
		return fmt.Errorf("cycle found on package %q", pkg.Name)
	}
	if _, ok := s.done[pkg.Name]; ok {
		return nil
	}
	s.inprogress[pkg.Name] = struct{}{}
	for _, req := range pkg.Requires {
		if other, ok := s.packages[req]; ok {
			if err := s.Visit(other); err != nil {
				return err
			}
		}
	}
	s.done[pkg.Name] = struct{}{}
	delete(s.inprogress, pkg.Name)
	s.sorted = append(s.sorted, pkg)
	return nil
}

func iterator[V any](m map[string]V, name func(V) string) func(func(int, V) bool) {
	names := make([]string, 0, len(m))
	for _, v := range m {
		names = append(names, name(v))
	}

	sort.Strings(names)

	return func(yield func(int, V) bool) {
		for i, name := range names {
			if !yield(i, m[name]) {
				return
			}
		}
	}
}

func Validate(data []byte) error {
	var config any
	if err := yaml.Unmarshal(data, &config); err != nil {
		return err
	}

	return rootSchema.Validate(config)
}

// Library describes a host-provided link target that can satisfy a
// dependency slot of a vendored package. IncludeDir may be empty when the
// library ships its headers globally.
type Library struct {
	Name       string `json:"-"`
	Target     string `json:"target"`
	IncludeDir string `json:"include_dir,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

func (l *Library) Equal(other *Library) bool {
	return fastEqual(l, other, func(l, other *Library) bool {
		return l.Name == other.Name &&
			l.Target == other.Target &&
			l.IncludeDir == other.IncludeDir
	})
}

type Libraries []*Library

func (a Libraries) Equal(b Libraries) bool {
	return setEqual(a, b, func(l *Library) string { return l.Name }, (*Library).Equal)
}

// Package describes a vendored package to integrate into the host build
// graph. Overrides maps the package's dependency slots to host libraries;
// slots without an override fall back to the package's bundled copy.
type Package struct {
	Name        string            `json:"-"`
	SourceDir   string            `json:"source_dir"`
	Manifest    string            `json:"manifest,omitempty"`
	Alias       string            `json:"alias,omitempty"`
	Overrides   map[string]string `json:"overrides,omitempty"`
	Linkage     Linkage           `json:"linkage,omitempty"`
	Requires    StringSet         `json:"requires,omitempty"`
	DisableWhen *DisablePolicy    `json:"disable_when,omitempty"`
	Interval    Duration          `json:"resolve_interval,omitzero"`
	Options     map[string]any    `json:"options,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

func (p *Package) UnmarshalYAML(bs []byte) error {
	type rawPackage Package // avoid recursive calls to UnmarshalYAML by type aliasing
	var raw rawPackage

	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode package: %w", err)
	}

	*p = Package(raw)
	return p.validate()
}

func (p *Package) UnmarshalJSON(bs []byte) error {
	type rawPackage Package
	var raw rawPackage

	if err := json.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode package: %w", err)
	}

	*p = Package(raw)
	return p.validate()
}

func (p *Package) validate() error {
	if p.SourceDir == "" {
		return fmt.Errorf("package source_dir is required")
	}

	return nil
}

// ManifestPath returns the path of the package's build description manifest,
// defaulting to linkdeps.yaml inside the source directory.
func (p *Package) ManifestPath() string {
	if p.Manifest != "" {
		return p.Manifest
	}
	return filepath.Join(p.SourceDir, "linkdeps.yaml")
}

// AliasName returns the host-namespace name under which the integration is
// re-exported.
func (p *Package) AliasName() string {
	if p.Alias != "" {
		return p.Alias
	}
	return "host::" + p.Name
}

func (p *Package) Equal(other *Package) bool {
	return fastEqual(p, other, func(p, other *Package) bool {
		return p.Name == other.Name &&
			p.SourceDir == other.SourceDir &&
			p.Manifest == other.Manifest &&
			p.Alias == other.Alias &&
			maps.Equal(p.Overrides, other.Overrides) &&
			p.Linkage == other.Linkage &&
			p.Requires.Equal(other.Requires) &&
			p.DisableWhen.PtrEqual(other.DisableWhen) &&
			p.Interval == other.Interval &&
			equalAnyMaps(p.Options, other.Options)
	})
}

type Packages []*Package

func (a Packages) Equal(b Packages) bool {
	return setEqual(a, b, func(p *Package) string { return p.Name }, (*Package).Equal)
}

// DisablePolicy turns an integration off for matching build configurations.
// Platform values are glob patterns matched against the toolchain OS.
type DisablePolicy struct {
	Sanitizers StringSet `json:"sanitizers,omitempty"`
	Platforms  StringSet `json:"platforms,omitempty"`
	Reason     string    `json:"reason,omitempty"`

	_ struct{} `additionalProperties:"false"`

	compiled []glob.Glob
}

func (d *DisablePolicy) UnmarshalYAML(bs []byte) error {
	type rawPolicy DisablePolicy
	var raw rawPolicy

	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode disable policy: %w", err)
	}

	*d = DisablePolicy(raw)
	return d.compile()
}

func (d *DisablePolicy) UnmarshalJSON(bs []byte) error {
	type rawPolicy DisablePolicy
	var raw rawPolicy

	if err := json.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode disable policy: %w", err)
	}

	*d = DisablePolicy(raw)
	return d.compile()
}

func (d *DisablePolicy) compile() error {
	d.compiled = d.compiled[:0]
	for _, pattern := range d.Platforms {
		g, err := glob.Compile(pattern)
		if err != nil {
			return fmt.Errorf("failed to compile platform pattern %q: %w", pattern, err)
		}
		d.compiled = append(d.compiled, g)
	}
	return nil
}

// Disabled reports whether the policy turns the integration off for the
// given toolchain, and why.
func (d *DisablePolicy) Disabled(tc *Toolchain) (bool, string) {
	if d == nil || tc == nil {
		return false, ""
	}

	if slices.Contains(d.Sanitizers, tc.Sanitizer.String()) {
		return true, cmp.Or(d.Reason, fmt.Sprintf("disabled under %s sanitizer", tc.Sanitizer))
	}

	if len(d.compiled) == 0 && len(d.Platforms) > 0 {
		// Unmarshaled through a path that skipped compile (e.g. struct
		// literal in tests); compile lazily.
		if err := d.compile(); err != nil {
			return false, ""
		}
	}

	for i, g := range d.compiled {
		if g.Match(tc.OS) {
			return true, cmp.Or(d.Reason, fmt.Sprintf("disabled on platform %q", d.Platforms[i]))
		}
	}

	return false, ""
}

func (d *DisablePolicy) Equal(other *DisablePolicy) bool {
	return d.Sanitizers.Equal(other.Sanitizers) &&
		d.Platforms.Equal(other.Platforms) &&
		d.Reason == other.Reason
}

func (d *DisablePolicy) PtrEqual(other *DisablePolicy) bool {
	if d == other {
		return true
	} else if d == nil || other == nil {
		return false
	}
	return d.Equal(other)
}

// Toolchain carries the host project's global build flags. LinkPlane reads
// them; it never defines them.
type Toolchain struct {
	OS        string    `json:"os,omitempty"`
	Compiler  string    `json:"compiler,omitempty"`
	Sanitizer Sanitizer `json:"sanitizer,omitempty"`
	Linkage   Linkage   `json:"linkage,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

func (t *Toolchain) Equal(other *Toolchain) bool {
	return fastEqual(t, other, func(t, other *Toolchain) bool {
		return t.OS == other.OS &&
			t.Compiler == other.Compiler &&
			t.Sanitizer == other.Sanitizer &&
			t.Linkage == other.Linkage
	})
}

// Cache configures the configuration variable cache database.
type Cache struct {
	Driver string `json:"driver,omitempty"` // sqlite, postgres or mysql
	DSN    string `json:"dsn,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

func (c *Cache) Equal(other *Cache) bool {
	return fastEqual(c, other, func(c, other *Cache) bool {
		return c.Driver == other.Driver && c.DSN == other.DSN
	})
}

// Service configures long-running mode.
type Service struct {
	Workers     int    `json:"workers,omitempty"`
	MetricsAddr string `json:"metrics_addr,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

// Instead of marshaling and unmarshaling as int64 it uses strings, like "5m"
// or "0.5s".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	val, err := time.ParseDuration(str)
	*d = Duration(val)
	return err
}

func (d *Duration) UnmarshalYAML(bs []byte) error {
	var s string
	if err := yaml.Unmarshal(bs, &s); err != nil {
		return err
	}
	val, err := time.ParseDuration(s)
	*d = Duration(val)
	return err
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

type StringSet []string

func (a StringSet) Equal(b StringSet) bool {
	return setEqual(a, b, func(s string) string { return s }, func(a, b string) bool { return a == b })
}

func (a StringSet) Add(value string) StringSet {
	i := sort.Search(len(a), func(i int) bool { return a[i] >= value })
	if i < len(a) && a[i] == value {
		return a
	}

	return slices.Insert(a, i, value)
}

func ParseFile(filename string) (root *Root, err error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	return Parse(bs)
}

func Parse(bs []byte) (*Root, error) {
	if err := Validate(bs); err != nil {
		return nil, err
	}

	var root Root
	if err := yaml.Unmarshal(bs, &root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &root, nil
}

func setEqual[K comparable, V any](a, b []V, key func(V) K, eq func(a, b V) bool) bool {
	if len(a) == 1 && len(b) == 1 {
		return eq(a[0], b[0])
	}

	m := make(map[K]V, len(a))
	for _, v := range a {
		m[key(v)] = v
	}

	n := make(map[K]V, len(b))
	for _, v := range b {
		n[key(v)] = v
	}

	return maps.EqualFunc(m, n, eq)
}

func equalAnyMaps(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	// Options hold scalars and small nested maps; a YAML comparison is
	// sufficient and avoids reflect.DeepEqual's int/float asymmetries.
	x, err := yaml.Marshal(a)
	if err != nil {
		return false
	}
	y, err := yaml.Marshal(b)
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(x)) == strings.TrimSpace(string(y))
}

func fastEqual[V any](a, b *V, slowEqual func(a, b *V) bool) bool {
	if a == b {
		return true
	}

	if a == nil || b == nil {
		return false
	}

	return slowEqual(a, b)
}
