// Package plan renders the outcome of a resolution run into a reviewable
// YAML document: which packages were integrated or skipped, which aliases
// they export, and the full link-target table behind them.
package plan

import (
	"fmt"
	"os"

	"github.com/akedrou/textdiff"
	"github.com/goccy/go-yaml"

	"github.com/linkplane/linkplane/internal/config"
	"github.com/linkplane/linkplane/internal/graph"
	"github.com/linkplane/linkplane/internal/resolver"
)

type Package struct {
	Name         string   `json:"name"`
	State        string   `json:"state"`
	Alias        string   `json:"alias,omitempty"`
	Variant      string   `json:"variant,omitempty"`
	Reason       string   `json:"reason,omitempty"`
	BundledSlots []string `json:"bundled_slots,omitempty"`
}

type Target struct {
	Name        string            `json:"name"`
	Kind        string            `json:"kind"`
	Links       []string          `json:"links,omitempty"`
	IncludeDirs []string          `json:"include_dirs,omitempty"`
	Defines     map[string]string `json:"defines,omitempty"`
	Origin      string            `json:"origin,omitempty"`
	Bundled     bool              `json:"bundled,omitempty"`
}

type Toolchain struct {
	OS        string `json:"os,omitempty"`
	Compiler  string `json:"compiler,omitempty"`
	Sanitizer string `json:"sanitizer,omitempty"`
	Linkage   string `json:"linkage,omitempty"`
}

type Plan struct {
	Toolchain Toolchain `json:"toolchain"`
	Packages  []Package `json:"packages,omitempty"`
	Targets   []Target  `json:"targets,omitempty"`
}

// Build assembles the plan from a resolution run. Packages and targets are
// ordered by name so the rendering is stable across runs.
func Build(root *config.Root, reg *graph.Registry, results map[string]resolver.Result) *Plan {
	p := &Plan{
		Toolchain: Toolchain{
			OS:        root.Toolchain.OS,
			Compiler:  root.Toolchain.Compiler,
			Sanitizer: root.Toolchain.Sanitizer.String(),
			Linkage:   root.Toolchain.Linkage.String(),
		},
	}

	for _, pkg := range root.SortedPackages() {
		result, ok := results[pkg.Name]
		if !ok {
			continue
		}
		p.Packages = append(p.Packages, Package{
			Name:         pkg.Name,
			State:        result.State.String(),
			Alias:        result.Alias,
			Variant:      result.Variant,
			Reason:       result.Reason,
			BundledSlots: result.BundledSlots,
		})
	}

	for _, name := range reg.Names() {
		t, ok := reg.Lookup(name)
		if !ok {
			continue
		}
		p.Targets = append(p.Targets, Target{
			Name:        t.Name,
			Kind:        t.Kind.String(),
			Links:       t.Links,
			IncludeDirs: t.IncludeDirs,
			Defines:     t.Defines,
			Origin:      t.Origin,
			Bundled:     t.Bundled,
		})
	}

	return p
}

func (p *Plan) Render() ([]byte, error) {
	bs, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to render plan: %w", err)
	}
	return bs, nil
}

// Write renders the plan into path, leaving the file untouched when the
// content is already up to date. It returns the unified diff against the
// previous content, empty when nothing changed.
func (p *Plan) Write(path string) (string, error) {
	next, err := p.Render()
	if err != nil {
		return "", err
	}

	prev, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return "", err
	}
	if string(prev) == string(next) {
		return "", nil
	}

	if err := os.WriteFile(path, next, 0644); err != nil {
		return "", fmt.Errorf("failed to write plan %s: %w", path, err)
	}
	return textdiff.Unified(path, path, string(prev), string(next)), nil
}
