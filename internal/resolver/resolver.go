// Package resolver implements dependency-override resolution: it makes a
// vendored package build against the host project's own copies of shared
// libraries instead of the copies the package bundles, then re-exports the
// result under a single stable alias target.
package resolver

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/go-viper/mapstructure/v2"

	"github.com/linkplane/linkplane/internal/config"
	"github.com/linkplane/linkplane/internal/graph"
	"github.com/linkplane/linkplane/internal/logging"
	"github.com/linkplane/linkplane/internal/varcache"
	"github.com/linkplane/linkplane/internal/vendored"
)

type State int

const (
	StateIntegrated State = iota
	StateSkipped
)

func (s State) String() string {
	if s == StateSkipped {
		return "skipped"
	}
	return "integrated"
}

// Result is the tagged outcome of an integration: either one alias target
// was exported, or the integration was skipped by policy and nothing was
// exported. A skip is not an error; downstream consumers that reference the
// absent alias fail at that later point instead.
type Result struct {
	State        State
	Alias        string
	Variant      string
	Reason       string // set when skipped
	BundledSlots []string
	Reconfigured bool
}

// Options are the per-package integration knobs, decoded from the free-form
// options mapping in the configuration.
type Options struct {
	// SecureVariant and InsecureVariant name the package variants to pick
	// between depending on TLS provider availability.
	SecureVariant   string `mapstructure:"secure_variant"`
	InsecureVariant string `mapstructure:"insecure_variant"`

	// TLSSlot names the slot whose provider decides the variant choice.
	TLSSlot string `mapstructure:"tls_slot"`

	// ProtectVars lists additional project-wide variables to snapshot and
	// restore around the package's configuration, on top of the ones the
	// manifest declares as clobbered.
	ProtectVars []string `mapstructure:"protect_vars"`
}

func decodeOptions(raw map[string]any) (Options, error) {
	opts := Options{
		SecureVariant:   "secure",
		InsecureVariant: "insecure",
		TLSSlot:         "tls",
	}
	if len(raw) == 0 {
		return opts, nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &opts,
		ErrorUnused: true,
	})
	if err != nil {
		return Options{}, err
	}
	if err := decoder.Decode(raw); err != nil {
		return Options{}, fmt.Errorf("failed to decode package options: %w", err)
	}
	return opts, nil
}

// Selection is the immutable slot-to-provider mapping for one integration.
// It is fully materialized before the package's configuration runs, so there
// is no window in which the package can observe a partially applied
// override table.
type Selection struct {
	providers map[string]vendored.ProviderValue
}

func (s Selection) Provider(slot string) (vendored.ProviderValue, bool) {
	p, ok := s.providers[slot]
	return p, ok
}

// External reports whether the slot resolved to a host-provided library.
func (s Selection) External(slot string) bool {
	p, ok := s.providers[slot]
	return ok && p.External()
}

func (s Selection) Slots() []string {
	return slices.Sorted(maps.Keys(s.providers))
}

// Resolver integrates vendored packages against a fixed set of host
// libraries and toolchain flags.
type Resolver struct {
	libraries map[string]*config.Library
	toolchain *config.Toolchain
	cache     *varcache.Cache
	registry  *graph.Registry
	log       *logging.Logger
}

func New(libraries map[string]*config.Library, toolchain *config.Toolchain, cache *varcache.Cache, registry *graph.Registry, log *logging.Logger) *Resolver {
	if toolchain == nil {
		toolchain = &config.Toolchain{}
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Resolver{
		libraries: libraries,
		toolchain: toolchain,
		cache:     cache,
		registry:  registry,
		log:       log,
	}
}

// Select builds the provider selection for a package: for every declared
// slot, the host override wins unconditionally when one is configured;
// otherwise the bundled copy is selected, except for optional slots which
// stay unsatisfied. Overrides naming unknown slots or unknown libraries are
// configuration errors.
func (r *Resolver) Select(pkg *config.Package, desc *vendored.Description) (Selection, error) {
	for slot := range pkg.Overrides {
		if _, ok := desc.Slots[slot]; !ok {
			return Selection{}, fmt.Errorf("package %q: override for unknown slot %q", pkg.Name, slot)
		}
	}

	providers := make(map[string]vendored.ProviderValue, len(desc.Slots))

	for _, slot := range desc.SortedSlots() {
		if libName, ok := pkg.Overrides[slot.Name]; ok {
			lib, ok := r.libraries[libName]
			if !ok {
				return Selection{}, fmt.Errorf("package %q: slot %q overridden with unknown library %q", pkg.Name, slot.Name, libName)
			}
			providers[slot.Name] = vendored.ProviderValue{
				Source:  "external",
				Library: lib.Name,
				Target:  lib.Target,
				Include: lib.IncludeDir,
			}
			continue
		}

		if slot.Optional {
			continue
		}

		providers[slot.Name] = vendored.ProviderValue{
			Source: "bundled",
			Target: slot.BundledTarget,
		}
	}

	return Selection{providers: providers}, nil
}

// Integrate runs the full dependency-override resolution for one package:
// policy check, selection write, probe correction, delegation to the
// package's own build description, project-variable restoration, variant
// choice and alias registration. Re-running within the same build invocation
// is idempotent.
func (r *Resolver) Integrate(ctx context.Context, pkg *config.Package, desc *vendored.Description) (Result, error) {
	opts, err := decodeOptions(pkg.Options)
	if err != nil {
		return Result{}, fmt.Errorf("package %q: %w", pkg.Name, err)
	}

	// Policy gate first: a disabled integration configures nothing at all.
	if disabled, reason := pkg.DisableWhen.Disabled(r.toolchain); disabled {
		r.log.Infof("Skipping package %q: %s", pkg.Name, reason)
		return Result{State: StateSkipped, Reason: reason}, nil
	}

	selection, err := r.Select(pkg, desc)
	if err != nil {
		return Result{}, err
	}

	// The override table must be in the cache before the package's build
	// description runs: it reads the provider variables exactly once, at
	// first configuration, and bakes the answer in.
	origin := "resolver/" + pkg.Name
	for _, slot := range desc.SortedSlots() {
		provider, ok := selection.Provider(slot.Name)
		if !ok {
			// Unsatisfied optional slot: make sure no stale selection from
			// an earlier run survives.
			if err := r.cache.Delete(ctx, desc.SlotKey(slot)); err != nil {
				return Result{}, err
			}
			continue
		}
		if _, err := r.cache.Set(ctx, desc.SlotKey(slot), provider.Encode(), origin, true); err != nil {
			return Result{}, err
		}
	}

	// Pre-empt misdetecting feature probes instead of trusting them.
	for _, probe := range desc.Probes {
		if !r.probeBroken(probe) {
			continue
		}
		r.log.Debugf("Forcing %s=%s for package %q (detection unreliable on %s)",
			probe.Define, probe.Corrected, pkg.Name, r.toolchain.OS)
		if _, err := r.cache.Set(ctx, desc.DefineKey(probe.Define), probe.Corrected, origin, true); err != nil {
			return Result{}, err
		}
	}

	// Snapshot project-wide variables the package is known to clobber, so
	// we can put them back no matter what its description does.
	protect := make([]string, 0, len(desc.Clobbers)+len(opts.ProtectVars))
	for name := range desc.Clobbers {
		protect = append(protect, vendored.ProjectKey(name))
	}
	for _, name := range opts.ProtectVars {
		protect = append(protect, vendored.ProjectKey(name))
	}
	slices.Sort(protect)
	protect = slices.Compact(protect)

	snapshot, err := r.cache.Snapshot(ctx, protect)
	if err != nil {
		return Result{}, err
	}

	cres, err := desc.Configure(ctx, r.cache, r.registry, pkg.Linkage.Resolve(r.toolchain.Linkage), origin)

	// Restore before looking at the configure outcome: the clobber is a
	// side effect that happens even when configuration fails midway.
	if restoreErr := r.cache.Restore(ctx, snapshot); restoreErr != nil && err == nil {
		err = restoreErr
	}
	if err != nil {
		return Result{}, fmt.Errorf("package %q: configure: %w", pkg.Name, err)
	}

	if cres.Reconfigured {
		r.log.Warnf("Package %q was already configured in this invocation; override reads were no-ops", pkg.Name)
	}

	// Exactly one of the secure and insecure variants is chosen, driven by
	// whether a TLS provider ended up available.
	variantName := opts.InsecureVariant
	if selection.External(opts.TLSSlot) {
		variantName = opts.SecureVariant
	}
	if _, ok := desc.Variants[variantName]; !ok {
		// Packages without the secure/insecure split export their single
		// variant regardless.
		if len(desc.Variants) == 1 {
			for name := range desc.Variants {
				variantName = name
			}
		} else {
			return Result{}, fmt.Errorf("package %q: manifest declares no variant %q", pkg.Name, variantName)
		}
	}

	variantTarget, ok := cres.Variants[variantName]
	if !ok {
		return Result{}, fmt.Errorf("package %q: variant %q not producible with current providers", pkg.Name, variantName)
	}

	alias := pkg.AliasName()
	if err := r.registry.Alias(alias, variantTarget, desc.PublicIncludeDirs(), origin); err != nil {
		return Result{}, fmt.Errorf("package %q: %w", pkg.Name, err)
	}

	return Result{
		State:        StateIntegrated,
		Alias:        alias,
		Variant:      variantName,
		BundledSlots: cres.BundledSlots,
		Reconfigured: cres.Reconfigured,
	}, nil
}

func (r *Resolver) probeBroken(p vendored.Probe) bool {
	for _, pattern := range p.Broken {
		if matchPlatform(pattern, r.toolchain.OS) {
			return true
		}
	}
	return false
}
