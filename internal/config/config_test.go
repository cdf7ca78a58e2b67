package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/linkplane/linkplane/internal/config"
)

func TestParseNameInjection(t *testing.T) {

	root, err := config.Parse([]byte(`{
		libraries: {
			zlib: {target: host_zlib, include_dir: /opt/zlib/include},
			re2: {target: host_re2}
		},
		packages: {
			rpclib: {
				source_dir: vendor/rpclib,
				overrides: {zlib: zlib}
			}
		}
	}`))
	if err != nil {
		t.Fatal(err)
	}

	if root.Libraries["zlib"].Name != "zlib" {
		t.Errorf("library name not injected: %q", root.Libraries["zlib"].Name)
	}
	if root.Packages["rpclib"].Name != "rpclib" {
		t.Errorf("package name not injected: %q", root.Packages["rpclib"].Name)
	}
}

func TestPackageDefaults(t *testing.T) {

	root, err := config.Parse([]byte(`{
		packages: {
			rpclib: {source_dir: vendor/rpclib},
			imaging: {source_dir: vendor/imaging, manifest: etc/imaging.yaml, alias: "vendor::imaging"}
		}
	}`))
	if err != nil {
		t.Fatal(err)
	}

	rpclib := root.Packages["rpclib"]
	if got := rpclib.ManifestPath(); got != filepath.Join("vendor/rpclib", "linkdeps.yaml") {
		t.Errorf("unexpected default manifest path %q", got)
	}
	if got := rpclib.AliasName(); got != "host::rpclib" {
		t.Errorf("unexpected default alias %q", got)
	}

	imaging := root.Packages["imaging"]
	if got := imaging.ManifestPath(); got != "etc/imaging.yaml" {
		t.Errorf("explicit manifest path not honored: %q", got)
	}
	if got := imaging.AliasName(); got != "vendor::imaging" {
		t.Errorf("explicit alias not honored: %q", got)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		note   string
		config string
	}{
		{
			note:   "package without source dir",
			config: `{packages: {rpclib: {}}}`,
		},
		{
			note:   "unknown package field",
			config: `{packages: {rpclib: {source_dir: x, sourcedir: y}}}`,
		},
		{
			note:   "unknown top-level section",
			config: `{bundles: {}}`,
		},
		{
			note:   "bad sanitizer",
			config: `{toolchain: {sanitizer: radioactive}}`,
		},
		{
			note:   "bad linkage",
			config: `{toolchain: {linkage: hybrid}}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.note, func(t *testing.T) {
			if _, err := config.Parse([]byte(tc.config)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestToolchainEnums(t *testing.T) {

	root, err := config.Parse([]byte(`{
		toolchain: {os: linux-x86_64, compiler: clang, sanitizer: msan, linkage: shared}
	}`))
	if err != nil {
		t.Fatal(err)
	}

	if root.Toolchain.Sanitizer != config.SanitizerMemory {
		t.Errorf("unexpected sanitizer %v", root.Toolchain.Sanitizer)
	}
	if root.Toolchain.Linkage != config.LinkageShared {
		t.Errorf("unexpected linkage %v", root.Toolchain.Linkage)
	}
}

func TestDuration(t *testing.T) {

	root, err := config.Parse([]byte(`{
		packages: {
			rpclib: {source_dir: vendor/rpclib, resolve_interval: 5m}
		}
	}`))
	if err != nil {
		t.Fatal(err)
	}

	if got := time.Duration(root.Packages["rpclib"].Interval); got != 5*time.Minute {
		t.Errorf("unexpected interval %v", got)
	}
}

func TestTopologicalSortedPackages(t *testing.T) {

	root, err := config.Parse([]byte(`{
		packages: {
			a: {source_dir: vendor/a, requires: [b, c]},
			b: {source_dir: vendor/b, requires: [c]},
			c: {source_dir: vendor/c},
			d: {source_dir: vendor/d, requires: [missing]}
		}
	}`))
	if err != nil {
		t.Fatal(err)
	}

	ordered, err := root.TopologicalSortedPackages()
	if err != nil {
		t.Fatal(err)
	}

	position := map[string]int{}
	for i, pkg := range ordered {
		position[pkg.Name] = i
	}
	if len(position) != 4 {
		t.Fatalf("expected all packages in the order, got %v", position)
	}
	if position["c"] > position["b"] || position["b"] > position["a"] {
		t.Errorf("requirements not ordered first: %v", position)
	}
}

func TestTopologicalSortCycle(t *testing.T) {

	root, err := config.Parse([]byte(`{
		packages: {
			a: {source_dir: vendor/a, requires: [b]},
			b: {source_dir: vendor/b, requires: [a]}
		}
	}`))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := root.TopologicalSortedPackages(); err == nil {
		t.Fatal("expected a cycle error")
	}
}

func TestDisablePolicy(t *testing.T) {
	cases := []struct {
		note      string
		policy    config.DisablePolicy
		toolchain config.Toolchain
		disabled  bool
		reason    string
	}{
		{
			note:      "sanitizer match",
			policy:    config.DisablePolicy{Sanitizers: []string{"memory"}, Reason: "not msan-clean"},
			toolchain: config.Toolchain{Sanitizer: config.SanitizerMemory},
			disabled:  true,
			reason:    "not msan-clean",
		},
		{
			note:      "sanitizer mismatch",
			policy:    config.DisablePolicy{Sanitizers: []string{"memory"}},
			toolchain: config.Toolchain{Sanitizer: config.SanitizerAddress},
		},
		{
			note:      "platform glob match",
			policy:    config.DisablePolicy{Platforms: []string{"windows-*"}},
			toolchain: config.Toolchain{OS: "windows-x86_64"},
			disabled:  true,
		},
		{
			note:      "platform glob mismatch",
			policy:    config.DisablePolicy{Platforms: []string{"windows-*"}},
			toolchain: config.Toolchain{OS: "linux-x86_64"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.note, func(t *testing.T) {
			disabled, reason := tc.policy.Disabled(&tc.toolchain)
			if disabled != tc.disabled {
				t.Fatalf("expected disabled=%v, got %v", tc.disabled, disabled)
			}
			if tc.reason != "" && reason != tc.reason {
				t.Errorf("expected reason %q, got %q", tc.reason, reason)
			}
		})
	}
}

func TestEqual(t *testing.T) {

	parse := func(s string) *config.Root {
		t.Helper()
		root, err := config.Parse([]byte(s))
		if err != nil {
			t.Fatal(err)
		}
		return root
	}

	a := parse(`{packages: {rpclib: {source_dir: vendor/rpclib, overrides: {zlib: zlib}}}}`)
	b := parse(`{packages: {rpclib: {source_dir: vendor/rpclib, overrides: {zlib: zlib}}}}`)
	c := parse(`{packages: {rpclib: {source_dir: vendor/rpclib, overrides: {zlib: re2}}}}`)

	if !a.Packages["rpclib"].Equal(b.Packages["rpclib"]) {
		t.Error("identical packages not equal")
	}
	if a.Packages["rpclib"].Equal(c.Packages["rpclib"]) {
		t.Error("different overrides reported equal")
	}
}

func TestMerge(t *testing.T) {

	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	override := filepath.Join(dir, "override.yaml")

	if err := os.WriteFile(base, []byte(`
toolchain:
  os: linux-x86_64
packages:
  rpclib:
    source_dir: vendor/rpclib
`), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(override, []byte(`
toolchain:
  sanitizer: address
packages:
  rpclib:
    overrides:
      zlib: zlib
`), 0644); err != nil {
		t.Fatal(err)
	}

	bs, err := config.Merge([]string{base, override}, false)
	if err != nil {
		t.Fatal(err)
	}

	root, err := config.Parse(bs)
	if err != nil {
		t.Fatal(err)
	}

	if root.Toolchain.OS != "linux-x86_64" || root.Toolchain.Sanitizer != config.SanitizerAddress {
		t.Errorf("merge lost values: %+v", root.Toolchain)
	}
	if diff := cmp.Diff(map[string]string{"zlib": "zlib"}, root.Packages["rpclib"].Overrides); diff != "" {
		t.Errorf("unexpected overrides (-want +got):\n%s", diff)
	}
	if root.Packages["rpclib"].SourceDir != "vendor/rpclib" {
		t.Errorf("merge lost source dir: %q", root.Packages["rpclib"].SourceDir)
	}
}

func TestMergeConflict(t *testing.T) {

	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")

	for path, body := range map[string]string{
		a: `{toolchain: {os: linux}}`,
		b: `{toolchain: {os: darwin}}`,
	} {
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := config.Merge([]string{a, b}, true); err == nil {
		t.Fatal("expected a conflict error")
	} else if !strings.Contains(err.Error(), "toolchain") {
		t.Errorf("conflict error does not name the path: %v", err)
	}
}
