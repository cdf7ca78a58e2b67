package service_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/linkplane/linkplane/internal/logging"
	"github.com/linkplane/linkplane/internal/resolver"
	"github.com/linkplane/linkplane/internal/service"
)

const compressionManifest = `
name: imaging
include_dir: include
slots:
  zlib:
    variable: IMAGING_ZLIB_PROVIDER
    bundled_target: imaging_vendored_zlib
    bundled_include: third_party/zlib
variants:
  default:
    target: imaging_core
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "linkplane.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeManifest(t *testing.T, dir string) string {
	t.Helper()
	pkgDir := filepath.Join(dir, "vendor", "imaging")
	if err := os.MkdirAll(pkgDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pkgDir, "linkdeps.yaml"), []byte(compressionManifest), 0644); err != nil {
		t.Fatal(err)
	}
	return pkgDir
}

func TestRunSingleShot(t *testing.T) {
	dir := t.TempDir()
	pkgDir := writeManifest(t, dir)

	configPath := writeConfig(t, dir, fmt.Sprintf(`
libraries:
  zlib:
    target: host_zlib
    include_dir: /opt/zlib/include
packages:
  imaging:
    source_dir: %s
    overrides:
      zlib: zlib
`, pkgDir))

	s := service.New().
		WithConfigFiles([]string{configPath}).
		WithPersistenceDir(filepath.Join(dir, "state")).
		WithSingleShot(true).
		WithNoProgress(true).
		WithLogger(logging.NewNopLogger())

	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	results := s.Results()
	result, ok := results["imaging"]
	if !ok {
		t.Fatalf("no result recorded for package, got %v", results)
	}
	if result.State != resolver.StateIntegrated {
		t.Fatalf("expected integrated, got %v (%s)", result.State, result.Reason)
	}
	if result.Alias != "host::imaging" {
		t.Errorf("unexpected alias %q", result.Alias)
	}

	closure, err := s.Registry().Closure(result.Alias)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, target := range closure {
		if target.Name == "host_zlib" {
			found = true
		}
		if target.Bundled {
			t.Errorf("bundled copy %q in closure despite override", target.Name)
		}
	}
	if !found {
		t.Error("host library missing from alias closure")
	}
}

func TestRunSingleShotReportsFailures(t *testing.T) {
	dir := t.TempDir()

	configPath := writeConfig(t, dir, fmt.Sprintf(`
packages:
  imaging:
    source_dir: %s
`, filepath.Join(dir, "no", "such", "dir")))

	s := service.New().
		WithConfigFiles([]string{configPath}).
		WithPersistenceDir(filepath.Join(dir, "state")).
		WithSingleShot(true).
		WithNoProgress(true).
		WithLogger(logging.NewNopLogger())

	if err := s.Run(context.Background()); err == nil {
		t.Fatal("expected an error for the missing manifest")
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	pkgDir := writeManifest(t, dir)

	cases := []struct {
		note    string
		config  string
		wantErr bool
	}{
		{
			note: "valid",
			config: fmt.Sprintf(`
packages:
  imaging:
    source_dir: %s
`, pkgDir),
		},
		{
			note: "missing manifest",
			config: `
packages:
  imaging:
    source_dir: /no/such/dir
`,
			wantErr: true,
		},
		{
			note: "requirement cycle",
			config: fmt.Sprintf(`
packages:
  imaging:
    source_dir: %[1]s
    requires: [codecs]
  codecs:
    source_dir: %[1]s
    requires: [imaging]
`, pkgDir),
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.note, func(t *testing.T) {
			configPath := writeConfig(t, t.TempDir(), tc.config)
			s := service.New().
				WithConfigFiles([]string{configPath}).
				WithPersistenceDir(filepath.Join(dir, "state")).
				WithLogger(logging.NewNopLogger())

			err := s.Validate(context.Background())
			if tc.wantErr && err == nil {
				t.Fatal("expected an error")
			}
			if !tc.wantErr && err != nil {
				t.Fatal(err)
			}
		})
	}
}
