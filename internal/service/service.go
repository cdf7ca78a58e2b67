// Package service wires the whole resolution pipeline together: it loads
// and merges configuration, opens the variable cache, registers the host
// project's libraries, and drives one worker per vendored package through a
// shared pool. In single-shot mode it runs every integration once and
// returns; otherwise it keeps re-integrating on an interval and follows
// configuration changes.
package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/linkplane/linkplane/internal/config"
	"github.com/linkplane/linkplane/internal/graph"
	"github.com/linkplane/linkplane/internal/logging"
	"github.com/linkplane/linkplane/internal/pool"
	"github.com/linkplane/linkplane/internal/progress"
	"github.com/linkplane/linkplane/internal/resolver"
	"github.com/linkplane/linkplane/internal/varcache"
	"github.com/linkplane/linkplane/internal/vendored"
)

var reloadInterval = 30 * time.Second

type Service struct {
	configFiles    []string
	persistenceDir string
	singleShot     bool
	noProgress     bool
	log            *logging.Logger
	sanitizer      *config.Sanitizer
	linkage        *config.Linkage

	config   *config.Root
	cache    *varcache.Cache
	registry *graph.Registry
	resolver *resolver.Resolver
	pool     *pool.Pool
	workers  map[string]*PackageWorker

	mu      sync.Mutex
	results map[string]resolver.Result
}

func New() *Service {
	return &Service{
		log:     logging.NewNopLogger(),
		workers: map[string]*PackageWorker{},
		results: map[string]resolver.Result{},
	}
}

func (s *Service) WithConfigFiles(paths []string) *Service {
	s.configFiles = paths
	return s
}

func (s *Service) WithPersistenceDir(dir string) *Service {
	s.persistenceDir = dir
	return s
}

func (s *Service) WithSingleShot(singleShot bool) *Service {
	s.singleShot = singleShot
	return s
}

func (s *Service) WithNoProgress(noProgress bool) *Service {
	s.noProgress = noProgress
	return s
}

func (s *Service) WithLogger(logger *logging.Logger) *Service {
	s.log = logger
	return s
}

// WithSanitizer overrides the configured toolchain sanitizer, e.g. from a
// command line flag.
func (s *Service) WithSanitizer(sanitizer config.Sanitizer) *Service {
	s.sanitizer = &sanitizer
	return s
}

// WithLinkage overrides the configured toolchain linkage.
func (s *Service) WithLinkage(linkage config.Linkage) *Service {
	s.linkage = &linkage
	return s
}

// Config returns the merged configuration. Valid after Run (or a
// loadConfig-triggering call) has started.
func (s *Service) Config() *config.Root {
	return s.config
}

// Registry returns the link-target registry built by the run.
func (s *Service) Registry() *graph.Registry {
	return s.registry
}

// Results returns the last integration result per package.
func (s *Service) Results() map[string]resolver.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.results)
}

func (s *Service) loadConfig() (*config.Root, error) {
	bs, err := config.Merge(s.configFiles, false)
	if err != nil {
		return nil, err
	}

	root, err := config.Parse(bs)
	if err != nil {
		return nil, err
	}

	if s.sanitizer != nil {
		root.Toolchain.Sanitizer = *s.sanitizer
	}
	if s.linkage != nil {
		root.Toolchain.Linkage = *s.linkage
	}

	if root.SetSQLiteCacheByDefault(s.persistenceDir) {
		if err := os.MkdirAll(s.persistenceDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create persistence directory: %w", err)
		}
	}

	return root, nil
}

// CheckManifests loads every configured package's manifest, in parallel, and
// reports the first failure. Used by validation; a full run loads manifests
// again per iteration.
func (s *Service) CheckManifests(ctx context.Context, root *config.Root) error {
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for _, pkg := range root.SortedPackages() {
		g.Go(func() error {
			if _, err := vendored.Load(pkg.ManifestPath()); err != nil {
				return fmt.Errorf("package %q: %w", pkg.Name, err)
			}
			return nil
		})
	}

	return g.Wait()
}

// Validate loads and checks the configuration and every package manifest
// without touching the cache or running any integration.
func (s *Service) Validate(ctx context.Context) error {
	root, err := s.loadConfig()
	if err != nil {
		return err
	}
	s.config = root

	if _, err := root.TopologicalSortedPackages(); err != nil {
		return err
	}

	return s.CheckManifests(ctx, root)
}

// Run executes the service until the context is cancelled or, in
// single-shot mode, until every package worker has finished once.
func (s *Service) Run(ctx context.Context) error {
	root, err := s.loadConfig()
	if err != nil {
		return err
	}
	s.config = root

	s.cache, err = varcache.Open(ctx, root.Cache, s.log)
	if err != nil {
		return err
	}
	defer s.cache.Close()

	s.registry = graph.NewRegistry()
	for _, lib := range root.SortedLibraries() {
		target := graph.Target{
			Name:   lib.Target,
			Kind:   graph.KindInterface,
			Origin: "host",
		}
		if lib.IncludeDir != "" {
			target.IncludeDirs = []string{lib.IncludeDir}
		}
		if err := s.registry.Define(target); err != nil {
			return err
		}
	}

	s.resolver = resolver.New(root.Libraries, root.Toolchain, s.cache, s.registry, s.log)

	ordered, err := root.TopologicalSortedPackages()
	if err != nil {
		return err
	}

	bar := progress.NewNop()
	if s.singleShot && !s.noProgress && len(ordered) > 0 {
		bar = progress.New(os.Stderr, len(ordered), "Integrating packages")
	}

	if root.Service.MetricsAddr != "" && !s.singleShot {
		s.serveMetrics(ctx, root.Service.MetricsAddr)
	}

	workers := root.Service.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	s.pool = pool.New(workers)
	defer s.pool.Stop()

	for _, pkg := range ordered {
		s.startWorker(pkg, bar)
	}

	if s.singleShot {
		defer bar.Finish()
		if err := s.waitForWorkers(ctx); err != nil {
			return err
		}
		return s.failures()
	}

	return s.reloadLoop(ctx)
}

func (s *Service) startWorker(pkg *config.Package, bar *progress.Bar) {
	w := NewPackageWorker(pkg, s.resolver, s.log.WithName(pkg.Name), bar).
		WithSingleShot(s.singleShot).
		WithInterval(pkg.Interval).
		WithPublisher(s.recordResult)
	s.workers[pkg.Name] = w
	s.pool.Add(pkg.Name, w.Execute)
}

func (s *Service) recordResult(name string, result resolver.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[name] = result
}

func (s *Service) waitForWorkers(ctx context.Context) error {
	for name, w := range s.workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			return fmt.Errorf("interrupted waiting for package %q: %w", name, ctx.Err())
		}
	}
	return nil
}

func (s *Service) failures() error {
	var errs []error
	for name, w := range s.workers {
		if status := w.Status(); status.State.Failed() {
			errs = append(errs, fmt.Errorf("package %q: %s: %s", name, status.State, status.Message))
		}
	}
	return errors.Join(errs...)
}

// reloadLoop re-reads the configuration on an interval and reconciles the
// worker set: changed or removed packages retire their workers, retired and
// new packages get fresh ones.
func (s *Service) reloadLoop(ctx context.Context) error {
	ticker := time.NewTicker(reloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		root, err := s.loadConfig()
		if err != nil {
			s.log.Warnf("configuration reload failed: %v", err)
			continue
		}

		if !root.Toolchain.Equal(s.config.Toolchain) || !root.Cache.Equal(s.config.Cache) {
			s.log.Warnf("toolchain or cache configuration changed; restart to apply")
			continue
		}

		s.config = root
		s.resolver = resolver.New(root.Libraries, root.Toolchain, s.cache, s.registry, s.log)

		for name, w := range s.workers {
			w.UpdateConfig(root.Packages[name])
			if w.Done() {
				delete(s.workers, name)
				s.registry.Remove("resolver/" + name)
			}
		}

		ordered, err := root.TopologicalSortedPackages()
		if err != nil {
			s.log.Warnf("configuration reload failed: %v", err)
			continue
		}
		for _, pkg := range ordered {
			if _, ok := s.workers[pkg.Name]; !ok {
				s.startWorker(pkg, progress.NewNop())
			}
		}
	}
}

func (s *Service) serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		s.log.Infof("Serving metrics on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("metrics listener failed: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
