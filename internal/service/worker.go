package service

import (
	"cmp"
	"context"
	"time"

	"github.com/linkplane/linkplane/internal/config"
	"github.com/linkplane/linkplane/internal/logging"
	"github.com/linkplane/linkplane/internal/metrics"
	"github.com/linkplane/linkplane/internal/progress"
	"github.com/linkplane/linkplane/internal/resolver"
	"github.com/linkplane/linkplane/internal/vendored"
)

var (
	defaultInterval = 30 * time.Second
	errorInterval   = 30 * time.Second
)

type IntegrationState int

const (
	StatePending IntegrationState = iota
	StateIntegrated
	StateSkipped
	StateManifestFailed
	StateResolveFailed
)

func (s IntegrationState) String() string {
	switch s {
	case StateIntegrated:
		return "integrated"
	case StateSkipped:
		return "skipped"
	case StateManifestFailed:
		return "manifest_failed"
	case StateResolveFailed:
		return "resolve_failed"
	}
	return "pending"
}

func (s IntegrationState) Failed() bool {
	return s == StateManifestFailed || s == StateResolveFailed
}

type Status struct {
	State   IntegrationState
	Message string
}

// PackageWorker integrates a single vendored package. Each iteration loads
// the package's manifest from its source tree and runs the override
// resolution against it; a fresh manifest per iteration means edits to the
// package's build description are picked up without restarting the service.
type PackageWorker struct {
	pkg        *config.Package
	resolver   *resolver.Resolver
	changed    chan struct{}
	done       chan struct{}
	singleShot bool
	log        *logging.Logger
	bar        *progress.Bar
	status     Status
	interval   time.Duration
	publish    func(name string, result resolver.Result)
}

func NewPackageWorker(pkg *config.Package, r *resolver.Resolver, logger *logging.Logger, bar *progress.Bar) *PackageWorker {
	return &PackageWorker{
		pkg:      pkg,
		resolver: r,
		log:      logger,
		bar:      bar,
		changed:  make(chan struct{}), done: make(chan struct{}),
		interval: defaultInterval,
	}
}

func (w *PackageWorker) WithSingleShot(singleShot bool) *PackageWorker {
	w.singleShot = singleShot
	return w
}

func (w *PackageWorker) WithInterval(d config.Duration) *PackageWorker {
	w.interval = cmp.Or(time.Duration(d), defaultInterval)
	return w
}

// WithPublisher registers a callback receiving each iteration's result.
func (w *PackageWorker) WithPublisher(fn func(name string, result resolver.Result)) *PackageWorker {
	w.publish = fn
	return w
}

func (w *PackageWorker) Done() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *PackageWorker) Status() Status {
	return w.status
}

// UpdateConfig signals the worker to retire when its package configuration
// changed or disappeared; the service then schedules a replacement.
func (w *PackageWorker) UpdateConfig(pkg *config.Package) {
	if pkg == nil || !w.pkg.Equal(pkg) {
		w.changeConfiguration()
	}
}

// Execute runs one integration iteration: manifest load, override
// resolution, alias registration. It returns the deadline for the next
// iteration, or the zero time to retire from the pool.
func (w *PackageWorker) Execute(ctx context.Context) time.Time {
	startTime := time.Now() // Used for timing metric

	defer w.bar.Add(1)

	// If a configuration change was requested, request the worker to be
	// removed from the pool and signal this worker being done.

	if w.configurationChanged() {
		return w.die()
	}

	desc, err := vendored.Load(w.pkg.ManifestPath())
	if err != nil {
		w.log.Warnf("failed to load manifest for package %q: %v", w.pkg.Name, err)
		return w.report(StateManifestFailed, startTime, resolver.Result{}, err)
	}

	result, err := w.resolver.Integrate(ctx, w.pkg, desc)
	if err != nil {
		w.log.Warnf("failed to integrate package %q: %v", w.pkg.Name, err)
		return w.report(StateResolveFailed, startTime, resolver.Result{}, err)
	}

	if result.State == resolver.StateSkipped {
		w.log.Debugf("Package %q skipped: %s", w.pkg.Name, result.Reason)
		return w.report(StateSkipped, startTime, result, nil)
	}

	w.log.Debugf("Package %q integrated as %q (%s variant).", w.pkg.Name, result.Alias, result.Variant)
	return w.report(StateIntegrated, startTime, result, nil)
}

func (w *PackageWorker) report(state IntegrationState, startTime time.Time, result resolver.Result, err error) time.Time {
	interval := w.interval
	w.status.State = state
	w.status.Message = ""
	if err != nil {
		interval = errorInterval // faster retry on error
		w.status.Message = err.Error()
	}

	switch state {
	case StateIntegrated:
		metrics.IntegrationSucceeded(w.pkg.Name, startTime)
	case StateSkipped:
		metrics.IntegrationSkipped.WithLabelValues(w.pkg.Name, result.Reason).Inc()
	default:
		metrics.IntegrationFailed.WithLabelValues(w.pkg.Name, state.String()).Inc()
	}

	if w.publish != nil {
		w.publish(w.pkg.Name, result)
	}

	if w.singleShot {
		return w.die()
	}

	return time.Now().Add(interval)
}

func (w *PackageWorker) changeConfiguration() {
	select {
	case <-w.changed:
	default:
		close(w.changed)
	}
}

func (w *PackageWorker) configurationChanged() bool {
	select {
	case <-w.changed:
		return true
	default:
		return false
	}
}

func (w *PackageWorker) die() time.Time {
	close(w.done)

	var zero time.Time
	return zero
}
