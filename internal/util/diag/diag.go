// Package diag implements a tiny diagnostics registry, in the style of
// cdc-sink's internal/util/diag package (referenced throughout the
// source tree as diag.Diagnostics, constructed with diag.New(ctx) and
// fed to components via dependency injection). Components register a
// name and a function that reports their own health/state; Report
// collects everything into a single snapshot for an operator to
// inspect.
package diag

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Reporter is implemented by anything that can describe its own state
// for diagnostics purposes.
type Reporter interface {
	Diagnostic(ctx context.Context) any
}

// Diagnostics is a registry of named Reporters.
type Diagnostics struct {
	mu        sync.Mutex
	reporters map[string]Reporter
}

// New constructs a Diagnostics registry. The returned cleanup function
// is a no-op.
func New(_ context.Context) (*Diagnostics, func()) {
	d := &Diagnostics{reporters: make(map[string]Reporter)}
	return d, func() {}
}

// Register associates a name with a Reporter. It is an error to
// register the same name twice, mirroring cdc-sink's
// diags.Register("targetStatements", ...) call sites, which rely on
// names being unique within a process.
func (d *Diagnostics) Register(name string, r Reporter) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, found := d.reporters[name]; found {
		return errors.Errorf("diagnostic %q already registered", name)
	}
	d.reporters[name] = r
	return nil
}

// Unregister removes a previously registered name, if any.
func (d *Diagnostics) Unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.reporters, name)
}

// Report collects a snapshot of every registered Reporter.
func (d *Diagnostics) Report(ctx context.Context) map[string]any {
	d.mu.Lock()
	names := make([]string, 0, len(d.reporters))
	reporters := make(map[string]Reporter, len(d.reporters))
	for name, r := range d.reporters {
		names = append(names, name)
		reporters[name] = r
	}
	d.mu.Unlock()

	out := make(map[string]any, len(names))
	for _, name := range names {
		out[name] = reporters[name].Diagnostic(ctx)
	}
	return out
}
