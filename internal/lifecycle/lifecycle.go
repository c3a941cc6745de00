// Package lifecycle implements the Query Lifecycle Manager (spec
// §4.6): per distinct AST hash, it tracks reference count, effective
// TTL, the materialized pipeline + view, server registration, and the
// ResultType "unknown" -> "complete" transition. It is grounded on the
// teacher's `Resolvers` factory (internal/source/cdc/resolver.go): a
// mutex-protected map of lazily-created, refcounted instances, torn
// down by a per-instance background loop rather than synchronously.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/rocicorp/zero-ivm/internal/ast"
	"github.com/rocicorp/zero-ivm/internal/pipeline"
	"github.com/rocicorp/zero-ivm/internal/query"
	"github.com/rocicorp/zero-ivm/internal/util/diag"
	"github.com/rocicorp/zero-ivm/internal/util/stopper"
	"github.com/rocicorp/zero-ivm/internal/view"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Registrar is the server-registration boundary the manager drives: it
// queues QueriesPatch operations (spec §6) as queries materialize and
// are released. internal/channel provides the production
// implementation; tests and local-only deployments may pass nil, in
// which case the manager simply never calls out.
type Registrar interface {
	Put(hash string, ttl time.Duration, name string, args any, a *ast.AST)
	Del(hash string)
}

// MaterializedHook is called after a new pipeline finishes building,
// with (hash, ast, duration), for observability (spec §4.6 "query
// materialized" hook).
type MaterializedHook func(hash string, a *ast.AST, duration time.Duration)

// Config carries the manager's tunables; callers fill it from the
// matching fields of internal/config's Config.
type Config struct {
	DefaultTTL               time.Duration
	DefaultQueryComplete     bool
	SlowMaterializeThreshold time.Duration
}

type entry struct {
	view      *view.View
	destroy   func()
	ttl       time.Duration
	refCount  int
	ttlTimer  *time.Timer
	ast       *ast.AST
	name      string
	args      any
}

// Manager materializes Queries against a fixed pipeline.Builder,
// sharing one pipeline+view per distinct query hash across any number
// of holders.
type Manager struct {
	builder   *pipeline.Builder
	cfg       Config
	registrar Registrar
	onMat     MaterializedHook
	stop      *stopper.Context

	mu      sync.Mutex
	entries map[string]*entry
}

// New constructs a Manager. stop is the engine-shutdown context that
// Manager.Stop stops; TTL-expiry timers run via time.AfterFunc, not
// under stop.
func New(builder *pipeline.Builder, cfg Config, registrar Registrar, onMat MaterializedHook, stop *stopper.Context) *Manager {
	return &Manager{
		builder:   builder,
		cfg:       cfg,
		registrar: registrar,
		onMat:     onMat,
		stop:      stop,
		entries:   map[string]*entry{},
	}
}

var _ diag.Reporter = (*Manager)(nil)

// Diagnostic implements diag.Reporter, reporting the number of
// currently-materialized queries and their hashes for an operator
// inspecting a running engine.
func (m *Manager) Diagnostic(_ context.Context) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	hashes := make([]string, 0, len(m.entries))
	for hash := range m.entries {
		hashes = append(hashes, hash)
	}
	return map[string]any{
		"activeQueries": len(m.entries),
		"hashes":        hashes,
	}
}

// Materialize increments q's reference count, building its pipeline
// and view on the 0->1 transition, per spec §4.6. ttl is this holder's
// requested retention; the query's effective TTL is the max over all
// live holders.
func (m *Manager) Materialize(ctx context.Context, q query.Query, ttl time.Duration) (*view.View, error) {
	hash := q.Hash()

	m.mu.Lock()
	if e, ok := m.entries[hash]; ok {
		e.refCount++
		e.ttl = maxTTL(e.ttl, ttl)
		if e.ttlTimer != nil {
			e.ttlTimer.Stop()
			e.ttlTimer = nil
		}
		m.mu.Unlock()
		return e.view, nil
	}
	m.mu.Unlock()

	start := time.Now()
	input, format, pk, err := q.BuildInput(ctx, m.builder)
	if err != nil {
		return nil, errors.Wrap(err, "lifecycle: materialize")
	}
	v := view.New(ctx, input, format, pk)
	duration := time.Since(start)

	if m.cfg.DefaultQueryComplete {
		v.SetResultType(view.ResultComplete)
	}

	name, args := q.NameArgs()
	e := &entry{
		view:     v,
		destroy:  input.Destroy,
		ttl:      ttl,
		refCount: 1,
		ast:      q.AST(),
		name:     name,
		args:     args,
	}
	v.SetOnDestroy(func() { m.release(hash) })

	m.mu.Lock()
	m.entries[hash] = e
	m.mu.Unlock()
	activeQueries.Inc()
	materializeDurations.WithLabelValues(hash).Observe(duration.Seconds())

	if m.cfg.SlowMaterializeThreshold > 0 && duration >= m.cfg.SlowMaterializeThreshold {
		slowMaterializations.WithLabelValues(hash).Inc()
		log.WithFields(log.Fields{"hash": hash, "duration": duration}).Warn("slow query materialization")
	}
	if m.registrar != nil {
		m.registrar.Put(hash, ttl, name, args, q.AST())
	}
	if m.onMat != nil {
		m.onMat(hash, q.AST(), duration)
	}
	log.WithFields(log.Fields{"hash": hash, "ttl": ttl, "duration": duration}).Debug("materialized query")

	return v, nil
}

// release decrements hash's reference count; on reaching zero it
// starts (or immediately fires, for a zero TTL) a retirement timer.
func (m *Manager) release(hash string) {
	m.mu.Lock()
	e, ok := m.entries[hash]
	if !ok {
		m.mu.Unlock()
		return
	}
	e.refCount--
	if e.refCount > 0 {
		m.mu.Unlock()
		return
	}

	if e.ttl == Forever {
		m.mu.Unlock()
		return
	}
	if e.ttl <= 0 {
		m.mu.Unlock()
		m.expire(hash)
		return
	}
	e.ttlTimer = time.AfterFunc(e.ttl, func() { m.expire(hash) })
	m.mu.Unlock()
}

// expire tears down hash's pipeline and view if its reference count is
// still zero (a new Materialize call between the timer firing and this
// running would have already cleared e.ttlTimer and bumped refCount,
// in which case expire is a no-op).
func (m *Manager) expire(hash string) {
	m.mu.Lock()
	e, ok := m.entries[hash]
	if !ok || e.refCount > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.entries, hash)
	m.mu.Unlock()

	activeQueries.Dec()
	if m.registrar != nil {
		m.registrar.Del(hash)
	}
	e.destroy()
	log.WithFields(log.Fields{"hash": hash}).Debug("retired query")
}

// Stop tears down every still-materialized query (regardless of
// reference count or pending TTL) and stops the manager's stopper
// Context, for use at engine shutdown.
func (m *Manager) Stop(timeout time.Duration) {
	m.mu.Lock()
	entries := m.entries
	m.entries = map[string]*entry{}
	m.mu.Unlock()

	for hash, e := range entries {
		if e.ttlTimer != nil {
			e.ttlTimer.Stop()
		}
		e.destroy()
		activeQueries.Dec()
		if m.registrar != nil {
			m.registrar.Del(hash)
		}
	}
	_ = m.stop.Stop(timeout)
}

// SetResultComplete flips hash's ResultType to complete, firing its
// view's listeners. The channel boundary calls this when it observes
// the server's "got" acknowledgement for hash.
func (m *Manager) SetResultComplete(hash string) {
	m.mu.Lock()
	e, ok := m.entries[hash]
	m.mu.Unlock()
	if !ok {
		return
	}
	e.view.SetResultType(view.ResultComplete)
}
