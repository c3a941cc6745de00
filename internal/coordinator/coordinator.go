// Package coordinator implements the Change Coordinator (spec §4.7): a
// single-threaded dispatcher that batches every Source.Push made
// between a transaction's Begin and Commit, then fans the net effect
// out to the affected Sources inside a caller-supplied batch wrapper so
// an embedding UI framework can group the resulting view-listener
// renders into one pass. It is grounded on the teacher's serialEvents
// (internal/source/logical/serial_events.go): an OnBegin/OnData/
// OnCommit/OnRollback state machine wrapping a single underlying
// transaction, adapted here from "buffer SQL mutations for one pgx.Tx"
// to "net-effect-combine in-memory SourceChanges per (table, row)".
package coordinator

import (
	"context"
	"sync"

	"github.com/rocicorp/zero-ivm/internal/source"
	"github.com/rocicorp/zero-ivm/internal/types"
	"github.com/rocicorp/zero-ivm/internal/util/diag"
	"github.com/rocicorp/zero-ivm/internal/util/hlc"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// BatchFunc wraps the application of one transaction's net-effect
// pushes, so an embedder can defer UI renders until apply returns (the
// teacher-adjacent idiom here is React's batched-update wrapper; apply
// itself is always synchronous). The default, used when none is
// configured, simply calls apply.
type BatchFunc func(apply func())

// Coordinator batches pushes across a set of registered Sources.
type Coordinator struct {
	mu      sync.Mutex
	sources map[string]*source.Source
	batch   BatchFunc
	clock   hlc.Time

	inTx    bool
	pending map[string]*tableNet // table -> net-effect changes
}

// New constructs a Coordinator with no Sources registered; call
// Register for each table the embedding pipeline mutates through it.
// If batch is nil, net-effect pushes are applied directly with no
// wrapping.
func New(batch BatchFunc) *Coordinator {
	if batch == nil {
		batch = func(apply func()) { apply() }
	}
	return &Coordinator{
		sources: map[string]*source.Source{},
		batch:   batch,
	}
}

var _ diag.Reporter = (*Coordinator)(nil)

// Diagnostic implements diag.Reporter, reporting whether a transaction
// is currently open and the clock's last commit time.
func (c *Coordinator) Diagnostic(context.Context) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]any{
		"txOpen":    c.inTx,
		"lastCommit": c.clock.String(),
	}
}

// Register associates a table name with the Source transactions will
// push changes to.
func (c *Coordinator) Register(s *source.Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[s.Table()] = s
}

// Begin opens a transaction. Only one transaction may be open at a
// time; Begin while one is already open is a programmer error.
func (c *Coordinator) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inTx {
		return types.NewInvariantViolation("coordinator: Begin called while a transaction is already open")
	}
	c.inTx = true
	c.pending = map[string]*tableNet{}
	return nil
}

// Push records change against table, to be net-effect-combined with
// any other change already queued this transaction for the same row
// identity, and delivered at Commit. Because the underlying Source is
// not touched until Commit, a Push earlier in the same transaction is
// not yet visible to a Fetch on one of its connectors -- read-your-
// writes for in-flight transactions is provided by Commit applying
// pushes before returning, not by Push itself; callers that need to
// observe their own writes mid-transaction should track them locally.
func (c *Coordinator) Push(table string, change types.SourceChange) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inTx {
		return types.NewInvariantViolation("coordinator: Push called outside a transaction")
	}
	src, ok := c.sources[table]
	if !ok {
		return types.NewInvariantViolation("coordinator: unregistered table " + table)
	}

	tableEntries, ok := c.pending[table]
	if !ok {
		tableEntries = &tableNet{}
		c.pending[table] = tableEntries
	}
	return combine(tableEntries, src.PrimaryKey(), change)
}

// Commit applies the transaction's accumulated net-effect changes, one
// Source.Push per surviving (table, row identity) pair, inside the
// configured BatchFunc. Pushes are grouped by table in Register order
// is not guaranteed; within a table, pushes occur in first-touched
// order. Returns the first error encountered; remaining pushes for
// other tables still execute (the synchronous pipeline has already
// applied whatever came before the failing push, consistent with spec
// §7's "abort the view update without emitting a partial snapshot"
// applying to the KV store, not to in-memory net-effect commit).
func (c *Coordinator) Commit(ctx context.Context) error {
	c.mu.Lock()
	if !c.inTx {
		c.mu.Unlock()
		return types.NewInvariantViolation("coordinator: Commit called without a matching Begin")
	}
	pending := c.pending
	sources := c.sources
	c.inTx = false
	c.pending = nil
	c.clock = c.clock.Next(commitNanos())
	commitTime := c.clock
	c.mu.Unlock()

	var firstErr error
	c.batch(func() {
		for table, entries := range pending {
			src := sources[table]
			for _, key := range entries.order {
				ent := entries.byKey[key]
				if ent.skip {
					continue
				}
				if err := src.Push(ctx, ent.toSourceChange()); err != nil {
					if firstErr == nil {
						firstErr = errors.Wrapf(err, "coordinator: commit table %s", table)
					}
				}
			}
		}
	})
	commitFanouts.Inc()
	log.WithFields(log.Fields{"time": commitTime.String()}).Debug("coordinator commit")
	return firstErr
}

// Rollback discards the transaction's accumulated pushes without
// applying any of them; no Source observes a rolled-back transaction.
func (c *Coordinator) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inTx {
		return types.NewInvariantViolation("coordinator: Rollback called without a matching Begin")
	}
	c.inTx = false
	c.pending = nil
	return nil
}
