// Package channel implements the server-facing collaborator boundary
// (spec §6): a throttled stream of QueriesPatch operations (put/del/
// clear), the transform-protocol request/response shape for named
// queries, and the "got" acknowledgement stream that drives a
// materialized query's ResultType from unknown to complete. No network
// transport lives here -- Sink is the interface a concrete transport
// implements; Channel itself only batches, throttles, and hands off.
package channel

import (
	"context"
	"time"

	"github.com/rocicorp/zero-ivm/internal/ast"
	"github.com/rocicorp/zero-ivm/internal/lifecycle"
	"github.com/rocicorp/zero-ivm/internal/util/notify"
	"github.com/rocicorp/zero-ivm/internal/util/stopper"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// PatchOp tags the variant of a Patch.
type PatchOp int

const (
	PatchPut PatchOp = iota
	PatchDel
	PatchClear
)

// Patch is one QueriesPatch operation (spec §6).
type Patch struct {
	Op   PatchOp
	Hash string
	TTL  time.Duration
	Name string // set for a named (custom) query
	Args any    // set for a named (custom) query
	AST  *ast.AST
}

// Sink is the transport boundary a concrete server connection
// implements. Flush is called with every patch queued since the last
// flush, in queue order; Got is driven by the transport as
// acknowledgements arrive from the server and is wired by the caller
// of New into a lifecycle.Manager's SetResultComplete.
type Sink interface {
	Flush(ctx context.Context, patches []Patch) error
}

// TransformRequest is sent for a named query whose (name, args) the
// server must resolve to a concrete AST.
type TransformRequest struct {
	ID   uuid.UUID
	Name string
	Args any
}

// TransformResponse is the server's reply to a TransformRequest: either
// AST is set (success) or Err is set (an application-level "app"
// TransformError), never both.
type TransformResponse struct {
	ID   uuid.UUID
	Name string
	AST  *ast.AST
	Err  *TransformErrorDetail
}

// TransformErrorDetail carries a server-reported transform failure.
type TransformErrorDetail struct {
	Details string
}

// Channel batches Registrar calls into Patches, flushing them to a
// Sink no more often than the configured interval, in the same
// "accumulate, wake a background loop" shape as notify.Var elsewhere in
// this engine.
type Channel struct {
	sink     Sink
	interval time.Duration
	stop     *stopper.Context

	queue notify.Var[[]Patch]
}

var _ lifecycle.Registrar = (*Channel)(nil)

// New constructs a Channel and starts its flush loop under stop. interval
// of zero or less flushes after every Put/Del/Clear with no batching.
func New(sink Sink, interval time.Duration, stop *stopper.Context) *Channel {
	c := &Channel{sink: sink, interval: interval, stop: stop}
	stop.Go(func() error {
		c.flushLoop(stop)
		return nil
	})
	return c
}

// Put implements lifecycle.Registrar: queues a put patch.
func (c *Channel) Put(hash string, ttl time.Duration, name string, args any, a *ast.AST) {
	c.enqueue(Patch{Op: PatchPut, Hash: hash, TTL: ttl, Name: name, Args: args, AST: a})
}

// Del implements lifecycle.Registrar: queues a del patch.
func (c *Channel) Del(hash string) {
	c.enqueue(Patch{Op: PatchDel, Hash: hash})
}

// Clear queues a full-reset patch, e.g. after a client reconnects with
// a stale cache.
func (c *Channel) Clear() {
	c.enqueue(Patch{Op: PatchClear})
}

func (c *Channel) enqueue(p Patch) {
	pending, _ := c.queue.Get()
	c.queue.Set(append(append([]Patch(nil), pending...), p))
}

// Got drives hash's ResultType from unknown to complete. A concrete
// Sink implementation calls this when the server acknowledges having
// applied hash's initial put (spec §6 "got" acknowledgements).
func Got(mgr *lifecycle.Manager, hash string) {
	mgr.SetResultComplete(hash)
}

func (c *Channel) flushLoop(stop *stopper.Context) {
	for {
		pending, changed := c.queue.Get()
		if len(pending) > 0 {
			c.queue.Set(nil)
			if err := c.sink.Flush(stop, pending); err != nil {
				log.WithError(err).Warn("channel: flush failed")
			}
		}

		if c.interval <= 0 || len(pending) == 0 {
			select {
			case <-changed:
				continue
			case <-stop.Stopping():
				return
			}
		}

		timer := time.NewTimer(c.interval)
		select {
		case <-timer.C:
		case <-stop.Stopping():
			timer.Stop()
			return
		}
	}
}
