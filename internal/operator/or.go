package operator

import (
	"context"

	"github.com/rocicorp/zero-ivm/internal/stream"
	"github.com/rocicorp/zero-ivm/internal/types"
)

// Or composes N branch Operators (each itself a Filter, Exists, or
// nested Or/And chain) built over the same upstream Input into a
// single Operator: pushes are multicast to every branch via an
// internal FanOut, deduped and merged back into one stream of Changes
// via an internal FanIn, while Fetch probes every branch's
// FilterOperator against a single upstream fetch instead of unioning
// one sub-fetch per branch.
type Or struct {
	input     Input
	fanOut    *FanOut
	fanIn     *FanIn
	filterOps []FilterOperator
}

var _ Operator = (*Or)(nil)

// NewOr constructs an Or gate over input, keyed by pk for dedupe
// purposes in FanIn.
func NewOr(input Input, pk types.PrimaryKey) *Or {
	fanOut := NewFanOut(input)
	return &Or{input: input, fanOut: fanOut, fanIn: NewFanIn(0, pk)}
}

// Branch returns the Input every disjunct's operator chain should be
// built against (Fetch on it is identical to Fetch on the original
// upstream Input; only Push is special).
func (o *Or) Branch() Input { return o.fanOut }

// AddBranch registers one disjunct's fully-built operator chain,
// wiring its Push path into the shared FanOut/FanIn and its Fetch path
// into the shared probe set.
func (o *Or) AddBranch(branch Operator, filterOp FilterOperator) {
	o.fanOut.AddTap(branch)
	branch.SetOutput(o.fanIn.Tap())
	o.filterOps = append(o.filterOps, filterOp)
}

func (o *Or) Schema() *types.SourceSchema { return o.input.Schema() }

func (o *Or) FullyAppliedFilters() bool { return true }

func (o *Or) SetOutput(out Output) { o.fanIn.SetOutput(out) }

func (o *Or) Push(ctx context.Context, change types.Change) { o.fanOut.Push(ctx, change) }

func (o *Or) Fetch(ctx context.Context, req FetchRequest) stream.Stream[types.Node] {
	return FilterEnd(FilterStart(ctx, o.input, req), CombineOr, o.filterOps)
}

func (o *Or) Cleanup(ctx context.Context, req FetchRequest) stream.Stream[types.Node] {
	return FilterEnd(o.input.Cleanup(ctx, req), CombineOr, o.filterOps)
}

func (o *Or) Destroy() { o.input.Destroy() }

// CachedMembership precomputes, from a one-time Fetch of in, the set
// of primary keys it yields, and serves as a FilterOperator probing
// that frozen set. It is used for an Or disjunct that is itself a
// nested And/Or subtree: such a branch's own Operator chain already
// handles Push correctly, but it has no cheap per-node Filter
// predicate of its own, so its Fetch-time membership is snapshotted
// once at build time instead.
type CachedMembership struct {
	pk  types.PrimaryKey
	ids map[string]bool
}

// NewCachedMembership snapshots in's current matching row set.
func NewCachedMembership(ctx context.Context, in Input, pk types.PrimaryKey) *CachedMembership {
	ids := map[string]bool{}
	s := in.Fetch(ctx, FetchRequest{})
	for {
		n, ok := s.Next()
		if !ok {
			break
		}
		ids[pk.KeyOf(n.Row)] = true
	}
	s.Cleanup()
	return &CachedMembership{pk: pk, ids: ids}
}

func (c *CachedMembership) Filter(node types.Node) bool { return c.ids[c.pk.KeyOf(node.Row)] }
