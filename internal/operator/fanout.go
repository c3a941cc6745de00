package operator

import (
	"context"

	"github.com/rocicorp/zero-ivm/internal/types"
)

// FanOut multicasts every pushed Change to N registered taps, used
// when an OR's disjuncts cannot all be folded into one compiled
// RowPredicate (because at least one disjunct is a correlated
// subquery and needs its own Exists operator reacting independently to
// child-table pushes). Fetch/Cleanup/Schema/FullyAppliedFilters all
// delegate straight through to the single upstream Input; only Push is
// multicast.
type FanOut struct {
	Input
	taps []Output
}

// NewFanOut wraps input so AddTap can register per-disjunct branches.
func NewFanOut(input Input) *FanOut {
	return &FanOut{Input: input}
}

// AddTap registers a branch Output (typically a Filter or Exists
// operator whose own downstream feeds into a Dedupe/FanIn pair) to
// receive every Change this FanOut is pushed.
func (f *FanOut) AddTap(o Output) { f.taps = append(f.taps, o) }

func (f *FanOut) Push(ctx context.Context, change types.Change) {
	for _, t := range f.taps {
		t.Push(ctx, change)
	}
}

// Dedupe sits downstream of one OR branch and suppresses a Change if
// an identical add/remove for the same row has already passed through
// this Dedupe's sibling (sharing the seen set via a common FanIn).
// Dedupe itself holds no state and forwards every Change to FanIn;
// FanIn owns the shared per-row match counts and performs the actual
// suppression, since membership must be consulted across all branches,
// not just one.
type Dedupe struct {
	fanIn *FanIn
}

func newDedupe(fanIn *FanIn) *Dedupe { return &Dedupe{fanIn: fanIn} }

func (d *Dedupe) Push(ctx context.Context, change types.Change) {
	d.fanIn.push(ctx, change)
}

// FanIn merges the (deduped) output of every OR branch into a single
// downstream Output, guaranteeing a row that newly satisfies more than
// one branch simultaneously is still emitted exactly once.
//
// matchCount tracks, per row primary key, how many branches currently
// report that row as matching; a row is forwarded to the downstream
// Output only on the transition into (add) or out of (remove) having
// at least one branch satisfied.
type FanIn struct {
	branches int
	pk       types.PrimaryKey
	output   Output

	// matchCount[pk key] = number of branches currently reporting this
	// row as matching.
	matchCount map[string]int
}

// NewFanIn constructs a FanIn for an OR with the given number of
// branches, keyed by the parent table's primary key.
func NewFanIn(branches int, pk types.PrimaryKey) *FanIn {
	return &FanIn{branches: branches, pk: pk, matchCount: map[string]int{}}
}

// Tap returns a Dedupe Output for one branch to push into.
func (f *FanIn) Tap() Output { return newDedupe(f) }

func (f *FanIn) SetOutput(o Output) { f.output = o }

func (f *FanIn) push(ctx context.Context, change types.Change) {
	switch change.Kind {
	case types.ChangeAdd:
		f.adjust(ctx, change.Node, 1)
	case types.ChangeRemove:
		f.adjust(ctx, change.OldNode, -1)
	case types.ChangeEdit:
		// An edit from a branch means that branch still matches both
		// before and after (its own operator would have split the edit
		// into remove+add otherwise); a pass-through edit only reaches
		// the downstream Output if this row is already known-matching.
		key := f.pk.KeyOf(change.Node.Row)
		if f.matchCount[key] > 0 && f.output != nil {
			f.output.Push(ctx, change)
		}
	case types.ChangeChild:
		key := f.pk.KeyOf(change.Node.Row)
		if f.matchCount[key] > 0 && f.output != nil {
			f.output.Push(ctx, change)
		}
	}
}

func (f *FanIn) adjust(ctx context.Context, node types.Node, delta int) {
	key := f.pk.KeyOf(node.Row)
	was := f.matchCount[key]
	now := was + delta
	if now <= 0 {
		delete(f.matchCount, key)
		now = 0
	} else {
		f.matchCount[key] = now
	}
	if f.output == nil {
		return
	}
	switch {
	case was == 0 && now > 0:
		f.output.Push(ctx, types.Add(node))
	case was > 0 && now == 0:
		f.output.Push(ctx, types.Remove(node))
	}
}
