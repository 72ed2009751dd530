package ol

import (
	"fmt"
	"iter"
	"sort"

	"github.com/benbjohnson/immutable"
	"github.com/kevinxiao27/opset/util"
)

func IdEq(a ID, b ID) bool {
	return a.Counter == b.Counter && a.Actor == b.Actor
}

func sortIDs(frontier []ID) []ID {
	sort.Slice(frontier, func(i, j int) bool {
		return frontier[i].Less(frontier[j])
	})
	return frontier
}

func advanceFrontier(frontier []ID, id ID, parents []ID) []ID {
	f := util.Filter(frontier, func(head ID) bool {
		return !util.Reduce(parents, func(parent ID, exists bool) bool {
			return IdEq(head, parent) || exists
		}, false)
	})

	f = append(f, id)
	sortIDs(f)
	return f
}

// Entry is an op as admitted to the log.
type Entry struct {
	Op    Op
	Clock Version // causal past of Op, Op itself excluded
	LV    int     // index in append order
}

// OpLog is an append-only, persistent store of ops. Appending returns a new log and
// leaves the receiver untouched, so older snapshots stay valid.
type OpLog struct {
	ops      *immutable.Map[ID, Entry]
	history  *immutable.List[ID]
	frontier []ID
	clock    Version
	maxOp    uint64
}

func NewOpLog() OpLog {
	return OpLog{
		ops:      immutable.NewMap[ID, Entry](IDHasher{}),
		history:  immutable.NewList[ID](),
		frontier: []ID{},
		clock:    Version{},
	}
}

// Append admits op. Every id in op.Deps must already be present.
func (l OpLog) Append(op Op) (OpLog, error) {
	if l.Contains(op.ID) {
		return l, fmt.Errorf("op %s: %w", op.ID, ErrDuplicateOp)
	}

	missing := util.Filter(op.Deps, func(dep ID) bool { return !l.Contains(dep) })
	if len(missing) > 0 {
		return l, &MissingDependencyError{Op: op.ID, Missing: missing}
	}

	clock := Version{}
	for _, dep := range op.Deps {
		e, _ := l.ops.Get(dep)
		clock.Merge(e.Clock)
		clock.Observe(dep)
	}

	op.Deps = append([]ID(nil), op.Deps...)
	lv := l.history.Len()

	next := l
	next.ops = l.ops.Set(op.ID, Entry{Op: op, Clock: clock, LV: lv})
	next.history = l.history.Append(op.ID)
	next.frontier = advanceFrontier(append([]ID(nil), l.frontier...), op.ID, op.Deps)
	next.clock = l.clock.Copy()
	next.clock.Observe(op.ID)
	next.maxOp = max(l.maxOp, op.ID.Counter)
	return next, nil
}

func (l OpLog) Contains(id ID) bool {
	_, ok := l.ops.Get(id)
	return ok
}

func (l OpLog) Get(id ID) (Entry, bool) {
	return l.ops.Get(id)
}

func (l OpLog) Len() int {
	return l.history.Len()
}

// MaxOp is the highest counter in the log; local ops must use a larger one.
func (l OpLog) MaxOp() uint64 {
	return l.maxOp
}

// Frontier returns the ops no other op depends on.
func (l OpLog) Frontier() []ID {
	return append([]ID(nil), l.frontier...)
}

// Clock returns the version covering every op in the log.
func (l OpLog) Clock() Version {
	return l.clock.Copy()
}

// Latest returns the newest op of actor, if any.
func (l OpLog) Latest(actor Actor) (ID, bool) {
	c, ok := l.clock[actor]
	if !ok || c == 0 {
		return ID{}, false
	}
	return ID{Counter: c, Actor: actor}, true
}

// Covers reports whether earlier is in the causal past of later.
func (l OpLog) Covers(later, earlier ID) bool {
	if IdEq(later, earlier) {
		return false
	}
	e, ok := l.ops.Get(later)
	if !ok {
		return false
	}
	return e.Clock.Covers(earlier)
}

// CoveredBy reports whether id is one of deps or in the causal past of one of them.
func (l OpLog) CoveredBy(deps []ID, id ID) bool {
	for _, dep := range deps {
		if IdEq(dep, id) || l.Covers(dep, id) {
			return true
		}
	}
	return false
}

// History yields entries in append order, which is a causal order.
func (l OpLog) History() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		itr := l.history.Iterator()
		for !itr.Done() {
			_, id := itr.Next()
			e, _ := l.ops.Get(id)
			if !yield(e) {
				return
			}
		}
	}
}
