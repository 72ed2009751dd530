package opset

import (
	"errors"
	"log/slog"

	"github.com/benbjohnson/immutable"
	"github.com/kevinxiao27/opset/ol"
	"github.com/kevinxiao27/opset/util"
)

// applyOperation integrates one admitted op into the object arena.
func applyOperation(objects *immutable.Map[ol.ObjectID, object], log ol.OpLog, op ol.Op) (*immutable.Map[ol.ObjectID, object], error) {
	if kind, ok := ol.KindOf(op.Action); ok {
		if op.Obj == "" || op.Obj == ol.RootID {
			return nil, malformed(op.ID, "%s needs a fresh object id", op.Action)
		}
		if _, exists := objects.Get(op.Obj); exists {
			return nil, malformed(op.ID, "object %s already exists", op.Obj)
		}
		return objects.Set(op.Obj, newObject(op.Obj, kind, op.ID)), nil
	}

	obj, ok := objects.Get(op.Obj)
	if !ok {
		return nil, &UnknownObjectError{Obj: op.Obj}
	}

	switch op.Action {
	case ol.Insert:
		if !obj.isList() {
			return nil, malformed(op.ID, "insert into %s %s", obj.kind, obj.id)
		}
		var err error
		if obj, err = obj.insert(op); err != nil {
			return nil, err
		}

	case ol.Set, ol.Delete, ol.Link:
		if op.Action == ol.Set && op.Value.Kind.IsObject() {
			return nil, malformed(op.ID, "objects are written with link, not set")
		}
		if op.Action == ol.Link {
			if op.Child == ol.RootID || op.Child == op.Obj {
				return nil, malformed(op.ID, "cannot link %s under %s", op.Child, op.Obj)
			}
			if _, ok := objects.Get(op.Child); !ok {
				return nil, &UnknownObjectError{Obj: op.Child}
			}
		}
		key, err := obj.fieldKey(op)
		if err != nil {
			return nil, err
		}
		obj = obj.assign(log, key, op)

	default:
		return nil, malformed(op.ID, "unknown action %q", op.Action)
	}

	return objects.Set(op.Obj, obj), nil
}

// integrate appends op (whose Deps are already complete) to the log and applies it.
func (d *Doc) integrate(op ol.Op) (*Doc, error) {
	if op.ID.Counter == 0 || op.ID.Actor == "" {
		return nil, malformed(op.ID, "op id needs a counter and an actor")
	}

	log, err := d.log.Append(op)
	if err != nil {
		if errors.Is(err, ol.ErrDuplicateOp) {
			return nil, malformed(op.ID, "%v", err)
		}
		return nil, err
	}

	objects, err := applyOperation(d.objects, log, op)
	if err != nil {
		return nil, err
	}

	next := *d
	next.log = log
	next.objects = objects
	return &next, nil
}

// fullDeps is everything an op causally depends on: the change frontier, its own
// explicit deps and the previous op of the same actor.
func fullDeps(frontier, explicit []ol.ID, prev ol.ID, hasPrev bool) []ol.ID {
	deps := make([]ol.ID, 0, len(frontier)+len(explicit)+1)
	seen := make(map[ol.ID]struct{}, cap(deps))
	add := func(id ol.ID) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		deps = append(deps, id)
	}
	for _, id := range frontier {
		add(id)
	}
	for _, id := range explicit {
		add(id)
	}
	if hasPrev {
		add(prev)
	}
	return deps
}

func validateChange(ch ol.Change) error {
	if ch.Actor == "" {
		return malformed(ol.ID{}, "change %s has no actor", ch.Key())
	}
	if ch.Seq == 0 {
		return malformed(ol.ID{}, "change %s: seq starts at 1", ch.Key())
	}
	var last uint64
	for _, op := range ch.Ops {
		if op.ID.Actor != ch.Actor {
			return malformed(op.ID, "op of actor %s in change of %s", op.ID.Actor, ch.Actor)
		}
		if op.ID.Counter <= last {
			return malformed(op.ID, "counters must increase within a change")
		}
		last = op.ID.Counter
	}
	return nil
}

// checkRefs rejects op unless every object and element it touches is in its causal
// past. All of op's deps are in the log by now, so the verdict is the same on every
// replica whatever else it has already seen.
func checkRefs(d *Doc, op ol.Op) error {
	object := func(id ol.ObjectID) error {
		obj, ok := d.objects.Get(id)
		if !ok || (!obj.made.IsZero() && !d.log.CoveredBy(op.Deps, obj.made)) {
			return &UnknownObjectError{Obj: id}
		}
		return nil
	}
	if !op.Action.IsMake() {
		if err := object(op.Obj); err != nil {
			return err
		}
	}
	if op.Action == ol.Link && op.Child != "" {
		if err := object(op.Child); err != nil {
			return err
		}
	}
	if !op.Elem.IsZero() && !d.log.CoveredBy(op.Deps, op.Elem) {
		return malformed(op.ID, "element %s is not in the causal past", op.Elem)
	}
	return nil
}

// missingDeps lists deps of ch that are neither in the log nor part of ch. Deps on
// later ops of ch itself are not gaps; they fail as malformed when applied.
func missingDeps(log ol.OpLog, ch ol.Change) []ol.ID {
	inChange := make(map[ol.ID]struct{}, len(ch.Ops))
	for _, op := range ch.Ops {
		inChange[op.ID] = struct{}{}
	}
	seen := make(map[ol.ID]struct{})
	var missing []ol.ID
	check := func(dep ol.ID) {
		if _, ok := inChange[dep]; ok {
			return
		}
		if _, ok := seen[dep]; ok {
			return
		}
		seen[dep] = struct{}{}
		if !log.Contains(dep) {
			missing = append(missing, dep)
		}
	}
	for _, dep := range ch.Deps {
		check(dep)
	}
	for _, op := range ch.Ops {
		for _, dep := range op.Deps {
			check(dep)
		}
	}
	return missing
}

// ApplyChange applies one change record and returns the new state. It is all or
// nothing: on error the returned document is d itself. Changes already applied are
// ignored, so delivering a change twice is harmless.
func ApplyChange(d *Doc, ch ol.Change) (*Doc, error) {
	if ch.Seq == 0 {
		return d, validateChange(ch)
	}
	applied := d.version[ch.Actor]
	if ch.Seq <= applied {
		d.logger.Debug("change already applied",
			slog.String("actor", string(ch.Actor)),
			slog.Uint64("seq", ch.Seq))
		return d, nil
	}
	if ch.Seq != applied+1 {
		return d, &CausalGapError{Actor: ch.Actor, Seq: ch.Seq, Expected: applied + 1}
	}
	if err := validateChange(ch); err != nil {
		return d, err
	}
	if missing := missingDeps(d.log, ch); len(missing) > 0 {
		return d, &CausalGapError{Actor: ch.Actor, Seq: ch.Seq, Missing: missing}
	}

	next := d
	prev, hasPrev := d.log.Latest(ch.Actor)
	for _, op := range ch.Ops {
		op.Deps = fullDeps(ch.Deps, op.Deps, prev, hasPrev)
		maxDep := util.Reduce(op.Deps, func(dep ol.ID, m uint64) uint64 {
			return max(m, dep.Counter)
		}, 0)
		if op.ID.Counter <= maxDep {
			return d, malformed(op.ID, "counter must exceed every dependency (max %d)", maxDep)
		}

		err := checkRefs(next, op)
		if err == nil {
			next, err = next.integrate(op)
		}
		if err != nil {
			if errors.Is(err, ol.ErrMissingDependency) {
				err = malformed(op.ID, "depends on a later op of its own change")
			}
			d.logger.Warn("rejecting change",
				slog.String("actor", string(ch.Actor)),
				slog.Uint64("seq", ch.Seq),
				slog.String("error", err.Error()))
			return d, err
		}
		prev, hasPrev = op.ID, true
	}

	out := *next
	out.version = d.version.Copy()
	out.version[ch.Actor] = ch.Seq
	out.changes = d.changes.Append(ch)
	d.logger.Debug("applied change",
		slog.String("actor", string(ch.Actor)),
		slog.Uint64("seq", ch.Seq),
		slog.Int("ops", len(ch.Ops)))
	return &out, nil
}

// ApplyChanges applies changes in order, stopping at the first error.
func ApplyChanges(d *Doc, changes ...ol.Change) (*Doc, error) {
	var err error
	for _, ch := range changes {
		if d, err = ApplyChange(d, ch); err != nil {
			return d, err
		}
	}
	return d, nil
}

// ChangesSince returns the changes a replica at version has not applied yet, in
// causal order.
func ChangesSince(d *Doc, version ol.RemoteVersion) []ol.Change {
	return util.Filter(d.Changes(), func(ch ol.Change) bool {
		return ch.Seq > version[ch.Actor]
	})
}

// MergeInto applies every change of src that dest lacks. The merge is atomic: on error
// dest is returned unchanged.
func MergeInto(dest *Doc, src *Doc) (*Doc, error) {
	// src history is already in causal order, so no buffering is needed here.
	merged, err := ApplyChanges(dest, ChangesSince(src, dest.version)...)
	if err != nil {
		return dest, err
	}
	return merged, nil
}
