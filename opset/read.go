package opset

import (
	"fmt"
	"iter"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/kevinxiao27/opset/ol"
)

// valueOf turns a visible op into the value a reader sees.
func (d *Doc) valueOf(op ol.Op) ol.Value {
	if op.Action != ol.Link {
		return op.Value
	}
	child, _ := d.objects.Get(op.Child)
	return ol.Ref(child.kind, op.Child)
}

func ObjectKind(d *Doc, id ol.ObjectID) (ol.Kind, error) {
	obj, err := d.object(id)
	if err != nil {
		return "", err
	}
	return obj.kind, nil
}

// GetObjectField returns the winning value of key. For lists and text, key is an
// element id as produced by ol.ID.String. A missing or deleted key is not an error.
func GetObjectField(d *Doc, id ol.ObjectID, key string) (ol.Value, bool, error) {
	obj, err := d.object(id)
	if err != nil {
		return ol.Value{}, false, err
	}
	op, ok := primary(obj.visible(key))
	if !ok {
		return ol.Value{}, false, nil
	}
	return d.valueOf(op), true, nil
}

// GetObjectFields returns the keys that currently hold a value.
func GetObjectFields(d *Doc, id ol.ObjectID) (mapset.Set[string], error) {
	obj, err := d.object(id)
	if err != nil {
		return nil, err
	}
	return mapset.NewThreadUnsafeSet(obj.keys()...), nil
}

// GetObjectConflicts returns the values of key that lost to the primary value but
// were written concurrently with it. Empty when there was no concurrent write.
func GetObjectConflicts(d *Doc, id ol.ObjectID, key string) (mapset.Set[ol.Value], error) {
	obj, err := d.object(id)
	if err != nil {
		return nil, err
	}
	conflicts := mapset.NewThreadUnsafeSet[ol.Value]()
	ops := obj.visible(key)
	for i, op := range ops {
		if i == 0 || op.Action == ol.Delete {
			continue
		}
		conflicts.Add(d.valueOf(op))
	}
	return conflicts, nil
}

// GetAllConflicts maps every conflicted key to the losing values by author.
func GetAllConflicts(d *Doc, id ol.ObjectID) (map[string]map[ol.Actor]ol.Value, error) {
	obj, err := d.object(id)
	if err != nil {
		return nil, err
	}
	out := map[string]map[ol.Actor]ol.Value{}
	itr := obj.fields.Iterator()
	for !itr.Done() {
		key, ops, _ := itr.Next()
		for i, op := range ops {
			if i == 0 || op.Action == ol.Delete {
				continue
			}
			if out[key] == nil {
				out[key] = map[ol.Actor]ol.Value{}
			}
			out[key][op.ID.Actor] = d.valueOf(op)
		}
	}
	return out, nil
}

func listObject(d *Doc, id ol.ObjectID) (object, error) {
	obj, err := d.object(id)
	if err != nil {
		return object{}, err
	}
	if !obj.isList() {
		return object{}, fmt.Errorf("%s is a %s: %w", id, obj.kind, ErrMalformedOperation)
	}
	return obj, nil
}

// ListLength counts the visible elements of a list or text.
func ListLength(d *Doc, id ol.ObjectID) (int, error) {
	obj, err := listObject(d, id)
	if err != nil {
		return 0, err
	}
	return obj.length, nil
}

// ListElemByIndex returns the value at index, skipping tombstones.
func ListElemByIndex(d *Doc, id ol.ObjectID, index int) (ol.Value, bool, error) {
	obj, err := listObject(d, id)
	if err != nil {
		return ol.Value{}, false, err
	}
	e, ok := obj.elemAt(index)
	if !ok {
		return ol.Value{}, false, nil
	}
	return d.valueOf(e.op), true, nil
}

// ListElemID returns the id of the element at index.
func ListElemID(d *Doc, id ol.ObjectID, index int) (ol.ID, bool, error) {
	obj, err := listObject(d, id)
	if err != nil {
		return ol.ID{}, false, err
	}
	e, ok := obj.elemAt(index)
	return e.id, ok, nil
}

// ListConflicts is GetObjectConflicts addressed by index.
func ListConflicts(d *Doc, id ol.ObjectID, index int) (mapset.Set[ol.Value], error) {
	elem, ok, err := ListElemID(d, id, index)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("index %d of %s: %w", index, id, ErrIndexOutOfRange)
	}
	return GetObjectConflicts(d, id, elem.String())
}

type ListEntry struct {
	Index int
	Elem  ol.ID
	Value ol.Value
}

// ListIterator yields the visible elements of a list in order. The sequence is lazy
// and may be ranged over any number of times; each walk recomputes indexes against
// the snapshot d.
func ListIterator(d *Doc, id ol.ObjectID) (iter.Seq[ListEntry], error) {
	obj, err := listObject(d, id)
	if err != nil {
		return nil, err
	}
	return func(yield func(ListEntry) bool) {
		i := 0
		for e := range obj.visibleElems() {
			if !yield(ListEntry{Index: i, Elem: e.id, Value: d.valueOf(e.op)}) {
				return
			}
			i++
		}
	}, nil
}

// GetIn follows a path of map keys and list indexes from the root.
func GetIn(d *Doc, path ...any) (ol.Value, bool, error) {
	cur := ol.Ref(ol.KindMap, ol.RootID)
	for _, step := range path {
		if !cur.Kind.IsObject() {
			return ol.Value{}, false, nil
		}
		var (
			next ol.Value
			ok   bool
			err  error
		)
		switch s := step.(type) {
		case string:
			next, ok, err = GetObjectField(d, cur.Obj, s)
		case int:
			next, ok, err = ListElemByIndex(d, cur.Obj, s)
		default:
			return ol.Value{}, false, fmt.Errorf("path step %v: want string or int", step)
		}
		if err != nil || !ok {
			return ol.Value{}, false, err
		}
		cur = next
	}
	return cur, true, nil
}

// Materialize converts an object into plain Go values: map[string]any for maps,
// []any for lists and string for text.
func Materialize(d *Doc, id ol.ObjectID) (any, error) {
	return materialize(d, id, mapset.NewThreadUnsafeSet[ol.ObjectID]())
}

func materialize(d *Doc, id ol.ObjectID, path mapset.Set[ol.ObjectID]) (any, error) {
	obj, err := d.object(id)
	if err != nil {
		return nil, err
	}
	if !path.Add(id) {
		return nil, fmt.Errorf("object %s links to itself", id)
	}
	defer path.Remove(id)

	native := func(v ol.Value) (any, error) {
		if v.Kind.IsObject() {
			return materialize(d, v.Obj, path)
		}
		return v.Native(), nil
	}

	switch obj.kind {
	case ol.KindMap:
		out := make(map[string]any, obj.fields.Len())
		for _, key := range obj.keys() {
			op, _ := primary(obj.visible(key))
			v, err := native(d.valueOf(op))
			if err != nil {
				return nil, err
			}
			out[key] = v
		}
		return out, nil

	case ol.KindText:
		var b strings.Builder
		for e := range obj.visibleElems() {
			b.WriteString(e.op.Value.Str)
		}
		return b.String(), nil

	default:
		out := make([]any, 0, obj.length)
		for e := range obj.visibleElems() {
			v, err := native(d.valueOf(e.op))
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
}
