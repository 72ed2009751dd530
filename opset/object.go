package opset

import (
	"sort"

	"github.com/benbjohnson/immutable"
	"github.com/kevinxiao27/opset/ol"
	"github.com/kevinxiao27/opset/util"
)

// object is one map, list or text in the arena. Objects are values: every update
// returns a modified copy whose persistent maps share structure with the original.
type object struct {
	id     ol.ObjectID
	kind   ol.Kind
	made   ol.ID                           // make op, zero for the root
	fields *immutable.Map[string, []ol.Op] // visible ops per key, highest id first
	nodes  *immutable.Map[ol.ID, listNode] // insertion tree, lists and text only
	length int                             // visible elements, lists and text only
}

func newObject(id ol.ObjectID, kind ol.Kind, made ol.ID) object {
	obj := object{
		id:     id,
		kind:   kind,
		made:   made,
		fields: immutable.NewMap[string, []ol.Op](nil),
	}
	if obj.isList() {
		obj.nodes = immutable.NewMap[ol.ID, listNode](ol.IDHasher{}).Set(head, listNode{})
	}
	return obj
}

func (o object) isList() bool {
	return o.kind == ol.KindList || o.kind == ol.KindText
}

// visible returns the ops of key that no later op has overwritten.
func (o object) visible(key string) []ol.Op {
	ops, _ := o.fields.Get(key)
	return ops
}

// primary picks the winning op: the highest id. A winning delete means absent.
func primary(ops []ol.Op) (ol.Op, bool) {
	if len(ops) == 0 || ops[0].Action == ol.Delete {
		return ol.Op{}, false
	}
	return ops[0], true
}

func sortOps(ops []ol.Op) {
	sort.Slice(ops, func(i, j int) bool {
		return ops[j].ID.Less(ops[i].ID)
	})
}

// assign integrates a set, del or link op into the visibility set of key. Ops in the
// causal past of op are shadowed; concurrent ones stay as conflicts.
func (o object) assign(log ol.OpLog, key string, op ol.Op) object {
	existing := o.visible(key)
	_, wasVisible := primary(existing)

	kept := util.Filter(existing, func(prev ol.Op) bool {
		return !log.Covers(op.ID, prev.ID)
	})
	kept = append(kept, op)
	sortOps(kept)
	o.fields = o.fields.Set(key, kept)

	if o.isList() {
		_, isVisible := primary(kept)
		switch {
		case isVisible && !wasVisible:
			o.length++
		case !isVisible && wasVisible:
			o.length--
		}
	}
	return o
}

// fieldKey resolves the key a set, del or link op writes to.
func (o object) fieldKey(op ol.Op) (string, error) {
	if !o.isList() {
		if op.Key == "" || !op.Elem.IsZero() {
			return "", malformed(op.ID, "map %s needs a key and no element", o.id)
		}
		return op.Key, nil
	}

	if op.Key != "" || op.Elem.IsZero() {
		return "", malformed(op.ID, "%s %s needs an element and no key", o.kind, o.id)
	}
	if _, ok := o.nodes.Get(op.Elem); !ok {
		return "", malformed(op.ID, "unknown element %s in %s", op.Elem, o.id)
	}
	return op.Elem.String(), nil
}

// keys returns the keys whose primary op is not a delete.
func (o object) keys() []string {
	var keys []string
	itr := o.fields.Iterator()
	for !itr.Done() {
		key, ops, _ := itr.Next()
		if _, ok := primary(ops); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}
