package opset

import (
	"iter"

	"github.com/kevinxiao27/opset/ol"
)

// head is the virtual first element every insertion tree hangs from.
var head = ol.ID{}

// listNode is one element of the insertion tree. Elements are ordered by a pre-order
// walk where the children of a node come highest id first; next caches that order as
// a linked list so reads never rebuild it.
type listNode struct {
	origin   ol.ID   // left neighbour at insertion time
	next     ol.ID   // zero at the end of the list
	children []ol.ID // highest id first
}

// insertChild places id among siblings sorted by descending id and returns its rank.
func insertChild(children []ol.ID, id ol.ID) ([]ol.ID, int) {
	rank := 0
	for rank < len(children) && id.Less(children[rank]) {
		rank++
	}
	out := make([]ol.ID, 0, len(children)+1)
	out = append(out, children[:rank]...)
	out = append(out, id)
	out = append(out, children[rank:]...)
	return out, rank
}

// rightmost returns the last element of the subtree rooted at id.
func (o object) rightmost(id ol.ID) ol.ID {
	for {
		n, _ := o.nodes.Get(id)
		if len(n.children) == 0 {
			return id
		}
		id = n.children[len(n.children)-1]
	}
}

// insert adds the element created by op right after op.Elem. Siblings with a higher
// id, together with everything inserted after them, stay in front of it; that is what
// makes concurrent inserts at the same position land in the same order everywhere.
func (o object) insert(op ol.Op) (object, error) {
	if _, ok := o.nodes.Get(op.ID); ok {
		return o, malformed(op.ID, "element already exists in %s", o.id)
	}
	origin, ok := o.nodes.Get(op.Elem)
	if !ok {
		return o, malformed(op.ID, "unknown left neighbour %s in %s", op.Elem, o.id)
	}

	children, rank := insertChild(origin.children, op.ID)
	origin.children = children
	o.nodes = o.nodes.Set(op.Elem, origin)

	at := op.Elem
	if rank > 0 {
		at = o.rightmost(children[rank-1])
	}
	prev, _ := o.nodes.Get(at)
	node := listNode{origin: op.Elem, next: prev.next}
	prev.next = op.ID
	o.nodes = o.nodes.Set(at, prev).Set(op.ID, node)
	return o, nil
}

// elems walks every element, tombstones included, in list order.
func (o object) elems() iter.Seq[ol.ID] {
	return func(yield func(ol.ID) bool) {
		n, _ := o.nodes.Get(head)
		for !n.next.IsZero() {
			id := n.next
			if !yield(id) {
				return
			}
			n, _ = o.nodes.Get(id)
		}
	}
}

// element is a visible list element together with its winning op.
type element struct {
	id ol.ID
	op ol.Op
}

// visibleElems walks elements that currently hold a value.
func (o object) visibleElems() iter.Seq[element] {
	return func(yield func(element) bool) {
		for id := range o.elems() {
			op, ok := primary(o.visible(id.String()))
			if !ok {
				continue
			}
			if !yield(element{id: id, op: op}) {
				return
			}
		}
	}
}

func (o object) elemAt(index int) (element, bool) {
	if index < 0 || index >= o.length {
		return element{}, false
	}
	i := 0
	for e := range o.visibleElems() {
		if i == index {
			return e, true
		}
		i++
	}
	return element{}, false
}
