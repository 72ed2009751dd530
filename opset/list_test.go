package opset

import (
	"testing"

	"github.com/kevinxiao27/opset/ol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// baseList returns a document with root.l = ["x"], authored by actor a.
func baseList(t *testing.T) (*Doc, ol.ObjectID) {
	t.Helper()
	var list ol.ObjectID
	d, _, err := Change(Init(WithActor("a")), func(c *Context) error {
		var err error
		if list, err = c.NewList(ol.RootID, "l"); err != nil {
			return err
		}
		_, err = c.Push(list, ol.Str("x"))
		return err
	})
	require.NoError(t, err)
	return d, list
}

func values(t *testing.T, d *Doc, list ol.ObjectID) []any {
	t.Helper()
	v, err := Materialize(d, list)
	require.NoError(t, err)
	return v.([]any)
}

func insertAfterX(t *testing.T, d *Doc, list ol.ObjectID, vals ...string) (*Doc, ol.Change) {
	t.Helper()
	in := make([]ol.Value, len(vals))
	for i, s := range vals {
		in[i] = ol.Str(s)
	}
	next, ch, err := Change(d, func(c *Context) error {
		return c.InsertAt(list, 1, in...)
	})
	require.NoError(t, err)
	return next, ch
}

func TestConcurrentInsertOrder(t *testing.T) {
	base, list := baseList(t)

	a, chA := insertAfterX(t, base, list, "A")
	b, chB := insertAfterX(t, base.Fork("b"), list, "B")
	require.Equal(t, id(5, "a"), chA.Ops[0].ID)
	require.Equal(t, id(5, "b"), chB.Ops[0].ID)

	ab := mustApply(t, a, chB)
	ba := mustApply(t, b, chA)

	// (5,b) is the higher id, so it sits closer to the shared left neighbour.
	want := []any{"x", "B", "A"}
	assert.Equal(t, want, values(t, ab, list))
	assert.Equal(t, want, values(t, ba, list))
}

func TestConcurrentInsertRunsStayTogether(t *testing.T) {
	base, list := baseList(t)

	a, chA := insertAfterX(t, base, list, "1", "2")
	b, chB := insertAfterX(t, base.Fork("b"), list, "z", "w")

	want := []any{"x", "z", "w", "1", "2"}
	assert.Equal(t, want, values(t, mustApply(t, a, chB), list))
	assert.Equal(t, want, values(t, mustApply(t, b, chA), list))
}

func TestTombstoneKeepsPosition(t *testing.T) {
	base, list := baseList(t)
	xID, ok, err := ListElemID(base, list, 0)
	require.NoError(t, err)
	require.True(t, ok)

	deleted, chDel, err := Change(base, func(c *Context) error {
		return c.DeleteAt(list, 0, 1)
	})
	require.NoError(t, err)
	n, err := ListLength(deleted, list)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// A concurrent insert after the deleted element still lands.
	inserted, chIns := insertAfterX(t, base.Fork("b"), list, "y")
	merged := mustApply(t, deleted, chIns)
	assert.Equal(t, []any{"y"}, values(t, merged, list))
	assert.Equal(t, []any{"y"}, values(t, mustApply(t, inserted, chDel), list))

	obj, err := merged.object(list)
	require.NoError(t, err)
	var all []ol.ID
	for e := range obj.elems() {
		all = append(all, e)
	}
	assert.Equal(t, []ol.ID{xID, id(5, "b")}, all, "tombstone stays in order")
}

func TestInsertChildRank(t *testing.T) {
	children, rank := insertChild(nil, id(3, "a"))
	assert.Equal(t, 0, rank)
	children, rank = insertChild(children, id(5, "a"))
	assert.Equal(t, 0, rank)
	children, rank = insertChild(children, id(4, "b"))
	assert.Equal(t, 1, rank)
	assert.Equal(t, []ol.ID{id(5, "a"), id(4, "b"), id(3, "a")}, children)
}

func TestListIteratorRestartable(t *testing.T) {
	d, _, err := Change(Init(WithActor("a")), func(c *Context) error {
		list, err := c.NewList(ol.RootID, "l")
		if err != nil {
			return err
		}
		return c.InsertAt(list, 0, ol.Num(1), ol.Num(2), ol.Num(3))
	})
	require.NoError(t, err)
	ref, ok, err := GetIn(d, "l")
	require.NoError(t, err)
	require.True(t, ok)

	seq, err := ListIterator(d, ref.Obj)
	require.NoError(t, err)

	var first, second []ListEntry
	for e := range seq {
		first = append(first, e)
	}
	for e := range seq {
		second = append(second, e)
		if e.Index == 1 {
			break
		}
	}
	require.Len(t, first, 3)
	assert.Equal(t, first[:2], second)
	for i, e := range first {
		assert.Equal(t, i, e.Index)
		assert.Equal(t, ol.Num(float64(i+1)), e.Value)
	}

	_, err = ListIterator(d, ol.RootID)
	assert.ErrorIs(t, err, ErrMalformedOperation)
}
