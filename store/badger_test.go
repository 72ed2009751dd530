package store

import (
	"testing"

	"github.com/kevinxiao27/opset/ol"
	"github.com/kevinxiao27/opset/opset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", WithInMemory())
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, s.Close())
	})
	return s
}

func edit(t *testing.T, d *opset.Doc, fn func(*opset.Context) error) (*opset.Doc, ol.Change) {
	t.Helper()
	next, ch, err := opset.Change(d, fn)
	require.NoError(t, err)
	return next, ch
}

func TestOpenRejectsBadValueLogSize(t *testing.T) {
	_, err := Open("", WithInMemory(), WithValueLogFileSize(0))
	assert.Error(t, err)
}

func TestLoadDocEmpty(t *testing.T) {
	s := setupStore(t)

	d, err := s.LoadDoc("missing", opset.WithActor("a"))
	require.NoError(t, err)
	assert.Equal(t, ol.Actor("a"), d.Actor())
	assert.Empty(t, d.Changes())
}

func TestPutChangeAndReplay(t *testing.T) {
	s := setupStore(t)

	d := opset.Init(opset.WithActor("a"))
	d, ch1 := edit(t, d, func(c *opset.Context) error {
		return c.Set(ol.RootID, "title", ol.Str("draft"))
	})
	d, ch2 := edit(t, d, func(c *opset.Context) error {
		return c.Set(ol.RootID, "title", ol.Str("final"))
	})

	// Written out of order and twice; replay still converges.
	require.NoError(t, s.PutChange("doc1", ch2))
	require.NoError(t, s.PutChange("doc1", ch1))
	require.NoError(t, s.PutChange("doc1", ch1))

	changes, err := s.Changes("doc1")
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, uint64(1), changes[0].Seq)

	loaded, err := s.LoadDoc("doc1", opset.WithActor("b"))
	require.NoError(t, err)
	v, ok, err := opset.GetObjectField(loaded, ol.RootID, "title")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ol.Str("final"), v)
	assert.Equal(t, d.Version(), loaded.Version())

	other, err := s.Changes("doc2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSnapshotPlusLaterChanges(t *testing.T) {
	s := setupStore(t)

	d := opset.Init(opset.WithActor("a"))
	d, ch1 := edit(t, d, func(c *opset.Context) error {
		list, err := c.NewList(ol.RootID, "todo")
		if err != nil {
			return err
		}
		_, err = c.Push(list, ol.Str("milk"), ol.Str("eggs"))
		return err
	})
	require.NoError(t, s.PutChange("doc", ch1))
	require.NoError(t, s.PutSnapshot("doc", d))

	list, ok, err := opset.GetIn(d, "todo")
	require.NoError(t, err)
	require.True(t, ok)
	d, ch2 := edit(t, d, func(c *opset.Context) error {
		return c.DeleteAt(list.Obj, 0, 1)
	})
	require.NoError(t, s.PutChange("doc", ch2))

	loaded, err := s.LoadDoc("doc")
	require.NoError(t, err)
	got, err := opset.Materialize(loaded, ol.RootID)
	require.NoError(t, err)
	want, err := opset.Materialize(d, ol.RootID)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, map[string]any{"todo": []any{"eggs"}}, got)
}
