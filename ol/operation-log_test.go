package ol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setOp(counter uint64, actor Actor, key string, deps ...ID) Op {
	return Op{
		ID:     ID{Counter: counter, Actor: actor},
		Action: Set,
		Obj:    RootID,
		Key:    key,
		Value:  Str(key),
		Deps:   deps,
	}
}

func TestAppendAndGet(t *testing.T) {
	log := NewOpLog()
	op := setOp(1, "a", "x")

	next, err := log.Append(op)
	require.NoError(t, err)

	assert.False(t, log.Contains(op.ID), "append must not mutate the receiver")
	assert.True(t, next.Contains(op.ID))
	assert.Equal(t, 1, next.Len())

	e, ok := next.Get(op.ID)
	require.True(t, ok)
	assert.Equal(t, op.Key, e.Op.Key)
	assert.Equal(t, 0, e.LV)
	assert.Equal(t, uint64(1), next.MaxOp())
}

func TestAppendMissingDependency(t *testing.T) {
	log := NewOpLog()
	missing := ID{Counter: 1, Actor: "b"}

	_, err := log.Append(setOp(2, "a", "x", missing))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingDependency))

	var mde *MissingDependencyError
	require.True(t, errors.As(err, &mde))
	assert.Equal(t, []ID{missing}, mde.Missing)
	assert.Equal(t, 0, log.Len())
}

func TestAppendDuplicate(t *testing.T) {
	log, err := NewOpLog().Append(setOp(1, "a", "x"))
	require.NoError(t, err)

	_, err = log.Append(setOp(1, "a", "y"))
	assert.ErrorIs(t, err, ErrDuplicateOp)
}

func TestCoversIsTransitive(t *testing.T) {
	a1 := setOp(1, "a", "x")
	b2 := setOp(2, "b", "x", a1.ID)
	c3 := setOp(3, "c", "x", b2.ID)
	d1 := setOp(1, "d", "y")

	log := NewOpLog()
	var err error
	for _, op := range []Op{a1, b2, c3, d1} {
		log, err = log.Append(op)
		require.NoError(t, err)
	}

	assert.True(t, log.Covers(c3.ID, a1.ID))
	assert.True(t, log.Covers(c3.ID, b2.ID))
	assert.False(t, log.Covers(a1.ID, c3.ID))
	assert.False(t, log.Covers(c3.ID, d1.ID))
	assert.False(t, log.Covers(c3.ID, c3.ID))
}

func TestFrontierAdvances(t *testing.T) {
	a1 := setOp(1, "a", "x")
	b1 := setOp(1, "b", "x")
	c2 := setOp(2, "c", "x", a1.ID, b1.ID)

	log := NewOpLog()
	var err error
	log, err = log.Append(a1)
	require.NoError(t, err)
	log, err = log.Append(b1)
	require.NoError(t, err)
	assert.Equal(t, []ID{a1.ID, b1.ID}, log.Frontier())

	log, err = log.Append(c2)
	require.NoError(t, err)
	assert.Equal(t, []ID{c2.ID}, log.Frontier())

	latest, ok := log.Latest("c")
	require.True(t, ok)
	assert.Equal(t, c2.ID, latest)
	_, ok = log.Latest("z")
	assert.False(t, ok)
}

func TestHistoryOrder(t *testing.T) {
	log := NewOpLog()
	var err error
	ops := []Op{setOp(1, "a", "x"), setOp(1, "b", "y"), setOp(2, "a", "z")}
	for _, op := range ops {
		log, err = log.Append(op)
		require.NoError(t, err)
	}

	var got []ID
	for e := range log.History() {
		got = append(got, e.Op.ID)
	}
	assert.Equal(t, []ID{ops[0].ID, ops[1].ID, ops[2].ID}, got)
}

func TestIDOrdering(t *testing.T) {
	a := ID{Counter: 5, Actor: "A"}
	b := ID{Counter: 5, Actor: "B"}
	c := ID{Counter: 6, Actor: "A"}

	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.Equal(t, 0, a.Compare(a))

	assert.Equal(t, "5@A", a.String())
}

func TestVersionAndLamport(t *testing.T) {
	v := Version{}
	v.Observe(ID{Counter: 3, Actor: "a"})
	v.Observe(ID{Counter: 2, Actor: "a"})
	v.Merge(Version{"b": 7})

	assert.True(t, v.Covers(ID{Counter: 3, Actor: "a"}))
	assert.False(t, v.Covers(ID{Counter: 4, Actor: "a"}))
	assert.True(t, v.Covers(ID{Counter: 7, Actor: "b"}))

	l := NewLamport("a", 0)
	assert.Equal(t, ID{Counter: 1, Actor: "a"}, l.Tick())
	l = NewLamport("a", 10)
	assert.Equal(t, ID{Counter: 11, Actor: "a"}, l.Tick())

	assert.NotEqual(t, GenerateActor(), GenerateActor())
}

func TestIDHasher(t *testing.T) {
	h := IDHasher{}
	a := ID{Counter: 1, Actor: "a"}
	assert.Equal(t, h.Hash(a), h.Hash(ID{Counter: 1, Actor: "a"}))
	assert.True(t, h.Equal(a, a))
	assert.False(t, h.Equal(a, ID{Counter: 2, Actor: "a"}))
}
