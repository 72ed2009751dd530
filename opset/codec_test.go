package opset

import (
	"testing"

	"github.com/kevinxiao27/opset/ol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	d := mustApply(t, Init(WithActor("c")), history(t)...)

	data, err := Save(d)
	require.NoError(t, err)

	loaded, err := Load(data)
	require.NoError(t, err)
	assert.Equal(t, ol.Actor("c"), loaded.Actor())
	assert.Equal(t, d.Version(), loaded.Version())
	assert.Equal(t, d.Frontier(), loaded.Frontier())
	assert.Equal(t, snapshotObjects(d), snapshotObjects(loaded))

	want, err := Materialize(d, ol.RootID)
	require.NoError(t, err)
	got, err := Materialize(loaded, ol.RootID)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	other, err := Load(data, WithActor("z"))
	require.NoError(t, err)
	assert.Equal(t, ol.Actor("z"), other.Actor())
}

func TestLoadRejectsTamperedSnapshot(t *testing.T) {
	d, elem := colorList(t)
	data, err := Save(d)
	require.NoError(t, err)

	var s snapshot
	require.NoError(t, msgpack.Unmarshal(data, &s))
	for i := range s.Objects {
		if s.Objects[i].ID == "L" {
			s.Objects[i].Fields[elem.String()] = []ol.ID{id(9, "z")}
		}
	}
	tampered, err := msgpack.Marshal(&s)
	require.NoError(t, err)

	_, err = Load(tampered)
	assert.ErrorContains(t, err, "does not match")

	_, err = Load([]byte("not msgpack"))
	assert.Error(t, err)
}
