package opset

import (
	"fmt"
	"slices"

	"github.com/kevinxiao27/opset/ol"
	"github.com/vmihailenco/msgpack/v5"
)

type objectSnapshot struct {
	ID     ol.ObjectID        `msgpack:"id"`
	Kind   ol.Kind            `msgpack:"kind"`
	Fields map[string][]ol.ID `msgpack:"fields"`
	Order  []ol.ID            `msgpack:"order,omitempty"`
}

type snapshot struct {
	Actor   ol.Actor         `msgpack:"actor"`
	Changes []ol.Change      `msgpack:"changes"`
	Objects []objectSnapshot `msgpack:"objects"`
}

func snapshotObject(obj object) objectSnapshot {
	s := objectSnapshot{
		ID:     obj.id,
		Kind:   obj.kind,
		Fields: make(map[string][]ol.ID, obj.fields.Len()),
	}
	itr := obj.fields.Iterator()
	for !itr.Done() {
		key, ops, _ := itr.Next()
		ids := make([]ol.ID, len(ops))
		for i, op := range ops {
			ids[i] = op.ID
		}
		s.Fields[key] = ids
	}
	if obj.isList() {
		s.Order = slices.Collect(obj.elems())
	}
	return s
}

func (s objectSnapshot) equal(other objectSnapshot) bool {
	if s.ID != other.ID || s.Kind != other.Kind || len(s.Fields) != len(other.Fields) {
		return false
	}
	for key, ids := range s.Fields {
		if !slices.Equal(ids, other.Fields[key]) {
			return false
		}
	}
	return slices.Equal(s.Order, other.Order)
}

func snapshotObjects(d *Doc) map[ol.ObjectID]objectSnapshot {
	out := make(map[ol.ObjectID]objectSnapshot, d.objects.Len())
	itr := d.objects.Iterator()
	for !itr.Done() {
		id, obj, _ := itr.Next()
		out[id] = snapshotObject(obj)
	}
	return out
}

// Save encodes the change history of d together with the visibility set of every
// object.
func Save(d *Doc) ([]byte, error) {
	s := snapshot{Actor: d.actor, Changes: d.Changes()}
	for _, obj := range snapshotObjects(d) {
		s.Objects = append(s.Objects, obj)
	}
	slices.SortFunc(s.Objects, func(a, b objectSnapshot) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return msgpack.Marshal(&s)
}

// Load rebuilds a document saved with Save by replaying its history, then checks that
// every object ended up with the saved visibility sets. The saved actor is kept unless
// WithActor overrides it.
func Load(data []byte, opts ...Option) (*Doc, error) {
	var s snapshot
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}

	d, err := ApplyChanges(Init(append([]Option{WithActor(s.Actor)}, opts...)...), s.Changes...)
	if err != nil {
		return nil, fmt.Errorf("replaying snapshot: %w", err)
	}

	rebuilt := snapshotObjects(d)
	if len(rebuilt) != len(s.Objects) {
		return nil, fmt.Errorf("snapshot has %d objects, replay produced %d", len(s.Objects), len(rebuilt))
	}
	for _, want := range s.Objects {
		got, ok := rebuilt[want.ID]
		if !ok || !got.equal(want) {
			return nil, fmt.Errorf("object %s does not match snapshot", want.ID)
		}
	}
	return d, nil
}
