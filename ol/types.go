package ol

import (
	"strconv"
	"strings"
)

// Actor identifies a replica.
type Actor string

type ID struct { // Lamport timestamp
	Counter uint64 `json:"counter" msgpack:"c"`
	Actor   Actor  `json:"actor" msgpack:"a"`
}

func (id ID) IsZero() bool {
	return id.Counter == 0 && id.Actor == ""
}

// Compare orders ids by counter, then actor.
func (id ID) Compare(other ID) int {
	switch {
	case id.Counter < other.Counter:
		return -1
	case id.Counter > other.Counter:
		return 1
	}
	return strings.Compare(string(id.Actor), string(other.Actor))
}

func (id ID) Less(other ID) bool {
	return id.Compare(other) < 0
}

func (id ID) String() string {
	return strconv.FormatUint(id.Counter, 10) + "@" + string(id.Actor)
}

type ObjectID string

// RootID is the id of the root map of every document.
const RootID ObjectID = "00000000-0000-0000-0000-000000000000"

type Action string

const (
	MakeMap  Action = "makeMap"
	MakeList Action = "makeList"
	MakeText Action = "makeText"
	Set      Action = "set"
	Delete   Action = "del"
	Insert   Action = "ins"
	Link     Action = "link"
)

func (a Action) IsMake() bool {
	return a == MakeMap || a == MakeList || a == MakeText
}

// Kind tags a Value.
type Kind string

const (
	KindNull Kind = "null"
	KindStr  Kind = "str"
	KindNum  Kind = "num"
	KindBool Kind = "bool"
	KindMap  Kind = "map"
	KindList Kind = "list"
	KindText Kind = "text"
)

func (k Kind) IsObject() bool {
	return k == KindMap || k == KindList || k == KindText
}

// KindOf maps a make action to the kind of object it creates.
func KindOf(a Action) (Kind, bool) {
	switch a {
	case MakeMap:
		return KindMap, true
	case MakeList:
		return KindList, true
	case MakeText:
		return KindText, true
	}
	return "", false
}

// Value is a primitive or a reference to a child object. Values are comparable.
type Value struct {
	Kind Kind     `json:"kind" msgpack:"k"`
	Str  string   `json:"str,omitempty" msgpack:"s,omitempty"`
	Num  float64  `json:"num,omitempty" msgpack:"n,omitempty"`
	Bool bool     `json:"bool,omitempty" msgpack:"b,omitempty"`
	Obj  ObjectID `json:"obj,omitempty" msgpack:"o,omitempty"`
}

func Str(s string) Value { return Value{Kind: KindStr, Str: s} }

func Num(n float64) Value { return Value{Kind: KindNum, Num: n} }

func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

func Null() Value { return Value{Kind: KindNull} }

func Ref(k Kind, obj ObjectID) Value { return Value{Kind: k, Obj: obj} }

// Native returns the Go representation of a primitive. References return their object id.
func (v Value) Native() any {
	switch v.Kind {
	case KindStr:
		return v.Str
	case KindNum:
		return v.Num
	case KindBool:
		return v.Bool
	case KindMap, KindList, KindText:
		return v.Obj
	}
	return nil
}

func (v Value) String() string {
	switch v.Kind {
	case KindStr:
		return strconv.Quote(v.Str)
	case KindNum:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindMap, KindList, KindText:
		return string(v.Kind) + "(" + string(v.Obj) + ")"
	}
	return "null"
}

type Op struct {
	ID     ID       `json:"id" msgpack:"id"`
	Action Action   `json:"action" msgpack:"act"`
	Obj    ObjectID `json:"obj" msgpack:"obj"`
	Key    string   `json:"key,omitempty" msgpack:"key,omitempty"`   // map field
	Elem   ID       `json:"elem,omitempty" msgpack:"elem,omitempty"` // list element; left neighbour for ins
	Value  Value    `json:"value,omitempty" msgpack:"val,omitempty"` // Only meaningful for set
	Child  ObjectID `json:"child,omitempty" msgpack:"child,omitempty"`
	Deps   []ID     `json:"deps,omitempty" msgpack:"deps,omitempty"`
}

// Change is one atomic batch of ops authored by a single actor.
type Change struct {
	Actor Actor  `json:"actor" msgpack:"actor"`
	Seq   uint64 `json:"seq" msgpack:"seq"`
	Deps  []ID   `json:"deps,omitempty" msgpack:"deps,omitempty"` // frontier at authoring time
	Ops   []Op   `json:"ops" msgpack:"ops"`
}

func (c Change) Key() string {
	return string(c.Actor) + ":" + strconv.FormatUint(c.Seq, 10)
}

type RemoteVersion map[Actor]uint64 // [actor] : last applied change seq

func (v RemoteVersion) Copy() RemoteVersion {
	cp := make(RemoteVersion, len(v))
	for k, s := range v {
		cp[k] = s
	}
	return cp
}
