package ol

import (
	"github.com/google/uuid"
)

// GenerateActor returns a fresh random actor id.
func GenerateActor() Actor {
	return Actor(uuid.NewString())
}

// Version maps every actor to the highest counter observed from it.
// An op with id (c, a) is in the causal past of a version v iff v[a] >= c.
type Version map[Actor]uint64

func (v Version) Copy() Version {
	cp := make(Version, len(v))
	for a, c := range v {
		cp[a] = c
	}
	return cp
}

// Observe raises the entry for id.Actor to id.Counter.
func (v Version) Observe(id ID) {
	if v[id.Actor] < id.Counter {
		v[id.Actor] = id.Counter
	}
}

func (v Version) Merge(other Version) {
	for a, c := range other {
		if v[a] < c {
			v[a] = c
		}
	}
}

func (v Version) Covers(id ID) bool {
	return v[id.Actor] >= id.Counter
}

// Lamport hands out op ids for one actor. Counters are shared across actors so that an
// op always compares greater than everything its author had seen.
type Lamport struct {
	Actor   Actor
	Counter uint64
}

func NewLamport(actor Actor, seen uint64) *Lamport {
	return &Lamport{Actor: actor, Counter: seen}
}

func (l *Lamport) Tick() ID {
	l.Counter++
	return ID{Counter: l.Counter, Actor: l.Actor}
}
