package opset

import (
	"errors"
	"log/slog"
	"sort"

	"github.com/dominikbraun/graph"
	"github.com/kevinxiao27/opset/ol"
)

// Buffer holds changes that arrived before their dependencies and applies them once
// they become ready. A Buffer belongs to one replica and is not safe for concurrent use.
type Buffer struct {
	pending map[string]ol.Change
	logger  *slog.Logger
}

func NewBuffer(logger *slog.Logger) *Buffer {
	if logger == nil {
		logger = slog.Default().With(slog.String("component", "opset.buffer"))
	}
	return &Buffer{
		pending: make(map[string]ol.Change),
		logger:  logger,
	}
}

func (b *Buffer) Len() int {
	return len(b.pending)
}

// Pending returns the buffered changes ordered by key.
func (b *Buffer) Pending() []ol.Change {
	out := make([]ol.Change, 0, len(b.pending))
	for _, ch := range b.pending {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key() < out[j].Key()
	})
	return out
}

// Apply delivers changes to d. Changes with a causal gap are held back; everything
// that becomes ready is applied before Apply returns. A malformed change is dropped
// and reported, and the document reflects every change applied before it.
func (b *Buffer) Apply(d *Doc, changes ...ol.Change) (*Doc, error) {
	for _, ch := range changes {
		next, err := ApplyChange(d, ch)
		if errors.Is(err, ErrCausalGap) {
			b.logger.Info("buffering change",
				slog.String("actor", string(ch.Actor)),
				slog.Uint64("seq", ch.Seq),
				slog.String("reason", err.Error()))
			b.pending[ch.Key()] = ch
			continue
		}
		if err != nil {
			return d, err
		}
		d = next
		if d, err = b.drain(d); err != nil {
			return d, err
		}
	}
	return d, nil
}

// order sorts pending changes so that a change comes after every pending change it
// depends on.
func (b *Buffer) order() []string {
	g := graph.New(graph.StringHash, graph.Directed(), graph.Acyclic())
	owner := make(map[ol.ID]string)
	maker := make(map[ol.ObjectID]string)
	for key, ch := range b.pending {
		_ = g.AddVertex(key)
		for _, op := range ch.Ops {
			owner[op.ID] = key
			if op.Action.IsMake() {
				maker[op.Obj] = key
			}
		}
	}

	link := func(from, to string) {
		if from == "" || from == to {
			return
		}
		if err := g.AddEdge(from, to); err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
			b.logger.Debug("ignoring edge", slog.String("from", from), slog.String("to", to), slog.String("error", err.Error()))
		}
	}
	for key, ch := range b.pending {
		if ch.Seq > 1 {
			prev := ol.Change{Actor: ch.Actor, Seq: ch.Seq - 1}.Key()
			if _, ok := b.pending[prev]; ok {
				link(prev, key)
			}
		}
		for _, dep := range ch.Deps {
			link(owner[dep], key)
		}
		for _, op := range ch.Ops {
			for _, dep := range op.Deps {
				link(owner[dep], key)
			}
			link(maker[op.Obj], key)
			link(maker[op.Child], key)
			if !op.Elem.IsZero() {
				link(owner[op.Elem], key)
			}
		}
	}

	keys, err := graph.StableTopologicalSort(g, func(a, b string) bool { return a < b })
	if err != nil {
		keys = keys[:0]
		for key := range b.pending {
			keys = append(keys, key)
		}
		sort.Strings(keys)
	}
	return keys
}

// drain applies every pending change that has become ready. One pass in topological
// order applies a whole ready chain. Edges that would close a cycle are dropped from
// the graph, so passes repeat while they make progress.
func (b *Buffer) drain(d *Doc) (*Doc, error) {
	for progress := true; progress && len(b.pending) > 0; {
		progress = false
		for _, key := range b.order() {
			ch := b.pending[key]
			next, err := ApplyChange(d, ch)
			if errors.Is(err, ErrCausalGap) {
				continue
			}
			delete(b.pending, key)
			if err != nil {
				b.logger.Warn("dropping buffered change",
					slog.String("change", key),
					slog.String("error", err.Error()))
				return d, err
			}
			d = next
			progress = true
		}
	}
	return d, nil
}
