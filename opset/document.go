package opset

import (
	"log/slog"

	"github.com/benbjohnson/immutable"
	"github.com/kevinxiao27/opset/ol"
)

// Doc is one replica's document state. A Doc is never modified in place: every write
// returns a new Doc that shares unchanged structure with the old one, so a reader may
// keep using an older Doc while writers move on.
type Doc struct {
	actor   ol.Actor
	log     ol.OpLog
	objects *immutable.Map[ol.ObjectID, object]
	changes *immutable.List[ol.Change]
	version ol.RemoteVersion
	logger  *slog.Logger
}

type Option func(*Doc)

// WithActor fixes the local actor id. By default a random one is generated.
func WithActor(actor ol.Actor) Option {
	return func(d *Doc) {
		if actor != "" {
			d.actor = actor
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Doc) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Init creates a document holding only the root map.
func Init(opts ...Option) *Doc {
	d := &Doc{
		actor:   ol.GenerateActor(),
		log:     ol.NewOpLog(),
		objects: immutable.NewMap[ol.ObjectID, object](nil),
		changes: immutable.NewList[ol.Change](),
		version: ol.RemoteVersion{},
		logger:  slog.Default().With(slog.String("component", "opset")),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.objects = d.objects.Set(ol.RootID, newObject(ol.RootID, ol.KindMap, ol.ID{}))
	return d
}

func (d *Doc) Actor() ol.Actor {
	return d.actor
}

// Log exposes the op log. It is persistent, so callers cannot corrupt the document.
func (d *Doc) Log() ol.OpLog {
	return d.log
}

func (d *Doc) Frontier() []ol.ID {
	return d.log.Frontier()
}

// Version returns the last applied change seq of every actor.
func (d *Doc) Version() ol.RemoteVersion {
	return d.version.Copy()
}

// Changes returns every applied change in application order.
func (d *Doc) Changes() []ol.Change {
	out := make([]ol.Change, 0, d.changes.Len())
	itr := d.changes.Iterator()
	for !itr.Done() {
		_, ch := itr.Next()
		out = append(out, ch)
	}
	return out
}

// Fork returns a copy of d that authors as actor. The two replicas share history but
// diverge independently from here on.
func (d *Doc) Fork(actor ol.Actor) *Doc {
	next := *d
	next.actor = actor
	return &next
}

func (d *Doc) object(id ol.ObjectID) (object, error) {
	obj, ok := d.objects.Get(id)
	if !ok {
		return object{}, &UnknownObjectError{Obj: id}
	}
	return obj, nil
}
