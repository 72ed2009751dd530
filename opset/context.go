package opset

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/kevinxiao27/opset/ol"
)

// Context records a batch of local edits against a document and turns them into one
// change. Edits are visible through Doc as they are made; the base document is not
// touched until Commit.
type Context struct {
	base    *Doc
	working *Doc
	clock   *ol.Lamport
	deps    []ol.ID
	ops     []ol.Op
}

func NewContext(d *Doc) *Context {
	return &Context{
		base:    d,
		working: d,
		clock:   ol.NewLamport(d.actor, d.log.MaxOp()),
		deps:    d.log.Frontier(),
	}
}

// Doc returns the working state including uncommitted edits.
func (c *Context) Doc() *Doc {
	return c.working
}

func (c *Context) emit(op ol.Op) (ol.ID, error) {
	op.ID = c.clock.Tick()
	prev, hasPrev := c.working.log.Latest(c.base.actor)
	if len(c.ops) > 0 {
		prev, hasPrev = c.ops[len(c.ops)-1].ID, true
	}

	integrated := op
	integrated.Deps = fullDeps(c.deps, nil, prev, hasPrev)
	working, err := c.working.integrate(integrated)
	if err != nil {
		c.clock.Counter--
		return ol.ID{}, err
	}
	c.working = working
	c.ops = append(c.ops, op)
	return op.ID, nil
}

func (c *Context) expect(id ol.ObjectID, list bool) (object, error) {
	obj, err := c.working.object(id)
	if err != nil {
		return object{}, err
	}
	if obj.isList() != list {
		return object{}, fmt.Errorf("%s is a %s: %w", id, obj.kind, ErrMalformedOperation)
	}
	return obj, nil
}

// Set writes a primitive value to a map key.
func (c *Context) Set(id ol.ObjectID, key string, v ol.Value) error {
	if _, err := c.expect(id, false); err != nil {
		return err
	}
	_, err := c.emit(ol.Op{Action: ol.Set, Obj: id, Key: key, Value: v})
	return err
}

// Delete removes a map key. Deleting an absent key records nothing.
func (c *Context) Delete(id ol.ObjectID, key string) error {
	obj, err := c.expect(id, false)
	if err != nil {
		return err
	}
	if _, ok := primary(obj.visible(key)); !ok {
		return nil
	}
	_, err = c.emit(ol.Op{Action: ol.Delete, Obj: id, Key: key})
	return err
}

func (c *Context) makeObject(kind ol.Kind) (ol.ObjectID, error) {
	var action ol.Action
	switch kind {
	case ol.KindMap:
		action = ol.MakeMap
	case ol.KindList:
		action = ol.MakeList
	case ol.KindText:
		action = ol.MakeText
	default:
		return "", fmt.Errorf("kind %q is not an object: %w", kind, ErrMalformedOperation)
	}
	child := ol.ObjectID(uuid.NewString())
	if _, err := c.emit(ol.Op{Action: action, Obj: child}); err != nil {
		return "", err
	}
	return child, nil
}

func (c *Context) newChild(parent ol.ObjectID, key string, kind ol.Kind) (ol.ObjectID, error) {
	if _, err := c.expect(parent, false); err != nil {
		return "", err
	}
	child, err := c.makeObject(kind)
	if err != nil {
		return "", err
	}
	if _, err := c.emit(ol.Op{Action: ol.Link, Obj: parent, Key: key, Child: child}); err != nil {
		return "", err
	}
	return child, nil
}

// NewMap creates an empty map under key and returns its id.
func (c *Context) NewMap(parent ol.ObjectID, key string) (ol.ObjectID, error) {
	return c.newChild(parent, key, ol.KindMap)
}

func (c *Context) NewList(parent ol.ObjectID, key string) (ol.ObjectID, error) {
	return c.newChild(parent, key, ol.KindList)
}

func (c *Context) NewText(parent ol.ObjectID, key string) (ol.ObjectID, error) {
	return c.newChild(parent, key, ol.KindText)
}

// elemBefore resolves the element an insert at index goes after.
func (c *Context) elemBefore(obj object, index int) (ol.ID, error) {
	if index < 0 || index > obj.length {
		return ol.ID{}, fmt.Errorf("insert at %d of %s (length %d): %w", index, obj.id, obj.length, ErrIndexOutOfRange)
	}
	if index == 0 {
		return head, nil
	}
	e, _ := obj.elemAt(index - 1)
	return e.id, nil
}

// InsertAt inserts values so that the first one ends up at index.
func (c *Context) InsertAt(id ol.ObjectID, index int, values ...ol.Value) error {
	obj, err := c.expect(id, true)
	if err != nil {
		return err
	}
	after, err := c.elemBefore(obj, index)
	if err != nil {
		return err
	}
	for _, v := range values {
		elem, err := c.emit(ol.Op{Action: ol.Insert, Obj: id, Elem: after})
		if err != nil {
			return err
		}
		if _, err := c.emit(ol.Op{Action: ol.Set, Obj: id, Elem: elem, Value: v}); err != nil {
			return err
		}
		after = elem
	}
	return nil
}

// InsertObject inserts a new empty object at index of a list.
func (c *Context) InsertObject(id ol.ObjectID, index int, kind ol.Kind) (ol.ObjectID, error) {
	obj, err := c.expect(id, true)
	if err != nil {
		return "", err
	}
	after, err := c.elemBefore(obj, index)
	if err != nil {
		return "", err
	}
	child, err := c.makeObject(kind)
	if err != nil {
		return "", err
	}
	elem, err := c.emit(ol.Op{Action: ol.Insert, Obj: id, Elem: after})
	if err != nil {
		return "", err
	}
	if _, err := c.emit(ol.Op{Action: ol.Link, Obj: id, Elem: elem, Child: child}); err != nil {
		return "", err
	}
	return child, nil
}

// InsertText inserts s into a text object, one element per rune.
func (c *Context) InsertText(id ol.ObjectID, index int, s string) error {
	values := make([]ol.Value, 0, len(s))
	for _, r := range s {
		values = append(values, ol.Str(string(r)))
	}
	return c.InsertAt(id, index, values...)
}

// Push appends values and returns the new length.
func (c *Context) Push(id ol.ObjectID, values ...ol.Value) (int, error) {
	obj, err := c.expect(id, true)
	if err != nil {
		return 0, err
	}
	if err := c.InsertAt(id, obj.length, values...); err != nil {
		return 0, err
	}
	return obj.length + len(values), nil
}

func (c *Context) elemAt(id ol.ObjectID, index int) (ol.ID, error) {
	obj, err := c.expect(id, true)
	if err != nil {
		return ol.ID{}, err
	}
	e, ok := obj.elemAt(index)
	if !ok {
		return ol.ID{}, fmt.Errorf("index %d of %s (length %d): %w", index, id, obj.length, ErrIndexOutOfRange)
	}
	return e.id, nil
}

// SetIndex overwrites the element at index.
func (c *Context) SetIndex(id ol.ObjectID, index int, v ol.Value) error {
	elem, err := c.elemAt(id, index)
	if err != nil {
		return err
	}
	_, err = c.emit(ol.Op{Action: ol.Set, Obj: id, Elem: elem, Value: v})
	return err
}

// DeleteAt removes n elements starting at index.
func (c *Context) DeleteAt(id ol.ObjectID, index, n int) error {
	for i := 0; i < n; i++ {
		elem, err := c.elemAt(id, index)
		if err != nil {
			return err
		}
		if _, err := c.emit(ol.Op{Action: ol.Delete, Obj: id, Elem: elem}); err != nil {
			return err
		}
	}
	return nil
}

// Commit packages the recorded edits as the next change of the local actor and
// applies it to the base document. A context with no edits returns the base document
// and a zero change.
func (c *Context) Commit() (*Doc, ol.Change, error) {
	if len(c.ops) == 0 {
		return c.base, ol.Change{}, nil
	}
	ch := ol.Change{
		Actor: c.base.actor,
		Seq:   c.base.version[c.base.actor] + 1,
		Deps:  c.deps,
		Ops:   c.ops,
	}
	next, err := ApplyChange(c.base, ch)
	if err != nil {
		return c.base, ol.Change{}, err
	}
	return next, ch, nil
}

// Change runs fn against a fresh context and commits what it recorded.
func Change(d *Doc, fn func(*Context) error) (*Doc, ol.Change, error) {
	c := NewContext(d)
	if err := fn(c); err != nil {
		return d, ol.Change{}, err
	}
	return c.Commit()
}
