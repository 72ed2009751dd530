package opset

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kevinxiao27/opset/ol"
)

var (
	ErrUnknownObject      = errors.New("unknown object")
	ErrCausalGap          = errors.New("causal gap")
	ErrMalformedOperation = errors.New("malformed operation")
	ErrIndexOutOfRange    = errors.New("list index out of range")
)

// UnknownObjectError is returned when an op or a read names an object the document
// does not contain.
type UnknownObjectError struct {
	Obj ol.ObjectID
}

func (e *UnknownObjectError) Error() string {
	return fmt.Sprintf("unknown object %s", e.Obj)
}

func (e *UnknownObjectError) Unwrap() error {
	return ErrUnknownObject
}

// CausalGapError means the change depends on something not applied yet. The caller
// should hold the change and retry once the gap is filled.
type CausalGapError struct {
	Actor    ol.Actor
	Seq      uint64
	Expected uint64  // next seq the document can take from Actor, 0 if seq was fine
	Missing  []ol.ID // deps absent from the log
}

func (e *CausalGapError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "causal gap in change %s:%d", e.Actor, e.Seq)
	if e.Expected != 0 {
		fmt.Fprintf(&b, ": expected seq %d", e.Expected)
	}
	if len(e.Missing) > 0 {
		missing := make([]string, len(e.Missing))
		for i, id := range e.Missing {
			missing[i] = id.String()
		}
		fmt.Fprintf(&b, ": missing %s", strings.Join(missing, ", "))
	}
	return b.String()
}

func (e *CausalGapError) Is(target error) bool {
	return target == ErrCausalGap || target == ol.ErrMissingDependency
}

// MalformedOperationError rejects a structurally invalid op. The whole change is dropped.
type MalformedOperationError struct {
	Op     ol.ID
	Reason string
}

func (e *MalformedOperationError) Error() string {
	return fmt.Sprintf("malformed operation %s: %s", e.Op, e.Reason)
}

func (e *MalformedOperationError) Unwrap() error {
	return ErrMalformedOperation
}

func malformed(op ol.ID, format string, args ...any) error {
	return &MalformedOperationError{Op: op, Reason: fmt.Sprintf(format, args...)}
}
