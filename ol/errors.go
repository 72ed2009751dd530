package ol

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingDependency = errors.New("missing dependency")
	ErrDuplicateOp       = errors.New("operation already in log")
)

// MissingDependencyError reports the deps of Op that are not in the log yet.
type MissingDependencyError struct {
	Op      ID
	Missing []ID
}

func (e *MissingDependencyError) Error() string {
	missing := make([]string, len(e.Missing))
	for i, id := range e.Missing {
		missing[i] = id.String()
	}
	return fmt.Sprintf("op %s: missing dependency %s", e.Op, strings.Join(missing, ", "))
}

func (e *MissingDependencyError) Unwrap() error {
	return ErrMissingDependency
}
