package coach

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/kalambet/innercompass/internal/llm"
)

// Kind classifies why a language model call failed.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindHTTP        Kind = "http"
	KindEmpty       Kind = "empty"
	KindUnavailable Kind = "unavailable"
)

// ServiceError is returned by every Client operation that could not produce
// text. Callers decide what to show the user.
type ServiceError struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("coach %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

func classify(err error) Kind {
	var se *llm.StatusError
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &ne) && ne.Timeout():
		return KindTimeout
	case errors.As(err, &se):
		return KindHTTP
	case errors.Is(err, llm.ErrEmptyCompletion):
		return KindEmpty
	default:
		// Open circuit and transport failures.
		return KindUnavailable
	}
}
