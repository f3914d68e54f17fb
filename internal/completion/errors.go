package completion

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/nexus-ai/nexus-chat/internal/llm"
)

type Kind string

const (
	KindNetwork   Kind = "network"
	KindAuth      Kind = "auth"
	KindMalformed Kind = "malformed"
)

// ProviderError reports a failed completion call. No assistant turn exists
// for the request that produced it.
type ProviderError struct {
	Kind Kind
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (%s): %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// KindOf returns the ProviderError kind carried by err, or "" if err is not
// a ProviderError.
func KindOf(err error) Kind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

func classify(err error) *ProviderError {
	if errors.Is(err, llm.ErrEmptyResponse) || errors.Is(err, llm.ErrNoConversation) {
		return &ProviderError{Kind: KindMalformed, Err: err}
	}
	switch status := llm.StatusCode(err); {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &ProviderError{Kind: KindAuth, Err: err}
	case status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout:
		// The provider rejected the request shape.
		return &ProviderError{Kind: KindMalformed, Err: err}
	default:
		return &ProviderError{Kind: KindNetwork, Err: err}
	}
}
