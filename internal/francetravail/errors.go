package francetravail

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthFailure is returned when the client-credentials exchange fails.
	ErrAuthFailure = errors.New("france travail: authentication failed")
	// ErrFetchFailure is returned when a search request fails or answers
	// with an unexpected status.
	ErrFetchFailure = errors.New("france travail: fetch failed")
)

// StatusError is an unexpected HTTP status from the search endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("search returned %d: %s", e.StatusCode, e.Body)
}

// Unwrap lets errors.Is(err, ErrFetchFailure) match.
func (e *StatusError) Unwrap() error { return ErrFetchFailure }

const maxExcerpt = 512

func excerpt(b []byte) string {
	if len(b) > maxExcerpt {
		return string(b[:maxExcerpt]) + "…"
	}
	return string(b)
}
