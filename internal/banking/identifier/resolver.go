package identifier

import (
	"context"
	"errors"
	"fmt"
)

// DefaultMaxAttempts bounds how many candidates Resolve draws before giving up.
const DefaultMaxAttempts = 1000

// ErrExhausted is returned when every attempt produced a taken value.
var ErrExhausted = errors.New("identifier space exhausted")

// GenerateFunc produces one candidate value.
type GenerateFunc func() (string, error)

// TakenFunc reports whether a candidate already exists in the target scope.
type TakenFunc func(ctx context.Context, candidate string) (bool, error)

// Resolver retries generation until a collision-free value is found.
type Resolver struct {
	maxAttempts int
}

// NewResolver returns a Resolver capped at maxAttempts; non-positive values
// use DefaultMaxAttempts.
func NewResolver(maxAttempts int) *Resolver {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Resolver{maxAttempts: maxAttempts}
}

// MaxAttempts is the configured attempt ceiling.
func (r *Resolver) MaxAttempts() int {
	return r.maxAttempts
}

// Resolve returns the first candidate for which taken reports false, along
// with the number of candidates drawn. Generation and lookup errors abort
// immediately; so does ctx cancellation.
func (r *Resolver) Resolve(ctx context.Context, generate GenerateFunc, taken TakenFunc) (string, int, error) {
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", attempt - 1, err
		}
		candidate, err := generate()
		if err != nil {
			return "", attempt, fmt.Errorf("generate candidate: %w", err)
		}
		used, err := taken(ctx, candidate)
		if err != nil {
			return "", attempt, fmt.Errorf("check candidate: %w", err)
		}
		if !used {
			return candidate, attempt, nil
		}
	}
	return "", r.maxAttempts, fmt.Errorf("%w after %d attempts", ErrExhausted, r.maxAttempts)
}
