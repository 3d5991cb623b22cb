package oracle

import (
	"context"
	"errors"
)

var (
	// ErrNoOutput means the model answered with nothing usable.
	ErrNoOutput = errors.New("oracle returned no usable output")

	// ErrUnparseable means the model answered, but not in the expected KEY: value shape.
	ErrUnparseable = errors.New("unparseable oracle output")
)

// Generator turns a prompt into text. Callers treat any error, including ErrNoOutput, as
// "no usable output" for the candidate at hand.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
