package summarizer

import (
	"context"
)

// Input is one paper as it appears in a digest.
type Input struct {
	Title string
	// Abstract is the plain-text abstract to condense.
	Abstract string
	// Link identifies the paper; it is passed to the model as context only.
	Link string
}

type Summarizer interface {
	Summarize(ctx context.Context, input Input) (string, error)
}
