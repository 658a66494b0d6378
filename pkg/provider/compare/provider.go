// Package compare defines the Comparer interface for alignment backends.
//
// A Comparer turns a recognized transcript and a reference text into a
// [types.AlignmentResult]. The in-process aligner and a remote comparison
// service are interchangeable implementations of the same contract, so a
// caller can chain them behind a fallback group and treat whichever
// answers as authoritative.
//
// Implementations must be safe for concurrent use.
package compare

import (
	"context"

	"github.com/MrWong99/paath/pkg/types"
)

// Comparer is the abstraction over any alignment backend.
type Comparer interface {
	// Compare aligns recognized against reference.
	//
	// Implementations must not fail on malformed text: empty input yields an
	// empty result. Errors are reserved for backend failures (network,
	// cancelled ctx, bad upstream response).
	Compare(ctx context.Context, recognized, reference string) (types.AlignmentResult, error)
}

// Func adapts an ordinary function to the [Comparer] interface.
type Func func(ctx context.Context, recognized, reference string) (types.AlignmentResult, error)

// Compare calls f.
func (f Func) Compare(ctx context.Context, recognized, reference string) (types.AlignmentResult, error) {
	return f(ctx, recognized, reference)
}

var _ Comparer = Func(nil)
