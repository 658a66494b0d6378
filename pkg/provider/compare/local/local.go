// Package local provides the in-process Comparer backed by the word aligner.
package local

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/MrWong99/paath/internal/align"
	"github.com/MrWong99/paath/pkg/provider/compare"
	"github.com/MrWong99/paath/pkg/types"
)

var _ compare.Comparer = (*Comparer)(nil)

// Comparer runs the alignment in-process. It never fails except on a
// cancelled context. The aligner can be swapped at runtime.
type Comparer struct {
	aligner atomic.Pointer[align.Aligner]
}

// New returns a Comparer using the given aligner. A nil aligner selects one
// with default settings.
func New(a *align.Aligner) *Comparer {
	if a == nil {
		a = align.New()
	}
	c := &Comparer{}
	c.aligner.Store(a)
	return c
}

// Compare implements [compare.Comparer].
func (c *Comparer) Compare(ctx context.Context, recognized, reference string) (types.AlignmentResult, error) {
	if err := ctx.Err(); err != nil {
		return types.AlignmentResult{}, fmt.Errorf("local: %w", err)
	}
	return c.aligner.Load().Align(recognized, reference), nil
}

// Aligner returns the underlying aligner.
func (c *Comparer) Aligner() *align.Aligner { return c.aligner.Load() }

// SetAligner replaces the aligner used by subsequent comparisons. A nil
// aligner is ignored.
func (c *Comparer) SetAligner(a *align.Aligner) {
	if a != nil {
		c.aligner.Store(a)
	}
}
