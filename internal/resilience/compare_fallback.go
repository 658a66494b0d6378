package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/paath/internal/observe"
	"github.com/MrWong99/paath/pkg/provider/compare"
	"github.com/MrWong99/paath/pkg/types"
)

// CompareFallback implements [compare.Comparer] with failover across several
// comparers, each behind its own circuit breaker. Registering the local
// aligner last guarantees a result even when every remote service is down.
type CompareFallback struct {
	group   *FallbackGroup[compare.Comparer]
	metrics *observe.Metrics
}

var _ compare.Comparer = (*CompareFallback)(nil)

// NewCompareFallback creates a [CompareFallback] with primary as the
// preferred comparer. When m is non-nil every comparer's requests and errors
// are counted under its name.
func NewCompareFallback(primary compare.Comparer, primaryName string, cfg FallbackConfig, m *observe.Metrics) *CompareFallback {
	return &CompareFallback{
		group:   NewFallbackGroup(Instrument(primaryName, primary, m), primaryName, cfg),
		metrics: m,
	}
}

// AddFallback registers c to be tried after the comparers added so far.
func (f *CompareFallback) AddFallback(name string, c compare.Comparer) {
	f.group.AddFallback(name, Instrument(name, c, f.metrics))
}

// Names returns the comparer names in failover order.
func (f *CompareFallback) Names() []string { return f.group.Names() }

// Breaker returns the circuit breaker guarding the named comparer, or nil.
func (f *CompareFallback) Breaker(name string) *CircuitBreaker { return f.group.Breaker(name) }

// Compare asks each comparer in order and returns the first successful
// result.
func (f *CompareFallback) Compare(ctx context.Context, recognized, reference string) (types.AlignmentResult, error) {
	res, served, err := Execute(ctx, f.group, func(ctx context.Context, c compare.Comparer) (types.AlignmentResult, error) {
		return c.Compare(ctx, recognized, reference)
	})
	if err != nil {
		return types.AlignmentResult{}, fmt.Errorf("resilience: compare: %w", err)
	}
	observe.Logger(ctx).Debug("comparison served", "comparer", served)
	return res, nil
}

// instrumented wraps a comparer to count requests and errors under name.
type instrumented struct {
	name    string
	next    compare.Comparer
	metrics *observe.Metrics
}

// Instrument returns c wrapped so each call is recorded on m under name. A
// nil m returns c unchanged.
func Instrument(name string, c compare.Comparer, m *observe.Metrics) compare.Comparer {
	if m == nil {
		return c
	}
	return &instrumented{name: name, next: c, metrics: m}
}

func (i *instrumented) Compare(ctx context.Context, recognized, reference string) (types.AlignmentResult, error) {
	res, err := i.next.Compare(ctx, recognized, reference)
	if err != nil {
		i.metrics.RecordComparerRequest(ctx, i.name, "error")
		i.metrics.RecordComparerError(ctx, i.name)
		return res, err
	}
	i.metrics.RecordComparerRequest(ctx, i.name, "ok")
	return res, nil
}
