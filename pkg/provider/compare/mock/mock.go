// Package mock provides a test double for the compare.Comparer interface.
//
// Set Result and Err to control the returned values, or CompareFunc for
// input-dependent behaviour. Every call is recorded in Calls.
//
// Example:
//
//	c := &mock.Comparer{Err: errors.New("boom")}
//	_, err := c.Compare(ctx, "ਸਤਿ", "ਸਤਿ ਨਾਮੁ")
//	// len(c.Calls) == 1
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/paath/pkg/provider/compare"
	"github.com/MrWong99/paath/pkg/types"
)

// CompareCall records a single invocation of Comparer.Compare.
type CompareCall struct {
	Recognized string
	Reference  string
}

// Comparer is a mock implementation of compare.Comparer.
type Comparer struct {
	mu sync.Mutex

	// CompareFunc, if set, computes the result and takes precedence over
	// Result and Err.
	CompareFunc func(ctx context.Context, recognized, reference string) (types.AlignmentResult, error)

	// Result is returned by Compare when CompareFunc is nil.
	Result types.AlignmentResult

	// Err, if non-nil, is returned by Compare when CompareFunc is nil.
	Err error

	// Calls records every call to Compare in order.
	Calls []CompareCall
}

// Compare records the call and returns the configured result.
func (c *Comparer) Compare(ctx context.Context, recognized, reference string) (types.AlignmentResult, error) {
	c.mu.Lock()
	c.Calls = append(c.Calls, CompareCall{Recognized: recognized, Reference: reference})
	fn, res, err := c.CompareFunc, c.Result, c.Err
	c.mu.Unlock()

	if fn != nil {
		return fn(ctx, recognized, reference)
	}
	if err != nil {
		return types.AlignmentResult{}, err
	}
	return res, nil
}

// CallCount returns the number of Compare calls. Thread-safe.
func (c *Comparer) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (c *Comparer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = nil
}

var _ compare.Comparer = (*Comparer)(nil)
