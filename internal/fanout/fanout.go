// Package fanout issues one call per target without letting a failing target
// cancel or delay the others.
package fanout

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// DefaultLimit bounds the number of in-flight calls.
const DefaultLimit = 32

// Result is the outcome for a single target.
type Result[T any] struct {
	Target T
	Err    error
}

// Results holds one Result per target, in target order.
type Results[T any] []Result[T]

// Failed returns the results that carry an error.
func (rs Results[T]) Failed() Results[T] {
	var out Results[T]
	for _, r := range rs {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// Succeeded counts results without an error.
func (rs Results[T]) Succeeded() int {
	n := 0
	for _, r := range rs {
		if r.Err == nil {
			n++
		}
	}
	return n
}

// Err combines all per-target errors, or returns nil.
func (rs Results[T]) Err() error {
	var merr *multierror.Error
	for _, r := range rs {
		if r.Err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%v: %w", r.Target, r.Err))
		}
	}
	return merr.ErrorOrNil()
}

// Broadcast calls fn for every target with at most limit calls in flight and
// waits for all of them. Errors are collected per target, never short-circuit.
func Broadcast[T any](ctx context.Context, targets []T, limit int, fn func(context.Context, T) error) Results[T] {
	if limit <= 0 {
		limit = DefaultLimit
	}
	results := make(Results[T], len(targets))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, target := range targets {
		g.Go(func() error {
			err := safeCall(ctx, target, fn)
			results[i] = Result[T]{Target: target, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func safeCall[T any](ctx context.Context, target T, fn func(context.Context, T) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, target)
}
