package locator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrElementNotFound is matched by every ElementNotFoundError.
var ErrElementNotFound = errors.New("element not found")

// ElementNotFoundError reports a field whose locators all failed to resolve.
type ElementNotFoundError struct {
	Field string
	Tried []string
	Err   error
}

func (e *ElementNotFoundError) Error() string {
	msg := fmt.Sprintf("element not found: %s", e.Field)
	if len(e.Tried) > 0 {
		msg += " (tried " + strings.Join(e.Tried, " | ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ElementNotFoundError) Unwrap() error {
	return e.Err
}

func (e *ElementNotFoundError) Is(target error) bool {
	return target == ErrElementNotFound
}

// Finder resolves a single locator on the current page. Implementations
// return nil when a matching element exists before ctx is done.
type Finder interface {
	Find(ctx context.Context, loc Locator) error
}

// Lookup yields the lookup strategy for a field.
type Lookup interface {
	Get(name string) (Entry, bool)
}

// Resolver applies the store's lookup contract against a Finder.
type Resolver struct {
	lookup  Lookup
	finder  Finder
	timeout time.Duration

	// OnFallback is called when a field resolves through anything other
	// than its primary locator. index is the position in Candidates.
	OnFallback func(field string, index int, loc Locator)
}

// NewResolver builds a resolver with a per-locator wait bound.
func NewResolver(lookup Lookup, finder Finder, timeout time.Duration) *Resolver {
	return &Resolver{
		lookup:  lookup,
		finder:  finder,
		timeout: timeout,
	}
}

// Timeout returns the per-locator wait bound.
func (r *Resolver) Timeout() time.Duration {
	return r.timeout
}

// Resolve tries the field's primary locator, then each fallback, then the
// XPath alternate, each bounded by the resolver timeout. The first locator
// that resolves is returned.
func (r *Resolver) Resolve(ctx context.Context, field string) (Locator, error) {
	return r.resolve(ctx, field, r.timeout)
}

// Present is Resolve with a custom wait bound and a boolean result, for
// optional elements such as banners and challenge overlays.
func (r *Resolver) Present(ctx context.Context, field string, wait time.Duration) (Locator, bool) {
	loc, err := r.resolve(ctx, field, wait)
	return loc, err == nil
}

func (r *Resolver) resolve(ctx context.Context, field string, wait time.Duration) (Locator, error) {
	entry, ok := r.lookup.Get(field)
	if !ok {
		return Locator{}, &ElementNotFoundError{Field: field, Err: errors.New("no selector recorded")}
	}

	candidates := entry.Candidates()
	tried := make([]string, 0, len(candidates))
	var lastErr error
	for i, loc := range candidates {
		if err := ctx.Err(); err != nil {
			return Locator{}, err
		}
		if err := r.findOne(ctx, loc, wait); err != nil {
			if ctx.Err() != nil {
				return Locator{}, ctx.Err()
			}
			tried = append(tried, loc.String())
			lastErr = err
			continue
		}
		if i > 0 && r.OnFallback != nil {
			r.OnFallback(field, i, loc)
		}
		return loc, nil
	}
	return Locator{}, &ElementNotFoundError{Field: field, Tried: tried, Err: lastErr}
}

func (r *Resolver) findOne(ctx context.Context, loc Locator, wait time.Duration) error {
	if wait <= 0 {
		return r.finder.Find(ctx, loc)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return r.finder.Find(attemptCtx, loc)
}
