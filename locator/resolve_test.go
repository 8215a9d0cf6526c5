package locator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pageFinder resolves only the expressions in present and records every
// lookup in order.
type pageFinder struct {
	present map[string]bool
	calls   []string
}

func (f *pageFinder) Find(ctx context.Context, loc Locator) error {
	f.calls = append(f.calls, loc.String())
	if f.present[loc.Expr] {
		return nil
	}
	return errors.New("no match")
}

func storeWith(t *testing.T, name string, e Entry) *Store {
	t.Helper()
	s := NewStore()
	require.NoError(t, s.Put(name, e, false))
	return s
}

func TestResolveFailingPrimaryWithoutFallbacksIsNotFound(t *testing.T) {
	s := storeWith(t, FieldTitle, Entry{Primary: `input[name="title"]`})
	finder := &pageFinder{}
	r := NewResolver(s, finder, time.Second)

	for i := 0; i < 3; i++ {
		_, err := r.Resolve(context.Background(), FieldTitle)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrElementNotFound)

		var nf *ElementNotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, FieldTitle, nf.Field)
		assert.Equal(t, []string{`input[name="title"]`}, nf.Tried)
	}
	assert.Len(t, finder.calls, 3)
}

func TestResolveUsesWorkingFallback(t *testing.T) {
	s := storeWith(t, FieldPrice, Entry{
		Primary:  `input[name="price"]`,
		Fallback: []string{`#price-old`, `input[data-testid="price"]`, `#never-reached`},
		XPath:    `//*[@name="price"]`,
	})
	finder := &pageFinder{present: map[string]bool{`input[data-testid="price"]`: true}}
	r := NewResolver(s, finder, time.Second)

	var fallbackIndex int
	r.OnFallback = func(field string, index int, loc Locator) {
		fallbackIndex = index
	}

	loc, err := r.Resolve(context.Background(), FieldPrice)
	require.NoError(t, err)
	assert.Equal(t, Locator{Expr: `input[data-testid="price"]`, Syntax: CSS}, loc)
	assert.Equal(t, []string{`input[name="price"]`, `#price-old`, `input[data-testid="price"]`}, finder.calls)
	assert.Equal(t, 2, fallbackIndex)
}

func TestResolveTriesXPathLast(t *testing.T) {
	s := storeWith(t, FieldPublish, Entry{
		Primary:  `button[data-testid="publish"]`,
		Fallback: []string{`button.publish`},
		XPath:    `//button[contains(., "Publish")]`,
	})
	finder := &pageFinder{present: map[string]bool{`//button[contains(., "Publish")]`: true}}
	r := NewResolver(s, finder, time.Second)

	loc, err := r.Resolve(context.Background(), FieldPublish)
	require.NoError(t, err)
	assert.Equal(t, XPath, loc.Syntax)
	assert.Equal(t, []string{`button[data-testid="publish"]`, `button.publish`, `//button[contains(., "Publish")]`}, finder.calls)
}

func TestResolveUnknownFieldIsNotFound(t *testing.T) {
	r := NewResolver(NewStore(), &pageFinder{}, time.Second)
	_, err := r.Resolve(context.Background(), "missing_field")
	assert.ErrorIs(t, err, ErrElementNotFound)
}

func TestResolveStopsOnCancelledContext(t *testing.T) {
	s := storeWith(t, FieldTitle, Entry{Primary: "#a", Fallback: []string{"#b"}})
	finder := &pageFinder{}
	r := NewResolver(s, finder, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Resolve(ctx, FieldTitle)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrElementNotFound)
	assert.Empty(t, finder.calls)
}

// waitingFinder blocks until its context expires, like a browser wait.
type waitingFinder struct {
	deadlines int
}

func (f *waitingFinder) Find(ctx context.Context, loc Locator) error {
	if _, ok := ctx.Deadline(); ok {
		f.deadlines++
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestResolveBoundsEachAttempt(t *testing.T) {
	s := storeWith(t, FieldTitle, Entry{Primary: "#a", Fallback: []string{"#b"}})
	finder := &waitingFinder{}
	r := NewResolver(s, finder, 10*time.Millisecond)

	start := time.Now()
	_, err := r.Resolve(context.Background(), FieldTitle)
	assert.ErrorIs(t, err, ErrElementNotFound)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, finder.deadlines)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPresent(t *testing.T) {
	s := storeWith(t, FieldErrorMessage, Entry{Primary: `div[role="alert"]`})
	r := NewResolver(s, &pageFinder{}, time.Second)
	_, ok := r.Present(context.Background(), FieldErrorMessage, 10*time.Millisecond)
	assert.False(t, ok)

	r = NewResolver(s, &pageFinder{present: map[string]bool{`div[role="alert"]`: true}}, time.Second)
	_, ok = r.Present(context.Background(), FieldErrorMessage, 10*time.Millisecond)
	assert.True(t, ok)
}
