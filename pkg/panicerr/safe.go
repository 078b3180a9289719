package panicerr

import (
	"context"

	"github.com/sourcegraph/conc/panics"
)

func catch(fn func() error) error {
	var (
		catcher panics.Catcher
		err     error
	)
	catcher.Try(func() {
		err = fn()
	})
	if err != nil {
		return err
	}
	return catcher.Recovered().AsError()
}

// Safe wraps fn so that a panic inside it is returned as an error instead of
// unwinding the goroutine.
func Safe(fn func() error) func() error {
	return func() error {
		return catch(fn)
	}
}

// SafeContext is Safe for context-taking functions.
func SafeContext(fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		return catch(func() error {
			return fn(ctx)
		})
	}
}

// Run executes fn immediately under a panic catcher.
func Run(fn func() error) error {
	return catch(fn)
}
