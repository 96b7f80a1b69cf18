// Package contxt builds self-cancelling contexts for fire-and-forget publish
// paths that have no caller-provided context to inherit.
package contxt

import (
	"context"
	"time"
)

// NewContext returns a context that cancels itself after timeout. The cancel
// func is driven off Done so call sites that cannot defer it do not leak.
func NewContext(timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ctx
}
