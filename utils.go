package netagent

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
)

// SafeGroup is an errgroup.Group with safer defaults for long-running
// background loops: GoSafe restarts a worker after a panic instead of
// taking the process down with it.
type SafeGroup struct {
	*errgroup.Group
	ctx context.Context
}

// NewSafeGroup creates a SafeGroup backed by errgroup.WithContext.
func NewSafeGroup(ctx context.Context) *SafeGroup {
	if ctx == nil {
		ctx = context.Background()
	}
	group, groupCtx := errgroup.WithContext(ctx)
	return &SafeGroup{Group: group, ctx: groupCtx}
}

// Context returns the group-derived context.
func (sg *SafeGroup) Context() context.Context {
	return sg.ctx
}

// GoSafe runs fn in a group goroutine, recovers panics, and restarts fn with
// exponential backoff. A non-nil return error keeps errgroup semantics and
// cancels siblings. Panics are reported on stderr rather than through the
// structured logger: the logger itself may be what panicked.
func (sg *SafeGroup) GoSafe(name string, fn func(context.Context) error) {
	if sg == nil || sg.Group == nil || fn == nil {
		return
	}
	sg.Group.Go(func() (err error) {
		backoff := 200 * time.Millisecond
		const maxBackoff = 30 * time.Second
		for {
			select {
			case <-sg.ctx.Done():
				return nil
			default:
			}

			panicked := false
			var recovered any
			func() {
				defer func() {
					if r := recover(); r != nil {
						panicked = true
						recovered = r
					}
				}()
				err = fn(sg.ctx)
			}()

			if !panicked {
				return err
			}
			_, _ = fmt.Fprintf(os.Stderr, "WARN: %s panicked: %v\n%s\n", name, recovered, debug.Stack())
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	})
}
