// Package shutdown holds the process-wide cancellation token.
//
// A signal source only cancels the context and runs the registered
// hooks. Loops check the context between blocking calls; whoever owns a
// blocking resource (listener, active connection) registers a hook or a
// context.AfterFunc to interrupt it.
package shutdown

import (
	"context"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

// Controller owns the shutdown token.
type Controller struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	mu     sync.Mutex
	reason string
	fired  bool
	hooks  []func()
}

func New() *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{ctx: ctx, cancel: cancel}
}

// Trigger requests shutdown. Only the first call cancels the context,
// runs the hooks in registration order and returns true.
func (c *Controller) Trigger(reason string) bool {
	fired := false
	c.once.Do(func() {
		fired = true
		c.mu.Lock()
		c.reason = reason
		c.fired = true
		hooks := c.hooks
		c.hooks = nil
		c.mu.Unlock()

		c.cancel()
		for _, fn := range hooks {
			fn()
		}
	})
	if !fired {
		log.Debug().Str("reason", reason).Msg("shutdown already requested")
	}
	return fired
}

// OnShutdown registers fn to run once when shutdown is triggered. If
// shutdown was already triggered, fn runs immediately on the caller's
// goroutine.
func (c *Controller) OnShutdown(fn func()) {
	c.mu.Lock()
	if !c.fired {
		c.hooks = append(c.hooks, fn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn()
}

// Context is cancelled when shutdown is triggered.
func (c *Controller) Context() context.Context {
	return c.ctx
}

func (c *Controller) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// WatchSignals triggers shutdown on the first signal from src. Later
// signals are absorbed. The returned stop func detaches from src and is
// safe to call more than once.
func (c *Controller) WatchSignals(src Source) (stop func()) {
	ch := make(chan os.Signal, 2)
	src.Notify(ch)

	quit := make(chan struct{})
	var stopOnce sync.Once
	go func() {
		for {
			select {
			case sig := <-ch:
				if c.Trigger(sig.String()) {
					log.Info().Str("signal", sig.String()).Msg("Caught signal, exiting")
				}
			case <-quit:
				return
			}
		}
	}()

	return func() {
		stopOnce.Do(func() {
			src.Stop(ch)
			close(quit)
		})
	}
}
