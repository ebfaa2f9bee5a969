package lifecycle

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Releaser is whatever holds the hardware for the life of the process.
type Releaser interface {
	Close(ctx context.Context) error
}

const DefaultShutdownTimeout = 2 * time.Second

// Controller parks until shutdown is requested, then releases the hardware
// exactly once.
type Controller struct {
	rel     Releaser
	timeout time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}

	runOnce sync.Once
	done    chan struct{}
	err     error
}

func New(rel Releaser, shutdownTimeout time.Duration) *Controller {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &Controller{
		rel:     rel,
		timeout: shutdownTimeout,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Shutdown requests shutdown. It may be called any number of times from any
// goroutine.
func (c *Controller) Shutdown() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Done is closed once the hardware has been released.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Run blocks until ctx is done or Shutdown is called, then releases the
// hardware with a fresh context bounded by the shutdown timeout. A second
// Run waits for the first to finish and returns the same result.
func (c *Controller) Run(ctx context.Context) error {
	if c == nil || c.rel == nil {
		return fmt.Errorf("lifecycle: nothing to release")
	}
	c.runOnce.Do(func() {
		defer close(c.done)

		select {
		case <-ctx.Done():
			log.Printf("lifecycle shutdown requested: %v", context.Cause(ctx))
		case <-c.stopCh:
			log.Printf("lifecycle shutdown requested")
		}
		c.Shutdown()

		relCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		c.err = c.rel.Close(relCtx)
		if c.err != nil {
			log.Printf("lifecycle release failed: %v", c.err)
		} else {
			log.Printf("lifecycle hardware released")
		}
	})
	<-c.done
	return c.err
}
