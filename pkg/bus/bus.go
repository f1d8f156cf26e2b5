package bus

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrBusClosed is returned when publishing to a closed CaptureBus.
var ErrBusClosed = errors.New("capture bus closed")

// CaptureBus carries on-demand capture commands from the chat listeners and
// the snapshot scheduler to the supervisor's routing loop. Single consumer,
// many producers.
type CaptureBus struct {
	commands chan CaptureCommand
	done     chan struct{}
	closed   atomic.Bool
}

func NewCaptureBus() *CaptureBus {
	return &CaptureBus{
		commands: make(chan CaptureCommand, 100),
		done:     make(chan struct{}),
	}
}

func (cb *CaptureBus) Publish(ctx context.Context, cmd CaptureCommand) error {
	if cb.closed.Load() {
		return ErrBusClosed
	}
	select {
	case cb.commands <- cmd:
		return nil
	case <-cb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cb *CaptureBus) Consume(ctx context.Context) (CaptureCommand, bool) {
	select {
	case cmd, ok := <-cb.commands:
		return cmd, ok
	case <-cb.done:
		return CaptureCommand{}, false
	case <-ctx.Done():
		return CaptureCommand{}, false
	}
}

func (cb *CaptureBus) Close() {
	if cb.closed.CompareAndSwap(false, true) {
		close(cb.done)
	}
}
