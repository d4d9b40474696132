package receiver

import (
	"context"
	"errors"
	"time"
)

// ErrQuiesceTimeout is returned by RequestPause when the receiver does
// not acknowledge within the timeout — it is either wedged in a blocking
// read or the task has already exited.
var ErrQuiesceTimeout = errors.New("receiver: timed out waiting for read loop to pause")

// Quiesce is the handshake between one link's receiver loop and the
// control-plane arbiter that borrows its port. It is deliberately not a
// mutex: per §4.5, the arbiter must wait for the receiver to acknowledge
// and stop reading on its own terms (between reads, not mid-read)
// before draining the OS buffer, and the receiver must be told
// explicitly when to resume rather than polling a lock.
type Quiesce struct {
	request chan struct{}
	ack     chan struct{}
	resume  chan struct{}
}

func newQuiesce() *Quiesce {
	return &Quiesce{
		request: make(chan struct{}, 1),
		ack:     make(chan struct{}, 1),
		resume:  make(chan struct{}, 1),
	}
}

// RequestPause asks the receiver to stop reading and blocks until it
// acknowledges or timeout elapses. On success, the caller owns the port
// exclusively until it calls Release.
func (q *Quiesce) RequestPause(ctx context.Context, timeout time.Duration) error {
	select {
	case q.request <- struct{}{}:
	default:
		// A pause is already pending; fall through and wait for its ack.
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-q.ack:
		return nil
	case <-timer.C:
		return ErrQuiesceTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release hands the port back to the receiver loop.
func (q *Quiesce) Release() {
	select {
	case q.resume <- struct{}{}:
	default:
	}
}

// poll is called by the receiver between reads. If a pause has been
// requested, it acknowledges and blocks until Release.
func (q *Quiesce) poll() {
	select {
	case <-q.request:
		q.ack <- struct{}{}
		<-q.resume
	default:
	}
}
