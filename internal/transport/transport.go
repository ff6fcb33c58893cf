// Package transport holds the inbound command queue shared by the MQTT
// client and transporttest.
package transport

import (
	"context"
	"errors"
	"time"
)

// DefaultQueueLen bounds the inbound command queue.
const DefaultQueueLen = 16

// ErrClosed is returned by Receive once the transport has been closed.
var ErrClosed = errors.New("transport closed")

// Request is one inbound command message.
type Request struct {
	Payload  []byte
	Received time.Time
}

// Receive waits up to timeout for the next request on ch. A timeout of zero
// only checks for an already queued request. ok is false when the wait
// expired.
func Receive(ctx context.Context, ch <-chan Request, timeout time.Duration) (req Request, ok bool, err error) {
	if timeout <= 0 {
		select {
		case r, open := <-ch:
			if !open {
				return Request{}, false, ErrClosed
			}
			return r, true, nil
		default:
			return Request{}, false, ctx.Err()
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r, open := <-ch:
		if !open {
			return Request{}, false, ErrClosed
		}
		return r, true, nil
	case <-timer.C:
		return Request{}, false, nil
	case <-ctx.Done():
		return Request{}, false, ctx.Err()
	}
}

// Offer queues req without blocking. When the queue is full the new request
// is dropped and Offer returns false.
func Offer(ch chan<- Request, req Request) bool {
	select {
	case ch <- req:
		return true
	default:
		return false
	}
}
