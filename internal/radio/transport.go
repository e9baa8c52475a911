package radio

import (
	"context"
	"errors"
	"sync/atomic"
)

var (
	ErrClosed        = errors.New("radio: closed")
	ErrFrameTooLarge = errors.New("radio: frame exceeds mtu")
)

// Transport is the node's view of a radio. Receive blocks until a frame
// arrives, the context ends or the transport closes. Transmit is best effort
// broadcast to every station in range.
type Transport interface {
	Receive(ctx context.Context) ([]byte, error)
	Transmit(ctx context.Context, frame []byte) error
	MTU() int
	Close() error
}

type Stats struct {
	Sent     uint64
	Received uint64
	// Overflow counts frames dropped because the receive queue was full.
	Overflow uint64
	Oversize uint64
	TxErrors uint64
	Retries  uint64
}

type counters struct {
	sent     atomic.Uint64
	received atomic.Uint64
	overflow atomic.Uint64
	oversize atomic.Uint64
	txErrors atomic.Uint64
	retries  atomic.Uint64
}

func (c *counters) stats() Stats {
	return Stats{
		Sent:     c.sent.Load(),
		Received: c.received.Load(),
		Overflow: c.overflow.Load(),
		Oversize: c.oversize.Load(),
		TxErrors: c.txErrors.Load(),
		Retries:  c.retries.Load(),
	}
}

// inbox is the bounded receive queue shared by both transports.
type inbox struct {
	ch     chan []byte
	done   chan struct{}
	closed atomic.Bool
	c      *counters
}

func newInbox(depth int, c *counters) *inbox {
	return &inbox{ch: make(chan []byte, depth), done: make(chan struct{}), c: c}
}

// offer queues frame without blocking. Frames arriving at a full queue are
// dropped, as a radio would.
func (in *inbox) offer(frame []byte) bool {
	if in.closed.Load() {
		return false
	}
	select {
	case in.ch <- frame:
		in.c.received.Add(1)
		return true
	default:
		in.c.overflow.Add(1)
		return false
	}
}

func (in *inbox) receive(ctx context.Context) ([]byte, error) {
	select {
	case b := <-in.ch:
		return b, nil
	default:
	}
	select {
	case b := <-in.ch:
		return b, nil
	case <-in.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (in *inbox) close() bool {
	if in.closed.Swap(true) {
		return false
	}
	close(in.done)
	return true
}
