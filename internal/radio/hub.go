package radio

import (
	"context"
	"fmt"
	"sync"
)

// Hub is an in-memory radio channel. Every attached Port hears every other
// linked Port; links can be cut to build multi-hop topologies.
type Hub struct {
	mu    sync.RWMutex
	mtu   int
	depth int
	ports []*Port
	cut   map[[2]int]struct{}
}

func NewHub(mtu, depth int) *Hub {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	if depth <= 0 {
		depth = DefaultRXQueue
	}
	return &Hub{mtu: mtu, depth: depth, cut: make(map[[2]int]struct{})}
}

// Attach adds a station to the channel.
func (h *Hub) Attach() *Port {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := &Port{hub: h, id: len(h.ports)}
	p.in = newInbox(h.depth, &p.c)
	h.ports = append(h.ports, p)
	return p
}

func linkKey(a, b int) [2]int {
	if a > b {
		a, b = b, a
	}
	return [2]int{a, b}
}

// Cut takes the link between a and b out of range in both directions.
func (h *Hub) Cut(a, b *Port) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cut[linkKey(a.id, b.id)] = struct{}{}
}

// Restore brings a cut link back in range.
func (h *Hub) Restore(a, b *Port) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.cut, linkKey(a.id, b.id))
}

func (h *Hub) broadcast(from *Port, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, p := range h.ports {
		if p == from {
			continue
		}
		if _, cut := h.cut[linkKey(from.id, p.id)]; cut {
			continue
		}
		b := make([]byte, len(frame))
		copy(b, frame)
		p.in.offer(b)
	}
}

// Port is one station on a Hub.
type Port struct {
	hub *Hub
	id  int
	in  *inbox
	c   counters
}

func (p *Port) ID() int      { return p.id }
func (p *Port) MTU() int     { return p.hub.mtu }
func (p *Port) Stats() Stats { return p.c.stats() }

func (p *Port) Receive(ctx context.Context) ([]byte, error) {
	return p.in.receive(ctx)
}

func (p *Port) Transmit(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.in.closed.Load() {
		return ErrClosed
	}
	if len(frame) > p.hub.mtu {
		p.c.txErrors.Add(1)
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(frame), p.hub.mtu)
	}
	p.hub.broadcast(p, frame)
	p.c.sent.Add(1)
	return nil
}

// Close detaches the port from the air; frames sent to it are discarded.
func (p *Port) Close() error {
	p.in.close()
	return nil
}
