// Package mesh decides, per received frame, whether to accept it locally and
// whether to relay it once more.
//
// Every node applies the same bounded rule: a frame is relayed only while its
// hop count is positive and at most MaxHops, and only the first time this node
// sees that (sender, sequence). Forwarding state lives in the same replay
// table the frame layer uses for acceptance.
package mesh

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/arx-os/arxlink/internal/protocol"
	"github.com/arx-os/arxlink/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

const DefaultMaxHops = 3

type Decision int

const (
	Drop Decision = iota
	Accept
	Forward
	AcceptAndForward
)

func (d Decision) String() string {
	switch d {
	case Drop:
		return "drop"
	case Accept:
		return "accept"
	case Forward:
		return "forward"
	case AcceptAndForward:
		return "accept_and_forward"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

func (d Decision) Accepted() bool  { return d == Accept || d == AcceptAndForward }
func (d Decision) Forwarded() bool { return d == Forward || d == AcceptAndForward }

// Relevance reports whether an accepted payload concerns this node.
type Relevance func(p protocol.Payload) bool

// BuildingRelevance accepts payloads for building and every building
// agnostic payload.
func BuildingRelevance(building uint16) Relevance {
	return func(p protocol.Payload) bool {
		b, scoped := protocol.Building(p)
		return !scoped || b == building
	}
}

type Config struct {
	Self     uint16
	Building uint16
	MaxHops  uint8
	Relevant Relevance
	Now      func() time.Time
}

// Result is the outcome for one received frame. Forward holds the bytes to
// transmit when the decision includes forwarding.
type Result struct {
	Decision Decision
	Frame    frame.Frame
	Payload  protocol.Payload
	Forward  []byte
	Err      error
}

type Stats struct {
	Received    uint64
	Dropped     uint64
	Accepted    uint64
	Forwarded   uint64
	Own         uint64
	Irrelevant  uint64
	Undecodable uint64
}

type Dispatcher struct {
	cfg       Config
	verifier  *frame.Verifier
	neighbors *NeighborTable

	received    atomic.Uint64
	dropped     atomic.Uint64
	accepted    atomic.Uint64
	forwarded   atomic.Uint64
	own         atomic.Uint64
	irrelevant  atomic.Uint64
	undecodable atomic.Uint64
}

func NewDispatcher(cfg Config, verifier *frame.Verifier, neighbors *NeighborTable) *Dispatcher {
	if cfg.MaxHops == 0 {
		cfg.MaxHops = DefaultMaxHops
	}
	if cfg.Relevant == nil {
		cfg.Relevant = BuildingRelevance(cfg.Building)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if neighbors == nil {
		neighbors = NewNeighborTable(0, 0)
	}
	return &Dispatcher{cfg: cfg, verifier: verifier, neighbors: neighbors}
}

func (d *Dispatcher) Neighbors() *NeighborTable { return d.neighbors }

// OnFrameReceived authenticates raw and decides what to do with it. It never
// blocks and performs no I/O.
func (d *Dispatcher) OnFrameReceived(raw []byte) Result {
	d.received.Add(1)

	if h, err := frame.DecodeHeader(raw); err == nil && h.Sender == d.cfg.Self {
		d.own.Add(1)
		return d.drop(Result{})
	}
	f, err := d.verifier.Unseal(raw)
	if err != nil {
		return d.drop(Result{Err: err})
	}
	h := f.Header
	now := d.cfg.Now()
	d.neighbors.Heard(h.Sender, h.Hops, now)

	res := Result{Frame: f}
	accept := false
	p, err := protocol.DecodePayload(h.Type, f.Payload)
	switch {
	case err != nil:
		// authenticated but not understood here; still relayed for peers
		// running a newer payload version
		d.undecodable.Add(1)
		res.Err = err
		log.Debug().Err(err).Uint16("sender", h.Sender).Stringer("type", h.Type).Msg("mesh.OnFrameReceived undecodable")
	case d.cfg.Relevant(p):
		res.Payload = p
		accept = true
		if c, ok := p.(protocol.Control); ok && c.Type == protocol.ControlAnnounce {
			if a, err := protocol.ParseAnnounce(c); err == nil {
				d.neighbors.Announced(h.Sender, a, now)
			}
		}
	default:
		res.Payload = p
		d.irrelevant.Add(1)
	}

	forward := false
	if h.Hops > 0 && h.Hops <= d.cfg.MaxHops && d.verifier.Table().MarkForwarded(h.Sender, h.Sequence) {
		out, err := d.verifier.Relay(f)
		if err != nil {
			log.Warn().Err(err).Uint16("sender", h.Sender).Uint32("seq", h.Sequence).Msg("mesh.OnFrameReceived relay")
		} else {
			res.Forward = out
			forward = true
		}
	}

	switch {
	case accept && forward:
		res.Decision = AcceptAndForward
	case accept:
		res.Decision = Accept
	case forward:
		res.Decision = Forward
	default:
		return d.drop(res)
	}
	if accept {
		d.accepted.Add(1)
	}
	if forward {
		d.forwarded.Add(1)
	}
	log.Debug().
		Uint16("sender", h.Sender).
		Uint32("seq", h.Sequence).
		Uint8("hops", h.Hops).
		Stringer("decision", res.Decision).
		Msg("mesh.OnFrameReceived")
	return res
}

func (d *Dispatcher) drop(res Result) Result {
	d.dropped.Add(1)
	res.Decision = Drop
	res.Forward = nil
	return res
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Received:    d.received.Load(),
		Dropped:     d.dropped.Load(),
		Accepted:    d.accepted.Load(),
		Forwarded:   d.forwarded.Load(),
		Own:         d.own.Load(),
		Irrelevant:  d.irrelevant.Load(),
		Undecodable: d.undecodable.Load(),
	}
}
