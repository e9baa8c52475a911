// Package registry tracks known objects and merges detail packets into them.
//
// Each object moves Unknown -> baseline -> higher detail levels. A packet is
// applied only when its from level equals the object's current level. Early
// packets wait in a small per-object queue; late or duplicate ones are no-ops.
// Given the missing levels eventually arrive, every arrival order converges to
// the same object.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/arx-os/arxlink/internal/protocol/detail"
	"github.com/arx-os/arxlink/internal/protocol/object"
	"github.com/rs/zerolog/log"
)

const (
	DefaultCapacity   = 4096
	DefaultQueueDepth = 4
	// DefaultMaxUnknown bounds objects held only as buffered packets.
	DefaultMaxUnknown = 64
)

var (
	ErrRegistryFull = errors.New("registry: full")
	ErrInvalid      = errors.New("registry: invalid object")
)

// Config bounds the registry. Capacity counts objects with a baseline;
// MaxUnknown separately counts objects known only through early packets, so
// packets for unknown objects cannot crowd out baselines.
type Config struct {
	Capacity   int
	QueueDepth int
	MaxUnknown int
}

func DefaultConfig() Config {
	return Config{Capacity: DefaultCapacity, QueueDepth: DefaultQueueDepth, MaxUnknown: DefaultMaxUnknown}
}

// Outcome is what Apply did with a packet.
type Outcome int

const (
	OutcomeApplied Outcome = iota
	OutcomeStale
	OutcomeBuffered
	OutcomeDropped
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeStale:
		return "stale"
	case OutcomeBuffered:
		return "buffered"
	case OutcomeDropped:
		return "dropped"
	case OutcomeRejected:
		return "rejected"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type EventKind int

const (
	EventBaseline EventKind = iota
	EventReplaced
	EventDetail
)

func (k EventKind) String() string {
	switch k {
	case EventBaseline:
		return "baseline"
	case EventReplaced:
		return "replaced"
	case EventDetail:
		return "detail"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event reports a confirmed change. Object is the merged state after it.
type Event struct {
	Kind      EventKind
	Object    object.ArxObject
	FromLevel uint8
}

type Stats struct {
	Objects  int
	Pending  int
	Applied  uint64
	Stale    uint64
	Buffered uint64
	Dropped  uint64
	Rejected uint64
}

// Stall is an object waiting on a level that has not arrived.
type Stall struct {
	Ref     object.Ref
	Known   bool
	Level   uint8
	Waiting []uint8
}

type entry struct {
	obj     object.ArxObject
	known   bool
	pending []detail.Packet
}

type Registry struct {
	mu      sync.Mutex
	cfg     Config
	entries map[object.Ref]*entry
	known   int
	stats   Stats
}

func New(cfg Config) *Registry {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.MaxUnknown <= 0 {
		cfg.MaxUnknown = DefaultMaxUnknown
	}
	return &Registry{cfg: cfg, entries: make(map[object.Ref]*entry)}
}

// Upsert records o as a baseline, or replaces the held object when o carries
// a higher detail level. Equal or lower levels are ignored.
func (r *Registry) Upsert(o object.ArxObject) ([]Event, error) {
	if err := object.Validate(o); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	ref := o.Ref()

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[ref]
	if (!ok || !e.known) && r.known >= r.cfg.Capacity {
		log.Warn().Stringer("object", ref).Int("capacity", r.cfg.Capacity).Msg("registry.Upsert full")
		return nil, ErrRegistryFull
	}
	if !ok {
		e = &entry{}
		r.entries[ref] = e
	}

	var ev Event
	switch {
	case !e.known:
		ev = Event{Kind: EventBaseline, FromLevel: o.DetailLevel}
		r.known++
	case o.DetailLevel > e.obj.DetailLevel:
		ev = Event{Kind: EventReplaced, FromLevel: e.obj.DetailLevel}
	default:
		log.Debug().Stringer("object", ref).Uint8("level", o.DetailLevel).Msg("registry.Upsert ignored")
		return nil, nil
	}
	e.obj = o.Clone()
	e.known = true
	ev.Object = e.obj.Clone()
	log.Debug().Stringer("object", ref).Stringer("event", ev.Kind).Uint8("level", o.DetailLevel).Msg("registry.Upsert")

	return append([]Event{ev}, r.drain(e)...), nil
}

// Apply merges p, buffering it if its predecessor level is still missing.
func (r *Registry) Apply(p detail.Packet) (Outcome, []Event) {
	ref := p.Ref()
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[ref]
	if !ok {
		if len(r.entries)-r.known >= r.cfg.MaxUnknown {
			r.stats.Dropped++
			log.Debug().Stringer("object", ref).Int("max_unknown", r.cfg.MaxUnknown).Msg("registry.Apply unknown object limit")
			return OutcomeDropped, nil
		}
		e = &entry{}
		r.entries[ref] = e
	}
	if !e.known || p.From > e.obj.DetailLevel {
		return r.buffer(e, p), nil
	}
	if p.From < e.obj.DetailLevel {
		r.stats.Stale++
		return OutcomeStale, nil
	}
	ev, err := r.apply(e, p)
	if err != nil {
		return OutcomeRejected, nil
	}
	return OutcomeApplied, append([]Event{ev}, r.drain(e)...)
}

func (r *Registry) buffer(e *entry, p detail.Packet) Outcome {
	for _, q := range e.pending {
		if q.From == p.From {
			r.stats.Dropped++
			return OutcomeDropped
		}
	}
	if len(e.pending) >= r.cfg.QueueDepth {
		r.stats.Dropped++
		log.Debug().Stringer("object", p.Ref()).Uint8("from", p.From).Msg("registry.Apply queue full")
		return OutcomeDropped
	}
	e.pending = append(e.pending, p)
	r.stats.Buffered++
	return OutcomeBuffered
}

func (r *Registry) apply(e *entry, p detail.Packet) (Event, error) {
	next, err := detail.Apply(e.obj, p)
	if err != nil {
		r.stats.Rejected++
		log.Warn().Err(err).Stringer("object", p.Ref()).Uint8("from", p.From).Uint8("to", p.To).Msg("registry.Apply rejected")
		return Event{}, err
	}
	from := e.obj.DetailLevel
	e.obj = next
	r.stats.Applied++
	return Event{Kind: EventDetail, Object: next.Clone(), FromLevel: from}, nil
}

// drain applies queued packets that have become current. Each pass removes
// at least one packet or stops, so it runs at most QueueDepth times.
func (r *Registry) drain(e *entry) []Event {
	var events []Event
	for len(e.pending) > 0 {
		progressed := false
		kept := e.pending[:0]
		var ready *detail.Packet
		for i := range e.pending {
			q := e.pending[i]
			switch {
			case q.From < e.obj.DetailLevel:
				r.stats.Stale++
				progressed = true
			case q.From == e.obj.DetailLevel && ready == nil:
				ready = &q
				progressed = true
			default:
				kept = append(kept, q)
			}
		}
		e.pending = kept
		if ready != nil {
			if ev, err := r.apply(e, *ready); err == nil {
				events = append(events, ev)
			}
		}
		if !progressed {
			break
		}
	}
	if len(e.pending) == 0 {
		e.pending = nil
	}
	return events
}

// Get returns a copy of the held object.
func (r *Registry) Get(ref object.Ref) (object.ArxObject, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[ref]
	if !ok || !e.known {
		return object.ArxObject{}, false
	}
	return e.obj.Clone(), true
}

// Len counts objects with a known baseline.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.known
}

// Stalled lists objects holding packets for a level that has not arrived.
func (r *Registry) Stalled() []Stall {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Stall
	for ref, e := range r.entries {
		if len(e.pending) == 0 {
			continue
		}
		s := Stall{Ref: ref, Known: e.known, Level: e.obj.DetailLevel}
		for _, p := range e.pending {
			s.Waiting = append(s.Waiting, p.From)
		}
		out = append(out, s)
	}
	return out
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Objects = r.known
	for _, e := range r.entries {
		s.Pending += len(e.pending)
	}
	return s
}
