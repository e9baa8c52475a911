package frame

import (
	"crypto/hmac"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/arx-os/arxlink/internal/protocol/replay"
	"github.com/rs/zerolog/log"
)

const (
	DefaultReserveBlock = 16
	DefaultHops         = 3
)

var (
	ErrBadMAC            = errors.New("frame: bad mac")
	ErrUnknownSender     = errors.New("frame: unknown sender")
	ErrMalformed         = errors.New("frame: malformed")
	ErrReplay            = replay.ErrReplay
	ErrSequenceExhausted = errors.New("frame: sequence space exhausted")
	ErrNoHopsLeft        = errors.New("frame: no hops left")
	ErrPersist           = errors.New("frame: mark not persisted")
)

// KeySource resolves the MAC key for a sender.
type KeySource interface {
	FrameKey(sender uint16) ([]byte, bool)
}

// SequenceStore keeps the highest sequence a sender has reserved. A sender
// never uses a sequence before its reservation is durable.
type SequenceStore interface {
	LoadReservation(sender uint16) (uint32, error)
	SaveReservation(sender uint16, ceiling uint32) error
}

type SenderConfig struct {
	ID           uint16
	Key          []byte
	Store        SequenceStore
	Limits       Limits
	Hops         uint8
	ReserveBlock uint32
}

// Sender seals outgoing frames for one node identity.
type Sender struct {
	mu      sync.Mutex
	cfg     SenderConfig
	next    uint64
	ceiling uint64
}

// NewSender resumes after the last durable reservation, so sequences handed
// out before a restart are never reused even if they were never sent.
func NewSender(cfg SenderConfig) (*Sender, error) {
	if len(cfg.Key) == 0 {
		return nil, fmt.Errorf("frame: sender %d has no key", cfg.ID)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("frame: sender %d has no sequence store", cfg.ID)
	}
	if cfg.Limits.MaxFrameBytes == 0 {
		cfg.Limits = DefaultLimits()
	}
	if cfg.ReserveBlock == 0 {
		cfg.ReserveBlock = DefaultReserveBlock
	}
	reserved, err := cfg.Store.LoadReservation(cfg.ID)
	if err != nil {
		return nil, fmt.Errorf("frame: load reservation for sender %d: %w", cfg.ID, err)
	}
	log.Debug().Uint16("sender", cfg.ID).Uint32("reserved", reserved).Msg("frame.NewSender")
	return &Sender{cfg: cfg, next: uint64(reserved) + 1, ceiling: uint64(reserved)}, nil
}

func (s *Sender) ID() uint16 { return s.cfg.ID }

// Next reports the sequence the next Seal will use.
func (s *Sender) Next() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint32(s.next)
}

// Seal wraps payload in a frame with the default hop count.
func (s *Sender) Seal(typ PayloadType, payload []byte) ([]byte, Header, error) {
	return s.SealHops(typ, payload, s.cfg.Hops)
}

func (s *Sender) SealHops(typ PayloadType, payload []byte, hops uint8) ([]byte, Header, error) {
	if len(payload) > s.cfg.Limits.MaxPayload() {
		return nil, Header{}, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), s.cfg.Limits.MaxPayload())
	}
	seq, err := s.take()
	if err != nil {
		return nil, Header{}, err
	}
	f := Frame{
		Header: Header{
			Version:    Version,
			Type:       typ,
			Hops:       hops,
			Sender:     s.cfg.ID,
			Sequence:   seq,
			PayloadLen: uint16(len(payload)),
		},
		Payload: payload,
	}
	f.MAC = ComputeMAC(s.cfg.Key, f.Header, payload)
	return Marshal(f), f.Header, nil
}

func (s *Sender) take() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next > math.MaxUint32 {
		return 0, ErrSequenceExhausted
	}
	if s.next > s.ceiling {
		ceil := s.ceiling + uint64(s.cfg.ReserveBlock)
		if ceil > math.MaxUint32 {
			ceil = math.MaxUint32
		}
		if err := s.cfg.Store.SaveReservation(s.cfg.ID, uint32(ceil)); err != nil {
			return 0, fmt.Errorf("frame: reserve sequences: %w", err)
		}
		s.ceiling = ceil
	}
	seq := s.next
	s.next++
	return uint32(seq), nil
}

type Stats struct {
	Accepted      uint64
	BadMAC        uint64
	Replay        uint64
	UnknownSender uint64
	Malformed     uint64
	Relayed       uint64
	PersistErrors uint64
}

// MarkStore persists a sender's accepted high-water mark.
type MarkStore interface {
	SaveMark(sender uint16, seq uint32) error
}

// Verifier authenticates received frames against a shared replay table.
type Verifier struct {
	keys   KeySource
	table  *replay.Table
	limits Limits
	marks  MarkStore

	accepted      atomic.Uint64
	badMAC        atomic.Uint64
	replays       atomic.Uint64
	unknownSender atomic.Uint64
	malformed     atomic.Uint64
	relayed       atomic.Uint64
	persistErrors atomic.Uint64
}

func NewVerifier(keys KeySource, table *replay.Table, limits Limits) *Verifier {
	if table == nil {
		table = replay.New(replay.DefaultCapacity)
	}
	if limits.MaxFrameBytes == 0 {
		limits = DefaultLimits()
	}
	return &Verifier{keys: keys, table: table, limits: limits}
}

// UseMarkStore makes every accepted sequence durable before Unseal returns.
// Call it before the first Unseal.
func (v *Verifier) UseMarkStore(s MarkStore) { v.marks = s }

func (v *Verifier) Table() *replay.Table { return v.table }
func (v *Verifier) Limits() Limits       { return v.limits }

// Unseal authenticates raw and commits its sequence. A frame that cannot be
// parsed cannot be authenticated either, so structural failures match both
// ErrMalformed and ErrBadMAC. With a mark store attached the sequence is
// stored before the table is raised; a frame whose mark cannot be stored is
// rejected with ErrPersist.
func (v *Verifier) Unseal(raw []byte) (Frame, error) {
	f, err := Parse(raw, v.limits)
	if err != nil {
		v.malformed.Add(1)
		log.Debug().Err(err).Int("len", len(raw)).Msg("frame.Unseal malformed")
		return Frame{}, fmt.Errorf("%w: %w: %w", ErrBadMAC, ErrMalformed, err)
	}
	h := f.Header
	key, ok := v.keys.FrameKey(h.Sender)
	if !ok {
		v.unknownSender.Add(1)
		log.Debug().Uint16("sender", h.Sender).Msg("frame.Unseal unknown sender")
		return Frame{}, ErrUnknownSender
	}
	want := ComputeMAC(key, h, f.Payload)
	if !hmac.Equal(want[:], f.MAC[:]) {
		v.badMAC.Add(1)
		return Frame{}, ErrBadMAC
	}
	if err := v.table.Check(h.Sender, h.Sequence); err != nil {
		v.replays.Add(1)
		log.Debug().Uint16("sender", h.Sender).Uint32("seq", h.Sequence).Msg("frame.Unseal replay")
		return Frame{}, err
	}
	if v.marks != nil {
		if err := v.marks.SaveMark(h.Sender, h.Sequence); err != nil {
			v.persistErrors.Add(1)
			log.Error().Err(err).Uint16("sender", h.Sender).Uint32("seq", h.Sequence).Msg("frame.Unseal persist")
			return Frame{}, fmt.Errorf("%w: %w", ErrPersist, err)
		}
	}
	if err := v.table.Commit(h.Sender, h.Sequence); err != nil {
		v.replays.Add(1)
		log.Debug().Uint16("sender", h.Sender).Uint32("seq", h.Sequence).Msg("frame.Unseal replay")
		return Frame{}, err
	}
	v.accepted.Add(1)
	return f, nil
}

// Relay re-seals an accepted frame with one hop fewer. The hop count is
// covered by the MAC, so the relay recomputes it with the sender's key.
func (v *Verifier) Relay(f Frame) ([]byte, error) {
	if f.Header.Hops == 0 {
		return nil, ErrNoHopsLeft
	}
	key, ok := v.keys.FrameKey(f.Header.Sender)
	if !ok {
		return nil, ErrUnknownSender
	}
	out := Frame{Header: f.Header, Payload: f.Payload}
	out.Header.Hops--
	out.MAC = ComputeMAC(key, out.Header, out.Payload)
	v.relayed.Add(1)
	return Marshal(out), nil
}

func (v *Verifier) Stats() Stats {
	return Stats{
		Accepted:      v.accepted.Load(),
		BadMAC:        v.badMAC.Load(),
		Replay:        v.replays.Load(),
		UnknownSender: v.unknownSender.Load(),
		Malformed:     v.malformed.Load(),
		Relayed:       v.relayed.Load(),
		PersistErrors: v.persistErrors.Load(),
	}
}

// MemorySequences is a SequenceStore for tests and ephemeral nodes.
type MemorySequences struct {
	mu    sync.Mutex
	marks map[uint16]uint32
	Saves int
}

func NewMemorySequences() *MemorySequences {
	return &MemorySequences{marks: make(map[uint16]uint32)}
}

func (m *MemorySequences) LoadReservation(sender uint16) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.marks[sender], nil
}

func (m *MemorySequences) SaveReservation(sender uint16, ceiling uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[sender] = ceiling
	m.Saves++
	return nil
}
