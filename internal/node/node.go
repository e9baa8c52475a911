// Package node runs one mesh station: a receive goroutine feeding a bounded
// queue, and a single processing loop that authenticates, relays and merges
// frames. Local submissions are validated, recorded and broadcast.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arx-os/arxlink/internal/mesh"
	"github.com/arx-os/arxlink/internal/observability"
	"github.com/arx-os/arxlink/internal/protocol/frame"
	"github.com/arx-os/arxlink/internal/protocol/invite"
	"github.com/arx-os/arxlink/internal/protocol/object"
	"github.com/arx-os/arxlink/internal/protocol/replay"
	"github.com/arx-os/arxlink/internal/radio"
	"github.com/arx-os/arxlink/internal/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	ErrForeignBuilding = errors.New("node: object belongs to another building")
	ErrRejected        = errors.New("node: detail packet rejected")
	ErrAlreadyRunning  = errors.New("node: already running")
)

// Sink receives every confirmed registry change, in order.
type Sink interface {
	Store(ev registry.Event) error
}

// Checkpointer persists replay marks so a restarted node keeps rejecting
// frames it already accepted.
type Checkpointer interface {
	SaveHighWater(ctx context.Context, marks []replay.Mark) error
	LoadHighWater(ctx context.Context) ([]replay.Mark, error)
}

// Keys supplies frame and invite keys plus this node's own identity keys.
type Keys interface {
	frame.KeySource
	invite.IssuerKeySource
}

type Config struct {
	ID        uint16
	Building  uint16
	Role      invite.Role
	MaxDetail uint8

	Hops             uint8
	MaxHops          uint8
	ReserveBlock     uint32
	ReplayCapacity   int
	NeighborCapacity int
	NeighborTimeout  time.Duration
	LedgerCapacity   int
	Registry         registry.Config

	RXQueue            int
	CheckpointInterval time.Duration
	// AnnounceInterval of zero announces only at start.
	AnnounceInterval time.Duration
	StalledInterval  time.Duration

	BootID []byte
	// OnInvite is called from the processing loop for each invite redeemed
	// off the air.
	OnInvite func(t invite.Token, role invite.Role, expires time.Time)
	Now      func() time.Time
}

type Deps struct {
	Keys        Keys
	Radio       radio.Transport
	Sequences   frame.SequenceStore
	Sink        Sink
	Checkpoints Checkpointer
	// Marks stores each accepted sequence before the frame is processed.
	// Without it replay state only survives through checkpoints.
	Marks       frame.MarkStore
	Redemptions invite.RedemptionStore
}

type Stats struct {
	RXDropped  uint64
	SinkErrors uint64
	TXErrors   uint64
	Submitted  uint64
	Invites    uint64
}

type Node struct {
	cfg  Config
	deps Deps

	sender     *frame.Sender
	verifier   *frame.Verifier
	dispatcher *mesh.Dispatcher
	registry   *registry.Registry
	ledger     *invite.Ledger

	rx      chan []byte
	running atomic.Bool

	// sinkMu keeps sink writes in event order across the loop and Submit.
	sinkMu sync.Mutex

	rxDropped  atomic.Uint64
	sinkErrors atomic.Uint64
	txErrors   atomic.Uint64
	submitted  atomic.Uint64
	invites    atomic.Uint64
}

func New(cfg Config, deps Deps) (*Node, error) {
	if cfg.ID == 0 {
		return nil, fmt.Errorf("node: id is required")
	}
	if deps.Keys == nil || deps.Radio == nil || deps.Sequences == nil {
		return nil, fmt.Errorf("node: keys, radio and sequences are required")
	}
	if cfg.Hops == 0 {
		cfg.Hops = frame.DefaultHops
	}
	if cfg.MaxHops == 0 {
		cfg.MaxHops = mesh.DefaultMaxHops
	}
	if cfg.RXQueue <= 0 {
		cfg.RXQueue = radio.DefaultRXQueue
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = 30 * time.Second
	}
	if cfg.StalledInterval <= 0 {
		cfg.StalledInterval = time.Minute
	}
	if cfg.MaxDetail == 0 {
		cfg.MaxDetail = object.MaxDetailLevel
	}
	if !cfg.Role.Valid() {
		cfg.Role = invite.RoleTech
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	limits := frame.Limits{MaxFrameBytes: deps.Radio.MTU()}
	if limits.MaxFrameBytes <= 0 || limits.MaxFrameBytes > frame.DefaultMaxFrame {
		limits = frame.DefaultLimits()
	}
	key, ok := deps.Keys.FrameKey(cfg.ID)
	if !ok {
		return nil, fmt.Errorf("node: no frame key for own id %d", cfg.ID)
	}
	sender, err := frame.NewSender(frame.SenderConfig{
		ID:           cfg.ID,
		Key:          key,
		Store:        deps.Sequences,
		Limits:       limits,
		Hops:         cfg.Hops,
		ReserveBlock: cfg.ReserveBlock,
	})
	if err != nil {
		return nil, err
	}
	verifier := frame.NewVerifier(deps.Keys, replay.New(cfg.ReplayCapacity), limits)
	if deps.Marks != nil {
		verifier.UseMarkStore(deps.Marks)
	}
	ledger := invite.NewLedger(deps.Keys, cfg.LedgerCapacity)
	if deps.Redemptions != nil {
		ledger.UseStore(deps.Redemptions)
	}
	n := &Node{
		cfg:      cfg,
		deps:     deps,
		sender:   sender,
		verifier: verifier,
		registry: registry.New(cfg.Registry),
		ledger:   ledger,
		rx:       make(chan []byte, cfg.RXQueue),
	}
	n.dispatcher = mesh.NewDispatcher(mesh.Config{
		Self:     cfg.ID,
		Building: cfg.Building,
		MaxHops:  cfg.MaxHops,
		Now:      cfg.Now,
	}, verifier, mesh.NewNeighborTable(cfg.NeighborCapacity, cfg.NeighborTimeout))
	return n, nil
}

func (n *Node) ID() uint16                   { return n.cfg.ID }
func (n *Node) Registry() *registry.Registry { return n.registry }
func (n *Node) Dispatcher() *mesh.Dispatcher { return n.dispatcher }
func (n *Node) Verifier() *frame.Verifier    { return n.verifier }
func (n *Node) Ledger() *invite.Ledger       { return n.ledger }

func (n *Node) Stats() Stats {
	return Stats{
		RXDropped:  n.rxDropped.Load(),
		SinkErrors: n.sinkErrors.Load(),
		TXErrors:   n.txErrors.Load(),
		Submitted:  n.submitted.Load(),
		Invites:    n.invites.Load(),
	}
}

// Restore seeds the registry from previously stored objects, typically
// before Run.
func (n *Node) Restore(objs []object.ArxObject) int {
	restored := 0
	for _, o := range objs {
		if _, err := n.registry.Upsert(o); err != nil {
			log.Warn().Err(err).Stringer("object", o.Ref()).Msg("node.Restore")
			continue
		}
		restored++
	}
	return restored
}

// RegisterMetrics exposes the node's counters on reg.
func (n *Node) RegisterMetrics(reg prometheus.Registerer) error {
	src := observability.Sources{
		Frame:    n.verifier.Stats,
		Replay:   n.verifier.Table().Stats,
		Registry: n.registry.Stats,
		Mesh:     n.dispatcher.Stats,
		Loop: func() observability.LoopStats {
			s := n.Stats()
			return observability.LoopStats{
				RXDropped:  s.RXDropped,
				SinkErrors: s.SinkErrors,
				TXErrors:   s.TXErrors,
				Stalled:    len(n.registry.Stalled()),
			}
		},
	}
	if r, ok := n.deps.Radio.(interface{ Stats() radio.Stats }); ok {
		src.Radio = r.Stats
	}
	return observability.RegisterSources(reg, fmt.Sprint(n.cfg.ID), src)
}
