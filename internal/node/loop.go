package node

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/arx-os/arxlink/internal/observability"
	"github.com/arx-os/arxlink/internal/protocol"
	"github.com/arx-os/arxlink/internal/radio"
	"github.com/arx-os/arxlink/internal/registry"
	"github.com/rs/zerolog/log"
)

// Run loads the replay checkpoint, announces the node and processes frames
// until ctx ends or the radio closes. A final checkpoint is written on exit.
func (n *Node) Run(ctx context.Context) error {
	if !n.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer n.running.Store(false)

	if cp := n.deps.Checkpoints; cp != nil {
		marks, err := cp.LoadHighWater(ctx)
		if err != nil {
			return err
		}
		n.verifier.Table().Load(marks)
		log.Info().Int("senders", len(marks)).Msg("node.Run restored high water")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	rxErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		rxErr <- n.receive(ctx)
	}()

	if err := n.Announce(ctx); err != nil {
		log.Warn().Err(err).Msg("node.Run announce")
	}

	checkpoint := time.NewTicker(n.cfg.CheckpointInterval)
	defer checkpoint.Stop()
	stalled := time.NewTicker(n.cfg.StalledInterval)
	defer stalled.Stop()
	var announce <-chan time.Time
	if n.cfg.AnnounceInterval > 0 {
		t := time.NewTicker(n.cfg.AnnounceInterval)
		defer t.Stop()
		announce = t.C
	}

	log.Info().Uint16("node", n.cfg.ID).Uint16("building", n.cfg.Building).Msg("node.Run started")
	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-rxErr:
			if !errors.Is(err, radio.ErrClosed) && !errors.Is(err, context.Canceled) {
				runErr = err
			}
			break loop
		case raw := <-n.rx:
			n.handle(ctx, raw)
		case <-checkpoint.C:
			n.checkpoint(ctx)
		case <-stalled.C:
			n.reportStalled()
		case <-announce:
			if err := n.Announce(ctx); err != nil {
				log.Warn().Err(err).Msg("node.Run announce")
			}
		}
	}
	cancel()
	wg.Wait()

	// the parent context may already be done; the last checkpoint still runs
	n.checkpoint(context.Background())
	log.Info().Uint16("node", n.cfg.ID).Msg("node.Run stopped")
	return runErr
}

// receive moves frames from the radio into the bounded queue. When the
// processing loop falls behind, new frames are dropped and counted.
func (n *Node) receive(ctx context.Context) error {
	for {
		raw, err := n.deps.Radio.Receive(ctx)
		if err != nil {
			return err
		}
		select {
		case n.rx <- raw:
		default:
			n.rxDropped.Add(1)
		}
	}
}

func (n *Node) handle(ctx context.Context, raw []byte) {
	start := time.Now()
	res := n.dispatcher.OnFrameReceived(raw)
	defer func() {
		observability.RecordFrame(fmtID(n.cfg.ID), res.Decision.String(), time.Since(start))
	}()

	if res.Forward != nil {
		if err := n.deps.Radio.Transmit(ctx, res.Forward); err != nil {
			n.txErrors.Add(1)
			log.Warn().Err(err).Uint16("sender", res.Frame.Header.Sender).Msg("node.handle relay")
		}
	}
	if !res.Decision.Accepted() {
		return
	}
	h := res.Frame.Header
	switch p := res.Payload.(type) {
	case protocol.ObjectPayload:
		events, err := n.registry.Upsert(p.Object)
		if err != nil {
			log.Warn().Err(err).Uint16("sender", h.Sender).Stringer("object", p.Object.Ref()).Msg("node.handle object")
			return
		}
		n.sink(events)
	case protocol.DetailPayload:
		outcome, events := n.registry.Apply(p.Packet)
		log.Debug().Uint16("sender", h.Sender).Stringer("object", p.Packet.Ref()).Stringer("outcome", outcome).Msg("node.handle detail")
		n.sink(events)
	case protocol.InvitePayload:
		role, exp, err := n.ledger.Redeem(p.Token, n.cfg.Now())
		if err != nil {
			return
		}
		n.invites.Add(1)
		if n.cfg.OnInvite != nil {
			n.cfg.OnInvite(p.Token, role, exp)
		}
	case protocol.Control:
		log.Debug().Uint16("sender", h.Sender).Stringer("control", p.Type).Msg("node.handle control")
	}
}

func (n *Node) sink(events []registry.Event) {
	if n.deps.Sink == nil || len(events) == 0 {
		return
	}
	n.sinkMu.Lock()
	defer n.sinkMu.Unlock()
	for _, ev := range events {
		if err := n.deps.Sink.Store(ev); err != nil {
			n.sinkErrors.Add(1)
			log.Error().Err(err).Stringer("object", ev.Object.Ref()).Stringer("event", ev.Kind).Msg("node.sink")
		}
	}
}

func (n *Node) checkpoint(ctx context.Context) {
	cp := n.deps.Checkpoints
	if cp == nil {
		return
	}
	marks := n.verifier.Table().Snapshot()
	if err := cp.SaveHighWater(ctx, marks); err != nil {
		log.Error().Err(err).Int("senders", len(marks)).Msg("node.checkpoint")
		return
	}
	log.Debug().Int("senders", len(marks)).Msg("node.checkpoint")
}

func (n *Node) reportStalled() {
	stalls := n.registry.Stalled()
	for _, s := range stalls {
		log.Warn().
			Stringer("object", s.Ref).
			Bool("known", s.Known).
			Uint8("level", s.Level).
			Uints8("waiting", s.Waiting).
			Msg("node.reportStalled")
	}
}
