package node

import (
	"context"
	"fmt"
	"strconv"

	"github.com/arx-os/arxlink/internal/observability"
	"github.com/arx-os/arxlink/internal/protocol"
	"github.com/arx-os/arxlink/internal/protocol/detail"
	"github.com/arx-os/arxlink/internal/protocol/frame"
	"github.com/arx-os/arxlink/internal/protocol/invite"
	"github.com/arx-os/arxlink/internal/protocol/object"
	"github.com/arx-os/arxlink/internal/protocol/schema"
	"github.com/arx-os/arxlink/internal/registry"
	"github.com/rs/zerolog/log"
)

func fmtID(id uint16) string { return strconv.FormatUint(uint64(id), 10) }

// Submit validates o, records it locally and broadcasts it. Malformed input
// is reported as a *schema.ValidationError.
func (n *Node) Submit(ctx context.Context, o object.ArxObject) (err error) {
	defer func() { observability.RecordSubmission(fmtID(n.cfg.ID), "object", err) }()

	if err := schema.Validate(o); err != nil {
		return err
	}
	if o.BuildingID != n.cfg.Building {
		return &schema.ValidationError{
			Ref:    o.Ref(),
			Field:  "building_id",
			Reason: fmt.Sprintf("node serves building %d", n.cfg.Building),
			Err:    ErrForeignBuilding,
		}
	}
	typ, body, err := n.encode(protocol.ObjectPayload{Object: o})
	if err != nil {
		return &schema.ValidationError{Ref: o.Ref(), Field: "object", Reason: err.Error(), Err: err}
	}
	events, err := n.registry.Upsert(o)
	if err != nil {
		return err
	}
	n.sink(events)
	if err := n.broadcast(ctx, typ, body); err != nil {
		return err
	}
	n.submitted.Add(1)
	log.Info().Stringer("object", o.Ref()).Stringer("type", o.Type).Uint8("level", o.DetailLevel).Msg("node.Submit")
	return nil
}

// SubmitDetail merges p locally and broadcasts it. A packet that cannot be
// applied to the local copy is not sent.
func (n *Node) SubmitDetail(ctx context.Context, p detail.Packet) (err error) {
	defer func() { observability.RecordSubmission(fmtID(n.cfg.ID), "detail", err) }()

	if p.BuildingID != n.cfg.Building {
		return fmt.Errorf("%w: %d", ErrForeignBuilding, p.BuildingID)
	}
	typ, body, err := n.encode(protocol.DetailPayload{Packet: p})
	if err != nil {
		return err
	}
	outcome, events := n.registry.Apply(p)
	n.sink(events)
	switch outcome {
	case registry.OutcomeApplied, registry.OutcomeBuffered, registry.OutcomeStale:
	default:
		return fmt.Errorf("%w: %s is %s", ErrRejected, p.Ref(), outcome)
	}
	if err := n.broadcast(ctx, typ, body); err != nil {
		return err
	}
	n.submitted.Add(1)
	log.Info().Stringer("object", p.Ref()).Uint8("from", p.From).Uint8("to", p.To).Stringer("outcome", outcome).Msg("node.SubmitDetail")
	return nil
}

// SendInvite broadcasts an issued token.
func (n *Node) SendInvite(ctx context.Context, t invite.Token) error {
	typ, body, err := n.encode(protocol.InvitePayload{Token: t})
	if err != nil {
		return err
	}
	return n.broadcast(ctx, typ, body)
}

// Announce broadcasts this node's identity and capabilities.
func (n *Node) Announce(ctx context.Context) error {
	c := protocol.NewAnnounce(protocol.Announce{
		NodeID:    n.cfg.ID,
		Building:  n.cfg.Building,
		Role:      uint8(n.cfg.Role),
		MaxDetail: n.cfg.MaxDetail,
		BootID:    n.cfg.BootID,
	})
	typ, body, err := n.encode(c)
	if err != nil {
		return err
	}
	return n.broadcast(ctx, typ, body)
}

func (n *Node) encode(p protocol.Payload) (frame.PayloadType, []byte, error) {
	typ, body, err := protocol.EncodePayload(p)
	if err != nil {
		return 0, nil, err
	}
	if limit := n.verifier.Limits().MaxPayload(); len(body) > limit {
		return 0, nil, fmt.Errorf("%w: %d > %d", frame.ErrPayloadTooLarge, len(body), limit)
	}
	return typ, body, nil
}

func (n *Node) broadcast(ctx context.Context, typ frame.PayloadType, body []byte) error {
	raw, h, err := n.sender.Seal(typ, body)
	if err != nil {
		return err
	}
	if err := n.deps.Radio.Transmit(ctx, raw); err != nil {
		n.txErrors.Add(1)
		return fmt.Errorf("node: transmit seq %d: %w", h.Sequence, err)
	}
	log.Debug().Stringer("type", typ).Uint32("seq", h.Sequence).Int("bytes", len(raw)).Msg("node.broadcast")
	return nil
}
