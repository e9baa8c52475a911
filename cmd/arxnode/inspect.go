package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/arx-os/arxlink/internal/protocol"
	"github.com/arx-os/arxlink/internal/protocol/detail"
	"github.com/arx-os/arxlink/internal/protocol/frame"
	"github.com/arx-os/arxlink/internal/protocol/invite"
	"github.com/arx-os/arxlink/internal/protocol/object"
	"github.com/arx-os/arxlink/internal/protocol/replay"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type inspectOptions struct {
	Kind   string
	Verify bool
}

func newInspectCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect <hex>",
		Short: "Decode wire bytes and print them as YAML",
		Long: `Decode a hex encoded frame, object record, detail packet or invite token.

Frames are parsed structurally. With --verify the MAC is also checked against
the keys of the configured building.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := hex.DecodeString(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("decode hex: %w", err)
			}
			view, err := inspect(rootOpts, opts, raw)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(view); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.Flags().StringVar(&opts.Kind, "kind", "frame", "input kind (frame|object|detail|token)")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "verify the frame MAC with the configured keys")
	return cmd
}

func inspect(rootOpts *rootOptions, opts *inspectOptions, raw []byte) (any, error) {
	switch opts.Kind {
	case "frame":
		return inspectFrame(rootOpts, opts.Verify, raw)
	case "object":
		o, err := object.Decode(raw)
		if err != nil {
			return nil, err
		}
		return viewObject(o), nil
	case "detail":
		p, err := detail.Decode(raw)
		if err != nil {
			return nil, err
		}
		return viewDetail(p), nil
	case "token":
		t, err := invite.Unmarshal(raw)
		if err != nil {
			return nil, err
		}
		return viewToken(t), nil
	default:
		return nil, fmt.Errorf("unknown kind %q", opts.Kind)
	}
}

type frameView struct {
	Version   uint8  `yaml:"version"`
	Type      string `yaml:"type"`
	Hops      uint8  `yaml:"hops"`
	Flags     uint8  `yaml:"flags"`
	Sender    uint16 `yaml:"sender"`
	Sequence  uint32 `yaml:"sequence"`
	Length    uint16 `yaml:"payload_len"`
	MAC       string `yaml:"mac"`
	Verified  *bool  `yaml:"verified,omitempty"`
	Payload   any    `yaml:"payload,omitempty"`
	DecodeErr string `yaml:"decode_error,omitempty"`
}

func inspectFrame(rootOpts *rootOptions, verify bool, raw []byte) (frameView, error) {
	limits := frame.Limits{MaxFrameBytes: len(raw)}
	f, err := frame.Parse(raw, limits)
	if err != nil {
		return frameView{}, err
	}
	h := f.Header
	v := frameView{
		Version:  h.Version,
		Type:     h.Type.String(),
		Hops:     h.Hops,
		Flags:    h.Flags,
		Sender:   h.Sender,
		Sequence: h.Sequence,
		Length:   h.PayloadLen,
		MAC:      hex.EncodeToString(f.MAC[:]),
	}
	if verify {
		_, ring, err := loadRing(rootOpts)
		if err != nil {
			return frameView{}, err
		}
		_, err = frame.NewVerifier(ring, replay.New(1), limits).Unseal(raw)
		ok := err == nil
		v.Verified = &ok
		if !ok {
			v.DecodeErr = err.Error()
		}
	}
	p, err := protocol.DecodePayload(h.Type, f.Payload)
	if err != nil {
		v.DecodeErr = err.Error()
		return v, nil
	}
	v.Payload = viewPayload(p)
	return v, nil
}

func viewPayload(p protocol.Payload) any {
	switch p := p.(type) {
	case protocol.ObjectPayload:
		return viewObject(p.Object)
	case protocol.DetailPayload:
		return viewDetail(p.Packet)
	case protocol.InvitePayload:
		return viewToken(p.Token)
	case protocol.Control:
		cv := controlView{Type: p.Type.String()}
		if a, err := protocol.ParseAnnounce(p); err == nil {
			cv.Announce = &announceView{
				NodeID:    a.NodeID,
				Building:  a.Building,
				Role:      invite.Role(a.Role).String(),
				MaxDetail: a.MaxDetail,
				BootID:    hex.EncodeToString(a.BootID),
			}
		}
		return cv
	default:
		return nil
	}
}

type controlView struct {
	Type     string        `yaml:"control"`
	Announce *announceView `yaml:"announce,omitempty"`
}

type announceView struct {
	NodeID    uint16 `yaml:"node_id"`
	Building  uint16 `yaml:"building_id"`
	Role      string `yaml:"role"`
	MaxDetail uint8  `yaml:"max_detail"`
	BootID    string `yaml:"boot_id,omitempty"`
}

type geometryView struct {
	Kind        string  `yaml:"kind"`
	Shape       uint8   `yaml:"shape,omitempty"`
	Coordinates []int64 `yaml:"coordinates,flow"`
}

type objectView struct {
	Building    uint16             `yaml:"building_id"`
	Object      uint32             `yaml:"object_id"`
	Type        string             `yaml:"type"`
	DetailLevel uint8              `yaml:"detail_level"`
	Geometry    geometryView       `yaml:"geometry"`
	Properties  map[string]string  `yaml:"properties,omitempty"`
	Provenance  *object.Provenance `yaml:"provenance,omitempty"`
}

func viewObject(o object.ArxObject) objectView {
	v := objectView{
		Building:    o.BuildingID,
		Object:      o.ObjectID,
		Type:        o.Type.String(),
		DetailLevel: o.DetailLevel,
		Properties:  viewProperties(o.Properties),
		Provenance:  o.Provenance,
	}
	if o.Geometry != nil {
		v.Geometry = geometryView{Kind: o.Geometry.Kind().String(), Coordinates: object.Coordinates(o.Geometry)}
		if p, ok := o.Geometry.(object.Parametric); ok {
			v.Geometry.Shape = uint8(p.Shape)
		}
	}
	return v
}

type detailView struct {
	Building    uint16            `yaml:"building_id"`
	Object      uint32            `yaml:"object_id"`
	From        uint8             `yaml:"from"`
	To          uint8             `yaml:"to"`
	Corrections []int32           `yaml:"corrections,flow,omitempty"`
	Set         map[string]string `yaml:"set,omitempty"`
	Remove      []string          `yaml:"remove,flow,omitempty"`
}

func viewDetail(p detail.Packet) detailView {
	v := detailView{
		Building:    p.BuildingID,
		Object:      p.ObjectID,
		From:        p.From,
		To:          p.To,
		Corrections: p.Corrections,
		Set:         viewProperties(p.Set),
	}
	for _, k := range p.Remove {
		v.Remove = append(v.Remove, k.String())
	}
	return v
}

func viewProperties(p object.Properties) map[string]string {
	if len(p) == 0 {
		return nil
	}
	out := make(map[string]string, len(p))
	for k, val := range p {
		out[k.String()] = val.String()
	}
	return out
}
