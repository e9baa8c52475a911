// Package keys provisions MAC keys for frames and invite tokens.
//
// Every node of a building shares one master key. Per-sender frame keys and
// per-issuer invite keys are derived from it with HKDF-SHA256, salted with
// the building id, so a captured frame key does not reveal the master key or
// another node's key. A roster restricts which ids are recognised; explicit
// peer keys override derivation for devices provisioned out of band.
// Rotating the master key starts a new key epoch for the whole building.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/arx-os/arxlink/internal/protocol/invite"
	"golang.org/x/crypto/hkdf"
)

const (
	KeySize    = 32
	MinKeySize = 16

	frameInfo  = "arx/frame/v1"
	inviteInfo = "arx/invite/v1"
)

var (
	ErrWeakKey    = errors.New("keys: key is too short")
	ErrInvalidKey = errors.New("keys: invalid key encoding")
	ErrNotListed  = errors.New("keys: id not on roster")
)

type Config struct {
	BuildingID uint16
	MasterKey  []byte
	// Roster lists recognised node ids. Empty means every id is recognised.
	Roster   []uint16
	PeerKeys map[uint16][]byte
}

// Ring answers key lookups for the frame and invite layers. It is immutable
// after construction and safe for concurrent use.
type Ring struct {
	building uint16
	master   []byte
	roster   map[uint16]struct{}
	peers    map[uint16][]byte
}

func NewRing(cfg Config) (*Ring, error) {
	if len(cfg.MasterKey) < MinKeySize {
		return nil, fmt.Errorf("%w: master key is %d bytes, minimum %d", ErrWeakKey, len(cfg.MasterKey), MinKeySize)
	}
	r := &Ring{
		building: cfg.BuildingID,
		master:   append([]byte(nil), cfg.MasterKey...),
		peers:    make(map[uint16][]byte, len(cfg.PeerKeys)),
	}
	if len(cfg.Roster) > 0 {
		r.roster = make(map[uint16]struct{}, len(cfg.Roster))
		for _, id := range cfg.Roster {
			r.roster[id] = struct{}{}
		}
	}
	for id, k := range cfg.PeerKeys {
		if len(k) < MinKeySize {
			return nil, fmt.Errorf("%w: peer %d key is %d bytes", ErrWeakKey, id, len(k))
		}
		r.peers[id] = append([]byte(nil), k...)
	}
	return r, nil
}

func (r *Ring) BuildingID() uint16 { return r.building }

func (r *Ring) listed(id uint16) bool {
	if r.roster == nil {
		return true
	}
	_, ok := r.roster[id]
	return ok
}

// FrameKey implements frame.KeySource.
func (r *Ring) FrameKey(sender uint16) ([]byte, bool) {
	if k, ok := r.peers[sender]; ok {
		return k, true
	}
	if !r.listed(sender) {
		return nil, false
	}
	return r.derive(frameInfo, sender), true
}

// InviteKey implements invite.IssuerKeySource.
func (r *Ring) InviteKey(issuer uint16) ([]byte, bool) {
	if !r.listed(issuer) {
		return nil, false
	}
	return r.derive(inviteInfo, issuer), true
}

// Issuer returns the invite signing identity for id.
func (r *Ring) Issuer(id uint16) (invite.IssuerKey, error) {
	k, ok := r.InviteKey(id)
	if !ok {
		return invite.IssuerKey{}, fmt.Errorf("%w: %d", ErrNotListed, id)
	}
	return invite.IssuerKey{ID: id, Key: k}, nil
}

func (r *Ring) derive(label string, id uint16) []byte {
	var salt [2]byte
	binary.BigEndian.PutUint16(salt[:], r.building)
	info := binary.BigEndian.AppendUint16([]byte(label), id)
	k, err := DeriveKey(r.master, salt[:], info, KeySize)
	if err != nil {
		// master length is checked in NewRing and KeySize is constant
		panic(err)
	}
	return k
}

// DeriveKey expands master into a size byte key with HKDF-SHA256.
func DeriveKey(master, salt, info []byte, size int) ([]byte, error) {
	if len(master) < MinKeySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrWeakKey, len(master))
	}
	out := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, salt, info), out); err != nil {
		return nil, fmt.Errorf("keys: derive: %w", err)
	}
	return out, nil
}

func GenerateMasterKey() ([]byte, error) {
	k := make([]byte, KeySize)
	if _, err := rand.Read(k); err != nil {
		return nil, fmt.Errorf("keys: generate: %w", err)
	}
	return k, nil
}

// ParseKey decodes a hex key, ignoring surrounding whitespace.
func ParseKey(s string) ([]byte, error) {
	k, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(k) < MinKeySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrWeakKey, len(k))
	}
	return k, nil
}
