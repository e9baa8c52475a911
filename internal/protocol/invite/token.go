// Package invite issues and checks compact invite tokens.
//
// A token is a bearer credential: anyone holding an unexpired token with a
// valid tag is granted its role. It is small enough to print, read aloud or
// put in a QR code.
//
// Layout (19 bytes, big endian):
//
//	0  u8  version<<4 | role
//	1  u16 issuer id
//	3  u16 serial
//	5  u32 issued hour (hours since the Unix epoch, rounded up)
//	9  u16 ttl hours
//	11 [8] mac = HMAC-SHA256(issuer key, bytes 0..11) truncated
package invite

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	Version  = 1
	BodyLen  = 11
	MACLen   = 8
	TokenLen = BodyLen + MACLen

	groupLen = 4
)

var (
	ErrInvalidToken    = errors.New("invite: invalid token")
	ErrUnknownIssuer   = errors.New("invite: unknown issuer")
	ErrBadMAC          = errors.New("invite: bad mac")
	ErrExpired         = errors.New("invite: token expired")
	ErrAlreadyRedeemed = errors.New("invite: token already redeemed")
	ErrInvalidRole     = errors.New("invite: invalid role")
	ErrInvalidTTL      = errors.New("invite: ttl must be positive")
)

type Role uint8

const (
	RoleViewer Role = 1
	RoleTech   Role = 2
	RoleAdmin  Role = 3
)

func (r Role) Valid() bool { return r >= RoleViewer && r <= RoleAdmin }

func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "viewer"
	case RoleTech:
		return "tech"
	case RoleAdmin:
		return "admin"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "viewer":
		return RoleViewer, nil
	case "tech", "technician":
		return RoleTech, nil
	case "admin":
		return RoleAdmin, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

// IssuerKey is the issuing node's identity and invite key.
type IssuerKey struct {
	ID  uint16
	Key []byte
}

// IssuerKeySource resolves invite keys for verification.
type IssuerKeySource interface {
	InviteKey(issuer uint16) ([]byte, bool)
}

type Token struct {
	Role       Role
	Issuer     uint16
	Serial     uint16
	IssuedHour uint32
	TTLHours   uint16
	MAC        [MACLen]byte
}

func (t Token) IssuedAt() time.Time {
	return time.Unix(int64(t.IssuedHour)*3600, 0).UTC()
}

func (t Token) ExpiresAt() time.Time {
	return time.Unix((int64(t.IssuedHour)+int64(t.TTLHours))*3600, 0).UTC()
}

// issuedHour rounds now up to a whole hour so a token is never valid for
// less than its ttl.
func issuedHour(now time.Time) uint32 {
	sec := now.Unix()
	h := sec / 3600
	if sec%3600 != 0 || now.Nanosecond() != 0 {
		h++
	}
	return uint32(h)
}

// Issue creates a token with a random serial.
func Issue(role Role, ttlHours uint16, issuer IssuerKey, now time.Time) (Token, error) {
	return issue(role, ttlHours, issuer, now, rand.Reader)
}

func issue(role Role, ttlHours uint16, issuer IssuerKey, now time.Time, rnd io.Reader) (Token, error) {
	if !role.Valid() {
		return Token{}, fmt.Errorf("%w: %d", ErrInvalidRole, role)
	}
	if ttlHours == 0 {
		return Token{}, ErrInvalidTTL
	}
	if len(issuer.Key) == 0 {
		return Token{}, fmt.Errorf("%w: issuer %d has no key", ErrUnknownIssuer, issuer.ID)
	}
	var serial [2]byte
	if _, err := io.ReadFull(rnd, serial[:]); err != nil {
		return Token{}, fmt.Errorf("invite: serial: %w", err)
	}
	t := Token{
		Role:       role,
		Issuer:     issuer.ID,
		Serial:     binary.BigEndian.Uint16(serial[:]),
		IssuedHour: issuedHour(now),
		TTLHours:   ttlHours,
	}
	t.MAC = computeMAC(issuer.Key, t.body())
	return t, nil
}

// Accept verifies t and returns the granted role and expiry.
func Accept(t Token, keys IssuerKeySource, now time.Time) (Role, time.Time, error) {
	if !t.Role.Valid() || t.TTLHours == 0 {
		return 0, time.Time{}, ErrInvalidToken
	}
	key, ok := keys.InviteKey(t.Issuer)
	if !ok {
		return 0, time.Time{}, fmt.Errorf("%w: %d", ErrUnknownIssuer, t.Issuer)
	}
	want := computeMAC(key, t.body())
	if !hmac.Equal(want[:], t.MAC[:]) {
		return 0, time.Time{}, ErrBadMAC
	}
	exp := t.ExpiresAt()
	if !now.Before(exp) {
		return 0, time.Time{}, fmt.Errorf("%w: at %s", ErrExpired, exp.Format(time.RFC3339))
	}
	return t.Role, exp, nil
}

func (t Token) body() [BodyLen]byte {
	var b [BodyLen]byte
	b[0] = Version<<4 | byte(t.Role)&0x0F
	binary.BigEndian.PutUint16(b[1:3], t.Issuer)
	binary.BigEndian.PutUint16(b[3:5], t.Serial)
	binary.BigEndian.PutUint32(b[5:9], t.IssuedHour)
	binary.BigEndian.PutUint16(b[9:11], t.TTLHours)
	return b
}

func computeMAC(key []byte, body [BodyLen]byte) [MACLen]byte {
	m := hmac.New(sha256.New, key)
	m.Write(body[:])
	var out [MACLen]byte
	copy(out[:], m.Sum(nil))
	return out
}

func (t Token) Marshal() []byte {
	body := t.body()
	out := make([]byte, 0, TokenLen)
	out = append(out, body[:]...)
	return append(out, t.MAC[:]...)
}

func Unmarshal(b []byte) (Token, error) {
	if len(b) != TokenLen {
		return Token{}, fmt.Errorf("%w: %d bytes", ErrInvalidToken, len(b))
	}
	if b[0]>>4 != Version {
		return Token{}, fmt.Errorf("%w: version %d", ErrInvalidToken, b[0]>>4)
	}
	t := Token{
		Role:       Role(b[0] & 0x0F),
		Issuer:     binary.BigEndian.Uint16(b[1:3]),
		Serial:     binary.BigEndian.Uint16(b[3:5]),
		IssuedHour: binary.BigEndian.Uint32(b[5:9]),
		TTLHours:   binary.BigEndian.Uint16(b[9:11]),
	}
	copy(t.MAC[:], b[BodyLen:])
	if !t.Role.Valid() {
		return Token{}, fmt.Errorf("%w: role %d", ErrInvalidToken, t.Role)
	}
	return t, nil
}

var textEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// String renders the token as dash grouped base32 for printing.
func (t Token) String() string {
	s := textEncoding.EncodeToString(t.Marshal())
	var sb strings.Builder
	for i := 0; i < len(s); i += groupLen {
		if i > 0 {
			sb.WriteByte('-')
		}
		end := i + groupLen
		if end > len(s) {
			end = len(s)
		}
		sb.WriteString(s[i:end])
	}
	return sb.String()
}

func (t Token) Hex() string {
	return hex.EncodeToString(t.Marshal())
}

// ParseToken accepts the grouped base32 form or plain hex.
func ParseToken(s string) (Token, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)
	var (
		b   []byte
		err error
	)
	if len(clean) == hex.EncodedLen(TokenLen) {
		b, err = hex.DecodeString(clean)
	} else {
		b, err = textEncoding.DecodeString(strings.ToUpper(clean))
	}
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return Unmarshal(b)
}
