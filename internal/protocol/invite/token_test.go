package invite

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type keyMap map[uint16][]byte

func (k keyMap) InviteKey(issuer uint16) ([]byte, bool) {
	v, ok := k[issuer]
	return v, ok
}

var (
	issuer = IssuerKey{ID: 12, Key: []byte("issuer-12-invite-key")}
	keys   = keyMap{12: issuer.Key}
	epoch  = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
)

func TestIssueAcceptExpiryWith24Hours(t *testing.T) {
	tok, err := Issue(RoleTech, 24, issuer, epoch)
	require.NoError(t, err)

	exp := tok.ExpiresAt()
	assert.False(t, exp.Before(epoch.Add(24*time.Hour)), "expires %s", exp)
	assert.True(t, exp.Before(epoch.Add(25*time.Hour)), "expires %s", exp)

	role, gotExp, err := Accept(tok, keys, epoch)
	require.NoError(t, err)
	assert.Equal(t, RoleTech, role)
	assert.Equal(t, exp, gotExp)

	_, _, err = Accept(tok, keys, exp.Add(-time.Second))
	require.NoError(t, err)

	_, _, err = Accept(tok, keys, exp)
	assert.ErrorIs(t, err, ErrExpired)
	_, _, err = Accept(tok, keys, exp.Add(time.Hour))
	assert.ErrorIs(t, err, ErrExpired)
}

func TestShortTokenKeepsFullLifetime(t *testing.T) {
	late := time.Date(2026, 3, 14, 15, 59, 30, 0, time.UTC)
	tok, err := Issue(RoleTech, 1, issuer, late)
	require.NoError(t, err)
	assert.False(t, tok.ExpiresAt().Before(late.Add(time.Hour)), "expires %s", tok.ExpiresAt())

	_, _, err = Accept(tok, keys, late.Add(31*time.Second))
	require.NoError(t, err)
	_, _, err = Accept(tok, keys, late.Add(time.Hour-time.Second))
	require.NoError(t, err)

	onHour := time.Date(2026, 3, 14, 16, 0, 0, 0, time.UTC)
	tok, err = Issue(RoleTech, 1, issuer, onHour)
	require.NoError(t, err)
	assert.Equal(t, onHour.Add(time.Hour), tok.ExpiresAt())
}

func TestAcceptErrors(t *testing.T) {
	tok, err := Issue(RoleAdmin, 1, issuer, epoch)
	require.NoError(t, err)

	_, _, err = Accept(tok, keyMap{}, epoch)
	assert.ErrorIs(t, err, ErrUnknownIssuer)

	_, _, err = Accept(tok, keyMap{12: []byte("wrong")}, epoch)
	assert.ErrorIs(t, err, ErrBadMAC)

	tampered := tok
	tampered.TTLHours = 9000
	_, _, err = Accept(tampered, keys, epoch)
	assert.ErrorIs(t, err, ErrBadMAC)

	tampered = tok
	tampered.Role = RoleViewer
	_, _, err = Accept(tampered, keys, epoch)
	assert.ErrorIs(t, err, ErrBadMAC)
}

func TestIssueRejectsBadInput(t *testing.T) {
	_, err := Issue(0, 1, issuer, epoch)
	assert.ErrorIs(t, err, ErrInvalidRole)
	_, err = Issue(RoleViewer, 0, issuer, epoch)
	assert.ErrorIs(t, err, ErrInvalidTTL)
	_, err = Issue(RoleViewer, 1, IssuerKey{ID: 1}, epoch)
	assert.ErrorIs(t, err, ErrUnknownIssuer)
}

func TestMarshalIsFixedSize(t *testing.T) {
	tok, err := issue(RoleViewer, 72, issuer, epoch, bytes.NewReader([]byte{0xAB, 0xCD}))
	require.NoError(t, err)
	b := tok.Marshal()
	assert.Len(t, b, TokenLen)
	assert.Equal(t, byte(Version<<4|byte(RoleViewer)), b[0])
	assert.Equal(t, uint16(0xABCD), tok.Serial)

	got, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, tok, got)

	_, err = Unmarshal(b[:TokenLen-1])
	assert.ErrorIs(t, err, ErrInvalidToken)
	b[0] = 2<<4 | 1
	_, err = Unmarshal(b)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTextForms(t *testing.T) {
	tok, err := Issue(RoleTech, 24, issuer, epoch)
	require.NoError(t, err)

	s := tok.String()
	assert.Contains(t, s, "-")
	for _, in := range []string{s, strings.ToLower(s), strings.ReplaceAll(s, "-", " "), tok.Hex()} {
		got, err := ParseToken(in)
		require.NoError(t, err, in)
		assert.Equal(t, tok, got)
	}
	_, err = ParseToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLedgerRedeemsOnce(t *testing.T) {
	l := NewLedger(keys, 4)
	tok, err := Issue(RoleViewer, 24, issuer, epoch)
	require.NoError(t, err)

	role, _, err := l.Redeem(tok, epoch)
	require.NoError(t, err)
	assert.Equal(t, RoleViewer, role)

	_, _, err = l.Redeem(tok, epoch.Add(time.Minute))
	assert.ErrorIs(t, err, ErrAlreadyRedeemed)
	assert.Equal(t, 1, l.Len())

	// a second ledger (another node) may redeem the same bearer token
	other := NewLedger(keys, 4)
	_, _, err = other.Redeem(tok, epoch)
	assert.NoError(t, err)
}

type memoryRedemptions map[Redemption]time.Time

func (m memoryRedemptions) RecordRedemption(r Redemption, expires, _ time.Time) (bool, error) {
	if _, ok := m[r]; ok {
		return false, nil
	}
	m[r] = expires
	return true, nil
}

func TestLedgerConsultsStore(t *testing.T) {
	tok, err := Issue(RoleAdmin, 24, issuer, epoch)
	require.NoError(t, err)
	durable := memoryRedemptions{}

	first := NewLedger(keys, 4)
	first.UseStore(durable)
	_, _, err = first.Redeem(tok, epoch)
	require.NoError(t, err)
	require.Len(t, durable, 1)

	// a restarted node starts with an empty cache
	restarted := NewLedger(keys, 4)
	restarted.UseStore(durable)
	_, _, err = restarted.Redeem(tok, epoch.Add(time.Minute))
	assert.ErrorIs(t, err, ErrAlreadyRedeemed)
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("Admin")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, r)
	_, err = ParseRole("root")
	assert.ErrorIs(t, err, ErrInvalidRole)
}
