package invite

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/rs/zerolog/log"
)

const DefaultLedgerCapacity = 128

// Redemption identifies one issued token.
type Redemption struct {
	Issuer     uint16
	Serial     uint16
	IssuedHour uint32
}

func (t Token) Redemption() Redemption {
	return Redemption{Issuer: t.Issuer, Serial: t.Serial, IssuedHour: t.IssuedHour}
}

// RedemptionStore records redemptions durably. Record reports false when r
// was already recorded. Entries may be forgotten once expired.
type RedemptionStore interface {
	RecordRedemption(r Redemption, expires, now time.Time) (bool, error)
}

// Ledger remembers which tokens this node has redeemed so the same token is
// consumed at most once per node. Holders are not tracked. Recent
// redemptions are cached in a bounded LRU; with a store attached the store
// is authoritative and survives restarts.
type Ledger struct {
	mu    sync.Mutex
	keys  IssuerKeySource
	seen  *simplelru.LRU
	store RedemptionStore
}

func NewLedger(keys IssuerKeySource, capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultLedgerCapacity
	}
	seen, err := simplelru.NewLRU(capacity, nil)
	if err != nil {
		panic(err)
	}
	return &Ledger{keys: keys, seen: seen}
}

// UseStore attaches durable redemption state. Call it before the first
// Redeem.
func (l *Ledger) UseStore(s RedemptionStore) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.store = s
}

// Redeem accepts t and records it.
func (l *Ledger) Redeem(t Token, now time.Time) (Role, time.Time, error) {
	role, exp, err := Accept(t, l.keys, now)
	if err != nil {
		log.Warn().Err(err).Uint16("issuer", t.Issuer).Msg("invite.Redeem rejected")
		return 0, time.Time{}, err
	}
	id := t.Redemption()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen.Contains(id) {
		return 0, time.Time{}, ErrAlreadyRedeemed
	}
	if l.store != nil {
		fresh, err := l.store.RecordRedemption(id, exp, now)
		if err != nil {
			return 0, time.Time{}, fmt.Errorf("invite: record redemption: %w", err)
		}
		if !fresh {
			l.seen.Add(id, exp)
			return 0, time.Time{}, ErrAlreadyRedeemed
		}
	}
	l.seen.Add(id, exp)
	log.Info().Uint16("issuer", t.Issuer).Stringer("role", role).Time("expires", exp).Msg("invite.Redeem")
	return role, exp, nil
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen.Len()
}
