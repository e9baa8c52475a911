// Package replay keeps the per-sender high-water marks used to reject
// replayed frames and to forward each frame at most once.
//
// The table is bounded. When it is full the least recently updated sender is
// evicted, so a frame from an evicted sender is judged against no history.
// Evictions are counted so an operator can size Capacity for the mesh.
package replay

import (
	"errors"
	"sync"

	"github.com/hashicorp/golang-lru/simplelru"
)

const DefaultCapacity = 256

var ErrReplay = errors.New("replay: sequence not above high-water mark")

// Mark is the durable state for one sender.
type Mark struct {
	Sender    uint16
	HighWater uint32
	Forwarded uint32
}

type Stats struct {
	Entries   int
	Evictions uint64
}

type Table struct {
	mu        sync.Mutex
	lru       *simplelru.LRU
	evictions uint64
}

func New(capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	t := &Table{}
	lru, err := simplelru.NewLRU(capacity, func(_, _ interface{}) { t.evictions++ })
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	t.lru = lru
	return t
}

func (t *Table) peek(sender uint16) Mark {
	if v, ok := t.lru.Peek(sender); ok {
		return v.(Mark)
	}
	return Mark{Sender: sender}
}

// Check reports ErrReplay if seq is not strictly above the sender's mark.
func (t *Table) Check(sender uint16, seq uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if seq <= t.peek(sender).HighWater {
		return ErrReplay
	}
	return nil
}

// Commit raises the sender's mark to seq. It re-checks under the lock so two
// callers racing on the same sequence cannot both succeed.
func (t *Table) Commit(sender uint16, seq uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.peek(sender)
	if seq <= m.HighWater {
		return ErrReplay
	}
	m.HighWater = seq
	t.lru.Add(sender, m)
	return nil
}

// MarkForwarded records that (sender, seq) was relayed. It returns false if
// this or a later sequence was already relayed.
func (t *Table) MarkForwarded(sender uint16, seq uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.peek(sender)
	if seq <= m.Forwarded {
		return false
	}
	m.Forwarded = seq
	t.lru.Add(sender, m)
	return true
}

func (t *Table) Get(sender uint16) (Mark, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.lru.Peek(sender)
	if !ok {
		return Mark{}, false
	}
	return v.(Mark), true
}

// Snapshot returns all marks, least recently updated first.
func (t *Table) Snapshot() []Mark {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := t.lru.Keys()
	out := make([]Mark, 0, len(keys))
	for _, k := range keys {
		if v, ok := t.lru.Peek(k); ok {
			out = append(out, v.(Mark))
		}
	}
	return out
}

// Load merges marks into the table, never lowering an existing mark.
func (t *Table) Load(marks []Mark) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, in := range marks {
		m := t.peek(in.Sender)
		if in.HighWater > m.HighWater {
			m.HighWater = in.HighWater
		}
		if in.Forwarded > m.Forwarded {
			m.Forwarded = in.Forwarded
		}
		t.lru.Add(in.Sender, m)
	}
}

func (t *Table) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{Entries: t.lru.Len(), Evictions: t.evictions}
}
