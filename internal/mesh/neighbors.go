package mesh

import (
	"sort"
	"sync"
	"time"

	"github.com/arx-os/arxlink/internal/protocol"
)

const (
	DefaultNeighborCapacity = 64
	DefaultNeighborTimeout  = 10 * time.Minute
)

// Neighbor is a node heard on the mesh, directly or through relays.
type Neighbor struct {
	ID       uint16
	LastSeen time.Time
	Frames   uint64
	// Hops is the remaining hop count of the last frame heard. The highest
	// value seen marks the closest path.
	Hops     uint8
	Announce *protocol.Announce
}

// NeighborTable is bounded; when full the entry heard longest ago is
// replaced. Expired entries are pruned on read.
type NeighborTable struct {
	mu        sync.Mutex
	neighbors map[uint16]*Neighbor
	capacity  int
	timeout   time.Duration
}

func NewNeighborTable(capacity int, timeout time.Duration) *NeighborTable {
	if capacity <= 0 {
		capacity = DefaultNeighborCapacity
	}
	if timeout <= 0 {
		timeout = DefaultNeighborTimeout
	}
	return &NeighborTable{
		neighbors: make(map[uint16]*Neighbor),
		capacity:  capacity,
		timeout:   timeout,
	}
}

// Heard records a frame from id.
func (nt *NeighborTable) Heard(id uint16, hops uint8, now time.Time) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	n := nt.entry(id, now)
	n.LastSeen = now
	n.Frames++
	n.Hops = hops
}

// Announced attaches the latest announce from id.
func (nt *NeighborTable) Announced(id uint16, a protocol.Announce, now time.Time) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	n := nt.entry(id, now)
	n.LastSeen = now
	n.Announce = &a
}

func (nt *NeighborTable) entry(id uint16, now time.Time) *Neighbor {
	if n, ok := nt.neighbors[id]; ok {
		return n
	}
	if len(nt.neighbors) >= nt.capacity {
		var oldest *Neighbor
		for _, n := range nt.neighbors {
			if oldest == nil || n.LastSeen.Before(oldest.LastSeen) {
				oldest = n
			}
		}
		delete(nt.neighbors, oldest.ID)
	}
	n := &Neighbor{ID: id, LastSeen: now}
	nt.neighbors[id] = n
	return n
}

// Active returns unexpired neighbors ordered by id, dropping expired ones.
func (nt *NeighborTable) Active(now time.Time) []Neighbor {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	out := make([]Neighbor, 0, len(nt.neighbors))
	for id, n := range nt.neighbors {
		if now.Sub(n.LastSeen) >= nt.timeout {
			delete(nt.neighbors, id)
			continue
		}
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (nt *NeighborTable) Count(now time.Time) int {
	return len(nt.Active(now))
}
