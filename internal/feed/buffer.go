package feed

import (
	"sort"
	"sync"
	"sync/atomic"

	"livebridge/internal/schema"
	"livebridge/pkg/exception"
)

// slot holds the in-progress bar of one symbol. Its mutex gives per-symbol
// exclusion so ticks of different symbols never contend.
type slot struct {
	mu      sync.Mutex
	bar     schema.Bar
	open    bool
	lastEnd int64
}

// BarBuffer maps symbol to in-progress bar. Only open bars count against the
// capacity; a sealed slot stays behind to hold the late-tick watermark.
type BarBuffer struct {
	mu       sync.RWMutex
	capacity int
	slots    map[schema.SymbolID]*slot
	open     atomic.Int64
}

// NewBarBuffer creates a buffer for at most capacity open bars. Zero means unbounded.
func NewBarBuffer(capacity int) *BarBuffer {
	return &BarBuffer{
		capacity: capacity,
		slots:    make(map[schema.SymbolID]*slot),
	}
}

func (b *BarBuffer) get(symbol schema.SymbolID) *slot {
	b.mu.RLock()
	s, ok := b.slots[symbol]
	b.mu.RUnlock()
	if ok {
		return s
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.slots[symbol]; ok {
		return s
	}
	s = &slot{}
	b.slots[symbol] = s
	return s
}

// reserve claims room for one open bar.
func (b *BarBuffer) reserve() error {
	for {
		n := b.open.Load()
		if b.capacity > 0 && n >= int64(b.capacity) {
			return exception.ErrBarBufferFull
		}
		if b.open.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// release returns the room of a sealed or dropped bar.
func (b *BarBuffer) release() {
	b.open.Add(-1)
}

func (b *BarBuffer) lookup(symbol schema.SymbolID) (*slot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.slots[symbol]
	return s, ok
}

// symbols returns the tracked symbols in ascending order.
func (b *BarBuffer) symbols() []schema.SymbolID {
	b.mu.RLock()
	out := make([]schema.SymbolID, 0, len(b.slots))
	for id := range b.slots {
		out = append(out, id)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of open bars.
func (b *BarBuffer) Len() int {
	return int(b.open.Load())
}

// Capacity returns the open bar limit, zero when unbounded.
func (b *BarBuffer) Capacity() int {
	return b.capacity
}
