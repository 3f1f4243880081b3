package og

import (
	"sync/atomic"
	"time"
)

// IDGenerator hands out monotonically increasing client order IDs.
type IDGenerator struct {
	next atomic.Uint64
}

// NewIDGenerator returns a generator starting after seed. A zero seed uses the
// wall clock so IDs from separate sessions do not collide.
func NewIDGenerator(seed uint64) *IDGenerator {
	if seed == 0 {
		seed = uint64(time.Now().UTC().UnixNano())
	}
	g := &IDGenerator{}
	g.next.Store(seed)
	return g
}

// Next returns the next ID.
func (g *IDGenerator) Next() uint64 {
	return g.next.Add(1)
}
