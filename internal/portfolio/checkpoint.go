package portfolio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"livebridge/internal/schema"
)

// Checkpoint is the persisted form of a portfolio.
type Checkpoint struct {
	Timestamp int64           `json:"timestamp"`
	LastSeq   uint64          `json:"lastSeq"`
	Cash      schema.Notional `json:"cash"`
	Fees      schema.Notional `json:"fees"`
	UpdatedAt int64           `json:"updatedAt"`
	Positions []Position      `json:"positions"`
	FillIDs   []uint64        `json:"fillIds"`
}

// Checkpoint captures the ledger along with the applied fill IDs.
func (p *Portfolio) Checkpoint(lastSeq uint64) Checkpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()

	cp := Checkpoint{
		Timestamp: time.Now().UTC().UnixNano(),
		LastSeq:   lastSeq,
		Cash:      p.cash,
		Fees:      p.fees,
		UpdatedAt: p.updatedAt,
		Positions: make([]Position, 0, len(p.positions)),
		FillIDs:   make([]uint64, 0, len(p.seen)),
	}
	for _, pos := range p.positions {
		cp.Positions = append(cp.Positions, *pos)
	}
	for id := range p.seen {
		cp.FillIDs = append(cp.FillIDs, id)
	}
	sort.Slice(cp.Positions, func(i, j int) bool { return cp.Positions[i].SymbolID < cp.Positions[j].SymbolID })
	sort.Slice(cp.FillIDs, func(i, j int) bool { return cp.FillIDs[i] < cp.FillIDs[j] })
	return cp
}

// Restore rebuilds a portfolio from a checkpoint.
func Restore(cp Checkpoint) *Portfolio {
	p := New(cp.Cash)
	p.fees = cp.Fees
	p.updatedAt = cp.UpdatedAt
	for _, pos := range cp.Positions {
		pos := pos
		p.positions[pos.SymbolID] = &pos
	}
	for _, id := range cp.FillIDs {
		p.seen[id] = struct{}{}
	}
	return p
}

// WriteCheckpoint writes a checkpoint to disk as JSON.
func WriteCheckpoint(path string, cp Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadCheckpoint loads a checkpoint from disk.
func ReadCheckpoint(path string) (Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Checkpoint{}, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return cp, nil
}

// CompareCheckpoints checks that two checkpoints hold the same ledger.
func CompareCheckpoints(expected, actual Checkpoint) error {
	if expected.Cash != actual.Cash {
		return fmt.Errorf("checkpoint cash mismatch: expected=%d actual=%d", expected.Cash, actual.Cash)
	}
	if len(expected.Positions) != len(actual.Positions) {
		return fmt.Errorf("checkpoint length mismatch: expected=%d actual=%d", len(expected.Positions), len(actual.Positions))
	}
	want := make(map[schema.SymbolID]Position, len(expected.Positions))
	for _, pos := range expected.Positions {
		want[pos.SymbolID] = pos
	}
	for _, pos := range actual.Positions {
		w, ok := want[pos.SymbolID]
		if !ok {
			return fmt.Errorf("checkpoint missing symbol: %d", pos.SymbolID)
		}
		if w.Qty != pos.Qty || w.Cost != pos.Cost || w.Realized != pos.Realized {
			return fmt.Errorf("checkpoint position mismatch: symbol=%d expected=%d@%d actual=%d@%d",
				pos.SymbolID, w.Qty, w.Cost, pos.Qty, pos.Cost)
		}
	}
	return nil
}
