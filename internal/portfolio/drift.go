package portfolio

import (
	"sort"

	"livebridge/internal/schema"
)

// BrokerView is the state a broker reports for comparison.
type BrokerView struct {
	Cash      schema.Notional
	HasCash   bool
	Positions map[schema.SymbolID]schema.Quantity
}

// SymbolDrift is a per-symbol quantity mismatch.
type SymbolDrift struct {
	SymbolID schema.SymbolID
	Virtual  schema.Quantity
	Broker   schema.Quantity
}

// Delta is broker minus virtual.
func (d SymbolDrift) Delta() schema.Quantity {
	return d.Broker - d.Virtual
}

// DriftReport lists every mismatch between the ledger and a broker view.
type DriftReport struct {
	Symbols     []SymbolDrift
	CashVirtual schema.Notional
	CashBroker  schema.Notional
	CashChecked bool
}

// CashDelta is broker minus virtual cash, zero when cash was not checked.
func (r DriftReport) CashDelta() schema.Notional {
	if !r.CashChecked {
		return 0
	}
	return r.CashBroker - r.CashVirtual
}

// Clean reports whether nothing drifted.
func (r DriftReport) Clean(cashTolerance schema.Notional) bool {
	if len(r.Symbols) > 0 {
		return false
	}
	d := r.CashDelta()
	if d < 0 {
		d = -d
	}
	return d <= cashTolerance
}

// Records converts the report into journal records; the cash line uses SymbolID 0.
func (r DriftReport) Records(ts int64) []schema.DriftRecord {
	out := make([]schema.DriftRecord, 0, len(r.Symbols)+1)
	for _, d := range r.Symbols {
		out = append(out, schema.DriftRecord{SymbolID: d.SymbolID, Virtual: int64(d.Virtual), Broker: int64(d.Broker), TsEvent: ts})
	}
	if r.CashChecked && r.CashBroker != r.CashVirtual {
		out = append(out, schema.DriftRecord{Virtual: int64(r.CashVirtual), Broker: int64(r.CashBroker), TsEvent: ts})
	}
	return out
}

// Compare reports drift against a broker view. It never mutates the portfolio.
func (p *Portfolio) Compare(view BrokerView) DriftReport {
	snap := p.Snapshot()
	report := DriftReport{
		CashVirtual: snap.Cash,
		CashBroker:  view.Cash,
		CashChecked: view.HasCash,
	}
	seen := make(map[schema.SymbolID]struct{}, len(snap.Positions))
	for _, pos := range snap.Positions {
		seen[pos.SymbolID] = struct{}{}
		if broker := view.Positions[pos.SymbolID]; broker != pos.Qty {
			report.Symbols = append(report.Symbols, SymbolDrift{SymbolID: pos.SymbolID, Virtual: pos.Qty, Broker: broker})
		}
	}
	for sym, qty := range view.Positions {
		if _, ok := seen[sym]; ok || qty == 0 {
			continue
		}
		report.Symbols = append(report.Symbols, SymbolDrift{SymbolID: sym, Broker: qty})
	}
	sort.Slice(report.Symbols, func(i, j int) bool {
		return report.Symbols[i].SymbolID < report.Symbols[j].SymbolID
	})
	return report
}
