package schema

import (
	"fmt"
	"strings"
)

// Scale is the number of decimal places used by a scaled integer.
// Example: Scale=2 means the integer value is scaled by 1e2 (cents).
type Scale int32

// ScaleSpec defines scaling for the numeric fields of a symbol.
// Notional values carry PriceScale+QuantityScale decimal places.
type ScaleSpec struct {
	PriceScale    Scale `json:"priceScale" yaml:"price_scale"`
	QuantityScale Scale `json:"quantityScale" yaml:"quantity_scale"`
}

// NotionalScale returns the decimal places of price*qty products.
func (s ScaleSpec) NotionalScale() Scale {
	return s.PriceScale + s.QuantityScale
}

// VenueID is the numeric identifier for a venue.
type VenueID uint16

// SymbolID is the numeric identifier for a symbol. IDs start at 1; zero is
// reserved for the cash line of drift reports.
type SymbolID uint32

// Venue describes a trading venue or broker.
type Venue struct {
	ID   VenueID
	Name string
}

// Symbol describes a tradable instrument.
type Symbol struct {
	ID      SymbolID
	VenueID VenueID
	Name    string
	Scale   ScaleSpec
}

// Registry maps venue and symbol names to dense IDs. Names match case
// insensitively. It is built once at startup and only read afterwards, so it
// carries no lock.
type Registry struct {
	venues  []Venue
	symbols []Symbol
	byName  map[string]int
	venueOf map[string]VenueID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]int),
		venueOf: make(map[string]VenueID),
	}
}

func nameKey(name string) (string, error) {
	key := strings.ToUpper(strings.TrimSpace(name))
	if key == "" {
		return "", fmt.Errorf("name is empty")
	}
	if strings.ContainsAny(key, " \t\n") {
		return "", fmt.Errorf("name %q contains whitespace", name)
	}
	return key, nil
}

// AddVenue registers a new venue and returns its ID.
func (r *Registry) AddVenue(name string) (VenueID, error) {
	key, err := nameKey(name)
	if err != nil {
		return 0, fmt.Errorf("venue: %w", err)
	}
	if id, ok := r.venueOf[key]; ok {
		return id, fmt.Errorf("venue %s registered twice", name)
	}
	id := VenueID(len(r.venues) + 1)
	r.venues = append(r.venues, Venue{ID: id, Name: name})
	r.venueOf[key] = id
	return id, nil
}

// AddSymbol registers a new symbol on venueID and returns its ID.
func (r *Registry) AddSymbol(name string, venueID VenueID, scale ScaleSpec) (SymbolID, error) {
	key, err := nameKey(name)
	if err != nil {
		return 0, fmt.Errorf("symbol: %w", err)
	}
	if _, ok := r.Venue(venueID); !ok {
		return 0, fmt.Errorf("symbol %s: venue %d not registered", name, venueID)
	}
	if scale.PriceScale < 0 || scale.QuantityScale < 0 {
		return 0, fmt.Errorf("symbol %s: scale must be >= 0", name)
	}
	if idx, ok := r.byName[key]; ok {
		return r.symbols[idx].ID, fmt.Errorf("symbol %s registered twice", name)
	}
	r.byName[key] = len(r.symbols)
	sym := Symbol{ID: SymbolID(len(r.symbols) + 1), VenueID: venueID, Name: name, Scale: scale}
	r.symbols = append(r.symbols, sym)
	return sym.ID, nil
}

// Venue returns the venue by ID.
func (r *Registry) Venue(id VenueID) (Venue, bool) {
	if id == 0 || int(id) > len(r.venues) {
		return Venue{}, false
	}
	return r.venues[id-1], true
}

// Symbol returns the symbol by ID.
func (r *Registry) Symbol(id SymbolID) (Symbol, bool) {
	if id == 0 || int(id) > len(r.symbols) {
		return Symbol{}, false
	}
	return r.symbols[id-1], true
}

// Lookup returns the symbol registered under name.
func (r *Registry) Lookup(name string) (Symbol, bool) {
	key, err := nameKey(name)
	if err != nil {
		return Symbol{}, false
	}
	idx, ok := r.byName[key]
	if !ok {
		return Symbol{}, false
	}
	return r.symbols[idx], true
}

// Symbols returns a copy of all symbols ordered by ID.
func (r *Registry) Symbols() []Symbol {
	return append([]Symbol(nil), r.symbols...)
}

func (r *Registry) SymbolCount() int {
	return len(r.symbols)
}

// SymbolName returns the registered name, or "#<id>" for unknown IDs.
func (r *Registry) SymbolName(id SymbolID) string {
	if s, ok := r.Symbol(id); ok {
		return s.Name
	}
	return fmt.Sprintf("#%d", id)
}

func (r *Registry) VenueIDByName(name string) (VenueID, bool) {
	key, err := nameKey(name)
	if err != nil {
		return 0, false
	}
	id, ok := r.venueOf[key]
	return id, ok
}

func (r *Registry) SymbolIDByName(name string) (SymbolID, bool) {
	s, ok := r.Lookup(name)
	return s.ID, ok
}
