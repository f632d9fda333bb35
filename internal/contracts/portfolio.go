package contracts

import "time"

// Position is a single holding as reported by the execution collaborator.
// Positions are only mutated by the execution side; the engine works on
// immutable snapshots taken once per evaluation cycle.
type Position struct {
	Symbol       string  `json:"symbol"`
	Quantity     float64 `json:"quantity"` // signed: negative = short
	EntryPrice   float64 `json:"entry_price"`
	CurrentPrice float64 `json:"current_price"`
	Sector       string  `json:"sector"`
	AssetClass   string  `json:"asset_class"`
}

// MarketValue returns the signed market value of the position.
func (p *Position) MarketValue() float64 {
	return p.Quantity * p.CurrentPrice
}

// Exposure returns the absolute market value of the position.
func (p *Position) Exposure() float64 {
	v := p.MarketValue()
	if v < 0 {
		return -v
	}
	return v
}

// UnrealizedPnL returns the open profit or loss of the position.
func (p *Position) UnrealizedPnL() float64 {
	return p.Quantity * (p.CurrentPrice - p.EntryPrice)
}

// Portfolio is the read-only portfolio snapshot the engine computes on.
// Positions are ordered and unique by symbol.
type Portfolio struct {
	AsOf      time.Time  `json:"as_of"`
	Positions []Position `json:"positions"`
	Cash      float64    `json:"cash"`
}

// TotalValue returns cash plus the signed market value of all positions.
func (p *Portfolio) TotalValue() float64 {
	total := p.Cash
	for i := range p.Positions {
		total += p.Positions[i].MarketValue()
	}
	return total
}

// GrossExposure returns the sum of absolute position values.
func (p *Portfolio) GrossExposure() float64 {
	total := 0.0
	for i := range p.Positions {
		total += p.Positions[i].Exposure()
	}
	return total
}

// Leverage returns gross exposure over total value. Zero-value
// portfolios report zero leverage rather than dividing by zero.
func (p *Portfolio) Leverage() float64 {
	value := p.TotalValue()
	if value <= 0 {
		return 0
	}
	return p.GrossExposure() / value
}

// Weights returns each symbol's share of total portfolio value. Weights
// are signed for short positions.
func (p *Portfolio) Weights() map[string]float64 {
	value := p.TotalValue()
	weights := make(map[string]float64, len(p.Positions))
	if value <= 0 {
		return weights
	}
	for i := range p.Positions {
		weights[p.Positions[i].Symbol] = p.Positions[i].MarketValue() / value
	}
	return weights
}

// Symbols returns held symbols in position order.
func (p *Portfolio) Symbols() []string {
	symbols := make([]string, len(p.Positions))
	for i := range p.Positions {
		symbols[i] = p.Positions[i].Symbol
	}
	return symbols
}

// GetPosition finds a position by symbol.
func (p *Portfolio) GetPosition(symbol string) (*Position, bool) {
	for i := range p.Positions {
		if p.Positions[i].Symbol == symbol {
			return &p.Positions[i], true
		}
	}
	return nil, false
}

// SectorExposures returns absolute exposure per sector as a fraction of
// total value.
func (p *Portfolio) SectorExposures() map[string]float64 {
	value := p.TotalValue()
	out := make(map[string]float64)
	if value <= 0 {
		return out
	}
	for i := range p.Positions {
		out[p.Positions[i].Sector] += p.Positions[i].Exposure() / value
	}
	return out
}

// Clone returns a deep copy so callers can hold a snapshot while the
// feed keeps updating its own copy.
func (p *Portfolio) Clone() *Portfolio {
	cp := &Portfolio{
		AsOf:      p.AsOf,
		Cash:      p.Cash,
		Positions: make([]Position, len(p.Positions)),
	}
	copy(cp.Positions, p.Positions)
	return cp
}
