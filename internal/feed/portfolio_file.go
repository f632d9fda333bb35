package feed

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/wonny/vigil/internal/contracts"
)

// LoadPortfolioFile reads the initial portfolio from a JSON file. The
// feed keeps prices current afterwards; the file is only the starting
// book.
func LoadPortfolioFile(path string) (*contracts.Portfolio, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read portfolio file: %w", err)
	}

	var p contracts.Portfolio
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse portfolio file: %w", err)
	}

	for i := range p.Positions {
		pos := &p.Positions[i]
		if pos.Symbol == "" {
			return nil, fmt.Errorf("position %d has no symbol", i)
		}
		if pos.CurrentPrice <= 0 {
			return nil, fmt.Errorf("position %s has no current price", pos.Symbol)
		}
	}
	if p.AsOf.IsZero() {
		p.AsOf = time.Now()
	}
	return &p, nil
}
