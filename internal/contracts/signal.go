package contracts

import "time"

// Side represents the direction of a trading signal.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Signal is a trade intent arriving from the strategy side, carrying
// the statistics the position sizer needs. The engine never places the
// resulting order itself; the sizing result goes back to the execution
// collaborator as an order intent.
type Signal struct {
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Price      float64   `json:"price"`      // proposed entry price
	Strength   float64   `json:"strength"`   // 0.0 - 1.0
	Volatility float64   `json:"volatility"` // annualized vol of the asset
	WinRate    float64   `json:"win_rate"`   // for Kelly sizing
	AvgWin     float64   `json:"avg_win"`    // average winning return
	AvgLoss    float64   `json:"avg_loss"`   // average losing return, positive
	CreatedAt  time.Time `json:"created_at"`
}

// OrderIntent is what the sizer hands to the execution collaborator.
type OrderIntent struct {
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	RiskAmount float64   `json:"risk_amount"`
	CreatedAt  time.Time `json:"created_at"`
}
