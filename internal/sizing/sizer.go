package sizing

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/wonny/vigil/internal/contracts"
	"github.com/wonny/vigil/internal/riskconfig"
)

// ErrInvalidSizingInput is returned for inputs no policy can size:
// non-positive portfolio value, price, or volatility where a policy
// needs one. The sizer mutates nothing on failure.
var ErrInvalidSizingInput = errors.New("invalid sizing input")

// Result is a sizing proposal. It is handed to the execution
// collaborator as an order intent, never placed directly.
type Result struct {
	Symbol     string                  `json:"symbol"`
	Side       contracts.Side          `json:"side"`
	Method     riskconfig.SizingMethod `json:"method"`
	Quantity   float64                 `json:"quantity"`
	EntryPrice float64                 `json:"entry_price"`
	RiskAmount float64                 `json:"risk_amount"`
	StopLoss   float64                 `json:"stop_loss"`
	TakeProfit float64                 `json:"take_profit"`

	// Clamped is set when a portfolio-level limit cut the policy's raw
	// proposal down.
	Clamped bool `json:"clamped"`
}

// ToIntent converts the proposal into an order intent for the
// execution collaborator.
func (r *Result) ToIntent(now time.Time) *contracts.OrderIntent {
	return &contracts.OrderIntent{
		Symbol:     r.Symbol,
		Side:       r.Side,
		Quantity:   r.Quantity,
		EntryPrice: r.EntryPrice,
		StopLoss:   r.StopLoss,
		TakeProfit: r.TakeProfit,
		RiskAmount: r.RiskAmount,
		CreatedAt:  now,
	}
}

// Input bundles what one sizing call needs. AssetVolatility carries
// annualized volatilities for the risk parity sleeve; other policies
// use the signal's own volatility.
type Input struct {
	Signal          *contracts.Signal
	Portfolio       *contracts.Portfolio
	AssetVolatility map[string]float64
}

// Sizer proposes position sizes under the configured policy. It is a
// pure calculator: no I/O, no retained state between calls.
type Sizer struct {
	cfg *riskconfig.Config
}

func NewSizer(cfg *riskconfig.Config) *Sizer {
	return &Sizer{cfg: cfg}
}

// Size runs the configured policy and applies the portfolio-level
// limits as a final clamp. Policy output never overrides limits.
func (s *Sizer) Size(in Input) (*Result, error) {
	if in.Signal == nil || in.Portfolio == nil {
		return nil, fmt.Errorf("%w: nil signal or portfolio", ErrInvalidSizingInput)
	}

	value := in.Portfolio.TotalValue()
	if value <= 0 {
		return nil, fmt.Errorf("%w: portfolio value %.2f", ErrInvalidSizingInput, value)
	}
	if in.Signal.Price <= 0 {
		return nil, fmt.Errorf("%w: price %.4f for %s", ErrInvalidSizingInput, in.Signal.Price, in.Signal.Symbol)
	}

	ps := s.cfg.PositionSizing

	var targetValue float64
	var err error
	switch ps.Method {
	case riskconfig.SizingEqualWeight:
		targetValue, err = s.equalWeight(value)
	case riskconfig.SizingVolatilityTarget:
		targetValue, err = s.volatilityTarget(in.Signal, value)
	case riskconfig.SizingKelly:
		targetValue, err = s.kelly(in.Signal, value)
	case riskconfig.SizingRiskParity:
		targetValue, err = s.riskParity(in, value)
	case riskconfig.SizingFixedNotional:
		targetValue = ps.FixedNotional.Notional * ps.FixedNotional.ScalingFactor
	default:
		return nil, fmt.Errorf("%w: unknown method %q", ErrInvalidSizingInput, ps.Method)
	}
	if err != nil {
		return nil, err
	}

	clampedValue := s.clamp(in, value, targetValue)

	result := &Result{
		Symbol:     in.Signal.Symbol,
		Side:       in.Signal.Side,
		Method:     ps.Method,
		EntryPrice: in.Signal.Price,
		Quantity:   clampedValue / in.Signal.Price,
		Clamped:    clampedValue < targetValue,
	}

	s.applyStops(result, value)
	return result, nil
}

// =============================================================================
// Policies
// =============================================================================

func (s *Sizer) equalWeight(portfolioValue float64) (float64, error) {
	count := s.cfg.PositionSizing.EqualWeight.TargetPositionCount
	if count <= 0 {
		return 0, fmt.Errorf("%w: target_position_count %d", ErrInvalidSizingInput, count)
	}

	fraction := 1.0 / float64(count)
	limits := s.cfg.RiskLimits.Position
	if fraction < limits.MinPositionSize {
		fraction = limits.MinPositionSize
	}
	if fraction > limits.MaxPositionSize {
		fraction = limits.MaxPositionSize
	}
	return fraction * portfolioValue, nil
}

func (s *Sizer) volatilityTarget(signal *contracts.Signal, portfolioValue float64) (float64, error) {
	if signal.Volatility <= 0 {
		return 0, fmt.Errorf("%w: volatility %.4f for %s", ErrInvalidSizingInput, signal.Volatility, signal.Symbol)
	}

	target := s.cfg.PositionSizing.VolatilityTarget.TargetVolatility
	raw := target / signal.Volatility * portfolioValue

	// Leverage cap belongs to this policy as well as the final clamp:
	// a near-zero-vol asset must not propose unbounded notional.
	maxValue := s.cfg.RiskLimits.Portfolio.MaxLeverage * portfolioValue
	if raw > maxValue {
		raw = maxValue
	}
	return raw, nil
}

func (s *Sizer) kelly(signal *contracts.Signal, portfolioValue float64) (float64, error) {
	if signal.AvgWin <= 0 {
		return 0, fmt.Errorf("%w: avg_win %.4f for %s", ErrInvalidSizingInput, signal.AvgWin, signal.Symbol)
	}
	if signal.WinRate < 0 || signal.WinRate > 1 {
		return 0, fmt.Errorf("%w: win_rate %.4f for %s", ErrInvalidSizingInput, signal.WinRate, signal.Symbol)
	}

	lossRate := 1 - signal.WinRate
	fStar := (signal.WinRate*signal.AvgWin - lossRate*signal.AvgLoss) / signal.AvgWin

	kelly := s.cfg.PositionSizing.Kelly
	f := kelly.Fraction * fStar

	// A negative Kelly fraction means the edge points the other way.
	// Without the explicit short enable, size to zero instead of
	// flipping direction behind the caller's back.
	if f < 0 && !kelly.AllowShort {
		f = 0
	}
	return math.Abs(f) * portfolioValue, nil
}

func (s *Sizer) riskParity(in Input, portfolioValue float64) (float64, error) {
	if in.Signal.Volatility <= 0 {
		return 0, fmt.Errorf("%w: volatility %.4f for %s", ErrInvalidSizingInput, in.Signal.Volatility, in.Signal.Symbol)
	}

	// The sleeve is the configured symbol list, or the current book
	// plus the new symbol when none is configured.
	sleeve := s.cfg.PositionSizing.RiskParity.SleeveSymbols
	if len(sleeve) == 0 {
		sleeve = append(in.Portfolio.Symbols(), in.Signal.Symbol)
	}

	var invVolSum float64
	for _, sym := range sleeve {
		vol := in.AssetVolatility[sym]
		if sym == in.Signal.Symbol {
			vol = in.Signal.Volatility
		}
		if vol <= 0 {
			return 0, fmt.Errorf("%w: volatility %.4f for sleeve symbol %s", ErrInvalidSizingInput, vol, sym)
		}
		invVolSum += 1 / vol
	}
	if invVolSum == 0 {
		return 0, fmt.Errorf("%w: empty risk parity sleeve", ErrInvalidSizingInput)
	}

	weight := (1 / in.Signal.Volatility) / invVolSum
	return weight * portfolioValue, nil
}

// =============================================================================
// Portfolio-level clamp
// =============================================================================

// clamp cuts the policy's proposal to whatever headroom the portfolio
// limits leave. It can reach zero; it never goes negative.
func (s *Sizer) clamp(in Input, portfolioValue, targetValue float64) float64 {
	if targetValue <= 0 {
		return 0
	}
	limits := s.cfg.RiskLimits

	capped := targetValue

	if maxValue := limits.Position.MaxPositionSize * portfolioValue; capped > maxValue {
		capped = maxValue
	}

	// Concentration counts any existing exposure in the same symbol.
	var existing float64
	if pos, ok := in.Portfolio.GetPosition(in.Signal.Symbol); ok {
		existing = pos.Exposure()
	}
	if headroom := limits.Position.MaxConcentration*portfolioValue - existing; capped > headroom {
		capped = headroom
	}

	// Leverage headroom over the whole book.
	if headroom := limits.Portfolio.MaxLeverage*portfolioValue - in.Portfolio.GrossExposure(); capped > headroom {
		capped = headroom
	}

	if capped < 0 {
		return 0
	}
	return capped
}

// applyStops derives stop-loss and take-profit from the configured
// risk tolerance: risk_amount / quantity is the entry-to-stop price
// distance.
func (s *Sizer) applyStops(r *Result, portfolioValue float64) {
	if r.Quantity <= 0 {
		r.Quantity = 0
		return
	}

	ps := s.cfg.PositionSizing
	r.RiskAmount = ps.RiskTolerance * portfolioValue

	dist := r.RiskAmount / r.Quantity
	if dist >= r.EntryPrice {
		// A stop below zero is meaningless; bound the risk at the
		// full entry price instead.
		dist = r.EntryPrice
		r.RiskAmount = dist * r.Quantity
	}

	if r.Side == contracts.SideSell {
		r.StopLoss = r.EntryPrice + dist
		r.TakeProfit = r.EntryPrice - dist*ps.TakeProfitRatio
		if r.TakeProfit < 0 {
			r.TakeProfit = 0
		}
	} else {
		r.StopLoss = r.EntryPrice - dist
		r.TakeProfit = r.EntryPrice + dist*ps.TakeProfitRatio
	}
}
