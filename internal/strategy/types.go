package strategy

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"signal-engine/pkg/exchanges/common"
)

var (
	// ErrInvalidPrice rejects signals whose price is non-positive or not a number.
	ErrInvalidPrice = errors.New("invalid price")
	// ErrInvalidSignal rejects signals with missing or unknown fields.
	ErrInvalidSignal = errors.New("invalid signal")
)

// Action is the direction a signal asks for.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Side maps the action onto an order side.
func (a Action) Side() common.Side {
	if a == ActionSell {
		return common.SideSell
	}
	return common.SideBuy
}

// Signal is an instruction to consider opening a position. It is never
// mutated once created.
type Signal struct {
	Strategy  string  `json:"strategy"`
	Action    Action  `json:"action"`
	Symbol    string  `json:"symbol"`
	Timeframe string  `json:"timeframe"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"` // ms since epoch
}

// ValidatePrice checks that p is a positive finite number.
func ValidatePrice(p float64) error {
	if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidPrice, p)
	}
	return nil
}

// Validate checks the fields the engine relies on.
func (s Signal) Validate() error {
	if s.Action != ActionBuy && s.Action != ActionSell {
		return fmt.Errorf("%w: action %q", ErrInvalidSignal, s.Action)
	}
	if strings.TrimSpace(s.Symbol) == "" {
		return fmt.Errorf("%w: symbol required", ErrInvalidSignal)
	}
	if strings.TrimSpace(s.Timeframe) == "" {
		return fmt.Errorf("%w: timeframe required", ErrInvalidSignal)
	}
	return ValidatePrice(s.Price)
}

// Normalize upper-cases the symbol and action.
func (s Signal) Normalize() Signal {
	s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
	s.Action = Action(strings.ToUpper(strings.TrimSpace(string(s.Action))))
	s.Timeframe = strings.TrimSpace(s.Timeframe)
	return s
}
