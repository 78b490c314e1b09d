package filter

import (
	"context"
	"errors"

	"signal-engine/internal/market"
	"signal-engine/internal/strategy"
)

// ErrDecisionTimeout is returned by a Reasoner that did not answer in time.
var ErrDecisionTimeout = errors.New("ai decision timeout")

// Stage names used in ProcessResult and statistics.
const (
	StageGlobal = "global"
	StageLocal  = "local"
	StageAI     = "ai"
)

// Outcome is the result of a single filter stage.
type Outcome struct {
	Passed  bool           `json:"passed"`
	Skipped bool           `json:"skipped,omitempty"`
	Reason  string         `json:"reason"`
	Details map[string]any `json:"details,omitempty"`
}

func pass(reason string, details map[string]any) Outcome {
	return Outcome{Passed: true, Reason: reason, Details: details}
}

func reject(reason string, details map[string]any) Outcome {
	return Outcome{Reason: reason, Details: details}
}

func skipped() Outcome {
	return Outcome{Skipped: true, Reason: "skipped"}
}

// Results keeps every stage outcome, including skipped ones.
type Results struct {
	Global Outcome `json:"global"`
	Local  Outcome `json:"local"`
	AI     Outcome `json:"ai"`
}

// ProcessResult is the terminal verdict on a signal.
type ProcessResult struct {
	Signal           strategy.Signal `json:"signal"`
	Approved         bool            `json:"approved"`
	Reason           string          `json:"reason"`
	FilterResults    Results         `json:"filterResults"`
	ProcessingTimeMs int64           `json:"processingTimeMs"`
}

// Evaluator is what the engine and the backtest depend on.
type Evaluator interface {
	Evaluate(ctx context.Context, sig strategy.Signal, src market.Source) ProcessResult
}
