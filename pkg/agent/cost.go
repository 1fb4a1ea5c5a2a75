// Package agent — per-turn cost accounting, confirmation hooks, and turn
// metrics. These hang off the loop: the budget guard reads cumulative cost
// before each turn, the confirmation hook runs before each tool call, and
// OnMetrics fires after each turn.
package agent

import (
	"log/slog"
	"os"
	"time"

	"github.com/hashline-dev/agent/pkg/ai"
	"github.com/hashline-dev/agent/pkg/ai/models"
)

const defaultRetryBaseDelay = time.Second

// ---------------------------------------------------------------------------
// Tool-call confirmation
// ---------------------------------------------------------------------------

// ConfirmResult is the decision returned by a ConfirmToolCall hook.
type ConfirmResult int

const (
	// ConfirmAllow runs the tool call.
	ConfirmAllow ConfirmResult = iota
	// ConfirmDeny skips this tool call and feeds the model a denial result.
	ConfirmDeny
	// ConfirmAbort stops the whole loop with an error.
	ConfirmAbort
)

// AutoApproveAll is a ConfirmToolCall hook that approves everything.
// Equivalent to leaving the hook nil; exported so intent is explicit in
// config wiring.
func AutoApproveAll(string, map[string]any) (ConfirmResult, error) {
	return ConfirmAllow, nil
}

// ---------------------------------------------------------------------------
// Cost accounting
// ---------------------------------------------------------------------------

// CostUsage accumulates token counts and USD cost across turns.
type CostUsage struct {
	InputTokens  int
	OutputTokens int
	InputCost    float64
	OutputCost   float64
	TotalCost    float64
}

// computeTurnCost prices one turn's usage with the model registry. Unknown
// models cost zero — the counts still accumulate.
func computeTurnCost(model string, usage ai.Usage) CostUsage {
	cost := CostUsage{
		InputTokens:  usage.Input,
		OutputTokens: usage.Output,
	}
	info := models.Lookup(model)
	if info == nil {
		return cost
	}
	cost.InputCost = float64(usage.Input) / 1e6 * info.InputCostPer1M
	cost.OutputCost = float64(usage.Output) / 1e6 * info.OutputCostPer1M
	cost.TotalCost = cost.InputCost + cost.OutputCost +
		float64(usage.CacheRead)/1e6*info.CacheReadCostPer1M +
		float64(usage.CacheWrite)/1e6*info.CacheWriteCostPer1M
	return cost
}

// ---------------------------------------------------------------------------
// Turn metrics
// ---------------------------------------------------------------------------

// TurnMetrics is handed to Config.OnMetrics after every turn.
type TurnMetrics struct {
	TurnNumber       int
	ProviderLatency  time.Duration
	ToolDurations    map[string]time.Duration
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheWriteTokens int
	TotalCost        float64
}

// ---------------------------------------------------------------------------
// Logging
// ---------------------------------------------------------------------------

// defaultLogger is the fallback structured logger: text to stderr at Info.
func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
