// Package agent provides the high-level Agent type and event system.
package agent

import (
	"time"

	"github.com/hashline-dev/agent/pkg/ai"
	"github.com/hashline-dev/agent/pkg/tools"
)

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// EventType identifies an agent lifecycle event.
type EventType string

const (
	// Lifecycle
	EventAgentStart EventType = "agent_start"
	EventAgentEnd   EventType = "agent_end"

	// Turn = one assistant response + any resulting tool calls/results
	EventTurnStart EventType = "turn_start"
	EventTurnEnd   EventType = "turn_end"

	// Message lifecycle
	EventMessageStart  EventType = "message_start"
	EventMessageUpdate EventType = "message_update"
	EventMessageEnd    EventType = "message_end"

	// Tool execution
	EventToolStart  EventType = "tool_start"
	EventToolUpdate EventType = "tool_update"
	EventToolEnd    EventType = "tool_end"

	// Compaction
	EventCompaction EventType = "compaction"

	// A tool call was denied or aborted by the confirmation hook.
	EventToolDenied EventType = "tool_denied"

	// A transient provider error is being retried with backoff.
	EventRetry EventType = "retry"

	// Turn limit reached — loop stopped before the LLM finished naturally.
	// Also emitted when the MaxCostUSD budget guard stops the loop.
	EventTurnLimitReached EventType = "turn_limit_reached"
)

// ContextUsage carries a snapshot of estimated context token usage after a turn.
type ContextUsage struct {
	// Estimated total tokens in the current context window.
	Tokens int
	// Tokens reported by the last assistant message's usage object.
	UsageTokens int
	// Estimated tokens added after the last usage report (tool results, etc.)
	TrailingTokens int
}

// CompactionEvent describes a completed context compaction.
type CompactionEvent struct {
	Summary         string
	MessagesRemoved int
	MessagesKept    int
	TokensBefore    int
	TokensAfter     int
}

// Event carries a lifecycle notification from the agent loop.
type Event struct {
	Type EventType

	// Set for message_* events
	Message ai.Message

	// Set for message_update
	StreamEvent *ai.StreamEvent

	// Set for turn_end
	ToolResults  []ai.ToolResultMessage
	ContextUsage ContextUsage  // estimated context token usage after this turn
	CostUsage    CostUsage     // cumulative cost after this turn
	TurnDuration time.Duration // wall time of the turn

	// Set for retry events
	RetryAttempt int
	RetryError   error
	RetryDelay   time.Duration

	// Set for compaction events
	Compaction *CompactionEvent

	// Set for tool_* events
	ToolCallID string
	ToolName   string
	ToolArgs   map[string]any
	ToolResult *tools.Result
	IsError    bool

	// Set for agent_end
	NewMessages []ai.Message
}

// ---------------------------------------------------------------------------
// State
// ---------------------------------------------------------------------------

// State is the observable state of the agent (read-only snapshot).
type State struct {
	SystemPrompt     string
	Model            string
	Provider         string
	Messages         []ai.Message
	IsStreaming      bool
	PendingToolCalls map[string]bool // callID → in-flight
	Error            string
	ContextTokens    int       // estimated context size after the last turn
	CumulativeCost   CostUsage // lifetime USD cost and token totals
}

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

// Config holds everything needed to run the agent loop for one call.
type Config struct {
	// ConvertToLLM transforms the agent message history to the slice that gets
	// sent to the LLM. Default: keep only user/assistant/toolResult messages.
	ConvertToLLM func([]ai.Message) ([]ai.Message, error)

	// TransformContext optionally prunes / enriches messages before ConvertToLLM.
	TransformContext func([]ai.Message) ([]ai.Message, error)

	// GetAPIKey returns the API key for the named provider (for dynamic/expiring keys).
	GetAPIKey func(provider string) (string, error)

	// GetSteeringMessages returns interruption messages to inject between tool calls.
	// Return nil/empty to continue normally.
	GetSteeringMessages func() ([]ai.Message, error)

	// GetFollowUpMessages returns follow-up messages after the agent would otherwise stop.
	GetFollowUpMessages func() ([]ai.Message, error)

	// StreamOptions passed to the provider.
	StreamOptions ai.StreamOptions

	// MaxTurns is the maximum number of LLM calls (turns) per Run.
	// Each turn = one assistant response + its tool calls.
	// 0 means unlimited (default). When the limit is hit the loop stops
	// and an EventTurnLimitReached event is broadcast.
	MaxTurns int

	// MaxCostUSD stops the loop once cumulative cost reaches this budget.
	// 0 means no budget cap.
	MaxCostUSD float64

	// MaxRetries is how many times a transient provider error is retried
	// with exponential backoff. 0 = no retries.
	MaxRetries int

	// RetryBaseDelay is the first backoff delay (doubled per attempt,
	// capped at one minute). 0 = one second.
	RetryBaseDelay time.Duration

	// MaxToolConcurrency caps parallel tool execution per turn.
	// Values <= 1 run tools sequentially.
	MaxToolConcurrency int

	// ToolTimeout bounds a single tool execution. 0 = no timeout.
	ToolTimeout time.Duration

	// ConfirmToolCall is consulted before each tool call. nil approves
	// everything; see AutoApproveAll, ConfirmDeny, ConfirmAbort.
	ConfirmToolCall func(name string, args map[string]any) (ConfirmResult, error)

	// OnMetrics receives per-turn latency/token/cost metrics.
	OnMetrics func(TurnMetrics)
}

// DefaultMaxTurns is the Config.MaxTurns value meaning unlimited (0).
// Nothing in this module reads it; the CLI takes max_turns from its config file.
const DefaultMaxTurns = 0
