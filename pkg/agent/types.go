package agent

import (
	"strings"

	"github.com/yann0001/mini-agent/pkg/registry"
)

// Role values used in conversation messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Message is one conversation turn. Assistant turns may carry tool calls and
// extended thinking; tool turns carry the id of the call they answer. The
// thinking signature is kept alongside the text so the turn can be replayed
// to providers that verify it.
type Message struct {
	Role              string     `json:"role"`
	Content           string     `json:"content"`
	Thinking          string     `json:"thinking,omitempty"`
	ThinkingSignature string     `json:"thinking_signature,omitempty"`
	ToolCalls         []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID        string     `json:"tool_call_id,omitempty"`
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates usage from a single model response.
func (u *TokenUsage) Add(other *TokenUsage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Stats is the running tally for one agent loop. It survives aborts and is
// reset only by Clear.
type Stats struct {
	Steps     int        `json:"steps"`
	ToolCalls int        `json:"tool_calls"`
	Usage     TokenUsage `json:"usage"`
}

// State is the agent loop's position in its run state machine.
type State int

const (
	StateIdle State = iota
	StateAwaitingModel
	StateDispatchingTools
	StateDone
	StateAborted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingModel:
		return "awaiting_model"
	case StateDispatchingTools:
		return "dispatching_tools"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Request is the payload for a single model call.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []registry.Descriptor
	MaxTokens    int
	Temperature  float64
}

// Response is a single model decision: either a final answer (no tool calls)
// or an ordered list of tool call requests.
type Response struct {
	Content           string
	Thinking          string
	ThinkingSignature string
	ToolCalls         []ToolCall
	FinishReason      string
	Usage             *TokenUsage
}

// RunResult is the outcome of one Run invocation.
type RunResult struct {
	RunID    string `json:"run_id"`
	Response string `json:"response"`
	State    State  `json:"state"`
	Reason   string `json:"reason,omitempty"`
	Stats    Stats  `json:"stats"`
}

// IsRetryableError reports whether a model call failure is worth retrying.
// Permanent failures (auth, malformed request) go straight to Aborted.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()

	// Network errors
	if strings.Contains(msg, "connection reset") || strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "ECONNRESET") || strings.Contains(msg, "ETIMEDOUT") {
		return true
	}

	// Rate limits
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return true
	}

	// Server errors
	for _, code := range []string{"500", "502", "503", "504"} {
		if strings.Contains(msg, code) {
			return true
		}
	}

	return false
}
