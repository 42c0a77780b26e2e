package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/yann0001/mini-agent/pkg/registry"
	"github.com/yann0001/mini-agent/pkg/transcript"
)

// Config configures an agent loop.
type Config struct {
	Model        string  `json:"model"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	MaxSteps     int     `json:"max_steps,omitempty"`
	MaxRetries   int     `json:"max_retries,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`

	// ParallelTools bounds how many tool calls from one model turn run
	// concurrently.
	ParallelTools int `json:"parallel_tools,omitempty"`

	// SessionKey selects the transcript file when a transcript manager is
	// configured.
	SessionKey string `json:"session_key,omitempty"`
}

// DefaultConfig returns default loop configuration.
func DefaultConfig() Config {
	return Config{
		Model:         "claude-sonnet-4-20250514",
		MaxSteps:      20,
		MaxRetries:    3,
		MaxTokens:     16384,
		ParallelTools: 4,
	}
}

// Loop drives one conversation to completion: consult the model, dispatch the
// tool calls it requests, fold the results back in, repeat until the model
// answers without tools or the step budget runs out.
type Loop struct {
	cfg        Config
	provider   Provider
	registry   *registry.Registry
	transcript *transcript.Manager
	logger     zerolog.Logger

	// runMu serializes runs; mu guards the observable state below so
	// Stats, State, and Messages answer while a run is in flight.
	runMu sync.Mutex

	mu       sync.Mutex
	messages []Message
	stats    Stats
	state    State
}

// Option customizes loop construction.
type Option func(*Loop)

// WithTranscript persists user and assistant turns to the given manager under
// the configured session key.
func WithTranscript(tm *transcript.Manager) Option {
	return func(l *Loop) { l.transcript = tm }
}

// WithLogger sets the loop logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// New creates an agent loop.
func New(cfg Config, provider Provider, reg *registry.Registry, opts ...Option) (*Loop, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 1 {
		return nil, fmt.Errorf("temperature must be between 0 and 1")
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 20
	}
	if cfg.ParallelTools <= 0 {
		cfg.ParallelTools = 4
	}

	l := &Loop{
		cfg:      cfg,
		provider: provider,
		registry: reg,
		logger:   zerolog.Nop(),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// AddUserMessage appends a user turn to the conversation.
func (l *Loop) AddUserMessage(content string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = append(l.messages, Message{Role: RoleUser, Content: content})
	l.persist(RoleUser, content)
}

// Messages returns a copy of the conversation.
func (l *Loop) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Stats returns the current statistics. Available at any time, including
// after an aborted run.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.stats
}

// State returns the loop state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state
}

// Clear discards the conversation and statistics. It waits for an in-flight
// run to finish first.
func (l *Loop) Clear() {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	l.mu.Lock()
	l.messages = nil
	l.stats = Stats{}
	l.state = StateIdle
	l.mu.Unlock()

	l.logger.Info().Msg("Conversation cleared")
}

func (l *Loop) setState(state State) {
	l.mu.Lock()
	l.state = state
	l.mu.Unlock()
}

func (l *Loop) appendMessages(messages ...Message) {
	l.mu.Lock()
	l.messages = append(l.messages, messages...)
	l.mu.Unlock()
}

// Run executes the step loop until the model produces a final answer, the
// step budget is exhausted, or the model call fails irrecoverably. Tool
// failures never end a run; they are fed back to the model as data.
//
// One loop instance executes one run at a time. Stats, State, and Messages
// stay answerable throughout.
func (l *Loop) Run(ctx context.Context) (RunResult, error) {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	runID := uuid.NewString()
	logger := l.logger.With().Str("run_id", runID).Logger()
	logger.Info().Int("max_steps", l.cfg.MaxSteps).Msg("Starting agent run")

	tools := l.registry.Descriptors()

	for {
		// A user abort stops the loop before the next model call;
		// in-flight work from the previous step has already joined.
		if err := ctx.Err(); err != nil {
			return l.abort(runID, "run cancelled"), nil
		}

		if l.Stats().Steps >= l.cfg.MaxSteps {
			logger.Warn().Int("steps", l.Stats().Steps).Msg("Step budget exhausted")
			return l.abort(runID, fmt.Sprintf(
				"step budget exhausted: %d steps used without reaching a final answer",
				l.cfg.MaxSteps,
			)), nil
		}

		l.setState(StateAwaitingModel)
		request := Request{
			Model:        l.cfg.Model,
			SystemPrompt: l.cfg.SystemPrompt,
			Messages:     l.Messages(),
			Tools:        tools,
			MaxTokens:    l.cfg.MaxTokens,
			Temperature:  l.cfg.Temperature,
		}

		response, err := l.completeWithRetry(ctx, request)

		l.mu.Lock()
		l.stats.Steps++
		l.mu.Unlock()

		if err != nil {
			logger.Error().Err(err).Msg("Model call failed")
			result := l.abort(runID, fmt.Sprintf("model call failed: %v", err))
			return result, fmt.Errorf("model call failed: %w", err)
		}

		l.mu.Lock()
		l.stats.Usage.Add(response.Usage)
		l.mu.Unlock()

		if len(response.ToolCalls) == 0 {
			l.appendMessages(Message{
				Role:              RoleAssistant,
				Content:           response.Content,
				Thinking:          response.Thinking,
				ThinkingSignature: response.ThinkingSignature,
			})
			l.persist(RoleAssistant, response.Content)
			l.setState(StateDone)

			stats := l.Stats()
			logger.Info().
				Int("steps", stats.Steps).
				Int("tool_calls", stats.ToolCalls).
				Msg("Agent run completed")

			return RunResult{
				RunID:    runID,
				Response: response.Content,
				State:    StateDone,
				Stats:    stats,
			}, nil
		}

		l.setState(StateDispatchingTools)
		l.appendMessages(Message{
			Role:              RoleAssistant,
			Content:           response.Content,
			Thinking:          response.Thinking,
			ThinkingSignature: response.ThinkingSignature,
			ToolCalls:         response.ToolCalls,
		})

		results := l.dispatchBatch(ctx, response.ToolCalls)

		// Results are appended in request order regardless of which
		// call finished first; the next model call needs a transcript
		// where result N answers request N.
		toolMessages := make([]Message, len(response.ToolCalls))
		for i, call := range response.ToolCalls {
			toolMessages[i] = Message{
				Role:       RoleTool,
				Content:    toolMessageContent(results[i]),
				ToolCallID: call.ID,
			}
		}
		l.appendMessages(toolMessages...)

		l.mu.Lock()
		l.stats.ToolCalls += len(response.ToolCalls)
		step := l.stats.Steps
		l.mu.Unlock()

		logger.Debug().
			Int("step", step).
			Int("batch", len(response.ToolCalls)).
			Msg("Tool batch completed")
	}
}

// dispatchBatch executes one model turn's tool calls as a bounded parallel
// batch and joins before returning. Dispatch runs on a context detached from
// run cancellation: an abort lets in-flight calls finish or self-timeout
// rather than killing them mid-write.
func (l *Loop) dispatchBatch(ctx context.Context, calls []ToolCall) []registry.Result {
	results := make([]registry.Result, len(calls))
	dispatchCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(l.cfg.ParallelTools)

	for i, call := range calls {
		g.Go(func() error {
			results[i] = l.registry.Dispatch(dispatchCtx, call.Name, call.Arguments)
			return nil
		})
	}

	// Handlers never return errors through the group; failures are Results.
	_ = g.Wait()

	return results
}

// abort finalizes a run in the Aborted state. Statistics stay readable.
func (l *Loop) abort(runID, reason string) RunResult {
	l.mu.Lock()
	l.state = StateAborted
	stats := l.stats
	l.mu.Unlock()

	l.logger.Warn().Str("run_id", runID).Str("reason", reason).Msg("Agent run aborted")

	return RunResult{
		RunID:  runID,
		State:  StateAborted,
		Reason: reason,
		Stats:  stats,
	}
}

func (l *Loop) persist(role, content string) {
	if l.transcript == nil || l.cfg.SessionKey == "" || content == "" {
		return
	}
	if err := l.transcript.Append(l.cfg.SessionKey, transcript.Message{
		Role:    role,
		Content: content,
	}); err != nil {
		l.logger.Warn().Err(err).Msg("Failed to persist transcript message")
	}
}

func toolMessageContent(result registry.Result) string {
	if result.Success {
		return result.Content
	}
	if result.Error != "" {
		return result.Error
	}
	return "tool execution failed"
}
