package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yann0001/mini-agent/internal/config"
	"github.com/yann0001/mini-agent/internal/logger"
	"github.com/yann0001/mini-agent/pkg/agent"
	"github.com/yann0001/mini-agent/pkg/coretools"
	"github.com/yann0001/mini-agent/pkg/mcp"
	"github.com/yann0001/mini-agent/pkg/notes"
	"github.com/yann0001/mini-agent/pkg/registry"
	"github.com/yann0001/mini-agent/pkg/transcript"
)

var (
	chatPrompt  string
	chatSession string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session with the agent",
	Long: `Start an interactive chat session. The agent answers each message,
calling its registered tools as needed and carrying conversation state
across turns.

Session commands:
  /clear   reset the conversation
  /stats   show step, tool call, and token counts
  /exit    end the session`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatPrompt, "prompt", "p", "", "run a single prompt and exit")
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "", "session key for the transcript (default: a fresh UUID)")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	lg, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer lg.Close()
	zl := lg.Zerolog()

	reg := registry.New()

	if err := coretools.Register(reg, coretools.Options{WorkspaceRoot: cfg.Workspace}); err != nil {
		return fmt.Errorf("failed to register core tools: %w", err)
	}

	store, err := notes.NewStore(cfg.MemoryFile, zl)
	if err != nil {
		return fmt.Errorf("failed to open note store: %w", err)
	}
	if err := notes.RegisterTools(reg, store); err != nil {
		return fmt.Errorf("failed to register note tools: %w", err)
	}
	if err := store.Watch(); err != nil {
		zl.Warn().Err(err).Msg("note store watcher unavailable")
	} else {
		defer store.Unwatch()
	}

	mcpCfg, err := mcp.LoadConfig(cfg.MCPConfig)
	if err != nil {
		zl.Warn().Err(err).Str("path", cfg.MCPConfig).Msg("failed to load mcp config")
	}
	bridge := mcp.NewBridge(reg, zl)
	bridge.Connect(cmd.Context(), mcpCfg)
	defer bridge.Close()

	tm, err := transcript.New(filepath.Join(cfg.DataDir, "sessions"))
	if err != nil {
		return fmt.Errorf("failed to init transcript store: %w", err)
	}

	provider, err := agent.NewProvider(cfg.LLM.Provider, cfg.LLM.APIKey, cfg.LLM.APIBase)
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}

	sessionKey := chatSession
	if sessionKey == "" {
		sessionKey = uuid.NewString()
	}

	systemPrompt := cfg.Agent.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt(cfg.Workspace)
	}

	loopCfg := agent.Config{
		Model:         cfg.LLM.Model,
		SystemPrompt:  systemPrompt,
		MaxSteps:      cfg.Agent.MaxSteps,
		MaxRetries:    cfg.Agent.MaxRetries,
		MaxTokens:     cfg.LLM.MaxTokens,
		Temperature:   cfg.LLM.Temperature,
		ParallelTools: cfg.Agent.ParallelTools,
		SessionKey:    sessionKey,
	}

	loop, err := agent.New(loopCfg, provider, reg,
		agent.WithTranscript(tm),
		agent.WithLogger(zl),
	)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	zl.Info().
		Str("provider", provider.Name()).
		Str("model", cfg.LLM.Model).
		Str("session", sessionKey).
		Int("tools", reg.Len()).
		Int("mcp_servers", bridge.Connected()).
		Msg("agent ready")

	if chatPrompt != "" {
		return runOnce(cmd.Context(), loop, chatPrompt)
	}

	return runREPL(cmd.Context(), loop, sessionKey)
}

func defaultSystemPrompt(workspace string) string {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		abs = workspace
	}
	return fmt.Sprintf(`You are a helpful assistant with access to tools.

Your workspace directory is %s. File paths are resolved relative to it.

Use record_note to save important facts, user preferences, and decisions as
you discover them, and recall_notes to retrieve what was saved earlier.
Prefer calling tools over guessing when a tool can answer the question.`, abs)
}

// runOnce sends a single prompt and prints the final answer.
func runOnce(ctx context.Context, loop *agent.Loop, prompt string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	loop.AddUserMessage(prompt)
	result, err := loop.Run(ctx)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}
	if result.State == agent.StateAborted {
		return fmt.Errorf("run aborted: %s", result.Reason)
	}
	fmt.Println(result.Response)
	return nil
}

func runREPL(ctx context.Context, loop *agent.Loop, sessionKey string) error {
	fmt.Printf("mini-agent %s (session %s)\n", version, sessionKey)
	fmt.Println("Type /exit to quit, /clear to reset, /stats for usage.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/exit", "/quit":
			return nil
		case "/clear":
			loop.Clear()
			fmt.Println("Conversation cleared.")
			continue
		case "/stats":
			printStats(loop.Stats())
			continue
		}

		loop.AddUserMessage(line)

		runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		result, err := loop.Run(runCtx)
		stop()

		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		if result.State == agent.StateAborted {
			fmt.Fprintf(os.Stderr, "aborted: %s\n", result.Reason)
			continue
		}
		fmt.Println(result.Response)
	}
}

func printStats(stats agent.Stats) {
	fmt.Printf("steps: %d  tool calls: %d  tokens in/out: %d/%d\n",
		stats.Steps, stats.ToolCalls,
		stats.Usage.InputTokens, stats.Usage.OutputTokens)
}
