package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/yann0001/mini-agent/internal/config"
	"github.com/yann0001/mini-agent/pkg/transcript"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List saved chat sessions",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-key>",
	Short: "Print the transcript of a saved session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-key>",
	Short: "Delete a saved session transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func openTranscripts() (*transcript.Manager, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return transcript.New(filepath.Join(cfg.DataDir, "sessions"))
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	tm, err := openTranscripts()
	if err != nil {
		return err
	}

	keys, err := tm.List()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(keys) == 0 {
		fmt.Println("No saved sessions.")
		return nil
	}
	for _, key := range keys {
		fmt.Println(key)
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	tm, err := openTranscripts()
	if err != nil {
		return err
	}

	entries, err := tm.Load(args[0])
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("Session is empty or does not exist.")
		return nil
	}
	for _, entry := range entries {
		fmt.Printf("[%s] %s: %s\n",
			entry.Message.Timestamp.Format("2006-01-02 15:04:05"),
			entry.Message.Role,
			entry.Message.Content)
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	tm, err := openTranscripts()
	if err != nil {
		return err
	}

	if err := tm.Delete(args[0]); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	fmt.Printf("Deleted session %s\n", args[0])
	return nil
}
