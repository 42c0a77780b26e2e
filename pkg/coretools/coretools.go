package coretools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/yann0001/mini-agent/pkg/registry"
)

// Options configures core tool registration.
type Options struct {
	// WorkspaceRoot is the base directory for resolving tool paths.
	// Relative paths stay inside it; escapes are rejected.
	WorkspaceRoot string
}

const (
	defaultShellTimeout = 30 * time.Second
	maxReadBytes        = 64 * 1024
)

// maxShellTimeout keeps shell commands under the registry's per-dispatch
// ceiling so a long command reports a shell timeout with its partial output
// instead of being cut off by the dispatch deadline.
var maxShellTimeout = registry.DefaultTimeout - 5*time.Second

// Register adds the baseline filesystem and shell tools.
func Register(reg *registry.Registry, opts Options) error {
	if reg == nil {
		return errors.New("registry is required")
	}
	if opts.WorkspaceRoot == "" {
		opts.WorkspaceRoot = "."
	}

	root, err := filepath.Abs(opts.WorkspaceRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	opts.WorkspaceRoot = root

	tools := []registry.Tool{
		readFileTool(opts),
		writeFileTool(opts),
		editFileTool(opts),
		bashTool(opts),
	}

	for _, tool := range tools {
		if err := reg.Register(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}

	return nil
}

func readFileTool(opts Options) registry.Tool {
	return registry.Tool{
		Name:        "read_file",
		Description: "Read the content of a file in the workspace. Large files are truncated in the middle, keeping the head and tail.",
		Parameters: []registry.Parameter{
			{Name: "path", Type: "string", Description: "File path, relative to the workspace", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			path, err := resolvePath(opts.WorkspaceRoot, args["path"])
			if err != nil {
				return nil, err
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read file: %w", err)
			}

			return truncateMiddle(string(data), maxReadBytes), nil
		},
	}
}

func writeFileTool(opts Options) registry.Tool {
	return registry.Tool{
		Name:        "write_file",
		Description: "Write content to a file in the workspace, creating it and any parent directories if needed. Overwrites existing content.",
		Parameters: []registry.Parameter{
			{Name: "path", Type: "string", Description: "File path, relative to the workspace", Required: true},
			{Name: "content", Type: "string", Description: "Content to write", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			path, err := resolvePath(opts.WorkspaceRoot, args["path"])
			if err != nil {
				return nil, err
			}
			content, _ := args["content"].(string)

			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return nil, fmt.Errorf("failed to create parent directory: %w", err)
			}
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				return nil, fmt.Errorf("failed to write file: %w", err)
			}

			return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
		},
	}
}

func editFileTool(opts Options) registry.Tool {
	return registry.Tool{
		Name:        "edit_file",
		Description: "Replace an exact string in a file. The old string must appear exactly once; otherwise the edit is rejected.",
		Parameters: []registry.Parameter{
			{Name: "path", Type: "string", Description: "File path, relative to the workspace", Required: true},
			{Name: "old_string", Type: "string", Description: "Exact text to replace", Required: true},
			{Name: "new_string", Type: "string", Description: "Replacement text", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			path, err := resolvePath(opts.WorkspaceRoot, args["path"])
			if err != nil {
				return nil, err
			}
			oldString, _ := args["old_string"].(string)
			newString, _ := args["new_string"].(string)
			if oldString == "" {
				return nil, fmt.Errorf("old_string cannot be empty")
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read file: %w", err)
			}

			content := string(data)
			count := strings.Count(content, oldString)
			if count == 0 {
				return nil, fmt.Errorf("old_string not found in %s", path)
			}
			if count > 1 {
				return nil, fmt.Errorf("old_string appears %d times in %s, must be unique", count, path)
			}

			updated := strings.Replace(content, oldString, newString, 1)
			if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
				return nil, fmt.Errorf("failed to write file: %w", err)
			}

			return fmt.Sprintf("Edited %s", path), nil
		},
	}
}

func bashTool(opts Options) registry.Tool {
	return registry.Tool{
		Name:        "bash",
		Description: "Execute a shell command in the workspace and return its combined output. Commands run under a timeout.",
		Parameters: []registry.Parameter{
			{Name: "command", Type: "string", Description: "Command to execute", Required: true},
			{Name: "timeout", Type: "number", Description: "Timeout in seconds (default 30, capped at 55)", Required: false},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			command, _ := args["command"].(string)
			command = strings.TrimSpace(command)
			if command == "" {
				return nil, fmt.Errorf("command is required")
			}

			timeout := shellTimeout(args["timeout"])

			cmdCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			cmd := exec.CommandContext(cmdCtx, "bash", "-c", command)
			cmd.Dir = opts.WorkspaceRoot

			var buf bytes.Buffer
			cmd.Stdout = &buf
			cmd.Stderr = &buf

			err := cmd.Run()
			output := buf.String()

			if cmdCtx.Err() == context.DeadlineExceeded {
				return nil, fmt.Errorf("command timed out after %v\n%s", timeout, output)
			}
			if err != nil {
				return nil, fmt.Errorf("command failed: %v\n%s", err, output)
			}

			if output == "" {
				output = "(no output)"
			}
			return output, nil
		},
	}
}

// shellTimeout converts the tool-supplied timeout argument to a bounded
// duration.
func shellTimeout(raw interface{}) time.Duration {
	timeout := defaultShellTimeout
	if secs, ok := raw.(float64); ok && secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}
	if timeout > maxShellTimeout {
		timeout = maxShellTimeout
	}
	return timeout
}

// resolvePath joins a tool-supplied path against the workspace root and
// rejects escapes.
func resolvePath(root string, raw interface{}) (string, error) {
	path, _ := raw.(string)
	if path == "" {
		return "", fmt.Errorf("path is required")
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)

	if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}

	return path, nil
}

// truncateMiddle keeps the head and tail of oversized content, cutting at
// line boundaries where possible.
func truncateMiddle(content string, limit int) string {
	if len(content) <= limit {
		return content
	}

	half := limit / 2

	head := content[:half]
	if idx := strings.LastIndex(head, "\n"); idx > 0 {
		head = head[:idx]
	}

	tail := content[len(content)-half:]
	if idx := strings.Index(tail, "\n"); idx > 0 {
		tail = tail[idx+1:]
	}

	return head + fmt.Sprintf("\n\n... [content truncated: %d bytes -> %d bytes limit] ...\n\n", len(content), limit) + tail
}
