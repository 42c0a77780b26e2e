package notes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yann0001/mini-agent/pkg/registry"
)

// RegisterTools adds the record_note and recall_notes tools backed by the
// given store. The store has no privileged access to the agent: both tools
// go through the ordinary dispatch path.
func RegisterTools(reg *registry.Registry, store *Store) error {
	recordTool := registry.Tool{
		Name: "record_note",
		Description: "Record important information as session notes for future reference. " +
			"Use this to record key facts, user preferences, decisions, or context " +
			"that should be recalled later in the agent execution chain. Each note is timestamped.",
		Parameters: []registry.Parameter{
			{
				Name:        "content",
				Type:        "string",
				Description: "The information to record as a note. Be concise but specific.",
				Required:    true,
			},
			{
				Name:        "category",
				Type:        "string",
				Description: "Optional category/tag for this note (e.g., 'user_preference', 'project_info', 'decision')",
				Default:     "general",
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			content, _ := args["content"].(string)
			category, _ := args["category"].(string)

			note, err := store.Record(content, category)
			if err != nil {
				return nil, fmt.Errorf("failed to record note: %w", err)
			}

			return fmt.Sprintf("Recorded note: %s (category: %s)", note.Content, note.Category), nil
		},
	}

	recallTool := registry.Tool{
		Name: "recall_notes",
		Description: "Recall all previously recorded session notes. " +
			"Use this to retrieve important information, context, or decisions " +
			"from earlier in the session or previous agent execution chains.",
		Parameters: []registry.Parameter{
			{
				Name:        "category",
				Type:        "string",
				Description: "Optional: filter notes by category",
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			category, _ := args["category"].(string)

			recalled, err := store.Recall(category)
			if err != nil {
				return nil, fmt.Errorf("failed to recall notes: %w", err)
			}

			if len(recalled) == 0 {
				if category != "" {
					return fmt.Sprintf("No notes found in category: %s", category), nil
				}
				return "No notes recorded yet.", nil
			}

			return formatNotes(recalled), nil
		},
	}

	for _, tool := range []registry.Tool{recordTool, recallTool} {
		if err := reg.Register(tool); err != nil {
			return err
		}
	}

	return nil
}

func formatNotes(recalled []Note) string {
	var sb strings.Builder
	sb.WriteString("Recorded Notes:\n")

	for i, note := range recalled {
		fmt.Fprintf(&sb, "%d. [%s] %s\n   (recorded at %s)\n",
			i+1, note.Category, note.Content, note.Timestamp.Format(time.RFC3339))
	}

	return strings.TrimRight(sb.String(), "\n")
}
