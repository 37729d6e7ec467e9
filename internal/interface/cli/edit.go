package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coppicehq/coppice/internal/core/llm"
	"github.com/coppicehq/coppice/internal/core/models"
	"github.com/coppicehq/coppice/internal/core/session"
)

var editTokens int

var editCmd = &cobra.Command{
	Use:   "edit <session-id> <message-id> <content...>",
	Short: "Edit a user message and regenerate from that point",
	Long: `Edit one of your messages. Everything downstream of the original is
archived, the edited version forks the conversation at the same point, and
the assistant reply is regenerated. Old branches stay visible in
'coppice tree'.

Examples:
  coppice edit chat_a1b2c3d4 msg_0f9e8d7c "actually, group it by region"`,
	Args: cobra.MinimumNArgs(3),
	RunE: runEdit,
}

func init() {
	rootCmd.AddCommand(editCmd)
	editCmd.Flags().IntVar(&editTokens, "tokens", 0, "Exact token count of the edited content (default: estimate)")
}

func runEdit(cmd *cobra.Command, args []string) error {
	coord, cleanup, err := openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	content := strings.Join(args[2:], " ")
	result, err := coord.EditMessage(cmd.Context(), userID, args[0], args[1], content, session.SendOptions{TokenCount: editTokens})
	if err != nil {
		var genErr *llm.GenerationError
		if errors.As(err, &genErr) && result != nil {
			fmt.Printf("Edit saved as %s, but regeneration failed: %v\n", result.Edited.MessageID, genErr.Err)
			fmt.Println("Run 'coppice regen' to retry the reply.")
			return nil
		}
		switch {
		case errors.Is(err, models.ErrInvalidRole):
			return fmt.Errorf("only your own user messages can be edited")
		case errors.Is(err, models.ErrEditingDisabled):
			return fmt.Errorf("editing is disabled by this session's policy")
		}
		return fmt.Errorf("failed to edit message: %w", err)
	}

	fmt.Printf("Edited as %s (version %d), archived %d downstream message(s)\n",
		result.Edited.MessageID, result.Edited.Version, len(result.ArchivedIDs))
	if result.Regenerated != nil {
		fmt.Println()
		fmt.Println(result.Regenerated.Content)
	}
	return nil
}
