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

var sendTokens int

var sendCmd = &cobra.Command{
	Use:   "send <session-id> <message...>",
	Short: "Send a message and print the reply",
	Long: `Send a user message in a session. If the turn would push active usage
past the archive threshold, the oldest messages are archived first.

Examples:
  coppice send chat_a1b2c3d4 "what does the revenue column look like?"
  coppice send chat_a1b2c3d4 --tokens 42 "exact pre-counted message"`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().IntVar(&sendTokens, "tokens", 0, "Exact token count of the message (default: estimate)")
}

func runSend(cmd *cobra.Command, args []string) error {
	coord, cleanup, err := openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	content := strings.Join(args[1:], " ")
	result, err := coord.SendMessage(cmd.Context(), userID, args[0], content, session.SendOptions{TokenCount: sendTokens})
	if err != nil {
		var genErr *llm.GenerationError
		if errors.As(err, &genErr) {
			fmt.Printf("Your message was saved, but the reply failed: %v\n", genErr.Err)
			fmt.Println("Run 'coppice regen' to retry the reply.")
			return nil
		}
		if errors.Is(err, models.ErrSessionAtLimit) {
			return fmt.Errorf("session is at its token limit and read-only; start a new session")
		}
		return fmt.Errorf("failed to send message: %w", err)
	}

	if result.ArchivedCount > 0 {
		fmt.Printf("(archived %d older message(s) to stay inside the token budget)\n\n", result.ArchivedCount)
	}
	fmt.Println(result.AssistantMessage.Content)
	return nil
}
