package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coppicehq/coppice/internal/core/session"
)

var regenCmd = &cobra.Command{
	Use:   "regen <session-id>",
	Short: "Retry the assistant reply for the latest user message",
	Long: `Regenerate the assistant reply when a send or edit saved your message
but the reply failed. Only the generation step is retried; the message is
never re-appended.

Examples:
  coppice regen chat_a1b2c3d4`,
	Args: cobra.ExactArgs(1),
	RunE: runRegen,
}

func init() {
	rootCmd.AddCommand(regenCmd)
}

func runRegen(cmd *cobra.Command, args []string) error {
	coord, cleanup, err := openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	reply, err := coord.Regenerate(cmd.Context(), userID, args[0])
	if err != nil {
		if errors.Is(err, session.ErrNoPendingTurn) {
			return fmt.Errorf("nothing to regenerate: the conversation already ends with a reply")
		}
		return fmt.Errorf("failed to regenerate: %w", err)
	}

	fmt.Println(reply.Content)
	return nil
}
