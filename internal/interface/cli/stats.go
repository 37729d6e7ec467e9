package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statsRebuild bool

var statsCmd = &cobra.Command{
	Use:   "stats [session-id]",
	Short: "Show session analytics",
	Long: `Show a session's full-history analytics: active vs archived counts,
token usage against the budget, edits, and conversation duration.

Without a session id, shows totals across all of your sessions.

Examples:
  coppice stats
  coppice stats chat_a1b2c3d4
  coppice stats chat_a1b2c3d4 --rebuild`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().BoolVar(&statsRebuild, "rebuild", false, "Rebuild cached counters from the messages first")
}

func runStats(cmd *cobra.Command, args []string) error {
	coord, cleanup, err := openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	if len(args) == 0 {
		overview, err := coord.Overview(cmd.Context(), userID)
		if err != nil {
			return fmt.Errorf("failed to load stats: %w", err)
		}
		if overview.Sessions == 0 {
			fmt.Println("No sessions found. Run 'coppice new' to start one.")
			return nil
		}
		fmt.Printf("Sessions:   %d\n", overview.Sessions)
		fmt.Printf("Messages:   %d total (%d active, %d archived)\n",
			overview.Messages, overview.ActiveMessages, overview.ArchivedMessages)
		fmt.Printf("Tokens:     %d active of %d lifetime\n", overview.ActiveTokens, overview.TotalTokens)
		return nil
	}

	if statsRebuild {
		if _, err := coord.RebuildCounters(cmd.Context(), userID, args[0]); err != nil {
			return fmt.Errorf("failed to rebuild counters: %w", err)
		}
		fmt.Println("Counters rebuilt from message history.")
	}

	view, err := coord.GetConversationTree(cmd.Context(), userID, args[0])
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	s := view.Session
	a := view.Analytics

	fmt.Printf("%s  %s\n\n", s.SessionID, s.Title)
	fmt.Printf("Messages:   %d total (%d user, %d assistant)\n", a.TotalMessages, a.UserMessages, a.AssistantMessages)
	fmt.Printf("Active:     %d messages, %d tokens\n", a.ActiveMessages, a.ActiveTokens)
	fmt.Printf("Archived:   %d messages\n", a.ArchivedMessages)
	fmt.Printf("Edited:     %d messages\n", a.EditedMessages)
	fmt.Printf("Budget:     %d of %d tokens used (%.0f%%)\n",
		a.ActiveTokens, s.MaxTokens, float64(a.ActiveTokens)/float64(s.MaxTokens)*100)
	fmt.Printf("Lifetime:   %d tokens across all branches\n", a.TotalTokens)
	if a.Duration > 0 {
		fmt.Printf("Duration:   %s\n", a.Duration.Round(time.Second))
	}
	fmt.Printf("Created:    %s\n", humanize.Time(s.CreatedAt))
	fmt.Printf("Updated:    %s\n", humanize.Time(s.UpdatedAt))
	return nil
}
