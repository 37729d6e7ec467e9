package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	searchSession string
	searchLimit   int
)

var searchCmd = &cobra.Command{
	Use:   "search <query...>",
	Short: "Full-text search across message history",
	Long: `Search message content with FTS5 full-text search and porter stemming.
Archived messages are searchable too; nothing is ever deleted.

Examples:
  coppice search "revenue by region"
  coppice search churn --session chat_a1b2c3d4
  coppice search "error handling" --limit 10`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVar(&searchSession, "session", "", "Limit search to one session")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "Maximum number of matches")
}

func runSearch(cmd *cobra.Command, args []string) error {
	coord, cleanup, err := openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	query := strings.Join(args, " ")
	results, err := coord.SearchMessages(cmd.Context(), userID, searchSession, query, searchLimit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if len(results) == 0 {
		fmt.Printf("No results found for: %s\n", query)
		return nil
	}

	fmt.Printf("Found %d match(es) for: %s\n\n", len(results), query)
	for _, r := range results {
		state := "active"
		if !r.Message.IsActive {
			state = fmt.Sprintf("archived: %s", r.Message.ArchiveReason)
		}
		fmt.Printf("%s  %s [%d] (%s)\n", r.Message.SessionID, r.Message.MessageID, r.Message.MessageIndex, state)
		snippet := r.Snippet
		if snippet == "" {
			snippet = truncateContent(r.Message.Content, 100)
		}
		fmt.Printf("    %s: %s\n\n", r.Message.Role, snippet)
	}
	return nil
}
