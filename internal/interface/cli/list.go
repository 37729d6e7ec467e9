package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
)

var (
	listPage    int
	listPerPage int
	listSince   string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List your chat sessions",
	Long: `List your chat sessions, most recently active first.

The --since filter accepts natural language dates.

Examples:
  coppice list
  coppice list --page 2 --limit 10
  coppice list --since "last tuesday"`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().IntVar(&listPage, "page", 1, "Page number")
	listCmd.Flags().IntVar(&listPerPage, "limit", 20, "Sessions per page")
	listCmd.Flags().StringVar(&listSince, "since", "", "Only sessions updated since this time (natural language)")
}

func runList(cmd *cobra.Command, args []string) error {
	coord, cleanup, err := openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	var since time.Time
	if listSince != "" {
		since, err = parseNaturalDate(listSince)
		if err != nil {
			return err
		}
	}

	sessions, hasMore, err := coord.ListSessions(cmd.Context(), userID, listPage, listPerPage)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if !since.IsZero() {
		filtered := sessions[:0]
		for _, s := range sessions {
			if s.UpdatedAt.After(since) {
				filtered = append(filtered, s)
			}
		}
		sessions = filtered
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found. Run 'coppice new' to start one.")
		return nil
	}

	fmt.Printf("Showing %d session(s)\n\n", len(sessions))
	for _, s := range sessions {
		fmt.Printf("%s  %s\n", s.SessionID, s.Title)
		fmt.Printf("    Source: %s (%s)\n", s.DataSourceName, s.DataSourceType)
		fmt.Printf("    Messages: %d active / %d total\n", s.ActiveMessageCount, s.MessageCount)
		fmt.Printf("    Tokens: %d of %d\n", s.ActiveTokens, s.MaxTokens)
		if !s.UpdatedAt.IsZero() {
			fmt.Printf("    Updated: %s\n", humanize.Time(s.UpdatedAt))
		}
		fmt.Println()
	}
	if hasMore {
		fmt.Printf("More sessions available; try --page %d\n", listPage+1)
	}
	return nil
}

func parseNaturalDate(input string) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	result, err := w.Parse(input, time.Now())
	if err != nil || result == nil {
		return time.Time{}, fmt.Errorf("could not understand date: %q", input)
	}
	return result.Time, nil
}
