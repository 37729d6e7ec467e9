package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coppicehq/coppice/internal/core/models"
	"github.com/coppicehq/coppice/internal/core/session"
)

var (
	newSourceID   int64
	newSourceType string
	newTitle      string
	newMaxTokens  int
	newStrategy   string
)

var newCmd = &cobra.Command{
	Use:   "new <data-source-name>",
	Short: "Create a chat session against a data source",
	Long: `Create a new chat session. The session's limit policy is frozen at
creation; later config changes never affect existing sessions.

Examples:
  coppice new sales.csv --source-type csv
  coppice new warehouse --source-type postgres --max-tokens 20000
  coppice new notes.pdf --source-type pdf --strategy message_based`,
	Args: cobra.ExactArgs(1),
	RunE: runNew,
}

func init() {
	rootCmd.AddCommand(newCmd)
	newCmd.Flags().Int64Var(&newSourceID, "source-id", 1, "Data source id")
	newCmd.Flags().StringVar(&newSourceType, "source-type", "csv", "Data source type (csv, xlsx, postgres, mysql, mongodb, pdf)")
	newCmd.Flags().StringVar(&newTitle, "title", "", "Session title (default derived from the data source)")
	newCmd.Flags().IntVar(&newMaxTokens, "max-tokens", 0, "Override the session token ceiling")
	newCmd.Flags().StringVar(&newStrategy, "strategy", "", "Limiting strategy: token_based or message_based")
}

func runNew(cmd *cobra.Command, args []string) error {
	coord, cleanup, err := openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	var policy *models.LimitPolicy
	if newMaxTokens > 0 || newStrategy != "" {
		p := models.DefaultLimitPolicy()
		if newMaxTokens > 0 {
			p.MaxTokens = newMaxTokens
		}
		if newStrategy != "" {
			p.LimitingStrategy = models.LimitingStrategy(newStrategy)
		}
		policy = &p
	}

	s, err := coord.CreateSession(cmd.Context(), session.CreateParams{
		UserID:         userID,
		DataSourceID:   newSourceID,
		DataSourceName: args[0],
		DataSourceType: newSourceType,
		Title:          newTitle,
		Policy:         policy,
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	fmt.Printf("Created session %s\n", s.SessionID)
	fmt.Printf("    Title: %s\n", s.Title)
	fmt.Printf("    Budget: %d tokens (%s)\n", s.MaxTokens, s.Settings.LimitingStrategy)
	return nil
}
