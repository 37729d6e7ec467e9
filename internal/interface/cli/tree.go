package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/coppicehq/coppice/internal/core/tree"
)

var (
	treeTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	activeUserStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("cyan")).
			Bold(true)

	activeAssistantStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("green")).
				Bold(true)

	archivedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	editedBadgeStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("yellow"))
)

var treeCmd = &cobra.Command{
	Use:   "tree <session-id>",
	Short: "Show the full conversation tree",
	Long: `Show every message ever written in a session as a tree: the active
branch highlighted, archived messages dimmed with their archive reason,
and edit forks side by side with the originals.

Examples:
  coppice tree chat_a1b2c3d4`,
	Args: cobra.ExactArgs(1),
	RunE: runTree,
}

func init() {
	rootCmd.AddCommand(treeCmd)
}

func runTree(cmd *cobra.Command, args []string) error {
	coord, cleanup, err := openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	view, err := coord.GetConversationTree(cmd.Context(), userID, args[0])
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	fmt.Println(treeTitleStyle.Render(view.Session.Title))
	fmt.Printf("Source: %s (%s)\n\n", view.Session.DataSourceName, view.Session.DataSourceType)

	if len(view.Roots) == 0 {
		fmt.Println("No messages yet.")
		return nil
	}
	for _, root := range view.Roots {
		printNode(root, 0)
	}

	a := view.Analytics
	fmt.Println()
	fmt.Printf("%d message(s): %d active, %d archived, %d edited\n",
		a.TotalMessages, a.ActiveMessages, a.ArchivedMessages, a.EditedMessages)
	fmt.Printf("Tokens: %d active of %d lifetime (budget %d)\n",
		a.ActiveTokens, a.TotalTokens, view.Session.MaxTokens)
	return nil
}

func printNode(n *tree.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	line := fmt.Sprintf("%s[%d] %s: %s", indent, n.Message.MessageIndex,
		n.Message.Role, truncateContent(n.Message.Content, 70))

	switch {
	case !n.Message.IsActive:
		line = archivedStyle.Render(fmt.Sprintf("%s (%s)", line, n.Message.ArchiveReason))
	case n.Message.Role == "user":
		line = activeUserStyle.Render(line)
	default:
		line = activeAssistantStyle.Render(line)
	}
	if n.Message.IsEdited {
		line += " " + editedBadgeStyle.Render(fmt.Sprintf("(edited, v%d)", n.Message.Version))
	}
	fmt.Println(line)
	if !n.Message.CreatedAt.IsZero() {
		fmt.Println(archivedStyle.Render(fmt.Sprintf("%s    %s, %d tokens",
			indent, humanize.Time(n.Message.CreatedAt), n.Message.TokenCount)))
	}

	for _, child := range n.Children {
		printNode(child, depth+1)
	}
}

func truncateContent(content string, maxLen int) string {
	content = strings.Join(strings.Fields(content), " ")
	if len(content) <= maxLen {
		return content
	}
	truncated := content[:maxLen]
	lastSpace := strings.LastIndex(truncated, " ")
	if lastSpace > maxLen-20 {
		truncated = truncated[:lastSpace]
	}
	return truncated + "..."
}
