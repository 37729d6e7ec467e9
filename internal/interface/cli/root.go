package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coppicehq/coppice/internal/core/config"
	"github.com/coppicehq/coppice/internal/core/llm"
	"github.com/coppicehq/coppice/internal/core/logging"
	"github.com/coppicehq/coppice/internal/core/repo"
	"github.com/coppicehq/coppice/internal/core/session"
	"github.com/coppicehq/coppice/internal/core/store"
)

var (
	dbPath      string
	logLevel    string
	userID      int64
	versionInfo string
)

// SetVersion sets the version information from build-time ldflags
func SetVersion(version, commit, date string) {
	versionInfo = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	rootCmd.Version = versionInfo
}

// Execute runs the CLI
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "coppice",
	Short: "Token-bounded branching chat sessions",
	Long: `coppice - chat with your data sources inside a bounded token budget

Sessions keep their full history as a tree: budget eviction and message
edits archive messages instead of deleting them, and edits fork the
conversation while the old branch stays inspectable.`,
}

func init() {
	// Global flags. The database path default comes from config at run time,
	// so it stays empty here.
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default from config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Int64Var(&userID, "user", 1, "Acting user id")
}

// openEngine wires the coordinator for one command invocation
func openEngine() (*session.Coordinator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	path := dbPath
	if path == "" {
		path = cfg.DBPath
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	log := logging.New(logging.Config{Level: level, Pretty: cfg.LogPretty})

	s, err := store.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	r := repo.New(s, log)
	provider := llm.NewCannedProviderWithTemplate(cfg.PromptTemplate)
	coord := session.NewCoordinator(r, provider, nil, log, cfg.DefaultPolicy)

	cleanup := func() {
		_ = s.Close()
	}
	return coord, cleanup, nil
}
