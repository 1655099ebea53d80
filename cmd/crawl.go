package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/progress-crawler/internal/app"
	"github.com/JakeFAU/progress-crawler/internal/config"
	"github.com/JakeFAU/progress-crawler/internal/harvest"
	"github.com/JakeFAU/progress-crawler/internal/logging"
)

// runner is the part of app.App the crawl command drives.
type runner interface {
	Run(ctx context.Context, creds harvest.Credentials, bounds harvest.Bounds) (harvest.RunSummary, error)
	Close()
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (runner, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl [username] [password] [firstIndex] [lastIndex]",
		Short: "Runs one incremental crawl",
		Long: `Runs one crawl over the roster. Credentials come from configuration
(PROGRESS_CREDENTIALS_USERNAME / PROGRESS_CREDENTIALS_PASSWORD) and fall back
to the positional arguments. firstIndex and lastIndex are 1-based and
inclusive; 0 leaves that side open.`,
		Args: cobra.MaximumNArgs(4),
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		Service:     "progress-crawler",
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	creds, bounds, err := resolveArgs(args, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize application services", zap.Error(err))
		return &loggedError{err: err}
	}
	defer a.Close()

	summary, err := a.Run(ctx, creds, bounds)
	if err != nil {
		logger.Error("Crawl run failed", zap.Error(err), zap.Bool("fatal", harvest.IsFatal(err)))
		return &loggedError{err: err}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "run %s: extracted=%d skipped=%d failed=%d export=%s\n",
		summary.RunID, summary.Extracted, summary.Skipped, summary.Failed, summary.ExportURI)
	return nil
}

// resolveArgs merges positional arguments with configuration. Configured
// credentials win over positional ones; positional indices win over
// configured ones.
func resolveArgs(args []string, cfg config.Config) (harvest.Credentials, harvest.Bounds, error) {
	creds := cfg.CredentialsValue()
	if creds.Username == "" && len(args) > 0 {
		creds.Username = args[0]
	}
	if creds.Password == "" && len(args) > 1 {
		creds.Password = args[1]
	}

	bounds := cfg.Bounds()
	if len(args) > 2 {
		first, err := parseIndex("firstIndex", args[2])
		if err != nil {
			return creds, bounds, err
		}
		bounds.First = first
	}
	if len(args) > 3 {
		last, err := parseIndex("lastIndex", args[3])
		if err != nil {
			return creds, bounds, err
		}
		bounds.Last = last
	}
	if err := bounds.Validate(); err != nil {
		return creds, bounds, &harvest.ConfigurationError{Reason: err.Error()}
	}
	return creds, bounds, nil
}

func parseIndex(name, raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &harvest.ConfigurationError{Reason: fmt.Sprintf("%s must be a non-negative integer, got %q", name, raw)}
	}
	return n, nil
}
