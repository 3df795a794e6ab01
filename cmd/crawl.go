package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/relevance-crawler/internal/dispatcher"
)

// newCrawlCmd creates the 'crawl' subcommand. Its flags bind over the
// matching configuration keys.
func newCrawlCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls from the seed URLs and writes the report",
		Long: `Purges earlier results, starts one worker per seed, submits a crawl task
for every seed and waits for all of them. The report is generated once every
seed has finished. An interrupt stops the workers and revokes any remaining
tasks before exiting.`,
		RunE: runCrawlCommand,
	}

	flags := cmd.Flags()
	flags.StringSlice("seed", nil, "seed URL (repeatable)")
	flags.String("keyword", "", "target keyword")
	flags.Int("max-depth", 0, "maximum link depth below a seed")
	flags.Int("max-horizon", 0, "links followed per page")
	flags.String("workers", "", "worker mode: goroutine or process")
	flags.String("report", "", "report destination: local path or gs://bucket/object")

	for key, name := range map[string]string{
		"crawler.seeds":       "seed",
		"crawler.keyword":     "keyword",
		"crawler.max_depth":   "max-depth",
		"crawler.max_horizon": "max-horizon",
		"dispatch.workers":    "workers",
		"report.destination":  "report",
	} {
		_ = v.BindPFlag(key, flags.Lookup(name))
	}
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config
	if err := cfg.ValidateRun(); err != nil {
		return err
	}
	logger := appInstance.Logger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := appInstance.ServeMetrics(ctx); err != nil {
		return err
	}
	d, err := appInstance.NewDispatcher(ctx)
	if err != nil {
		return err
	}
	tasks, err := d.Plan(dispatcher.Request{
		Seeds:      cfg.Crawler.Seeds,
		Keyword:    cfg.Crawler.Keyword,
		MaxDepth:   cfg.Crawler.MaxDepth,
		MaxHorizon: cfg.Crawler.MaxHorizon,
	})
	if err != nil {
		return err
	}

	if err := appInstance.Progress.Reset(); err != nil {
		return err
	}
	result, err := d.Run(ctx, tasks)
	if errors.Is(err, context.Canceled) {
		logger.Warn("crawl interrupted; workers stopped and tasks revoked")
		return nil
	}
	if err != nil {
		return fmt.Errorf("run crawl: %w", err)
	}

	if missing := result.Incomplete(); len(missing) > 0 {
		logger.Warn("some seeds never reported", zap.Strings("seeds", missing))
	}
	logger.Info("crawl command finished",
		zap.String("crawl_id", result.CrawlID),
		zap.Int("pages", result.Pages()),
		zap.String("report", result.ReportURI),
	)
	fmt.Fprintln(cmd.OutOrStdout(), result.ReportURI)
	return nil
}
