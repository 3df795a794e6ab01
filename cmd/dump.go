package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/relevance-crawler/internal/crawler"
)

var dumpColumns = []string{
	"id", "crawl_id", "url", "depth", "links_found",
	"relevance_score", "context_snippet", "duration", "total_duration",
}

func newDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Prints the row count, columns and rows of the result table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			rows, err := a.Store.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("read results: %w", err)
			}
			return writeDump(cmd.OutOrStdout(), a.Config.Store.Table, rows)
		},
	}
}

func writeDump(w io.Writer, table string, rows []crawler.CrawlResult) error {
	if _, err := fmt.Fprintf(w, "table %s: %d rows\n", table, len(rows)); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(dumpColumns, "\t"))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join([]string{
			strconv.FormatInt(r.ID, 10),
			r.CrawlID,
			r.URL,
			strconv.Itoa(r.Depth),
			strconv.Itoa(r.LinksFound),
			strconv.FormatFloat(r.RelevanceScore, 'f', 4, 64),
			r.ContextSnippet,
			r.Duration.String(),
			r.TotalDuration.String(),
		}, "\t"))
	}
	return tw.Flush()
}
