package cmd

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/M0usa391/video-saver-tik-tok/internal/models"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show and edit the list of past downloads",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List past downloads, newest first",
	Args:  cobra.NoArgs,
	RunE: withHistory(func(cmd *cobra.Command, args []string, s *historySession) error {
		entries := s.Store.Entries()
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No downloads yet.")
			return nil
		}
		return printEntries(cmd.OutOrStdout(), entries)
	}),
}

var historyRenameCmd = &cobra.Command{
	Use:   "rename INDEX NAME",
	Short: "Rename a history entry (INDEX as shown by 'history list')",
	Args:  cobra.MinimumNArgs(2),
	RunE: withHistory(func(cmd *cobra.Command, args []string, s *historySession) error {
		idx, err := parsePosition(args[0])
		if err != nil {
			return err
		}
		if err := s.Store.Rename(idx, strings.Join(args[1:], " ")); err != nil {
			return err
		}
		log.Infof("Renamed entry %s", args[0])
		return nil
	}),
}

var historyDeleteCmd = &cobra.Command{
	Use:     "delete INDEX",
	Aliases: []string{"rm"},
	Short:   "Delete a history entry (INDEX as shown by 'history list')",
	Args:    cobra.ExactArgs(1),
	RunE: withHistory(func(cmd *cobra.Command, args []string, s *historySession) error {
		idx, err := parsePosition(args[0])
		if err != nil {
			return err
		}
		before := s.Store.Len()
		if err := s.Store.Remove(idx); err != nil {
			return err
		}
		if s.Store.Len() == before {
			log.Warnf("No history entry %s", args[0])
		}
		return nil
	}),
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every history entry",
	Args:  cobra.NoArgs,
	RunE: withHistory(func(cmd *cobra.Command, args []string, s *historySession) error {
		n := s.Store.Len()
		if err := s.Store.Clear(); err != nil {
			return err
		}
		log.Infof("Removed %d history entries", n)
		return nil
	}),
}

var historySearchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search history by name or link",
	Long: `Runs a query-string search over the history. Plain words match any field;
use 'name:', 'sourceUrl:' or 'downloadUrl:' to target one.`,
	Args: cobra.MinimumNArgs(1),
	RunE: withHistory(func(cmd *cobra.Command, args []string, s *historySession) error {
		if s.Index == nil {
			return errors.New("history search index is not available")
		}
		query := strings.Join(args, " ")
		res, err := s.Index.Search(query)
		if err != nil {
			return fmt.Errorf("error searching history: %w", err)
		}
		return printSearchResults(cmd.OutOrStdout(), res)
	}),
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyRenameCmd)
	historyCmd.AddCommand(historyDeleteCmd)
	historyCmd.AddCommand(historyClearCmd)
	historyCmd.AddCommand(historySearchCmd)
}

// withHistory opens the history for the duration of fn.
func withHistory(fn func(cmd *cobra.Command, args []string, s *historySession) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := openHistory(globalConfig)
		if err != nil {
			return err
		}
		defer s.Close()
		return fn(cmd, args, s)
	}
}

// parsePosition turns a 1-based list position into a store index.
func parsePosition(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid index %q: expected a positive number", arg)
	}
	return n - 1, nil
}

func printEntries(w io.Writer, entries []models.HistoryEntry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tName\tDate\tSource\tDownload URL")
	fmt.Fprintln(tw, "-\t----\t----\t------\t------------")
	for i, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			i+1,
			e.DisplayName,
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
			e.SourceURL,
			e.DownloadURL,
		)
	}
	return tw.Flush()
}

func printSearchResults(w io.Writer, res *bleve.SearchResult) error {
	if res.Total == 0 {
		fmt.Fprintln(w, "No matching downloads.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tName\tSource\tScore")
	fmt.Fprintln(tw, "-\t----\t------\t-----")
	for _, hit := range res.Hits {
		pos := "?"
		if p, ok := hit.Fields["position"].(float64); ok {
			pos = strconv.Itoa(int(p) + 1)
		}
		fmt.Fprintf(tw, "%s\t%v\t%v\t%.3f\n", pos, hit.Fields["name"], hit.Fields["sourceUrl"], hit.Score)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	log.Debugf("%d matches in %s", res.Total, res.Took)
	return nil
}
