package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/spf13/cobra"

	"kraina-desktop/db"
	"kraina-desktop/utils"
)

func init() {
	rootCmd.AddCommand(
		newListCmd(),
		newSearchCmd(),
		newStatsCmd(),
		newExportCmd(),
		newImportCmd(),
	)
}

func newListCmd() *cobra.Command {
	f := newDataFlags()
	var all bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations, pinned first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			database, err := f.open()
			if err != nil {
				return err
			}
			defer database.Close()

			var active *bool
			if !all {
				t := true
				active = &t
			}
			convs, err := database.ListConversations(active, limit)
			if err != nil {
				return err
			}
			printConversations(cmd.OutOrStdout(), convs)
			return nil
		},
	}
	f.BindFlags(cmd.Flags())
	cmd.Flags().BoolVar(&all, "all", false, "Include hidden conversations")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of conversations, -1 for all")
	return cmd
}

func printConversations(out io.Writer, convs []*db.Conversation) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPIN\tACTIVE\tASSISTANT\tNAME\tUPDATED")
	for _, c := range convs {
		pin := ""
		if c.Pinned() {
			pin = fmt.Sprint(c.Priority)
		}
		name := c.Name
		if name == "" {
			name = utils.Shorten(c.Description, 40)
		}
		fmt.Fprintf(w, "%d\t%s\t%t\t%s\t%s\t%s\n", c.ID, pin, c.Active, c.Assistant, name, c.UpdatedAt.Format(time.DateTime))
	}
	w.Flush()
}

func newSearchCmd() *cobra.Command {
	f := newDataFlags()
	var limit int
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search message text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := f.open()
			if err != nil {
				return err
			}
			defer database.Close()

			results, err := database.SearchMessages(strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CONV\tTYPE\tSNIPPET")
			for _, r := range results {
				fmt.Fprintf(w, "%d\t%s\t%s\n", r.ConversationID, r.Message.Type, strings.ReplaceAll(r.Snippet, "\n", " "))
			}
			return w.Flush()
		},
	}
	f.BindFlags(cmd.Flags())
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of results")
	return cmd
}

func newStatsCmd() *cobra.Command {
	f := newDataFlags()
	var days int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show token usage and database statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			database, err := f.open()
			if err != nil {
				return err
			}
			defer database.Close()

			end := time.Now()
			start := time.Time{}
			if days > 0 {
				start = end.AddDate(0, 0, -days)
			}
			usage, err := database.GetUsageStats(start, end)
			if err != nil {
				return err
			}
			dbStats, err := database.GetStats()
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"usage": usage, "database": dbStats, "daily": summarizeDaily(usage.DailyStats)})
			}
			printStats(cmd.OutOrStdout(), usage, dbStats)
			return nil
		},
	}
	f.BindFlags(cmd.Flags())
	cmd.Flags().IntVar(&days, "days", 30, "Only count the last N days, 0 for all time")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

// dailySummary describes the spread of tokens per active day
type dailySummary struct {
	Days   int     `json:"days"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
}

func summarizeDaily(daily []*db.DailyUsageStats) dailySummary {
	values := make([]float64, 0, len(daily))
	for _, d := range daily {
		values = append(values, float64(d.TotalTokens))
	}
	s := dailySummary{Days: len(values)}
	if len(values) == 0 {
		return s
	}
	data := stats.LoadRawData(values)
	s.Mean, _ = stats.Mean(data)
	s.Median, _ = stats.Median(data)
	s.P95, _ = stats.Percentile(data, 95)
	return s
}

func printStats(out io.Writer, usage *db.UsageStats, dbStats *db.DBStats) {
	fmt.Fprintf(out, "Conversations: %d, messages: %d, database size: %d KB\n",
		dbStats.ConversationCount, dbStats.MessageCount, dbStats.DBSizeBytes/1024)
	fmt.Fprintf(out, "Turns: %d (failed %d), tokens: %d\n", usage.TotalTurns, usage.FailedTurns, usage.TotalTokens)
	if d := summarizeDaily(usage.DailyStats); d.Days > 0 {
		fmt.Fprintf(out, "Tokens per active day: mean %.0f, median %.0f, p95 %.0f over %d days\n", d.Mean, d.Median, d.P95, d.Days)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nASSISTANT\tTURNS\tTOKENS")
	for name, s := range usage.AssistantStats {
		fmt.Fprintf(w, "%s\t%d\t%d\n", name, s.Turns, s.TotalTokens)
	}
	fmt.Fprintln(w, "\nMODEL\tTURNS\tINPUT\tOUTPUT")
	for name, s := range usage.ModelStats {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", name, s.Turns, s.InputTokens, s.OutputTokens)
	}
	w.Flush()
}

func newExportCmd() *cobra.Command {
	f := newDataFlags()
	var convID int64
	var format, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export one conversation (JSON or Markdown) or all of them (JSON)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			exportFormat := utils.ExportFormat(format)
			if exportFormat == "md" {
				exportFormat = utils.FormatMarkdown
			}
			if exportFormat != utils.FormatJSON && exportFormat != utils.FormatMarkdown {
				return fmt.Errorf("unknown format %q", format)
			}
			if convID == 0 && exportFormat != utils.FormatJSON {
				return fmt.Errorf("exporting all conversations only supports json")
			}

			database, err := f.open()
			if err != nil {
				return err
			}
			defer database.Close()

			path, err := exportPath(out, convID, exportFormat)
			if err != nil {
				return err
			}
			switch {
			case convID == 0:
				err = utils.ExportAllConversations(database, path)
			case exportFormat == utils.FormatMarkdown:
				err = utils.ExportConversationToMarkdown(database, convID, path)
			default:
				err = utils.ExportConversationToJSON(database, convID, path)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	f.BindFlags(cmd.Flags())
	cmd.Flags().Int64Var(&convID, "conv", 0, "Conversation id, 0 exports all conversations")
	cmd.Flags().StringVar(&format, "format", string(utils.FormatJSON), "json or markdown")
	cmd.Flags().StringVarP(&out, "output", "o", "", "Output file (default: export folder)")
	return cmd
}

func exportPath(out string, convID int64, format utils.ExportFormat) (string, error) {
	if out != "" {
		return out, nil
	}
	dir, err := utils.GetDefaultExportPath()
	if err != nil {
		return "", err
	}
	title := "all_conversations"
	if convID != 0 {
		title = fmt.Sprintf("conversation_%d", convID)
	}
	return filepath.Join(dir, utils.GenerateExportFilename(title, format)), nil
}

func newImportCmd() *cobra.Command {
	f := newDataFlags()
	var single bool
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import conversations exported as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := f.open()
			if err != nil {
				return err
			}
			defer database.Close()

			if single {
				id, err := utils.ImportConversation(database, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported conversation %d\n", id)
				return nil
			}
			n, err := utils.ImportAllConversations(database, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d conversations\n", n)
			return nil
		},
	}
	f.BindFlags(cmd.Flags())
	cmd.Flags().BoolVar(&single, "single", false, "The file holds one conversation export")
	return cmd
}
