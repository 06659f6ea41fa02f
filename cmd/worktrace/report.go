package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fentz26/worktrace/internal/archive"
	"github.com/fentz26/worktrace/internal/stats"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show time spent per interval type over the retention window",
	RunE:  runStats,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Archive the transfer store and empty it",
	Long: `Writes every interval in the transfer store to a zstd-compressed JSON
lines file in the archive directory, then removes the exported intervals.
With --list, shows the archives already written instead.`,
	RunE: runExport,
}

var (
	statsJSON  bool
	exportList bool
)

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Print the raw summary as JSON")
	exportCmd.Flags().BoolVar(&exportList, "list", false, "List existing archives without exporting")
}

func runStats(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/stats")
	if err != nil {
		return err
	}
	if statsJSON {
		fmt.Println(string(resp))
		return nil
	}

	var summary stats.Summary
	if err := json.Unmarshal(resp, &summary); err != nil {
		return err
	}

	if summary.From.IsZero() {
		fmt.Println("No activity recorded yet")
		return nil
	}
	fmt.Printf("From %s to %s\n\n",
		summary.From.Local().Format("2006-01-02 15:04"),
		summary.To.Local().Format("2006-01-02 15:04"))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tCOUNT\tTIME")
	for _, row := range summary.Types {
		fmt.Fprintf(w, "%s\t%d\t%s\n", row.Name, row.Count, row.Human)
	}
	if len(summary.Perspectives) > 0 {
		fmt.Fprintln(w, "\t\t")
		fmt.Fprintln(w, "PERSPECTIVE\tCOUNT\tTIME")
		for _, row := range summary.Perspectives {
			fmt.Fprintf(w, "%s\t%d\t%s\n", row.Name, row.Count, row.Human)
		}
	}
	w.Flush()

	if t := summary.Tests; t.Runs > 0 {
		fmt.Printf("\nTests: %d runs, %d passed, %d failed, %d errors, %d skipped\n",
			t.Runs, t.Passed, t.Failed, t.Errors, t.Skipped)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	if exportList {
		return listArchives(cmd.OutOrStdout())
	}

	resp, err := apiPost("/export", nil)
	if err != nil {
		return err
	}

	var result archive.Result
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}

	fmt.Printf("Exported %d intervals to %s\n", result.Count, result.Path)
	return nil
}

func listArchives(out io.Writer) error {
	resp, err := apiGet("/archives")
	if err != nil {
		return err
	}

	var infos []archive.Info
	if err := json.Unmarshal(resp, &infos); err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Fprintln(out, "No archives")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ARCHIVE\tINTERVALS")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%d\n", info.Path, info.Count)
	}
	return w.Flush()
}
