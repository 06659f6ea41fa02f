package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fentz26/worktrace/internal/models"
	"github.com/spf13/cobra"
)

var intervalsCmd = &cobra.Command{
	Use:   "intervals",
	Short: "Inspect and manage recorded intervals",
}

var intervalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List closed intervals in the transfer store",
	RunE:  runIntervalsList,
}

var intervalsOpenCmd = &cobra.Command{
	Use:   "open",
	Short: "List intervals that are currently open",
	RunE:  runIntervalsOpen,
}

var intervalsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove statistics intervals older than the retention window",
	RunE:  runIntervalsPrune,
}

var intervalsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every interval from the transfer and statistics stores",
	RunE:  runIntervalsClear,
}

var (
	listSince time.Duration
	listLimit int
	clearYes  bool
)

func init() {
	intervalsCmd.AddCommand(intervalsListCmd, intervalsOpenCmd, intervalsPruneCmd, intervalsClearCmd)

	intervalsListCmd.Flags().DurationVar(&listSince, "since", 0, "Only intervals that ended within this window (e.g. 2h)")
	intervalsListCmd.Flags().IntVar(&listLimit, "limit", 50, "Show at most this many of the latest intervals (0 for all)")

	intervalsClearCmd.Flags().BoolVar(&clearYes, "yes", false, "Confirm deletion")
}

func runIntervalsList(cmd *cobra.Command, args []string) error {
	query := url.Values{}
	if listSince > 0 {
		query.Set("since", time.Now().Add(-listSince).UTC().Format(time.RFC3339))
	}
	if listLimit > 0 {
		query.Set("limit", strconv.Itoa(listLimit))
	}
	path := "/intervals"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	resp, err := apiGet(path)
	if err != nil {
		return err
	}

	var intervals []models.Interval
	if err := json.Unmarshal(resp, &intervals); err != nil {
		return err
	}
	if len(intervals) == 0 {
		fmt.Println("No intervals found")
		return nil
	}

	printIntervals(intervals, time.Now())
	return nil
}

func runIntervalsOpen(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/intervals/open")
	if err != nil {
		return err
	}

	var intervals []models.Interval
	if err := json.Unmarshal(resp, &intervals); err != nil {
		return err
	}
	if len(intervals) == 0 {
		fmt.Println("No open intervals")
		return nil
	}

	printIntervals(intervals, time.Now())
	return nil
}

func runIntervalsPrune(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/intervals/prune", nil)
	if err != nil {
		return err
	}

	var result struct {
		Removed int `json:"removed"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}

	fmt.Printf("Pruned %d intervals\n", result.Removed)
	return nil
}

func runIntervalsClear(cmd *cobra.Command, args []string) error {
	if !clearYes {
		return fmt.Errorf("refusing to clear the interval stores without --yes")
	}
	if _, err := apiDelete("/intervals"); err != nil {
		return err
	}

	fmt.Println("Interval stores cleared")
	return nil
}

func printIntervals(intervals []models.Interval, now time.Time) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSUBJECT\tSTART\tDURATION")
	for _, iv := range intervals {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			truncateID(iv.ID),
			iv.Type,
			truncate(subject(iv), 40),
			iv.Start.Local().Format("2006-01-02 15:04:05"),
			iv.DurationString(now))
	}
	w.Flush()
}

// subject is the detail that distinguishes intervals of the same type.
func subject(iv models.Interval) string {
	switch {
	case iv.Editor != "":
		return iv.Editor
	case iv.Perspective != "":
		return string(iv.Perspective)
	case iv.TestRun != nil:
		return fmt.Sprintf("%s (%d passed, %d failed)", iv.TestRun.Name, iv.TestRun.Passed, iv.TestRun.Failed)
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
