package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zen-systems/sentinel/pkg/trace"
)

func tracesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "traces",
		Short: "Analyze the reinforcement trace ledger",
	}
	cmd.AddCommand(
		tracesSummaryCmd(),
		tracesListCmd(),
		tracesBestCmd(),
		tracesWorstCmd(),
		tracesExportCmd(),
		tracesTailCmd(),
		tracesIndexCmd(),
	)
	return cmd
}

func indexPath(a *app) string {
	return filepath.Join(filepath.Dir(a.ledger.Path()), "index.db")
}

func tracesSummaryCmd() *cobra.Command {
	var jsonFlag bool
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Success rate, rewards and usage counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.ledger.Load()
			if err != nil {
				return err
			}
			s := trace.Summarize(records)
			if jsonFlag {
				return printJSON(os.Stdout, s)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Traces:\t%d\n", s.Total)
			fmt.Fprintf(w, "Success rate:\t%.1f%% (%d)\n", s.SuccessRate*100, s.Successful)
			fmt.Fprintf(w, "Avg duration:\t%.0f ms\n", s.AvgDurationMs)
			fmt.Fprintf(w, "Avg reward:\t%+.3f over %d rewarded\n", s.AvgReward, s.Rewarded)
			fmt.Fprintf(w, "RAG used:\t%d\n", s.RAGUsed)
			fmt.Fprintf(w, "Tools executed:\t%d\n", s.ToolsExecuted)
			fmt.Fprintf(w, "Degraded:\t%d\n", s.Degraded)
			printCounts(w, "Intent", s.IntentCounts)
			printCounts(w, "Model", s.ModelCounts)
			printCounts(w, "Tool", s.ToolCounts)
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print as JSON")
	return cmd
}

func printCounts(w io.Writer, label string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s\tCOUNT\n", strings.ToUpper(label))
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%d\n", k, counts[k])
	}
}

func tracesListCmd() *cobra.Command {
	var (
		limitFlag     int
		failedFlag    bool
		succeededFlag bool
		minRewardFlag float64
		intentFlag    string
		modelFlag     string
		toolFlag      string
		indexFlag     bool
		jsonFlag      bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent traces, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if failedFlag && succeededFlag {
				return errors.New("--failed and --succeeded are mutually exclusive")
			}
			f := trace.Filter{Limit: limitFlag, Intent: intentFlag, Model: modelFlag, Tool: toolFlag}
			if failedFlag || succeededFlag {
				ok := succeededFlag
				f.Success = &ok
			}
			if cmd.Flags().Changed("min-reward") {
				f.MinReward = &minRewardFlag
			}

			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			var records []trace.Record
			if indexFlag {
				idx, err := trace.OpenIndex(indexPath(a))
				if err != nil {
					return err
				}
				defer idx.Close()
				records, err = idx.Query(f)
				if err != nil {
					return err
				}
			} else {
				all, err := a.ledger.Load()
				if err != nil {
					return err
				}
				records = f.Apply(all)
			}

			if jsonFlag {
				return trace.Export(os.Stdout, records, trace.FormatJSON)
			}
			return printRecords(records)
		},
	}

	cmd.Flags().IntVarP(&limitFlag, "limit", "n", 20, "maximum traces to show (0 for all)")
	cmd.Flags().BoolVar(&failedFlag, "failed", false, "only failed requests")
	cmd.Flags().BoolVar(&succeededFlag, "succeeded", false, "only successful requests")
	cmd.Flags().Float64Var(&minRewardFlag, "min-reward", 0, "only rewarded traces at or above this value")
	cmd.Flags().StringVar(&intentFlag, "intent", "", "only this intent")
	cmd.Flags().StringVar(&modelFlag, "model", "", "only this model")
	cmd.Flags().StringVar(&toolFlag, "tool", "", "only this executed tool")
	cmd.Flags().BoolVar(&indexFlag, "index", false, "query the SQLite index instead of scanning the ledger")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print as JSON")
	return cmd
}

func printRecords(records []trace.Record) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TRACE\tTIME\tINTENT\tMODEL\tTOOL\tOK\tMS\tREWARD\tPROMPT")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\t%d\t%s\t%s\n",
			shortID(r.TraceID), r.Timestamp.Local().Format("01-02 15:04:05"), r.Intent,
			orDash(r.ModelUsed), orDash(r.ToolName()), r.Success, r.DurationMs,
			formatReward(r.Reward), truncate(r.Prompt, 48))
	}
	return w.Flush()
}

func tracesBestCmd() *cobra.Command {
	var jsonFlag bool
	cmd := &cobra.Command{
		Use:   "best",
		Short: "Models and intents ranked by average reward",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.ledger.Load()
			if err != nil {
				return err
			}
			best := trace.Best(records)
			if jsonFlag {
				return printJSON(os.Stdout, best)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			printScores(w, "MODEL", best.Models)
			fmt.Fprintln(w)
			printScores(w, "INTENT", best.Intents)
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print as JSON")
	return cmd
}

func printScores(w io.Writer, label string, scores []trace.Score) {
	fmt.Fprintf(w, "%s\tAVG REWARD\tCOUNT\n", label)
	for _, s := range scores {
		fmt.Fprintf(w, "%s\t%+.3f\t%d\n", s.Key, s.Average, s.Count)
	}
}

func tracesWorstCmd() *cobra.Command {
	var limitFlag int
	var jsonFlag bool
	cmd := &cobra.Command{
		Use:   "worst",
		Short: "Failed or negatively rewarded requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.ledger.Load()
			if err != nil {
				return err
			}
			worst := trace.Worst(records)
			if limitFlag > 0 && len(worst.Records) > limitFlag {
				worst.Records = worst.Records[len(worst.Records)-limitFlag:]
			}
			if jsonFlag {
				return printJSON(os.Stdout, worst)
			}

			if err := printRecords(worst.Records); err != nil {
				return err
			}
			if len(worst.Tools) > 0 {
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				printCounts(w, "Failing tool", worst.Tools)
				return w.Flush()
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limitFlag, "limit", "n", 20, "maximum traces to show (0 for all)")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print as JSON")
	return cmd
}

func tracesExportCmd() *cobra.Command {
	var formatFlag string
	var outputFlag string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all traces as JSON or CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.ledger.Load()
			if err != nil {
				return err
			}

			var w io.Writer = os.Stdout
			if outputFlag != "" && outputFlag != "-" {
				f, err := os.Create(outputFlag)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := trace.Export(w, records, formatFlag); err != nil {
				return err
			}
			if outputFlag != "" && outputFlag != "-" {
				fmt.Fprintf(os.Stderr, "Exported %d traces to %s\n", len(records), outputFlag)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&formatFlag, "format", trace.FormatJSON, "json or csv")
	cmd.Flags().StringVarP(&outputFlag, "output", "o", "", "write to a file instead of stdout")
	return cmd
}

func tracesTailCmd() *cobra.Command {
	var limitFlag int
	var followFlag bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest traces, optionally following new ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.ledger.Load()
			if err != nil {
				return err
			}
			if limitFlag > 0 && len(records) > limitFlag {
				records = records[len(records)-limitFlag:]
			}
			for _, r := range records {
				printTraceLine(r)
			}
			if !followFlag {
				return nil
			}

			err = a.ledger.Follow(cmd.Context(), printTraceLine)
			if cmd.Context().Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&limitFlag, "limit", "n", 10, "traces to show before following")
	cmd.Flags().BoolVarP(&followFlag, "follow", "f", false, "keep printing traces as they are appended")
	return cmd
}

func printTraceLine(r trace.Record) {
	status := "ok"
	if !r.Success {
		status = "FAIL"
	}
	if r.Degraded {
		status += "/degraded"
	}
	line := fmt.Sprintf("%s %s %-18s %-6s model=%s", r.Timestamp.Local().Format("15:04:05"),
		shortID(r.TraceID), r.Intent, status, orDash(r.ModelUsed))
	if name := r.ToolName(); name != "" {
		line += " tool=" + name
	}
	if r.CorrelationID != "" {
		line += " correlates=" + shortID(r.CorrelationID)
	}
	if r.Reward != nil {
		line += " reward=" + formatReward(r.Reward)
	}
	fmt.Println(line)
}

func tracesIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Rebuild the SQLite index from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.ledger.Load()
			if err != nil {
				return err
			}
			idx, err := trace.OpenIndex(indexPath(a))
			if err != nil {
				return err
			}
			defer idx.Close()
			if err := idx.Rebuild(records); err != nil {
				return err
			}
			fmt.Printf("Indexed %d traces into %s\n", len(records), indexPath(a))
			return nil
		},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatReward(r *float64) string {
	if r == nil {
		return "-"
	}
	return fmt.Sprintf("%+.2f", *r)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
