package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zen-systems/sentinel/pkg/registry"
)

func routesCmd() *cobra.Command {
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Show current routing rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			rc := a.router.Config()
			if jsonFlag {
				return printJSON(os.Stdout, map[string]any{
					"default_model":  rc.DefaultModel,
					"offline_chain":  rc.OfflineChain,
					"intents":        a.router.Routes(),
					"performance":    rc.Performance,
					"context":        rc.Context,
					"load_balancing": rc.LoadBalancing,
					"retry":          rc.Retry,
				})
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "INTENT\tCAPABILITIES\tTIER\tPREFERRED")
			for _, r := range a.router.Routes() {
				caps := make([]string, len(r.Capabilities))
				for i, c := range r.Capabilities {
					caps[i] = string(c)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Intent, formatList(caps), r.Tier, formatList(r.Preferred))
			}
			fmt.Fprintln(w)
			fmt.Fprintf(w, "DEFAULT\t%s\n", rc.DefaultModel)
			fmt.Fprintf(w, "OFFLINE CHAIN\t%s\n", formatList(rc.OfflineChain))
			fmt.Fprintln(w)

			fmt.Fprintln(w, "TIER\tMODELS")
			tiers := make([]string, 0, len(rc.Performance))
			for t := range rc.Performance {
				tiers = append(tiers, t)
			}
			sort.Slice(tiers, func(i, j int) bool {
				return registry.Tier(tiers[i]).Rank() < registry.Tier(tiers[j]).Rank()
			})
			for _, t := range tiers {
				fmt.Fprintf(w, "%s\t%s\n", t, formatList(rc.Performance[t]))
			}
			fmt.Fprintln(w)

			fmt.Fprintln(w, "CONTEXT\tMAX TOKENS\tMODELS")
			buckets := make([]string, 0, len(rc.Context))
			for b := range rc.Context {
				buckets = append(buckets, b)
			}
			sort.Slice(buckets, func(i, j int) bool {
				return rc.Context[buckets[i]].MaxTokens < rc.Context[buckets[j]].MaxTokens
			})
			for _, b := range buckets {
				fmt.Fprintf(w, "%s\t%d\t%s\n", b, rc.Context[b].MaxTokens, formatList(rc.Context[b].Models))
			}
			fmt.Fprintln(w)

			lb := rc.LoadBalancing
			fmt.Fprintf(w, "LOAD BALANCING\t%s, max %d in flight, timeout %dms, %d attempts\n",
				lb.Strategy, lb.MaxConcurrentRequests, lb.TimeoutMs, lb.RetryAttempts)
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print as JSON")
	return cmd
}

func modelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List and inspect registered model backends",
	}

	var jsonFlag bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered models",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if jsonFlag {
				return printJSON(os.Stdout, a.registry.List())
			}
			return printModels(a.registry.List())
		},
	}
	list.Flags().BoolVar(&jsonFlag, "json", false, "print as JSON")

	inspect := &cobra.Command{
		Use:   "inspect <id>",
		Short: "Show one model entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			d, ok := a.registry.Get(args[0])
			if !ok {
				return fmt.Errorf("unknown model %q", args[0])
			}
			return printJSON(os.Stdout, d)
		},
	}

	fit := &cobra.Command{
		Use:   "context <tokens>",
		Short: "Show the smallest-context model that fits a token budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := strconv.Atoi(args[0])
			if err != nil || tokens < 0 {
				return fmt.Errorf("invalid token count %q", args[0])
			}
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			d, ok := a.registry.ForContext(tokens)
			if !ok {
				return fmt.Errorf("no model has a context window of %d tokens", tokens)
			}
			if bucket, ok := a.router.Config().ContextBucketFor(tokens); ok {
				fmt.Fprintf(os.Stderr, "Context bucket: %s\n", bucket)
			}
			return printModels([]*registry.Descriptor{d})
		},
	}

	cmd.AddCommand(list, inspect, fit)
	return cmd
}

func printModels(models []*registry.Descriptor) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROVIDER\tLOCATION\tTRUSTED\tTOOLS\tTIER\tCONTEXT\tPRIORITY\tCAPABILITIES")
	for _, d := range models {
		location := "remote"
		if d.Local {
			location = "local"
		}
		caps := make([]string, len(d.Capabilities))
		for i, c := range d.Capabilities {
			caps[i] = string(c)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%s\t%d\t%d\t%s\n",
			d.ID, d.Provider, location, d.Trusted, d.AllowToolCalls, d.Tier, d.ContextLength, d.Priority, formatList(caps))
	}
	return w.Flush()
}
