package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zen-systems/sentinel/pkg/tool"
)

func toolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect and invoke catalogued tools",
	}
	cmd.AddCommand(toolsListCmd(), toolsInspectCmd(), toolsSearchCmd(), toolsInvokeCmd())
	return cmd
}

func toolsListCmd() *cobra.Command {
	var jsonFlag bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			tools := a.tools.Registry().List()
			if jsonFlag {
				return printJSON(os.Stdout, tools)
			}
			return printTools(tools)
		},
	}
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print as JSON")
	return cmd
}

func toolsSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Find tools by id, name, description or tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			found := a.tools.Registry().Search(args[0])
			if len(found) == 0 {
				fmt.Printf("No tools match %q\n", args[0])
				return nil
			}
			return printTools(found)
		},
	}
}

func toolsInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <id>",
		Short: "Show a tool's command, isolation and argument schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			t, ok := a.tools.Registry().Get(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", tool.ErrUnknownTool, args[0])
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "ID:\t%s\n", t.ID)
			fmt.Fprintf(w, "Name:\t%s\n", t.Name)
			fmt.Fprintf(w, "Description:\t%s\n", t.Description)
			fmt.Fprintf(w, "Command:\t%s\n", t.Command)
			fmt.Fprintf(w, "Mode:\t%s\n", t.Mode)
			fmt.Fprintf(w, "Privileged:\t%t\n", t.RequiresPrivilege)
			fmt.Fprintf(w, "Confirmation:\t%t\n", t.RequiresConfirmation)
			fmt.Fprintf(w, "Timeout:\t%ds\n", t.TimeoutSeconds)
			fmt.Fprintf(w, "Tags:\t%s\n", formatList(t.Tags))
			for _, ex := range t.Examples {
				fmt.Fprintf(w, "Example:\t%s\n", ex)
			}
			if len(t.Schema) > 0 {
				fmt.Fprintln(w)
				fmt.Fprintln(w, "ARG\tTYPE\tREQUIRED\tDEFAULT\tDESCRIPTION")
				names := make([]string, 0, len(t.Schema))
				for name := range t.Schema {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					f := t.Schema[name]
					def := "-"
					if f.Default != nil {
						def = fmt.Sprint(f.Default)
					}
					fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", name, f.Type, f.Required, def, f.Description)
				}
			}
			return w.Flush()
		},
	}
}

func toolsInvokeCmd() *cobra.Command {
	var (
		modeFlag       string
		privilegedFlag bool
		yesFlag        bool
		jsonFlag       bool
	)

	cmd := &cobra.Command{
		Use:   "invoke <id> [key=value...]",
		Short: "Run a tool directly as the operator",
		Long: `Runs a tool without going through a backend. Arguments are key=value
	pairs and are coerced to the tool's schema types. Privileged tools need
	--privileged; tools that require confirmation prompt unless --yes.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			mode, err := tool.ParseMode(modeFlag)
			if err != nil {
				return err
			}
			toolArgs, err := parseKeyValues(args[1:])
			if err != nil {
				return err
			}

			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.tools.Execute(ctx, tool.Invocation{
				Tool:       args[0],
				Args:       toolArgs,
				Mode:       mode,
				Privileged: privilegedFlag || a.cfg.AllowPrivileged,
				Confirmed:  yesFlag,
			})
			if err == nil && res.Pending != nil {
				p := res.Pending
				accept := confirm(bufio.NewReader(os.Stdin), fmt.Sprintf("Run %s: %s ? [y/N] ", p.Tool, p.Command))
				res, err = a.tools.Resume(ctx, p.ID, accept)
			}
			if err == nil && res.Task != nil {
				fmt.Fprintf(os.Stderr, "Started background task %s, waiting...\n", res.Task.ID)
				res, err = res.Task.Wait(ctx)
			}

			if res != nil {
				if jsonFlag {
					if perr := printJSON(os.Stdout, res); perr != nil {
						return perr
					}
				} else {
					printToolResult(res)
				}
			}
			if errors.Is(err, tool.ErrConfirmationDeclined) {
				fmt.Fprintln(os.Stderr, "Declined")
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&modeFlag, "mode", "", "override isolation mode: safe, privileged, background or sandboxed")
	cmd.Flags().BoolVar(&privilegedFlag, "privileged", false, "grant privileged execution")
	cmd.Flags().BoolVar(&yesFlag, "yes", false, "skip the confirmation prompt")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print the result as JSON")
	return cmd
}

func parseKeyValues(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	args := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("argument %q is not key=value", pair)
		}
		args[strings.TrimSpace(key)] = value
	}
	return args, nil
}

func printTools(tools []*tool.Descriptor) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODE\tPRIVILEGED\tCONFIRM\tDESCRIPTION")
	for _, t := range tools {
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\n", t.ID, t.Mode, t.RequiresPrivilege, t.RequiresConfirmation, t.Description)
	}
	return w.Flush()
}

func printToolResult(res *tool.Result) {
	fmt.Fprintf(os.Stderr, "%s [%s] %s exit=%d (%s)\n", res.Tool, res.Mode, res.State, res.ExitCode, res.Duration)
	if res.Stdout != "" {
		fmt.Print(res.Stdout)
		if !strings.HasSuffix(res.Stdout, "\n") {
			fmt.Println()
		}
	}
	if res.Stderr != "" {
		fmt.Fprint(os.Stderr, res.Stderr)
	}
}
