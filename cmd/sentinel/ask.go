package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zen-systems/sentinel/pkg/pipeline"
	"github.com/zen-systems/sentinel/pkg/reward"
	"github.com/zen-systems/sentinel/pkg/router"
)

func dryRunCmd() *cobra.Command {
	var offlineFlag bool
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "dry-run <prompt>",
		Short: "Explain how a prompt would be routed without executing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.pipeline(false)
			if err != nil {
				return err
			}
			e := p.Explain(args[0], offlineFlag || a.cfg.Offline)
			if jsonFlag {
				return printJSON(os.Stdout, e)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Intent:\t%s (confidence %.2f)\n", e.Intent, e.Confidence)
			fmt.Fprintf(w, "Signals:\t%s\n", formatList(e.Signals))
			fmt.Fprintf(w, "Hybrid:\t%s\n", e.Hybrid)
			fmt.Fprintf(w, "Estimated tokens:\t%d (bucket %s)\n", e.EstimatedTokens, orDash(e.ContextBucket))
			fmt.Fprintf(w, "Generation:\ttemperature %.2f, max %d tokens\n", e.Generation.Temperature, e.Generation.MaxTokens)
			fmt.Fprintln(w)

			fmt.Fprintln(w, "STAGE\tREMAINING\tELIMINATED")
			for _, s := range e.Stages {
				var out []string
				for _, el := range s.Eliminated {
					out = append(out, fmt.Sprintf("%s (%s)", el.Backend, el.Reason))
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, formatList(s.Remaining), formatList(out))
			}
			fmt.Fprintln(w)
			fmt.Fprintf(w, "Chain:\t%s\n", formatList(e.Chain))
			fmt.Fprintf(w, "Offline chain:\t%s\n", formatList(e.OfflineChain))
			if e.NoEligible {
				if len(e.OfflineChain) > 0 {
					fmt.Fprintf(w, "Result:\tno eligible backend, the offline chain would be tried\n")
				} else {
					fmt.Fprintf(w, "Result:\tno eligible backend, a degraded answer would be served\n")
				}
			}
			if e.ToolCommand != nil {
				fmt.Fprintf(w, "Tool command:\t%s %v\n", e.ToolCommand.Tool, e.ToolCommand.Args)
			}
			for _, m := range e.Conditions {
				fmt.Fprintf(w, "Condition:\t%s -> %s (priority %d)\n", m.Rule.Name, m.Rule.Tool, m.Rule.Priority)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&offlineFlag, "offline", false, "route to local backends only")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print as JSON")
	return cmd
}

func askCmd() *cobra.Command {
	var (
		offlineFlag    bool
		yesFlag        bool
		privilegedFlag bool
		feedbackFlag   string
		jsonFlag       bool
	)

	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Route a prompt, run any resulting tool and record the trace",
		Long: `Classifies the prompt, answers it with the best eligible backend and,
	for action requests, runs at most one tool. Tools that need confirmation
	are confirmed interactively unless --yes is given. When stdin is a
	terminal and --feedback is not set, you are asked to rate the answer;
	without a rating the auto-reward policy applies.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			fb, err := reward.ParseFeedback(feedbackFlag)
			if err != nil {
				return err
			}

			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.pipeline(privilegedFlag)
			if err != nil {
				return err
			}

			interactive := feedbackFlag == "" && !jsonFlag && isTerminal(os.Stdin) && p.FeedbackWindow() > 0
			out, err := p.Handle(ctx, args[0], pipeline.Options{
				Offline:     offlineFlag || a.cfg.Offline,
				Confirmed:   yesFlag,
				Feedback:    fb,
				DeferReward: interactive,
			})
			if errors.Is(err, router.ErrOverloaded) {
				return fmt.Errorf("%w: try again shortly", err)
			}
			if err != nil {
				return err
			}

			stdin := bufio.NewReader(os.Stdin)
			if pending := out.Pending(); pending != nil {
				accept := confirm(stdin, fmt.Sprintf("Run %s: %s ? [y/N] ", pending.Tool, pending.Command))
				confirmed, err := p.Confirm(ctx, pending.ID, accept)
				if err != nil {
					return err
				}
				out.Tool = confirmed.Tool
				out.ToolErr = confirmed.ToolErr
				out.ToolError = confirmed.ToolError
			}

			if jsonFlag {
				if err := printJSON(os.Stdout, out); err != nil {
					return err
				}
			} else {
				printOutcome(out)
			}

			if out.Tool != nil && out.Tool.Task != nil {
				fmt.Fprintf(os.Stderr, "Waiting for background task %s...\n", out.Tool.Task.ID)
				if err := p.Wait(ctx); err != nil {
					return err
				}
			}

			if interactive {
				fmt.Fprint(os.Stderr, "Was this helpful? [y/n/s] ")
				fb := reward.AwaitFeedback(ctx, stdin, p.FeedbackWindow())
				d, err := p.Feedback(ctx, out.TraceID, fb)
				if err != nil {
					a.logger.Warn("feedback not recorded", "trace_id", out.TraceID, "error", err)
				} else if d.Reward != nil {
					fmt.Fprintf(os.Stderr, "Reward %+.2f (%s)\n", *d.Reward, d.Source)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&offlineFlag, "offline", false, "route to local backends only")
	cmd.Flags().BoolVar(&yesFlag, "yes", false, "approve tools that require confirmation")
	cmd.Flags().BoolVar(&privilegedFlag, "privileged", false, "grant privileged tool execution")
	cmd.Flags().StringVar(&feedbackFlag, "feedback", "", "rate the answer up front: y, n or s")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print the outcome as JSON")
	return cmd
}

func printOutcome(out *pipeline.Outcome) {
	switch {
	case out.Degraded && out.Backend == "":
		fmt.Fprintln(os.Stderr, "Degraded: no backend answered")
	case out.Degraded:
		fmt.Fprintf(os.Stderr, "Answered by %s (offline chain)\n", out.Backend)
	default:
		fmt.Fprintf(os.Stderr, "Answered by %s [%s]\n", out.Backend, out.Intent.Category)
	}
	fmt.Println(out.Answer)

	if len(out.Conditions) > 0 {
		fmt.Fprintf(os.Stderr, "Conditions: %s\n", formatList(out.Conditions))
	}
	if out.Tool != nil {
		fmt.Fprintf(os.Stderr, "Tool %s: %s\n", out.Tool.Tool, out.Tool.State)
		if out.Tool.Stdout != "" {
			fmt.Println(strings.TrimRight(out.Tool.Stdout, "\n"))
		}
	}
	if out.ToolError != "" {
		fmt.Fprintf(os.Stderr, "Tool error: %s\n", out.ToolError)
	}
	fmt.Fprintf(os.Stderr, "Trace %s (%s)\n", out.TraceID, out.Duration.Round(time.Millisecond))
}

// confirm asks on stderr and reads one answer line from in.
func confirm(in *bufio.Reader, question string) bool {
	fmt.Fprint(os.Stderr, question)
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func feedbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feedback <trace-id> <y|n|s>",
		Short: "Attach interactive feedback to a recorded request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fb, err := reward.ParseFeedback(args[1])
			if err != nil {
				return err
			}
			if fb == reward.NoFeedback {
				return fmt.Errorf("feedback is required: y, n or s")
			}

			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.pipeline(false)
			if err != nil {
				return err
			}
			d, err := p.Feedback(cmd.Context(), args[0], fb)
			if err != nil {
				return err
			}
			if d.Reward == nil {
				fmt.Println("Skipped; reward unchanged")
				return nil
			}
			fmt.Printf("Reward %+.2f attached to %s\n", *d.Reward, args[0])
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
