package ctl

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"marcutd/internal/common/fsutil"
	"marcutd/pkg/types"
)

// Config carries CLI-level settings shared by all subcommands.
type Config struct {
	// Addr is the daemon's control API address.
	Addr string
}

// DefaultAddr resolves the daemon address from the environment.
func DefaultAddr() string {
	if v := os.Getenv("MARCUTD_ADDR"); v != "" {
		return v
	}
	return "127.0.0.1:8199"
}

// BuildRootCmd constructs the marcutctl command tree.
func BuildRootCmd(cfg *Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "marcutctl",
		Short:         "Control the marcutd model service daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfg.Addr, "addr", cfg.Addr, "marcutd control API address (defaults MARCUTD_ADDR or 127.0.0.1:8199)")

	statusCmd := &cobra.Command{
		Use:     "status",
		Short:   "Show supervisor state, pid, port, and model availability",
		Example: "  marcutctl status",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := NewClient(cfg.Addr).Status(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "state:\t%s\n", st.State)
			if st.PID != 0 {
				fmt.Fprintf(w, "pid:\t%d\n", st.PID)
				fmt.Fprintf(w, "port:\t%d\n", st.Port)
				fmt.Fprintf(w, "uptime:\t%ds\n", st.UptimeSeconds)
			}
			if st.Model != "" {
				fmt.Fprintf(w, "model:\t%s (available: %v)\n", st.Model, st.ModelAvailable)
			}
			return w.Flush()
		},
	}

	modelsCmd := &cobra.Command{
		Use:     "models",
		Short:   "List models in the local store",
		Example: "  marcutctl models",
		RunE: func(cmd *cobra.Command, args []string) error {
			models, err := NewClient(cfg.Addr).Models(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tAVAILABLE\tSIZE\tPATH")
			for _, m := range models {
				fmt.Fprintf(w, "%s\t%v\t%d\t%s\n", m.ID, m.Available, m.Size, fsutil.RemoveHomePrefix(m.Path))
			}
			return w.Flush()
		},
	}

	var ensureModel string
	var ensureForce bool
	ensureCmd := &cobra.Command{
		Use:     "ensure",
		Short:   "Bring the model service up, optionally with a model present",
		Example: "  marcutctl ensure --model llama3.2:3b",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := NewClient(cfg.Addr).Ensure(cmd.Context(), ensureModel, ensureForce)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "service %s on port %d\n", st.State, st.Port)
			return nil
		},
	}
	ensureCmd.Flags().StringVar(&ensureModel, "model", "", "Model that must be available after the call")
	ensureCmd.Flags().BoolVar(&ensureForce, "force", false, "Re-probe even when a recent check succeeded")

	pullCmd := &cobra.Command{
		Use:     "pull <model>",
		Short:   "Download a model, streaming progress",
		Example: "  marcutctl pull llama3.2:3b",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := NewClient(cfg.Addr).Pull(signalContext(cmd.Context()), args[0], func(u types.ProgressUpdate) {
				printProgress(cmd, u)
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "done")
			return nil
		},
	}

	jobCmd := &cobra.Command{Use: "job", Short: "Redaction jobs", RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("job requires a subcommand: run")
	}}
	var jobReq types.JobRequest
	jobRun := &cobra.Command{
		Use:     "run",
		Short:   "Run a redaction job, streaming progress",
		Example: "  marcutctl job run --input in.pdf --output out.pdf --model llama3.2:3b",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobReq.Input == "" || jobReq.Output == "" {
				return fmt.Errorf("--input and --output are required")
			}
			err := NewClient(cfg.Addr).RunJob(signalContext(cmd.Context()), jobReq, func(u types.ProgressUpdate) {
				printProgress(cmd, u)
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "done")
			return nil
		},
	}
	jobRun.Flags().StringVar(&jobReq.Input, "input", "", "Input document path")
	jobRun.Flags().StringVar(&jobReq.Output, "output", "", "Output document path")
	jobRun.Flags().StringVar(&jobReq.Report, "report", "", "Report file path")
	jobRun.Flags().StringVar(&jobReq.Mode, "mode", "", "Redaction mode")
	jobRun.Flags().StringVar(&jobReq.Model, "model", "", "Model identifier")
	jobCmd.AddCommand(jobRun)

	completionCmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	completionCmd.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenBashCompletion(os.Stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenZshCompletion(os.Stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenFishCompletion(os.Stdout, true) }})

	root.AddCommand(statusCmd, modelsCmd, ensureCmd, pullCmd, jobCmd, completionCmd)
	return root
}

func printProgress(cmd *cobra.Command, u types.ProgressUpdate) {
	switch {
	case u.Message != "":
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", u.Message)
	case u.Phase != "":
		fmt.Fprintf(cmd.OutOrStdout(), "%s %.0f%%\n", u.Phase, u.Overall)
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "%.0f%%\n", u.Overall)
	}
}

// signalContext cancels on Ctrl+C so in-flight streams shut down cleanly.
func signalContext(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx
}
