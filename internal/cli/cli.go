package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vk/quern/internal/app"
	"github.com/vk/quern/internal/config"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// options holds the persistent flag values shared by every subcommand.
// Config precedence is defaults, then the workspace config file, then
// any flag the user actually set.
type options struct {
	chdir     string
	rules     string
	workers   int
	logLevel  string
	logFormat string
}

// New builds the root command. All command output goes to outW.
func New(outW io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "quern",
		Short: "quern is an incremental build runner with content-based staleness",
		Long: "quern rebuilds declared outputs from rule files, rerunning only the\n" +
			"functions whose inputs, options, or outputs actually changed since the\n" +
			"last run. State lives in the workspace under .quern/.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(outW)
	root.SetErr(outW)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &ExitError{Code: 2, Message: err.Error()}
	})

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.chdir, "chdir", "C", ".", "Workspace root to operate in.")
	pf.StringVar(&opts.rules, "rules", "", "Path to a rule file or directory of rule files.")
	pf.IntVar(&opts.workers, "workers", 0, "Number of concurrent build workers.")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: 'debug', 'info', 'warn' or 'error'.")
	pf.StringVar(&opts.logFormat, "log-format", "", "Log output format: 'text' or 'json'.")

	root.AddCommand(
		newRunCmd(outW, opts),
		newPlanCmd(outW, opts),
		newCleanCmd(outW, opts),
		newWatchCmd(outW, opts),
	)
	return root
}

// Execute runs the CLI. Callers map *ExitError to a process exit code.
func Execute(ctx context.Context, outW io.Writer, args []string) error {
	root := New(outW)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRunCmd(outW io.Writer, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Bring every declared output up to date",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd, outW, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			_, err = a.Run(cmd.Context())
			return err
		},
	}
}

func newPlanCmd(outW io.Writer, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show what would be rebuilt, without building anything",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd, outW, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			_, err = a.Plan(cmd.Context())
			return err
		},
	}
}

func newCleanCmd(outW io.Writer, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Delete all generated files and reset the snapshot",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd, outW, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			_, err = a.Clean(cmd.Context())
			return err
		},
	}
}

func newWatchCmd(outW io.Writer, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Rebuild continuously as workspace files change",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd, outW, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Watch(cmd.Context())
		},
	}
}

// buildApp loads the workspace config, overlays the flags the user set,
// and constructs the application. Validation problems are usage errors.
func buildApp(cmd *cobra.Command, outW io.Writer, opts *options) (*app.App, error) {
	root, err := filepath.Abs(opts.chdir)
	if err != nil {
		return nil, &ExitError{Code: 2, Message: fmt.Sprintf("resolve workspace root: %v", err)}
	}

	cfg, err := config.FromWorkspace(root)
	if err != nil {
		return nil, &ExitError{Code: 2, Message: err.Error()}
	}

	f := cmd.Flags()
	if f.Changed("workers") {
		cfg.Workers = opts.workers
	}
	if f.Changed("rules") {
		cfg.Rules = opts.rules
	}
	if f.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if f.Changed("log-format") {
		cfg.LogFormat = opts.logFormat
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, &ExitError{Code: 2, Message: err.Error()}
	}

	a, err := app.New(outW, &cfg, root)
	if err != nil {
		return nil, &ExitError{Code: 2, Message: err.Error()}
	}
	return a, nil
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return &ExitError{Code: 2, Message: fmt.Sprintf("unexpected argument %q", args[0])}
	}
	return nil
}
