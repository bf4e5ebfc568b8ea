package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/verdict/pkg/advisor"
	"github.com/codeready-toolchain/verdict/pkg/client"
	"github.com/codeready-toolchain/verdict/pkg/config"
	"github.com/codeready-toolchain/verdict/pkg/judge"
	"github.com/codeready-toolchain/verdict/pkg/launcher"
	"github.com/codeready-toolchain/verdict/pkg/masking"
	"github.com/codeready-toolchain/verdict/pkg/model"
	"github.com/codeready-toolchain/verdict/pkg/resilience"
	"github.com/codeready-toolchain/verdict/pkg/transport"
	"github.com/codeready-toolchain/verdict/pkg/version"
)

// Exit codes of the run command.
const (
	exitOK           = 0
	exitFailure      = 1
	exitUnknownAgent = 2
	exitMissingInput = 3
)

// run builds the command tree and executes it, returning the process exit
// code.
func run(args []string) int {
	var (
		configPath string
		verbose    bool
	)

	root := &cobra.Command{
		Use:           "verdict",
		Short:         "Run coding agents and judge their work",
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "verdict.yaml", "path to the configuration file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	exitCode := exitOK
	root.AddCommand(newRunCmd(&configPath, &exitCode))
	root.AddCommand(newVendorsCmd(&configPath))
	root.AddCommand(newAgentsCmd())

	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if exitCode == exitOK {
			return exitFailure
		}
	}
	return exitCode
}

// buildClient assembles the runtime for one vendor from configuration.
func buildClient(configPath, vendor string, advisors ...advisor.CallAdvisor) (*client.AgentClient, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	tr, err := transport.New(vendor, transport.Config{
		Vendor:        cfg.Vendor(vendor),
		Breakers:      resilience.NewRegistry(),
		BreakerPreset: cfg.Resilience.BreakerPreset,
		Retry: &resilience.RetryPolicy{
			MaxAttempts:       cfg.Resilience.MaxAttempts,
			InitialDelay:      cfg.Resilience.InitialDelay.Std(),
			BackoffMultiplier: 2.0,
			MaxDelay:          cfg.Resilience.MaxDelay.Std(),
		},
		Masker: masking.NewService(),
	})
	if err != nil {
		return nil, err
	}

	agent, err := model.NewAgentModel(tr, transport.Options{Vendor: vendor})
	if err != nil {
		return nil, err
	}
	return client.New(agent, advisors...)
}

func newRunCmd(configPath *string, exitCode *int) *cobra.Command {
	var (
		vendor    string
		workDir   string
		modelName string
		yolo      bool
		timeout   time.Duration
		judgeFile string
	)

	cmd := &cobra.Command{
		Use:   "run <agent-id> [key=value...]",
		Short: "Run a registered agent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentID := args[0]

			inputs, err := launcher.ParseInputs(args[1:])
			if err != nil {
				*exitCode = exitMissingInput
				return err
			}

			registry := launcher.NewRegistry()
			goal, err := registry.RenderGoal(agentID, inputs)
			if err != nil {
				switch {
				case errors.Is(err, launcher.ErrUnknownAgent):
					*exitCode = exitUnknownAgent
				default:
					var missing *launcher.MissingInputError
					if errors.As(err, &missing) {
						*exitCode = exitMissingInput
					} else {
						*exitCode = exitFailure
					}
				}
				return err
			}

			var advisors []advisor.CallAdvisor
			if judgeFile != "" {
				fileJudge, err := judge.NewFileExistsJudge(judgeFile)
				if err != nil {
					*exitCode = exitFailure
					return err
				}
				judgeAdvisor, err := advisor.NewJudgeAdvisor(fileJudge)
				if err != nil {
					*exitCode = exitFailure
					return err
				}
				advisors = append(advisors, judgeAdvisor)
			}

			c, err := buildClient(*configPath, vendor, advisors...)
			if err != nil {
				*exitCode = exitFailure
				return err
			}

			resp, err := c.Goal(goal).
				WorkingDirectory(workDir).
				Options(transport.Options{Model: modelName, Yolo: yolo, Timeout: timeout}).
				Run(cmd.Context())
			if err != nil {
				*exitCode = exitFailure
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), resp.Response.Result())

			if judgment, ok := resp.Judgment(); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "\njudgment: %s (%s)\n", judgment.Status, judgment.Reasoning)
				if !judgment.Pass() {
					*exitCode = exitFailure
					return nil
				}
			}
			if !resp.IsSuccessful() {
				*exitCode = exitFailure
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&vendor, "vendor", "claude", "agent vendor (claude, gemini, codex, amp, swe)")
	cmd.Flags().StringVar(&workDir, "workdir", "", "workspace directory (default: a fresh temp dir)")
	cmd.Flags().StringVar(&modelName, "model", "", "model override")
	cmd.Flags().BoolVar(&yolo, "yolo", false, "auto-approve all tool use")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "execution timeout override")
	cmd.Flags().StringVar(&judgeFile, "expect-file", "", "judge the run by checking this file exists in the workspace")
	return cmd
}

func newVendorsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "vendors",
		Short: "List supported vendors and their availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			registry := resilience.NewRegistry()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			for _, vendor := range transport.Vendors() {
				tr, err := transport.New(vendor, transport.Config{
					Vendor:   cfg.Vendor(vendor),
					Breakers: registry,
				})
				if err != nil {
					return err
				}
				status := "unavailable"
				if tr.IsAvailable(ctx) {
					status = "available"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", vendor, status)
			}
			return nil
		},
	}
}

func newAgentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List registered agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := launcher.NewRegistry()
			for _, id := range registry.IDs() {
				def, _ := registry.Lookup(id)
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", id, def.Description)
			}
			return nil
		},
	}
}
