package cliapp

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/crossbridge-dev/crossbridge/internal/apperrors"
	"github.com/crossbridge-dev/crossbridge/internal/classifier"
	"github.com/crossbridge-dev/crossbridge/internal/config"
	"github.com/crossbridge-dev/crossbridge/internal/domain"
	"github.com/crossbridge-dev/crossbridge/internal/gitcontext"
	"github.com/crossbridge-dev/crossbridge/internal/orchestrator"
	"github.com/crossbridge-dev/crossbridge/internal/persistence"
	"github.com/crossbridge-dev/crossbridge/internal/strategy"
)

var execCmd = &cobra.Command{
	Use:   "exec",
	Short: "Plan and run a test execution",
}

var (
	execFramework   string
	execStrategy    string
	execEnvironment string
	execCI          bool
	execDryRun      bool
	execMaxTests    int
	execMaxMinutes  int
	execParallel    bool
	execBaseBranch  string
	execTagsInclude []string
	execTagsExclude []string
)

func init() {
	for _, cmd := range []*cobra.Command{execPlanCmd, execRunCmd} {
		cmd.Flags().StringVar(&execFramework, "framework", "", "framework adapter (pytest, jest, cypress, ...)")
		cmd.Flags().StringVar(&execStrategy, "strategy", "smoke", "selection strategy: smoke, impacted, risk, full")
		cmd.Flags().StringVar(&execEnvironment, "environment", "local", "target environment name")
		cmd.Flags().BoolVar(&execCI, "ci", false, "running under CI (affects fallback safety nets)")
		cmd.Flags().IntVar(&execMaxTests, "max-tests", 0, "cap on selected test count, 0 = no cap")
		cmd.Flags().IntVar(&execMaxMinutes, "max-duration-minutes", 0, "wall-clock budget, 0 = no cap")
		cmd.Flags().BoolVar(&execParallel, "parallel", false, "request parallel execution where the adapter supports it")
		cmd.Flags().StringVar(&execBaseBranch, "base-branch", "", "git ref to diff against for impacted selection")
		cmd.Flags().StringSliceVar(&execTagsInclude, "tags", nil, "only consider tests with these tags")
		cmd.Flags().StringSliceVar(&execTagsExclude, "exclude-tags", nil, "exclude tests with these tags")
		_ = cmd.MarkFlagRequired("framework")
	}
	execRunCmd.Flags().BoolVar(&execDryRun, "dry-run", false, "select tests without executing them")
	execCmd.AddCommand(execPlanCmd)
	execCmd.AddCommand(execRunCmd)
}

var execPlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show which tests a strategy would select, without running them",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := configFrom(cmd.Context())
		req := buildRequest(cfg)

		o, _, err := buildOrchestrator(cfg)
		if err != nil {
			return err
		}
		plan, err := o.Plan(cmd.Context(), req)
		if err != nil {
			exitError(err.Error())
			return err
		}
		return printPlan(plan)
	},
}

var execRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Select tests, run them, classify failures",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := configFrom(cmd.Context())
		req := buildRequest(cfg)
		req.DryRun = execDryRun

		o, store, err := buildOrchestrator(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if store != nil {
				_ = store.Cleanup(cmd.Context(), cfg.Database.CleanupDays)
			}
		}()

		result, err := o.Execute(cmd.Context(), req)
		if err != nil {
			exitError(err.Error())
			return err
		}
		if printErr := printResult(result); printErr != nil {
			return printErr
		}
		if len(result.Failed) > 0 {
			return fmt.Errorf("%d test(s) failed: %w", len(result.Failed), apperrors.ErrTestsFailed)
		}
		return nil
	},
}

func buildRequest(cfg *config.Config) *domain.ExecutionRequest {
	tagsInclude := map[string]struct{}{}
	for _, t := range execTagsInclude {
		tagsInclude[strings.TrimSpace(t)] = struct{}{}
	}
	tagsExclude := map[string]struct{}{}
	for _, t := range execTagsExclude {
		tagsExclude[strings.TrimSpace(t)] = struct{}{}
	}

	return &domain.ExecutionRequest{
		Framework:          domain.Framework(execFramework),
		Strategy:           domain.Strategy(execStrategy),
		Environment:        execEnvironment,
		CI:                 execCI,
		MaxTests:           execMaxTests,
		MaxDurationMinutes: execMaxMinutes,
		TagsInclude:        tagsInclude,
		TagsExclude:        tagsExclude,
		Parallel:           execParallel,
		BaseBranch:         execBaseBranch,
		Metadata:           map[string]string{},
	}
}

// buildOrchestrator wires the orchestrator and its collaborators from
// loaded config, mirroring the construction a sidecar-embedded or
// standalone `exec` invocation both need.
func buildOrchestrator(cfg *config.Config) (*orchestrator.Orchestrator, *persistence.Store, error) {
	log := rootLog
	store := persistence.New(persistence.Config{
		RedisURL:    cfg.Database.RedisURL,
		SpoolDir:    cfg.Database.SpoolDir,
		CleanupDays: cfg.Database.CleanupDays,
	}, log)

	rules := classifier.DefaultRules()
	classify := classifier.New(classifier.Config{
		Rules:         rules,
		WorkspaceRoot: ".",
		AIEnabled:     cfg.Execution.AI.Enabled,
		AITimeout:     cfg.Execution.AI.Timeout,
		AIMaxBudget:   cfg.Execution.AI.MaxBudget,
	}, nil, log)

	ctxProvider := gitcontext.New(".", store)

	orchCfg := orchestrator.DefaultConfig()
	smokeTags := map[string]struct{}{}
	for _, t := range cfg.Execution.SmokeTags {
		smokeTags[t] = struct{}{}
	}
	orchCfg.StrategyConfig = strategy.Config{
		SmokeTags:          smokeTags,
		ImpactedMinTests:   cfg.Execution.ImpactedMinTests,
		ImpactedSimilarity: cfg.Execution.ImpactedSimilarity,
		RiskMaxTests:       cfg.Execution.RiskMaxTests,
	}
	orchCfg.ArtifactsDir = cfg.Execution.ReportsDir
	orchCfg.GraceSeconds = cfg.Execution.GraceTerminationSec

	o := orchestrator.New(orchCfg, ctxProvider, store, classify, log)
	return o, store, nil
}

func printPlan(plan *domain.ExecutionPlan) error {
	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(plan)
	}
	bold := color.New(color.Bold).SprintFunc()
	fmt.Printf("%s %s (%d tests)\n", bold("strategy:"), plan.Strategy, len(plan.Selected))
	for _, id := range plan.Selected {
		fmt.Printf("  %-60s priority=%d  %s\n", id, plan.Priority[id], plan.Reason[id])
	}
	return nil
}

func printResult(result *domain.ExecutionResult) error {
	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(result)
	}
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	status := green(string(result.Status))
	if result.Status != domain.StatusPassed {
		status = red(string(result.Status))
	}
	fmt.Printf("status: %s  passed=%d failed=%d skipped=%d  duration=%dms\n",
		status, len(result.Passed), len(result.Failed), len(result.Skipped), result.WallClockDurationMs)
	return nil
}
