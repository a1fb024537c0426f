package cliapp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/crossbridge-dev/crossbridge/internal/classifier"
	"github.com/crossbridge-dev/crossbridge/internal/domain"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Classify failure signatures without running any tests",
}

var analyzeRulesPath string

func init() {
	analyzeCmd.PersistentFlags().StringVar(&analyzeRulesPath, "rules", "", "path to a YAML classification rule set (default: built-in rules)")
	analyzeCmd.AddCommand(analyzeLogsCmd)
	analyzeCmd.AddCommand(analyzeDirectoryCmd)
}

var analyzeLogsCmd = &cobra.Command{
	Use:   "logs <file>",
	Short: "Classify a single failure signature read from a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		classify, err := buildClassifierOnly()
		if err != nil {
			return err
		}
		result := classify.Classify(cmd.Context(), filepath.Base(args[0]), string(raw), domain.TestResult{}, domain.TestHistoryEntry{}, false)
		return printClassification(result)
	},
}

var analyzeDirectoryCmd = &cobra.Command{
	Use:   "directory <dir>",
	Short: "Classify every .log/.txt failure signature file in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		classify, err := buildClassifierOnly()
		if err != nil {
			return err
		}

		var results []domain.FailureClassification
		walkErr := filepath.WalkDir(args[0], func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			if !strings.HasSuffix(path, ".log") && !strings.HasSuffix(path, ".txt") {
				return nil
			}
			raw, readErr := os.ReadFile(path)
			if readErr != nil {
				return readErr
			}
			results = append(results, classify.Classify(cmd.Context(), filepath.Base(path), string(raw), domain.TestResult{}, domain.TestHistoryEntry{}, false))
			return nil
		})
		if walkErr != nil {
			return walkErr
		}

		if jsonOut {
			return json.NewEncoder(os.Stdout).Encode(results)
		}
		for _, r := range results {
			_ = printClassification(r)
		}
		return nil
	},
}

func buildClassifierOnly() (*classifier.Classifier, error) {
	rules := classifier.DefaultRules()
	if analyzeRulesPath != "" {
		loaded, err := classifier.LoadRules(analyzeRulesPath)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}
	return classifier.New(classifier.Config{
		Rules:         rules,
		WorkspaceRoot: ".",
	}, nil, rootLog), nil
}

func printClassification(c domain.FailureClassification) error {
	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(c)
	}
	bold := color.New(color.Bold).SprintFunc()
	fmt.Printf("%s  %s  confidence=%.2f\n", bold(c.TestID), c.Category, c.Confidence)
	if c.CodeReference != nil {
		fmt.Printf("  at %s:%d %s\n", c.CodeReference.File, c.CodeReference.Line, c.CodeReference.FunctionOrClass)
	}
	return nil
}
