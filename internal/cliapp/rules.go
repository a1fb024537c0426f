package cliapp

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/crossbridge-dev/crossbridge/internal/classifier"
	"github.com/crossbridge-dev/crossbridge/internal/domain"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and validate the classifier rule set",
}

var rulesPath string

func init() {
	rulesCmd.PersistentFlags().StringVar(&rulesPath, "file", "", "path to a YAML rule set (default: built-in rules)")
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesTestCmd)
	rulesCmd.AddCommand(rulesValidateCmd)
}

func loadRulesOrDefault() ([]domain.ClassificationRule, error) {
	if rulesPath == "" {
		return classifier.DefaultRules(), nil
	}
	return classifier.LoadRules(rulesPath)
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all classification rules, ordered by priority",
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := loadRulesOrDefault()
		if err != nil {
			return err
		}
		sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })
		if jsonOut {
			return json.NewEncoder(os.Stdout).Encode(rules)
		}
		bold := color.New(color.Bold).SprintFunc()
		for _, r := range rules {
			fmt.Printf("%-4d %-28s %-22s confidence=%.2f required=%v\n",
				r.Priority, bold(r.RuleID), r.Category, r.BaseConfidence, r.RequiredSubstrings)
		}
		return nil
	},
}

var rulesTestCmd = &cobra.Command{
	Use:   "test <signature-file>",
	Short: "Run the deterministic classification stage against one signature file, printing the matched rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := loadRulesOrDefault()
		if err != nil {
			return err
		}
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		c := classifier.New(classifier.Config{Rules: rules}, nil, rootLog)
		result := c.Classify(cmd.Context(), args[0], string(raw), domain.TestResult{}, domain.TestHistoryEntry{}, false)
		return printClassification(result)
	},
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a rule set file: unique rule_ids, non-empty required_substrings or a regex, confidence in [0,1]",
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := loadRulesOrDefault()
		if err != nil {
			return err
		}
		seen := map[string]bool{}
		for _, r := range rules {
			if r.RuleID == "" {
				return fmt.Errorf("rule with empty rule_id")
			}
			if seen[r.RuleID] {
				return fmt.Errorf("duplicate rule_id: %s", r.RuleID)
			}
			seen[r.RuleID] = true
			if len(r.RequiredSubstrings) == 0 && r.Regex == "" {
				return fmt.Errorf("rule %s: must have required_substrings or regex", r.RuleID)
			}
			if r.BaseConfidence < 0 || r.BaseConfidence > 1 {
				return fmt.Errorf("rule %s: base_confidence must be in [0,1]", r.RuleID)
			}
		}
		fmt.Printf("%d rules valid\n", len(rules))
		return nil
	},
}
