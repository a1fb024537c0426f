package cliapp

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossbridge-dev/crossbridge/internal/config"
	"github.com/crossbridge-dev/crossbridge/internal/domain"
)

func TestConfigFromContext_ReturnsDefaultsWithoutValue(t *testing.T) {
	cfg := configFrom(context.Background())
	assert.Equal(t, "smoke", cfg.Execution.DefaultStrategy)
}

func TestConfigFromContext_RoundTripsStoredConfig(t *testing.T) {
	custom := config.Defaults()
	custom.Execution.DefaultStrategy = "risk"
	ctx := withConfig(context.Background(), custom)
	assert.Equal(t, "risk", configFrom(ctx).Execution.DefaultStrategy)
}

func TestBuildRequest_ParsesTagsFromFlags(t *testing.T) {
	origInclude, origExclude := execTagsInclude, execTagsExclude
	defer func() { execTagsInclude, execTagsExclude = origInclude, origExclude }()

	execFramework = "pytest"
	execStrategy = "smoke"
	execTagsInclude = []string{" smoke ", "critical"}
	execTagsExclude = []string{"slow"}

	req := buildRequest(config.Defaults())
	assert.Equal(t, domain.FrameworkPytest, req.Framework)
	_, hasSmoke := req.TagsInclude["smoke"]
	assert.True(t, hasSmoke, "tag should be trimmed of surrounding whitespace")
	_, hasSlow := req.TagsExclude["slow"]
	assert.True(t, hasSlow)
}

func TestLoadRulesOrDefault_EmptyPathUsesBuiltins(t *testing.T) {
	orig := rulesPath
	defer func() { rulesPath = orig }()
	rulesPath = ""

	rules, err := loadRulesOrDefault()
	require.NoError(t, err)
	assert.NotEmpty(t, rules)
}

func TestLoadRulesOrDefault_LoadsFromFile(t *testing.T) {
	orig := rulesPath
	defer func() { rulesPath = orig }()

	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	yaml := `
rules:
  - rule_id: custom_timeout
    category: timeout
    priority: 1
    required_substrings: ["timed out"]
    base_confidence: 0.8
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	rulesPath = path

	rules, err := loadRulesOrDefault()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "custom_timeout", rules[0].RuleID)
}

func TestRulesValidateCmd_AcceptsBuiltinRules(t *testing.T) {
	orig := rulesPath
	defer func() { rulesPath = orig }()
	rulesPath = ""

	err := rulesValidateCmd.RunE(rulesValidateCmd, nil)
	assert.NoError(t, err)
}

func TestRulesValidateCmd_RejectsDuplicateRuleID(t *testing.T) {
	orig := rulesPath
	defer func() { rulesPath = orig }()

	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	yaml := `
rules:
  - rule_id: dup
    category: timeout
    priority: 1
    required_substrings: ["a"]
    base_confidence: 0.5
  - rule_id: dup
    category: timeout
    priority: 2
    required_substrings: ["b"]
    base_confidence: 0.5
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	rulesPath = path

	err := rulesValidateCmd.RunE(rulesValidateCmd, nil)
	assert.Error(t, err)
}

func TestBuildClassifierOnly_UsesBuiltinRulesByDefault(t *testing.T) {
	orig := analyzeRulesPath
	defer func() { analyzeRulesPath = orig }()
	analyzeRulesPath = ""

	c, err := buildClassifierOnly()
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestToSidecarConfig_MapsSamplingRatesByEventType(t *testing.T) {
	cfg := config.Defaults()
	cfg.Sidecar.Sampling.Events = 0.3
	cfg.Sidecar.Sampling.TestEvents = 0.4

	sideCfg := toSidecarConfig(cfg)
	assert.Equal(t, cfg.Sidecar.Host, sideCfg.Host)
	assert.Equal(t, 0.3, sideCfg.Rates["events"])
	assert.Equal(t, 0.4, sideCfg.Rates["test_events"])
}

func TestAnalyzeLogsCmd_ClassifiesFileContents(t *testing.T) {
	orig := analyzeRulesPath
	defer func() { analyzeRulesPath = orig }()
	analyzeRulesPath = ""

	dir := t.TempDir()
	path := filepath.Join(dir, "failure.log")
	require.NoError(t, os.WriteFile(path, []byte("ConnectionError: connection refused"), 0o644))

	err := analyzeLogsCmd.RunE(analyzeLogsCmd, []string{path})
	assert.NoError(t, err)
}
