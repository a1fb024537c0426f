// Package gitcontext implements orchestrator.ContextProvider: the
// changeset/history/coverage/flaky-cache/embeddings inputs spec §4.1's
// context assembly step needs. Changeset is grounded on a plain `git diff
// --name-only` shellout (no example repo wraps git, so this follows the
// same os/exec + captured-stdout discipline adapter/process.go uses for
// spawning framework runners). History delegates to persistence.Store;
// the flaky cache, coverage and embeddings are loaded from optional JSON
// sidecar files (coverage produced by the framework's own tooling).
package gitcontext

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/crossbridge-dev/crossbridge/internal/domain"
	"github.com/crossbridge-dev/crossbridge/internal/persistence"
)

// Provider implements orchestrator.ContextProvider against a real git
// worktree plus optional coverage/embeddings/flaky JSON files.
type Provider struct {
	WorkspaceRoot   string
	CoveragePath    string // JSON: {"file": ["test_id", ...]}
	EmbeddingsPath  string // JSON: {"key": [float, ...]}
	FlakyPath       string // JSON: ["test_id", ...]
	HistoryWindow   time.Duration
	Store           *persistence.Store
}

func New(workspaceRoot string, store *persistence.Store) *Provider {
	return &Provider{
		WorkspaceRoot: workspaceRoot,
		Store:         store,
		HistoryWindow: 30 * 24 * time.Hour,
	}
}

// Changeset runs `git diff --name-only baseBranch...HEAD` and returns the
// changed file paths relative to the workspace root. An empty baseBranch
// defaults to comparing against HEAD~1.
func (p *Provider) Changeset(ctx context.Context, baseBranch string) (map[string]struct{}, error) {
	ref := baseBranch
	if ref == "" {
		ref = "HEAD~1"
	}

	cmd := exec.CommandContext(ctx, "git", "diff", "--name-only", fmt.Sprintf("%s...HEAD", ref))
	cmd.Dir = p.WorkspaceRoot

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git diff against %s: %w: %s", ref, err, stderr.String())
	}

	changed := map[string]struct{}{}
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			changed[line] = struct{}{}
		}
	}
	return changed, nil
}

// HistorySlice delegates to the persistence store, which itself returns
// an empty map (never an error that aborts context assembly) during a
// Redis outage.
func (p *Provider) HistorySlice(ctx context.Context, testIDs []string) (map[string]domain.TestHistoryEntry, error) {
	if p.Store == nil {
		return map[string]domain.TestHistoryEntry{}, nil
	}
	return p.Store.LoadHistorySlice(ctx, testIDs, p.HistoryWindow)
}

// Coverage loads a file->test-ids map from CoveragePath if configured.
func (p *Provider) Coverage(ctx context.Context) (map[string]map[string]struct{}, error) {
	if p.CoveragePath == "" {
		return map[string]map[string]struct{}{}, nil
	}
	raw, err := os.ReadFile(p.CoveragePath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]map[string]struct{}{}, nil
		}
		return nil, err
	}

	var parsed map[string][]string
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse coverage file %s: %w", p.CoveragePath, err)
	}

	coverage := make(map[string]map[string]struct{}, len(parsed))
	for file, testIDs := range parsed {
		set := make(map[string]struct{}, len(testIDs))
		for _, id := range testIDs {
			set[id] = struct{}{}
		}
		coverage[filepath.ToSlash(file)] = set
	}
	return coverage, nil
}

// FlakyCache loads a list of test ids from FlakyPath if configured.
func (p *Provider) FlakyCache(ctx context.Context) (map[string]struct{}, error) {
	if p.FlakyPath == "" {
		return map[string]struct{}{}, nil
	}
	raw, err := os.ReadFile(p.FlakyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]struct{}{}, nil
		}
		return nil, err
	}

	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("parse flaky cache %s: %w", p.FlakyPath, err)
	}

	flaky := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		flaky[id] = struct{}{}
	}
	return flaky, nil
}

// Embeddings loads a key->vector map from EmbeddingsPath if configured,
// feeding the impacted strategy's semantic-neighbor scoring.
func (p *Provider) Embeddings(ctx context.Context) (map[string][]float64, error) {
	if p.EmbeddingsPath == "" {
		return map[string][]float64{}, nil
	}
	raw, err := os.ReadFile(p.EmbeddingsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]float64{}, nil
		}
		return nil, err
	}

	var parsed map[string][]float64
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse embeddings file %s: %w", p.EmbeddingsPath, err)
	}
	return parsed, nil
}
