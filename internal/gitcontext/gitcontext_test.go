package gitcontext_test

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossbridge-dev/crossbridge/internal/gitcontext"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func initRepoWithTwoCommits(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
		require.NoError(t, cmd.Run(), "git %v", args)
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one"), 0o644))
	run("add", ".")
	run("commit", "-q", "-m", "first")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("two"), 0o644))
	run("add", ".")
	run("commit", "-q", "-m", "second")
	return dir
}

func TestChangeset_DiffsAgainstPreviousCommit(t *testing.T) {
	requireGit(t)
	dir := initRepoWithTwoCommits(t)

	p := gitcontext.New(dir, nil)
	changed, err := p.Changeset(context.Background(), "")
	require.NoError(t, err)
	_, ok := changed["b.txt"]
	assert.True(t, ok)
}

func TestHistorySlice_EmptyWithoutStore(t *testing.T) {
	p := gitcontext.New(".", nil)
	out, err := p.HistorySlice(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCoverage_MissingFileReturnsEmpty(t *testing.T) {
	p := gitcontext.New(".", nil)
	p.CoveragePath = filepath.Join(t.TempDir(), "nonexistent.json")
	out, err := p.Coverage(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCoverage_LoadsAndNormalizesMap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coverage.json")
	raw, err := json.Marshal(map[string][]string{"src/file.go": {"pytest::a::b"}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	p := gitcontext.New(".", nil)
	p.CoveragePath = path
	out, err := p.Coverage(context.Background())
	require.NoError(t, err)
	require.Contains(t, out, "src/file.go")
	assert.Contains(t, out["src/file.go"], "pytest::a::b")
}

func TestFlakyCache_LoadsList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flaky.json")
	raw, err := json.Marshal([]string{"t1", "t2"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	p := gitcontext.New(".", nil)
	p.FlakyPath = path
	out, err := p.FlakyCache(context.Background())
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestEmbeddings_LoadsVectors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "embeddings.json")
	raw, err := json.Marshal(map[string][]float64{"src/file.go": {0.1, 0.2}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	p := gitcontext.New(".", nil)
	p.EmbeddingsPath = path
	out, err := p.Embeddings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2}, out["src/file.go"])
}
