package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossbridge-dev/crossbridge/internal/domain"
)

func TestRunProcess_SuccessfulExit(t *testing.T) {
	dir := t.TempDir()
	cmd := Command{Argv: []string{"true"}, Cwd: dir}
	exitCode, status, _, _, err := runProcess(context.Background(), cmd, ExecuteOptions{ArtifactsDir: dir})
	require.NoError(t, err)
	assert.Equal(t, 0, exitCode)
	assert.Equal(t, domain.StatusPassed, status)
}

func TestRunProcess_NonZeroExit(t *testing.T) {
	dir := t.TempDir()
	cmd := Command{Argv: []string{"false"}, Cwd: dir}
	exitCode, status, _, _, err := runProcess(context.Background(), cmd, ExecuteOptions{ArtifactsDir: dir})
	require.NoError(t, err)
	assert.NotEqual(t, 0, exitCode)
	assert.Equal(t, domain.StatusFailed, status)
}

func TestRunProcess_ContextCancellation(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	cmd := Command{Argv: []string{"sleep", "5"}, Cwd: dir}
	_, status, _, _, err := runProcess(ctx, cmd, ExecuteOptions{ArtifactsDir: dir, GraceSeconds: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, status)
}

func TestRunProcess_EmptyArgv(t *testing.T) {
	_, status, _, _, err := runProcess(context.Background(), Command{}, ExecuteOptions{})
	assert.Error(t, err)
	assert.Equal(t, domain.StatusError, status)
}
