package logger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T, level string, debug bool, format string) (*StandardLogger, *os.File, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.log")
	f, err := os.Create(path)
	require.NoError(t, err)

	l := New(level, debug)
	l.format = format
	l.output = f
	return l, f, path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(raw)
}

func TestNew_DefaultsLevelToInfo(t *testing.T) {
	l := New("", false)
	assert.Equal(t, "INFO", l.level)
}

func TestNew_DebugLevelEnablesDebugLogging(t *testing.T) {
	l := New("debug", false)
	assert.True(t, l.debug)
}

func TestLog_RespectsLevelFiltering(t *testing.T) {
	l, f, path := newTestLogger(t, "WARN", false, "text")
	l.Info("should be filtered", nil)
	l.Warn("should appear", nil)
	f.Sync()

	out := readFile(t, path)
	assert.NotContains(t, out, "should be filtered")
	assert.Contains(t, out, "should appear")
}

func TestDebug_SuppressedWhenNotEnabled(t *testing.T) {
	l, f, path := newTestLogger(t, "INFO", false, "text")
	l.Debug("hidden", nil)
	f.Sync()
	assert.Empty(t, readFile(t, path))
}

func TestDebug_EmittedWhenEnabled(t *testing.T) {
	l, f, path := newTestLogger(t, "DEBUG", true, "text")
	l.Debug("visible", nil)
	f.Sync()
	assert.Contains(t, readFile(t, path), "visible")
}

func TestJSONFormat_EncodesFieldsAndComponent(t *testing.T) {
	l, f, path := newTestLogger(t, "INFO", false, "json")
	withComp := l.WithComponent("orchestrator")
	withComp.Info("run started", map[string]interface{}{"run_id": "r1"})
	f.Sync()

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(readFile(t, path))), &entry))
	assert.Equal(t, "run started", entry["message"])
	assert.Equal(t, "orchestrator", entry["component"])
	assert.Equal(t, "r1", entry["run_id"])
}

func TestWithComponent_DoesNotMutateParent(t *testing.T) {
	l, _, _ := newTestLogger(t, "INFO", false, "text")
	child := l.WithComponent("child").(*StandardLogger)
	assert.Empty(t, l.component)
	assert.Equal(t, "child", child.component)
}

func TestInfoContext_IncludesRunID(t *testing.T) {
	l, f, path := newTestLogger(t, "INFO", false, "json")
	ctx := WithRunID(context.Background(), "run-42")
	l.InfoContext(ctx, "with run id", nil)
	f.Sync()

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(readFile(t, path))), &entry))
	assert.Equal(t, "run-42", entry["run_id"])
}

func TestError_RateLimited(t *testing.T) {
	l, f, path := newTestLogger(t, "INFO", false, "text")
	l.Error("first", nil)
	l.Error("second", nil)
	f.Sync()

	out := readFile(t, path)
	assert.Contains(t, out, "first")
	assert.NotContains(t, out, "second")
}

func TestRateLimiter_AllowsAfterInterval(t *testing.T) {
	r := newRateLimiter(5 * time.Millisecond)
	assert.True(t, r.allow())
	assert.False(t, r.allow())
	time.Sleep(10 * time.Millisecond)
	assert.True(t, r.allow())
}

func TestNoOp_SatisfiesLoggerWithoutPanicking(t *testing.T) {
	var l Logger = NoOp{}
	l.Info("x", nil)
	l.Warn("x", nil)
	l.Error("x", nil)
	l.Debug("x", nil)
	l.InfoContext(context.Background(), "x", nil)
	l.WarnContext(context.Background(), "x", nil)
	l.ErrorContext(context.Background(), "x", nil)
	l.DebugContext(context.Background(), "x", nil)
	assert.NotNil(t, l.WithComponent("anything"))
}
