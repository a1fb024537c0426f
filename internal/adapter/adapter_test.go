package adapter_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossbridge-dev/crossbridge/internal/adapter"
	"github.com/crossbridge-dev/crossbridge/internal/domain"
)

func TestGet_KnownFramework(t *testing.T) {
	a, err := adapter.Get(domain.FrameworkPytest)
	require.NoError(t, err)
	assert.Equal(t, domain.FrameworkPytest, a.Framework())
}

func TestGet_UnknownFramework(t *testing.T) {
	_, err := adapter.Get(domain.Framework("no-such-framework"))
	assert.Error(t, err)
}

func TestAll_ListsEveryRegisteredFramework(t *testing.T) {
	infos := adapter.All()
	assert.GreaterOrEqual(t, len(infos), 13)
}

func TestPytestAdapter_Discover(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "login_test.py"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "not_a_test.txt"), []byte(""), 0o644))

	a, err := adapter.Get(domain.FrameworkPytest)
	require.NoError(t, err)

	ids, err := a.Discover(nil, dir)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Contains(t, ids[0], "login_test")
}

func TestPytestAdapter_PlanToCommand(t *testing.T) {
	a, err := adapter.Get(domain.FrameworkPytest)
	require.NoError(t, err)

	plan := &domain.ExecutionPlan{Selected: []string{"pytest::a_test.py::test_login"}}
	cmd, err := a.PlanToCommand(plan, "/work", "http://localhost:9090")
	require.NoError(t, err)
	assert.Contains(t, cmd.Argv, "pytest")
	assert.Contains(t, cmd.Env, "CROSSBRIDGE_SIDECAR_URL=http://localhost:9090")
}
