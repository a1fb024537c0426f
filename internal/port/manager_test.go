package port_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossbridge-dev/crossbridge/internal/logger"
	"github.com/crossbridge-dev/crossbridge/internal/port"
)

func TestNewManager(t *testing.T) {
	m := port.NewManager("127.0.0.1", 0, "19090-19100", true, logger.NoOp{})
	require.NotNil(t, m)
}

func TestManager_GetStrategy_ExplicitPort(t *testing.T) {
	m := port.NewManager("127.0.0.1", 19999, "19090-19100", true, logger.NoOp{})
	strategy := m.GetStrategy()
	assert.Equal(t, 19999, strategy.Port)
	assert.Equal(t, "explicit-port", strategy.Source)
}

func TestManager_GetStrategy_AutoDiscovery(t *testing.T) {
	m := port.NewManager("127.0.0.1", 0, "19090-19100", true, logger.NoOp{})
	strategy := m.GetStrategy()
	assert.GreaterOrEqual(t, strategy.Port, 19090)
	assert.True(t, strategy.AutoDiscover)
}

func TestManager_DeterminePort(t *testing.T) {
	m := port.NewManager("127.0.0.1", 0, "19090-19100", true, logger.NoOp{})
	p := m.DeterminePort()
	assert.GreaterOrEqual(t, p, 19090)
	assert.LessOrEqual(t, p, 19100)
}

func TestManager_ServerAddressAndPublicURL(t *testing.T) {
	m := port.NewManager("0.0.0.0", 0, "19090-19100", true, logger.NoOp{})
	assert.Equal(t, "0.0.0.0:9090", m.ServerAddress(9090))
	assert.Equal(t, "http://localhost:9090", m.PublicURL(9090))
}
