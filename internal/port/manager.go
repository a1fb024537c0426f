// Package port resolves the sidecar's listen port across deployment
// environments: a fixed port in Kubernetes/Docker/production, or
// auto-discovery within a configurable range for local development.
// Adapted from core's PortManager (environment-aware port strategy for
// an HTTP tool server), retargeted from a generic BaseTool port onto the
// sidecar.port/sidecar.port_range config keys and logger.Logger's map-of-fields
// contract instead of a variadic one.
package port

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/crossbridge-dev/crossbridge/internal/logger"
)

// Environment is the detected deployment environment.
type Environment string

const (
	EnvLocal      Environment = "local"
	EnvDocker     Environment = "docker"
	EnvKubernetes Environment = "kubernetes"
	EnvProduction Environment = "production"
)

// Strategy is GetStrategy's resolved outcome: which port to use, and why.
type Strategy struct {
	Port         int
	AutoDiscover bool
	Source       string
	Environment  Environment
}

// Manager resolves the sidecar's listen port for the current environment.
type Manager struct {
	host         string
	explicitPort int // 0 means "not set"
	portRange    string
	autoDiscover bool
	env          Environment
	log          logger.Logger
}

// NewManager builds a Manager. explicitPort of 0 means "resolve
// automatically"; a positive port always wins over auto-discovery.
func NewManager(host string, explicitPort int, portRange string, autoDiscover bool, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NoOp{}
	}
	if host == "" {
		host = "0.0.0.0"
	}
	if portRange == "" {
		portRange = "9090-9100"
	}
	return &Manager{
		host:         host,
		explicitPort: explicitPort,
		portRange:    portRange,
		autoDiscover: autoDiscover,
		env:          detectEnvironment(),
		log:          log.WithComponent("port"),
	}
}

func detectEnvironment() Environment {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" || fileExists("/var/run/secrets/kubernetes.io/serviceaccount/token") {
		return EnvKubernetes
	}
	if os.Getenv("COMPOSE_PROJECT_NAME") != "" {
		return EnvDocker
	}
	if os.Getenv("GO_ENV") == "production" || os.Getenv("ENVIRONMENT") == "production" {
		return EnvProduction
	}
	return EnvLocal
}

// GetStrategy determines the port strategy for the current environment:
// Kubernetes/Docker/production favor a fixed port (pods/containers are
// already isolated), local development auto-discovers within the range
// when no explicit port is set.
func (m *Manager) GetStrategy() Strategy {
	if m.explicitPort > 0 {
		return Strategy{Port: m.explicitPort, Source: "explicit-port", Environment: m.env}
	}

	switch m.env {
	case EnvKubernetes:
		return Strategy{Port: 9090, Source: "kubernetes-fixed", Environment: m.env}
	case EnvDocker:
		return Strategy{Port: 9090, Source: "docker-compose", Environment: m.env}
	case EnvProduction:
		return Strategy{Port: 9090, Source: "production-fixed", Environment: m.env}
	default:
		if !m.autoDiscover {
			return Strategy{Port: 9090, Source: "default-port", Environment: m.env}
		}
		return Strategy{Port: m.findAvailablePortInRange(m.portRange), AutoDiscover: true, Source: "auto-discovery", Environment: m.env}
	}
}

// DeterminePort logs and returns the resolved port.
func (m *Manager) DeterminePort() int {
	strategy := m.GetStrategy()
	m.log.Info("port strategy determined", map[string]interface{}{
		"port": strategy.Port, "auto_discover": strategy.AutoDiscover,
		"source": strategy.Source, "environment": string(strategy.Environment),
	})
	return strategy.Port
}

func (m *Manager) findAvailablePortInRange(portRange string) int {
	start, end := m.parsePortRange(portRange)
	for p := start; p <= end; p++ {
		if m.isPortAvailable(p) {
			return p
		}
	}
	m.log.Warn("no ports available in range, falling back to any available port", map[string]interface{}{"range": portRange})
	return m.findAnyAvailablePort()
}

func (m *Manager) parsePortRange(portRange string) (int, int) {
	parts := strings.Split(portRange, "-")
	if len(parts) != 2 {
		return 9090, 9100
	}
	start, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	end, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || start > end {
		return 9090, 9100
	}
	return start, end
}

func (m *Manager) isPortAvailable(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", m.host, port))
	if err != nil {
		return false
	}
	defer listener.Close()
	return true
}

func (m *Manager) findAnyAvailablePort() int {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:0", m.host))
	if err != nil {
		m.log.Error("failed to find any available port", map[string]interface{}{"error": err.Error()})
		return 9090
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}

// ServerAddress returns the host:port listen address for port.
func (m *Manager) ServerAddress(p int) string {
	return fmt.Sprintf("%s:%d", m.host, p)
}

// PublicURL returns a human-facing URL for port, substituting localhost
// for a wildcard bind address.
func (m *Manager) PublicURL(p int) string {
	host := m.host
	if host == "0.0.0.0" || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, p)
}

func fileExists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}
