// Package sysproxy toggles the operating system's SOCKS proxy setting
// so that ordinary applications route through the session tunnel. Only
// macOS is supported; elsewhere the setting is a no-op and users point
// applications at the SOCKS port directly.
package sysproxy

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/elsewhere-cli/elsewhere/internal/logging"
)

// Manager enables and disables the system proxy.
type Manager struct {
	log *logging.Logger
	// goos and run are injectable for tests.
	goos string
	run  func(ctx context.Context, args ...string) (string, error)
}

// NewManager builds a Manager for the current platform.
func NewManager(log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Nop()
	}
	return &Manager{
		log:  log,
		goos: runtime.GOOS,
		run: func(ctx context.Context, args ...string) (string, error) {
			out, err := exec.CommandContext(ctx, "networksetup", args...).CombinedOutput()
			if err != nil {
				return "", fmt.Errorf("networksetup %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
			}
			return string(out), nil
		},
	}
}

// Supported reports whether this platform has a system proxy toggle.
func (m *Manager) Supported() bool {
	return m.goos == "darwin"
}

// Enable points every active network service at the local SOCKS
// listener.
func (m *Manager) Enable(ctx context.Context, localPort int) error {
	if !m.Supported() {
		m.log.Debug("system proxy not supported on this platform", "goos", m.goos)
		return nil
	}

	services, err := m.services(ctx)
	if err != nil {
		return err
	}
	for _, svc := range services {
		if _, err := m.run(ctx, "-setsocksfirewallproxy", svc, "127.0.0.1", strconv.Itoa(localPort)); err != nil {
			return fmt.Errorf("failed to enable system proxy for %q: %w", svc, err)
		}
		if _, err := m.run(ctx, "-setsocksfirewallproxystate", svc, "on"); err != nil {
			return fmt.Errorf("failed to enable system proxy for %q: %w", svc, err)
		}
	}

	m.log.Info("system proxy enabled", "local_port", localPort, "services", len(services))
	return nil
}

// Disable clears the SOCKS setting on every active network service.
// A proxy that is already off is success.
func (m *Manager) Disable(ctx context.Context) error {
	if !m.Supported() {
		return nil
	}

	services, err := m.services(ctx)
	if err != nil {
		return err
	}
	for _, svc := range services {
		if _, err := m.run(ctx, "-setsocksfirewallproxystate", svc, "off"); err != nil {
			return fmt.Errorf("failed to disable system proxy for %q: %w", svc, err)
		}
	}

	m.log.Info("system proxy disabled", "services", len(services))
	return nil
}

// services lists network services, skipping disabled entries, which
// networksetup marks with a leading asterisk.
func (m *Manager) services(ctx context.Context) ([]string, error) {
	out, err := m.run(ctx, "-listallnetworkservices")
	if err != nil {
		return nil, fmt.Errorf("failed to list network services: %w", err)
	}

	var services []string
	for i, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		// First line is a legend, not a service.
		if i == 0 || line == "" || strings.HasPrefix(line, "*") {
			continue
		}
		services = append(services, line)
	}
	return services, nil
}
