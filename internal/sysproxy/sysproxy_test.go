package sysproxy

import (
	"context"
	"strings"
	"testing"

	"github.com/elsewhere-cli/elsewhere/internal/logging"
)

const listOutput = `An asterisk (*) denotes that a network service is disabled.
Wi-Fi
*Thunderbolt Bridge
USB 10/100/1000 LAN
`

func fakeManager(goos string, calls *[][]string) *Manager {
	m := NewManager(logging.Nop())
	m.goos = goos
	m.run = func(ctx context.Context, args ...string) (string, error) {
		*calls = append(*calls, args)
		if args[0] == "-listallnetworkservices" {
			return listOutput, nil
		}
		return "", nil
	}
	return m
}

func TestEnableSetsProxyOnActiveServices(t *testing.T) {
	var calls [][]string
	m := fakeManager("darwin", &calls)

	if err := m.Enable(context.Background(), 1080); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}

	var set, on []string
	for _, call := range calls {
		switch call[0] {
		case "-setsocksfirewallproxy":
			set = append(set, call[1])
			if call[2] != "127.0.0.1" || call[3] != "1080" {
				t.Errorf("proxy target = %s:%s, want 127.0.0.1:1080", call[2], call[3])
			}
		case "-setsocksfirewallproxystate":
			on = append(on, call[1])
			if call[2] != "on" {
				t.Errorf("proxy state = %q, want on", call[2])
			}
		}
	}

	want := []string{"Wi-Fi", "USB 10/100/1000 LAN"}
	if strings.Join(set, ",") != strings.Join(want, ",") {
		t.Errorf("proxy set on %v, want %v (disabled services skipped)", set, want)
	}
	if strings.Join(on, ",") != strings.Join(want, ",") {
		t.Errorf("proxy enabled on %v, want %v", on, want)
	}
}

func TestDisableClearsProxy(t *testing.T) {
	var calls [][]string
	m := fakeManager("darwin", &calls)

	if err := m.Disable(context.Background()); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}

	var off []string
	for _, call := range calls {
		if call[0] == "-setsocksfirewallproxystate" {
			off = append(off, call[1])
			if call[2] != "off" {
				t.Errorf("proxy state = %q, want off", call[2])
			}
		}
	}
	if len(off) != 2 {
		t.Errorf("proxy disabled on %d services, want 2", len(off))
	}
}

func TestUnsupportedPlatformIsNoop(t *testing.T) {
	var calls [][]string
	m := fakeManager("linux", &calls)

	if m.Supported() {
		t.Error("Supported() = true on linux")
	}
	if err := m.Enable(context.Background(), 1080); err != nil {
		t.Errorf("Enable() on linux = %v, want nil", err)
	}
	if err := m.Disable(context.Background()); err != nil {
		t.Errorf("Disable() on linux = %v, want nil", err)
	}
	if len(calls) != 0 {
		t.Errorf("networksetup invoked %d times on linux, want 0", len(calls))
	}
}
