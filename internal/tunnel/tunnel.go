// Package tunnel supervises the SSH process that carries session
// traffic. The tunnel runs as a detached ssh subprocess exposing a
// local SOCKS listener, so it survives the CLI exiting between
// commands; liveness is checked by PID.
package tunnel

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/juju/clock"

	"github.com/elsewhere-cli/elsewhere/internal/logging"
)

// remoteUser is the login user on the session instance.
const remoteUser = "ec2-user"

// Spec describes the tunnel to establish.
type Spec struct {
	// PublicIP is the session instance's address.
	PublicIP string
	// KeyPath is the private key file on the local disk.
	KeyPath string
	// LocalPort is the SOCKS listener port.
	LocalPort int
}

// Supervisor starts, probes, and stops tunnel processes.
type Supervisor struct {
	clock clock.Clock
	log   *logging.Logger

	probeInterval time.Duration
	// run launches the ssh command; injectable for tests.
	run func(ctx context.Context, name string, args ...string) error
	// dial probes the local SOCKS listener; injectable for tests.
	dial func(addr string) error
	// findPID resolves the listener port to the surviving ssh PID;
	// injectable for tests.
	findPID func(ctx context.Context, localPort int) (int, error)
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithClock sets the clock used for readiness probing.
func WithClock(clk clock.Clock) Option {
	return func(s *Supervisor) { s.clock = clk }
}

// WithLogger sets the diagnostic logger.
func WithLogger(log *logging.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// NewSupervisor builds a Supervisor.
func NewSupervisor(opts ...Option) *Supervisor {
	s := &Supervisor{
		clock:         clock.WallClock,
		log:           logging.Nop(),
		probeInterval: 500 * time.Millisecond,
		run: func(ctx context.Context, name string, args ...string) error {
			cmd := exec.CommandContext(ctx, name, args...)
			out, err := cmd.CombinedOutput()
			if err != nil {
				return fmt.Errorf("%s: %w: %s", name, err, string(out))
			}
			return nil
		},
		dial: func(addr string) error {
			conn, err := net.DialTimeout("tcp", addr, time.Second)
			if err != nil {
				return err
			}
			return conn.Close()
		},
	}
	s.findPID = s.lsofPID
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// sshArgs builds the ssh invocation. -f backgrounds ssh after
// authentication, -N skips the remote command, -D opens the SOCKS
// listener. Host keys are unknown for a fresh instance, so checking
// is disabled and nothing is recorded in known_hosts.
func sshArgs(spec Spec) []string {
	return []string{
		"-f", "-N",
		"-D", strconv.Itoa(spec.LocalPort),
		"-i", spec.KeyPath,
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "ExitOnForwardFailure=yes",
		"-o", "ServerAliveInterval=30",
		"-o", "ServerAliveCountMax=3",
		"-o", "ConnectTimeout=10",
		fmt.Sprintf("%s@%s", remoteUser, spec.PublicIP),
	}
}

// Establish starts the tunnel, waits for the SOCKS listener to accept
// connections, and returns the PID of the backgrounded ssh process.
// The caller bounds the whole operation through ctx.
func (s *Supervisor) Establish(ctx context.Context, spec Spec) (int, error) {
	s.log.Debug("starting tunnel", "public_ip", spec.PublicIP, "local_port", spec.LocalPort)

	if err := s.run(ctx, "ssh", sshArgs(spec)...); err != nil {
		return 0, fmt.Errorf("failed to start tunnel: %w", err)
	}

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(spec.LocalPort))
	for {
		if err := s.dial(addr); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("tunnel never became ready: %w", ctx.Err())
		case <-s.clock.After(s.probeInterval):
		}
	}

	pid, err := s.findPID(ctx, spec.LocalPort)
	if err != nil {
		return 0, err
	}

	s.log.Info("tunnel established", "pid", pid, "local_port", spec.LocalPort)
	return pid, nil
}

// lsofPID locates the backgrounded ssh by the port it listens on.
// ssh -f forks, so the PID of the command we ran is not the PID of the
// process that survives.
func (s *Supervisor) lsofPID(ctx context.Context, localPort int) (int, error) {
	out, err := exec.CommandContext(ctx, "lsof", "-t", "-i", fmt.Sprintf("tcp:%d", localPort), "-s", "TCP:LISTEN").Output()
	if err != nil {
		return 0, fmt.Errorf("failed to locate tunnel process: %w", err)
	}

	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return 0, fmt.Errorf("no process listening on port %d", localPort)
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, fmt.Errorf("unexpected lsof output %q: %w", fields[0], err)
	}
	return pid, nil
}

// Alive reports whether the tunnel process still exists. Signal 0
// checks existence without delivering anything.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Alive reports whether the tunnel process still exists.
func (s *Supervisor) Alive(pid int) bool {
	return Alive(pid)
}

// Stop terminates the tunnel process. An already-dead tunnel is
// success.
func (s *Supervisor) Stop(pid int) error {
	if !Alive(pid) {
		s.log.Debug("tunnel already stopped", "pid", pid)
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if err == os.ErrProcessDone {
			return nil
		}
		return fmt.Errorf("failed to stop tunnel (pid %d): %w", pid, err)
	}

	// Give ssh a moment to exit cleanly before escalating.
	deadline := s.clock.Now().Add(3 * time.Second)
	for s.clock.Now().Before(deadline) {
		if !Alive(pid) {
			s.log.Info("tunnel stopped", "pid", pid)
			return nil
		}
		<-s.clock.After(100 * time.Millisecond)
	}

	if err := proc.Kill(); err != nil && err != os.ErrProcessDone {
		return fmt.Errorf("failed to kill tunnel (pid %d): %w", pid, err)
	}
	s.log.Warn("tunnel killed after grace period", "pid", pid)
	return nil
}
