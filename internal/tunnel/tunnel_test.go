package tunnel

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func testSupervisor() *Supervisor {
	s := NewSupervisor()
	s.probeInterval = time.Millisecond
	return s
}

func TestSSHArgs(t *testing.T) {
	args := sshArgs(Spec{
		PublicIP:  "198.51.100.7",
		KeyPath:   "/home/u/.elsewhere/keys/sess.pem",
		LocalPort: 1080,
	})
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-f", "-N",
		"-D 1080",
		"-i /home/u/.elsewhere/keys/sess.pem",
		"ExitOnForwardFailure=yes",
		"ec2-user@198.51.100.7",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("ssh args missing %q: %s", want, joined)
		}
	}
}

func TestEstablish(t *testing.T) {
	var ranArgs []string
	dials := 0

	s := testSupervisor()
	s.run = func(ctx context.Context, name string, args ...string) error {
		if name != "ssh" {
			t.Errorf("ran %q, want ssh", name)
		}
		ranArgs = args
		return nil
	}
	s.dial = func(addr string) error {
		dials++
		if dials < 3 {
			return errors.New("connection refused")
		}
		if addr != "127.0.0.1:1080" {
			t.Errorf("dialed %q, want 127.0.0.1:1080", addr)
		}
		return nil
	}
	s.findPID = func(ctx context.Context, localPort int) (int, error) {
		return 4242, nil
	}

	pid, err := s.Establish(context.Background(), Spec{
		PublicIP:  "198.51.100.7",
		KeyPath:   "/tmp/key.pem",
		LocalPort: 1080,
	})
	if err != nil {
		t.Fatalf("Establish() error = %v", err)
	}
	if pid != 4242 {
		t.Errorf("pid = %d, want 4242", pid)
	}
	if len(ranArgs) == 0 {
		t.Error("ssh never ran")
	}
	if dials < 3 {
		t.Errorf("expected readiness probing, got %d dials", dials)
	}
}

func TestEstablishStartFailure(t *testing.T) {
	s := testSupervisor()
	s.run = func(ctx context.Context, name string, args ...string) error {
		return errors.New("ssh: connect to host: connection timed out")
	}

	_, err := s.Establish(context.Background(), Spec{PublicIP: "198.51.100.7", LocalPort: 1080})
	if err == nil {
		t.Fatal("expected error when ssh fails to start")
	}
}

func TestEstablishReadinessTimeout(t *testing.T) {
	s := testSupervisor()
	s.run = func(ctx context.Context, name string, args ...string) error { return nil }
	s.dial = func(addr string) error { return errors.New("connection refused") }

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Establish(ctx, Spec{PublicIP: "198.51.100.7", LocalPort: 1080})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestAlive(t *testing.T) {
	if !Alive(os.Getpid()) {
		t.Error("Alive(self) = false")
	}
	if Alive(0) || Alive(-1) {
		t.Error("Alive accepted a non-positive pid")
	}
}

func TestAliveDeadProcess(t *testing.T) {
	cmd := exec.Command("true")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start helper process: %v", err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Wait(); err != nil {
		t.Fatalf("helper exited with error: %v", err)
	}
	if Alive(pid) {
		t.Errorf("Alive(%d) = true for a reaped process", pid)
	}
}

func TestStopIdempotent(t *testing.T) {
	cmd := exec.Command("true")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start helper process: %v", err)
	}
	pid := cmd.Process.Pid
	_ = cmd.Wait()

	if err := testSupervisor().Stop(pid); err != nil {
		t.Errorf("Stop() on dead process = %v, want nil", err)
	}
}

func TestStopLiveProcess(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start helper process: %v", err)
	}
	pid := cmd.Process.Pid

	// Reap concurrently so the child does not linger as a zombie,
	// which would still answer the liveness probe.
	done := make(chan struct{})
	go func() { _ = cmd.Wait(); close(done) }()

	if err := testSupervisor().Stop(pid); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process never exited after Stop")
	}
	if Alive(pid) {
		t.Error("process still alive after Stop")
	}
}
