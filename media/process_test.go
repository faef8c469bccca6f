package media

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func stubScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proc-stub.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProcExitCode(t *testing.T) {
	p, err := spawn(stubScript(t, "exit 3"), nil, "test", nil)
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}
	<-p.Done()
	if code := p.ExitCode(); code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
}

func TestProcStderrLines(t *testing.T) {
	var lines []string
	p, err := spawn(stubScript(t, `echo one >&2
echo two >&2`), nil, "test", func(line string) { lines = append(lines, line) })
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}
	<-p.Done()
	if len(lines) != 2 || lines[0] != "one" || lines[1] != "two" {
		t.Errorf("stderr lines = %v, want [one two]", lines)
	}
}

func TestProcGracefulStop(t *testing.T) {
	p, err := spawn(stubScript(t, "exec sleep 60"), nil, "test", nil)
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}

	start := time.Now()
	p.Stop(2*time.Second, 2*time.Second)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("graceful stop took %v, polite signal should have sufficed", elapsed)
	}

	select {
	case <-p.Done():
	default:
		t.Error("process still running after Stop returned")
	}
}

func TestProcForceKillAfterGrace(t *testing.T) {
	// The stub ignores the polite signal, forcing escalation.
	p, err := spawn(stubScript(t, `trap '' INT TERM
while true; do sleep 1; done`), nil, "test", nil)
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		p.Stop(300*time.Millisecond, 3*time.Second)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return; escalation to SIGKILL failed")
	}
}
