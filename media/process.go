package media

import (
	"bufio"
	"errors"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Proc wraps one spawned external process. It exposes the exit event as a
// channel, the exit code after that channel is closed, and a two-stage
// stop: polite signal first, SIGKILL after the grace window.
type Proc struct {
	tag string
	cmd *exec.Cmd

	done     chan struct{}
	exitErr  error
	exitOnce sync.Once

	sigMu    sync.Mutex
	signaled bool
}

// spawn starts binary with args and begins draining its stderr. Each
// stderr line is passed to onLine when non-nil; ffmpeg writes all
// diagnostics there. A nil return error guarantees the process is running.
func spawn(binary string, args []string, tag string, onLine func(string)) (*Proc, error) {
	cmd := exec.Command(binary, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = nil

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &Proc{
		tag:  tag,
		cmd:  cmd,
		done: make(chan struct{}),
	}

	log.Printf("[%s] Process started (pid %d)", tag, cmd.Process.Pid)

	go func() {
		p.drainStderr(stderr, onLine)
		err := cmd.Wait()
		p.exitOnce.Do(func() {
			p.exitErr = err
			close(p.done)
		})
	}()

	return p, nil
}

// Done is closed when the process has exited and its stderr is drained.
func (p *Proc) Done() <-chan struct{} {
	return p.done
}

// ExitCode is valid only after Done is closed. Returns 0 for a clean
// exit, the process exit code otherwise, or -1 when the process was
// killed by a signal.
func (p *Proc) ExitCode() int {
	if p.exitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(p.exitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

// Pid returns the OS process id.
func (p *Proc) Pid() int {
	return p.cmd.Process.Pid
}

// Stop signals the process to terminate gracefully and escalates to
// SIGKILL when it has not exited after grace. It blocks until the process
// is gone or killWait elapses after the kill, never indefinitely.
func (p *Proc) Stop(grace, killWait time.Duration) {
	p.signal(syscall.SIGINT)

	select {
	case <-p.done:
		return
	case <-time.After(grace):
	}

	log.Printf("[%s] Graceful stop timed out after %v, killing pid %d", p.tag, grace, p.cmd.Process.Pid)
	p.Kill()

	select {
	case <-p.done:
	case <-time.After(killWait):
		log.Printf("[%s] Process did not exit after SIGKILL", p.tag)
	}
}

// Kill sends SIGKILL without waiting.
func (p *Proc) Kill() {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Printf("[%s] Failed to kill process: %v", p.tag, err)
	}
}

// signal sends sig once; repeated stop requests do not re-signal.
func (p *Proc) signal(sig syscall.Signal) {
	p.sigMu.Lock()
	defer p.sigMu.Unlock()
	if p.signaled {
		return
	}
	p.signaled = true
	if err := p.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Printf("[%s] Failed to signal process: %v", p.tag, err)
	}
}

// drainStderr reads process diagnostics line by line until EOF.
func (p *Proc) drainStderr(r io.Reader, onLine func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		if onLine != nil {
			onLine(scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("[%s] Error reading process output: %v", p.tag, err)
	}
}
