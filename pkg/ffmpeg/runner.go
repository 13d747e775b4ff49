package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrNotInstalled is returned when the ffmpeg or ffprobe binary is missing.
var ErrNotInstalled = errors.New("ffmpeg binary not found in PATH")

// Binary and ProbeBinary name the executables; tests and deployments with
// non-standard installs may point them elsewhere.
var (
	Binary      = "ffmpeg"
	ProbeBinary = "ffprobe"
)

// Available reports whether both binaries can be found.
func Available() bool {
	if _, err := exec.LookPath(Binary); err != nil {
		return false
	}
	_, err := exec.LookPath(ProbeBinary)
	return err == nil
}

// Process is a running ffmpeg.
type Process struct {
	cmd    *exec.Cmd
	done   chan struct{}
	err    error
	stderr bytes.Buffer
}

// PID returns the OS process id.
func (p *Process) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Wait blocks until ffmpeg exits.
func (p *Process) Wait() error {
	<-p.done
	return p.err
}

func (p *Process) Kill() error {
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Stderr is complete once Wait returns.
func (p *Process) Stderr() string {
	return p.stderr.String()
}

// Start launches ffmpeg with args. Cancelling ctx kills the process.
func Start(ctx context.Context, args []string) (*Process, error) {
	if _, err := exec.LookPath(Binary); err != nil {
		return nil, ErrNotInstalled
	}

	cmd := exec.CommandContext(ctx, Binary, args...)
	p := &Process{cmd: cmd, done: make(chan struct{})}
	cmd.Stderr = &p.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: failed to start: %w", err)
	}

	go func() {
		defer close(p.done)
		if err := cmd.Wait(); err != nil {
			p.err = &Error{Args: args, Stderr: p.stderr.String(), Err: err}
		}
	}()

	return p, nil
}

// RunResult is the outcome of one invocation.
type RunResult struct {
	// Logs is ffmpeg's stderr, kept on success and failure.
	Logs string
	Err  error
}

func runCapture(ctx context.Context, args []string) RunResult {
	proc, err := Start(ctx, args)
	if err != nil {
		return RunResult{Err: err}
	}
	waitErr := proc.Wait()
	return RunResult{Logs: proc.Stderr(), Err: waitErr}
}

// Error is a non-zero ffmpeg exit.
type Error struct {
	Args   []string
	Stderr string
	Err    error
}

// Error keeps only the tail of stderr; the full log is in Stderr.
func (e *Error) Error() string {
	lines := strings.Split(strings.TrimSpace(e.Stderr), "\n")
	if len(lines) > 3 {
		lines = lines[len(lines)-3:]
	}
	tail := strings.TrimSpace(strings.Join(lines, "\n"))
	if tail != "" {
		return fmt.Sprintf("ffmpeg: %v: %s", e.Err, tail)
	}
	return fmt.Sprintf("ffmpeg: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Command renders the invocation for logs.
func (e *Error) Command() string {
	return Binary + " " + strings.Join(e.Args, " ")
}
