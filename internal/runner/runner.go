package runner

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

//go:generate mockgen -destination=mocks/mock_runner.go -package=mocks github.com/mattjoyce/sensorhook/internal/runner ScriptRunner

// ScriptRunner runs a single resolved script path and reports what happened.
type ScriptRunner interface {
	Run(path string) Result
}

const (
	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second

	// Reserved POSIX shell statuses for launch failures.
	exitNotExecutable = 126
	exitNotFound      = 127
)

// ErrEmptyCommand is returned by ArgvRunner for a blank script entry.
var ErrEmptyCommand = errors.New("empty command")

// Result is the outcome of one script invocation.
type Result struct {
	ScriptPath string
	Stdout     []byte
	Stderr     []byte
	// ExitCode is -1 when the process never started or was killed by a signal.
	ExitCode int
	// StartErr is set when the process could not be launched.
	StartErr error
	TimedOut bool
	Duration time.Duration
}

// Started reports whether the script actually ran.
func (r Result) Started() bool {
	return r.StartErr == nil
}

// Succeeded reports a started script that exited zero.
func (r Result) Succeeded() bool {
	return r.Started() && r.ExitCode == 0 && !r.TimedOut
}

// FailureReason describes why the script could not be started, or "".
func (r Result) FailureReason() string {
	if r.StartErr == nil {
		return ""
	}
	return r.StartErr.Error()
}

// ShellRunner runs scripts through a shell ("sh -c <path>").
type ShellRunner struct {
	// Shell defaults to "sh".
	Shell string
	// Timeout of zero waits indefinitely.
	Timeout time.Duration
	// Env, when non-nil, replaces the inherited environment.
	Env []string
}

// Run executes path as a shell command line.
func (s *ShellRunner) Run(path string) Result {
	shell := s.Shell
	if shell == "" {
		shell = "sh"
	}

	cmd := exec.Command(shell, "-c", path)
	cmd.Env = s.Env

	res := execute(cmd, path, s.Timeout)
	if res.Started() && !res.TimedOut && launchFailed(path, res.Stderr) {
		switch res.ExitCode {
		case exitNotExecutable:
			res.StartErr = fmt.Errorf("%s: not executable (shell exit %d): %s",
				path, exitNotExecutable, firstLine(res.Stderr))
		case exitNotFound:
			res.StartErr = fmt.Errorf("%s: command not found (shell exit %d): %s",
				path, exitNotFound, firstLine(res.Stderr))
		}
	}
	return res
}

// ArgvRunner executes the first word of the path directly with the remaining
// words as arguments. Nothing is interpreted by a shell.
type ArgvRunner struct {
	Timeout time.Duration
	Env     []string
}

// Run executes path without a shell.
func (a *ArgvRunner) Run(path string) Result {
	fields := strings.Fields(path)
	if len(fields) == 0 {
		return Result{
			ScriptPath: path,
			ExitCode:   -1,
			StartErr:   ErrEmptyCommand,
		}
	}

	cmd := exec.Command(fields[0], fields[1:]...)
	cmd.Env = a.Env
	return execute(cmd, path, a.Timeout)
}

// execute starts cmd, captures its output, and waits for it to finish. When
// timeout is positive the process is terminated once it elapses.
func execute(cmd *exec.Cmd, path string, timeout time.Duration) Result {
	res := Result{ScriptPath: path, ExitCode: -1}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if timeout > 0 {
		// Grandchildren holding the output pipes must not outlive the deadline.
		cmd.WaitDelay = terminationGracePeriod
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		res.StartErr = fmt.Errorf("start process: %w", err)
		res.Duration = time.Since(start)
		return res
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var err error
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case err = <-waitErr:
		case <-timer.C:
			res.TimedOut = true
			err = terminate(cmd, waitErr)
		}
	} else {
		err = <-waitErr
	}

	res.Duration = time.Since(start)
	res.Stdout = stdout.Bytes()
	res.Stderr = stderr.Bytes()

	if err == nil {
		res.ExitCode = 0
		return res
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res
	}

	if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
		return res
	}

	// Wait failed for a reason other than exit status (I/O copy error).
	res.StartErr = fmt.Errorf("wait for process: %w", err)
	return res
}

// terminate sends SIGTERM, waits out the grace period, then SIGKILL.
func terminate(cmd *exec.Cmd, waitErr <-chan error) error {
	if cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}

	grace := time.NewTimer(terminationGracePeriod)
	defer grace.Stop()

	select {
	case err := <-waitErr:
		return err
	case <-grace.C:
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return <-waitErr
	}
}

// launchFailed reports whether the shell's diagnostic is about the command
// word of path itself ("sh: 1: /dir/x.sh: not found"). A script that ran and
// exited 126 or 127 names some other command there.
func launchFailed(path string, stderr []byte) bool {
	fields := strings.Fields(path)
	if len(fields) == 0 {
		return false
	}
	parts := strings.Split(firstLine(stderr), ": ")
	if len(parts) < 2 {
		return false
	}
	return parts[len(parts)-2] == fields[0]
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
