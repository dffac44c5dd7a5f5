//go:build linux

// Package spawn starts the command a recording is attached to.
package spawn

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Process is a shell command started in its own process group.
type Process struct {
	cmd *exec.Cmd
}

// Start runs command through `sh -c`. The shell becomes the leader of a new
// process group so Terminate can take down everything it started. The
// command shares the caller's stdin, stdout and stderr.
//
// The child is deliberately not waited on until Terminate: an exited but
// unreaped shell stays visible as a zombie, which is what the recorder uses
// to notice the command finished.
func Start(command string) (*Process, error) {
	cmd := exec.Command("sh", "-c", command)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %q: %w", command, err)
	}
	return &Process{cmd: cmd}, nil
}

// Pid of the shell.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Terminate SIGKILLs the whole process group and reaps the shell. It is safe
// to call after the command already exited.
func (p *Process) Terminate() error {
	if p.cmd.Process == nil {
		return nil
	}
	// Negative PID means kill the process group
	err := unix.Kill(-p.cmd.Process.Pid, unix.SIGKILL)
	if err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill group %d: %w", p.cmd.Process.Pid, err)
	}
	// Wait reports the kill as an error; only reaping matters here.
	_ = p.cmd.Wait()
	return nil
}
