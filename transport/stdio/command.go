package stdio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// commandWaitGrace bounds how long Close waits for a child to exit after its
// stdin is closed before killing it.
const commandWaitGrace = 2 * time.Second

// CommandTransport is a Transport bound to the stdin/stdout of a child
// process.
type CommandTransport struct {
	*Transport

	cmd    *exec.Cmd
	exited chan struct{}
	err    error
}

// CommandOption customizes how the child process is started.
type CommandOption func(*exec.Cmd)

// WithEnv appends environment variables (KEY=VALUE) to the child's
// inherited environment.
func WithEnv(env ...string) CommandOption {
	return func(c *exec.Cmd) {
		if c.Env == nil {
			c.Env = os.Environ()
		}
		c.Env = append(c.Env, env...)
	}
}

// WithDir sets the child's working directory.
func WithDir(dir string) CommandOption {
	return func(c *exec.Cmd) { c.Dir = dir }
}

// WithStderr redirects the child's stderr. Defaults to the parent's stderr.
func WithStderr(w io.Writer) CommandOption {
	return func(c *exec.Cmd) { c.Stderr = w }
}

// NewCommand starts name with args and returns a transport speaking to it
// over its standard streams. The context only bounds process start; use
// Close to stop the child.
func NewCommand(ctx context.Context, name string, args []string, copts []CommandOption, opts ...Option) (*CommandTransport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(name, args...)
	cmd.Stderr = os.Stderr
	for _, o := range copts {
		o(cmd)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	// An explicit pipe keeps Wait from closing our read end before the
	// final frames are consumed.
	stdout, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stdout = pw
	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	_ = pw.Close()

	ct := &CommandTransport{cmd: cmd, exited: make(chan struct{})}
	ct.Transport = New(append(opts, WithIO(stdout, stdin))...)
	ct.Transport.closer = func() error {
		_ = stdin.Close()
		err := ct.wait()
		_ = stdout.Close()
		return err
	}

	go func() {
		ct.err = cmd.Wait()
		close(ct.exited)
		ct.l.Debug("stdio.command.exited", slog.String("cmd", name), slog.Int("pid", cmd.Process.Pid))
	}()

	return ct, nil
}

func (ct *CommandTransport) wait() error {
	select {
	case <-ct.exited:
	case <-time.After(commandWaitGrace):
		_ = ct.cmd.Process.Kill()
		<-ct.exited
	}
	var exitErr *exec.ExitError
	if errors.As(ct.err, &exitErr) {
		// Killed or non-zero exit after we hung up is an orderly shutdown.
		return nil
	}
	return ct.err
}

// Pid returns the child's process id.
func (ct *CommandTransport) Pid() int { return ct.cmd.Process.Pid }
