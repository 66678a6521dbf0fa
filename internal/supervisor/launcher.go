// Package supervisor launches and tears down external processes on behalf of
// the engine orchestrator: long-lived engine binaries (Spawn) and short shell
// commands such as init scripts, pkill and networksetup (Run).
package supervisor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	zerr "github.com/darkware/zapretd/pkg/errors"
	"github.com/darkware/zapretd/pkg/logger"
)

// Launcher starts processes. The zero value is not usable; call New.
type Launcher struct {
	shell     string
	env       []string
	waitDelay time.Duration
	log       logger.Logger
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithShell overrides the shell used by Run (default /bin/sh).
func WithShell(path string) Option {
	return func(l *Launcher) { l.shell = path }
}

// WithEnv appends environment entries to every child.
func WithEnv(env ...string) Option {
	return func(l *Launcher) { l.env = append(l.env, env...) }
}

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(log logger.Logger) Option {
	return func(l *Launcher) { l.log = log }
}

// New creates a new Launcher instance.
func New(opts ...Option) *Launcher {
	l := &Launcher{
		shell:     "/bin/sh",
		waitDelay: time.Second,
		log:       logger.Log.With("component", "launcher"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Spawn starts path with args in its own process group. Output is copied to sink
// (nil discards it). ctx only bounds the start itself, not the process lifetime.
func (l *Launcher) Spawn(ctx context.Context, path string, args []string, sink io.Writer) (Handle, error) {
	const op = "Spawn"
	if err := ctx.Err(); err != nil {
		return nil, zerr.New(zerr.ErrCodeTimeout, op, "spawn cancelled before start", err)
	}

	cmd := exec.Command(path, args...)
	cmd.Env = append(os.Environ(), l.env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if sink != nil {
		cmd.Stdout = sink
		cmd.Stderr = sink
	}

	l.log.Info("Supervisor: Forking process", "path", path, "args", args)
	if err := cmd.Start(); err != nil {
		return nil, zerr.New(zerr.ErrCodeLaunchFailed, op, "cannot start "+path, err)
	}
	return newProcess(cmd, sink, l.log), nil
}

// Run executes command through the shell and waits for it, bounded by ctx.
// A non-zero exit is not an error here: the exit code and combined output are
// returned for the caller to judge. Errors are LaunchFailed or Timeout.
func (l *Launcher) Run(ctx context.Context, command string) (int, string, error) {
	const op = "Run"

	cmd := exec.CommandContext(ctx, l.shell, "-c", command)
	cmd.Env = append(os.Environ(), l.env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Kill the whole group: sudo and the init script fork children.
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = l.waitDelay

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	l.log.Debug("Supervisor: Running command", "cmd", command)
	err := cmd.Run()
	output := out.String()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return -1, output, zerr.New(zerr.ErrCodeTimeout, op, "command timed out: "+command, ctxErr)
	}
	if err == nil {
		return 0, output, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), output, nil
	}
	return -1, output, zerr.New(zerr.ErrCodeLaunchFailed, op, "cannot run: "+command, err)
}

// Personal.AI order the ending
