package supervisor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/darkware/zapretd/pkg/logger"
)

// Handle is a spawned engine process.
type Handle interface {
	Pid() int
	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}
	// ExitErr is the Wait result. Only meaningful after Done is closed.
	ExitErr() error
	// Stop sends SIGTERM to the process group and escalates to SIGKILL after grace.
	Stop(grace time.Duration) error
}

// Process wraps an exec.Cmd started by Launcher.Spawn.
type Process struct {
	cmd  *exec.Cmd
	log  logger.Logger
	done chan struct{}

	mu  sync.Mutex
	err error
}

// flusher is implemented by sinks holding a partial line, such as LogSink.
type flusher interface {
	Flush()
}

func newProcess(cmd *exec.Cmd, sink io.Writer, log logger.Logger) *Process {
	p := &Process{cmd: cmd, log: log, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		// Wait returns after the output copy finished.
		if f, ok := sink.(flusher); ok {
			f.Flush()
		}
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p
}

func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *Process) Done() <-chan struct{} { return p.done }

func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stop is safe to call on an already exited process.
func (p *Process) Stop(grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	p.log.Info("Supervisor: Sending SIGTERM", "pid", p.Pid())
	if err := p.signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.log.Warn("Supervisor: SIGTERM failed", "pid", p.Pid(), "err", err)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}

	p.log.Warn("Supervisor: Sending SIGKILL", "pid", p.Pid())
	if err := p.signal(syscall.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill pid %d: %w", p.Pid(), err)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
		return fmt.Errorf("pid %d did not exit after SIGKILL", p.Pid())
	}
}

// signal targets the whole process group so helpers forked by the engine go too.
func (p *Process) signal(sig syscall.Signal) error {
	if p.cmd.Process == nil {
		return nil
	}
	pgid, err := syscall.Getpgid(p.cmd.Process.Pid)
	if err != nil {
		return p.cmd.Process.Signal(sig)
	}
	return syscall.Kill(-pgid, sig)
}

// Personal.AI order the ending
