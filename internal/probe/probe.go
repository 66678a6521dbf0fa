// Package probe answers whether an engine process is alive by scanning the OS
// process table. It has no side effects.
package probe

import (
	"context"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/darkware/zapretd/pkg/consts"
	zerr "github.com/darkware/zapretd/pkg/errors"
)

// Proc is the slice of a process the probe needs.
type Proc interface {
	CmdlineWithContext(ctx context.Context) (string, error)
}

// Lister returns the current process table.
type Lister func(ctx context.Context) ([]Proc, error)

// Probe matches process command lines against substring patterns.
type Probe struct {
	list    Lister
	timeout time.Duration
}

// New returns a Probe backed by gopsutil.
func New(timeout time.Duration) *Probe {
	return NewWithLister(listProcesses, timeout)
}

// NewWithLister is New with an injected process table.
func NewWithLister(list Lister, timeout time.Duration) *Probe {
	if timeout <= 0 {
		timeout = consts.DefaultProbeTimeout
	}
	return &Probe{list: list, timeout: timeout}
}

func listProcesses(ctx context.Context) ([]Proc, error) {
	ps, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Proc, len(ps))
	for i, p := range ps {
		out[i] = p
	}
	return out, nil
}

// Alive reports whether any process command line contains pattern.
func (p *Probe) Alive(ctx context.Context, pattern string) (bool, error) {
	res, err := p.Snapshot(ctx, map[string]string{pattern: pattern})
	if err != nil {
		return false, err
	}
	return res[pattern], nil
}

// Snapshot scans the process table once and reports, per key, whether a
// process matching that key's pattern exists. Every key is present in the result.
// Failing to read the table at all is ProbeUnavailable.
func (p *Probe) Snapshot(ctx context.Context, patterns map[string]string) (map[string]bool, error) {
	const op = "Probe"

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	procs, err := p.list(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, zerr.New(zerr.ErrCodeProbeUnavailable, op, "process table scan timed out", err)
		}
		return nil, zerr.New(zerr.ErrCodeProbeUnavailable, op, "cannot read process table", err)
	}

	res := make(map[string]bool, len(patterns))
	remaining := len(patterns)
	for key := range patterns {
		res[key] = false
	}

	for _, proc := range procs {
		if remaining == 0 {
			break
		}
		if ctx.Err() != nil {
			return nil, zerr.New(zerr.ErrCodeProbeUnavailable, op, "process table scan timed out", ctx.Err())
		}
		// Processes exiting mid-scan just fail here; skip them.
		cmdline, err := proc.CmdlineWithContext(ctx)
		if err != nil || cmdline == "" {
			continue
		}
		for key, pattern := range patterns {
			if !res[key] && pattern != "" && strings.Contains(cmdline, pattern) {
				res[key] = true
				remaining--
			}
		}
	}
	return res, nil
}

// Personal.AI order the ending
