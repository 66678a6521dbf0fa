// Package sysproxy toggles the macOS SOCKS proxy ("SOCKS firewall proxy" in
// networksetup terms) on every known network service.
//
// The setting is machine-global: while enabled, every application honouring the
// system proxy is routed through the local byedpi listener, not only the
// supervisor's own traffic. That is a property of the SOCKS engine itself.
package sysproxy

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/kballard/go-shellquote"

	zerr "github.com/darkware/zapretd/pkg/errors"
	"github.com/darkware/zapretd/pkg/logger"
)

// Runner executes a shell command and returns its exit code and combined output.
type Runner interface {
	Run(ctx context.Context, command string) (int, string, error)
}

// Adapter applies SOCKS proxy settings through networksetup.
type Adapter struct {
	runner     Runner
	bin        string
	host       string
	candidates []string
	log        logger.Logger

	mu      sync.Mutex
	enabled bool
	port    int
}

// New returns an Adapter. bin is the networksetup invocation (optionally prefixed
// with sudo), host the SOCKS listen address, candidates the service names to try.
func New(runner Runner, bin, host string, candidates []string) *Adapter {
	return &Adapter{
		runner:     runner,
		bin:        bin,
		host:       host,
		candidates: append([]string(nil), candidates...),
		log:        logger.Log.With("component", "sysproxy"),
	}
}

// Enabled reports the last state this adapter applied.
func (a *Adapter) Enabled() (bool, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled, a.port
}

// Enable points the SOCKS proxy of every existing candidate service at host:port.
// Per-service failures are collected; the sweep always covers every service.
func (a *Adapter) Enable(ctx context.Context, port int) error {
	const op = "ProxyEnable"

	services, err := a.services(ctx)
	if err != nil {
		return err
	}

	var (
		result  *multierror.Error
		applied int
	)
	for _, svc := range services {
		if err := a.exec(ctx, op, svc, "-setsocksfirewallproxy", svc, a.host, strconv.Itoa(port)); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if err := a.exec(ctx, op, svc, "-setsocksfirewallproxystate", svc, "on"); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		applied++
		a.log.Info("SOCKS proxy enabled", "service", svc, "host", a.host, "port", port)
	}

	// Enabled means at least one service now routes through the listener.
	if applied > 0 {
		a.mu.Lock()
		a.enabled, a.port = true, port
		a.mu.Unlock()
	}
	return oneLine(result)
}

// Disable turns the SOCKS proxy off on every existing candidate service.
// Turning off an already disabled proxy is a no-op for networksetup.
func (a *Adapter) Disable(ctx context.Context) error {
	const op = "ProxyDisable"

	services, err := a.services(ctx)
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, svc := range services {
		if err := a.exec(ctx, op, svc, "-setsocksfirewallproxystate", svc, "off"); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		a.log.Debug("SOCKS proxy disabled", "service", svc)
	}

	if result == nil || len(result.Errors) < len(services) {
		a.mu.Lock()
		a.enabled, a.port = false, 0
		a.mu.Unlock()
	}
	return oneLine(result)
}

// services intersects the candidate list with the services present on this host.
func (a *Adapter) services(ctx context.Context) ([]string, error) {
	const op = "ProxyServices"

	code, out, err := a.runner.Run(ctx, a.command("-listallnetworkservices"))
	if err != nil {
		return nil, zerr.New(zerr.ErrCodeProxyAdapterFailed, op, "cannot list network services", err)
	}
	if code != 0 {
		return nil, zerr.New(zerr.ErrCodeProxyAdapterFailed, op,
			fmt.Sprintf("networksetup exited %d: %s", code, strings.TrimSpace(out)), nil)
	}

	present := ParseServices(out)
	var found []string
	for _, c := range a.candidates {
		if present[c] {
			found = append(found, c)
		}
	}
	if len(found) == 0 {
		a.log.Warn("No known network service present", "candidates", a.candidates)
	}
	return found, nil
}

func (a *Adapter) exec(ctx context.Context, op, svc string, args ...string) error {
	code, out, err := a.runner.Run(ctx, a.command(args...))
	if err != nil {
		return zerr.New(zerr.ErrCodeProxyAdapterFailed, op, "service "+svc, err)
	}
	if code != 0 {
		return zerr.New(zerr.ErrCodeProxyAdapterFailed, op,
			fmt.Sprintf("service %s: networksetup exited %d: %s", svc, code, strings.TrimSpace(out)), nil)
	}
	return nil
}

// command prefixes the quoted args with bin, which may carry its own words (sudo).
func (a *Adapter) command(args ...string) string {
	return a.bin + " " + shellquote.Join(args...)
}

// ParseServices reads `networksetup -listallnetworkservices` output. The first
// line is an explanatory banner; disabled services carry a leading '*'.
func ParseServices(out string) map[string]bool {
	present := make(map[string]bool)
	for i, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if i == 0 && strings.HasPrefix(line, "An asterisk") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "*"))
		if line != "" {
			present[line] = true
		}
	}
	return present
}

func oneLine(result *multierror.Error) error {
	if result == nil {
		return nil
	}
	result.ErrorFormat = zerr.OneLine
	return result.ErrorOrNil()
}

// Personal.AI order the ending
