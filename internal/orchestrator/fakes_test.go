package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/darkware/zapretd/internal/preset"
	"github.com/darkware/zapretd/internal/store"
	"github.com/darkware/zapretd/internal/supervisor"
	zerr "github.com/darkware/zapretd/pkg/errors"
)

// world simulates the host: which engine processes exist, plus an ordered
// journal of every side effect the supervisor caused.
type world struct {
	mu        sync.Mutex
	alive     map[preset.Engine]bool
	handles   map[preset.Engine]*fakeHandle
	journal   []string
	fail      map[string]int // command -> exit code
	hang      map[string]bool
	probeErr  error
	stuck     map[preset.Engine]bool // survives its stop command
	installed bool
	spawnErr  bool
	spawnGate chan struct{}
}

func newWorld() *world {
	return &world{
		alive:     map[preset.Engine]bool{},
		handles:   map[preset.Engine]*fakeHandle{},
		fail:      map[string]int{},
		hang:      map[string]bool{},
		stuck:     map[preset.Engine]bool{},
		installed: true,
	}
}

func (w *world) record(entry string) {
	w.journal = append(w.journal, entry)
}

func (w *world) entries() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.journal...)
}

// actions returns the journal without probe reads.
func (w *world) actions() []string {
	var out []string
	for _, e := range w.entries() {
		if e != "probe" {
			out = append(out, e)
		}
	}
	return out
}

func (w *world) count(entry string) int {
	n := 0
	for _, e := range w.entries() {
		if e == entry {
			n++
		}
	}
	return n
}

func (w *world) isAlive(e preset.Engine) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.alive[e]
}

func (w *world) setAlive(e preset.Engine, v bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.alive[e] = v
}

// kill simulates an external kill of e.
func (w *world) kill(e preset.Engine) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.alive[e] = false
	if h := w.handles[e]; h != nil {
		h.exit(errors.New("signal: killed"))
	}
}

func (w *world) IsInstalled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.installed
}

// launcher

type fakeLauncher struct{ w *world }

func (l fakeLauncher) Spawn(ctx context.Context, path string, args []string, sink io.Writer) (supervisor.Handle, error) {
	w := l.w
	if w.spawnGate != nil {
		<-w.spawnGate
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.record(fmt.Sprintf("spawn %s %s", path, strings.Join(args, " ")))
	if w.spawnErr {
		return nil, zerr.New(zerr.ErrCodeLaunchFailed, "Spawn", "cannot start "+path, errors.New("exec format error"))
	}
	h := &fakeHandle{w: w, engine: preset.Socks5Proxy, pid: 4242, done: make(chan struct{})}
	w.handles[preset.Socks5Proxy] = h
	w.alive[preset.Socks5Proxy] = true
	return h, nil
}

func (l fakeLauncher) Run(ctx context.Context, command string) (int, string, error) {
	w := l.w
	w.mu.Lock()
	w.record("run " + command)
	hang := w.hang[command]
	w.mu.Unlock()

	if hang {
		<-ctx.Done()
		return -1, "", zerr.New(zerr.ErrCodeTimeout, "Run", "command timed out: "+command, ctx.Err())
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if code, ok := w.fail[command]; ok {
		return code, "init: permission denied\n", nil
	}
	switch command {
	case "tpws-start", "tpws-restart":
		w.alive[preset.TransparentProxy] = true
	case "tpws-stop":
		if !w.stuck[preset.TransparentProxy] {
			w.alive[preset.TransparentProxy] = false
		}
	case "byedpi-stop":
		if !w.alive[preset.Socks5Proxy] {
			return 1, "", nil // pkill: nothing matched
		}
		if !w.stuck[preset.Socks5Proxy] {
			w.alive[preset.Socks5Proxy] = false
		}
	}
	return 0, "", nil
}

type fakeHandle struct {
	w      *world
	engine preset.Engine
	pid    int
	done   chan struct{}
	once   sync.Once
	err    error
}

func (h *fakeHandle) Pid() int              { return h.pid }
func (h *fakeHandle) Done() <-chan struct{} { return h.done }
func (h *fakeHandle) ExitErr() error        { return h.err }

func (h *fakeHandle) Stop(time.Duration) error {
	h.w.mu.Lock()
	defer h.w.mu.Unlock()
	h.w.record("terminate " + string(h.engine))
	if !h.w.stuck[h.engine] {
		h.w.alive[h.engine] = false
	}
	h.exitLocked(nil)
	return nil
}

func (h *fakeHandle) exit(err error) { h.exitLocked(err) }

func (h *fakeHandle) exitLocked(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

// prober

type fakeProber struct{ w *world }

func (p fakeProber) Snapshot(ctx context.Context, patterns map[string]string) (map[string]bool, error) {
	w := p.w
	w.mu.Lock()
	defer w.mu.Unlock()
	w.record("probe")
	if w.probeErr != nil {
		return nil, w.probeErr
	}
	out := make(map[string]bool, len(patterns))
	for name := range patterns {
		out[name] = w.alive[preset.Engine(name)]
	}
	return out, nil
}

// proxy

type fakeProxy struct {
	w          *world
	enableErr  error
	disableErr error
	port       int
}

func (p *fakeProxy) Enable(ctx context.Context, port int) error {
	p.w.mu.Lock()
	defer p.w.mu.Unlock()
	p.w.record(fmt.Sprintf("proxy on %d", port))
	if p.enableErr != nil {
		return p.enableErr
	}
	p.port = port
	return nil
}

func (p *fakeProxy) Disable(ctx context.Context) error {
	p.w.mu.Lock()
	defer p.w.mu.Unlock()
	p.w.record("proxy off")
	p.port = 0
	return p.disableErr
}

func (p *fakeProxy) Enabled() (bool, int) {
	p.w.mu.Lock()
	defer p.w.mu.Unlock()
	return p.port != 0, p.port
}

// harness

type harness struct {
	t      *testing.T
	w      *world
	proxy  *fakeProxy
	store  *store.Memory
	sup    *Supervisor
	config string
	files  map[string]string
	fmu    sync.Mutex
}

func testSpecs(dir string) map[preset.Engine]EngineSpec {
	return map[preset.Engine]EngineSpec{
		preset.TransparentProxy: {
			ConfigPath:     filepath.Join(dir, "config_custom"),
			StartCommand:   "tpws-start",
			StopCommand:    "tpws-stop",
			RestartCommand: "tpws-restart",
			ProbePattern:   "/opt/darkware-zapret/tpws/tpws",
		},
		preset.Socks5Proxy: {
			Binary:       "/opt/darkware-zapret/byedpi/ciadpi",
			StopCommand:  "byedpi-stop",
			StopExitOK:   []int{1},
			ProbePattern: "/opt/darkware-zapret/byedpi/ciadpi",
		},
	}
}

func newHarness(t *testing.T, seed map[string]string) *harness {
	t.Helper()
	w := newWorld()
	h := &harness{
		t:      t,
		w:      w,
		proxy:  &fakeProxy{w: w},
		store:  store.NewMemory(),
		files:  map[string]string{},
		config: filepath.Join(t.TempDir(), "config_custom"),
	}
	for k, v := range seed {
		require.NoError(t, h.store.SetString(k, v))
	}
	specs := testSpecs(filepath.Dir(h.config))
	h.sup = New(Options{
		Engines:        specs,
		Installer:      w,
		Store:          h.store,
		Launcher:       fakeLauncher{w: w},
		Prober:         fakeProber{w: w},
		Proxy:          h.proxy,
		ControlTimeout: 500 * time.Millisecond,
		ProbeTimeout:   200 * time.Millisecond,
		StopGrace:      50 * time.Millisecond,
		ConfirmPoll:    10 * time.Millisecond,
		WriteFile: func(path string, data []byte) error {
			h.fmu.Lock()
			defer h.fmu.Unlock()
			w.mu.Lock()
			w.record("write " + filepath.Base(path))
			w.mu.Unlock()
			h.files[path] = string(data)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.sup.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) wait() error {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.sup.Wait(ctx)
}

func (h *harness) file() string {
	h.fmu.Lock()
	defer h.fmu.Unlock()
	return h.files[h.config]
}

// startWith brings the supervisor to RUNNING on engine e with its current strategy.
func (h *harness) startWith(e preset.Engine) {
	h.t.Helper()
	if h.sup.Status().Engine != e {
		require.NoError(h.t, h.sup.SetEngine(e))
		require.NoError(h.t, h.wait())
	}
	require.NoError(h.t, h.sup.Toggle())
	require.NoError(h.t, h.wait())
	require.True(h.t, h.sup.Status().IsRunning)
	h.w.mu.Lock()
	h.w.journal = nil
	h.w.mu.Unlock()
}

// Personal.AI order the ending
