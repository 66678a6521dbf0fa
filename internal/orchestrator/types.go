package orchestrator

import (
	"context"
	"io"
	"time"

	"github.com/darkware/zapretd/internal/events"
	"github.com/darkware/zapretd/internal/preset"
	"github.com/darkware/zapretd/internal/supervisor"
	"github.com/darkware/zapretd/pkg/consts"
	"github.com/darkware/zapretd/pkg/protocol"
)

// Installer reports whether the engines are installed on this host.
type Installer interface {
	IsInstalled() bool
}

// Store persists the engine and strategy choices.
type Store interface {
	GetString(key string) (string, bool)
	SetString(key, value string) error
}

// Launcher starts engine binaries and runs control commands.
type Launcher interface {
	Spawn(ctx context.Context, path string, args []string, sink io.Writer) (supervisor.Handle, error)
	Run(ctx context.Context, command string) (int, string, error)
}

// Prober reads process liveness for a set of named patterns in one pass.
type Prober interface {
	Snapshot(ctx context.Context, patterns map[string]string) (map[string]bool, error)
}

// ProxyAdapter toggles the system SOCKS proxy.
type ProxyAdapter interface {
	Enable(ctx context.Context, port int) error
	Disable(ctx context.Context) error
	// Enabled reports the last state applied and its port.
	Enabled() (bool, int)
}

// Publisher receives status and transaction events.
type Publisher interface {
	Publish(ev events.Event)
}

// EngineSpec holds the host-specific commands and paths for one engine.
type EngineSpec struct {
	ConfigPath     string // config-file engines
	StartCommand   string
	RestartCommand string
	Binary         string // spawn engines
	StopCommand    string
	// StopExitOK lists non-zero stop command exit codes meaning "nothing to stop".
	StopExitOK   []int
	ProbePattern string
}

// SpecsFromConfig maps the YAML engine section onto engine specs.
func SpecsFromConfig(cfg protocol.EnginesConfig) map[preset.Engine]EngineSpec {
	return map[preset.Engine]EngineSpec{
		preset.TransparentProxy: {
			ConfigPath:     cfg.TPWS.ConfigPath,
			StartCommand:   cfg.TPWS.StartCommand,
			RestartCommand: cfg.TPWS.RestartCommand,
			StopCommand:    cfg.TPWS.StopCommand,
			ProbePattern:   cfg.TPWS.ProbePattern,
		},
		preset.Socks5Proxy: {
			Binary:       cfg.ByeDPI.Binary,
			StopCommand:  cfg.ByeDPI.StopCommand,
			StopExitOK:   []int{1}, // pkill: no process matched
			ProbePattern: cfg.ByeDPI.ProbePattern,
		},
	}
}

// DesiredState is what the user asked for.
type DesiredState struct {
	Engine     preset.Engine
	Strategies map[preset.Engine]preset.StrategyID // remembered per engine
	Running    bool
}

// Strategy returns the strategy selected for the current engine.
func (d DesiredState) Strategy() preset.StrategyID {
	return d.Strategies[d.Engine]
}

// ObservedState is the last process table reading. It is replaced wholesale
// by each reconciliation pass.
type ObservedState struct {
	Alive map[preset.Engine]bool
	At    time.Time
}

// Status is the published snapshot consumed by UIs and control clients.
type Status struct {
	IsRunning bool
	IsBusy    bool
	LastError string
	Engine    preset.Engine
	Strategy  preset.StrategyID
	Phase     consts.Phase
	Installed bool
	Observed  ObservedState
	ProxyPort int // 0 when the system proxy is off
}

// View converts s to its wire form.
func (s Status) View() *protocol.StatusView {
	v := &protocol.StatusView{
		Running:   s.IsRunning,
		Busy:      s.IsBusy,
		Phase:     string(s.Phase),
		Engine:    string(s.Engine),
		Strategy:  string(s.Strategy),
		LastError: s.LastError,
		Installed: s.Installed,
		ProxyPort: s.ProxyPort,
	}
	v.EngineLabel = s.Engine.String()
	if st, ok := preset.Find(s.Engine, s.Strategy); ok {
		v.StrategyLabel = st.Label
	}
	if len(s.Observed.Alive) > 0 {
		v.Observed = make(map[string]bool, len(s.Observed.Alive))
		for e, alive := range s.Observed.Alive {
			v.Observed[string(e)] = alive
		}
	}
	return v
}

// Options configures a Supervisor.
type Options struct {
	Engines   map[preset.Engine]EngineSpec
	Installer Installer
	Store     Store
	Launcher  Launcher
	Prober    Prober
	Proxy     ProxyAdapter
	Bus       Publisher // optional

	ControlTimeout time.Duration
	ProbeTimeout   time.Duration
	StopGrace      time.Duration
	SpawnSettle    time.Duration
	ConfirmPoll    time.Duration

	// WriteFile writes engine config files. Defaults to os.WriteFile with 0644.
	WriteFile func(path string, data []byte) error
}

func (o *Options) setDefaults() {
	if o.ControlTimeout <= 0 {
		o.ControlTimeout = consts.DefaultControlTimeout
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = consts.DefaultProbeTimeout
	}
	if o.StopGrace <= 0 {
		o.StopGrace = consts.DefaultStopGrace
	}
	if o.SpawnSettle < 0 {
		o.SpawnSettle = 0
	}
	if o.ConfirmPoll <= 0 {
		o.ConfirmPoll = 100 * time.Millisecond
	}
}

// Personal.AI order the ending
