package consts

import "time"

// Phase defines the lifecycle state of the engine supervisor.
type Phase string

const (
	PhaseIdle       Phase = "IDLE"       // Nothing running, nothing in flight
	PhaseStarting   Phase = "STARTING"   // Writing config / spawning the selected engine
	PhaseRunning    Phase = "RUNNING"    // Engine up
	PhaseStopping   Phase = "STOPPING"   // Stop-all in progress
	PhaseSwitching  Phase = "SWITCHING"  // Stop-all, then start another engine
	PhaseRestarting Phase = "RESTARTING" // Strategy change on the running engine
)

// Timeouts applied to external commands.
const (
	DefaultControlTimeout = 10 * time.Second
	DefaultProbeTimeout   = 3 * time.Second
	DefaultPollInterval   = 2 * time.Second
	DefaultInstallTimeout = 5 * time.Minute
	DefaultSpawnSettle    = 300 * time.Millisecond
	DefaultStopGrace      = 3 * time.Second
)

// Install layout of the bundled zapret/byedpi distribution.
const (
	DefaultInstallDir   = "/opt/darkware-zapret"
	DefaultSudoersFile  = "/etc/sudoers.d/darkware-zapret"
	DefaultSocketPath   = "/tmp/zapretd.sock"
	DefaultStateFile    = "~/Library/Application Support/zapretd/state.toml"
	DefaultSocksHost    = "127.0.0.1"
	DefaultMetricsAddr  = "127.0.0.1:9464"
	InstallScriptName   = "install_darkware.sh"
	UninstallScriptName = "uninstall_darkware.sh"
)

// Persistence keys.
const (
	KeyEngine         = "engine"
	KeyStrategyPrefix = "strategy."
)

// Personal.AI order the ending
