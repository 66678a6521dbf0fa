package protocol

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/darkware/zapretd/pkg/consts"
	"gopkg.in/yaml.v3"
)

// Config represents the root configuration of the daemon.
type Config struct {
	Version       string              `yaml:"version"`
	Install       InstallConfig       `yaml:"install"`
	Engines       EnginesConfig       `yaml:"engines"`
	Proxy         ProxyConfig         `yaml:"proxy"`
	Supervisor    SupervisorConfig    `yaml:"supervisor"`
	Control       ControlConfig       `yaml:"control"`
	StateFile     string              `yaml:"state_file"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type InstallConfig struct {
	Dir         string `yaml:"dir"`
	SudoersFile string `yaml:"sudoers_file"`
	Timeout     string `yaml:"timeout"`
}

type EnginesConfig struct {
	TPWS   TPWSConfig   `yaml:"tpws"`
	ByeDPI ByeDPIConfig `yaml:"byedpi"`
}

// TPWSConfig drives the zapret transparent proxy through its init script.
type TPWSConfig struct {
	ConfigPath     string `yaml:"config_path"`
	StartCommand   string `yaml:"start_command"`
	StopCommand    string `yaml:"stop_command"`
	RestartCommand string `yaml:"restart_command"`
	ProbePattern   string `yaml:"probe_pattern"`
}

// ByeDPIConfig drives the ciadpi SOCKS5 proxy, which is spawned directly.
type ByeDPIConfig struct {
	Binary       string `yaml:"binary"`
	StopCommand  string `yaml:"stop_command"`
	ProbePattern string `yaml:"probe_pattern"`
	Settle       string `yaml:"settle"` // how long a fresh spawn must survive
}

type ProxyConfig struct {
	Networksetup string   `yaml:"networksetup"` // may carry a "sudo -n" prefix
	Host         string   `yaml:"host"`
	Services     []string `yaml:"services"` // candidate network services
}

type SupervisorConfig struct {
	ControlTimeout string `yaml:"control_timeout"`
	ProbeTimeout   string `yaml:"probe_timeout"`
	PollInterval   string `yaml:"poll_interval"`
	StopGrace      string `yaml:"stop_grace"`
}

type ControlConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// Default returns the configuration matching the bundled installer layout.
func Default() Config {
	dir := consts.DefaultInstallDir
	initScript := "sudo " + dir + "/init.d/macos/zapret"
	byedpi := dir + "/byedpi/ciadpi"
	return Config{
		Version: "1",
		Install: InstallConfig{
			Dir:         dir,
			SudoersFile: consts.DefaultSudoersFile,
			Timeout:     consts.DefaultInstallTimeout.String(),
		},
		Engines: EnginesConfig{
			TPWS: TPWSConfig{
				ConfigPath:     dir + "/config_custom",
				StartCommand:   initScript + " start",
				StopCommand:    initScript + " stop",
				RestartCommand: initScript + " restart",
				ProbePattern:   dir + "/tpws/tpws",
			},
			ByeDPI: ByeDPIConfig{
				Binary:       byedpi,
				StopCommand:  "pkill -f " + byedpi,
				ProbePattern: byedpi,
				Settle:       consts.DefaultSpawnSettle.String(),
			},
		},
		Proxy: ProxyConfig{
			Networksetup: "/usr/sbin/networksetup",
			Host:         consts.DefaultSocksHost,
			Services: []string{
				"Wi-Fi",
				"Ethernet",
				"USB 10/100/1000 LAN",
				"Thunderbolt Bridge",
				"Thunderbolt Ethernet",
			},
		},
		Supervisor: SupervisorConfig{
			ControlTimeout: consts.DefaultControlTimeout.String(),
			ProbeTimeout:   consts.DefaultProbeTimeout.String(),
			PollInterval:   consts.DefaultPollInterval.String(),
			StopGrace:      consts.DefaultStopGrace.String(),
		},
		Control:   ControlConfig{SocketPath: consts.DefaultSocketPath},
		StateFile: consts.DefaultStateFile,
		Observability: ObservabilityConfig{
			MetricsAddr: consts.DefaultMetricsAddr,
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks that every duration field parses and required paths are set.
func (c Config) Validate() error {
	durations := map[string]string{
		"install.timeout":            c.Install.Timeout,
		"engines.byedpi.settle":      c.Engines.ByeDPI.Settle,
		"supervisor.control_timeout": c.Supervisor.ControlTimeout,
		"supervisor.probe_timeout":   c.Supervisor.ProbeTimeout,
		"supervisor.poll_interval":   c.Supervisor.PollInterval,
		"supervisor.stop_grace":      c.Supervisor.StopGrace,
	}
	for field, v := range durations {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}
	if c.Engines.TPWS.ConfigPath == "" {
		return fmt.Errorf("engines.tpws.config_path is required")
	}
	if c.Engines.ByeDPI.Binary == "" {
		return fmt.Errorf("engines.byedpi.binary is required")
	}
	if c.Control.SocketPath == "" {
		return fmt.Errorf("control.socket_path is required")
	}
	return nil
}

// Duration parses s, falling back to def when s is empty or malformed.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// ExpandHome resolves a leading "~/" against the current user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// Personal.AI order the ending
