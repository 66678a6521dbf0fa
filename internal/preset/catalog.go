// Package preset is the compile-time catalog of engines and their strategies.
package preset

import (
	"fmt"
	"strings"
)

// Engine identifies one of the mutually exclusive bypass helpers.
type Engine string

const (
	// TransparentProxy is zapret's tpws, driven by config file + init script.
	TransparentProxy Engine = "tpws"
	// Socks5Proxy is byedpi's ciadpi, spawned directly and fronted by the system SOCKS proxy.
	Socks5Proxy Engine = "byedpi"
)

// String returns the human label.
func (e Engine) String() string {
	switch e {
	case TransparentProxy:
		return "Zapret (tpws)"
	case Socks5Proxy:
		return "ByeDPI (SOCKS5)"
	default:
		return string(e)
	}
}

// ParseEngine accepts engine ids and the common aliases.
func ParseEngine(s string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tpws", "zapret", "transparent", "transparentproxy":
		return TransparentProxy, nil
	case "byedpi", "ciadpi", "socks5", "socks5proxy", "socks":
		return Socks5Proxy, nil
	}
	return "", fmt.Errorf("unknown engine %q", s)
}

// StrategyID is stable across releases; it is what gets persisted.
type StrategyID string

// StartSpec describes how a strategy is brought up. It is either
// ConfigFileThenCommand or DirectSpawn.
type StartSpec interface {
	startSpec()
}

// ConfigFileThenCommand writes Body to the engine's config path before its start command runs.
type ConfigFileThenCommand struct {
	Body string
}

// DirectSpawn launches the engine binary with Args. A positive ProxyPort
// means the system SOCKS proxy must point at that port while running.
type DirectSpawn struct {
	Args      []string
	ProxyPort int
}

func (ConfigFileThenCommand) startSpec() {}
func (DirectSpawn) startSpec()           {}

// Strategy is a named preset of launch parameters for one engine.
type Strategy struct {
	ID     StrategyID
	Label  string
	Engine Engine
	Start  StartSpec
}

// Engines returns every known engine in stop-all order.
func Engines() []Engine {
	return []Engine{TransparentProxy, Socks5Proxy}
}

// Strategies returns the strategy set of e in menu order.
func Strategies(e Engine) []Strategy {
	out := make([]Strategy, 0, len(catalog[e]))
	for _, s := range catalog[e] {
		out = append(out, s.clone())
	}
	return out
}

// Default returns the strategy chosen when nothing was remembered for e.
func Default(e Engine) StrategyID {
	set := catalog[e]
	if len(set) == 0 {
		panic(fmt.Sprintf("preset: unknown engine %q", e))
	}
	return set[0].ID
}

// Find looks up (e, id) without panicking. Use it to validate input.
func Find(e Engine, id StrategyID) (Strategy, bool) {
	for _, s := range catalog[e] {
		if s.ID == id {
			return s.clone(), true
		}
	}
	return Strategy{}, false
}

// Lookup resolves (e, id). The domain is fixed at compile time, so an unknown
// pair is a programming error and panics.
func Lookup(e Engine, id StrategyID) Strategy {
	s, ok := Find(e, id)
	if !ok {
		panic(fmt.Sprintf("preset: no strategy %q for engine %q", id, e))
	}
	return s
}

// RequiresProxy reports whether strategy s needs the system SOCKS proxy.
func RequiresProxy(s Strategy) (int, bool) {
	if ds, ok := s.Start.(DirectSpawn); ok && ds.ProxyPort > 0 {
		return ds.ProxyPort, true
	}
	return 0, false
}

func (s Strategy) clone() Strategy {
	if ds, ok := s.Start.(DirectSpawn); ok {
		ds.Args = append([]string(nil), ds.Args...)
		s.Start = ds
	}
	return s
}

// Personal.AI order the ending
