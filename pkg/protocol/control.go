package protocol

// Control operations accepted on the daemon socket.
const (
	OpStatus   = "status"
	OpToggle   = "toggle"
	OpEngine   = "engine"
	OpStrategy = "strategy"
	OpPoll     = "poll"
)

// Request is a single control call. One request is sent per connection.
type Request struct {
	Op       string `json:"op"`
	Engine   string `json:"engine,omitempty"`
	Strategy string `json:"strategy,omitempty"`
	// Wait blocks the reply until the transaction started by Op has finished.
	Wait bool `json:"wait,omitempty"`
}

// Response carries the outcome and, for every op, the status after it was applied.
type Response struct {
	OK     bool        `json:"ok"`
	Code   int         `json:"code,omitempty"`
	Error  string      `json:"error,omitempty"`
	Status *StatusView `json:"status,omitempty"`
}

// StatusView is the wire form of the supervisor status.
type StatusView struct {
	Running       bool            `json:"running"`
	Busy          bool            `json:"busy"`
	Phase         string          `json:"phase"`
	Engine        string          `json:"engine"`
	EngineLabel   string          `json:"engine_label"`
	Strategy      string          `json:"strategy"`
	StrategyLabel string          `json:"strategy_label"`
	LastError     string          `json:"last_error,omitempty"`
	Installed     bool            `json:"installed"`
	Observed      map[string]bool `json:"observed,omitempty"`
	// ProxyPort is the local SOCKS port the system proxy points at, 0 when off.
	ProxyPort int `json:"proxy_port,omitempty"`
}

// Personal.AI order the ending
