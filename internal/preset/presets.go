package preset

import (
	"fmt"
	"strconv"
	"strings"
)

// SocksPort is where every byedpi preset listens.
const SocksPort = 1080

// HostlistMarker is substituted by zapret's own tooling, never by us.
const HostlistMarker = "<HOSTLIST>"

// tpwsHeader is shared by every tpws preset. Keys and values must stay
// byte-compatible with zapret's config format.
const tpwsHeader = `MODE_FILTER=autohostlist
TPWS_ENABLE=1
TPWS_SOCKS_ENABLE=1
TPWS_PORTS=80,443
INIT_APPLY_FW=1
DISABLE_IPV6=1
GZIP_LISTS=0
GETLIST=get_refilter_domains.sh`

func tpwsConfig(http, https string) ConfigFileThenCommand {
	return ConfigFileThenCommand{Body: fmt.Sprintf("%s\nTPWS_OPT=\"\n%s\n%s\n\"", tpwsHeader, http, https)}
}

func byedpi(args ...string) DirectSpawn {
	return DirectSpawn{
		Args:      append([]string{"-p", strconv.Itoa(SocksPort)}, args...),
		ProxyPort: SocksPort,
	}
}

// The first entry of each engine is its default.
var catalog = map[Engine][]Strategy{
	TransparentProxy: {
		{
			ID: "split-disorder", Label: "Split + Disorder", Engine: TransparentProxy,
			Start: tpwsConfig(
				"--filter-tcp=80 --methodeol <HOSTLIST> --new",
				"--filter-tcp=443 --split-pos=1,midsld --disorder <HOSTLIST>",
			),
		},
		{
			ID: "discord-fix", Label: "Discord Fix", Engine: TransparentProxy,
			Start: tpwsConfig(
				"--filter-tcp=80 --methodeol <HOSTLIST> --new",
				"--filter-tcp=443 --tlsrec=sniext --split-pos=1,midsld --disorder <HOSTLIST>",
			),
		},
		{
			ID: "tlsrec-split", Label: "TLSRec + Split", Engine: TransparentProxy,
			Start: tpwsConfig(
				"--filter-tcp=80 --methodeol <HOSTLIST> --new",
				"--filter-tcp=443 --tlsrec=midsld --split-pos=midsld --disorder <HOSTLIST>",
			),
		},
		{
			ID: "aggressive", Label: "Aggressive", Engine: TransparentProxy,
			Start: tpwsConfig(
				"--filter-tcp=80 --methodeol --hostdot <HOSTLIST> --new",
				"--filter-tcp=443 --tlsrec=sniext --split-pos=1,midsld --disorder --oob <HOSTLIST>",
			),
		},
	},
	Socks5Proxy: {
		{ID: "disorder-simple", Label: "Disorder (Simple)", Engine: Socks5Proxy, Start: byedpi("-d", "1")},
		{ID: "split-sni", Label: "Split (SNI)", Engine: Socks5Proxy, Start: byedpi("-s", "1+s")},
		{ID: "disorder-oob", Label: "Disorder + OOB", Engine: Socks5Proxy, Start: byedpi("-d", "1", "-o", "1")},
		{ID: "fake-ttl", Label: "Fake (TTL)", Engine: Socks5Proxy, Start: byedpi("-f", "-1", "-t", "8")},
		{ID: "auto", Label: "Auto (Torst)", Engine: Socks5Proxy, Start: byedpi("-d", "1", "-A", "torst", "-s", "1+s")},
	},
}

// RenderConfig returns the config file body for s, or "" for spawn-based strategies.
func RenderConfig(s Strategy) string {
	if c, ok := s.Start.(ConfigFileThenCommand); ok {
		return c.Body + "\n"
	}
	return ""
}

// Describe renders the launch parameters of s on one line, for listings.
func Describe(s Strategy) string {
	switch spec := s.Start.(type) {
	case DirectSpawn:
		return strings.Join(spec.Args, " ")
	case ConfigFileThenCommand:
		i := strings.Index(spec.Body, "TPWS_OPT=\"")
		if i < 0 {
			return ""
		}
		opt := strings.TrimSuffix(spec.Body[i+len("TPWS_OPT=\""):], "\"")
		return strings.Join(strings.Fields(opt), " ")
	}
	return ""
}

// Personal.AI order the ending
