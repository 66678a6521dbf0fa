package preset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEngine(t *testing.T) {
	for in, want := range map[string]Engine{
		"tpws": TransparentProxy, "Zapret": TransparentProxy,
		"byedpi": Socks5Proxy, "ciadpi": Socks5Proxy, "socks5": Socks5Proxy,
	} {
		got, err := ParseEngine(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseEngine("wireguard")
	assert.Error(t, err)
}

func TestEveryEngineHasDefault(t *testing.T) {
	for _, e := range Engines() {
		id := Default(e)
		s := Lookup(e, id)
		assert.Equal(t, e, s.Engine)
	}
	assert.Equal(t, StrategyID("split-disorder"), Default(TransparentProxy))
	assert.Equal(t, StrategyID("disorder-simple"), Default(Socks5Proxy))
}

func TestStrategiesAreScopedToEngine(t *testing.T) {
	for _, e := range Engines() {
		seen := map[StrategyID]bool{}
		for _, s := range Strategies(e) {
			assert.Equal(t, e, s.Engine)
			assert.False(t, seen[s.ID], "duplicate id %s", s.ID)
			seen[s.ID] = true
			_, crossOK := Find(other(e), s.ID)
			assert.False(t, crossOK, "%s must not resolve under %s", s.ID, other(e))
		}
	}
}

func TestLookup_UnknownPanics(t *testing.T) {
	assert.Panics(t, func() { Lookup(TransparentProxy, "disorder-simple") })
	assert.Panics(t, func() { Default(Engine("nope")) })
}

func TestDisorderSimpleArgs(t *testing.T) {
	s := Lookup(Socks5Proxy, "disorder-simple")
	assert.Equal(t, "Disorder (Simple)", s.Label)
	spec, ok := s.Start.(DirectSpawn)
	require.True(t, ok)
	assert.Equal(t, []string{"-p", "1080", "-d", "1"}, spec.Args)

	port, ok := RequiresProxy(s)
	assert.True(t, ok)
	assert.Equal(t, 1080, port)
}

func TestStrategiesReturnsCopies(t *testing.T) {
	s := Strategies(Socks5Proxy)[0]
	s.Start.(DirectSpawn).Args[0] = "mutated"
	assert.Equal(t, "-p", Lookup(Socks5Proxy, s.ID).Start.(DirectSpawn).Args[0])
}

func TestRenderConfig_ZapretFormat(t *testing.T) {
	body := RenderConfig(Lookup(TransparentProxy, "split-disorder"))
	want := `MODE_FILTER=autohostlist
TPWS_ENABLE=1
TPWS_SOCKS_ENABLE=1
TPWS_PORTS=80,443
INIT_APPLY_FW=1
DISABLE_IPV6=1
GZIP_LISTS=0
GETLIST=get_refilter_domains.sh
TPWS_OPT="
--filter-tcp=80 --methodeol <HOSTLIST> --new
--filter-tcp=443 --split-pos=1,midsld --disorder <HOSTLIST>
"
`
	assert.Equal(t, want, body)
	assert.Empty(t, RenderConfig(Lookup(Socks5Proxy, "auto")))
}

func TestTPWSPresetsKeepHostlistMarker(t *testing.T) {
	for _, s := range Strategies(TransparentProxy) {
		_, proxy := RequiresProxy(s)
		assert.False(t, proxy)
		assert.Equal(t, 2, strings.Count(RenderConfig(s), HostlistMarker), s.ID)
	}
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "-p 1080 -d 1 -o 1", Describe(Lookup(Socks5Proxy, "disorder-oob")))
	assert.Equal(t,
		"--filter-tcp=80 --methodeol <HOSTLIST> --new --filter-tcp=443 --tlsrec=sniext --split-pos=1,midsld --disorder <HOSTLIST>",
		Describe(Lookup(TransparentProxy, "discord-fix")))
}

func other(e Engine) Engine {
	if e == TransparentProxy {
		return Socks5Proxy
	}
	return TransparentProxy
}

// Personal.AI order the ending
