package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkware/zapretd/internal/events"
	"github.com/darkware/zapretd/internal/preset"
	"github.com/darkware/zapretd/pkg/consts"
	zerr "github.com/darkware/zapretd/pkg/errors"
)

const ciadpi = "/opt/darkware-zapret/byedpi/ciadpi"

func TestSupervisor_InitialState(t *testing.T) {
	h := newHarness(t, nil)
	st := h.sup.Status()

	assert.False(t, st.IsRunning)
	assert.False(t, st.IsBusy)
	assert.Equal(t, preset.TransparentProxy, st.Engine)
	assert.Equal(t, preset.Default(preset.TransparentProxy), st.Strategy)
	assert.Equal(t, consts.PhaseIdle, st.Phase)
	assert.True(t, st.Installed)
	assert.Empty(t, st.LastError)
}

func TestSupervisor_LoadsPersistedChoices(t *testing.T) {
	h := newHarness(t, map[string]string{
		consts.KeyEngine:                  "byedpi",
		consts.KeyStrategyPrefix + "byedpi": "auto",
		consts.KeyStrategyPrefix + "tpws":   "no-such-preset",
	})
	st := h.sup.Status()
	assert.Equal(t, preset.Socks5Proxy, st.Engine)
	assert.Equal(t, preset.StrategyID("auto"), st.Strategy)

	require.NoError(t, h.sup.SetEngine(preset.TransparentProxy))
	require.NoError(t, h.wait())
	assert.Equal(t, preset.Default(preset.TransparentProxy), h.sup.Status().Strategy)
}

func TestSupervisor_ToggleAlternates(t *testing.T) {
	h := newHarness(t, nil)

	for i, want := range []bool{true, false, true, false} {
		require.NoError(t, h.sup.Toggle())
		require.NoError(t, h.wait())
		st := h.sup.Status()
		assert.Equal(t, want, st.IsRunning, "toggle %d", i)
		assert.False(t, st.IsBusy)
		if want {
			assert.Equal(t, consts.PhaseRunning, st.Phase)
		} else {
			assert.Equal(t, consts.PhaseIdle, st.Phase)
		}
	}
	assert.Equal(t, 2, h.w.count("run tpws-start"))
	assert.Equal(t, 2, h.w.count("proxy off"))
}

func TestSupervisor_StartTransparentWritesConfigFirst(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.sup.Toggle())
	require.NoError(t, h.wait())

	assert.Equal(t, []string{"write config_custom", "run tpws-start"}, h.w.actions())
	strat := preset.Lookup(preset.TransparentProxy, preset.Default(preset.TransparentProxy))
	assert.Equal(t, preset.RenderConfig(strat), h.file())
	assert.True(t, h.w.isAlive(preset.TransparentProxy))
}

func TestSupervisor_StartSocksSpawnsAndEnablesProxy(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.sup.SetEngine(preset.Socks5Proxy))
	require.NoError(t, h.wait())
	assert.Empty(t, h.w.actions(), "selecting an engine while idle touches no process")

	require.NoError(t, h.sup.Toggle())
	require.NoError(t, h.wait())

	assert.Equal(t, []string{
		"spawn " + ciadpi + " -p 1080 -d 1",
		"proxy on 1080",
	}, h.w.actions())
	st := h.sup.Status()
	assert.True(t, st.IsRunning)
	assert.Equal(t, preset.Socks5Proxy, st.Engine)
	assert.Equal(t, preset.StrategyID("disorder-simple"), st.Strategy)
	assert.Equal(t, 1080, st.ProxyPort)
	assert.Equal(t, 1080, st.View().ProxyPort)

	require.NoError(t, h.sup.Toggle())
	require.NoError(t, h.wait())
	assert.Zero(t, h.sup.Status().ProxyPort)
}

func TestSupervisor_StopSweepsEveryEngineAndDisablesProxyOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.startWith(preset.Socks5Proxy)

	require.NoError(t, h.sup.Toggle())
	require.NoError(t, h.wait())

	assert.Equal(t, []string{
		"run tpws-stop",
		"terminate byedpi",
		"run byedpi-stop",
		"proxy off",
	}, h.w.actions())
	assert.False(t, h.w.isAlive(preset.Socks5Proxy))
	assert.False(t, h.sup.Status().IsRunning)
	assert.Empty(t, h.sup.Status().LastError, "pkill exit 1 means nothing to stop")
}

func TestSupervisor_StopFailuresStillReachIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.startWith(preset.TransparentProxy)
	h.w.fail["tpws-stop"] = 2
	h.proxy.disableErr = zerr.New(zerr.ErrCodeProxyAdapterFailed, "Disable", "networksetup failed", nil)

	require.NoError(t, h.sup.Toggle())
	require.NoError(t, h.wait(), "stop never fails the transaction")

	st := h.sup.Status()
	assert.False(t, st.IsRunning)
	assert.Equal(t, consts.PhaseIdle, st.Phase)
	assert.Contains(t, st.LastError, "tpws-stop")
	assert.Contains(t, st.LastError, "networksetup failed")
	assert.Equal(t, 1, h.w.count("proxy off"))
	assert.Equal(t, 1, h.w.count("run byedpi-stop"), "sweep continues past a failing engine")
}

func TestSupervisor_SwitchSocksToTransparent(t *testing.T) {
	h := newHarness(t, nil)
	h.startWith(preset.Socks5Proxy)

	require.NoError(t, h.sup.SetEngine(preset.TransparentProxy))
	st := h.sup.Status()
	assert.True(t, st.IsBusy)
	assert.Equal(t, preset.TransparentProxy, st.Engine)

	require.NoError(t, h.wait())

	assert.Equal(t, []string{
		"run tpws-stop",
		"terminate byedpi",
		"run byedpi-stop",
		"proxy off",
		"probe",
		"write config_custom",
		"run tpws-start",
	}, h.w.entries())

	st = h.sup.Status()
	assert.True(t, st.IsRunning)
	assert.Equal(t, consts.PhaseRunning, st.Phase)
	assert.Equal(t, preset.TransparentProxy, st.Engine)
	assert.False(t, h.w.isAlive(preset.Socks5Proxy))
	assert.True(t, h.w.isAlive(preset.TransparentProxy))

	v, ok := h.store.GetString(consts.KeyEngine)
	require.True(t, ok)
	assert.Equal(t, "tpws", v)
}

func TestSupervisor_SwitchAbortsWhenOldEngineSurvives(t *testing.T) {
	h := newHarness(t, nil)
	h.startWith(preset.Socks5Proxy)
	h.w.stuck[preset.Socks5Proxy] = true

	require.NoError(t, h.sup.SetEngine(preset.TransparentProxy))
	err := h.wait()
	require.Error(t, err)
	assert.Equal(t, zerr.ErrCodeTimeout, zerr.CodeOf(err))

	st := h.sup.Status()
	assert.False(t, st.IsRunning)
	assert.Equal(t, consts.PhaseIdle, st.Phase)
	assert.Contains(t, st.LastError, "byedpi")
	assert.Zero(t, h.w.count("run tpws-start"), "new engine must not start next to the old one")
	assert.Equal(t, 1, h.w.count("proxy off"))
}

func TestSupervisor_StartFailureLeavesLastError(t *testing.T) {
	h := newHarness(t, nil)
	h.w.fail["tpws-start"] = 1

	require.NoError(t, h.sup.Toggle())
	err := h.wait()
	require.Error(t, err)
	assert.Equal(t, zerr.ErrCodeCommandFailed, zerr.CodeOf(err))

	st := h.sup.Status()
	assert.False(t, st.IsRunning)
	assert.False(t, st.IsBusy)
	assert.Equal(t, consts.PhaseIdle, st.Phase)
	assert.Contains(t, st.LastError, "permission denied")

	// A later success clears it.
	delete(h.w.fail, "tpws-start")
	require.NoError(t, h.sup.Toggle())
	require.NoError(t, h.wait())
	assert.Empty(t, h.sup.Status().LastError)
}

func TestSupervisor_StartCommandTimeout(t *testing.T) {
	h := newHarness(t, nil)
	h.w.hang["tpws-start"] = true

	require.NoError(t, h.sup.Toggle())
	err := h.wait()
	require.Error(t, err)
	assert.Equal(t, zerr.ErrCodeTimeout, zerr.CodeOf(err))
	assert.False(t, h.sup.Status().IsRunning)
}

func TestSupervisor_SpawnFailure(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sup.SetEngine(preset.Socks5Proxy))
	require.NoError(t, h.wait())
	h.w.spawnErr = true

	require.NoError(t, h.sup.Toggle())
	err := h.wait()
	assert.Equal(t, zerr.ErrCodeLaunchFailed, zerr.CodeOf(err))
	assert.False(t, h.sup.Status().IsRunning)
	assert.Zero(t, h.w.count("proxy on 1080"))
}

func TestSupervisor_ProxyEnableFailureIsWarning(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sup.SetEngine(preset.Socks5Proxy))
	require.NoError(t, h.wait())
	h.proxy.enableErr = zerr.New(zerr.ErrCodeProxyAdapterFailed, "Enable", "no network services", nil)

	require.NoError(t, h.sup.Toggle())
	require.NoError(t, h.wait())

	st := h.sup.Status()
	assert.True(t, st.IsRunning)
	assert.Contains(t, st.LastError, "no network services")
	assert.Zero(t, st.ProxyPort)
}

func TestSupervisor_SetStrategyWhileIdle(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.sup.SetStrategy(preset.TransparentProxy, "discord-fix"))
	require.NoError(t, h.wait())
	assert.Equal(t, []string{"write config_custom"}, h.w.actions())
	assert.Contains(t, h.file(), preset.RenderConfig(preset.Lookup(preset.TransparentProxy, "discord-fix")))

	require.NoError(t, h.sup.SetStrategy(preset.Socks5Proxy, "fake-ttl"))
	require.NoError(t, h.wait())
	assert.Equal(t, []string{"write config_custom"}, h.w.actions(), "spawn engines only persist")

	st := h.sup.Status()
	assert.False(t, st.IsRunning)
	assert.Equal(t, preset.StrategyID("discord-fix"), st.Strategy)

	v, _ := h.store.GetString(consts.KeyStrategyPrefix + "byedpi")
	assert.Equal(t, "fake-ttl", v)
}

func TestSupervisor_StrategyRememberedPerEngine(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.sup.SetStrategy(preset.TransparentProxy, "aggressive"))
	require.NoError(t, h.wait())
	require.NoError(t, h.sup.SetEngine(preset.Socks5Proxy))
	require.NoError(t, h.wait())
	require.NoError(t, h.sup.SetStrategy(preset.Socks5Proxy, "split-sni"))
	require.NoError(t, h.wait())
	require.NoError(t, h.sup.SetEngine(preset.TransparentProxy))
	require.NoError(t, h.wait())

	assert.Equal(t, preset.StrategyID("aggressive"), h.sup.Status().Strategy)

	require.NoError(t, h.sup.SetEngine(preset.Socks5Proxy))
	require.NoError(t, h.wait())
	assert.Equal(t, preset.StrategyID("split-sni"), h.sup.Status().Strategy)
}

func TestSupervisor_EveryStrategyIsSelectable(t *testing.T) {
	for _, e := range preset.Engines() {
		for _, strat := range preset.Strategies(e) {
			t.Run(string(e)+"/"+string(strat.ID), func(t *testing.T) {
				h := newHarness(t, nil)
				require.NoError(t, h.sup.SetEngine(e))
				require.NoError(t, h.wait())

				// Start from a different strategy so the selection is never a no-op.
				for _, other := range preset.Strategies(e) {
					if other.ID != strat.ID {
						require.NoError(t, h.sup.SetStrategy(e, other.ID))
						require.NoError(t, h.wait())
						break
					}
				}

				require.NoError(t, h.sup.SetStrategy(e, strat.ID))
				require.NoError(t, h.wait())

				st := h.sup.Status()
				assert.Equal(t, strat.ID, st.Strategy)
				assert.Equal(t, e, st.Engine)
				assert.False(t, st.IsRunning)
				v, _ := h.store.GetString(consts.KeyStrategyPrefix + string(e))
				assert.Equal(t, string(strat.ID), v)
			})
		}
	}
}

func TestSupervisor_SetStrategyRestartsTransparent(t *testing.T) {
	h := newHarness(t, nil)
	h.startWith(preset.TransparentProxy)

	require.NoError(t, h.sup.SetStrategy(preset.TransparentProxy, "tlsrec-split"))
	assert.Equal(t, consts.PhaseRestarting, h.sup.Status().Phase)
	require.NoError(t, h.wait())

	assert.Equal(t, []string{"write config_custom", "run tpws-restart"}, h.w.actions())
	st := h.sup.Status()
	assert.True(t, st.IsRunning)
	assert.Equal(t, consts.PhaseRunning, st.Phase)
	assert.Equal(t, preset.StrategyID("tlsrec-split"), st.Strategy)
}

func TestSupervisor_SetStrategyRespawnsSocks(t *testing.T) {
	h := newHarness(t, nil)
	h.startWith(preset.Socks5Proxy)

	require.NoError(t, h.sup.SetStrategy(preset.Socks5Proxy, "split-sni"))
	require.NoError(t, h.wait())

	assert.Equal(t, []string{
		"terminate byedpi",
		"run byedpi-stop",
		"spawn " + ciadpi + " -p 1080 -s 1+s",
		"proxy on 1080",
	}, h.w.actions())
	assert.True(t, h.sup.Status().IsRunning)
}

func TestSupervisor_SetStrategyOtherEngineWhileRunning(t *testing.T) {
	h := newHarness(t, nil)
	h.startWith(preset.TransparentProxy)

	require.NoError(t, h.sup.SetStrategy(preset.Socks5Proxy, "auto"))
	require.NoError(t, h.wait())

	assert.Empty(t, h.w.actions())
	st := h.sup.Status()
	assert.True(t, st.IsRunning)
	assert.Equal(t, consts.PhaseRunning, st.Phase)
}

func TestSupervisor_InvalidIntents(t *testing.T) {
	h := newHarness(t, nil)

	err := h.sup.SetEngine("wireguard")
	assert.Equal(t, zerr.ErrCodeInvalidIntent, zerr.CodeOf(err))

	err = h.sup.SetStrategy(preset.Socks5Proxy, "split-disorder")
	assert.Equal(t, zerr.ErrCodeInvalidIntent, zerr.CodeOf(err))

	// Same value is a no-op, not a transaction.
	require.NoError(t, h.sup.SetEngine(preset.TransparentProxy))
	require.NoError(t, h.sup.SetStrategy(preset.TransparentProxy, preset.Default(preset.TransparentProxy)))
	assert.False(t, h.sup.Status().IsBusy)
	assert.Empty(t, h.w.entries())
}

func TestSupervisor_NoopIntentDoesNotReportEarlierFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.w.fail["tpws-start"] = 1

	require.NoError(t, h.sup.Toggle())
	require.Error(t, h.wait())

	require.NoError(t, h.sup.SetEngine(preset.TransparentProxy))
	assert.NoError(t, h.wait())
	assert.Contains(t, h.sup.Status().LastError, "tpws-start", "the failure stays visible in the status")

	require.NoError(t, h.sup.Toggle())
	require.Error(t, h.wait())
	require.NoError(t, h.sup.SetStrategy(preset.TransparentProxy, preset.Default(preset.TransparentProxy)))
	assert.NoError(t, h.wait())
}

func TestSupervisor_RejectsWhenNotInstalled(t *testing.T) {
	h := newHarness(t, nil)
	h.w.mu.Lock()
	h.w.installed = false
	h.w.mu.Unlock()

	for _, err := range []error{
		h.sup.Toggle(),
		h.sup.SetEngine(preset.Socks5Proxy),
		h.sup.SetStrategy(preset.TransparentProxy, "aggressive"),
		// unchanged values are refused too
		h.sup.SetEngine(preset.TransparentProxy),
		h.sup.SetStrategy(preset.TransparentProxy, preset.Default(preset.TransparentProxy)),
	} {
		assert.Equal(t, zerr.ErrCodeNotInstalled, zerr.CodeOf(err))
	}
	st := h.sup.Status()
	assert.False(t, st.Installed)
	assert.False(t, st.IsBusy)
	assert.Equal(t, preset.TransparentProxy, st.Engine)
	assert.Empty(t, h.w.entries())
}

func TestSupervisor_RejectsWhileBusy(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sup.SetEngine(preset.Socks5Proxy))
	require.NoError(t, h.wait())

	gate := make(chan struct{})
	h.w.spawnGate = gate

	require.NoError(t, h.sup.Toggle())
	st := h.sup.Status()
	assert.True(t, st.IsBusy)
	assert.Equal(t, consts.PhaseStarting, st.Phase)

	assert.True(t, errors.Is(h.sup.Toggle(), zerr.ErrBusy))
	assert.True(t, errors.Is(h.sup.SetEngine(preset.TransparentProxy), zerr.ErrBusy))
	assert.True(t, errors.Is(h.sup.SetStrategy(preset.Socks5Proxy, "auto"), zerr.ErrBusy))

	close(gate)
	require.NoError(t, h.wait())
	st = h.sup.Status()
	assert.True(t, st.IsRunning)
	assert.Equal(t, preset.Socks5Proxy, st.Engine)
	assert.Equal(t, preset.StrategyID("disorder-simple"), st.Strategy)
	assert.Equal(t, 1, h.w.count("spawn "+ciadpi+" -p 1080 -d 1"))
}

func TestSupervisor_PollDetectsExternalKill(t *testing.T) {
	h := newHarness(t, nil)
	h.startWith(preset.TransparentProxy)
	h.w.kill(preset.TransparentProxy)

	require.NoError(t, h.sup.PollOnce(context.Background()))
	require.NoError(t, h.wait())

	st := h.sup.Status()
	assert.False(t, st.IsRunning)
	assert.Equal(t, consts.PhaseIdle, st.Phase)
	assert.False(t, st.Observed.Alive[preset.TransparentProxy])
	assert.Zero(t, h.w.count("proxy off"), "transparent engine owns no proxy")
}

func TestSupervisor_PollCleansProxyAfterSocksDies(t *testing.T) {
	h := newHarness(t, nil)
	h.startWith(preset.Socks5Proxy)
	h.w.kill(preset.Socks5Proxy)

	require.NoError(t, h.sup.PollOnce(context.Background()))
	require.NoError(t, h.wait())

	assert.Equal(t, 1, h.w.count("proxy off"))
	st := h.sup.Status()
	assert.False(t, st.IsRunning)
	assert.False(t, st.IsBusy)
	assert.Equal(t, consts.PhaseIdle, st.Phase)

	// Next start spawns fresh; the dead handle is forgotten.
	require.NoError(t, h.sup.Toggle())
	require.NoError(t, h.wait())
	assert.True(t, h.sup.Status().IsRunning)
	assert.Zero(t, h.w.count("terminate byedpi"))
}

func TestSupervisor_PollAdoptsExternallyStartedEngine(t *testing.T) {
	h := newHarness(t, nil)
	h.w.setAlive(preset.TransparentProxy, true)

	require.NoError(t, h.sup.PollOnce(context.Background()))
	require.NoError(t, h.wait())

	st := h.sup.Status()
	assert.True(t, st.IsRunning)
	assert.Equal(t, consts.PhaseRunning, st.Phase)
	assert.Zero(t, h.w.count("proxy on 1080"), "transparent engine owns no proxy")
}

func TestSupervisor_PollAdoptsSocksEngineAndEnablesProxy(t *testing.T) {
	h := newHarness(t, map[string]string{consts.KeyEngine: "byedpi"})
	h.w.setAlive(preset.Socks5Proxy, true)

	require.NoError(t, h.sup.PollOnce(context.Background()))
	require.NoError(t, h.wait())

	assert.Equal(t, []string{"probe", "proxy on 1080"}, h.w.entries())
	st := h.sup.Status()
	assert.True(t, st.IsRunning)
	assert.False(t, st.IsBusy)
	assert.Equal(t, consts.PhaseRunning, st.Phase)
	assert.Equal(t, 1080, st.ProxyPort)

	// A later stop tears the adopted engine and its proxy down as usual.
	require.NoError(t, h.sup.Toggle())
	require.NoError(t, h.wait())
	assert.False(t, h.w.isAlive(preset.Socks5Proxy))
	assert.Equal(t, 1, h.w.count("proxy off"))
}

func TestSupervisor_FirstPollClearsProxyLeftByEarlierRun(t *testing.T) {
	h := newHarness(t, map[string]string{consts.KeyEngine: "byedpi"})

	require.NoError(t, h.sup.PollOnce(context.Background()))
	require.NoError(t, h.wait())
	assert.Equal(t, []string{"probe", "proxy off"}, h.w.entries())
	assert.False(t, h.sup.Status().IsRunning)

	// Only once.
	require.NoError(t, h.sup.PollOnce(context.Background()))
	require.NoError(t, h.wait())
	assert.Equal(t, 1, h.w.count("proxy off"))
}

func TestSupervisor_FirstPollKeepsProxyAfterOwnTransaction(t *testing.T) {
	h := newHarness(t, nil)
	h.startWith(preset.TransparentProxy)

	require.NoError(t, h.sup.PollOnce(context.Background()))
	require.NoError(t, h.wait())
	assert.Zero(t, h.w.count("proxy off"))
}

func TestSupervisor_PollIgnoresOtherEngine(t *testing.T) {
	h := newHarness(t, nil)
	h.w.setAlive(preset.Socks5Proxy, true)

	require.NoError(t, h.sup.PollOnce(context.Background()))

	st := h.sup.Status()
	assert.False(t, st.IsRunning, "only the selected engine drives the flag")
	assert.True(t, st.Observed.Alive[preset.Socks5Proxy])
	assert.Zero(t, h.w.count("proxy off"), "a live SOCKS engine still needs the proxy")
}

func TestSupervisor_PollProbeFailureKeepsState(t *testing.T) {
	h := newHarness(t, nil)
	h.startWith(preset.TransparentProxy)
	h.w.kill(preset.TransparentProxy)
	h.w.mu.Lock()
	h.w.probeErr = zerr.New(zerr.ErrCodeProbeUnavailable, "Snapshot", "process table unreadable", nil)
	h.w.mu.Unlock()

	err := h.sup.PollOnce(context.Background())
	assert.Equal(t, zerr.ErrCodeProbeUnavailable, zerr.CodeOf(err))
	assert.True(t, h.sup.Status().IsRunning)
}

func TestSupervisor_StaleObservationIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.startWith(preset.TransparentProxy)

	h.sup.mu.Lock()
	stale := h.sup.gen - 1
	h.sup.mu.Unlock()

	o := outcome{
		op:     "reconcile",
		obs:    &ObservedState{Alive: map[preset.Engine]bool{preset.TransparentProxy: false}, At: time.Now()},
		obsGen: stale,
		ack:    make(chan struct{}),
	}
	h.sup.applyObservation(o)
	<-o.ack

	st := h.sup.Status()
	assert.True(t, st.IsRunning)
	assert.Equal(t, consts.PhaseRunning, st.Phase)
	assert.False(t, st.Observed.Alive[preset.TransparentProxy], "observation is still recorded")
}

func TestSupervisor_Shutdown(t *testing.T) {
	h := newHarness(t, nil)
	h.startWith(preset.Socks5Proxy)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.sup.Shutdown(ctx))
	assert.False(t, h.sup.Status().IsRunning)
	assert.Equal(t, 1, h.w.count("proxy off"))

	// Idle shutdown does nothing.
	require.NoError(t, h.sup.Shutdown(ctx))
	assert.Equal(t, 1, h.w.count("proxy off"))
}

func TestSupervisor_PublishesEvents(t *testing.T) {
	bus := events.New()
	var (
		mu  sync.Mutex
		txs []events.TransactionEvent
	)
	unsub := bus.Subscribe(func(e events.TransactionEvent) {
		mu.Lock()
		txs = append(txs, e)
		mu.Unlock()
	})
	defer unsub()

	w := newWorld()
	sup := New(Options{
		Engines:   testSpecs(t.TempDir()),
		Installer: w,
		Launcher:  fakeLauncher{w: w},
		Prober:    fakeProber{w: w},
		Proxy:     &fakeProxy{w: w},
		Bus:       bus,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sup.Run(ctx) }()

	require.NoError(t, sup.Toggle())
	require.NoError(t, sup.Wait(ctx))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(txs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "start", txs[0].Op)
	assert.Equal(t, "tpws", txs[0].Engine)
	assert.True(t, txs[0].OK)
}

func TestStatus_View(t *testing.T) {
	st := Status{
		IsRunning: true,
		Engine:    preset.Socks5Proxy,
		Strategy:  "fake-ttl",
		Phase:     consts.PhaseRunning,
		Installed: true,
		Observed:  ObservedState{Alive: map[preset.Engine]bool{preset.Socks5Proxy: true}},
	}
	v := st.View()
	assert.True(t, v.Running)
	assert.Equal(t, "byedpi", v.Engine)
	assert.Equal(t, "ByeDPI (SOCKS5)", v.EngineLabel)
	assert.Equal(t, "Fake (TTL)", v.StrategyLabel)
	assert.Equal(t, "RUNNING", v.Phase)
	assert.Equal(t, map[string]bool{"byedpi": true}, v.Observed)
}

// Personal.AI order the ending
