package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framegate/framegate/internal/events"
	"github.com/framegate/framegate/internal/probe"
	"github.com/framegate/framegate/internal/protocol"
	"github.com/framegate/framegate/internal/registry"
)

// fakeClock drives timers deterministically. Due timers are collected
// under the lock but fired outside it so callbacks may arm new timers.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	when    time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, when: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.fired && !t.stopped
	t.stopped = true
	return was
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.fired && !t.stopped && !t.when.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

type recorder struct {
	mu         sync.Mutex
	directives []Directive
}

func (r *recorder) Send(d Directive) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.directives = append(r.directives, d)
	return nil
}

func (r *recorder) last() Directive {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.directives) == 0 {
		return Directive{}
	}
	return r.directives[len(r.directives)-1]
}

type stubProber struct {
	t       *testing.T
	allowed bool
	banned  bool
	called  bool
}

func (p *stubProber) Probe(_ context.Context, _ registry.Target) probe.Result {
	p.called = true
	if p.banned {
		p.t.Fatal("prober must not be called")
	}
	res := probe.Result{FrameLikelyAllowed: p.allowed}
	if !p.allowed {
		res.Signals.Reason = "x-frame-options: DENY"
	}
	return res
}

const machineScript = `<script src="https://widget.example.com/embed.js" data-workspace="ws-1"></script>`

func machineTarget(t *testing.T, mutate func(*registry.Target)) registry.Target {
	t.Helper()
	tg := registry.Target{
		Slug:            "forks",
		OriginURL:       "https://www.forkswa.com",
		Label:           "Forks",
		InjectionScript: machineScript,
	}
	if mutate != nil {
		mutate(&tg)
	}
	reg, err := registry.New([]registry.Target{tg})
	require.NoError(t, err)
	out, err := reg.Lookup("forks")
	require.NoError(t, err)
	return out
}

type fixture struct {
	machine *Machine
	clock   *fakeClock
	sink    *recorder
	mem     *events.Memory
}

func newFixture(t *testing.T, prober Prober, mutate func(*registry.Target), force Mode) *fixture {
	t.Helper()
	clock := newFakeClock()
	sink := &recorder{}
	mem := events.NewMemory(64)
	m := New(Config{
		Target:      machineTarget(t, mutate),
		Prober:      prober,
		Clock:       clock,
		Events:      mem,
		Sink:        sink,
		LoadTimeout: 8 * time.Second,
		ProxyURL:    "/demo/forks/site",
		Force:       force,
	})
	return &fixture{machine: m, clock: clock, sink: sink, mem: mem}
}

func (f *fixture) settledEvents() []events.Event {
	var out []events.Event
	for _, ev := range f.mem.Recent("", 0) {
		if ev.Type == events.TypeSettled {
			out = append(out, ev)
		}
	}
	return out
}

func TestForceIframeSkipsProber(t *testing.T) {
	prober := &stubProber{t: t, banned: true}
	f := newFixture(t, prober, func(tg *registry.Target) {
		tg.Policy = registry.PolicyForceIframe
	}, "")

	f.machine.Start(context.Background())

	state, mode, settled := f.machine.Snapshot()
	assert.Equal(t, StateLoading, state)
	assert.Equal(t, ModeIframe, mode)
	assert.False(t, settled)
	assert.False(t, prober.called)
	assert.Equal(t, "https://www.forkswa.com", f.sink.last().URL)
}

func TestHintBypassesNetworkProbe(t *testing.T) {
	prober := &stubProber{t: t, banned: true}
	yes := true
	f := newFixture(t, prober, func(tg *registry.Target) {
		tg.AllowIframeHint = &yes
	}, "")

	f.machine.Start(context.Background())

	_, mode, _ := f.machine.Snapshot()
	assert.Equal(t, ModeIframe, mode)
	assert.False(t, prober.called)
}

func TestProbeDisallowedChoosesProxy(t *testing.T) {
	f := newFixture(t, &stubProber{t: t, allowed: false}, nil, "")

	f.machine.Start(context.Background())

	_, mode, _ := f.machine.Snapshot()
	assert.Equal(t, ModeProxy, mode)
	assert.Equal(t, "/demo/forks/site", f.sink.last().URL)
}

func TestIframeLoadAloneNeverSettles(t *testing.T) {
	f := newFixture(t, &stubProber{t: t, allowed: true}, nil, "")
	f.machine.Start(context.Background())

	f.machine.FrameLoaded()
	_, mode, settled := f.machine.Snapshot()
	assert.Equal(t, ModeIframe, mode)
	assert.False(t, settled, "cross-origin load event is not a success signal")

	// No widget message before the timeout: cascade to proxy.
	f.clock.Advance(8 * time.Second)
	_, mode, settled = f.machine.Snapshot()
	assert.Equal(t, ModeProxy, mode)
	assert.False(t, settled)

	var attempt events.Event
	for _, ev := range f.mem.Recent("", 0) {
		if ev.Type == events.TypeModeAttempt && ev.ChosenMode == "proxy" {
			attempt = ev
		}
	}
	assert.Equal(t, events.ReasonIframeTimeout, attempt.Reason)
}

func TestProxySuccessMessageSettles(t *testing.T) {
	f := newFixture(t, &stubProber{t: t, allowed: false}, nil, "")
	ctx := context.Background()
	f.machine.Start(ctx)

	f.machine.ChildMessage(ctx, protocol.ChildMessage{
		Type:   protocol.TypeProxy,
		Status: protocol.StatusOK,
		Slug:   "forks",
	})

	state, mode, settled := f.machine.Snapshot()
	assert.Equal(t, StateSettled, state)
	assert.Equal(t, ModeProxy, mode)
	assert.True(t, settled)

	last := f.sink.last()
	assert.Equal(t, "settled", last.Kind)
	assert.Equal(t, OutcomeSuccess, last.Outcome)
	assert.True(t, last.Welcome)

	terminal := f.settledEvents()
	require.Len(t, terminal, 1)
	assert.Equal(t, "proxy", terminal[0].ChosenMode)
	assert.Equal(t, "success", terminal[0].Outcome)
}

func TestProxyErrorMessageCascadesToDefault(t *testing.T) {
	f := newFixture(t, &stubProber{t: t, allowed: false}, nil, "")
	ctx := context.Background()
	f.machine.Start(ctx)

	f.machine.ChildMessage(ctx, protocol.ChildMessage{
		Type:   protocol.TypeProxy,
		Status: protocol.StatusError,
		Reason: "proxy-http-error",
	})

	state, mode, settled := f.machine.Snapshot()
	assert.Equal(t, StateSettled, state)
	assert.Equal(t, ModeDefault, mode)
	assert.True(t, settled)

	terminal := f.settledEvents()
	require.Len(t, terminal, 1)
	assert.Equal(t, "exhausted", terminal[0].Outcome)
	assert.Equal(t, events.ReasonProxyHTTPError, terminal[0].Reason)
}

func TestProxyTimeoutExhaustsToDefault(t *testing.T) {
	f := newFixture(t, &stubProber{t: t, allowed: false}, nil, "")
	f.machine.Start(context.Background())

	f.clock.Advance(8 * time.Second)

	state, mode, _ := f.machine.Snapshot()
	assert.Equal(t, StateSettled, state)
	assert.Equal(t, ModeDefault, mode)

	terminal := f.settledEvents()
	require.Len(t, terminal, 1)
	assert.Equal(t, events.ReasonProxyTimeout, terminal[0].Reason)
	assert.Equal(t, "exhausted", terminal[0].Outcome)
}

func TestForceDefaultSettlesSuccessImmediately(t *testing.T) {
	f := newFixture(t, &stubProber{t: t, banned: true}, func(tg *registry.Target) {
		tg.Policy = registry.PolicyForceDefault
		tg.FallbackHTML = "<p>See the real thing</p>"
	}, "")

	f.machine.Start(context.Background())

	state, mode, _ := f.machine.Snapshot()
	assert.Equal(t, StateSettled, state)
	assert.Equal(t, ModeDefault, mode)

	terminal := f.settledEvents()
	require.Len(t, terminal, 1)
	assert.Equal(t, "success", terminal[0].Outcome, "directly forced default is not exhaustion")
}

func TestForceQueryOverridesPolicy(t *testing.T) {
	f := newFixture(t, &stubProber{t: t, banned: true}, func(tg *registry.Target) {
		tg.Policy = registry.PolicyForceIframe
	}, ModeProxy)

	f.machine.Start(context.Background())

	_, mode, _ := f.machine.Snapshot()
	assert.Equal(t, ModeProxy, mode)
}

func TestSettleExactlyOnceOnTie(t *testing.T) {
	f := newFixture(t, &stubProber{t: t, allowed: false}, nil, "")
	ctx := context.Background()
	f.machine.Start(ctx)

	// Success message and load timeout land at the same instant; the
	// settled guard must let exactly one of them produce the terminal
	// event.
	f.machine.ChildMessage(ctx, protocol.ChildMessage{
		Type:   protocol.TypeProxy,
		Status: protocol.StatusOK,
	})
	f.clock.Advance(8 * time.Second)

	terminal := f.settledEvents()
	require.Len(t, terminal, 1, "exactly one terminal event, never zero or two")
	assert.Equal(t, "proxy", terminal[0].ChosenMode)
	assert.Equal(t, "success", terminal[0].Outcome)
}

func TestSettleExactlyOnceTimeoutFirst(t *testing.T) {
	f := newFixture(t, &stubProber{t: t, allowed: false}, nil, "")
	ctx := context.Background()
	f.machine.Start(ctx)

	f.clock.Advance(8 * time.Second) // proxy timeout -> default, settled
	// Late success message after settling is a no-op.
	f.machine.ChildMessage(ctx, protocol.ChildMessage{
		Type:   protocol.TypeProxy,
		Status: protocol.StatusOK,
	})

	terminal := f.settledEvents()
	require.Len(t, terminal, 1)
	assert.Equal(t, "default", terminal[0].ChosenMode)
}

func TestStopCancelsTimers(t *testing.T) {
	f := newFixture(t, &stubProber{t: t, allowed: false}, nil, "")
	f.machine.Start(context.Background())

	f.machine.Stop()
	before := len(f.mem.Recent("", 0))

	f.clock.Advance(time.Minute)
	assert.Len(t, f.mem.Recent("", 0), before, "no events after teardown")
	assert.Empty(t, f.settledEvents(), "teardown is not an outcome")
}

func TestStopReportsClosedNotSettled(t *testing.T) {
	f := newFixture(t, &stubProber{t: t, allowed: true}, nil, "")
	f.machine.Start(context.Background())

	f.machine.Stop()
	state, _, settled := f.machine.Snapshot()
	assert.Equal(t, StateClosed, state, "abandoned sessions are closed, not settled")
	assert.True(t, settled)
}

func TestStopAfterSettleKeepsOutcome(t *testing.T) {
	f := newFixture(t, &stubProber{t: t, allowed: true}, nil, ModeDefault)
	f.machine.Start(context.Background())

	state, _, _ := f.machine.Snapshot()
	require.Equal(t, StateSettled, state)

	f.machine.Stop()
	state, _, _ = f.machine.Snapshot()
	assert.Equal(t, StateSettled, state, "teardown must not mask a real outcome")
}

func TestPerTargetTimeoutOverride(t *testing.T) {
	f := newFixture(t, &stubProber{t: t, allowed: false}, func(tg *registry.Target) {
		tg.TimeoutMs = 1000
	}, "")
	f.machine.Start(context.Background())

	f.clock.Advance(999 * time.Millisecond)
	_, mode, _ := f.machine.Snapshot()
	assert.Equal(t, ModeProxy, mode)

	f.clock.Advance(1 * time.Millisecond)
	_, mode, _ = f.machine.Snapshot()
	assert.Equal(t, ModeDefault, mode)
}

func TestDemoViewEmittedOnce(t *testing.T) {
	f := newFixture(t, &stubProber{t: t, allowed: true}, nil, "")
	f.machine.Start(context.Background())

	var views int
	for _, ev := range f.mem.Recent("", 0) {
		if ev.Type == events.TypeDemoView {
			views++
		}
	}
	assert.Equal(t, 1, views)
}
