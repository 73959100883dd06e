// Package session implements the per-demo fallback state machine. One
// machine exists per page view; it decides which embed mode to attempt
// (direct iframe, same-origin proxy, static fallback), enforces load
// timeouts, and commits to exactly one terminal outcome.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/framegate/framegate/internal/events"
	"github.com/framegate/framegate/internal/logging"
	"github.com/framegate/framegate/internal/probe"
	"github.com/framegate/framegate/internal/protocol"
	"github.com/framegate/framegate/internal/registry"
)

// Mode is an embedding strategy.
type Mode string

const (
	ModeIframe  Mode = "iframe"
	ModeProxy   Mode = "proxy"
	ModeDefault Mode = "default"
)

// Outcome of a settled session.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeExhausted Outcome = "exhausted"
)

// State names for the machine lifecycle.
type State string

const (
	StateInit    State = "init"
	StateProbing State = "probing"
	StateLoading State = "loading"
	StateSettled State = "settled"
	StateClosed  State = "closed"
)

// DefaultLoadTimeout bounds each LOADING attempt unless the target
// overrides it.
const DefaultLoadTimeout = 8 * time.Second

// Directive instructs the relay page what to render next.
type Directive struct {
	Kind         string        `json:"kind"` // "load" or "settled"
	Mode         Mode          `json:"mode"`
	URL          string        `json:"url,omitempty"`
	Outcome      Outcome       `json:"outcome,omitempty"`
	Reason       events.Reason `json:"reason,omitempty"`
	FallbackHTML string        `json:"fallback_html,omitempty"`
	Welcome      bool          `json:"welcome,omitempty"`
}

// Sink receives directives; implemented by the WebSocket relay and by
// test recorders.
type Sink interface {
	Send(Directive) error
}

// Prober is the frame-policy probe dependency.
type Prober interface {
	Probe(ctx context.Context, target registry.Target) probe.Result
}

// Config assembles a machine's collaborators.
type Config struct {
	Target      registry.Target
	Prober      Prober
	Clock       Clock
	Events      events.Logger
	Sink        Sink
	Log         *logging.Logger
	LoadTimeout time.Duration
	ProxyURL    string // same-origin route serving the rewritten document
	Force       Mode   // optional ?force= override; empty means none
}

// Machine is the fallback state machine. All inputs are serialized
// through one mutex; the one-shot settled flag is the sole guard against
// a late load event, a child message and a timeout racing each other.
type Machine struct {
	id  string
	cfg Config

	mu            sync.Mutex
	state         State
	mode          Mode
	settled       bool
	cascades      int
	timer         Timer
	loadStartedAt time.Time
}

// New creates a machine for one page view of a demo.
func New(cfg Config) *Machine {
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	if cfg.Log == nil {
		cfg.Log = logging.NewNop()
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultLoadTimeout
	}
	return &Machine{
		id:    uuid.NewString(),
		cfg:   cfg,
		state: StateInit,
	}
}

// ID returns the session identifier.
func (m *Machine) ID() string { return m.id }

// Start runs INIT and PROBING and enters the first LOADING mode. The
// probe is a network call, so Start blocks up to the probe timeout;
// callers run it on the session's goroutine.
func (m *Machine) Start(ctx context.Context) {
	target := m.cfg.Target

	ev := m.newEvent(events.TypeDemoView)
	ev.Metadata = map[string]any{"policy": string(target.Policy)}
	if m.cfg.Force != "" {
		ev.Metadata["force"] = string(m.cfg.Force)
	}
	m.cfg.Events.Log(ctx, ev)

	// Operator overrides skip probing entirely.
	if mode, forced := m.forcedMode(); forced {
		m.mu.Lock()
		m.enterLoadingLocked(ctx, mode, events.ReasonForcedPolicy)
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	m.state = StateProbing
	m.mu.Unlock()

	allowed, reason := m.resolveEmbeddable(ctx, target)

	m.mu.Lock()
	defer m.mu.Unlock()
	if allowed {
		m.enterLoadingLocked(ctx, ModeIframe, events.ReasonNone)
	} else {
		m.enterLoadingLocked(ctx, ModeProxy, reason)
	}
}

func (m *Machine) forcedMode() (Mode, bool) {
	if m.cfg.Force != "" {
		return m.cfg.Force, true
	}
	switch m.cfg.Target.Policy {
	case registry.PolicyForceIframe:
		return ModeIframe, true
	case registry.PolicyForceProxy:
		return ModeProxy, true
	case registry.PolicyForceDefault:
		return ModeDefault, true
	}
	return "", false
}

// resolveEmbeddable honors the per-target hint before spending a network
// probe.
func (m *Machine) resolveEmbeddable(ctx context.Context, target registry.Target) (bool, events.Reason) {
	if hint := target.AllowIframeHint; hint != nil {
		if *hint {
			return true, events.ReasonNone
		}
		return false, events.ReasonFrameBlocked
	}

	if m.cfg.Prober == nil {
		return false, events.ReasonProbeFailed
	}

	res := m.cfg.Prober.Probe(ctx, target)
	if res.FrameLikelyAllowed {
		return true, events.ReasonNone
	}
	return false, events.ReasonFrameBlocked
}

// FrameLoaded records the iframe's load DOM event. Cross-origin content
// firing load proves nothing about meaningful rendering, so this never
// settles the session by itself.
func (m *Machine) FrameLoaded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settled || m.state != StateLoading {
		return
	}
	m.cfg.Log.Debug("frame load observed",
		zap.String("session_id", m.id),
		zap.String("mode", string(m.mode)),
	)
}

// ChildMessage feeds a validated cross-window message into the machine.
// An ok report settles the current mode as success; an error report from
// the proxied document cascades immediately with the reported reason.
func (m *Machine) ChildMessage(ctx context.Context, msg protocol.ChildMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settled || m.state != StateLoading {
		return
	}

	switch msg.Status {
	case protocol.StatusOK:
		m.settleLocked(ctx, OutcomeSuccess, events.ReasonNone)
	case protocol.StatusError:
		m.cascadeLocked(ctx, events.Reason(msg.Reason))
	}
}

// Stop tears the session down: pending timers are cancelled and all
// further inputs become no-ops. No terminal event is emitted; teardown
// is navigation, not an outcome, and snapshots report the session as
// closed rather than settled.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settled {
		return
	}
	m.stopTimerLocked()
	m.settled = true
	m.state = StateClosed
}

// Snapshot returns the current state for diagnostics.
func (m *Machine) Snapshot() (State, Mode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.mode, m.settled
}

func (m *Machine) enterLoadingLocked(ctx context.Context, mode Mode, reason events.Reason) {
	if m.settled {
		return
	}

	m.stopTimerLocked()
	m.state = StateLoading
	m.mode = mode
	m.loadStartedAt = m.cfg.Clock.Now()

	ev := m.newEvent(events.TypeModeAttempt)
	ev.ChosenMode = string(mode)
	ev.Reason = reason
	m.cfg.Events.Log(ctx, ev)

	switch mode {
	case ModeIframe:
		m.send(Directive{Kind: "load", Mode: mode, URL: m.cfg.Target.OriginURL})
		m.armTimerLocked(ctx, mode)
	case ModeProxy:
		m.send(Directive{Kind: "load", Mode: mode, URL: m.cfg.ProxyURL})
		m.armTimerLocked(ctx, mode)
	case ModeDefault:
		// The static fallback cannot fail; it settles on the spot.
		m.send(Directive{
			Kind:         "load",
			Mode:         mode,
			URL:          m.cfg.Target.OriginURL,
			FallbackHTML: m.cfg.Target.FallbackHTML,
		})
		outcome := OutcomeSuccess
		if m.cascades > 0 {
			outcome = OutcomeExhausted
		}
		m.settleLocked(ctx, outcome, reason)
	}
}

func (m *Machine) armTimerLocked(ctx context.Context, mode Mode) {
	timeout := m.cfg.Target.LoadTimeout(m.cfg.LoadTimeout)
	m.timer = m.cfg.Clock.AfterFunc(timeout, func() {
		m.onTimeout(ctx, mode)
	})
}

func (m *Machine) onTimeout(ctx context.Context, mode Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// A message may have settled the session between the timer firing
	// and this callback acquiring the lock; the flag makes that a no-op.
	if m.settled || m.state != StateLoading || m.mode != mode {
		return
	}

	switch mode {
	case ModeIframe:
		m.cascadeLocked(ctx, events.ReasonIframeTimeout)
	case ModeProxy:
		m.cascadeLocked(ctx, events.ReasonProxyTimeout)
	}
}

// cascadeLocked moves to the next candidate mode in the fixed order
// iframe -> proxy -> default.
func (m *Machine) cascadeLocked(ctx context.Context, reason events.Reason) {
	m.cascades++
	switch m.mode {
	case ModeIframe:
		m.enterLoadingLocked(ctx, ModeProxy, reason)
	case ModeProxy:
		m.enterLoadingLocked(ctx, ModeDefault, reason)
	case ModeDefault:
		// Nothing below default; settle defensively.
		m.settleLocked(ctx, OutcomeExhausted, reason)
	}
}

func (m *Machine) settleLocked(ctx context.Context, outcome Outcome, reason events.Reason) {
	if m.settled {
		return
	}
	m.settled = true
	m.state = StateSettled
	m.stopTimerLocked()

	loadMs := m.cfg.Clock.Now().Sub(m.loadStartedAt).Milliseconds()

	ev := m.newEvent(events.TypeSettled)
	ev.ChosenMode = string(m.mode)
	ev.Outcome = string(outcome)
	ev.Reason = reason
	ev.Metadata = map[string]any{
		"load_ms":  loadMs,
		"cascades": m.cascades,
	}
	m.cfg.Events.Log(ctx, ev)

	m.send(Directive{
		Kind:    "settled",
		Mode:    m.mode,
		Outcome: outcome,
		Reason:  reason,
		Welcome: outcome == OutcomeSuccess && m.mode != ModeDefault,
	})
}

func (m *Machine) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Machine) newEvent(typ events.Type) events.Event {
	ev := events.New(m.cfg.Target.Slug, typ)
	ev.SessionID = m.id
	return ev
}

func (m *Machine) send(d Directive) {
	if m.cfg.Sink == nil {
		return
	}
	if err := m.cfg.Sink.Send(d); err != nil {
		m.cfg.Log.Warn("directive send failed",
			zap.String("session_id", m.id),
			zap.String("kind", d.Kind),
			zap.Error(err),
		)
	}
}
