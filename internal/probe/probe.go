package probe

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/framegate/framegate/internal/registry"
)

const (
	// DefaultTimeout bounds the single HEAD attempt.
	DefaultTimeout = 4 * time.Second

	// DefaultUserAgent identifies the prober to upstream operators.
	DefaultUserAgent = "FramegateProbe/1.0 (+https://framegate.dev/bot)"
)

// Signals carries the raw evidence behind a probe verdict.
type Signals struct {
	XFO    string `json:"xfo,omitempty"`
	CSP    string `json:"csp,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Result is the per-request probe outcome. Reason is non-empty exactly
// when FrameLikelyAllowed is false (including probe failures, which are
// conservatively treated as "not allowed").
type Result struct {
	FrameLikelyAllowed bool    `json:"frameLikelyAllowed"`
	Signals            Signals `json:"signals"`
}

// Config defines prober behavior.
type Config struct {
	Timeout   time.Duration
	UserAgent string
}

// DefaultConfig returns production-ready prober configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:   DefaultTimeout,
		UserAgent: DefaultUserAgent,
	}
}

// Prober infers whether a target is likely to tolerate direct iframe
// embedding by inspecting its response headers. One HEAD request, no
// retries: the fallback machinery prefers failing toward proxy mode
// over hammering third-party origins.
type Prober struct {
	client *resty.Client
}

// New creates a prober with the given configuration.
func New(cfg Config) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "text/html")

	return &Prober{client: client}
}

// Probe issues a header-only request against the target origin and
// evaluates framing policy headers. It never returns an error: network
// failure or timeout resolves to a not-allowed result with the failure
// recorded in Signals.Reason.
func (p *Prober) Probe(ctx context.Context, target registry.Target) Result {
	resp, err := p.client.R().SetContext(ctx).Head(target.OriginURL)
	if err != nil {
		return Result{
			FrameLikelyAllowed: false,
			Signals:            Signals{Reason: "probe failed: " + briefError(err)},
		}
	}

	header := resp.Header()
	xfo := header.Get("X-Frame-Options")
	csp := header.Get("Content-Security-Policy")

	signals := Signals{XFO: xfo}
	if directive, ok := frameAncestors(csp); ok {
		signals.CSP = directive
	} else {
		signals.CSP = csp
	}

	// First restrictive signal wins; XFO is checked before CSP. Both raw
	// values are still reported above.
	if xfo != "" && xfoBlocks(xfo) {
		signals.Reason = "x-frame-options: " + xfo
		return Result{FrameLikelyAllowed: false, Signals: signals}
	}
	if directive, ok := frameAncestors(csp); ok && ancestorsBlock(directive) {
		signals.Reason = "csp " + directive
		return Result{FrameLikelyAllowed: false, Signals: signals}
	}

	return Result{FrameLikelyAllowed: true, Signals: signals}
}

// xfoBlocks treats deny and sameorigin (any case, anywhere in the value)
// as blocking. Unrecognized values such as allow-from are non-blocking.
func xfoBlocks(value string) bool {
	v := strings.ToLower(value)
	return strings.Contains(v, "deny") || strings.Contains(v, "sameorigin")
}

func briefError(err error) string {
	msg := err.Error()
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
