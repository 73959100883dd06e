// Package proxy fetches a target's HTML on the server, rewrites it, and
// re-serves it same-origin so framing restrictions on the original
// response no longer apply to the embedding page.
package proxy

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/framegate/framegate/internal/events"
	"github.com/framegate/framegate/internal/protocol"
	"github.com/framegate/framegate/internal/registry"
)

const (
	// DefaultFetchTimeout bounds the upstream fetch.
	DefaultFetchTimeout = 5 * time.Second

	// DefaultMaxBodyBytes caps upstream HTML; oversized bodies are
	// rejected rather than truncated to avoid serving corrupt markup.
	DefaultMaxBodyBytes = 5 << 20

	// DefaultUserAgent identifies proxy fetches to upstream operators.
	DefaultUserAgent = "FramegateProxy/1.0 (+https://framegate.dev/bot)"
)

// sentinelMarker tags injected documents. Its presence short-circuits
// injection so content proxied through multiple layers is never
// rewritten twice.
const sentinelMarker = "data-framegate-sentinel"

// Config defines rewriter behavior.
type Config struct {
	FetchTimeout time.Duration
	MaxBodyBytes int64
	UserAgent    string
}

// DefaultConfig returns production-ready rewriter configuration.
func DefaultConfig() Config {
	return Config{
		FetchTimeout: DefaultFetchTimeout,
		MaxBodyBytes: DefaultMaxBodyBytes,
		UserAgent:    DefaultUserAgent,
	}
}

// Rewriter renders proxied demo documents. It holds no per-request
// state and is safe for concurrent use across sessions and slugs.
type Rewriter struct {
	client *resty.Client
	cfg    Config
}

// New creates a rewriter with the given configuration.
func New(cfg Config) *Rewriter {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	client := resty.New().
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "text/html").
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))

	return &Rewriter{client: client, cfg: cfg}
}

// Render fetches, validates and rewrites the target's page. Upstream
// failures come back as error documents, never as a Go error; the only
// error return is a malformed injection-script descriptor, which is an
// operator mistake and fatal at the point of use.
func (rw *Rewriter) Render(ctx context.Context, target registry.Target) (*Document, error) {
	if err := registry.ValidateInjectionScript(target.InjectionScript); err != nil {
		return nil, fmt.Errorf("target %q: %w", target.Slug, err)
	}

	body, status, reason := rw.fetch(ctx, target)
	if reason != events.ReasonNone {
		return errorDocument(target, reason, status), nil
	}

	return &Document{
		HTML:           Inject(body, target),
		UpstreamStatus: status,
	}, nil
}

// Inject rewrites an upstream HTML document for same-origin serving:
// a <base href> pointing at the real origin, the sentinel script that
// reports successful rendering to the parent window, and the target's
// own widget script. If the document already carries the sentinel the
// input is returned unchanged, byte for byte.
func Inject(doc []byte, target registry.Target) []byte {
	if strings.Contains(string(doc), sentinelMarker) {
		return doc
	}

	block := injectionBlock(target)
	idx, hasTag := insertionPoint(doc)
	if !hasTag {
		return append(doc[:len(doc):len(doc)], block...)
	}

	out := make([]byte, 0, len(doc)+len(block))
	out = append(out, doc[:idx]...)
	out = append(out, block...)
	out = append(out, doc[idx:]...)
	return out
}

// insertionPoint picks where the injection block goes: immediately
// before </head> when present, else before </body>, else document end.
// The case fold is ASCII-only so every index into the folded copy is
// valid in the original bytes; Unicode lowering can change byte length
// and would shift the splice point.
func insertionPoint(doc []byte) (int, bool) {
	lower := asciiLower(doc)
	if idx := bytes.Index(lower, []byte("</head>")); idx >= 0 {
		return idx, true
	}
	if idx := bytes.Index(lower, []byte("</body>")); idx >= 0 {
		return idx, true
	}
	return 0, false
}

func asciiLower(doc []byte) []byte {
	lower := make([]byte, len(doc))
	for i, b := range doc {
		if 'A' <= b && b <= 'Z' {
			b += 'a' - 'A'
		}
		lower[i] = b
	}
	return lower
}

func injectionBlock(target registry.Target) []byte {
	var b strings.Builder

	// Relative resource URLs on the proxied page must keep resolving
	// against the real origin.
	b.WriteString(`<base href="`)
	b.WriteString(target.OriginBase())
	b.WriteString("\">\n")

	// Slug is registry-validated ([a-z0-9-]), safe to interpolate.
	b.WriteString(`<script `)
	b.WriteString(sentinelMarker)
	b.WriteString(`="1">(function(){try{window.parent.postMessage({type:"`)
	b.WriteString(protocol.TypeProxy)
	b.WriteString(`",status:"ok",slug:"`)
	b.WriteString(target.Slug)
	b.WriteString(`"},"*")}catch(e){}})();</script>` + "\n")

	b.WriteString(target.InjectionScript)
	b.WriteString("\n")

	return []byte(b.String())
}
