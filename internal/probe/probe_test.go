package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framegate/framegate/internal/registry"
)

const testScript = `<script src="https://widget.example.com/embed.js" data-workspace="ws-1"></script>`

func testTarget(t *testing.T, originURL string) registry.Target {
	t.Helper()
	reg, err := registry.New([]registry.Target{{
		Slug:            "probe-me",
		OriginURL:       originURL,
		Label:           "Probe Me",
		InjectionScript: testScript,
	}})
	require.NoError(t, err)
	target, err := reg.Lookup("probe-me")
	require.NoError(t, err)
	return target
}

func probeHeaders(t *testing.T, headers map[string]string) Result {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	p := New(DefaultConfig())
	return p.Probe(context.Background(), testTarget(t, srv.URL))
}

func TestProbeNoHeadersAllows(t *testing.T) {
	res := probeHeaders(t, nil)
	assert.True(t, res.FrameLikelyAllowed)
	assert.Empty(t, res.Signals.Reason)
}

func TestProbeXFO(t *testing.T) {
	cases := []struct {
		value   string
		allowed bool
	}{
		{"DENY", false},
		{"deny", false},
		{"SAMEORIGIN", false},
		{"SameOrigin", false},
		{"ALLOW-FROM https://example.com", true},
		{"garbage", true},
	}

	for _, tc := range cases {
		t.Run(tc.value, func(t *testing.T) {
			res := probeHeaders(t, map[string]string{"X-Frame-Options": tc.value})
			assert.Equal(t, tc.allowed, res.FrameLikelyAllowed)
			assert.Equal(t, tc.value, res.Signals.XFO)
			if !tc.allowed {
				assert.NotEmpty(t, res.Signals.Reason)
			} else {
				assert.Empty(t, res.Signals.Reason)
			}
		})
	}
}

func TestProbeCSPFrameAncestors(t *testing.T) {
	cases := []struct {
		csp     string
		allowed bool
	}{
		{"frame-ancestors 'none'", false},
		{"frame-ancestors 'self'", false},
		{"frame-ancestors 'self' 'none'", false},
		{"frame-ancestors", false},
		{"default-src 'self'; FRAME-ANCESTORS 'self'", false},
		{"frame-ancestors https://example.com", true},
		{"frame-ancestors 'self' https://example.com", true},
		{"frame-ancestors *", true},
		{"default-src 'self'", true},
		{"", true},
	}

	for _, tc := range cases {
		t.Run(tc.csp, func(t *testing.T) {
			headers := map[string]string{}
			if tc.csp != "" {
				headers["Content-Security-Policy"] = tc.csp
			}
			res := probeHeaders(t, headers)
			assert.Equal(t, tc.allowed, res.FrameLikelyAllowed)
			if !tc.allowed {
				assert.NotEmpty(t, res.Signals.Reason)
			}
		})
	}
}

func TestProbeXFOWinsOverCSP(t *testing.T) {
	res := probeHeaders(t, map[string]string{
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "frame-ancestors https://example.com",
	})

	assert.False(t, res.FrameLikelyAllowed)
	assert.Contains(t, res.Signals.Reason, "x-frame-options")
	// Both signals are still reported.
	assert.Equal(t, "DENY", res.Signals.XFO)
	assert.Contains(t, res.Signals.CSP, "frame-ancestors")
}

func TestProbeFailureIsConservative(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	p := New(DefaultConfig())
	res := p.Probe(context.Background(), testTarget(t, srv.URL))

	assert.False(t, res.FrameLikelyAllowed)
	assert.NotEmpty(t, res.Signals.Reason)
}

func TestProbeTimeoutIsConservative(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(func() { close(release); srv.Close() })

	p := New(Config{Timeout: 50 * time.Millisecond})
	res := p.Probe(context.Background(), testTarget(t, srv.URL))

	assert.False(t, res.FrameLikelyAllowed)
	assert.NotEmpty(t, res.Signals.Reason)
}

func TestFrameAncestorsExtraction(t *testing.T) {
	directive, ok := frameAncestors("default-src 'self'; frame-ancestors 'self' https://a.example; img-src *")
	require.True(t, ok)
	assert.Equal(t, "frame-ancestors 'self' https://a.example", directive)

	// Directive-name prefix must not match other directives.
	_, ok = frameAncestors("frame-ancestors-custom 'none'")
	assert.False(t, ok)
}
