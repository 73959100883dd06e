package registry

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/microcosm-cc/bluemonday"
)

// Policy overrides automatic embed-mode resolution for a target.
type Policy string

const (
	PolicyAuto         Policy = "auto"
	PolicyForceProxy   Policy = "force-proxy"
	PolicyForceIframe  Policy = "force-iframe"
	PolicyForceDefault Policy = "force-default"
)

// Valid reports whether p is a known policy value.
func (p Policy) Valid() bool {
	switch p {
	case PolicyAuto, PolicyForceProxy, PolicyForceIframe, PolicyForceDefault:
		return true
	}
	return false
}

// Target describes one embeddable third-party site.
type Target struct {
	Slug            string `yaml:"slug" json:"slug"`
	OriginURL       string `yaml:"origin_url" json:"origin_url"`
	Label           string `yaml:"label" json:"label"`
	Policy          Policy `yaml:"policy" json:"policy"`
	AllowIframeHint *bool  `yaml:"allow_iframe_hint,omitempty" json:"allow_iframe_hint,omitempty"`
	InjectionScript string `yaml:"injection_script" json:"-"`
	TimeoutMs       int    `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
	MaxHTMLBytes    int64  `yaml:"max_html_bytes,omitempty" json:"max_html_bytes,omitempty"`
	FallbackHTML    string `yaml:"fallback_html,omitempty" json:"-"`

	origin *url.URL
}

// Origin returns the parsed origin URL. Only valid on targets obtained
// from a Registry.
func (t Target) Origin() *url.URL {
	return t.origin
}

// OriginBase returns scheme://host of the target origin, the value used
// for injected <base href> tags and toolbar links.
func (t Target) OriginBase() string {
	return t.origin.Scheme + "://" + t.origin.Host
}

// LoadTimeout returns the per-target load timeout, or def when unset.
func (t Target) LoadTimeout(def time.Duration) time.Duration {
	if t.TimeoutMs > 0 {
		return time.Duration(t.TimeoutMs) * time.Millisecond
	}
	return def
}

// BodyLimit returns the per-target HTML size cap, or def when unset.
func (t Target) BodyLimit(def int64) int64 {
	if t.MaxHTMLBytes > 0 {
		return t.MaxHTMLBytes
	}
	return def
}

// ErrNotFound is returned by Lookup for slugs with no configured target.
// Consumers must treat it as a terminal 404, not a retryable condition.
var ErrNotFound = errors.New("target not found")

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Registry is an immutable slug -> Target lookup table, built once at
// startup and injected into every consumer.
type Registry struct {
	targets map[string]Target
	order   []string
}

// New validates the given targets and builds a registry. Any malformed
// target (bad slug, non-absolute origin, unknown policy, invalid
// injection-script descriptor) is a configuration error and fails
// construction outright.
func New(targets []Target) (*Registry, error) {
	r := &Registry{targets: make(map[string]Target, len(targets))}
	sanitizer := bluemonday.UGCPolicy()

	for i, t := range targets {
		if !slugPattern.MatchString(t.Slug) {
			return nil, fmt.Errorf("target %d: invalid slug %q", i, t.Slug)
		}
		if _, dup := r.targets[t.Slug]; dup {
			return nil, fmt.Errorf("target %q: duplicate slug", t.Slug)
		}

		origin, err := url.Parse(t.OriginURL)
		if err != nil || !origin.IsAbs() || origin.Host == "" {
			return nil, fmt.Errorf("target %q: origin must be an absolute URL, got %q", t.Slug, t.OriginURL)
		}
		if origin.Scheme != "http" && origin.Scheme != "https" {
			return nil, fmt.Errorf("target %q: unsupported origin scheme %q", t.Slug, origin.Scheme)
		}

		if t.Policy == "" {
			t.Policy = PolicyAuto
		}
		if !t.Policy.Valid() {
			return nil, fmt.Errorf("target %q: unknown policy %q", t.Slug, t.Policy)
		}

		if err := ValidateInjectionScript(t.InjectionScript); err != nil {
			return nil, fmt.Errorf("target %q: %w", t.Slug, err)
		}

		// Operator-supplied fallback markup is rendered into the host
		// page, so it goes through the UGC sanitizer once, here.
		if t.FallbackHTML != "" {
			t.FallbackHTML = sanitizer.Sanitize(t.FallbackHTML)
		}

		t.origin = origin
		r.targets[t.Slug] = t
		r.order = append(r.order, t.Slug)
	}

	return r, nil
}

// LoadFile reads a YAML target list and builds a registry from it.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}

	var file struct {
		Targets []Target `yaml:"targets"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse targets file: %w", err)
	}

	return New(file.Targets)
}

// Lookup returns the target for slug, or ErrNotFound.
func (r *Registry) Lookup(slug string) (Target, error) {
	t, ok := r.targets[slug]
	if !ok {
		return Target{}, fmt.Errorf("%w: %q", ErrNotFound, slug)
	}
	return t, nil
}

// Targets returns all targets in configuration order.
func (r *Registry) Targets() []Target {
	out := make([]Target, 0, len(r.order))
	for _, slug := range r.order {
		out = append(out, r.targets[slug])
	}
	return out
}

// Len returns the number of configured targets.
func (r *Registry) Len() int {
	return len(r.targets)
}
