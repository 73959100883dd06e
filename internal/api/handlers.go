package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/framegate/framegate/internal/download"
	"github.com/framegate/framegate/internal/events"
	"github.com/framegate/framegate/internal/logging"
	"github.com/framegate/framegate/internal/monitoring"
	"github.com/framegate/framegate/internal/proxy"
	"github.com/framegate/framegate/internal/registry"
	"github.com/framegate/framegate/internal/session"
)

// DefaultLinkTTL bounds signed download links embedded in demo pages.
const DefaultLinkTTL = 15 * time.Minute

// Handlers bundles the HTTP endpoints.
type Handlers struct {
	registry  *registry.Registry
	prober    session.Prober
	rewriter  *proxy.Rewriter
	downloads *download.Service
	sink      events.Logger
	memory    *events.Memory
	metrics   *monitoring.Metrics
	log       *logging.Logger

	loadTimeout time.Duration
	linkTTL     time.Duration
}

// HandlersConfig assembles the handler set.
type HandlersConfig struct {
	Registry  *registry.Registry
	Prober    session.Prober
	Rewriter  *proxy.Rewriter
	Downloads *download.Service
	Sink      events.Logger
	Memory    *events.Memory
	Metrics   *monitoring.Metrics
	Log       *logging.Logger

	LoadTimeout time.Duration
	LinkTTL     time.Duration
}

// NewHandlers creates the handler set.
func NewHandlers(cfg HandlersConfig) *Handlers {
	if cfg.Sink == nil {
		cfg.Sink = events.Nop{}
	}
	if cfg.Log == nil {
		cfg.Log = logging.NewNop()
	}
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = DefaultLinkTTL
	}
	return &Handlers{
		registry:    cfg.Registry,
		prober:      cfg.Prober,
		rewriter:    cfg.Rewriter,
		downloads:   cfg.Downloads,
		sink:        cfg.Sink,
		memory:      cfg.Memory,
		metrics:     cfg.Metrics,
		log:         cfg.Log,
		loadTimeout: cfg.LoadTimeout,
		linkTTL:     cfg.LinkTTL,
	}
}

// Root describes the service.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "framegate",
		"endpoints": gin.H{
			"demo":     "/demo/:slug",
			"site":     "/demo/:slug/site",
			"session":  "/api/demo/session?slug=",
			"probe":    "/api/demo/probe?slug=",
			"events":   "/api/demo/events?slug=",
			"targets":  "/api/targets",
			"download": "/download/:slug/:filename?exp=&sig=",
		},
	})
}

// Health reports service health.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "framegate",
		"targets": h.registry.Len(),
	})
}

// ListTargets returns all configured demo targets. Injection scripts and
// fallback markup stay server-side.
func (h *Handlers) ListTargets(c *gin.Context) {
	targets := h.registry.Targets()
	c.JSON(http.StatusOK, gin.H{
		"targets": targets,
		"count":   len(targets),
	})
}

// Demo serves the relay page hosting one embedded demo.
func (h *Handlers) Demo(c *gin.Context) {
	slug := c.Param("slug")
	target, err := h.registry.Lookup(slug)
	if err != nil {
		h.demoNotFound(c, slug)
		return
	}

	force := c.Query("force")
	if force != "" && !validForce(force) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "force must be iframe, proxy or default"})
		return
	}

	h.renderDemoPage(c, target, force)
}

// Site serves the proxied, rewritten target document. Every outcome is
// HTTP 200 text/html: upstream failures become an error document whose
// inline script reports the reason to the parent window.
func (h *Handlers) Site(c *gin.Context) {
	slug := c.Param("slug")
	target, err := h.registry.Lookup(slug)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown demo"})
		return
	}

	h.renderSite(c, target)
}

func (h *Handlers) renderSite(c *gin.Context, target registry.Target) {
	doc, err := h.rewriter.Render(c.Request.Context(), target)
	if err != nil {
		// Only a malformed injection-script descriptor lands here; the
		// registry validates at load time, so this is a configuration
		// error surfaced to the operator, not an upstream failure.
		h.log.Error("proxy render failed", zap.String("slug", target.Slug), zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "demo misconfigured"})
		return
	}

	h.metrics.RecordProxyRender(target.Slug, string(doc.Reason))
	if !doc.OK() {
		h.log.Warn("proxy render degraded",
			zap.String("slug", target.Slug),
			zap.String("reason", string(doc.Reason)),
			zap.Int("upstream_status", doc.UpstreamStatus),
		)
	}

	c.Data(http.StatusOK, "text/html; charset=utf-8", doc.HTML)
}

// Probe runs a one-off frame-policy probe and returns the verdict with
// its raw header evidence.
func (h *Handlers) Probe(c *gin.Context) {
	slug := c.Query("slug")
	if slug == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slug is required"})
		return
	}
	target, err := h.registry.Lookup(slug)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown demo"})
		return
	}

	result := h.prober.Probe(c.Request.Context(), target)
	h.metrics.RecordProbe(slug, result.FrameLikelyAllowed)
	c.JSON(http.StatusOK, result)
}

// Events returns recent fallback events, newest first.
func (h *Handlers) Events(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	evs := h.memory.Recent(c.Query("slug"), limit)
	c.JSON(http.StatusOK, gin.H{
		"events": evs,
		"count":  len(evs),
	})
}

// Download authorizes a signed download request and streams the file.
func (h *Handlers) Download(c *gin.Context) {
	slug := c.Param("slug")
	filename := c.Param("filename")

	path, err := h.downloads.Resolve(c.ClientIP(), slug, filename, c.Query("exp"), c.Query("sig"))
	if err != nil {
		status, outcome := downloadStatus(err)
		h.metrics.RecordDownloadReject(outcome)
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	if mt, err := mimetype.DetectFile(path); err == nil {
		c.Header("Content-Type", mt.String())
	}
	c.FileAttachment(path, filename)
}

// downloadStatus maps each rejection class to its HTTP status and the
// metric outcome label.
func downloadStatus(err error) (int, string) {
	switch {
	case errors.Is(err, download.ErrLimited):
		return http.StatusTooManyRequests, "rate-limited"
	case errors.Is(err, download.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, download.ErrNotFound):
		return http.StatusNotFound, "not-found"
	default:
		return http.StatusBadRequest, "malformed"
	}
}

func validForce(force string) bool {
	switch session.Mode(force) {
	case session.ModeIframe, session.ModeProxy, session.ModeDefault:
		return true
	}
	return false
}
