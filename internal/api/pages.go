package api

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/framegate/framegate/internal/registry"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTmpl = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// downloadLink is one signed attachment link on a demo page.
type downloadLink struct {
	Name string
	URL  string
}

type demoPage struct {
	Label     string
	Slug      string
	Force     string
	OriginURL string
	Downloads []downloadLink
}

type notFoundPage struct {
	Slug    string
	Targets []registry.Target
}

func (h *Handlers) renderDemoPage(c *gin.Context, target registry.Target, force string) {
	page := demoPage{
		Label:     target.Label,
		Slug:      target.Slug,
		Force:     force,
		OriginURL: target.OriginURL,
	}

	// Links are minted per page view; each one expires on its own.
	expiry := time.Now().Add(h.linkTTL)
	for _, name := range h.downloads.List(target.Slug) {
		page.Downloads = append(page.Downloads, downloadLink{
			Name: name,
			URL:  h.downloads.Signer().SignedURL(target.Slug, name, expiry),
		})
	}

	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := pageTmpl.ExecuteTemplate(c.Writer, "demo.html", page); err != nil {
		h.log.Error("demo page render failed", zap.String("slug", target.Slug), zap.Error(err))
	}
}

func (h *Handlers) demoNotFound(c *gin.Context, slug string) {
	c.Status(http.StatusNotFound)
	c.Header("Content-Type", "text/html; charset=utf-8")
	err := pageTmpl.ExecuteTemplate(c.Writer, "notfound.html", notFoundPage{
		Slug:    slug,
		Targets: h.registry.Targets(),
	})
	if err != nil {
		h.log.Error("not-found page render failed", zap.Error(err))
	}
}
