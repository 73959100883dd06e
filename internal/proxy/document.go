package proxy

import (
	"bytes"
	"html/template"

	"github.com/framegate/framegate/internal/events"
	"github.com/framegate/framegate/internal/protocol"
	"github.com/framegate/framegate/internal/registry"
)

// Document is the outcome of a render: either the rewritten upstream
// page, or a minimal error page whose inline script reports the failure
// to the parent window. Both are served with HTTP 200 so the embedding
// iframe itself never observes a transport failure.
type Document struct {
	HTML           []byte
	Reason         events.Reason
	UpstreamStatus int
}

// OK reports whether the document is a successfully rewritten page.
func (d *Document) OK() bool {
	return d.Reason == events.ReasonNone
}

var errorDocTmpl = template.Must(template.New("errordoc").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Label}} demo unavailable</title>
</head>
<body>
<script>window.parent.postMessage({type:{{.Type}},status:"error",reason:{{.Reason}},slug:{{.Slug}}},"*");</script>
</body>
</html>
`))

// errorDocument builds the failure page for a reason code. Failure
// propagates out of the sandboxed iframe purely through the posted
// message; the page body is deliberately blank.
func errorDocument(target registry.Target, reason events.Reason, upstreamStatus int) *Document {
	var buf bytes.Buffer
	err := errorDocTmpl.Execute(&buf, map[string]string{
		"Label":  target.Label,
		"Type":   protocol.TypeProxy,
		"Reason": string(reason),
		"Slug":   target.Slug,
	})
	if err != nil {
		// Template data is all service-controlled; an execute failure
		// is a programming error.
		panic(err)
	}
	return &Document{
		HTML:           buf.Bytes(),
		Reason:         reason,
		UpstreamStatus: upstreamStatus,
	}
}
