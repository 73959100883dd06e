package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"net"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"

	"github.com/framegate/framegate/internal/events"
	"github.com/framegate/framegate/internal/registry"
)

// fetch retrieves the target's page under a cancellable deadline and
// maps every failure mode to its reason code. On any failure the
// partially read body is discarded; no partial bytes reach the caller.
func (rw *Rewriter) fetch(ctx context.Context, target registry.Target) ([]byte, int, events.Reason) {
	ctx, cancel := context.WithTimeout(ctx, target.LoadTimeout(rw.cfg.FetchTimeout))
	defer cancel()

	resp, err := rw.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(target.OriginURL)
	if err != nil {
		if isTimeout(err) {
			return nil, 0, events.ReasonProxyTimeout
		}
		return nil, 0, events.ReasonProxyError
	}

	raw := resp.RawBody()
	defer raw.Close()
	status := resp.StatusCode()

	if status < 200 || status > 299 {
		return nil, status, events.ReasonProxyHTTPError
	}

	contentType := resp.Header().Get("Content-Type")
	if contentType != "" && !isHTMLType(contentType) {
		return nil, status, events.ReasonProxyNotHTML
	}

	var reader io.Reader = raw
	if strings.EqualFold(resp.Header().Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(raw)
		if err != nil {
			return nil, status, events.ReasonProxyError
		}
		defer gz.Close()
		reader = gz
	}

	limit := target.BodyLimit(rw.cfg.MaxBodyBytes)
	body, err := io.ReadAll(io.LimitReader(reader, limit+1))
	if err != nil {
		if isTimeout(err) || ctx.Err() != nil {
			return nil, status, events.ReasonProxyTimeout
		}
		return nil, status, events.ReasonProxyError
	}
	if int64(len(body)) > limit {
		return nil, status, events.ReasonProxyError
	}

	// No Content-Type from upstream: sniff before trusting the bytes.
	if contentType == "" && !strings.HasPrefix(mimetype.Detect(body).String(), "text/html") {
		return nil, status, events.ReasonProxyNotHTML
	}

	return decodeToUTF8(body, contentType), status, events.ReasonNone
}

func isHTMLType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html"
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// decodeToUTF8 converts upstream bytes to UTF-8, since the rewritten
// document is re-served with an explicit utf-8 content type. A declared
// charset parameter wins; otherwise the encoding is detected from the
// bytes. Decode failures fall back to the original bytes.
func decodeToUTF8(data []byte, contentType string) []byte {
	label := ""
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		label = params["charset"]
	}
	if label == "" {
		detector := chardet.NewTextDetector()
		if result, err := detector.DetectBest(data); err == nil && result != nil {
			label = result.Charset
		}
	}
	if label == "" || strings.EqualFold(label, "utf-8") {
		return data
	}

	reader, err := charset.NewReaderLabel(strings.ToLower(label), bytes.NewReader(data))
	if err != nil {
		return data
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return data
	}
	return decoded
}
