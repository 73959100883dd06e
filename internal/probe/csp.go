package probe

import "strings"

// frameAncestors locates the frame-ancestors directive inside a CSP
// header value. The returned string is the full directive including its
// source list, e.g. "frame-ancestors 'self' https://example.com".
func frameAncestors(csp string) (string, bool) {
	if csp == "" {
		return "", false
	}
	for _, part := range strings.Split(csp, ";") {
		directive := strings.TrimSpace(part)
		if len(directive) < len("frame-ancestors") {
			continue
		}
		if strings.EqualFold(directive[:len("frame-ancestors")], "frame-ancestors") {
			rest := directive[len("frame-ancestors"):]
			if rest == "" || rest[0] == ' ' || rest[0] == '\t' {
				return directive, true
			}
		}
	}
	return "", false
}

// ancestorsBlock decides whether a frame-ancestors directive certainly
// forbids embedding by a third-party page. Only a source list made up
// entirely of 'none'/'self' tokens counts as blocking; wildcards, named
// origins and mixed lists are treated as permissive. The tokenizer is a
// deliberate heuristic: the prober's job is to skip direct iframes only
// when they would certainly fail, not to validate CSP.
func ancestorsBlock(directive string) bool {
	sources := strings.Fields(directive)[1:]
	if len(sources) == 0 {
		// An empty source list matches nothing, same as 'none'.
		return true
	}
	for _, src := range sources {
		switch strings.ToLower(strings.Trim(src, `'"`)) {
		case "none", "self":
		default:
			return false
		}
	}
	return true
}
