package registry

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrBadDescriptor marks a malformed injection-script descriptor. This is
// an operator mistake, so it is raised at registry construction rather
// than dropped at render time.
var ErrBadDescriptor = errors.New("invalid injection script descriptor")

// ValidateInjectionScript checks that markup is exactly one <script>
// element carrying a src URL and at least one data-* attribute (the
// vendor workspace/key identifiers). Anything else fails.
func ValidateInjectionScript(markup string) error {
	if strings.TrimSpace(markup) == "" {
		return fmt.Errorf("%w: empty", ErrBadDescriptor)
	}

	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadDescriptor, err)
	}

	var script *html.Node
	for _, n := range nodes {
		switch n.Type {
		case html.ElementNode:
			if n.Data != "script" || script != nil {
				return fmt.Errorf("%w: expected a single <script> element", ErrBadDescriptor)
			}
			script = n
		case html.TextNode:
			if strings.TrimSpace(n.Data) != "" {
				return fmt.Errorf("%w: stray content outside <script>", ErrBadDescriptor)
			}
		default:
			return fmt.Errorf("%w: unexpected node", ErrBadDescriptor)
		}
	}
	if script == nil {
		return fmt.Errorf("%w: no <script> element", ErrBadDescriptor)
	}

	var src string
	var dataAttrs int
	for _, attr := range script.Attr {
		switch {
		case attr.Key == "src":
			src = attr.Val
		case strings.HasPrefix(attr.Key, "data-"):
			dataAttrs++
		}
	}
	if strings.TrimSpace(src) == "" {
		return fmt.Errorf("%w: script has no src", ErrBadDescriptor)
	}
	if dataAttrs == 0 {
		return fmt.Errorf("%w: script has no data-* attributes", ErrBadDescriptor)
	}

	return nil
}
