package relay

import (
	"context"
	"fmt"
	"regexp"
)

// Resolver is the remote fallback for references no pattern rule covers.
// *github.Client satisfies it.
type Resolver interface {
	ResolveHTMLURL(ctx context.Context, apiURL string) (string, error)
}

// linkRule maps an API reference shape to its canonical web URL without a
// network round trip. Rules are tried in order.
type linkRule struct {
	pattern *regexp.Regexp
	build   func(m []string) string
}

var linkRules = []linkRule{
	{
		pattern: regexp.MustCompile(`^https://api\.github\.com/repos/([^/]+)/([^/]+)/pulls/(\d+)$`),
		build: func(m []string) string {
			return fmt.Sprintf("https://github.com/%s/%s/pull/%s", m[1], m[2], m[3])
		},
	},
	{
		pattern: regexp.MustCompile(`^https://api\.github\.com/repos/([^/]+)/([^/]+)/issues/(\d+)$`),
		build: func(m []string) string {
			return fmt.Sprintf("https://github.com/%s/%s/issues/%s", m[1], m[2], m[3])
		},
	},
}

// Linker turns opaque API references into human-navigable links. Pattern
// rules are cheap and work even when the token lacks read scope on a private
// repo; everything else goes through the remote fallback, whose failure
// propagates since there is no safe generic answer.
type Linker struct {
	fallback Resolver
}

func NewLinker(fallback Resolver) *Linker {
	return &Linker{fallback: fallback}
}

func (l *Linker) Resolve(ctx context.Context, apiURL string) (string, error) {
	for _, r := range linkRules {
		if m := r.pattern.FindStringSubmatch(apiURL); m != nil {
			return r.build(m), nil
		}
	}
	return l.fallback.ResolveHTMLURL(ctx, apiURL)
}
