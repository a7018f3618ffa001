package canon

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Fetcher retrieves raw page content.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

var inlineURLRe = regexp.MustCompile(`https?://[^\s"'<>]+`)

// Resolver turns user-supplied URLs into canonical watch targets, following
// landing pages to the ordering page they link to.
type Resolver struct {
	fetcher Fetcher
	log     *slog.Logger
}

// NewResolver creates a Resolver. A nil fetcher disables landing-page lookups.
func NewResolver(f Fetcher, log *slog.Logger) *Resolver {
	return &Resolver{fetcher: f, log: log}
}

// Resolve returns the canonical URL for raw. Landing pages that cannot be
// fetched or that carry no ordering link canonicalize as themselves.
func (r *Resolver) Resolve(ctx context.Context, raw string) (string, error) {
	if _, err := parseHTTP(raw); err != nil {
		return "", err
	}

	target := Unwrap(strings.TrimSpace(raw))
	if u, err := parseHTTP(target); err == nil && IsOrderingPage(u) {
		return Canonicalize(target)
	}

	if r.fetcher != nil {
		if found := r.findOrderingLink(ctx, target); found != "" {
			r.log.Debug("resolved landing page", "url", raw, "ordering_url", found)
			return Canonicalize(found)
		}
	}
	return Canonicalize(target)
}

func (r *Resolver) findOrderingLink(ctx context.Context, pageURL string) string {
	body, err := r.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		r.log.Debug("landing page fetch failed", "url", pageURL, "error", err)
		return ""
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	return OrderingLink(body, base)
}

// OrderingLink scans an HTML page for the first link, frame, or form target
// that leads to an ordering page, unwrapping redirect wrappers on the way.
func OrderingLink(body []byte, base *url.URL) string {
	var candidates []string
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		doc.Find("a[href], iframe[src], form[action], [data-href]").Each(func(_ int, s *goquery.Selection) {
			for _, attr := range []string{"href", "src", "action", "data-href"} {
				if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
					candidates = append(candidates, v)
				}
			}
		})
	}
	// Targets assembled in scripts only show up as bare text.
	candidates = append(candidates, inlineURLRe.FindAllString(string(body), -1)...)

	for _, c := range candidates {
		ref, err := url.Parse(strings.TrimSpace(c))
		if err != nil {
			continue
		}
		abs := Unwrap(base.ResolveReference(ref).String())
		u, err := parseHTTP(abs)
		if err != nil {
			continue
		}
		if IsOrderingPage(u) {
			return abs
		}
	}
	return ""
}
