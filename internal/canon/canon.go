// Package canon normalizes watched URLs into de-duplication keys and resolves
// landing pages to the ordering page they link to.
package canon

import (
	"cmp"
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
)

// OrderingPath matches the path of a concrete ticket ordering page.
var OrderingPath = regexp.MustCompile(`(?i)/UTK0201_\d{3}\.aspx$`)

// orderingKeys are the only query parameters kept on ordering pages.
var orderingKeys = map[string]bool{
	"PERFORMANCE_ID": true,
	"PRODUCT_ID":     true,
}

var trackingKeys = map[string]bool{
	"fbclid": true, "gclid": true, "dclid": true, "gbraid": true, "wbraid": true,
	"msclkid": true, "yclid": true, "igshid": true, "mc_cid": true, "mc_eid": true,
	"_ga": true, "_gl": true, "ref": true, "ref_src": true, "spm": true, "from": true,
}

var redirectKeys = []string{"gourl", "redirecturl"}

// IsOrderingPage reports whether u points at a concrete ordering page.
func IsOrderingPage(u *url.URL) bool {
	return OrderingPath.MatchString(u.Path)
}

// Canonicalize returns the normalized form of raw: lowercase scheme and
// host, no default port, no fragment, tracking parameters removed, ordering
// pages reduced to their identifying parameters, remaining parameters
// sorted. It is idempotent.
func Canonicalize(raw string) (string, error) {
	u, err := parseHTTP(raw)
	if err != nil {
		return "", err
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if port := u.Port(); (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		u.Host = u.Hostname()
		if strings.Contains(u.Host, ":") {
			u.Host = "[" + u.Host + "]"
		}
	}
	if u.Path == "" {
		u.Path = "/"
		u.RawPath = ""
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.ForceQuery = false

	u.RawQuery = canonicalQuery(u.RawQuery, IsOrderingPage(u))

	return u.String(), nil
}

type queryPair struct {
	key     string
	encoded string
}

// canonicalQuery filters and sorts the pairs of rawQuery by key. Pairs that
// do not decode cleanly, including ones joined with ';', are kept verbatim so
// that distinct pages never share a canonical form.
func canonicalQuery(rawQuery string, ordering bool) string {
	var pairs []queryPair
	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		rawKey, rawVal, _ := strings.Cut(part, "=")
		key, keyErr := url.QueryUnescape(rawKey)
		val, valErr := url.QueryUnescape(rawVal)
		verbatim := keyErr != nil || valErr != nil || strings.Contains(part, ";")
		if keyErr != nil {
			key = rawKey
		}

		switch {
		case ordering:
			if !orderingKeys[strings.ToUpper(key)] {
				continue
			}
			key = strings.ToUpper(key)
			part = strings.ToUpper(rawKey) + part[len(rawKey):]
		case verbatim:
			// Kept even when the key looks like tracking.
		case isTracking(key):
			continue
		}

		p := queryPair{key: key, encoded: part}
		if !verbatim {
			p.encoded = url.QueryEscape(key) + "=" + url.QueryEscape(val)
		}
		pairs = append(pairs, p)
	}

	slices.SortFunc(pairs, func(a, b queryPair) int {
		return cmp.Or(strings.Compare(a.key, b.key), strings.Compare(a.encoded, b.encoded))
	})
	encoded := make([]string, len(pairs))
	for i, p := range pairs {
		encoded[i] = p.encoded
	}
	return strings.Join(encoded, "&")
}

func isTracking(key string) bool {
	k := strings.ToLower(key)
	return strings.HasPrefix(k, "utm_") || trackingKeys[k]
}

func parseHTTP(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("not an absolute http(s) url: %q", raw)
	}
	return u, nil
}

// Unwrap decodes a redirect-wrapper link whose query carries the real target
// under a GoUrl/RedirectUrl-style parameter, URL-escaped or base64-encoded,
// possibly several layers deep. It returns raw unchanged when there is
// nothing to unwrap.
func Unwrap(raw string) string {
	cur := raw
	for range 3 {
		u, err := url.Parse(cur)
		if err != nil || IsOrderingPage(u) {
			return cur
		}
		next := ""
		for key, vals := range u.Query() {
			if !slices.Contains(redirectKeys, strings.ToLower(key)) {
				continue
			}
			for _, v := range vals {
				if target := decodeTarget(v, u); target != "" {
					next = target
					break
				}
			}
			if next != "" {
				break
			}
		}
		if next == "" {
			return cur
		}
		cur = next
	}
	return cur
}

// decodeTarget tries URL-unescaping and base64 decoding, breadth first,
// until an absolute URL appears.
func decodeTarget(val string, base *url.URL) string {
	queue := []string{val}
	seen := make(map[string]bool)
	for len(queue) > 0 && len(seen) < 16 {
		cur := strings.TrimSpace(queue[0])
		queue = queue[1:]
		if cur == "" || seen[cur] {
			continue
		}
		seen[cur] = true

		lower := strings.ToLower(cur)
		switch {
		case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
			return cur
		case strings.HasPrefix(cur, "//"):
			return base.Scheme + ":" + cur
		case strings.HasPrefix(cur, "/"):
			ref, err := url.Parse(cur)
			if err != nil {
				continue
			}
			return base.ResolveReference(ref).String()
		}

		if unq, err := url.QueryUnescape(cur); err == nil && unq != cur {
			queue = append(queue, unq)
		}
		for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
			if dec, err := enc.DecodeString(cur); err == nil && len(dec) > 0 {
				queue = append(queue, string(dec))
				break
			}
		}
	}
	return ""
}
