// Package extract turns fetched ticket pages into availability snapshots.
//
// Parsing is heuristic. Pages that carry no recognizable signal produce an
// indeterminate snapshot instead of an error.
package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"

	"tixwatch/internal/model"
)

// UnnamedSection is the key used for counts with no recognizable area label.
const UnnamedSection = "unnamed section"

// maxButtons bounds how many call-to-action texts feed the text-mode signature.
const maxButtons = 50

// Extractor parses raw page content into a snapshot.
type Extractor interface {
	Extract(raw []byte) (*Snapshot, error)
}

// Meta is display-only page metadata. It never feeds change detection.
type Meta struct {
	Title    string
	Venue    string
	DateTime string
	ImageURL string
}

// Snapshot is the normalized availability state of one page.
type Snapshot struct {
	// Section-count mode.
	Sections map[string]int
	Total    int
	SoldOut  bool

	// Plain-text mode.
	TextMode  bool
	HasTicket bool
	Text      string
	Buttons   []string
	Details   []string

	Meta Meta
}

// Outcome classifies the snapshot.
func (s *Snapshot) Outcome() model.Outcome {
	switch {
	case s.Positive():
		return model.OutcomeAvailable
	case s.SoldOut:
		return model.OutcomeSoldOut
	default:
		return model.OutcomeIndeterminate
	}
}

// Positive reports whether the snapshot shows tickets for sale.
func (s *Snapshot) Positive() bool {
	if s.TextMode {
		return s.HasTicket
	}
	return s.Total > 0
}

var (
	soldOutRe = regexp.MustCompile(`(?i)(已售完|已售罄|售完|完售|售罄|已無票|無票|\bsold\s*out\b|\bno\s+tickets?\b|\bunavailable\b)`)
	qtyKeyRe  = regexp.MustCompile(`(?i)(剩餘|尚餘|尚有|可售|可購|餘票|空位|\b(?:remaining|available|vacancy|quota)\b)`)
	areaKeyRe = regexp.MustCompile(`(?i)(區|樓|包廂|看台|\b(?:section|stand|floor|tier|zone|block|area)\b)`)
	intRe     = regexp.MustCompile(`\d[\d,]*`)
)

func parseDocument(raw []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, template").Remove()
	return doc, nil
}

// normalizeText applies compatibility normalization (full-width digits and
// punctuation become ASCII) and collapses whitespace.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
}

// visibleText returns the text under sel with a space between text nodes,
// so adjacent cells do not run together.
func visibleText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return normalizeText(b.String())
}

// partOfDate reports whether the number ending at end in text continues as a
// date or time, as in 12/24, 2025-12-01, 19:30 or 2025年.
func partOfDate(text string, end int) bool {
	r, _ := utf8.DecodeRuneInString(text[end:])
	switch r {
	case '/', '-', ':', '.', '年', '月', '日', '時':
		// A trailing period ends a sentence unless a digit follows it.
		if r == '.' {
			next, _ := utf8.DecodeRuneInString(text[end+1:])
			return next >= '0' && next <= '9'
		}
		return true
	}
	return false
}

// firstInt returns the first integer in s, or -1 when there is none.
func firstInt(s string) int {
	m := intRe.FindString(s)
	if m == "" {
		return -1
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return -1
	}
	return n
}

func cleanLabel(s string) string {
	s = strings.Trim(normalizeText(s), " :：-|")
	if r := []rune(s); len(r) > 40 {
		s = string(r[:40])
	}
	return s
}

// ForMode returns the extractor for a configured mode name: "text" selects
// the plain-text strategy, anything else the section-count strategy.
func ForMode(mode string) Extractor {
	if mode == "text" {
		return NewTextExtractor()
	}
	return NewSectionExtractor()
}
