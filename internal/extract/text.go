package extract

import (
	"fmt"
	"regexp"

	"github.com/PuerkitoBio/goquery"
)

var ticketRe = regexp.MustCompile(`(?i)(立即購票|購票|加入購物車|選擇座位|剩餘|可售|尚有|開賣|` +
	`\b(?:tickets?|buy now|add to cart|select seats?|available)\b)`)

var detailRe = regexp.MustCompile(`(?i)([^\s:]{1,16}?)\s*:?\s*(剩餘|尚餘|可售|尚有|\b(?:remaining|available)\b)\s*:?\s*(\d+(?:,\d{3})*)`)

// TextExtractor is the plain-text strategy for pages without structured
// sections. It reports a boolean ticket signal plus the full normalized text
// and call-to-action labels that the signature is computed over.
type TextExtractor struct{}

// NewTextExtractor returns the plain-text extractor.
func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

// Extract implements Extractor.
func (e *TextExtractor) Extract(raw []byte) (*Snapshot, error) {
	doc, err := parseDocument(raw)
	if err != nil {
		return nil, err
	}

	text := visibleText(doc.Find("body"))
	if text == "" {
		text = visibleText(doc.Selection)
	}
	hasTicketKW := ticketRe.MatchString(text)
	hasSoldOutKW := soldOutRe.MatchString(text)

	details := detailLines(text)

	return &Snapshot{
		TextMode: true,
		// Explicit per-section counts outrank the keyword test.
		HasTicket: len(details) > 0 || (hasTicketKW && !hasSoldOutKW),
		SoldOut:   hasSoldOutKW && len(details) == 0,
		Text:      text,
		Buttons:   buttonTexts(doc),
		Details:   details,
		Meta:      parseMeta(doc),
	}, nil
}

func buttonTexts(doc *goquery.Document) []string {
	var btns []string
	doc.Find("a, button").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if t := visibleText(s); t != "" {
			btns = append(btns, t)
		}
		return len(btns) < maxButtons
	})
	return btns
}

// detailLines collects "<label> remaining <n>" occurrences with n > 0.
func detailLines(text string) []string {
	var lines []string
	seen := make(map[string]bool)
	for _, m := range detailRe.FindAllStringSubmatchIndex(text, -1) {
		label, keyword := text[m[2]:m[3]], text[m[4]:m[5]]
		n := firstInt(text[m[6]:m[7]])
		if n <= 0 || qtyKeyRe.MatchString(label) || partOfDate(text, m[7]) {
			continue
		}
		line := fmt.Sprintf("%s %s %d", label, keyword, n)
		if seen[line] {
			continue
		}
		seen[line] = true
		lines = append(lines, line)
	}
	return lines
}
