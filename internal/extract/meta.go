package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

var (
	venueRe      = regexp.MustCompile(`(?i)^(?:活動地點|地點|場地|venue|location)\s*:\s*(.+)$`)
	venueLabelRe = regexp.MustCompile(`(?i)^(?:活動地點|地點|場地|venue|location)\s*:?$`)
	dateRe       = regexp.MustCompile(`(\d{4})\s*[/\-.年]\s*(\d{1,2})\s*[/\-.月]\s*(\d{1,2})\s*日?(?:\s*\([^)]{1,6}\))?(?:\s*(\d{1,2}):(\d{2}))?`)
)

func parseMeta(doc *goquery.Document) Meta {
	return Meta{
		Title:    pageTitle(doc),
		Venue:    pageVenue(doc),
		DateTime: pageDateTime(doc),
		ImageURL: metaContent(doc, "og:image"),
	}
}

func metaContent(doc *goquery.Document, property string) string {
	sel := doc.Find(fmt.Sprintf(`meta[property=%q], meta[name=%q]`, property, property)).First()
	v, _ := sel.Attr("content")
	return strings.TrimSpace(v)
}

func pageTitle(doc *goquery.Document) string {
	if t := normalizeText(metaContent(doc, "og:title")); t != "" {
		return t
	}
	if t := visibleText(doc.Find("h1").First()); t != "" {
		return t
	}
	return normalizeText(doc.Find("title").First().Text())
}

func pageVenue(doc *goquery.Document) string {
	venue := ""
	doc.Find("li, p, div, span, dd, td, th, dt").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Find("li, p, div, span, dd, td, th, dt").Length() > 0 {
			return true
		}
		text := visibleText(s)
		if m := venueRe.FindStringSubmatch(text); m != nil {
			venue = m[1]
			return false
		}
		// Label and value in adjacent cells.
		if venueLabelRe.MatchString(text) {
			if next := visibleText(s.Next()); next != "" {
				venue = next
				return false
			}
		}
		return true
	})
	if utf8.RuneCountInString(venue) > 60 {
		venue = string([]rune(venue)[:60])
	}
	return venue
}

// pageDateTime returns the first date on the page as "YYYY/MM/DD" or
// "YYYY/MM/DD HH:MM".
func pageDateTime(doc *goquery.Document) string {
	m := dateRe.FindStringSubmatch(visibleText(doc.Find("body")))
	if m == nil {
		return ""
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return ""
	}
	out := fmt.Sprintf("%04d/%02d/%02d", year, month, day)
	if m[4] != "" {
		hour, _ := strconv.Atoi(m[4])
		out += fmt.Sprintf(" %02d:%s", hour, m[5])
	}
	return out
}
