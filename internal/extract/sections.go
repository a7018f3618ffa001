package extract

import (
	"regexp"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

var (
	qtyHeaderRe  = regexp.MustCompile(`(?i)(剩餘|尚餘|可售|餘票|空位|張數|數量|\b(?:remaining|available|seats|qty|quantity|vacancy)\b)`)
	areaHeaderRe = regexp.MustCompile(`(?i)(票區|區域|座位區|區|票種|\b(?:area|section|zone|stand|tier|floor)\b)`)
)

// leafBlocks are the elements scanned by the keyword fallback. Only the
// innermost ones are used so nested containers are not counted twice.
const leafBlocks = "li, tr, p, div, span, dd, td, th, h2, h3, h4, h5"

// SectionExtractor derives per-section remaining counts. A structured pass
// over tables runs first; a keyword scan over text blocks is used only when
// the tables yield nothing.
type SectionExtractor struct{}

// NewSectionExtractor returns the section-count extractor.
func NewSectionExtractor() *SectionExtractor {
	return &SectionExtractor{}
}

// Extract implements Extractor.
func (e *SectionExtractor) Extract(raw []byte) (*Snapshot, error) {
	doc, err := parseDocument(raw)
	if err != nil {
		return nil, err
	}

	acc := newTally()
	tablePass(doc, acc)
	if acc.total == 0 {
		keywordPass(doc, acc)
	}

	return &Snapshot{
		Sections: acc.sections,
		Total:    acc.total,
		SoldOut:  acc.total == 0 && acc.soldOutHint,
		Meta:     parseMeta(doc),
	}, nil
}

type tally struct {
	sections    map[string]int
	total       int
	soldOutHint bool
}

func newTally() *tally {
	return &tally{sections: make(map[string]int)}
}

func (t *tally) add(label string, n int) {
	if n <= 0 {
		return
	}
	if label == "" {
		label = UnnamedSection
	}
	t.sections[label] += n
	t.total += n
}

func tablePass(doc *goquery.Document, acc *tally) {
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		rows := table.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
			return tr.Closest("table").IsSelection(table)
		})

		qtyCol, areaCol, headerIdx := -1, -1, -1
		rows.EachWithBreak(func(i int, tr *goquery.Selection) bool {
			qtyCol, areaCol = headerColumns(tr.Children().Filter("th, td"))
			if qtyCol >= 0 {
				headerIdx = i
				return false
			}
			return true
		})
		if headerIdx < 0 {
			return
		}

		rows.Each(func(i int, tr *goquery.Selection) {
			if i <= headerIdx {
				return
			}
			cells := tr.Children().Filter("th, td")
			if qtyCol >= cells.Length() {
				return
			}
			qtyText := visibleText(cells.Eq(qtyCol))
			if soldOutRe.MatchString(qtyText) {
				acc.soldOutHint = true
				return
			}
			n := firstInt(qtyText)
			if n <= 0 {
				return
			}
			acc.add(rowLabel(cells, qtyCol, areaCol), n)
		})
	})
}

func headerColumns(cells *goquery.Selection) (qtyCol, areaCol int) {
	qtyCol, areaCol = -1, -1
	cells.Each(func(i int, c *goquery.Selection) {
		text := visibleText(c)
		if qtyCol < 0 && qtyHeaderRe.MatchString(text) {
			qtyCol = i
			return
		}
		if areaCol < 0 && areaHeaderRe.MatchString(text) {
			areaCol = i
		}
	})
	return qtyCol, areaCol
}

func rowLabel(cells *goquery.Selection, qtyCol, areaCol int) string {
	if areaCol >= 0 && areaCol < cells.Length() {
		return cleanLabel(visibleText(cells.Eq(areaCol)))
	}
	// Without an area column the first non-quantity cell names the row.
	label := ""
	cells.EachWithBreak(func(i int, c *goquery.Selection) bool {
		if i == qtyCol {
			return true
		}
		if text := cleanLabel(visibleText(c)); text != "" {
			label = text
			return false
		}
		return true
	})
	return label
}

func keywordPass(doc *goquery.Document, acc *tally) {
	if soldOutRe.MatchString(visibleText(doc.Find("body"))) {
		acc.soldOutHint = true
	}

	doc.Find(leafBlocks).Each(func(_ int, s *goquery.Selection) {
		if s.Find(leafBlocks).Length() > 0 {
			return
		}
		text := visibleText(s)
		// A block that reads as sold out contributes no count of its own.
		if soldOutRe.MatchString(text) {
			return
		}
		prev := 0
		for _, m := range qtyCountRe.FindAllStringSubmatchIndex(text, -1) {
			prefix := text[prev:m[0]]
			prev = m[1]
			if partOfDate(text, m[3]) {
				continue
			}
			if n := firstInt(text[m[2]:m[3]]); n > 0 {
				acc.add(areaLabel(s, prefix), n)
			}
		}
	})
}

var qtyCountRe = regexp.MustCompile(`(?i)(?:剩餘|尚餘|尚有|可售|可購|餘票|空位|\b(?:remaining|available|vacancy|quota)\b)[^\d]{0,6}(\d+(?:,\d{3})*)`)

// areaLabel finds the section name for a count found in block s. Text
// before the keyword wins when it names an area; otherwise the enclosing row
// or list item is searched for an area-like cell. A short unlabelled prefix
// such as "VIP" is the last resort.
func areaLabel(s *goquery.Selection, prefix string) string {
	p := cleanLabel(prefix)
	if qtyKeyRe.MatchString(p) {
		p = ""
	}
	if p != "" && areaKeyRe.MatchString(p) {
		return p
	}

	label := ""
	s.Closest("tr, li").Find("td, th, span, strong, b, label, div").EachWithBreak(func(_ int, c *goquery.Selection) bool {
		text := visibleText(c)
		if text == "" || qtyKeyRe.MatchString(text) || !areaKeyRe.MatchString(text) {
			return true
		}
		label = cleanLabel(text)
		return false
	})
	if label != "" {
		return label
	}
	if utf8.RuneCountInString(p) <= 12 {
		return p
	}
	return ""
}
