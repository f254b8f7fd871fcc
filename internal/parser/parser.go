package parser

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

// Strategy extracts one candidate value from a rendered document. An empty
// string means the strategy did not match.
type Strategy func(doc *goquery.Document) string

// Cascade tries strategies in order and returns the first candidate accepted
// by accept. A nil accept takes the first non-empty candidate.
func Cascade(doc *goquery.Document, accept func(string) bool, strategies ...Strategy) string {
	for _, s := range strategies {
		v := strings.TrimSpace(s(doc))
		if v == "" {
			continue
		}
		if accept == nil || accept(v) {
			return v
		}
	}
	return ""
}

// Text returns the trimmed text of the first element matching selector.
func Text(selector string) Strategy {
	return func(doc *goquery.Document) string {
		return strings.TrimSpace(doc.Find(selector).First().Text())
	}
}

// Attr returns attribute attr of the first element matching selector.
func Attr(selector, attr string) Strategy {
	return func(doc *goquery.Document) string {
		v, _ := doc.Find(selector).First().Attr(attr)
		return strings.TrimSpace(v)
	}
}

// AttrContaining returns attribute attr of the first element matching
// selector, but only when its value contains substr. Later matches are not
// considered.
func AttrContaining(selector, attr, substr string) Strategy {
	return func(doc *goquery.Document) string {
		v, ok := doc.Find(selector).First().Attr(attr)
		if !ok || !strings.Contains(v, substr) {
			return ""
		}
		return strings.TrimSpace(v)
	}
}

// Meta returns the content of <meta property=name> or <meta name=name>.
func Meta(name string) Strategy {
	return func(doc *goquery.Document) string {
		sel := fmt.Sprintf(`meta[property=%q], meta[name=%q]`, name, name)
		v, _ := doc.Find(sel).First().Attr("content")
		return strings.TrimSpace(v)
	}
}

// HasDigit reports whether s contains at least one decimal digit.
func HasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

// ParsePrice keeps only the ASCII digits of a rendered price and parses
// them as an integer amount. Anything unparseable yields 0.
func ParsePrice(text string) int64 {
	var b strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0
	}
	v, err := strconv.ParseInt(b.String(), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// NormalizeURL turns protocol-relative image links into https URLs.
func NormalizeURL(u string) string {
	u = strings.TrimSpace(u)
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	return u
}

// FieldSet holds the strategy tables of one marketplace.
type FieldSet struct {
	Name          []Strategy
	Price         []Strategy
	PreviousPrice []Strategy
	Image         []Strategy
}

// Fields is the raw outcome of running a FieldSet over a document.
type Fields struct {
	Name          string
	Price         int64
	PreviousPrice int64
	ImageURL      string
}

// Extract parses html and runs every cascade of the set.
func (fs FieldSet) Extract(html string) (Fields, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Fields{}, fmt.Errorf("failed to parse HTML: %w", err)
	}

	return Fields{
		Name:          Cascade(doc, nil, fs.Name...),
		Price:         ParsePrice(Cascade(doc, HasDigit, fs.Price...)),
		PreviousPrice: ParsePrice(Cascade(doc, HasDigit, fs.PreviousPrice...)),
		ImageURL:      NormalizeURL(Cascade(doc, nil, fs.Image...)),
	}, nil
}
