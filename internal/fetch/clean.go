package fetch

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/linnemanlabs/newsdesk/internal/news"
)

// Clean strips markup from the title and body of r and collapses whitespace.
func Clean(r news.Raw) news.Raw {
	r.Title = StripHTML(r.Title)
	r.Body = StripHTML(r.Body)
	r.URL = strings.TrimSpace(r.URL)
	return r
}

// StripHTML returns the text content of an HTML fragment with entities
// decoded and runs of whitespace collapsed to one space.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return collapse(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return collapse(s)
	}
	doc.Find("script, style").Remove()
	return collapse(doc.Text())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
