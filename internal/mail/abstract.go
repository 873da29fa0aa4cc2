package mail

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const abstractMarker = "Abstract:"

// ExtractAbstract strips markup from a feed summary and keeps only the text
// after the first "Abstract:" marker when there is one.
func ExtractAbstract(summary string) string {
	text := stripMarkup(summary)

	if _, after, ok := strings.Cut(text, abstractMarker); ok {
		return strings.TrimSpace(after)
	}

	return text
}

func stripMarkup(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}

	return strings.TrimSpace(doc.Text())
}
