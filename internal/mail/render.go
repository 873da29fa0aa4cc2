package mail

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"github.com/jaytaylor/html2text"

	"papermail/internal/domain"
)

const Subject = "Your Read for the Day 📚"

//go:embed templates/digest.html
var digestTemplateText string

var digestTemplate = template.Must(template.New("digest").Parse(digestTemplateText))

type Message struct {
	Subject string
	HTML    string
	Text    string
}

type digestView struct {
	Weekend    bool
	NotFound   bool
	Title      string
	SourceName string
	Link       string
	Abstract   string
	TLDR       string
	Brand      string
	UpdateURL  string
}

// Renderer turns a selection into the digest message body.
type Renderer struct {
	baseURL string
	brand   string
}

func NewRenderer(baseURL string, brand string) *Renderer {
	return &Renderer{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		brand:   brand,
	}
}

// UpdateURL links to the preference form for recipient.
func (r *Renderer) UpdateURL(recipient string) string {
	return r.baseURL + "/update?email=" + url.QueryEscape(recipient)
}

// Render builds the message for recipient. An empty recipient renders a
// preview without the preference link.
func (r *Renderer) Render(
	recipient string,
	sel domain.Selection,
	tldr string,
) (Message, error) {
	view := digestView{
		Weekend:    sel.Weekend,
		NotFound:   sel.Entry.IsNotFound(),
		Title:      sel.Entry.Title,
		SourceName: sel.Entry.SourceName,
		Link:       sel.Entry.Link,
		Abstract:   ExtractAbstract(sel.Entry.Summary),
		TLDR:       strings.TrimSpace(tldr),
		Brand:      r.brand,
	}

	if view.SourceName == "" {
		view.SourceName = sel.Source.Name
	}

	if recipient != "" {
		view.UpdateURL = r.UpdateURL(recipient)
	}

	var buf bytes.Buffer
	if err := digestTemplate.Execute(&buf, view); err != nil {
		return Message{}, fmt.Errorf("execute template: %w", err)
	}

	text, err := html2text.FromString(buf.String(), html2text.Options{})
	if err != nil {
		return Message{}, fmt.Errorf("convert to text: %w", err)
	}

	return Message{
		Subject: Subject,
		HTML:    buf.String(),
		Text:    text,
	}, nil
}
