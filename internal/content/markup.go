package content

import (
	"bytes"
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
)

var md = goldmark.New()

var htmlBlock = regexp.MustCompile(`(?i)<(p|h[1-6]|ul|ol|li|div|article|section|table|blockquote|figure)[\s>]`)

// LooksLikeHTML reports whether text already carries block-level markup.
func LooksLikeHTML(text string) bool {
	return htmlBlock.MatchString(text)
}

// RenderHTML converts markdown to HTML. Text that already looks like HTML is returned unchanged.
func RenderHTML(text string) string {
	text = strings.TrimSpace(text)
	if text == "" || LooksLikeHTML(text) {
		return text
	}
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return "<p>" + html.EscapeString(text) + "</p>"
	}
	return strings.TrimSpace(buf.String())
}

// PlainText strips markup from text and collapses whitespace. Adjacent
// elements are separated by a space.
func PlainText(text string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return strings.Join(strings.Fields(text), " ")
	}
	var b strings.Builder
	collectText(doc.Selection, &b)
	return strings.Join(strings.Fields(b.String()), " ")
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "hr": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"table": true, "tr": true, "td": true, "th": true, "blockquote": true, "pre": true,
	"section": true, "article": true, "header": true, "footer": true, "nav": true,
	"figure": true, "figcaption": true,
}

func collectText(sel *goquery.Selection, b *strings.Builder) {
	sel.Contents().Each(func(_ int, s *goquery.Selection) {
		name := goquery.NodeName(s)
		switch name {
		case "#text":
			b.WriteString(s.Text())
		case "script", "style", "#comment":
		default:
			if blockElements[name] {
				b.WriteByte(' ')
			}
			collectText(s, b)
			if blockElements[name] {
				b.WriteByte(' ')
			}
		}
	})
}
