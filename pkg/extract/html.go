package extract

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "main": true,
	"header": true, "footer": true, "aside": true, "nav": true,
	"table": true, "tr": true, "ul": true, "ol": true, "pre": true,
	"blockquote": true, "dl": true, "dt": true, "dd": true, "figure": true,
}

func htmlText(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, template, iframe").Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	return FromSelection(root), nil
}

// FromSelection renders an already parsed HTML fragment the same way Text
// renders HTML files.
func FromSelection(sel *goquery.Selection) string {
	var b strings.Builder
	writeNodes(sel, &b)
	return tidy(sanitizeUTF8(b.String()))
}

// writeNodes renders a selection as Markdown-flavoured text. Headings become
// ATX headings so the chunker can split on them.
func writeNodes(sel *goquery.Selection, b *strings.Builder) {
	sel.Contents().Each(func(_ int, node *goquery.Selection) {
		name := goquery.NodeName(node)

		switch {
		case name == "#text":
			writeInline(node.Text(), b)

		case headingLevel(name) > 0:
			level := headingLevel(name)
			if level > 3 {
				level = 3
			}
			b.WriteString("\n\n")
			b.WriteString(strings.Repeat("#", level))
			b.WriteString(" ")
			b.WriteString(strings.Join(strings.Fields(node.Text()), " "))
			b.WriteString("\n\n")

		case name == "br":
			b.WriteString("\n")

		case name == "li":
			b.WriteString("\n- ")
			writeNodes(node, b)

		case name == "td" || name == "th":
			b.WriteString(" | ")
			writeNodes(node, b)

		case blockElements[name]:
			b.WriteString("\n\n")
			writeNodes(node, b)
			b.WriteString("\n\n")

		default:
			writeNodes(node, b)
		}
	})
}

// writeInline collapses whitespace inside a text node but keeps a single
// space at its edges.
func writeInline(text string, b *strings.Builder) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		if text != "" {
			b.WriteString(" ")
		}
		return
	}
	if strings.TrimLeft(text, " \t\n\r") != text {
		b.WriteString(" ")
	}
	b.WriteString(strings.Join(fields, " "))
	if strings.TrimRight(text, " \t\n\r") != text {
		b.WriteString(" ")
	}
}

func headingLevel(name string) int {
	if len(name) == 2 && name[0] == 'h' && name[1] >= '1' && name[1] <= '6' {
		return int(name[1] - '0')
	}
	return 0
}
