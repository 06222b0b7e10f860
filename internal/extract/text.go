// Package extract turns evidence snapshots into structured regulatory
// shapes (claims, processes, reference tables, assets, transitional
// provisions) through the LLM port, with schema-validated output and
// natural-key-idempotent persistence.
package extract

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// CleanText returns the extractable text of an evidence snapshot. HTML is
// reduced to its visible text; anything else passes through trimmed.
func CleanText(rawContent, contentType string) string {
	if !strings.Contains(strings.ToLower(contentType), "html") {
		return strings.TrimSpace(rawContent)
	}
	doc, err := html.Parse(strings.NewReader(rawContent))
	if err != nil {
		return strings.TrimSpace(rawContent)
	}
	return strings.TrimSpace(visibleText(doc))
}

// visibleText walks the DOM collecting text nodes, skipping script/style.
func visibleText(n *html.Node) string {
	var buf strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe":
				return
			}
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				buf.WriteString(text)
				buf.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(n)
	return buf.String()
}

// truncate caps text at n bytes without splitting a UTF-8 rune.
func truncate(text string, n int) string {
	if len(text) <= n {
		return text
	}
	cut := text[:n]
	for len(cut) > 0 {
		r, size := utf8.DecodeLastRuneInString(cut)
		if r != utf8.RuneError || size != 1 {
			break
		}
		cut = cut[:len(cut)-1]
	}
	return cut
}
