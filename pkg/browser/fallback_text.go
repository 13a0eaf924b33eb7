package browser

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// FallbackText extracts the visible text of a page as newline-separated
// lines, dropping scripts, styles, and other non-content elements. The page
// title, when present, leads the output. Output is truncated to maxLength
// characters with a trailing marker.
func FallbackText(rawHTML string, maxLength int) (string, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	var lines []string
	if title := documentTitle(doc); title != "" {
		lines = append(lines, title)
	}
	collectText(doc, &lines)

	text := strings.Join(lines, "\n")
	if maxLength > 0 && len(text) > maxLength {
		text = text[:maxLength] + "\n[content truncated]"
	}
	return text, nil
}

// collectText walks the tree appending one line per non-empty text node.
func collectText(n *html.Node, lines *[]string) {
	if n.Type == html.CommentNode {
		return
	}
	if n.Type == html.ElementNode && isNonContentElement(strings.ToLower(n.Data)) {
		return
	}
	if n.Type == html.TextNode {
		if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
			*lines = append(*lines, text)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, lines)
	}
}

// isNonContentElement returns true for elements whose text is never visible
// page content.
func isNonContentElement(tagName string) bool {
	switch tagName {
	case "script", "style", "noscript", "iframe", "embed", "object", "svg", "head", "template":
		return true
	}
	return false
}

// documentTitle returns the text of the first <title> element.
func documentTitle(doc *html.Node) string {
	var title string
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" {
			if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				title = strings.TrimSpace(n.FirstChild.Data)
			}
			return
		}
		for c := n.FirstChild; c != nil && title == ""; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)
	return title
}
