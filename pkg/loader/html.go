package loader

import (
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// mainSelectors are tried in order to find the main content of a page.
var mainSelectors = []string{
	"main",
	"article",
	".content",
	"#content",
	".documentation",
	"#documentation",
}

var noisePatterns = []string{
	"Cookie Policy",
	"Accept Cookies",
	"Privacy Policy",
	"Terms of Service",
}

// ExtractHTML parses an HTML page and returns its title and the text of
// its main content area, falling back to the body.
func ExtractHTML(r io.Reader) (title, content string, err error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", "", err
	}
	return strings.TrimSpace(doc.Find("title").First().Text()), MainContent(doc), nil
}

// MainContent returns the cleaned text of the main content area of doc.
func MainContent(doc *goquery.Document) string {
	doc.Find("script, style, noscript, nav, header, footer").Remove()

	var content string
	for _, selector := range mainSelectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = blockText(selected)
			break
		}
	}

	// Fallback to body if no main content found
	if strings.TrimSpace(content) == "" {
		content = blockText(doc.Find("body"))
	}

	return cleanContent(content)
}

// blockText is Selection.Text with a line break after every block element,
// so that headings and paragraphs do not run together.
func blockText(sel *goquery.Selection) string {
	sel.Find("p, li, h1, h2, h3, h4, h5, h6, pre, tr, br, div").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	return sel.Text()
}

func cleanContent(content string) string {
	for _, pattern := range noisePatterns {
		content = strings.ReplaceAll(content, pattern, "")
	}

	lines := strings.Split(content, "\n")
	kept := lines[:0]
	for _, line := range lines {
		// Remove extra whitespace
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			kept = append(kept, line)
		}
	}

	return strings.Join(kept, "\n")
}
