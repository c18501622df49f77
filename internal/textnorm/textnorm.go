// Package textnorm turns post body markup into plain text that keeps
// paragraph structure.
package textnorm

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// blockElements get a blank line before and after them.
const blockElements = "p, div, h1, h2, h3, h4, h5, h6, li, blockquote"

var (
	horizontalSpace = regexp.MustCompile(`[\t\f\r\v \p{Zs}]+`)
	spaceAroundLF   = regexp.MustCompile(` ?\n ?`)
	extraNewlines   = regexp.MustCompile(`\n{3,}`)
)

// Normalize strips markup from s. Line breaks become newlines, block
// elements are separated by exactly one blank line and runs of horizontal
// whitespace collapse to a single space. Empty or unparsable input yields "".
func Normalize(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return ""
	}

	doc.Find("br").Each(func(_ int, br *goquery.Selection) {
		br.ReplaceWithNodes(textNode("\n"))
	})
	doc.Find(blockElements).Each(func(_ int, block *goquery.Selection) {
		block.BeforeNodes(textNode("\n\n"))
		block.AfterNodes(textNode("\n\n"))
	})

	return collapse(doc.Text())
}

// WordCount is the number of whitespace-delimited tokens in text.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

func collapse(text string) string {
	text = horizontalSpace.ReplaceAllString(text, " ")
	text = spaceAroundLF.ReplaceAllString(text, "\n")
	text = extraNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func textNode(data string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: data}
}
