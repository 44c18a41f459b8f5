package htmlutil

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/antzucaro/matchr"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

func textOf(sel *goquery.Selection) string {
	var buffer bytes.Buffer
	for _, node := range sel.Nodes {
		getTextRecursive(node, &buffer)
	}
	return buffer.String()
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

func CleanText(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) {
			newStr.WriteRune(c)
		}
	}
	out := strings.Trim(newStr.String(), " \t\n")
	return innerWhitespace.ReplaceAllString(out, " ")
}

func normalizeLabel(s string) string {
	s = strings.ToLower(CleanText(s))
	s = strings.TrimRight(s, ": ")
	return strings.ReplaceAll(s, " ", "")
}

// labels drift between markup revisions ("Marital Status", "MaritalStatus",
// "Martial Status"), so equality allows a small edit distance
func labelMatches(got, want string) bool {
	got = normalizeLabel(got)
	want = normalizeLabel(want)
	if got == want {
		return true
	}
	if len(got) < 4 || len(want) < 4 {
		return false
	}
	return matchr.DamerauLevenshtein(got, want) <= 2
}

// LabeledValue finds the value cell paired with a label cell in the
// document's detail tables (td/th label followed by a sibling value, or
// dt/dd pairs). The second return reports whether the label was present
// at all, so a missing field stays distinguishable from an empty one.
func LabeledValue(doc *goquery.Document, label string) (string, bool) {
	value := ""
	found := false

	doc.Find("td, th, dt, label").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if !labelMatches(textOf(sel), label) {
			return true
		}
		next := sel.Next()
		if next.Length() == 0 {
			return true
		}
		value = CleanText(textOf(next))
		found = true
		return false
	})

	return value, found
}
