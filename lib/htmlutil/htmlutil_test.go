package htmlutil

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

const detailTable = `
<html><body>
<table>
<tr><td>Profile Id :</td><td>4021</td></tr>
<tr><td>Martial Status</td><td>Never Married</td></tr>
<tr><td>Height</td><td>5' 4"</td></tr>
<tr><td>Education   Level</td><td>Masters</td></tr>
</table>
</body></html>`

func TestLabeledValue(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(detailTable))
	require.NoError(t, err)

	cases := []struct {
		label  string
		expect string
	}{
		{"Profile ID", "4021"},
		// tolerant of the site's typo
		{"Marital Status", "Never Married"},
		{"Height", `5' 4"`},
		{"Education Level", "Masters"},
	}
	for _, test := range cases {
		got, ok := LabeledValue(doc, test.label)
		require.True(t, ok, test.label)
		require.Equal(t, test.expect, got, test.label)
	}

	_, ok := LabeledValue(doc, "Zodiac Sign")
	require.False(t, ok)
}

func TestCleanText(t *testing.T) {
	require.Equal(t, "a b", CleanText("  a \n\n  b\t"))
}

func TestGetText(t *testing.T) {
	node, err := html.Parse(strings.NewReader(`<p>Hello <b>nested</b> text</p>`))
	require.NoError(t, err)
	require.Equal(t, "Hello nested text", GetText(node))
}
