package htmlutil

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func TestCleanText(t *testing.T) {
	require.Equal(t, "hello world", CleanText("  hello   world  "))
	require.Equal(t, "374 pages", CleanText(" 374  pages "))
	require.Equal(t, "", CleanText("   "))
}

func TestGetText(t *testing.T) {
	node, err := html.Parse(strings.NewReader("<p>one <b>two</b> three</p>"))
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "one two three", GetText(node))
}

func TestSelectionText(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		"<div class=\"value\">  it was\n        amazing  </div>",
	))
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "it was amazing", SelectionText(doc.Find("div.value")))
}
