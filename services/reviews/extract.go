package reviews

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"reviewharvest/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// ratingScores maps the site's star labels to scores. anything else,
// including an empty label, scores 0.
var ratingScores = map[string]int64{
	"it was amazing":  5,
	"really liked it": 4,
	"liked it":        3,
	"it was ok":       2,
	"did not like it": 1,
}

// pages whose meta description contains any of these are sign-in walls,
// author-page redirects or generic placeholders, not review listings.
var metaBlacklist = []string{
	"Sign in to learn more",
	"author/show",
	"Meet your next favorite book",
}

var (
	userNamePattern = regexp.MustCompile(`(.+)’s`)
	bookIDPattern   = regexp.MustCompile(`/book/show/(\d+)`)
	authorIDPattern = regexp.MustCompile(`/author/show/(\d+)`)
	digitsPattern   = regexp.MustCompile(`\d+`)
)

// Extract parses one review-list page into its typed records. invalid and
// placeholder pages yield an empty Extraction with no error. a listing row
// whose book link does not match the expected shape is a schema violation
// and returns a SourceError.
func Extract(userID int64, body []byte) (Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Extraction{}, &SourceError{UserID: userID, Err: err}
	}

	user := extractUser(userID, doc)
	if user == nil {
		return Extraction{}, nil
	}

	out := Extraction{User: user}
	if doc.Find("div.greyText.nocontent.stacked").Length() > 0 {
		return out, nil
	}

	var rowErr error
	doc.Find("tr.bookalike").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		rowErr = extractRow(userID, row, &out)
		return rowErr == nil
	})
	if rowErr != nil {
		return Extraction{}, rowErr
	}
	return out, nil
}

func extractUser(userID int64, doc *goquery.Document) *User {
	meta := doc.Find("meta").First().AttrOr("content", "")
	for _, term := range metaBlacklist {
		if strings.Contains(meta, term) {
			return nil
		}
	}

	title := htmlutil.SelectionText(doc.Find("title").First())
	match := userNamePattern.FindStringSubmatch(title)
	if match == nil {
		return nil
	}
	return &User{ID: userID, Name: match[1]}
}

func extractRow(userID int64, row *goquery.Selection, out *Extraction) error {
	titleLink := row.Find("td.field.title a").First()
	bookUrl := titleLink.AttrOr("href", "")

	bookMatch := bookIDPattern.FindStringSubmatch(bookUrl)
	if bookMatch == nil {
		return &SourceError{
			UserID: userID,
			Err:    fmt.Errorf("book link %q does not match /book/show/<id>", bookUrl),
		}
	}
	bookID, err := strconv.ParseInt(bookMatch[1], 10, 64)
	if err != nil {
		return &SourceError{UserID: userID, Err: err}
	}

	// rows without an author anchor are incomplete entries, skip them
	authorLink := row.Find("td.field.author a").First()
	if authorLink.Length() == 0 {
		return nil
	}
	authorUrl := authorLink.AttrOr("href", "")
	authorMatch := authorIDPattern.FindStringSubmatch(authorUrl)
	if authorMatch == nil {
		return nil
	}
	authorID, err := strconv.ParseInt(authorMatch[1], 10, 64)
	if err != nil {
		return &SourceError{UserID: userID, Err: err}
	}
	authorName := htmlutil.SelectionText(authorLink)

	// the isbn fields can carry leading zeros, they stay strings
	isbn := htmlutil.SelectionText(row.Find("td.field.isbn div").First())
	isbn13 := htmlutil.SelectionText(row.Find("td.field.isbn13 div").First())

	ratingLabel := htmlutil.SelectionText(row.Find("td.field.rating span").First())

	out.Authors = append(out.Authors, Author{
		ID:   authorID,
		Name: authorName,
		Url:  authorUrl,
	})
	out.Books = append(out.Books, Book{
		ID:            bookID,
		Title:         titleLink.AttrOr("title", ""),
		Author:        authorName,
		Isbn:          isbn,
		Isbn13:        isbn13,
		Url:           bookUrl,
		CoverUrl:      row.Find("img").First().AttrOr("src", ""),
		PagesCount:    parsePagesCount(htmlutil.SelectionText(row.Find("td.field.num_pages div").First())),
		AvgRating:     parseFloatField(htmlutil.SelectionText(row.Find("td.field.avg_rating div").First())),
		RatingsCount:  parseCountField(htmlutil.SelectionText(row.Find("td.field.num_ratings div").First())),
		DatePublished: ParsePublishedDate(htmlutil.SelectionText(row.Find("td.field.date_pub div").First())),
	})
	out.Ratings = append(out.Ratings, Rating{
		UserID: userID,
		BookID: bookID,
		Value:  ratingScores[ratingLabel],
	})
	return nil
}

// parsePagesCount maps the literal "unknown" (and anything without digits)
// to no page count, otherwise the first run of digits is the count.
func parsePagesCount(s string) *int64 {
	if s == "unknown" {
		return nil
	}
	digits := digitsPattern.FindString(s)
	if digits == "" {
		return nil
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func parseFloatField(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// parseCountField strips thousands separators before parsing.
func parseCountField(s string) int64 {
	n, _ := strconv.ParseInt(strings.ReplaceAll(s, ",", ""), 10, 64)
	return n
}

// publishedDateFormats are tried in order, first success wins. month-only
// and year-only dates default the missing fields to 1.
var publishedDateFormats = []string{"Jan 2, 2006", "Jan 2006", "2006", "06"}

// ParsePublishedDate normalizes the free-form publication date column.
// "unknown", "0", negative years and anything unparsable all mean no date,
// never an error.
func ParsePublishedDate(s string) *time.Time {
	if s == "unknown" || s == "0" || strings.HasPrefix(s, "-") {
		return nil
	}
	for _, format := range publishedDateFormats {
		t, err := time.Parse(format, s)
		if err == nil {
			return &t
		}
	}
	return nil
}
