package goodreads

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"reviewharvest/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxInFlight bounds simultaneous page fetches for one user.
const DefaultMaxInFlight = 512

const restrictedProfileMarker = "This Profile Is Restricted to Goodreads Users"

type Crawler struct {
	Client *Client
	// MaxInFlight caps concurrent fetches, DefaultMaxInFlight when zero
	MaxInFlight int
}

func NewCrawler(client *Client) *Crawler {
	return &Crawler{Client: client, MaxInFlight: DefaultMaxInFlight}
}

// LastPage reads the total page count from the pagination control of the
// first page. no control means a single page. the markup keeps the
// "next »" link last, so the highest page number sits second to last --
// an assumption of the fixed schema, not a general algorithm.
func LastPage(body []byte) (int, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	links := doc.Find("#reviewPagination a")
	if links.Length() == 0 {
		return 1, nil
	}
	if links.Length() < 2 {
		return 0, fmt.Errorf("pagination control has %d links, want none or >= 2", links.Length())
	}

	label := htmlutil.SelectionText(links.Eq(links.Length() - 2))
	last, err := strconv.Atoi(label)
	if err != nil {
		return 0, fmt.Errorf("unexpected pagination label %q: %w", label, err)
	}
	return last, nil
}

// CrawlUser fetches every page of a user's review listing, keyed by page
// number. unavailable users produce (nil, nil). a page that exhausts its
// retries aborts the whole user, there is never a partial page set.
func (c *Crawler) CrawlUser(ctx context.Context, userID int64) (map[int][]byte, error) {
	ctx, span := tracer.Start(ctx, "CrawlUser", trace.WithAttributes(
		attribute.Int64("user_id", userID),
	))
	defer span.End()

	first, err := c.Client.Fetch(ctx, userID, 1)
	if errors.Is(err, ErrUserUnavailable) {
		slog.DebugContext(ctx, "user unavailable", "user_id", userID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	last, err := LastPage(first)
	if err != nil {
		span.SetStatus(codes.Error, "pagination parse failed")
		return nil, err
	}

	pages := map[int][]byte{1: first}
	if last == 1 {
		return pages, nil
	}

	maxInFlight := c.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}

	// fetch in fixed-size waves so memory and connection usage stay
	// bounded for users with thousands of pages
	var mu sync.Mutex
	for waveStart := 2; waveStart <= last; waveStart += maxInFlight {
		waveEnd := min(waveStart+maxInFlight-1, last)

		var wg sync.WaitGroup
		var errlist []error
		for page := waveStart; page <= waveEnd; page++ {
			wg.Add(1)
			go func(page int) {
				defer wg.Done()

				body, err := c.Client.Fetch(ctx, userID, page)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errlist = append(errlist, err)
					return
				}
				pages[page] = body
			}(page)
		}
		wg.Wait()

		if len(errlist) > 0 {
			return nil, errors.Join(errlist...)
		}
	}

	return pages, nil
}

// PageFileName is the deterministic artifact name for one crawled page.
func PageFileName(userID int64, page int) string {
	return fmt.Sprintf("user_%d_%d.html", userID, page)
}

// CrawlRange crawls users start..end sequentially, writing page bodies to
// dir. a user whose fetches exhaust their retries is abandoned and logged,
// the run continues with the next id.
func (c *Crawler) CrawlRange(ctx context.Context, dir string, start, end int64) error {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}

	for userID := start; userID <= end; userID++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		pages, err := c.CrawlUser(ctx, userID)
		var exhausted *FetchExhaustedError
		if errors.As(err, &exhausted) {
			slog.ErrorContext(ctx, "abandoning user", "user_id", userID, "err", err)
			continue
		}
		if err != nil {
			return err
		}
		if pages == nil {
			continue
		}

		written := 0
		for page, body := range pages {
			if strings.Contains(string(body), restrictedProfileMarker) {
				continue
			}
			path := filepath.Join(dir, PageFileName(userID, page))
			err := os.WriteFile(path, body, 0644)
			if err != nil {
				return err
			}
			written++
		}
		slog.InfoContext(ctx, "crawled user", "user_id", userID, "pages", written)
	}
	return nil
}

var pageFilePattern = regexp.MustCompile(`user_(\d+)_\d+\.html$`)

// LatestUserID returns the user id of the most recently written page file
// in dir, so an interrupted crawl can resume where it stopped.
func LatestUserID(dir string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	var latest int64
	var latestMod int64 = -1
	for _, entry := range entries {
		match := pageFilePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return 0, err
		}
		mod := info.ModTime().UnixNano()
		if mod <= latestMod {
			continue
		}
		id, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			return 0, err
		}
		latest = id
		latestMod = mod
	}

	if latestMod == -1 {
		return 0, fmt.Errorf("no crawled pages in %s", dir)
	}
	return latest, nil
}
