// Package goodreads fetches the paginated review listing of a user from a
// goodreads-shaped site. it assumes the fixed markup schema of the review
// list pages, anything else is an upstream change that should surface loudly.
package goodreads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"time"

	"reviewharvest/lib/restyutil"
	"reviewharvest/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("scrapers/goodreads")

const DefaultBaseUrl = "https://www.goodreads.com"

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// retry budgets per fault class. read timeouts get a bigger budget than
// other transient faults, the site routinely stalls under load but
// recovers within seconds.
const (
	maxTimeoutAttempts   = 20
	maxTransientAttempts = 5
)

// ErrUserUnavailable marks a user id with no fetchable listing: the id does
// not exist (the site permanently redirects to its root) or the listing is
// gone. not a fault, callers skip the user silently.
var ErrUserUnavailable = errors.New("user listing unavailable")

// returned from the redirect policy so the first hop can be told apart
// from a redirect chain that merely ends up at the root.
var errMovedToRoot = errors.New("permanently moved to site root")

// FetchExhaustedError reports a page whose retry budget ran out. fatal to
// the enclosing user's crawl only.
type FetchExhaustedError struct {
	UserID   int64
	Page     int
	Attempts int
	Err      error
}

func (e *FetchExhaustedError) Error() string {
	return fmt.Sprintf(
		"fetch exhausted after %d attempts (user %d page %d): %s",
		e.Attempts, e.UserID, e.Page, e.Err,
	)
}

func (e *FetchExhaustedError) Unwrap() error { return e.Err }

type ClientOptions struct {
	BaseUrl   string
	UserAgent string
	// RetryDelay defaults to one second, tests shrink it
	RetryDelay time.Duration
}

type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client

	retryDelay time.Duration
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	client.SetHeader("user-agent", userAgent)
	client.SetTimeout(time.Second * 60)
	client.SetRedirectPolicy(resty.RedirectPolicyFunc(rootRedirectPolicy(baseUrl)))

	telemetry.InstrumentResty(client, "scrapers/goodreads/http")

	retryDelay := opts.RetryDelay
	if retryDelay == 0 {
		retryDelay = time.Second
	}

	return &Client{
		BaseUrl:    baseUrl,
		Http:       client,
		retryDelay: retryDelay,
	}, nil
}

// SetDumpOutput writes raw request/response dumps for every fetch while
// debug logging is enabled.
func (c *Client) SetDumpOutput(out restyutil.Output) {
	restyutil.InstrumentClient(c.Http, out)
}

// a 301 on the very first hop that points at the site root means the user
// id does not exist.
func rootRedirectPolicy(base *url.URL) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		if len(via) == 1 &&
			req.Response != nil &&
			req.Response.StatusCode == http.StatusMovedPermanently &&
			req.URL.Hostname() == base.Hostname() &&
			(req.URL.Path == "" || req.URL.Path == "/") {
			return errMovedToRoot
		}
		return nil
	}
}

// Fetch gets one page of a user's review listing, retrying transient
// network faults with a fixed delay until the fault class budget runs out.
func (c *Client) Fetch(ctx context.Context, userID int64, page int) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "Fetch", trace.WithAttributes(
		attribute.Int64("user_id", userID),
		attribute.Int("page", page),
	))
	defer span.End()

	for attempt := 1; ; attempt++ {
		body, err := c.fetchOnce(ctx, userID, page)
		if err == nil || !isTransient(err) {
			return body, err
		}

		limit := maxTransientAttempts
		if isReadTimeout(err) {
			limit = maxTimeoutAttempts
		}
		if attempt >= limit {
			span.SetStatus(codes.Error, "retries exhausted")
			span.RecordError(err)
			return nil, &FetchExhaustedError{
				UserID:   userID,
				Page:     page,
				Attempts: attempt,
				Err:      err,
			}
		}

		slog.DebugContext(
			ctx, "retrying fetch",
			"user_id", userID,
			"page", page,
			"attempt", attempt,
			"err", err,
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
}

func (c *Client) fetchOnce(ctx context.Context, userID int64, page int) ([]byte, error) {
	res, err := c.Http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"page":     strconv.Itoa(page),
			"per_page": "100",
			"sort":     "rating",
			"utf8":     "✓",
		}).
		Get(fmt.Sprintf("/review/list/%d", userID))
	if err != nil {
		if errors.Is(err, errMovedToRoot) {
			return nil, ErrUserUnavailable
		}
		return nil, err
	}

	switch {
	case res.StatusCode() == http.StatusMovedPermanently:
		return nil, ErrUserUnavailable
	case res.StatusCode() != http.StatusOK:
		return nil, fmt.Errorf(
			"unexpected status %d fetching user %d page %d",
			res.StatusCode(), userID, page,
		)
	}
	return res.Body(), nil
}

func isReadTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// transient faults are worth retrying: timeouts, connection failures and
// protocol-level resets. context cancellation and application errors are
// not.
func isTransient(err error) bool {
	if err == nil ||
		errors.Is(err, ErrUserUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
