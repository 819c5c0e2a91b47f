// Package restyutil dumps raw request/response pairs made through a resty
// client to an output sink, for debugging scrapes against markup that only
// exists on the live site.
package restyutil

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

type Output interface {
	Write(id string, contents string)
}

type dumper struct {
	output    Output
	idcounter uint64
}

// InstrumentClient writes a formatted dump of every exchange to output.
// dumps are only produced while debug logging is enabled. `output` can be
// nil, in which case the function is a no-op.
func InstrumentClient(client *resty.Client, output Output) {
	if output == nil {
		return
	}
	d := &dumper{output: output}
	client.OnAfterResponse(d.onAfterResponse)
}

func (d *dumper) onAfterResponse(_ *resty.Client, res *resty.Response) error {
	ctx := res.Request.Context()
	if !slog.Default().Enabled(ctx, slog.LevelDebug) {
		return nil
	}

	id := strconv.FormatUint(atomic.AddUint64(&d.idcounter, 1), 10)
	d.output.Write(id, formatHttpMessage(res))
	slog.DebugContext(
		ctx, "dumped exchange",
		"method", res.Request.Method,
		"url", res.Request.URL,
		"message_id", id,
	)
	return nil
}

func formatHeaders(headers http.Header) string {
	var out strings.Builder
	for k, vals := range headers {
		for _, v := range vals {
			fmt.Fprintf(&out, "%s: %s\n", k, v)
		}
	}
	return strings.TrimSuffix(out.String(), "\n")
}

// 1: request method + url
// 2: request headers ("Key: Value" lines)
// 3: response status + url
// 4: response headers
// 5: response body
const messageTemplate = `---- REQUEST ----

%s %s

%s

---- RESPONSE ----

%s %s

%s

%s`

func formatHttpMessage(res *resty.Response) string {
	requestHeaders := formatHeaders(res.Request.RawRequest.Header)
	responseHeaders := formatHeaders(res.Header())

	responseUrl := res.Request.URL
	redirected, err := res.RawResponse.Location()
	if err == nil {
		responseUrl = redirected.String()
	}

	return fmt.Sprintf(
		messageTemplate,
		res.Request.Method, res.Request.URL,
		requestHeaders,
		strconv.Itoa(res.StatusCode()), responseUrl,
		responseHeaders,
		res.String(),
	)
}
