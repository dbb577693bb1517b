// Package httpclient wraps resty.Client with the two operations the
// Download Task needs against an origin server: a HEAD probe and a ranged
// GET.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Info is what capability discovery needs out of a HEAD response.
type Info struct {
	StatusCode    int
	ContentLength int64
	AcceptRanges  bool
}

// RangeResult is what the chunk loop needs out of a ranged GET response.
// Body is only non-nil on success and must be closed by the caller.
type RangeResult struct {
	StatusCode    int
	Body          io.ReadCloser
	ContentLength int64
	ContentRange  string // raw "bytes a-b/total" header, empty if absent
}

// Client is a thin, retry-free HTTP client: the Download Task owns
// retry/backoff itself, so this layer does exactly one attempt per call
// and reports the outcome.
type Client struct {
	rc *resty.Client
}

// New constructs a Client with sane transport defaults for large-file
// range requests (disabled compression, so Content-Length reflects the
// raw byte range rather than a compressed stream).
func New() *Client {
	rc := resty.New().
		SetTimeout(30 * time.Second).
		SetDisableWarn(true)
	rc.SetTransport(&http.Transport{DisableCompression: true})
	return &Client{rc: rc}
}

// Head issues an HTTP HEAD request and reports status, content length, and
// whether the server advertises byte-range support.
func (c *Client) Head(ctx context.Context, url string) (*Info, error) {
	resp, err := c.rc.R().SetContext(ctx).Head(url)
	if err != nil {
		return nil, err
	}

	accept := strings.ToLower(resp.Header().Get("Accept-Ranges"))
	info := &Info{
		StatusCode:    resp.StatusCode(),
		ContentLength: parseContentLength(resp.Header().Get("Content-Length")),
		AcceptRanges:  resp.StatusCode() == 206 || accept == "bytes",
	}
	return info, nil
}

// GetRange issues a GET with Range: bytes=start-end and a cache-busting
// query parameter on every chunked request. A negative start (or an end
// below start) sends the GET without a Range header. The caller
// observes RangeResult.StatusCode as soon as headers arrive and decides
// whether to drain or abort the body; SetDoNotParseResponse keeps resty
// from buffering the whole body itself.
func (c *Client) GetRange(ctx context.Context, url string, start, end int64) (*RangeResult, error) {
	req := c.rc.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetQueryParam("_t", strconv.FormatInt(time.Now().UnixMilli(), 10))

	if start >= 0 && end >= start {
		req.SetHeader("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	}

	resp, err := req.Get(url)
	if err != nil {
		return nil, err
	}

	raw := resp.RawResponse
	return &RangeResult{
		StatusCode:    raw.StatusCode,
		Body:          raw.Body,
		ContentLength: raw.ContentLength,
		ContentRange:  raw.Header.Get("Content-Range"),
	}, nil
}

func parseContentLength(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ParseContentRange extracts total from a "bytes a-b/total" header value.
// Returns (-1, false) if total is unknown ("*") and (0, false) if the header
// is malformed.
func ParseContentRange(header string) (int64, bool) {
	header = strings.TrimPrefix(header, "bytes ")
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, false
	}
	if parts[1] == "*" {
		return -1, false
	}
	total, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return total, true
}
