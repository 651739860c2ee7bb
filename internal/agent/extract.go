package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Extract types understood by the extract agent.
const (
	ExtractText   = "text"
	ExtractImages = "images"
	ExtractLinks  = "links"
)

const defaultMaxBody = 5 << 20

// FetchOptions configure how extract agents reach remote pages.
type FetchOptions struct {
	Client       *http.Client
	UserAgent    string
	MaxBodyBytes int64
	Retry        RetryPolicy
}

// Extractor fetches a URL and extracts text, images or links from it.
type Extractor struct {
	base
	url         string
	headers     map[string]string
	extractType string
	opts        FetchOptions
}

var _ Agent = (*Extractor)(nil)

func NewExtractor(name, rawURL, extractType string, headers map[string]string, opts FetchOptions) *Extractor {
	if extractType == "" {
		extractType = ExtractText
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	return &Extractor{
		base:        base{name: name, cap: CapabilityExtract},
		url:         rawURL,
		headers:     headers,
		extractType: extractType,
		opts:        opts,
	}
}

func (e *Extractor) Input() Shape  { return ShapeNone }
func (e *Extractor) Output() Shape { return ShapeExtraction }

func (e *Extractor) Execute(ctx context.Context, _ Payload) (Payload, error) {
	if strings.TrimSpace(e.url) == "" {
		return nil, InvalidInput(e.Name(), "url cannot be empty")
	}
	u, err := url.Parse(e.url)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, InvalidInput(e.Name(), "invalid url format")
	}
	switch e.extractType {
	case ExtractText, ExtractImages, ExtractLinks:
	default:
		return nil, Unsupported(e.Name(), fmt.Sprintf("unknown extract type %q", e.extractType))
	}

	var out *Extraction
	attempts, err := retry(ctx, e.opts.Retry, func(ctx context.Context) error {
		var ferr error
		out, ferr = e.fetch(ctx, u)
		return ferr
	})
	if err != nil {
		slog.Warn("extract failed", "agent", e.Name(), "url", e.url, "attempts", attempts, "error", err)
		return nil, err
	}
	out.Attempts = attempts
	return out, nil
}

func (e *Extractor) fetch(ctx context.Context, u *url.URL) (*Extraction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, InvalidInput(e.Name(), "invalid url format")
	}
	if e.opts.UserAgent != "" {
		req.Header.Set("User-Agent", e.opts.UserAgent)
	}
	for k, v := range e.headers {
		req.Header.Set(k, v)
	}

	resp, err := e.opts.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, Unavailable(e.Name(), fmt.Errorf("fetch %s: %w", u, err), true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, Unavailable(e.Name(), fmt.Errorf("fetch %s: %w", u, &StatusError{Code: resp.StatusCode}), retryable)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.opts.MaxBodyBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, Unavailable(e.Name(), fmt.Errorf("read body: %w", err), true)
	}
	if int64(len(body)) > e.opts.MaxBodyBytes {
		return nil, Unavailable(e.Name(), fmt.Errorf("fetch %s: response body exceeds %d bytes", u, e.opts.MaxBodyBytes), false)
	}

	out := &Extraction{
		URL:        u.String(),
		Kind:       e.extractType,
		StatusCode: resp.StatusCode,
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	out.ContentType = mediaType

	if mediaType == "application/json" || strings.HasSuffix(mediaType, "+json") {
		if e.extractType != ExtractText {
			return nil, Unsupported(e.Name(), fmt.Sprintf("extract type %q needs an html page, got %s", e.extractType, mediaType))
		}
		out.Items = []string{string(body)}
		return out, nil
	}

	p, err := parsePage(bytes.NewReader(body), resp.Request.URL)
	if err != nil {
		return nil, InvalidInput(e.Name(), fmt.Sprintf("parse html: %v", err))
	}
	out.Title = p.title
	switch e.extractType {
	case ExtractImages:
		out.Items = p.images
	case ExtractLinks:
		out.Items = p.links
	default:
		out.Items = p.text
	}
	if out.Items == nil {
		out.Items = []string{}
	}
	return out, nil
}

// StatusError reports a non-success HTTP status from a fetched page.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// StatusCode extracts the HTTP status from an extract failure, if any.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
