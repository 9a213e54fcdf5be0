// Package upstream fetches business registry pages from the public data portal.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bizsync/registry-sync/internal/metrics"
	"github.com/bizsync/registry-sync/pkg/retry"
)

const (
	// DefaultTimeout bounds a single HTTP request. It is independent of retry delays.
	DefaultTimeout = 15 * time.Second

	// DefaultMaxBodyBytes caps how much of a response body is read (32MB)
	DefaultMaxBodyBytes = 32 << 20

	// DefaultUserAgent is sent with every request
	DefaultUserAgent = "registry-sync/1.0"
)

// RawItem is one upstream record as flat field name to value pairs. Empty values are omitted.
type RawItem map[string]string

// ExternalID returns the record identifier, whichever of the known id fields is present.
func (r RawItem) ExternalID() string {
	for _, k := range []string{"bizesId", "mgtNo", "bsnmNo"} {
		if v := r[k]; v != "" {
			return v
		}
	}
	return ""
}

// PageRequest selects one page of the dataset.
type PageRequest struct {
	// Key is the dataset key, a YYYYMMDD date for storeListInDate.
	Key       string
	PageNo    int
	NumOfRows int
}

// PageResult is a decoded page. An empty Items slice marks the end of the data.
type PageResult struct {
	Items      []RawItem
	TotalCount int
	PageNo     int
	NumOfRows  int
	ResultCode string
	ResultMsg  string
}

// Config holds the client settings.
type Config struct {
	BaseURL      string
	Endpoint     string
	ServiceKey   string
	Format       string
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	Retry        retry.Policy
}

// Client calls the public data portal.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client. Zero-valued settings fall back to package defaults.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("upstream base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid upstream base url: %w", err)
	}
	if cfg.ServiceKey == "" {
		return nil, errors.New("upstream service key is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	cfg.Retry = cfg.Retry.WithDefaults()
	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		cfg:    cfg,
		http:   &http.Client{},
		logger: logger.Named("upstream"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchPage fetches and decodes one page. Transport failures (network errors,
// 5xx, 429) are retried under the configured policy; a 4xx fails immediately.
// A failing result code is returned as *ResultCodeError and an undecodable
// body as *DecodeError, neither of which is retried here.
func (c *Client) FetchPage(ctx context.Context, req PageRequest) (*PageResult, error) {
	endpoint := c.pageURL(req)

	resp, err := retry.DoValue(ctx, c.logger, c.cfg.Retry, func(ctx context.Context) (*rawResponse, error) {
		return c.get(ctx, endpoint)
	})
	if err != nil {
		return nil, err
	}

	page, err := DecoderFor(resp.contentType, resp.body).Decode(resp.body)
	if err != nil {
		return nil, err
	}
	if !IsOK(page.ResultCode) {
		return nil, &ResultCodeError{Code: page.ResultCode, Message: page.ResultMsg, PageNo: req.PageNo}
	}
	if page.PageNo == 0 {
		page.PageNo = req.PageNo
	}

	c.logger.Debug("Fetched page",
		zap.String("key", req.Key),
		zap.Int("page", req.PageNo),
		zap.Int("items", len(page.Items)),
		zap.Int("total_count", page.TotalCount),
	)
	return page, nil
}

// Ping fetches a single small page to check that the API answers with a success code.
func (c *Client) Ping(ctx context.Context, key string) error {
	_, err := c.FetchPage(ctx, PageRequest{Key: key, PageNo: 1, NumOfRows: 1})
	return err
}

type rawResponse struct {
	contentType string
	body        []byte
}

func (c *Client) get(ctx context.Context, endpoint string) (*rawResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json, application/xml;q=0.9, */*;q=0.8")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	metrics.UpstreamRequests.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			URL:        redact(endpoint),
			Message:    resp.Status,
			After:      parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	if resp.ContentLength > c.cfg.MaxBodyBytes {
		return nil, fmt.Errorf("response size %d bytes exceeds maximum allowed size of %d bytes",
			resp.ContentLength, c.cfg.MaxBodyBytes)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > c.cfg.MaxBodyBytes {
		return nil, fmt.Errorf("response size exceeds maximum allowed size of %d bytes", c.cfg.MaxBodyBytes)
	}

	return &rawResponse{contentType: resp.Header.Get("Content-Type"), body: body}, nil
}

func (c *Client) pageURL(req PageRequest) string {
	q := url.Values{}
	if req.Key != "" {
		q.Set("key", req.Key)
	}
	q.Set("type", c.cfg.Format)
	q.Set("pageNo", strconv.Itoa(req.PageNo))
	q.Set("numOfRows", strconv.Itoa(req.NumOfRows))

	// Portal keys are issued both raw and pre-encoded; an encoded key must not be escaped twice.
	key := c.cfg.ServiceKey
	if !strings.Contains(key, "%") {
		key = url.QueryEscape(key)
	}

	base := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(c.cfg.Endpoint, "/")
	return base + "?serviceKey=" + key + "&" + q.Encode()
}

// redact strips the service key from URLs that end up in errors and logs.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("serviceKey") {
		q.Set("serviceKey", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
