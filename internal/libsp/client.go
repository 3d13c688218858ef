// Package libsp implements a client for the LibSP catalog search service:
// unify search (records and facet counts), institution discovery, and ebook
// source lookup. Requests run through a Colly collector with per-host rate
// limiting and retry with exponential backoff.
package libsp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/catalog"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
	"github.com/JakeFAU/catalog-harvester/internal/ratelimit"
)

// Endpoint labels used in metrics and errors.
const (
	EndpointSearch      = "search"
	EndpointInstitution = "institution"
	EndpointEbook       = "ebook"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodySize    = 32 << 20
	errorBodyLimit = 256
)

// Config controls client behavior.
type Config struct {
	UserAgent         string
	Timeout           time.Duration
	MaxAttempts       int
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	RequestsPerSecond float64
	// BaseURL replaces the per-institution origin for every endpoint when set.
	BaseURL string
}

// Client talks to LibSP endpoints. It is safe for concurrent use.
type Client struct {
	cfg           Config
	transport     *http.Transport
	baseCollector *colly.Collector
	limiter       *ratelimit.Limiter
	retry         *RetryPolicy
	logger        *zap.Logger
}

type request struct {
	endpoint string
	method   string
	url      string
	origin   string
	body     []byte
	headers  http.Header
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	transport := newHTTPTransport()
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	c.MaxBodySize = maxBodySize
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	return &Client{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		limiter:       ratelimit.New(ratelimit.Config{RPS: cfg.RequestsPerSecond}),
		retry:         NewRetryPolicy(cfg.MaxAttempts, cfg.BackoffInitial, cfg.BackoffMax),
		logger:        logger,
	}
}

// Close releases idle connections held by the client.
func (c *Client) Close() {
	if c == nil || c.transport == nil {
		return
	}
	c.transport.CloseIdleConnections()
}

// Search runs one unify/search request. In count-only mode the result carries
// the match count and facet frequencies; otherwise it carries one page of items.
func (c *Client) Search(ctx context.Context, q catalog.SearchQuery) (catalog.SearchResult, error) {
	if q.Abbrev == "" && c.cfg.BaseURL == "" {
		return catalog.SearchResult{}, fmt.Errorf("search: institution abbreviation is required")
	}
	body, err := json.Marshal(searchPayload(q))
	if err != nil {
		return catalog.SearchResult{}, fmt.Errorf("marshal search payload: %w", err)
	}
	origin := c.institutionOrigin(q.Abbrev)
	req := request{
		endpoint: EndpointSearch,
		method:   http.MethodPost,
		url:      origin + "/find/unify/search",
		origin:   origin,
		body:     body,
		headers: http.Header{
			"Content-Type": {"application/json;charset=utf-8"},
			"Groupcode":    {strconv.Itoa(q.InstitutionID)},
		},
	}

	var result catalog.SearchResult
	err = c.execute(ctx, req, func(raw []byte, data json.RawMessage) error {
		var decoded searchData
		if err := json.Unmarshal(data, &decoded); err != nil {
			return &MalformedResponseError{Err: err}
		}
		result = catalog.SearchResult{
			Count:  decoded.NumFound,
			Items:  decoded.SearchResult,
			Facets: decoded.Stats,
			Raw:    raw,
		}
		return nil
	})
	if err != nil {
		return catalog.SearchResult{}, err
	}
	return result, nil
}

// FetchInstitution resolves a hostname such as findecnu.libsp.cn to the
// institution's identity and allowed document/resource type codes.
func (c *Client) FetchInstitution(ctx context.Context, hostname string) (catalog.Institution, error) {
	abbrev, err := catalog.AbbrevFromHostname(hostname)
	if err != nil {
		return catalog.Institution{}, err
	}
	origin := c.hostOrigin(hostname)
	req := request{
		endpoint: EndpointInstitution,
		method:   http.MethodPost,
		url:      origin + "/find/groupResource/dict",
		origin:   origin,
	}

	var inst catalog.Institution
	err = c.execute(ctx, req, func(_ []byte, data json.RawMessage) error {
		var decoded dictData
		if err := json.Unmarshal(data, &decoded); err != nil {
			return &MalformedResponseError{Err: err}
		}
		if len(decoded.LibCode) == 0 {
			return ErrInstitutionNotFound
		}
		id, err := strconv.Atoi(strings.TrimSpace(decoded.LibCode[0].GroupCode.Value))
		if err != nil {
			return &MalformedResponseError{Err: fmt.Errorf("group code %q: %w", decoded.LibCode[0].GroupCode.Value, err)}
		}
		inst = catalog.Institution{
			ID:            id,
			Abbrev:        abbrev,
			Name:          decoded.LibCode[0].Name,
			Hostname:      hostname,
			DocCodes:      codes(decoded.DocCode),
			ResourceTypes: codes(decoded.ResourceType),
		}
		return nil
	})
	if err != nil {
		var appErr *ApplicationError
		if errors.As(err, &appErr) {
			return catalog.Institution{}, fmt.Errorf("%w: %s", ErrInstitutionNotFound, appErr.Message)
		}
		return catalog.Institution{}, err
	}
	return inst, nil
}

// FetchEbookURL returns the first electronic source URL for a record, or ""
// when the endpoint lists none.
func (c *Client) FetchEbookURL(ctx context.Context, hostname string, recordID int64) (string, error) {
	origin := c.hostOrigin(hostname)
	params := url.Values{}
	params.Set("recordId", strconv.FormatInt(recordID, 10))
	params.Set("page", "1")
	params.Set("rows", "1")
	req := request{
		endpoint: EndpointEbook,
		method:   http.MethodGet,
		url:      origin + "/find/ePortfolio/itemList?" + params.Encode(),
		origin:   origin,
	}

	var readURL string
	err := c.execute(ctx, req, func(_ []byte, data json.RawMessage) error {
		var decoded itemListData
		if err := json.Unmarshal(data, &decoded); err != nil {
			return &MalformedResponseError{Err: err}
		}
		if len(decoded.List) > 0 {
			readURL = decoded.List[0].URL
		}
		return nil
	})
	if err != nil {
		var appErr *ApplicationError
		if errors.As(err, &appErr) {
			return "", nil
		}
		return "", err
	}
	return readURL, nil
}

func (c *Client) institutionOrigin(abbrev string) string {
	if c.cfg.BaseURL != "" {
		return c.cfg.BaseURL
	}
	return "https://find" + abbrev + ".libsp.cn"
}

func (c *Client) hostOrigin(hostname string) string {
	if c.cfg.BaseURL != "" {
		return c.cfg.BaseURL
	}
	return "https://" + hostname
}

// execute runs req with rate limiting and retries. decode receives the raw
// body and the envelope's data member of a successful response.
func (c *Client) execute(ctx context.Context, req request, decode func(raw []byte, data json.RawMessage) error) error {
	var lastErr error
	attempts := c.retry.MaxAttempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			wait := c.retry.Backoff(attempt - 1)
			metrics.ObserveRetry(req.endpoint)
			c.logger.Debug("retrying libsp request",
				zap.String("endpoint", req.endpoint),
				zap.String("url", req.url),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
				zap.Error(lastErr),
			)
			if err := sleepContext(ctx, wait); err != nil {
				return fmt.Errorf("libsp %s backoff: %w", req.endpoint, err)
			}
		}
		if err := c.limiter.Wait(ctx, req.url); err != nil {
			return err
		}

		start := time.Now()
		err := c.attempt(ctx, req, decode)
		metrics.ObserveSearchRequest(req.endpoint, outcomeLabel(err), time.Since(start))
		if err == nil {
			return nil
		}
		lastErr = err
		if !c.retry.ShouldRetry(err) {
			return err
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %w", ErrRetryExhausted, req.endpoint, attempts, lastErr)
}

func (c *Client) attempt(
	ctx context.Context,
	req request,
	decode func(raw []byte, data json.RawMessage) error,
) error {
	body, status, err := c.fetch(ctx, req)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &StatusError{StatusCode: status, Body: truncate(string(body), errorBodyLimit)}
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return &MalformedResponseError{Err: err}
	}
	if !env.Success {
		return &ApplicationError{Endpoint: req.endpoint, Message: env.Message}
	}
	return decode(body, env.Data)
}

// fetch performs a single HTTP exchange through a cloned collector.
func (c *Client) fetch(ctx context.Context, req request) ([]byte, int, error) {
	var (
		body     []byte
		status   int
		fetchErr error
	)
	collector := c.baseCollector.Clone()
	collector.Context = ctx
	collector.IgnoreRobotsTxt = true
	collector.ParseHTTPErrorResponse = true
	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json, text/plain, */*")
		r.Headers.Set("Origin", req.origin)
		r.Headers.Set("Referer", req.origin+"/")
		for key, values := range req.headers {
			for _, v := range values {
				r.Headers.Set(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			status = r.StatusCode
			body = append([]byte(nil), r.Body...)
			return
		}
		fetchErr = err
	})

	var payload io.Reader
	if req.body != nil {
		payload = bytes.NewReader(req.body)
	}

	done := make(chan error, 1)
	go func() {
		done <- collector.Request(req.method, req.url, payload, nil, nil)
	}()

	select {
	case <-ctx.Done():
		// The transport aborts on ctx; wait so no exchange outlives the caller.
		<-done
		return nil, 0, fmt.Errorf("libsp %s canceled: %w", req.endpoint, ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return nil, 0, fmt.Errorf("libsp %s request failed: %w", req.endpoint, fetchErr)
		}
		if err != nil && status == 0 {
			return nil, 0, fmt.Errorf("libsp %s request failed: %w", req.endpoint, err)
		}
		return body, status, nil
	}
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var appErr *ApplicationError
	var statusErr *StatusError
	var malformed *MalformedResponseError
	switch {
	case errors.As(err, &appErr):
		return "rejected"
	case errors.As(err, &statusErr):
		return strconv.Itoa(statusErr.StatusCode)
	case errors.As(err, &malformed):
		return "malformed"
	default:
		return "error"
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       30 * time.Second,
	}
}
