// Package fetcher executes batched searches against the external news API:
// one combined query per batch, bounded timeouts, error classification,
// retry with backoff, and credential fallback on rate limits.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/celebwire/pkg/credential"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for search requests.
var (
	searchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "celebwire_search_requests_total",
		Help: "Total search API requests by status",
	}, []string{"status"})

	searchRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "celebwire_search_request_duration_seconds",
		Help:    "Search API request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})

	searchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "celebwire_search_errors_total",
		Help: "Total search API errors by class",
	}, []string{"class"})
)

// Config holds the search client configuration.
type Config struct {
	// BaseURL of the news search API.
	BaseURL string

	// Timeout bounds each request.
	Timeout time.Duration

	// PageSize is the number of items requested per query (API max 100).
	PageSize int

	// Language restricts results.
	Language string
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:  "https://newsapi.org/v2",
		Timeout:  10 * time.Second,
		PageSize: 100,
		Language: "en",
	}
}

// RawItem is one search result as delivered by the API, before
// normalization and dedup.
type RawItem struct {
	URL         string
	Title       string
	Description string
	ImageURL    string
	Source      string
	PublishedAt time.Time
}

// RateLimitInfo is quota metadata reported by the API, when present.
type RateLimitInfo struct {
	Remaining *int
	ResetAt   *time.Time
}

// SearchResponse is a successful search result.
type SearchResponse struct {
	Items     []RawItem
	RateLimit RateLimitInfo
}

// Client is the news search API client.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a search client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.PageSize <= 0 || cfg.PageSize > 100 {
		cfg.PageSize = DefaultConfig().PageSize
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: zerolog.Nop(),
	}
}

// WithLogger returns the client with the given logger attached.
func (c *Client) WithLogger(logger zerolog.Logger) *Client {
	c.logger = logger
	return c
}

// Search issues one search request authenticated with secret.
// Failures are returned as *APIError carrying the error class.
func (c *Client) Search(ctx context.Context, query, secret string) (*SearchResponse, error) {
	params := url.Values{
		"q":        {query},
		"pageSize": {strconv.Itoa(c.config.PageSize)},
		"sortBy":   {"publishedAt"},
	}
	if c.config.Language != "" {
		params.Set("language", c.config.Language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.config.BaseURL+"/everything?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Api-Key", secret)
	req.Header.Set("Accept", "application/json")

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	searchRequestDuration.Observe(time.Since(startTime).Seconds())

	if err != nil {
		searchErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		searchRequestsTotal.WithLabelValues("network_error").Inc()
		return nil, &APIError{Class: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	searchRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	rateLimit := parseRateLimit(resp.Header)

	if resp.StatusCode != http.StatusOK {
		class := classifyStatus(resp.StatusCode)
		searchErrorsTotal.WithLabelValues(string(class)).Inc()

		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Search request error")

		return nil, &APIError{
			StatusCode:       resp.StatusCode,
			Class:            class,
			Message:          resp.Status,
			RateLimitResetAt: rateLimit.ResetAt,
		}
	}

	var body struct {
		Status   string `json:"status"`
		Message  string `json:"message"`
		Articles []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			Description string `json:"description"`
			URLToImage  string `json:"urlToImage"`
			PublishedAt string `json:"publishedAt"`
			Source      struct {
				Name string `json:"name"`
			} `json:"source"`
		} `json:"articles"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		searchErrorsTotal.WithLabelValues(string(ErrorClassServer)).Inc()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassServer,
			Message:    "decode response",
			Err:        err,
		}
	}

	if body.Status != "ok" {
		searchErrorsTotal.WithLabelValues(string(ErrorClassClient)).Inc()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassClient,
			Message:    body.Message,
		}
	}

	items := make([]RawItem, 0, len(body.Articles))
	for _, a := range body.Articles {
		if a.URL == "" || a.Title == "" {
			continue
		}
		// The API substitutes removed articles with placeholders.
		if a.Title == "[Removed]" {
			continue
		}

		item := RawItem{
			URL:         a.URL,
			Title:       strings.TrimSpace(a.Title),
			Description: strings.TrimSpace(a.Description),
			ImageURL:    a.URLToImage,
			Source:      a.Source.Name,
		}
		if a.PublishedAt != "" {
			if ts, err := time.Parse(time.RFC3339, a.PublishedAt); err == nil {
				item.PublishedAt = ts
			}
		}
		items = append(items, item)
	}

	c.logger.Debug().
		Int("items", len(items)).
		Msg("Search request succeeded")

	return &SearchResponse{Items: items, RateLimit: rateLimit}, nil
}

// Probe issues a minimal request to classify a credential.
// Implements credential.Prober.
func (c *Client) Probe(ctx context.Context, secret string) (credential.Outcome, error) {
	params := url.Values{
		"q":        {"news"},
		"pageSize": {"1"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.config.BaseURL+"/everything?"+params.Encode(), nil)
	if err != nil {
		return credential.OutcomeNetworkError, fmt.Errorf("create probe request: %w", err)
	}
	req.Header.Set("X-Api-Key", secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return credential.OutcomeNetworkError, fmt.Errorf("probe request: %w", err)
	}
	defer resp.Body.Close()

	switch classifyStatus(resp.StatusCode) {
	case "":
		return credential.OutcomeValid, nil
	case ErrorClassRateLimit:
		return credential.OutcomeRateLimited, nil
	case ErrorClassAuth:
		return credential.OutcomeInvalid, nil
	case ErrorClassServer:
		return credential.OutcomeNetworkError, fmt.Errorf("probe got status %d", resp.StatusCode)
	default:
		// Unexpected 4xx on a well-formed probe: treat as invalid.
		return credential.OutcomeInvalid, nil
	}
}

// classifyStatus categorizes an HTTP status. Returns "" for success.
func classifyStatus(status int) ErrorClass {
	switch {
	case status >= 200 && status < 300:
		return ""
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorClassAuth
	case status >= 400 && status < 500:
		return ErrorClassClient
	default:
		return ErrorClassServer
	}
}

// parseRateLimit extracts quota headers when the API reports them.
func parseRateLimit(headers http.Header) RateLimitInfo {
	var info RateLimitInfo

	if remainStr := headers.Get("X-RateLimit-Remaining"); remainStr != "" {
		if remain, err := strconv.Atoi(remainStr); err == nil {
			info.Remaining = &remain
		}
	}
	if resetStr := headers.Get("X-RateLimit-Reset"); resetStr != "" {
		if unix, err := strconv.ParseInt(resetStr, 10, 64); err == nil {
			resetAt := time.Unix(unix, 0)
			info.ResetAt = &resetAt
		}
	}
	return info
}
