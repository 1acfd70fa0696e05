// Package testutil provides testing utilities for the celebwire pipeline.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
)

// MockArticle is one article served by the mock news API.
type MockArticle struct {
	URL         string
	Title       string
	Description string
	ImageURL    string
	Source      string
	PublishedAt string
}

// KeyBehavior defines how the mock responds to a given API key.
type KeyBehavior struct {
	// StatusCode returned for this key (default 200).
	StatusCode int

	// Articles returned on success.
	Articles []MockArticle

	// RateRemaining / RateReset populate the X-RateLimit-* headers
	// when non-empty.
	RateRemaining string
	RateReset     string
}

// MockNewsAPI is a configurable mock news-search server for testing.
type MockNewsAPI struct {
	server *httptest.Server
	mu     sync.RWMutex
	keys   map[string]KeyBehavior

	// Tracking
	RequestCount int
	LastQuery    string
	LastKey      string
}

// NewMockNewsAPI creates a mock server. Unconfigured keys get 401.
func NewMockNewsAPI() *MockNewsAPI {
	mock := &MockNewsAPI{
		keys: make(map[string]KeyBehavior),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastQuery = r.URL.Query().Get("q")
		mock.LastKey = r.Header.Get("X-Api-Key")
		behavior, configured := mock.keys[mock.LastKey]
		mock.mu.Unlock()

		if !configured {
			behavior = KeyBehavior{StatusCode: http.StatusUnauthorized}
		}
		if behavior.StatusCode == 0 {
			behavior.StatusCode = http.StatusOK
		}

		if behavior.RateRemaining != "" {
			w.Header().Set("X-RateLimit-Remaining", behavior.RateRemaining)
		}
		if behavior.RateReset != "" {
			w.Header().Set("X-RateLimit-Reset", behavior.RateReset)
		}

		if behavior.StatusCode != http.StatusOK {
			w.WriteHeader(behavior.StatusCode)
			fmt.Fprintf(w, `{"status":"error","code":"%d"}`, behavior.StatusCode)
			return
		}

		type sourceBody struct {
			Name string `json:"name"`
		}
		type articleBody struct {
			URL         string     `json:"url"`
			Title       string     `json:"title"`
			Description string     `json:"description"`
			URLToImage  string     `json:"urlToImage"`
			PublishedAt string     `json:"publishedAt"`
			Source      sourceBody `json:"source"`
		}

		articles := make([]articleBody, 0, len(behavior.Articles))
		for _, a := range behavior.Articles {
			articles = append(articles, articleBody{
				URL:         a.URL,
				Title:       a.Title,
				Description: a.Description,
				URLToImage:  a.ImageURL,
				PublishedAt: a.PublishedAt,
				Source:      sourceBody{Name: a.Source},
			})
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":       "ok",
			"totalResults": len(articles),
			"articles":     articles,
		})
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockNewsAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockNewsAPI) Close() {
	m.server.Close()
}

// SetKey configures the behavior for an API key.
func (m *MockNewsAPI) SetKey(key string, behavior KeyBehavior) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = behavior
}

// Requests returns the number of requests served.
func (m *MockNewsAPI) Requests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// Query returns the q parameter of the last request.
func (m *MockNewsAPI) Query() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastQuery
}
