// Package rerankprovider types the polymorphic rerank contract
// (rerank(query, docs, limit)) with a
// none/no-op implementation and a thin HTTP client shared by the Cohere and
// Voyage rerank endpoints.
package rerankprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Reranker reorders docs by relevance to query, returning parallel scores.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string, limit int) ([]float64, error)
	ProviderName() string
}

// NoneReranker implements search.semantic.rerank.provider="none": the
// hybrid pipeline checks ProviderName() == "none" before invoking Rerank at
// all, so this type's Rerank is never actually called in practice.
type NoneReranker struct{}

func (NoneReranker) ProviderName() string { return "none" }
func (NoneReranker) Rerank(ctx context.Context, query string, docs []string, limit int) ([]float64, error) {
	return nil, nil
}

// HTTPReranker implements the Cohere/Voyage rerank endpoint shape: POST a
// query plus a document list, get back relevance scores aligned by index.
type HTTPReranker struct {
	Endpoint string
	APIKey   string
	Provider string
	Timeout  time.Duration
	Client   *http.Client
}

func NewHTTPReranker(provider, endpoint, apiKey string, timeoutMs int) *HTTPReranker {
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}
	timeout := time.Duration(timeoutMs) * time.Millisecond
	return &HTTPReranker{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Provider: provider,
		Timeout:  timeout,
		Client:   &http.Client{Timeout: timeout},
	}
}

func (r *HTTPReranker) ProviderName() string { return r.Provider }

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank calls the configured endpoint within r.Timeout; the hybrid
// pipeline catches a context.DeadlineExceeded here and falls back to the
// local lexical reranker, setting rerank_fallback=true in metadata.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, docs []string, limit int) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	body, err := json.Marshal(rerankRequest{Query: query, Documents: docs, TopN: limit})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.APIKey)
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s rerank: %w", r.Provider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s rerank: status %d", r.Provider, resp.StatusCode)
	}
	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s rerank: decode: %w", r.Provider, err)
	}
	scores := make([]float64, len(docs))
	for _, res := range out.Results {
		if res.Index >= 0 && res.Index < len(scores) {
			scores[res.Index] = res.RelevanceScore
		}
	}
	return scores, nil
}
