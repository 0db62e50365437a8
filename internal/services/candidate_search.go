// internal/services/candidate_search.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dropsight/dropsight-backend/internal/config"
	"github.com/dropsight/dropsight-backend/internal/models"
)

// HTTPCandidateSearcher queries the external candidate search service for
// listings similar to a failing product. The service owns its own retry and
// ranking behavior; this client only bounds the request and decodes the
// candidate list.
type HTTPCandidateSearcher struct {
	baseURL       string
	apiKey        string
	maxCandidates int
	client        *http.Client
}

type candidateSearchRequest struct {
	Title    string   `json:"title"`
	Category string   `json:"category"`
	Features []string `json:"features,omitempty"`
	Images   []string `json:"images,omitempty"`
	Limit    int      `json:"limit"`
}

type candidateSearchResponse struct {
	Candidates []Candidate `json:"candidates"`
}

func NewHTTPCandidateSearcher(cfg config.CandidateSearchConfig) *HTTPCandidateSearcher {
	return &HTTPCandidateSearcher{
		baseURL:       cfg.BaseURL,
		apiKey:        cfg.APIKey,
		maxCandidates: cfg.MaxCandidates,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

func (s *HTTPCandidateSearcher) Search(ctx context.Context, product *models.Product) ([]Candidate, error) {
	payload, err := json.Marshal(candidateSearchRequest{
		Title:    product.Title,
		Category: product.Category,
		Features: product.Features,
		Images:   product.Images,
		Limit:    s.maxCandidates,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("candidate search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("candidate search returned status %d", resp.StatusCode)
	}

	var decoded candidateSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	if len(decoded.Candidates) > s.maxCandidates {
		decoded.Candidates = decoded.Candidates[:s.maxCandidates]
	}

	return decoded.Candidates, nil
}
