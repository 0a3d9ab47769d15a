package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/arbiterhq/arbiter/internal/domain"
)

const defaultSearchTimeout = 15 * time.Second

// SearchRetriever fetches evidence from an external news search service.
// The service is expected to expose GET /search?q=...&limit=... returning a
// JSON array of articles.
type SearchRetriever struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ domain.EvidenceRetriever = (*SearchRetriever)(nil)

func NewSearchRetriever(baseURL, apiKey string) *SearchRetriever {
	return &SearchRetriever{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultSearchTimeout},
	}
}

type searchArticle struct {
	URL         string    `json:"url"`
	Domain      string    `json:"domain"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	PublishedAt time.Time `json:"published_at"`
	SourceType  string    `json:"source_type"`
	Credibility float64   `json:"credibility"`
}

type searchResponse struct {
	Articles []searchArticle `json:"articles"`
}

func (r *SearchRetriever) Retrieve(ctx context.Context, question string, maxSources int) (*domain.EvidenceCorpus, error) {
	q := url.Values{}
	q.Set("q", question)
	if maxSources > 0 {
		q.Set("limit", strconv.Itoa(maxSources))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search service returned status %d", resp.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	sources := make([]domain.EvidenceSource, 0, len(body.Articles))
	for _, a := range body.Articles {
		if a.URL == "" {
			continue
		}
		d := a.Domain
		if d == "" {
			d = domainFromURL(a.URL)
		}
		sources = append(sources, domain.EvidenceSource{
			ID:               uuid.New(),
			URL:              a.URL,
			Domain:           d,
			Title:            a.Title,
			Content:          a.Content,
			PublishedAt:      a.PublishedAt,
			SourceType:       sourceTypeFromString(a.SourceType),
			CredibilityScore: a.Credibility,
		})
	}

	return &domain.EvidenceCorpus{
		Sources:     sources,
		RetrievedAt: time.Now(),
	}, nil
}

func domainFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func sourceTypeFromString(s string) domain.SourceType {
	switch domain.SourceType(s) {
	case domain.SourceTypeGovernment, domain.SourceTypeNewsWire, domain.SourceTypePress,
		domain.SourceTypeSocial, domain.SourceTypeAggregator:
		return domain.SourceType(s)
	}
	return domain.SourceTypeOther
}
