package matching

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Candidate is the best retrieval hit for a query: an answer text, the
// condition it belongs to, and an opaque similarity score in [0,1].
type Candidate struct {
	Answer        string  `json:"answer"`
	ConditionID   string  `json:"condition_id"`
	ConditionName string  `json:"condition_name"`
	Score         float64 `json:"score"`
}

// Matcher is the port to the external matching/retrieval engine. BestMatch
// returns (nil, nil) when the engine has no candidate for the query.
type Matcher interface {
	BestMatch(ctx context.Context, query, conditionID string) (*Candidate, error)
}

type disabledMatcher struct{}

func (disabledMatcher) BestMatch(context.Context, string, string) (*Candidate, error) {
	return nil, nil
}

// Disabled returns a matcher that never produces a candidate, routing every
// query to the fallback path. Used when no engine is configured.
func Disabled() Matcher {
	return disabledMatcher{}
}

// HTTPMatcher calls a retrieval engine over HTTP.
type HTTPMatcher struct {
	baseURL string
	client  *http.Client
}

// NewHTTPMatcher builds a matcher client with retries for transient failures.
func NewHTTPMatcher(baseURL string) *HTTPMatcher {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = nil

	client := retryClient.StandardClient()
	client.Timeout = 30 * time.Second

	return &HTTPMatcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (m *HTTPMatcher) BestMatch(ctx context.Context, query, conditionID string) (*Candidate, error) {
	reqBody, err := json.Marshal(map[string]string{
		"query":        query,
		"condition_id": conditionID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/search", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("matcher http error: status=%d", resp.StatusCode)
	}

	var sr searchResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return sr.Candidate, nil
}

type searchResponse struct {
	Candidate *Candidate `json:"candidate"`
}
