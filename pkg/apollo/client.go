// Package apollo provides a client for the Apollo people and organization
// enrichment API.
package apollo

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/sells-group/truth-cli/internal/metrics"
	"github.com/sells-group/truth-cli/internal/resilience"
)

// MaxBatchSize is the most details or domains Apollo accepts per bulk call.
const MaxBatchSize = 10

// Endpoint names, used in logs and metrics.
const (
	EndpointPeopleMatch = "people_bulk_match"
	EndpointOrgEnrich   = "organizations_bulk_enrich"
)

// Client defines the Apollo bulk operations. Both return one Match per input,
// in input order; unmatched inputs yield a Match whose Found is false.
type Client interface {
	// MatchPeople calls /people/bulk_match.
	MatchPeople(ctx context.Context, people []PersonQuery) ([]Match, error)
	// EnrichOrganizations calls /organizations/bulk_enrich.
	EnrichOrganizations(ctx context.Context, domains []string) ([]Match, error)
}

// PersonQuery is one entry in a people match request.
type PersonQuery struct {
	FirstName          string `json:"first_name,omitempty"`
	LastName           string `json:"last_name,omitempty"`
	OrganizationDomain string `json:"organization_domain,omitempty"`
	OrganizationName   string `json:"organization_name,omitempty"`
	Email              string `json:"email,omitempty"`
}

// Match is one matched person or organization payload.
type Match struct {
	gjson.Result
}

// Found reports whether Apollo returned a non-empty object.
func (m Match) Found() bool {
	return m.IsObject() && len(m.Map()) > 0
}

// Option configures the Apollo client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithPolicy sets the retry policy applied to every call.
func WithPolicy(p resilience.Policy) Option {
	return func(c *httpClient) {
		c.policy = p
	}
}

// WithMetrics records call outcomes and retries.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *httpClient) {
		c.metrics = m
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	policy  resilience.Policy
	metrics *metrics.Metrics
}

// NewClient creates a new Apollo client. Request deadlines come from the
// retry policy's per-attempt timeout.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.apollo.io/api/v1",
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		policy: resilience.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type peopleRequest struct {
	Details []PersonQuery `json:"details"`
}

type orgRequest struct {
	Domains []string `json:"domains"`
}

func (c *httpClient) MatchPeople(ctx context.Context, people []PersonQuery) ([]Match, error) {
	if len(people) == 0 {
		return nil, nil
	}
	if len(people) > MaxBatchSize {
		return nil, eris.Errorf("apollo: %d people exceeds batch limit %d", len(people), MaxBatchSize)
	}
	body, err := c.call(ctx, EndpointPeopleMatch, "/people/bulk_match", peopleRequest{Details: people})
	if err != nil {
		return nil, err
	}
	return matches(body, len(people), "matches"), nil
}

func (c *httpClient) EnrichOrganizations(ctx context.Context, domains []string) ([]Match, error) {
	if len(domains) == 0 {
		return nil, nil
	}
	if len(domains) > MaxBatchSize {
		return nil, eris.Errorf("apollo: %d domains exceeds batch limit %d", len(domains), MaxBatchSize)
	}
	body, err := c.call(ctx, EndpointOrgEnrich, "/organizations/bulk_enrich", orgRequest{Domains: domains})
	if err != nil {
		return nil, err
	}
	return matches(body, len(domains), "matches", "organizations"), nil
}

// call POSTs payload under the retry policy and returns the response body.
func (c *httpClient) call(ctx context.Context, endpoint, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "apollo: marshal request")
	}

	policy := c.policy
	logRetry := resilience.RetryLogger("apollo", endpoint)
	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		c.metrics.RecordRetry(endpoint)
		logRetry(attempt, wait, err)
		if onRetry != nil {
			onRetry(attempt, wait, err)
		}
	}

	start := time.Now()
	body, err := resilience.Execute(ctx, policy, func(ctx context.Context) ([]byte, error) {
		return c.post(ctx, path, data)
	})
	outcome := resilience.Success
	if err != nil {
		outcome = resilience.Classify(err)
	}
	c.metrics.RecordAPICall(endpoint, outcome.String(), time.Since(start))
	if err != nil {
		return nil, eris.Wrapf(err, "apollo: %s", endpoint)
	}
	return body, nil
}

// post performs one attempt.
func (c *httpClient) post(ctx context.Context, path string, data []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrap(err, "apollo: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "apollo: read response body"))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &resilience.StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}
	if !gjson.ValidBytes(body) {
		return nil, eris.New("apollo: response is not valid JSON")
	}
	return body, nil
}

// matches aligns the response array with the request by index. The first
// present key among keys is used.
func matches(body []byte, n int, keys ...string) []Match {
	var arr gjson.Result
	for _, k := range keys {
		if arr = gjson.GetBytes(body, k); arr.IsArray() {
			break
		}
	}
	out := make([]Match, n)
	if !arr.IsArray() {
		return out
	}
	for i, m := range arr.Array() {
		if i >= n {
			break
		}
		out[i] = Match{Result: m}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
