package apollo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/truth-cli/internal/metrics"
	"github.com/sells-group/truth-cli/internal/resilience"
)

// testPolicy retries without sleeping and records every wait.
func testPolicy(waits *[]time.Duration) resilience.Policy {
	p := resilience.DefaultPolicy()
	p.Timeout = 2 * time.Second
	p.Sleep = func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return p
}

func TestMatchPeople_Success(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/people/bulk_match", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body peopleRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Details, 2)
		assert.Equal(t, "Jane", body.Details[0].FirstName)
		assert.Equal(t, "acme.com", body.Details[0].OrganizationDomain)
		assert.Equal(t, "Beta Labs", body.Details[1].OrganizationName)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"matches":[{"id":"p1","title":"CTO","organization":{"name":"Acme"}},null]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := c.MatchPeople(context.Background(), []PersonQuery{
		{FirstName: "Jane", LastName: "Doe", OrganizationDomain: "acme.com"},
		{FirstName: "Bob", OrganizationName: "Beta Labs"},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Found())
	assert.Equal(t, "CTO", got[0].Get("title").String())
	assert.Equal(t, "Acme", got[0].Get("organization.name").String())
	assert.False(t, got[1].Found())
}

func TestMatchPeople_ShortResponsePadded(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"matches":[{"id":"p1"}]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	got, err := c.MatchPeople(context.Background(), []PersonQuery{{FirstName: "A"}, {FirstName: "B"}, {FirstName: "C"}})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].Found())
	assert.False(t, got[2].Found())
}

func TestMatchPeople_BatchLimit(t *testing.T) {
	t.Parallel()
	c := NewClient("k", WithBaseURL("http://127.0.0.1:1"))
	_, err := c.MatchPeople(context.Background(), make([]PersonQuery, MaxBatchSize+1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds batch limit")
}

func TestEnrichOrganizations_Success(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/organizations/bulk_enrich", r.URL.Path)
		var body orgRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"acme.com", "beta.io"}, body.Domains)
		_, _ = w.Write([]byte(`{"organizations":[{"name":"Acme","founded_year":1999},{}]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	got, err := c.EnrichOrganizations(context.Background(), []string{"acme.com", "beta.io"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1999), got[0].Get("founded_year").Int())
	assert.False(t, got[1].Found())
}

func TestCall_RetryCeilingOn429(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	var waits []time.Duration
	m := metrics.New()
	c := NewClient("k", WithBaseURL(srv.URL), WithPolicy(testPolicy(&waits)), WithMetrics(m))

	_, err := c.EnrichOrganizations(context.Background(), []string{"acme.com"})
	require.Error(t, err)

	var exhausted *resilience.ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 5, exhausted.Attempts)
	assert.Equal(t, int32(5), calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, waits)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.APIRetries.WithLabelValues(EndpointOrgEnrich)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIRequests.WithLabelValues(EndpointOrgEnrich, "retryable")))
}

func TestCall_NoRetryOn401(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	var waits []time.Duration
	c := NewClient("bad", WithBaseURL(srv.URL), WithPolicy(testPolicy(&waits)))

	_, err := c.MatchPeople(context.Background(), []PersonQuery{{Email: "a@x.com"}})
	require.Error(t, err)

	var se *resilience.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, waits)
	assert.NotContains(t, err.Error(), "bad")
}

func TestCall_RecoversAfter503(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"matches":[{"name":"Acme"}]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	var waits []time.Duration
	c := NewClient("k", WithBaseURL(srv.URL), WithPolicy(testPolicy(&waits)))

	got, err := c.EnrichOrganizations(context.Background(), []string{"acme.com"})
	require.NoError(t, err)
	assert.Equal(t, "Acme", got[0].Get("name").String())
	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, waits, 2)
}

func TestCall_TimeoutGrowsAndRetries(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		_, _ = w.Write([]byte(`{"matches":[{"name":"Acme"}]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	var waits []time.Duration
	p := testPolicy(&waits)
	p.Timeout = 50 * time.Millisecond
	p.MaxTimeout = time.Second
	c := NewClient("k", WithBaseURL(srv.URL), WithPolicy(p))

	got, err := c.EnrichOrganizations(context.Background(), []string{"acme.com"})
	require.NoError(t, err)
	assert.True(t, got[0].Found())
	assert.Equal(t, int32(2), calls.Load())
}

func TestCall_InvalidJSONIsFatal(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`<html>oops</html>`)) //nolint:errcheck
	}))
	defer srv.Close()

	var waits []time.Duration
	c := NewClient("k", WithBaseURL(srv.URL), WithPolicy(testPolicy(&waits)))

	_, err := c.EnrichOrganizations(context.Background(), []string{"acme.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmptyInputSkipsCall(t *testing.T) {
	t.Parallel()
	c := NewClient("k", WithBaseURL("http://127.0.0.1:1"))

	got, err := c.MatchPeople(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = c.EnrichOrganizations(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}
