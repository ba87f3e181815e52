package forge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sponsorscope/pkg/config"
	errs "sponsorscope/pkg/errors"
	"sponsorscope/pkg/logger"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(&config.ForgeConfig{
		BaseURL:        server.URL,
		Token:          "test-token",
		UserAgent:      "sponsorscope-test",
		RequestTimeout: 5 * time.Second,
	}, nil, logger.NewNopLogger())

	return client, server
}

func TestFetchProfile(t *testing.T) {
	var gotAuth, gotAgent string
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("User-Agent")

		assert.Equal(t, "/users/alice", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": 42,
			"login": "alice",
			"name": "Alice Example",
			"type": "User",
			"bio": "maintainer",
			"location": "Berlin",
			"hireable": true,
			"followers": 120,
			"created_at": "2015-03-01T12:00:00Z"
		}`))
	}))

	profile, err := client.FetchProfile(context.Background(), "alice")
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "sponsorscope-test", gotAgent)
	assert.Equal(t, int64(42), profile.ID)
	assert.Equal(t, "alice", profile.Login)
	assert.Equal(t, "User", profile.Type)
	assert.True(t, profile.Hireable)
	assert.Equal(t, 2015, profile.CreatedAt.Year())
}

func TestFetchProfileNotFound(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.FetchProfile(context.Background(), "ghost")
	require.Error(t, err)

	var apiErr *errs.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errs.ErrorTypeNotFound, apiErr.Type)
	assert.False(t, errs.IsRetryable(apiErr.Type))
}

func TestFetchProfileAuthFailure(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.FetchProfile(context.Background(), "alice")
	require.Error(t, err)

	var apiErr *errs.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errs.ErrorTypeAuth, apiErr.Type)
}

func TestFetchProfileRateLimited(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.FetchProfile(context.Background(), "alice")
	require.Error(t, err)

	var apiErr *errs.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errs.ErrorTypeRateLimit, apiErr.Type)
	assert.True(t, errs.IsRetryable(apiErr.Type))
}

func TestFetchFollowersPagination(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/alice/followers", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("page"))
		assert.Equal(t, "2", r.URL.Query().Get("per_page"))

		w.Write([]byte(`[{"id":1,"login":"bob","type":"User"},{"id":2,"login":"carol","type":"User"}]`))
	}))

	followers, err := client.FetchFollowers(context.Background(), "alice", 3, 2)
	require.NoError(t, err)
	require.Len(t, followers, 2)
	assert.Equal(t, "bob", followers[0].Login)
	assert.Equal(t, "carol", followers[1].Login)
}

func TestFetchSponsors(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/alice/sponsors", r.URL.Path)
		w.Write([]byte(`{
			"login": "alice",
			"total_count": 5,
			"private_count": 2,
			"min_tier_cost": 5,
			"sponsors": [{"id":1,"login":"bob","type":"User"}],
			"has_next": false
		}`))
	}))

	listing, err := client.FetchSponsors(context.Background(), "alice", 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 5, listing.TotalCount)
	assert.Equal(t, 2, listing.PrivateCount)
	assert.Equal(t, 5.0, listing.MinTierCost)
	assert.False(t, listing.HasNext)
	require.Len(t, listing.Sponsors, 1)
}

func TestFetchYearActivity(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/alice/activity", r.URL.Path)
		assert.Equal(t, "2024", r.URL.Query().Get("year"))
		w.Write([]byte(`{"login":"alice","year":2024,"commits":900,"issues":120,"pull_requests":200,"reviews":67,"contributions":1287}`))
	}))

	activity, err := client.FetchYearActivity(context.Background(), "alice", 2024)
	require.NoError(t, err)
	assert.Equal(t, 900, activity.Commits)
	assert.Equal(t, 120, activity.Issues)
	assert.Equal(t, 200, activity.PullRequests)
	assert.Equal(t, 67, activity.Reviews)
	assert.Equal(t, 1287, activity.Contributions)
}

func TestGetJSONParsingError(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	}))

	_, err := client.FetchProfile(context.Background(), "alice")
	require.Error(t, err)

	var apiErr *errs.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errs.ErrorTypeParsing, apiErr.Type)
}

func TestRequestContextCancellation(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.FetchProfile(ctx, "alice")
	require.Error(t, err)

	var apiErr *errs.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errs.ErrorTypeNetwork, apiErr.Type)
}
