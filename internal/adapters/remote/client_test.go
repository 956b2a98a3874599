package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crisisguard/internal/allowlist"
	"crisisguard/internal/domain"
)

func TestClient_Fetch(t *testing.T) {
	doc := domain.AllowlistDocument{Allowlist: allowlist.Bundled()}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/allowlist", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}))
	defer srv.Close()

	got, err := New(srv.URL, time.Second).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, doc.Version, got.Version)
	assert.Len(t, got.Entries, len(doc.Entries))
}

func TestClient_FetchRejectsInvalidDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// second entry is bad; the whole document must be refused
		_, _ = io.WriteString(w, `{"version":"9","lastUpdated":"2026-10-18T00:00:00Z","entries":[
            {"id":"a","domain":"988lifeline.org","category":"suicide","name":"988"},
            {"id":"b","domain":"","category":"suicide","name":"blank"}]}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Fetch(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidAllowlist)
}

func TestClient_FetchErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":"rate_limited","message":"slow down","retryAfter":30}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Fetch(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.RateLimited())
	assert.Equal(t, "rate_limited", apiErr.Code)
	assert.Equal(t, 30*time.Second, apiErr.RetryAfter)
}

func TestClient_FetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	_, err := New(srv.URL, 50*time.Millisecond).Fetch(context.Background())
	assert.Error(t, err)
}

func TestClient_Send(t *testing.T) {
	var got domain.MatchLogRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/fuzzy-match-log", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	req := domain.MatchLogRequest{InputDomain: "988lifline.org", MatchedDomain: "988lifeline.org", Distance: 1, DeviceType: domain.DeviceWeb}
	require.NoError(t, New(srv.URL, time.Second).Send(context.Background(), req))
	assert.Equal(t, req, got)
}
