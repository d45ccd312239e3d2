package crisis

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchCrisis_CamelCase(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"severityLevel": 1, "intensityIndex": 87.5}`)
	c := NewClient(srv.URL)
	fixed := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	got, err := c.FetchCrisis(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Known)
	assert.Equal(t, 1, got.Level)
	assert.Equal(t, 87.5, got.Intensity)
	assert.Equal(t, fixed, got.UpdatedAt)
	assert.True(t, got.Severe())
}

func TestFetchCrisis_SnakeCaseAndTimestamp(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"severity_level": 4, "intensity_index": 12, "updatedAt": "2026-10-01T08:30:00Z"}`)

	got, err := NewClient(srv.URL).FetchCrisis(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, got.Level)
	assert.Equal(t, 12.0, got.Intensity)
	assert.Equal(t, time.Date(2026, 10, 1, 8, 30, 0, 0, time.UTC), got.UpdatedAt)
	assert.False(t, got.Severe())
}

func TestFetchCrisis_MissingLevel(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"intensityIndex": 50}`)

	_, err := NewClient(srv.URL).FetchCrisis(context.Background())
	assert.ErrorIs(t, err, errMissingLevel)
}

func TestFetchCrisis_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).FetchCrisis(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchCrisis_RetriesServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"severityLevel": 2, "intensityIndex": 40}`))
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL).FetchCrisis(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, got.Level)
	assert.Equal(t, int32(2), calls.Load())
}
