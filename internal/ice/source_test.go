package ice

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtcdoctor/internal/logging"
	pkgerrors "rtcdoctor/pkg/errors"
)

func fastFetcher() *Fetcher {
	return NewFetcher(FetcherConfig{UserAgent: "test", Timeout: time.Second, MaxRetries: 2, RetryDelay: time.Millisecond})
}

func TestDecodeJSON(t *testing.T) {
	body := `{"iceServers":[
		{"urls":"stun:stun.example.org"},
		{"urls":["turn:turn.example.com?transport=udp","turns:turn.example.com"],"username":"u","credential":"c"},
		{"urls":[]}
	]}`
	entries, err := NewDecoder().Decode([]byte(body))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, []string{"stun:stun.example.org"}, entries[0].URLs)
	assert.Len(t, entries[1].URLs, 2)
	assert.Equal(t, "u", entries[1].Username)
}

func TestDecodePlainAndBase64(t *testing.T) {
	plain := "# servers\nstun:a.example.org\n\nhttp://ignored\nturn:b.example.org\n"
	entries, err := NewDecoder().Decode([]byte(plain))
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	encoded := base64.StdEncoding.EncodeToString([]byte(plain))
	entries, err = NewDecoder().Decode([]byte(encoded))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestDecodeEmpty(t *testing.T) {
	_, err := NewDecoder().Decode([]byte("   "))
	assert.ErrorIs(t, err, pkgerrors.ErrServerListEmpty)

	_, err = NewDecoder().Decode([]byte(`{"iceServers":[]}`))
	assert.ErrorIs(t, err, pkgerrors.ErrServerListEmpty)

	_, err = NewDecoder().Decode([]byte(`{"iceServers":`))
	assert.ErrorIs(t, err, pkgerrors.ErrServerDecodeFailed)
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("stun:stun.example.org"))
	}))
	defer srv.Close()

	body, err := fastFetcher().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "stun:stun.example.org", string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := fastFetcher().Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrServerFetchFailed)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusForbidden, httpErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSourceResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"iceServers":[{"urls":"turn:relay.example.com","username":"remote","credential":"pw"}]}`))
	}))
	defer srv.Close()

	source := &Source{
		Static:     []string{"stun:stun.example.org", "turn:static.example.com"},
		Username:   "local",
		Credential: "x",
		ListURL:    srv.URL,
		Fetcher:    fastFetcher(),
		Logger:     logging.Discard(),
	}
	servers, err := source.Resolve(context.Background())
	require.NoError(t, err)
	require.Len(t, servers, 3)
	assert.Equal(t, "local", servers[1].Username)
	assert.Equal(t, "remote", servers[2].Username)
}

func TestSourceResolveFallsBackToStatic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	source := &Source{Static: []string{"stun:stun.example.org"}, ListURL: srv.URL, Fetcher: fastFetcher(), Logger: logging.Discard()}
	servers, err := source.Resolve(context.Background())
	require.NoError(t, err)
	assert.Len(t, servers, 1)

	source.Static = nil
	_, err = source.Resolve(context.Background())
	assert.ErrorIs(t, err, pkgerrors.ErrServerFetchFailed)
}

func TestSourceResolveEmpty(t *testing.T) {
	_, err := (&Source{}).Resolve(context.Background())
	assert.ErrorIs(t, err, pkgerrors.ErrServerListEmpty)
}
