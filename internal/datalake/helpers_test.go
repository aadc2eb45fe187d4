package datalake

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

const testTenant = "tenant-1"

// fakeAzure serves the identity authority and a storage endpoint from one
// httptest server. Storage requests go to the handler set by the test.
type fakeAzure struct {
	*httptest.Server
	tokenCalls atomic.Int32

	mu       sync.Mutex
	requests []*http.Request
	storage  http.HandlerFunc
}

func newFakeAzure(t *testing.T, storage http.HandlerFunc) *fakeAzure {
	t.Helper()

	f := &fakeAzure{storage: storage}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/"+testTenant+"/oauth2/v2.0/token" {
			n := f.tokenCalls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"token_type":"Bearer","access_token":"T%d","expires_in":3600}`, n)

			return
		}

		f.mu.Lock()
		f.requests = append(f.requests, r.Clone(context.Background()))
		f.mu.Unlock()

		f.storage(w, r)
	}))
	t.Cleanup(f.Close)

	return f
}

// storageRequests returns the storage requests seen so far.
func (f *fakeAzure) storageRequests() []*http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*http.Request(nil), f.requests...)
}

func (f *fakeAzure) config(account string) Config {
	return Config{
		TenantID:     testTenant,
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		Account:      account,
		Endpoint:     f.URL,
		AuthorityURL: f.URL,
	}
}

func (f *fakeAzure) options() Options {
	return Options{HTTPClient: f.Client()}
}

func newTestGen2(t *testing.T, f *fakeAzure) *Gen2 {
	t.Helper()

	g, err := NewGen2(context.Background(), f.config("acct"), f.options())
	require.NoError(t, err)

	return g
}

func newTestGen1(t *testing.T, f *fakeAzure) *Gen1 {
	t.Helper()

	g, err := NewGen1(context.Background(), f.config("store"), f.options())
	require.NoError(t, err)

	return g
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("x-ms-request-id", "req-404")
	writeJSON(w, http.StatusNotFound, `{"error":{"code":"PathNotFound","message":"The specified path does not exist."}}`)
}

// parseRange parses "bytes=a-b".
func parseRange(t *testing.T, h string) (start, end int) {
	t.Helper()

	rng, ok := strings.CutPrefix(h, "bytes=")
	require.True(t, ok, "range header %q", h)

	_, err := fmt.Sscanf(rng, "%d-%d", &start, &end)
	require.NoError(t, err)

	return start, end
}
