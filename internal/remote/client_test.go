package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticToken is a test TokenSource that returns a fixed token.
type staticToken string

func (t staticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// failingToken is a test TokenSource that always returns an error.
type failingToken struct{}

func (failingToken) Token(context.Context) (string, error) {
	return "", errors.New("token error")
}

func newTestClient(srv *httptest.Server) *Client {
	defaults := http.Header{}
	defaults.Set("x-ms-version", "2019-02-02")

	return NewClient(srv.Client(), staticToken("test-token"), defaults, nil)
}

func TestCall_SendsAuthAndDefaultHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "2019-02-02", r.Header.Get("x-ms-version"))
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		assert.NotEmpty(t, r.Header.Get("x-ms-client-request-id"))
		assert.Equal(t, "filesystem", r.URL.Query().Get("resource"))
		assert.Equal(t, "false", r.URL.Query().Get("recursive"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := newTestClient(srv).Call(context.Background(), &Request{
		Method: http.MethodGet,
		URL:    srv.URL + "/container",
		Query:  url.Values{"resource": {"filesystem"}, "recursive": {"false"}},
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCall_RequestHeaderOverridesDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2021-06-08", r.Header.Get("x-ms-version"))
		assert.Equal(t, "bytes=0-9", r.Header.Get("Range"))
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer srv.Close()

	h := http.Header{}
	h.Set("x-ms-version", "2021-06-08")
	h.Set("Range", "bytes=0-9")

	resp, err := newTestClient(srv).Call(context.Background(), &Request{
		Method: http.MethodGet, URL: srv.URL + "/c/f", Header: h,
	})
	require.NoError(t, err)
	resp.Body.Close()
}

func TestCall_MergesQueryIntoExistingURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "OPEN", r.URL.Query().Get("op"))
		assert.Equal(t, "2018-09-01", r.URL.Query().Get("api-version"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := newTestClient(srv).Call(context.Background(), &Request{
		Method: http.MethodGet,
		URL:    srv.URL + "/webhdfs/v1/a?api-version=2018-09-01",
		Query:  url.Values{"op": {"OPEN"}},
	})
	require.NoError(t, err)
	resp.Body.Close()
}

func TestCall_NonSuccessStatusIsRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("x-ms-request-id", "req-123")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"PathNotFound","message":"The specified path does not exist."}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Call(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL + "/c/missing"})
	require.Error(t, err)

	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, http.StatusNotFound, remoteErr.StatusCode)
	assert.Equal(t, "PathNotFound", remoteErr.Code)
	assert.Equal(t, "The specified path does not exist.", remoteErr.Message)
	assert.Equal(t, "req-123", remoteErr.RequestID)
	assert.Contains(t, remoteErr.Body, "PathNotFound")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "req-123")
}

func TestCall_WebHDFSErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"RemoteException":{"exception":"AccessControlException","message":"denied"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Call(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL + "/x"})

	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "AccessControlException", remoteErr.Code)
	assert.Equal(t, "denied", remoteErr.Message)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCall_ErrorCodeHeaderWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("x-ms-error-code", "BlobNotFound")
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Call(context.Background(), &Request{Method: http.MethodHead, URL: srv.URL + "/x"})

	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "BlobNotFound", remoteErr.Code)
}

func TestCall_TransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	target := srv.URL
	srv.Close()

	c := NewClient(nil, staticToken("t"), nil, nil)

	_, err := c.Call(context.Background(), &Request{Method: http.MethodGet, URL: target + "/c?sig=secret"})
	require.Error(t, err)

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.MethodGet, netErr.Method)
	assert.NotContains(t, netErr.URL, "sig=secret")
	assert.False(t, netErr.Timeout())

	var remoteErr *RemoteError
	assert.False(t, errors.As(err, &remoteErr))
}

func TestCall_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(srv).Call(ctx, &Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCall_TokenFailurePropagates(t *testing.T) {
	var hits int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), failingToken{}, nil, nil)

	_, err := c.Call(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token error")
	assert.Zero(t, hits)
}

func TestCall_StreamsRequestBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, "hello", string(body))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	resp, err := newTestClient(srv).Call(context.Background(), &Request{
		Method: http.MethodPatch, URL: srv.URL + "/c/f", Body: strings.NewReader("hello"),
	})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestResponse_DecodeJSON(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		wantErr     error
	}{
		{"plain json", "application/json", nil},
		{"json with charset", "application/json; charset=utf-8", nil},
		{"text", "text/plain", ErrNotJSON},
		{"missing", "", ErrNotJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &Response{
				Header: http.Header{"Content-Type": {tt.contentType}},
				Body:   io.NopCloser(strings.NewReader(`{"paths":[]}`)),
			}

			var v map[string]any
			err := resp.DecodeJSON(&v)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Contains(t, v, "paths")
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusBadRequest, ErrBadRequest},
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusConflict, ErrConflict},
		{http.StatusPreconditionFailed, ErrPreconditionFailed},
		{http.StatusRequestedRangeNotSatisfiable, ErrRangeNotSatisfiable},
		{http.StatusTooManyRequests, ErrThrottled},
		{http.StatusServiceUnavailable, ErrServerError},
		{http.StatusTeapot, ErrUnexpectedStatus},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyStatus(tt.code), "status %d", tt.code)
	}
}
