package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const (
	userAgent = "adlfs/0.1"

	// maxErrorBody caps how much of an error response is kept in a RemoteError.
	maxErrorBody = 64 * 1024

	headerRequestID       = "x-ms-request-id"
	headerClientRequestID = "x-ms-client-request-id"
	headerErrorCode       = "x-ms-error-code"
)

// TokenSource provides bearer tokens. Defined at the consumer so the
// credential provider stays an injected collaborator.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Request describes one call. Query values are merged into any query string
// already present in URL; Header values override the client defaults.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Query  url.Values
	Body   io.Reader
}

// Response is a successful (2xx) reply. The caller must close Body.
type Response struct {
	StatusCode    int
	Header        http.Header
	ContentLength int64
	Body          io.ReadCloser
}

// IsJSON reports whether the Content-Type declares a JSON payload.
func (r *Response) IsJSON() bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}

	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// DecodeJSON decodes the body into v when the content type indicates JSON.
// It does not close the body.
func (r *Response) DecodeJSON(v any) error {
	if !r.IsJSON() {
		return fmt.Errorf("%w: content type %q", ErrNotJSON, r.Header.Get("Content-Type"))
	}

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("remote: decoding response: %w", err)
	}

	return nil
}

// Client executes requests with authentication and default headers. It does
// not retry: every failure goes straight back to the caller.
type Client struct {
	httpClient *http.Client
	token      TokenSource
	header     http.Header
	logger     *slog.Logger
}

// NewClient creates a Client. defaults are sent on every request (for
// example x-ms-version); token may be nil for pre-authenticated URLs.
func NewClient(httpClient *http.Client, token TokenSource, defaults http.Header, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	header := defaults.Clone()
	if header == nil {
		header = make(http.Header)
	}

	if header.Get("User-Agent") == "" {
		header.Set("User-Agent", userAgent)
	}

	return &Client{
		httpClient: httpClient,
		token:      token,
		header:     header,
		logger:     logger,
	}
}

// Call executes req once. Transport failures come back as *NetworkError,
// non-2xx responses as *RemoteError, token failures unchanged.
func (c *Client) Call(ctx context.Context, req *Request) (*Response, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("remote: parsing URL %q: %w", req.URL, err)
	}

	if len(req.Query) > 0 {
		q := u.Query()
		for k, vs := range req.Query {
			q[k] = vs
		}

		u.RawQuery = q.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), req.Body)
	if err != nil {
		return nil, fmt.Errorf("remote: creating request: %w", err)
	}

	for k, vs := range c.header {
		httpReq.Header[k] = vs
	}

	for k, vs := range req.Header {
		httpReq.Header[http.CanonicalHeaderKey(k)] = vs
	}

	if c.token != nil {
		tok, tokErr := c.token.Token(ctx)
		if tokErr != nil {
			return nil, fmt.Errorf("remote: obtaining token: %w", tokErr)
		}

		httpReq.Header.Set("Authorization", "Bearer "+tok)
	}

	clientRequestID := uuid.NewString()
	httpReq.Header.Set(headerClientRequestID, clientRequestID)

	// The query string is left out of logs and errors; paths are enough to debug.
	target := u.Scheme + "://" + u.Host + u.EscapedPath()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Debug("request failed in transport",
			slog.String("method", req.Method),
			slog.String("url", target),
			slog.String("client_request_id", clientRequestID),
			slog.String("error", err.Error()),
		)

		return nil, &NetworkError{Method: req.Method, URL: target, Err: err}
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		c.logger.Debug("request succeeded",
			slog.String("method", req.Method),
			slog.String("url", target),
			slog.Int("status", resp.StatusCode),
		)

		return &Response{
			StatusCode:    resp.StatusCode,
			Header:        resp.Header,
			ContentLength: resp.ContentLength,
			Body:          resp.Body,
		}, nil
	}

	return nil, c.remoteError(req.Method, target, resp)
}

// remoteError reads and closes the body of a non-2xx response.
func (c *Client) remoteError(method, target string, resp *http.Response) error {
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if readErr != nil {
		body = []byte("(failed to read response body)")
	}

	code, message := parseErrorBody(body)
	if code == "" {
		code = resp.Header.Get(headerErrorCode)
	}

	remoteErr := &RemoteError{
		StatusCode: resp.StatusCode,
		Code:       code,
		Message:    message,
		RequestID:  resp.Header.Get(headerRequestID),
		Body:       string(body),
		Err:        classifyStatus(resp.StatusCode),
	}

	c.logger.Debug("request rejected",
		slog.String("method", method),
		slog.String("url", target),
		slog.Int("status", resp.StatusCode),
		slog.String("code", code),
		slog.String("request_id", remoteErr.RequestID),
	)

	return remoteErr
}
