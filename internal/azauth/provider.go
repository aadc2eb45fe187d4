// Package azauth acquires and caches Azure AD access tokens for service
// principals using the OAuth2 client-credentials grant.
package azauth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/microsoft"
)

// Scopes requested from the identity authority.
const (
	StorageScope  = "https://storage.azure.com/.default"
	DatalakeScope = "https://datalake.azure.net//.default"
)

// DefaultAuthority is the public-cloud Azure AD host.
const DefaultAuthority = "https://login.microsoftonline.com"

// expiryMargin is subtracted from the session expiry so a token is never
// handed out moments before the service would reject it.
const expiryMargin = 10 * time.Second

// Credentials identify a service principal. They are immutable after
// construction and never logged.
type Credentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
}

// Complete reports whether all three fields are set, i.e. whether a
// refresh can be attempted.
func (c Credentials) Complete() bool {
	return c.TenantID != "" && c.ClientID != "" && c.ClientSecret != ""
}

// LogValue keeps the secret out of structured logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("tenant_id", c.TenantID),
		slog.String("client_id", c.ClientID),
	)
}

// Session is the short-lived result of a credential exchange. A zero Expiry
// means the expiry is unknown locally and the token is used until the
// service rejects it.
type Session struct {
	AccessToken string
	TokenType   string
	Expiry      time.Time
}

func (s *Session) validAt(now time.Time) bool {
	if s == nil || s.AccessToken == "" {
		return false
	}

	if s.Expiry.IsZero() {
		return true
	}

	return now.Before(s.Expiry.Add(-expiryMargin))
}

// State is the externally observable session state of a Provider.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Option configures a Provider.
type Option func(*Provider)

// WithAuthority overrides the identity authority host, for sovereign clouds
// and tests. The token URL becomes <authority>/<tenant>/oauth2/v2.0/token.
func WithAuthority(authority string) Option {
	return func(p *Provider) {
		p.authority = strings.TrimRight(authority, "/")
	}
}

// WithScope overrides the requested scope (StorageScope by default).
func WithScope(scope string) Option {
	return func(p *Provider) {
		p.scope = scope
	}
}

// WithHTTPClient sets the client used for the credential exchange.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock replaces time.Now for expiry bookkeeping. Tests use it to
// simulate token expiry.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithSession seeds the provider with a pre-fetched token so construction
// does not need a credential exchange.
func WithSession(s Session) Option {
	return func(p *Provider) {
		if s.AccessToken == "" {
			return
		}

		if s.TokenType == "" {
			s.TokenType = "Bearer"
		}

		p.session = &s
	}
}

// Provider hands out access tokens, refreshing them through the
// client-credentials grant when absent or expired. It is safe for
// concurrent use: the check-then-refresh sequence runs under a mutex, so
// concurrent callers never trigger overlapping refreshes.
type Provider struct {
	creds      Credentials
	authority  string
	scope      string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	session *Session // nil while unauthenticated
}

// NewProvider creates a Provider. It performs no network I/O; call Refresh
// to authenticate eagerly.
func NewProvider(creds Credentials, opts ...Option) *Provider {
	p := &Provider{
		creds:     creds,
		authority: DefaultAuthority,
		scope:     StorageScope,
		logger:    slog.New(slog.DiscardHandler),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Credentials returns the service principal the provider authenticates as.
func (p *Provider) Credentials() Credentials {
	return p.creds
}

// Token returns a valid access token, refreshing first if needed.
func (p *Provider) Token(ctx context.Context) (string, error) {
	s, err := p.Session(ctx)
	if err != nil {
		return "", err
	}

	return s.AccessToken, nil
}

// Session returns a copy of the current session, refreshing first if the
// session is absent or expired.
func (p *Provider) Session(ctx context.Context) (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session.validAt(p.now()) {
		return *p.session, nil
	}

	return p.refreshLocked(ctx)
}

// Refresh unconditionally exchanges the credentials for a new token.
func (p *Provider) Refresh(ctx context.Context) (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.refreshLocked(ctx)
}

// Invalidate marks the current session expired after the service rejected
// its token, so the next Token call refreshes. Without complete credentials
// the session is left alone since nothing could replace it.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session == nil || !p.creds.Complete() {
		return
	}

	s := *p.session
	s.Expiry = p.now()
	p.session = &s

	p.logger.Debug("access token rejected, session marked expired",
		slog.String("tenant_id", p.creds.TenantID),
	)
}

// State reports the session state at the provider's current time.
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.session == nil:
		return StateUnauthenticated
	case p.session.validAt(p.now()):
		return StateAuthenticated
	default:
		return StateExpired
	}
}

func (p *Provider) refreshLocked(ctx context.Context) (Session, error) {
	if !p.creds.Complete() {
		p.session = nil
		return Session{}, &AuthenticationError{TenantID: p.creds.TenantID, Err: ErrIncompleteCredentials}
	}

	p.logger.Debug("requesting access token",
		slog.Any("principal", p.creds),
		slog.String("scope", p.scope),
	)

	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	issued := p.now()

	tok, err := p.oauthConfig().Token(ctx)
	if err != nil {
		p.session = nil
		authErr := newAuthenticationError(p.creds.TenantID, err)

		p.logger.Warn("access token request failed",
			slog.String("tenant_id", p.creds.TenantID),
			slog.Int("status", authErr.StatusCode),
			slog.String("error", err.Error()),
		)

		return Session{}, authErr
	}

	s := Session{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
	}

	if s.TokenType == "" {
		s.TokenType = "Bearer"
	}

	if lifetime := tokenLifetime(tok); lifetime > 0 {
		s.Expiry = issued.Add(lifetime)
	}

	p.session = &s

	p.logger.Info("access token acquired",
		slog.String("tenant_id", p.creds.TenantID),
		slog.Time("expiry", s.Expiry),
	)

	return s, nil
}

func (p *Provider) oauthConfig() *clientcredentials.Config {
	tokenURL := microsoft.AzureADEndpoint(p.creds.TenantID).TokenURL
	if p.authority != DefaultAuthority {
		tokenURL = p.authority + "/" + p.creds.TenantID + "/oauth2/v2.0/token"
	}

	return &clientcredentials.Config{
		ClientID:     p.creds.ClientID,
		ClientSecret: p.creds.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{p.scope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
}

// tokenLifetime prefers the wire expires_in value; the library's computed
// Expiry is measured against the real clock and only used as a fallback.
func tokenLifetime(tok *oauth2.Token) time.Duration {
	if tok.ExpiresIn > 0 {
		return time.Duration(tok.ExpiresIn) * time.Second
	}

	if !tok.Expiry.IsZero() {
		return time.Until(tok.Expiry)
	}

	return 0
}
