// Package datalake implements the fsys.FileSystem contract over Azure
// Datalake storage: Gen2 through the DFS REST endpoint (abfs, abfss) and
// Gen1 through WebHDFS (adl). Each adapter composes a path resolver, a
// credential provider and a remote call executor.
package datalake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tonimelisma/adlfs/internal/azauth"
	"github.com/tonimelisma/adlfs/internal/fsys"
	"github.com/tonimelisma/adlfs/internal/remote"
	"github.com/tonimelisma/adlfs/internal/storepath"
)

// Kind selects the service generation an adapter talks to.
type Kind string

const (
	KindGen1 Kind = "gen1"
	KindGen2 Kind = "gen2"
)

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindGen1, KindGen2:
		return k, nil
	default:
		return "", fmt.Errorf("datalake: unknown kind %q (want %q or %q)", s, KindGen1, KindGen2)
	}
}

// ErrMissingAccount is returned when neither an account nor an endpoint is configured.
var ErrMissingAccount = errors.New("datalake: account or endpoint is required")

// Config is the durable configuration of an adapter.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	// Account is the storage account (Gen2) or store name (Gen1).
	Account   string
	DNSSuffix string // defaults per kind
	Scheme    string // "https" unless set
	// Endpoint replaces the derived <scheme>://<account>.<dns-suffix> base URL.
	Endpoint string
	// Container pins bare paths to one container (Gen2 only).
	Container string

	// Token is an optional pre-fetched access token; when set, construction
	// skips the credential exchange. A zero TokenExpiry means unknown.
	Token       string
	TokenExpiry time.Time

	AuthorityURL string
	BlockSize    int
}

// Options carries the runtime collaborators. All fields are optional.
type Options struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	Resolver   PathResolver
	// Credentials replaces the provider built from Config.
	Credentials CredentialProvider
	Clock       func() time.Time
}

// PathResolver turns raw paths into locations.
type PathResolver interface {
	Resolve(raw string) (storepath.Location, error)
}

// Caller executes one remote call.
type Caller interface {
	Call(ctx context.Context, req *remote.Request) (*remote.Response, error)
}

// CredentialProvider hands out access tokens and owns the session.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (azauth.Session, error)
	State() azauth.State
}

// Adapter is a FileSystem that can describe and report on itself.
type Adapter interface {
	fsys.FileSystem
	Kind() Kind
	Snapshot() Snapshot
	State() azauth.State
}

// New constructs the adapter for kind.
func New(ctx context.Context, kind Kind, cfg Config, opts Options) (Adapter, error) {
	switch kind {
	case KindGen1:
		return NewGen1(ctx, cfg, opts)
	case KindGen2:
		return NewGen2(ctx, cfg, opts)
	default:
		return nil, fmt.Errorf("datalake: unknown kind %q", kind)
	}
}

// base holds what both generations share. Gen1 and Gen2 embed it.
type base struct {
	kind       Kind
	cfg        Config
	endpoint   string
	resolver   PathResolver
	creds      CredentialProvider
	caller     Caller
	httpClient *http.Client
	logger     *slog.Logger
}

func newBase(ctx context.Context, kind Kind, cfg Config, opts Options, scope string, header http.Header) (*base, error) {
	if cfg.Account == "" && cfg.Endpoint == "" {
		return nil, ErrMissingAccount
	}

	if cfg.Scheme == "" {
		cfg.Scheme = "https"
	}

	if cfg.BlockSize <= 0 {
		cfg.BlockSize = fsys.DefaultBlockSize
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	logger = logger.With(slog.String("kind", string(kind)), slog.String("account", cfg.Account))

	resolver := opts.Resolver
	if resolver == nil {
		resolver = storepath.DefaultResolver()
	}

	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = cfg.Scheme + "://" + cfg.Account + "." + cfg.DNSSuffix
	}

	b := &base{
		kind:       kind,
		cfg:        cfg,
		endpoint:   endpoint,
		resolver:   resolver,
		httpClient: httpClient,
		logger:     logger,
	}

	b.creds = opts.Credentials
	if b.creds == nil {
		b.creds = newProvider(cfg, opts, scope, httpClient, logger)
	}

	b.caller = remote.NewClient(httpClient, b.creds, header, logger)

	if cfg.Token == "" && opts.Credentials == nil {
		if _, err := b.creds.Refresh(ctx); err != nil {
			return nil, fmt.Errorf("datalake: authenticating: %w", err)
		}
	}

	logger.Debug("adapter ready", slog.String("endpoint", endpoint))

	return b, nil
}

func newProvider(cfg Config, opts Options, scope string, httpClient *http.Client, logger *slog.Logger) *azauth.Provider {
	popts := []azauth.Option{
		azauth.WithScope(scope),
		azauth.WithHTTPClient(httpClient),
		azauth.WithLogger(logger),
		azauth.WithClock(opts.Clock),
	}

	if cfg.AuthorityURL != "" {
		popts = append(popts, azauth.WithAuthority(cfg.AuthorityURL))
	}

	if cfg.Token != "" {
		popts = append(popts, azauth.WithSession(azauth.Session{
			AccessToken: cfg.Token,
			Expiry:      cfg.TokenExpiry,
		}))
	}

	return azauth.NewProvider(azauth.Credentials{
		TenantID:     cfg.TenantID,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	}, popts...)
}

// Kind reports the service generation.
func (b *base) Kind() Kind {
	return b.kind
}

// State reports the credential session state.
func (b *base) State() azauth.State {
	return b.creds.State()
}

// Close releases idle connections held by the transport.
func (b *base) Close() error {
	b.httpClient.CloseIdleConnections()

	return nil
}

// sessionInvalidator is implemented by providers that can drop a token the
// service has rejected.
type sessionInvalidator interface {
	Invalidate()
}

// call issues one request and maps 404 onto fsys.NotFoundError. A 401 is
// returned as is, but the session is invalidated so the next call
// re-authenticates.
func (b *base) call(ctx context.Context, path string, req *remote.Request) (*remote.Response, error) {
	resp, err := b.caller.Call(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, remote.ErrNotFound):
			return nil, &fsys.NotFoundError{Path: path}
		case errors.Is(err, remote.ErrUnauthorized):
			if inv, ok := b.creds.(sessionInvalidator); ok {
				inv.Invalidate()
			}
		}

		return nil, err
	}

	return resp, nil
}

// encodePathSegments URL-encodes each segment of a slash-separated path.
func encodePathSegments(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	return strings.Join(segments, "/")
}

func joinPath(dir, name string) string {
	switch {
	case dir == "":
		return name
	case name == "":
		return dir
	default:
		return dir + "/" + name
	}
}

// Snapshot is the durable, transferable state of an adapter. It carries
// credentials but never an access token: a rehydrated adapter always
// authenticates afresh.
type Snapshot struct {
	Kind         Kind   `json:"kind"`
	Account      string `json:"account,omitempty"`
	DNSSuffix    string `json:"dns_suffix,omitempty"`
	Scheme       string `json:"scheme,omitempty"`
	Endpoint     string `json:"endpoint,omitempty"`
	Container    string `json:"container,omitempty"`
	AuthorityURL string `json:"authority_url,omitempty"`
	BlockSize    int    `json:"block_size,omitempty"`
	TenantID     string `json:"tenant_id"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// LogValue keeps the secret out of structured logs.
func (s Snapshot) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("kind", string(s.Kind)),
		slog.String("account", s.Account),
		slog.String("tenant_id", s.TenantID),
		slog.String("client_id", s.ClientID),
	)
}

func (s Snapshot) config() Config {
	return Config{
		TenantID:     s.TenantID,
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		Account:      s.Account,
		DNSSuffix:    s.DNSSuffix,
		Scheme:       s.Scheme,
		Endpoint:     s.Endpoint,
		Container:    s.Container,
		AuthorityURL: s.AuthorityURL,
		BlockSize:    s.BlockSize,
	}
}

// Snapshot returns the adapter's durable configuration.
func (b *base) Snapshot() Snapshot {
	return Snapshot{
		Kind:         b.kind,
		Account:      b.cfg.Account,
		DNSSuffix:    b.cfg.DNSSuffix,
		Scheme:       b.cfg.Scheme,
		Endpoint:     b.cfg.Endpoint,
		Container:    b.cfg.Container,
		AuthorityURL: b.cfg.AuthorityURL,
		BlockSize:    b.cfg.BlockSize,
		TenantID:     b.cfg.TenantID,
		ClientID:     b.cfg.ClientID,
		ClientSecret: b.cfg.ClientSecret,
	}
}

// MarshalJSON serializes the adapter as its Snapshot.
func (b *base) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Snapshot())
}

// Rehydrate rebuilds an adapter from a Snapshot. The credential exchange
// runs again before the adapter is returned.
func Rehydrate(ctx context.Context, snap Snapshot, opts Options) (Adapter, error) {
	a, err := New(ctx, snap.Kind, snap.config(), opts)
	if err != nil {
		return nil, fmt.Errorf("datalake: rehydrating %s adapter: %w", snap.Kind, err)
	}

	return a, nil
}
