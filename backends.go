package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/adlfs/internal/datalake"
	"github.com/tonimelisma/adlfs/internal/storepath"
)

// backend ties a URI scheme to the adapter generation serving it.
type backend struct {
	shape storepath.Shape
	kind  datalake.Kind
}

// backends is the scheme registry. Adding a scheme here makes both the path
// resolver and kind inference aware of it.
var backends = map[string]backend{
	"adl":   {shape: storepath.ShapeHostContainer, kind: datalake.KindGen1},
	"abfs":  {shape: storepath.ShapeContainerAtAccount, kind: datalake.KindGen2},
	"abfss": {shape: storepath.ShapeContainerAtAccount, kind: datalake.KindGen2},
}

// bareKind serves scheme-less paths when the store does not name a kind.
const bareKind = datalake.KindGen2

func newResolver() *storepath.Resolver {
	schemes := make([]storepath.Scheme, 0, len(backends))
	for name, b := range backends {
		schemes = append(schemes, storepath.Scheme{Name: name, Shape: b.shape})
	}

	return storepath.NewResolver(schemes...)
}

// storeKind picks the adapter generation. An explicit kind in the config
// wins; otherwise the scheme of path decides.
func storeKind(r *storepath.Resolver, configured, path string) (datalake.Kind, error) {
	if configured != "" {
		return datalake.ParseKind(configured)
	}

	loc, err := r.Resolve(path)
	if err != nil {
		return "", err
	}

	if loc.Scheme == "" {
		return bareKind, nil
	}

	return backends[loc.Scheme].kind, nil
}

// openAdapter connects to the resolved store. path is the first path the
// command operates on and drives kind inference.
func openAdapter(ctx context.Context, path string) (datalake.Adapter, error) {
	rs := resolvedCfg
	resolver := newResolver()

	kind, err := storeKind(resolver, rs.Kind, path)
	if err != nil {
		return nil, err
	}

	logger := buildLogger()

	a, err := datalake.New(ctx, kind, datalake.Config{
		TenantID:     rs.TenantID,
		ClientID:     rs.ClientID,
		ClientSecret: rs.ClientSecret,
		Token:        rs.Token,
		Account:      rs.Account,
		DNSSuffix:    rs.DNSSuffix,
		Endpoint:     rs.Endpoint,
		Container:    rs.Container,
		AuthorityURL: rs.Authority,
		BlockSize:    int(rs.BlockSizeBytes),
	}, datalake.Options{
		HTTPClient: newHTTPClient(rs.Network),
		Logger:     logger,
		Resolver:   resolver,
	})
	if err != nil {
		return nil, fmt.Errorf("opening store %q: %w", rs.Name, err)
	}

	logger.Debug("store opened", slog.String("store", rs.Name), slog.Any("adapter", a.Snapshot()))

	return a, nil
}
