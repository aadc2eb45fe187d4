package datalake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tonimelisma/adlfs/internal/azauth"
	"github.com/tonimelisma/adlfs/internal/fsys"
	"github.com/tonimelisma/adlfs/internal/remote"
	"github.com/tonimelisma/adlfs/internal/storepath"
)

const (
	// Gen1DNSSuffix is the public-cloud Datalake store suffix.
	Gen1DNSSuffix = "azuredatalakestore.net"
	// gen1APIVersion is sent as the api-version query parameter.
	gen1APIVersion = "2018-09-01"

	webHDFSPrefix = "/webhdfs/v1"

	// gen1ListPage is the LISTSTATUS batch size; the service caps pages at 4000.
	gen1ListPage = 4000
)

// Gen1 serves adl URIs and bare paths through the store's WebHDFS endpoint.
// It is safe for concurrent use; handles returned by Open are not.
type Gen1 struct {
	*base
}

var _ Adapter = (*Gen1)(nil)

// NewGen1 creates a Gen1 adapter for the store named by cfg.Account and,
// unless cfg.Token is set, authenticates before returning.
func NewGen1(ctx context.Context, cfg Config, opts Options) (*Gen1, error) {
	if cfg.DNSSuffix == "" {
		cfg.DNSSuffix = Gen1DNSSuffix
	}

	b, err := newBase(ctx, KindGen1, cfg, opts, azauth.DatalakeScope, nil)
	if err != nil {
		return nil, err
	}

	return &Gen1{base: b}, nil
}

// gen1Target is a resolved store-relative path plus what is needed to
// render results back in the caller's form.
type gen1Target struct {
	loc  storepath.Location
	path string
	// hostDir is the adl host when it names a top-level directory rather
	// than the store.
	hostDir string
}

func (t gen1Target) display(rel string) string {
	if t.loc.Shape != storepath.ShapeHostContainer {
		return rel
	}

	if t.hostDir != "" {
		if rel == t.hostDir {
			rel = ""
		} else {
			rel = strings.TrimPrefix(rel, t.hostDir+"/")
		}
	}

	return t.loc.Scheme + "://" + joinPath(t.loc.Container, rel)
}

func (g *Gen1) resolve(raw string) (gen1Target, error) {
	loc, err := g.resolver.Resolve(raw)
	if err != nil {
		return gen1Target{}, err
	}

	switch loc.Shape {
	case storepath.ShapeBare:
		return gen1Target{loc: loc, path: loc.Path}, nil
	case storepath.ShapeHostContainer:
		if g.isStoreHost(loc.Container) {
			return gen1Target{loc: loc, path: loc.Path}, nil
		}

		// adl://folder/file addresses folder/file in the configured store.
		return gen1Target{loc: loc, path: joinPath(loc.Container, loc.Path), hostDir: loc.Container}, nil
	default:
		return gen1Target{}, &storepath.PathError{
			Path:   raw,
			Reason: fmt.Sprintf("scheme %q is not served by the gen1 adapter", loc.Scheme),
		}
	}
}

func (g *Gen1) isStoreHost(host string) bool {
	if g.cfg.Account == "" {
		return false
	}

	return strings.EqualFold(host, g.cfg.Account) ||
		strings.EqualFold(host, g.cfg.Account+"."+g.cfg.DNSSuffix)
}

func (g *Gen1) request(method, path, op string, extra url.Values) *remote.Request {
	q := url.Values{"op": {op}, "api-version": {gen1APIVersion}}
	for k, vs := range extra {
		q[k] = vs
	}

	return &remote.Request{
		Method: method,
		URL:    g.endpoint + webHDFSPrefix + "/" + encodePathSegments(path),
		Query:  q,
	}
}

// List returns store-relative entries under path. Recursive listings walk
// the tree depth-first, paging LISTSTATUS within each directory.
func (g *Gen1) List(ctx context.Context, path string, recursive bool) ([]fsys.Entry, error) {
	t, err := g.resolve(path)
	if err != nil {
		return nil, err
	}

	return g.list(ctx, t.path, recursive)
}

func (g *Gen1) list(ctx context.Context, dir string, recursive bool) ([]fsys.Entry, error) {
	statuses, err := g.listStatus(ctx, dir)
	if err != nil {
		return nil, err
	}

	entries := make([]fsys.Entry, 0, len(statuses))

	for i := range statuses {
		e := statuses[i].toEntry(joinPath(dir, statuses[i].PathSuffix))
		entries = append(entries, e)

		if recursive && e.IsDir && statuses[i].PathSuffix != "" {
			children, err := g.list(ctx, e.Path, true)
			if err != nil {
				return nil, err
			}

			entries = append(entries, children...)
		}
	}

	return entries, nil
}

// listStatus fetches every status in dir, gen1ListPage entries at a time.
// A page shorter than requested is the last one.
func (g *Gen1) listStatus(ctx context.Context, dir string) ([]fileStatus, error) {
	var (
		all   []fileStatus
		after string
		pages int
	)

	for {
		extra := url.Values{"listSize": {strconv.Itoa(gen1ListPage)}}
		if after != "" {
			extra.Set("listAfter", after)
		}

		resp, err := g.call(ctx, dir, g.request(http.MethodGet, dir, "LISTSTATUS", extra))
		if err != nil {
			return nil, err
		}

		var body listStatusResponse

		err = resp.DecodeJSON(&body)
		resp.Body.Close()

		if err != nil {
			return nil, fmt.Errorf("datalake: listing %s: %w", dir, err)
		}

		page := body.FileStatuses.FileStatus
		all = append(all, page...)
		pages++

		if len(page) < gen1ListPage || page[len(page)-1].PathSuffix == "" {
			break
		}

		after = page[len(page)-1].PathSuffix
	}

	g.logger.Debug("listed directory",
		slog.String("directory", dir),
		slog.Int("count", len(all)),
		slog.Int("pages", pages),
	)

	return all, nil
}

// Glob expands pattern. Matches are rendered in the pattern's addressing form.
func (g *Gen1) Glob(ctx context.Context, pattern string) ([]string, error) {
	t, err := g.resolve(pattern)
	if err != nil {
		return nil, err
	}

	if fsys.HasMeta(t.hostDir) {
		return nil, &storepath.PathError{Path: pattern, Reason: "wildcards are not supported in the host"}
	}

	matches, err := fsys.Glob(ctx, gen1Scope{g}, t.path)
	if err != nil {
		return nil, err
	}

	for i, m := range matches {
		matches[i] = t.display(m)
	}

	return matches, nil
}

type gen1Scope struct{ g *Gen1 }

func (s gen1Scope) List(ctx context.Context, dir string, recursive bool) ([]fsys.Entry, error) {
	return s.g.list(ctx, dir, recursive)
}

func (s gen1Scope) Info(ctx context.Context, path string) (fsys.Entry, error) {
	return s.g.info(ctx, path)
}

// Info describes one path.
func (g *Gen1) Info(ctx context.Context, path string) (fsys.Entry, error) {
	t, err := g.resolve(path)
	if err != nil {
		return fsys.Entry{}, err
	}

	return g.info(ctx, t.path)
}

func (g *Gen1) info(ctx context.Context, path string) (fsys.Entry, error) {
	resp, err := g.call(ctx, path, g.request(http.MethodGet, path, "GETFILESTATUS", nil))
	if err != nil {
		return fsys.Entry{}, err
	}
	defer resp.Body.Close()

	var body getFileStatusResponse
	if err := resp.DecodeJSON(&body); err != nil {
		return fsys.Entry{}, fmt.Errorf("datalake: stat %s: %w", path, err)
	}

	return body.FileStatus.toEntry(path), nil
}

// Size returns the length of the file at path.
func (g *Gen1) Size(ctx context.Context, path string) (int64, error) {
	e, err := g.Info(ctx, path)
	if err != nil {
		return 0, err
	}

	return e.Size, nil
}

// UniqueKey derives a staleness token from the modification time.
func (g *Gen1) UniqueKey(ctx context.Context, path string) (string, error) {
	e, err := g.Info(ctx, path)
	if err != nil {
		return "", err
	}

	return fsys.UniqueKey(e.ModTime), nil
}

// Open returns a lazy handle. Read handles issue one OPEN per block; write
// handles CREATE the file on Close.
func (g *Gen1) Open(ctx context.Context, path string, mode fsys.Mode) (fsys.File, error) {
	t, err := g.resolve(path)
	if err != nil {
		return nil, err
	}

	if t.path == "" {
		return nil, &storepath.PathError{Path: path, Reason: "path names the store root, not a file"}
	}

	switch mode {
	case fsys.ModeRead:
		fetch := func(ctx context.Context, off int64, n int) ([]byte, error) {
			return g.readRange(ctx, t.path, off, n)
		}

		size := func(ctx context.Context) (int64, error) {
			e, err := g.info(ctx, t.path)
			return e.Size, err
		}

		return fsys.NewRangeReader(ctx, path, g.cfg.BlockSize, fetch, size), nil
	case fsys.ModeWrite:
		flush := func(ctx context.Context, data []byte) error {
			return g.upload(ctx, t.path, data)
		}

		return fsys.NewBufferedWriter(ctx, path, flush), nil
	default:
		return nil, fmt.Errorf("%w: %s", fsys.ErrInvalidMode, mode)
	}
}

func (g *Gen1) readRange(ctx context.Context, path string, off int64, n int) ([]byte, error) {
	req := g.request(http.MethodGet, path, "OPEN", url.Values{
		"read":   {"true"},
		"offset": {strconv.FormatInt(off, 10)},
		"length": {strconv.Itoa(n)},
	})

	resp, err := g.call(ctx, path, req)
	if err != nil {
		if errors.Is(err, remote.ErrRangeNotSatisfiable) {
			return nil, io.EOF
		}

		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(n)))
	if err != nil {
		return nil, fmt.Errorf("datalake: reading %s: %w", path, err)
	}

	return data, nil
}

func (g *Gen1) upload(ctx context.Context, path string, data []byte) error {
	req := g.request(http.MethodPut, path, "CREATE", url.Values{
		"overwrite": {"true"},
		"write":     {"true"},
	})
	req.Header = http.Header{"Content-Type": {"application/octet-stream"}}
	req.Body = bytes.NewReader(data)

	resp, err := g.call(ctx, path, req)
	if err != nil {
		return fmt.Errorf("datalake: writing %s: %w", path, err)
	}
	resp.Body.Close()

	g.logger.Info("file written",
		slog.String("path", path),
		slog.Int("bytes", len(data)),
	)

	return nil
}
