package datalake

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/adlfs/internal/azauth"
	"github.com/tonimelisma/adlfs/internal/fsys"
	"github.com/tonimelisma/adlfs/internal/remote"
	"github.com/tonimelisma/adlfs/internal/storepath"
)

func TestGen2_ListEndToEnd(t *testing.T) {
	f := newFakeAzure(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/container", r.URL.Path)
		assert.Equal(t, "filesystem", r.URL.Query().Get("resource"))
		assert.Equal(t, "false", r.URL.Query().Get("recursive"))
		assert.Equal(t, "a", r.URL.Query().Get("directory"))
		assert.Equal(t, "Bearer T1", r.Header.Get("Authorization"))
		assert.Equal(t, "2019-02-02", r.Header.Get("x-ms-version"))

		writeJSON(w, http.StatusOK,
			`[{"name":"a/b.txt","contentLength":42,"lastModifiedTime":"2023-01-01T00:00:00Z","isDirectory":false}]`)
	})

	g := newTestGen2(t, f)
	assert.Equal(t, azauth.StateAuthenticated, g.State())

	entries, err := g.List(context.Background(), "container/a", false)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.Equal(t, fsys.Entry{
		Path:    "a/b.txt",
		Size:    42,
		IsDir:   false,
		ModTime: time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC),
	}, entries[0])
	assert.Equal(t, int32(1), f.tokenCalls.Load())
}

func TestGen2_ListEnvelopeAndPagination(t *testing.T) {
	f := newFakeAzure(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("recursive"))

		switch r.URL.Query().Get("continuation") {
		case "":
			w.Header().Set("x-ms-continuation", "page2")
			writeJSON(w, http.StatusOK, `{"paths":[
				{"name":"dir","isDirectory":"true","lastModified":"Sun, 01 Jan 2023 10:00:00 GMT"},
				{"name":"dir/x.csv","contentLength":"7","lastModified":"Sun, 01 Jan 2023 11:00:00 GMT"}]}`)
		case "page2":
			writeJSON(w, http.StatusOK, `{"paths":[{"name":"dir/y.csv","contentLength":"9"}]}`)
		default:
			t.Errorf("unexpected continuation %q", r.URL.Query().Get("continuation"))
		}
	})

	g := newTestGen2(t, f)

	entries, err := g.List(context.Background(), "abfs://data@acct.dfs.core.windows.net/", true)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "dir", entries[0].Path)
	assert.True(t, entries[0].IsDir)
	assert.Equal(t, time.Date(2023, time.January, 1, 10, 0, 0, 0, time.UTC), entries[0].ModTime)
	assert.Equal(t, "dir/x.csv", entries[1].Path)
	assert.Equal(t, int64(7), entries[1].Size)
	assert.Equal(t, "dir/y.csv", entries[2].Path)
	assert.True(t, entries[2].ModTime.IsZero())

	reqs := f.storageRequests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "/data", reqs[0].URL.Path)
	assert.Empty(t, reqs[0].URL.Query().Get("directory"))
}

func TestGen2_ListMissingDirectory(t *testing.T) {
	f := newFakeAzure(t, notFound)
	g := newTestGen2(t, f)

	_, err := g.List(context.Background(), "container/nope", false)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestGen2_ListServerErrorIsRemoteError(t *testing.T) {
	f := newFakeAzure(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusForbidden, `{"error":{"code":"AuthorizationPermissionMismatch","message":"no"}}`)
	})
	g := newTestGen2(t, f)

	_, err := g.List(context.Background(), "container", false)

	var remoteErr *remote.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, http.StatusForbidden, remoteErr.StatusCode)
	assert.Equal(t, "AuthorizationPermissionMismatch", remoteErr.Code)
}

func TestGen2_SizeMissingIsNotFound(t *testing.T) {
	f := newFakeAzure(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		assert.Equal(t, "/missing/path", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	})
	g := newTestGen2(t, f)

	_, err := g.Size(context.Background(), "missing/path")
	require.Error(t, err)

	var nf *fsys.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing/path", nf.Path)

	var remoteErr *remote.RemoteError
	assert.False(t, errors.As(err, &remoteErr), "not found must not surface as RemoteError")
}

func TestGen2_InfoSizeAndUniqueKey(t *testing.T) {
	modified := "Wed, 01 Mar 2023 12:00:00 GMT"

	f := newFakeAzure(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)

		switch r.URL.Path {
		case "/c/dir/file.bin":
			w.Header().Set("Content-Length", "1234")
			w.Header().Set("Last-Modified", modified)
			w.Header().Set("x-ms-resource-type", "file")
		case "/c/dir":
			w.Header().Set("Last-Modified", modified)
			w.Header().Set("x-ms-resource-type", "directory")
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}

		w.WriteHeader(http.StatusOK)
	})
	g := newTestGen2(t, f)
	ctx := context.Background()

	e, err := g.Info(ctx, "c/dir/file.bin")
	require.NoError(t, err)
	assert.Equal(t, "dir/file.bin", e.Path)
	assert.Equal(t, int64(1234), e.Size)
	assert.False(t, e.IsDir)

	size, err := g.Size(ctx, "c/dir/file.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(1234), size)

	dir, err := g.Info(ctx, "c/dir")
	require.NoError(t, err)
	assert.True(t, dir.IsDir)

	key1, err := g.UniqueKey(ctx, "c/dir/file.bin")
	require.NoError(t, err)
	key2, err := g.UniqueKey(ctx, "c/dir")
	require.NoError(t, err)

	mod, err := http.ParseTime(modified)
	require.NoError(t, err)
	assert.Equal(t, fsys.UniqueKey(mod), key1)
	assert.Equal(t, key1, key2, "same timestamp, same key")
}

func TestGen2_ConfiguredContainerPinsBarePaths(t *testing.T) {
	f := newFakeAzure(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pinned", r.URL.Path)
		assert.Equal(t, "a/b", r.URL.Query().Get("directory"))
		writeJSON(w, http.StatusOK, `{"paths":[]}`)
	})

	cfg := f.config("acct")
	cfg.Container = "pinned"

	g, err := NewGen2(context.Background(), cfg, f.options())
	require.NoError(t, err)

	entries, err := g.List(context.Background(), "a/b", false)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGen2_RejectsForeignPaths(t *testing.T) {
	f := newFakeAzure(t, notFound)
	g := newTestGen2(t, f)
	ctx := context.Background()

	tests := []string{
		"abfs://c@otheracct.dfs.core.windows.net/x",
		"adl://store/x",
		"s3://bucket/x",
		"",
	}

	for _, raw := range tests {
		_, err := g.List(ctx, raw, false)
		assert.ErrorIs(t, err, storepath.ErrInvalidPath, raw)
	}

	assert.Empty(t, f.storageRequests())
}

func TestGen2_Glob(t *testing.T) {
	f := newFakeAzure(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data", r.URL.Path)
		assert.Equal(t, "logs", r.URL.Query().Get("directory"))
		assert.Equal(t, "false", r.URL.Query().Get("recursive"))

		writeJSON(w, http.StatusOK, `{"paths":[
			{"name":"logs/b.csv","contentLength":"1"},
			{"name":"logs/a.csv","contentLength":"1"},
			{"name":"logs/c.txt","contentLength":"1"},
			{"name":"logs/sub","isDirectory":"true"}]}`)
	})
	g := newTestGen2(t, f)
	ctx := context.Background()

	got, err := g.Glob(ctx, "data/logs/*.csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"data/logs/b.csv", "data/logs/a.csv"}, got, "listing order, container prefixed")

	got, err = g.Glob(ctx, "abfss://data@acct.dfs.core.windows.net/logs/?.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"abfss://data@acct.dfs.core.windows.net/logs/c.txt"}, got)

	_, err = g.Glob(ctx, "da*/logs/*.csv")
	assert.ErrorIs(t, err, storepath.ErrInvalidPath)
}

func TestGen2_GlobMissingBaseIsEmpty(t *testing.T) {
	f := newFakeAzure(t, notFound)
	g := newTestGen2(t, f)

	got, err := g.Glob(context.Background(), "data/nothing/**/*.csv")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGen2_OpenReadRanges(t *testing.T) {
	content := []byte("the quick brown fox")

	f := newFakeAzure(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/c/fox.txt" {
			notFound(w, r)
			return
		}

		start, end := parseRange(t, r.Header.Get("Range"))
		if start >= len(content) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}

		end = min(end, len(content)-1)
		w.Header().Set("Content-Length", strconv.Itoa(end-start+1))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(content[start : end+1])
	})

	cfg := f.config("acct")
	cfg.BlockSize = 8

	g, err := NewGen2(context.Background(), cfg, f.options())
	require.NoError(t, err)

	file, err := g.Open(context.Background(), "c/fox.txt", fsys.ModeRead)
	require.NoError(t, err)
	assert.Empty(t, f.storageRequests(), "open issues no requests")

	got, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	require.NoError(t, file.Close())

	reqs := f.storageRequests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "bytes=0-7", reqs[0].Header.Get("Range"))
	assert.Equal(t, "bytes=8-15", reqs[1].Header.Get("Range"))
	assert.Equal(t, "bytes=16-23", reqs[2].Header.Get("Range"))

	_, err = file.Write([]byte("x"))
	assert.ErrorIs(t, err, fsys.ErrReadOnly)
}

func TestGen2_OpenReadIgnoredRange(t *testing.T) {
	content := []byte("0123456789")

	f := newFakeAzure(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(content)
	})

	cfg := f.config("acct")
	cfg.BlockSize = 4

	g, err := NewGen2(context.Background(), cfg, f.options())
	require.NoError(t, err)

	file, err := g.Open(context.Background(), "c/digits", fsys.ModeRead)
	require.NoError(t, err)

	got, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestGen2_OpenMissingFailsOnFirstRead(t *testing.T) {
	f := newFakeAzure(t, notFound)
	g := newTestGen2(t, f)

	file, err := g.Open(context.Background(), "c/missing.txt", fsys.ModeRead)
	require.NoError(t, err)

	_, err = file.Read(make([]byte, 16))

	var nf *fsys.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestGen2_OpenWriteUploadsOnClose(t *testing.T) {
	type call struct {
		method, action, position, resource, body string
	}

	var (
		mu    sync.Mutex
		calls []call
	)

	f := newFakeAzure(t, func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, "/c/out/report.csv", r.URL.Path)

		mu.Lock()
		calls = append(calls, call{
			method:   r.Method,
			action:   r.URL.Query().Get("action"),
			position: r.URL.Query().Get("position"),
			resource: r.URL.Query().Get("resource"),
			body:     string(body),
		})
		mu.Unlock()

		if r.Method == http.MethodPut {
			w.WriteHeader(http.StatusCreated)
			return
		}

		w.WriteHeader(http.StatusAccepted)
	})
	g := newTestGen2(t, f)

	file, err := g.Open(context.Background(), "c/out/report.csv", fsys.ModeWrite)
	require.NoError(t, err)

	_, err = file.Write([]byte("a,b\n"))
	require.NoError(t, err)
	_, err = file.Write([]byte("1,2\n"))
	require.NoError(t, err)
	assert.Empty(t, f.storageRequests(), "nothing sent before close")

	require.NoError(t, file.Close())

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []call{
		{method: http.MethodPut, resource: "file"},
		{method: http.MethodPatch, action: "append", position: "0", body: "a,b\n1,2\n"},
		{method: http.MethodPatch, action: "flush", position: "8"},
	}, calls)
}

func TestGen2_OpenWriteEmptyFileSkipsAppend(t *testing.T) {
	var (
		mu      sync.Mutex
		methods []string
	)

	f := newFakeAzure(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method+" "+r.URL.Query().Get("action")+r.URL.Query().Get("resource"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	g := newTestGen2(t, f)

	file, err := g.Open(context.Background(), "c/empty", fsys.ModeWrite)
	require.NoError(t, err)
	require.NoError(t, file.Close())

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []string{"PUT file", "PATCH flush"}, methods)
}

func TestGen2_OpenContainerRootFails(t *testing.T) {
	f := newFakeAzure(t, notFound)
	g := newTestGen2(t, f)

	_, err := g.Open(context.Background(), "abfs://c@acct.dfs.core.windows.net/", fsys.ModeRead)
	assert.ErrorIs(t, err, storepath.ErrInvalidPath)
}

func TestNewGen2_PrefetchedTokenSkipsExchange(t *testing.T) {
	f := newFakeAzure(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer pre", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, `{"paths":[]}`)
	})

	cfg := f.config("acct")
	cfg.Token = "pre"

	g, err := NewGen2(context.Background(), cfg, f.options())
	require.NoError(t, err)
	assert.Equal(t, azauth.StateAuthenticated, g.State())

	_, err = g.List(context.Background(), "c", false)
	require.NoError(t, err)
	assert.Zero(t, f.tokenCalls.Load())
}

func TestGen2_RejectedPrefetchedTokenIsReplaced(t *testing.T) {
	f := newFakeAzure(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer pre" {
			writeJSON(w, http.StatusUnauthorized,
				`{"error":{"code":"InvalidAuthenticationInfo","message":"Token expired."}}`)

			return
		}

		writeJSON(w, http.StatusOK, `{"paths":[]}`)
	})

	cfg := f.config("acct")
	cfg.Token = "pre"

	g, err := NewGen2(context.Background(), cfg, f.options())
	require.NoError(t, err)

	_, err = g.List(context.Background(), "c", false)
	require.ErrorIs(t, err, remote.ErrUnauthorized)
	assert.Equal(t, azauth.StateExpired, g.State())

	_, err = g.List(context.Background(), "c", false)
	require.NoError(t, err)
	assert.Equal(t, azauth.StateAuthenticated, g.State())
	assert.Equal(t, int32(1), f.tokenCalls.Load())

	reqs := f.storageRequests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "Bearer T1", reqs[1].Header.Get("Authorization"))
}

func TestNewGen2_AuthenticationFailure(t *testing.T) {
	f := newFakeAzure(t, notFound)

	cfg := f.config("acct")
	cfg.TenantID = "unknown-tenant"

	_, err := NewGen2(context.Background(), cfg, f.options())
	require.Error(t, err)

	var authErr *azauth.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusNotFound, authErr.StatusCode)
}

func TestNewGen2_MissingAccount(t *testing.T) {
	_, err := NewGen2(context.Background(), Config{}, Options{})
	assert.ErrorIs(t, err, ErrMissingAccount)
}

func TestGen2_RefreshesExpiredSession(t *testing.T) {
	var (
		mu     sync.Mutex
		tokens []string
	)

	f := newFakeAzure(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		tokens = append(tokens, r.Header.Get("Authorization"))
		mu.Unlock()

		writeJSON(w, http.StatusOK, `{"paths":[]}`)
	})

	now := time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)
	opts := f.options()
	opts.Clock = func() time.Time { return now }

	g, err := NewGen2(context.Background(), f.config("acct"), opts)
	require.NoError(t, err)

	_, err = g.List(context.Background(), "c", false)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	assert.Equal(t, azauth.StateExpired, g.State())

	_, err = g.List(context.Background(), "c", false)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []string{"Bearer T1", "Bearer T2"}, tokens)
	assert.Equal(t, int32(2), f.tokenCalls.Load())
}

func TestGen2_Close(t *testing.T) {
	f := newFakeAzure(t, notFound)
	g := newTestGen2(t, f)

	assert.NoError(t, g.Close())
	assert.Equal(t, KindGen2, g.Kind())
}
