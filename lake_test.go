package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/adlfs/internal/config"
)

const lakeTenant = "tenant-1"

// lakeModTime is the Last-Modified reported for every seeded file.
var lakeModTime = time.Date(2023, time.January, 1, 10, 0, 0, 0, time.UTC)

// fakeLake is an in-memory Gen2 DFS endpoint plus identity authority.
// Files are keyed by "<container>/<path>"; directories are implied.
type fakeLake struct {
	*httptest.Server

	mu      sync.Mutex
	files   map[string][]byte
	pending map[string][]byte
}

func newFakeLake(t *testing.T, seed map[string]string) *fakeLake {
	t.Helper()

	l := &fakeLake{files: make(map[string][]byte), pending: make(map[string][]byte)}
	for k, v := range seed {
		l.files[k] = []byte(v)
	}

	l.Server = httptest.NewServer(http.HandlerFunc(l.serve))
	t.Cleanup(l.Close)

	return l
}

func (l *fakeLake) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/"+lakeTenant+"/oauth2/v2.0/token" {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"token_type":"Bearer","access_token":"tok","expires_in":3600}`)

		return
	}

	if r.Header.Get("Authorization") != "Bearer tok" {
		w.WriteHeader(http.StatusUnauthorized)

		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	container, path, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	key := container + "/" + path
	q := r.URL.Query()

	switch {
	case r.Method == http.MethodGet && path == "" && q.Get("resource") == "filesystem":
		l.list(w, container, q.Get("directory"), q.Get("recursive") == "true")
	case r.Method == http.MethodHead:
		data, ok := l.files[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Last-Modified", lakeModTime.Format(http.TimeFormat))
		w.Header().Set("x-ms-resource-type", "file")
	case r.Method == http.MethodGet:
		l.read(w, r, key)
	case r.Method == http.MethodPut && q.Get("resource") == "file":
		l.pending[key] = nil
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodPatch && q.Get("action") == "append":
		body, _ := io.ReadAll(r.Body)
		l.pending[key] = append(l.pending[key], body...)
		w.WriteHeader(http.StatusAccepted)
	case r.Method == http.MethodPatch && q.Get("action") == "flush":
		l.files[key] = l.pending[key]
		delete(l.pending, key)
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (l *fakeLake) list(w http.ResponseWriter, container, dir string, recursive bool) {
	prefix := container + "/"
	if dir != "" {
		prefix += dir + "/"
	}

	seen := make(map[string]bool)

	var names []string

	for key := range l.files {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}

		if !recursive {
			if child, _, isDir := strings.Cut(rest, "/"); isDir {
				rest = child + "/"
			}
		}

		if !seen[rest] {
			seen[rest] = true
			names = append(names, rest)
		}
	}

	sort.Strings(names)

	var items []string

	for _, n := range names {
		full := strings.TrimPrefix(strings.TrimPrefix(prefix, container+"/")+n, "/")

		if d, ok := strings.CutSuffix(full, "/"); ok {
			items = append(items, fmt.Sprintf(`{"name":%q,"isDirectory":"true"}`, d))

			continue
		}

		items = append(items, fmt.Sprintf(`{"name":%q,"contentLength":"%d","lastModified":%q}`,
			full, len(l.files[prefix+n]), lakeModTime.Format(http.TimeFormat)))
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"paths":[%s]}`, strings.Join(items, ","))
}

func (l *fakeLake) read(w http.ResponseWriter, r *http.Request, key string) {
	data, ok := l.files[key]
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"code":"PathNotFound","message":"The specified path does not exist."}}`)

		return
	}

	var start, end int
	if _, err := fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end); err != nil {
		_, _ = w.Write(data)

		return
	}

	if start >= len(data) {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)

		return
	}

	end = min(end, len(data)-1)
	w.WriteHeader(http.StatusPartialContent)
	_, _ = w.Write(data[start : end+1])
}

func (l *fakeLake) file(key string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, ok := l.files[key]

	return bytes.Clone(data), ok
}

// writeLakeConfig writes a config file pointing one gen2 store at l and
// isolates the test from the caller's environment.
func writeLakeConfig(t *testing.T, l *fakeLake) string {
	t.Helper()

	for _, k := range []string{
		config.EnvConfig, config.EnvStore,
		config.EnvTenantID, config.EnvClientID, config.EnvClientSecret, config.EnvToken,
	} {
		t.Setenv(k, "")
	}

	content := fmt.Sprintf(`
[logging]
log_level = "debug"
log_format = "text"

[store.lake]
account = "acct"
tenant_id = %q
client_id = "client-1"
client_secret = "secret-1"
endpoint = %q
authority = %q
block_size = "64KiB"
`, lakeTenant, l.URL, l.URL)

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

// runCLI executes the root command with args and returns what it wrote to
// stdout. Logs go to a discarded writer.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	oldLog := logOutput
	logOutput = io.Discard

	t.Cleanup(func() {
		logOutput = oldLog
		resolvedCfg = nil
	})

	var out bytes.Buffer

	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)

	err := cmd.Execute()

	return out.String(), err
}
