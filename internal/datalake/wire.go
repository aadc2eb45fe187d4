package datalake

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tonimelisma/adlfs/internal/fsys"
	"github.com/tonimelisma/adlfs/internal/remote"
)

// flexInt accepts a JSON number or a numeric string. The DFS endpoint
// encodes contentLength as a string.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}

	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("datalake: invalid integer %q: %w", b, err)
	}

	*f = flexInt(n)

	return nil
}

// flexBool accepts a JSON boolean or a "true"/"false" string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = false
		return nil
	}

	v, err := strconv.ParseBool(string(b))
	if err != nil {
		return fmt.Errorf("datalake: invalid boolean %q: %w", b, err)
	}

	*f = flexBool(v)

	return nil
}

// pathResponse mirrors one element of a DFS list-paths response.
type pathResponse struct {
	Name             string   `json:"name"`
	ContentLength    flexInt  `json:"contentLength"`
	IsDirectory      flexBool `json:"isDirectory"`
	LastModified     string   `json:"lastModified"`
	LastModifiedTime string   `json:"lastModifiedTime"`
	ETag             string   `json:"etag"`
}

func (p *pathResponse) toEntry(logger *slog.Logger) fsys.Entry {
	raw := p.LastModified
	if raw == "" {
		raw = p.LastModifiedTime
	}

	return fsys.Entry{
		Path:    p.Name,
		Size:    int64(p.ContentLength),
		IsDir:   bool(p.IsDirectory),
		ModTime: parseModTime(raw, p.Name, logger),
	}
}

// decodePathList accepts both the service envelope {"paths":[...]} and a
// bare array of paths.
func decodePathList(resp *remote.Response) ([]pathResponse, error) {
	var raw json.RawMessage
	if err := resp.DecodeJSON(&raw); err != nil {
		return nil, err
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var paths []pathResponse
		if err := json.Unmarshal(raw, &paths); err != nil {
			return nil, fmt.Errorf("datalake: decoding path list: %w", err)
		}

		return paths, nil
	}

	var env struct {
		Paths []pathResponse `json:"paths"`
	}

	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("datalake: decoding path list: %w", err)
	}

	return env.Paths, nil
}

// parseModTime accepts HTTP dates (RFC 1123, as in lastModified and the
// Last-Modified header) and RFC 3339. Unparseable input yields the zero
// time and a warning.
func parseModTime(raw, path string, logger *slog.Logger) time.Time {
	if raw == "" {
		return time.Time{}
	}

	if t, err := http.ParseTime(raw); err == nil {
		return t.UTC()
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		logger.Warn("invalid modification time",
			slog.String("path", path),
			slog.String("raw", raw),
			slog.String("error", err.Error()),
		)

		return time.Time{}
	}

	return t.UTC()
}

// fileStatus mirrors a WebHDFS FileStatus object.
type fileStatus struct {
	PathSuffix       string  `json:"pathSuffix"`
	Type             string  `json:"type"`
	Length           flexInt `json:"length"`
	ModificationTime flexInt `json:"modificationTime"` // epoch milliseconds
}

func (s *fileStatus) toEntry(path string) fsys.Entry {
	e := fsys.Entry{
		Path:  path,
		Size:  int64(s.Length),
		IsDir: s.Type == "DIRECTORY",
	}

	if s.ModificationTime > 0 {
		e.ModTime = time.UnixMilli(int64(s.ModificationTime)).UTC()
	}

	return e
}

type listStatusResponse struct {
	FileStatuses struct {
		FileStatus []fileStatus `json:"FileStatus"` //nolint:tagliatelle // WebHDFS wire name
	} `json:"FileStatuses"` //nolint:tagliatelle // WebHDFS wire name
}

type getFileStatusResponse struct {
	FileStatus fileStatus `json:"FileStatus"` //nolint:tagliatelle // WebHDFS wire name
}
