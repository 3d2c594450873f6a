package models

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"
)

// CacheVersion names one cache generation, e.g. "miroir-v1.0.0".
type CacheVersion string

// CachedEntry is an immutable snapshot of a successful GET response, keyed by its full URL.
type CachedEntry struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// NewCachedEntry snapshots status, headers and body. Header and body are copied.
func NewCachedEntry(url string, status int, header http.Header, body []byte, storedAt time.Time) *CachedEntry {
	return &CachedEntry{
		URL:      url,
		Status:   status,
		Header:   header.Clone(),
		Body:     bytes.Clone(body),
		StoredAt: storedAt.UTC(),
	}
}

// Response rebuilds an [http.Response] for req from the snapshot.
//
// Each call returns a fresh body reader over the same bytes.
func (e *CachedEntry) Response(req *http.Request) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(e.Body)))

	return &http.Response{
		Status:        strconv.Itoa(e.Status) + " " + http.StatusText(e.Status),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

// CacheGeneration summarizes one stored generation.
type CacheGeneration struct {
	Name      CacheVersion
	CreatedAt time.Time
	Entries   int
	Bytes     int64
}
