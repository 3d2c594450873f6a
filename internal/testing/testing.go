// package testing contains shared testing utilities
package testing

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"

	"github.com/desertthunder/miroir/internal/models"
	"github.com/desertthunder/miroir/internal/shared"
)

// MockDeliverer is a test double for queue.Deliverer.
//
// DeliverFunc decides each outcome; nil means every delivery succeeds.
type MockDeliverer struct {
	DeliverFunc func(ctx context.Context, record *models.SubmissionRecord) error

	mu        sync.Mutex
	delivered []string
	calls     map[string]int
}

func (m *MockDeliverer) Deliver(ctx context.Context, record *models.SubmissionRecord) error {
	var err error
	if m.DeliverFunc != nil {
		err = m.DeliverFunc(ctx, record)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[record.ID()]++
	if err == nil {
		m.delivered = append(m.delivered, record.ID())
	}
	return err
}

// Delivered returns the ids of successful deliveries in completion order.
func (m *MockDeliverer) Delivered() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.delivered...)
}

// Calls returns how many times id was attempted.
func (m *MockDeliverer) Calls(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[id]
}

// TotalCalls returns the number of attempts across all records.
func (m *MockDeliverer) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

// MockScheduler is a test double for queue.DeferredScheduler that records registered tags.
type MockScheduler struct {
	Err error

	mu   sync.Mutex
	tags []string
}

func (m *MockScheduler) Register(ctx context.Context, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.tags = append(m.tags, tag)
	return nil
}

func (m *MockScheduler) Tags() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.tags...)
}

// NewTestDB opens an in-memory database with every migration applied and closes it on cleanup.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.OpenDatabase(shared.DatabaseConfig{Path: shared.MemoryDatabase})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func MustGetwd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	return wd
}

func MustChdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Failed to change directory to %s: %v", dir, err)
	}
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
