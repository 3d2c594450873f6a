package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/desertthunder/miroir/internal/shared"
)

// Category partitions submissions into independent stores.
type Category string

const (
	CategoryStory      Category = "story"
	CategoryReflection Category = "reflection"
)

// Categories lists every known category in a stable order.
func Categories() []Category {
	return []Category{CategoryStory, CategoryReflection}
}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", shared.ErrInvalidCategory, s)
	}
	return c, nil
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == CategoryStory || c == CategoryReflection
}

// Store returns the name of the store holding this category's records ("story-submissions").
func (c Category) Store() string {
	return string(c) + "-submissions"
}

// SyncTag returns the deferred task tag correlated with this category ("story-submission").
func (c Category) SyncTag() string {
	return string(c) + "-submission"
}

// CategoryFromTag resolves a deferred task tag back to its category.
func CategoryFromTag(tag string) (Category, error) {
	name, ok := strings.CutSuffix(tag, "-submission")
	if !ok {
		return "", fmt.Errorf("%w: %q", shared.ErrUnknownTag, tag)
	}
	c := Category(name)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", shared.ErrUnknownTag, tag)
	}
	return c, nil
}

// SubmissionRecord is one user-submitted form.
//
// Once Synced is true it never reverts; records are never deleted by sync.
type SubmissionRecord struct {
	id        string
	timestamp time.Time
	synced    bool
	category  Category
	fields    map[string]string
	attempts  int
	lastError string
	syncedAt  *time.Time
}

// NewSubmissionRecord creates an unsynced record. The field map is copied.
func NewSubmissionRecord(id string, category Category, createdAt time.Time, fields map[string]string) *SubmissionRecord {
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return &SubmissionRecord{
		id:        id,
		timestamp: createdAt.UTC(),
		category:  category,
		fields:    copied,
	}
}

// RestoreSubmissionRecord rebuilds a record from storage, audit fields included.
func RestoreSubmissionRecord(
	id string,
	category Category,
	createdAt time.Time,
	fields map[string]string,
	synced bool,
	attempts int,
	lastError string,
	syncedAt *time.Time,
) *SubmissionRecord {
	r := NewSubmissionRecord(id, category, createdAt, fields)
	r.synced = synced
	r.attempts = attempts
	r.lastError = lastError
	r.syncedAt = syncedAt
	return r
}

func (r *SubmissionRecord) ID() string              { return r.id }
func (r *SubmissionRecord) CreatedAt() time.Time    { return r.timestamp }
func (r *SubmissionRecord) Timestamp() time.Time    { return r.timestamp }
func (r *SubmissionRecord) Synced() bool            { return r.synced }
func (r *SubmissionRecord) Category() Category      { return r.category }
func (r *SubmissionRecord) Attempts() int           { return r.attempts }
func (r *SubmissionRecord) LastError() string       { return r.lastError }
func (r *SubmissionRecord) SyncedAt() *time.Time    { return r.syncedAt }
func (r *SubmissionRecord) Field(key string) string { return r.fields[key] }

// Fields returns a copy of the form fields.
func (r *SubmissionRecord) Fields() map[string]string {
	copied := make(map[string]string, len(r.fields))
	for k, v := range r.fields {
		copied[k] = v
	}
	return copied
}

// FieldNames returns the form field names sorted alphabetically.
func (r *SubmissionRecord) FieldNames() []string {
	names := make([]string, 0, len(r.fields))
	for k := range r.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// MarkSynced moves the record to its terminal delivered state. Calling it again is a no-op.
func (r *SubmissionRecord) MarkSynced(at time.Time) {
	if r.synced {
		return
	}
	at = at.UTC()
	r.synced = true
	r.syncedAt = &at
	r.lastError = ""
}

// Validate checks the record's identity and category.
func (r *SubmissionRecord) Validate() error {
	if r.id == "" {
		return fmt.Errorf("%w: submission id is required", shared.ErrInvalidInput)
	}
	if !r.category.Valid() {
		return fmt.Errorf("%w: %q", shared.ErrInvalidCategory, r.category)
	}
	if r.timestamp.IsZero() {
		return fmt.Errorf("%w: submission timestamp is required", shared.ErrInvalidInput)
	}
	return nil
}

// submissionJSON is the wire form sent to the delivery endpoint and printed by the CLI.
type submissionJSON struct {
	ID        string            `json:"id"`
	Timestamp string            `json:"timestamp"`
	Synced    bool              `json:"synced"`
	Category  Category          `json:"category"`
	Fields    map[string]string `json:"fields"`
	Attempts  int               `json:"attempts,omitempty"`
	LastError string            `json:"last_error,omitempty"`
	SyncedAt  string            `json:"synced_at,omitempty"`
}

// MarshalJSON implements [json.Marshaler]. Timestamps are ISO 8601 (RFC 3339, UTC).
func (r *SubmissionRecord) MarshalJSON() ([]byte, error) {
	out := submissionJSON{
		ID:        r.id,
		Timestamp: r.timestamp.Format(time.RFC3339Nano),
		Synced:    r.synced,
		Category:  r.category,
		Fields:    r.fields,
		Attempts:  r.attempts,
		LastError: r.lastError,
	}
	if r.syncedAt != nil {
		out.SyncedAt = r.syncedAt.Format(time.RFC3339Nano)
	}
	return json.Marshal(out)
}
