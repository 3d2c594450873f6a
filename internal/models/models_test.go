package models

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/desertthunder/miroir/internal/shared"
)

func TestCategory(t *testing.T) {
	t.Run("ParseCategory", func(t *testing.T) {
		tc := []struct {
			in      string
			want    Category
			wantErr bool
		}{
			{in: "story", want: CategoryStory},
			{in: " Reflection ", want: CategoryReflection},
			{in: "poem", wantErr: true},
			{in: "", wantErr: true},
		}
		for _, tt := range tc {
			got, err := ParseCategory(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseCategory(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
				continue
			}
			if tt.wantErr && !errors.Is(err, shared.ErrInvalidCategory) {
				t.Errorf("expected ErrInvalidCategory, got %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseCategory(%q) = %q, want %q", tt.in, got, tt.want)
			}
		}
	})

	t.Run("Store and tag names", func(t *testing.T) {
		if CategoryStory.Store() != "story-submissions" {
			t.Errorf("unexpected store %q", CategoryStory.Store())
		}
		if CategoryReflection.SyncTag() != "reflection-submission" {
			t.Errorf("unexpected tag %q", CategoryReflection.SyncTag())
		}
	})

	t.Run("CategoryFromTag", func(t *testing.T) {
		for _, c := range Categories() {
			got, err := CategoryFromTag(c.SyncTag())
			if err != nil || got != c {
				t.Errorf("round trip of %q failed: %q, %v", c, got, err)
			}
		}
		for _, tag := range []string{"story", "poem-submission", "periodic-refresh"} {
			if _, err := CategoryFromTag(tag); !errors.Is(err, shared.ErrUnknownTag) {
				t.Errorf("CategoryFromTag(%q) expected ErrUnknownTag, got %v", tag, err)
			}
		}
	})
}

func TestSubmissionRecord(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("new records start unsynced with copied fields", func(t *testing.T) {
		fields := map[string]string{"title": "T", "content": "C"}
		r := NewSubmissionRecord("id-1", CategoryStory, created, fields)
		fields["title"] = "changed"

		if r.Synced() {
			t.Error("new record should not be synced")
		}
		if r.Field("title") != "T" {
			t.Errorf("record should hold a copy of fields, got %q", r.Field("title"))
		}
		if err := r.Validate(); err != nil {
			t.Errorf("expected valid record: %v", err)
		}
	})

	t.Run("MarkSynced is terminal", func(t *testing.T) {
		r := NewSubmissionRecord("id-1", CategoryStory, created, nil)
		first := created.Add(time.Minute)
		r.MarkSynced(first)
		r.MarkSynced(first.Add(time.Hour))

		if !r.Synced() {
			t.Fatal("expected record to be synced")
		}
		if !r.SyncedAt().Equal(first) {
			t.Errorf("second MarkSynced should not move synced_at, got %v", r.SyncedAt())
		}
	})

	t.Run("Validate", func(t *testing.T) {
		if err := NewSubmissionRecord("", CategoryStory, created, nil).Validate(); err == nil {
			t.Error("expected error for empty id")
		}
		if err := NewSubmissionRecord("x", Category("poem"), created, nil).Validate(); !errors.Is(err, shared.ErrInvalidCategory) {
			t.Errorf("expected ErrInvalidCategory, got %v", err)
		}
	})

	t.Run("MarshalJSON", func(t *testing.T) {
		r := NewSubmissionRecord("id-1", CategoryReflection, created, map[string]string{"mood": "calm"})
		data, err := json.Marshal(r)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}

		var got map[string]any
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if got["timestamp"] != "2026-03-01T12:00:00Z" {
			t.Errorf("unexpected timestamp %v", got["timestamp"])
		}
		if got["category"] != "reflection" || got["synced"] != false {
			t.Errorf("unexpected payload %s", data)
		}
		if _, ok := got["synced_at"]; ok {
			t.Error("synced_at should be omitted while unsynced")
		}
	})
}

func TestCachedEntry(t *testing.T) {
	header := http.Header{"Content-Type": []string{"text/css"}}
	body := []byte("body { color: red }")
	entry := NewCachedEntry("http://example.com/style.css", http.StatusOK, header, body, time.Now())
	body[0] = 'X'

	req, _ := http.NewRequest(http.MethodGet, "http://example.com/style.css", nil)
	for i := 0; i < 2; i++ {
		resp := entry.Response(req)
		got, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if string(got) != "body { color: red }" {
			t.Errorf("read %d: unexpected body %q", i, got)
		}
		if resp.ContentLength != int64(len(got)) {
			t.Errorf("unexpected content length %d", resp.ContentLength)
		}
		if resp.Header.Get("Content-Type") != "text/css" {
			t.Errorf("unexpected content type %q", resp.Header.Get("Content-Type"))
		}
	}
}
