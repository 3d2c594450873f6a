package queue

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"

	"github.com/desertthunder/miroir/internal/models"
	"github.com/desertthunder/miroir/internal/repositories"
	"github.com/desertthunder/miroir/internal/shared"
	tu "github.com/desertthunder/miroir/internal/testing"
)

func quietLogger() *log.Logger { return log.New(io.Discard) }

func fastPolicy() SyncPolicy {
	return SyncPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		AttemptTimeout: time.Second,
		Workers:        4,
		RateLimit:      1000,
	}
}

// failingStore rejects every write.
type failingStore struct {
	Store
}

func (f *failingStore) Put(ctx context.Context, record *models.SubmissionRecord) error {
	return errors.New("disk full")
}

func TestEnqueue(t *testing.T) {
	ctx := context.Background()

	t.Run("persists unsynced record and requests sync", func(t *testing.T) {
		repo := repositories.NewSubmissionRepository(tu.NewTestDB(t))
		scheduler := &tu.MockScheduler{}
		q := NewQueue(repo, scheduler, quietLogger())

		record, err := q.Enqueue(ctx, models.CategoryStory, map[string]string{"title": "First", "content": "Hello"})
		if err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}

		if record.Synced() {
			t.Error("new record should not be synced")
		}

		unsynced, err := repo.ListUnsynced(ctx, models.CategoryStory)
		if err != nil {
			t.Fatalf("failed to list unsynced: %v", err)
		}
		if len(unsynced) != 1 || unsynced[0].ID() != record.ID() {
			t.Fatalf("expected the record in the story store, got %d records", len(unsynced))
		}
		if unsynced[0].Field("title") != "First" {
			t.Errorf("expected fields to persist, got %v", unsynced[0].Fields())
		}

		if tags := scheduler.Tags(); !slices.Equal(tags, []string{"story-submission"}) {
			t.Errorf("expected story-submission registered, got %v", tags)
		}
	})

	t.Run("ids are unique and time ordered", func(t *testing.T) {
		repo := repositories.NewSubmissionRepository(tu.NewTestDB(t))
		q := NewQueue(repo, &tu.MockScheduler{}, quietLogger())

		var ids []string
		for range 5 {
			r, err := q.Enqueue(ctx, models.CategoryReflection, nil)
			if err != nil {
				t.Fatalf("enqueue failed: %v", err)
			}
			ids = append(ids, r.ID())
		}

		if !slices.IsSorted(ids) {
			t.Errorf("expected creation-ordered ids, got %v", ids)
		}
		if len(slices.Compact(slices.Clone(ids))) != len(ids) {
			t.Errorf("expected unique ids, got %v", ids)
		}
	})

	t.Run("storage failure surfaces", func(t *testing.T) {
		scheduler := &tu.MockScheduler{}
		q := NewQueue(&failingStore{}, scheduler, quietLogger())

		_, err := q.Enqueue(ctx, models.CategoryStory, map[string]string{"title": "x"})
		if !errors.Is(err, shared.ErrStorage) {
			t.Fatalf("expected ErrStorage, got %v", err)
		}

		var serr *StorageError
		if !errors.As(err, &serr) {
			t.Fatalf("expected *StorageError, got %T", err)
		}
		if serr.Category != models.CategoryStory {
			t.Errorf("expected story category, got %s", serr.Category)
		}
		if len(scheduler.Tags()) != 0 {
			t.Error("no sync should be requested for an unsaved record")
		}
	})

	t.Run("invalid category", func(t *testing.T) {
		q := NewQueue(&failingStore{}, nil, quietLogger())
		if _, err := q.Enqueue(ctx, models.Category("poem"), nil); !errors.Is(err, shared.ErrInvalidCategory) {
			t.Errorf("expected ErrInvalidCategory, got %v", err)
		}
	})

	t.Run("scheduler failure is not fatal", func(t *testing.T) {
		repo := repositories.NewSubmissionRepository(tu.NewTestDB(t))
		q := NewQueue(repo, &tu.MockScheduler{Err: shared.ErrSchedulerClosed}, quietLogger())

		if _, err := q.Enqueue(ctx, models.CategoryStory, nil); err != nil {
			t.Fatalf("enqueue should succeed without sync, got %v", err)
		}

		counts, err := repo.Count(ctx, models.CategoryStory)
		if err != nil {
			t.Fatalf("failed to count: %v", err)
		}
		if counts.Unsynced != 1 {
			t.Errorf("record should persist, got %+v", counts)
		}
	})

	t.Run("no scheduler", func(t *testing.T) {
		repo := repositories.NewSubmissionRepository(tu.NewTestDB(t))
		q := NewQueue(repo, nil, quietLogger())
		if _, err := q.Enqueue(ctx, models.CategoryStory, nil); err != nil {
			t.Fatalf("enqueue should succeed without scheduler, got %v", err)
		}
	})
}

func TestSync(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, repo *repositories.SubmissionRepository, category models.Category, n int) []string {
		t.Helper()
		q := NewQueue(repo, nil, quietLogger())
		var ids []string
		for i := range n {
			r, err := q.Enqueue(ctx, category, map[string]string{"n": string(rune('a' + i))})
			if err != nil {
				t.Fatalf("enqueue failed: %v", err)
			}
			ids = append(ids, r.ID())
		}
		return ids
	}

	t.Run("delivers and marks synced", func(t *testing.T) {
		repo := repositories.NewSubmissionRepository(tu.NewTestDB(t))
		ids := seed(t, repo, models.CategoryStory, 3)
		deliverer := &tu.MockDeliverer{}
		s := NewSyncer(repo, deliverer, fastPolicy(), quietLogger())

		report, err := s.Sync(ctx, "story-submission")
		if err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		if report.Pending != 3 || report.Delivered != 3 || report.Failed != 0 {
			t.Errorf("unexpected report %+v", report)
		}

		for _, id := range ids {
			r, err := repo.Get(ctx, models.CategoryStory, id)
			if err != nil {
				t.Fatalf("failed to get record: %v", err)
			}
			if !r.Synced() {
				t.Errorf("record %s should be synced", id)
			}
		}
	})

	t.Run("second run delivers nothing", func(t *testing.T) {
		repo := repositories.NewSubmissionRepository(tu.NewTestDB(t))
		seed(t, repo, models.CategoryReflection, 2)
		deliverer := &tu.MockDeliverer{}
		s := NewSyncer(repo, deliverer, fastPolicy(), quietLogger())

		if _, err := s.Sync(ctx, "reflection-submission"); err != nil {
			t.Fatalf("first sync failed: %v", err)
		}
		before := deliverer.TotalCalls()

		report, err := s.Sync(ctx, "reflection-submission")
		if err != nil {
			t.Fatalf("second sync failed: %v", err)
		}
		if report.Pending != 0 || deliverer.TotalCalls() != before {
			t.Errorf("second run should perform zero deliveries, report %+v", report)
		}
	})

	t.Run("failure keeps record for next run", func(t *testing.T) {
		repo := repositories.NewSubmissionRepository(tu.NewTestDB(t))
		ids := seed(t, repo, models.CategoryStory, 1)

		var offline atomic.Bool
		offline.Store(true)
		deliverer := &tu.MockDeliverer{DeliverFunc: func(ctx context.Context, r *models.SubmissionRecord) error {
			if offline.Load() {
				return errors.New("connection refused")
			}
			return nil
		}}
		s := NewSyncer(repo, deliverer, fastPolicy(), quietLogger())

		report, err := s.Sync(ctx, "story-submission")
		if err != nil {
			t.Fatalf("delivery failures should not fail the run: %v", err)
		}
		if report.Failed != 1 || report.Errors[ids[0]] == "" {
			t.Errorf("expected one failure, got %+v", report)
		}
		if deliverer.Calls(ids[0]) != 3 {
			t.Errorf("expected 3 attempts, got %d", deliverer.Calls(ids[0]))
		}

		r, err := repo.Get(ctx, models.CategoryStory, ids[0])
		if err != nil {
			t.Fatalf("failed to get record: %v", err)
		}
		if r.Synced() || r.Attempts() != 1 || r.LastError() == "" {
			t.Errorf("expected unsynced record with one recorded failure, got synced=%v attempts=%d", r.Synced(), r.Attempts())
		}

		offline.Store(false)
		report, err = s.Sync(ctx, "story-submission")
		if err != nil {
			t.Fatalf("retry sync failed: %v", err)
		}
		if report.Delivered != 1 {
			t.Errorf("expected the record delivered on the next run, got %+v", report)
		}
		if got := deliverer.Delivered(); !slices.Equal(got, ids) {
			t.Errorf("expected %v delivered, got %v", ids, got)
		}
	})

	t.Run("permanent error stops retries", func(t *testing.T) {
		repo := repositories.NewSubmissionRepository(tu.NewTestDB(t))
		ids := seed(t, repo, models.CategoryStory, 1)
		deliverer := &tu.MockDeliverer{DeliverFunc: func(ctx context.Context, r *models.SubmissionRecord) error {
			return backoff.Permanent(errors.New("400 bad request"))
		}}
		s := NewSyncer(repo, deliverer, fastPolicy(), quietLogger())

		report, err := s.Sync(ctx, "story-submission")
		if err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		if deliverer.Calls(ids[0]) != 1 {
			t.Errorf("permanent errors should not be retried, got %d calls", deliverer.Calls(ids[0]))
		}
		if report.Failed != 1 {
			t.Errorf("expected one failure, got %+v", report)
		}
	})

	t.Run("partial failure", func(t *testing.T) {
		repo := repositories.NewSubmissionRepository(tu.NewTestDB(t))
		ids := seed(t, repo, models.CategoryStory, 4)
		bad := ids[1]
		deliverer := &tu.MockDeliverer{DeliverFunc: func(ctx context.Context, r *models.SubmissionRecord) error {
			if r.ID() == bad {
				return errors.New("503")
			}
			return nil
		}}
		s := NewSyncer(repo, deliverer, fastPolicy(), quietLogger())

		report, err := s.Sync(ctx, "story-submission")
		if err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		if report.Delivered != 3 || report.Failed != 1 {
			t.Errorf("unexpected report %+v", report)
		}

		unsynced, err := repo.ListUnsynced(ctx, models.CategoryStory)
		if err != nil {
			t.Fatalf("failed to list unsynced: %v", err)
		}
		if len(unsynced) != 1 || unsynced[0].ID() != bad {
			t.Errorf("only the failed record should remain unsynced")
		}
	})

	t.Run("categories are independent", func(t *testing.T) {
		repo := repositories.NewSubmissionRepository(tu.NewTestDB(t))
		seed(t, repo, models.CategoryStory, 1)
		seed(t, repo, models.CategoryReflection, 1)
		s := NewSyncer(repo, &tu.MockDeliverer{}, fastPolicy(), quietLogger())

		if _, err := s.Sync(ctx, "story-submission"); err != nil {
			t.Fatalf("sync failed: %v", err)
		}

		counts, err := repo.Count(ctx, models.CategoryReflection)
		if err != nil {
			t.Fatalf("failed to count: %v", err)
		}
		if counts.Unsynced != 1 {
			t.Errorf("story sync must not touch reflections, got %+v", counts)
		}
	})

	t.Run("unknown tag", func(t *testing.T) {
		s := NewSyncer(&failingStore{}, &tu.MockDeliverer{}, fastPolicy(), quietLogger())
		if _, err := s.Sync(ctx, "poem-submission"); !errors.Is(err, shared.ErrUnknownTag) {
			t.Errorf("expected ErrUnknownTag, got %v", err)
		}
	})

	t.Run("concurrent runs deliver once", func(t *testing.T) {
		repo := repositories.NewSubmissionRepository(tu.NewTestDB(t))
		ids := seed(t, repo, models.CategoryStory, 5)
		deliverer := &tu.MockDeliverer{}
		s := NewSyncer(repo, deliverer, fastPolicy(), quietLogger())

		var wg sync.WaitGroup
		for range 3 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Sync(ctx, "story-submission"); err != nil {
					t.Errorf("sync failed: %v", err)
				}
			}()
		}
		wg.Wait()

		for _, id := range ids {
			if deliverer.Calls(id) != 1 {
				t.Errorf("record %s delivered %d times", id, deliverer.Calls(id))
			}
		}
	})
}

func TestPolicyFrom(t *testing.T) {
	cfg := shared.DefaultConfig().Queue
	p := PolicyFrom(cfg)
	if p.MaxAttempts != 3 || p.InitialBackoff != 500*time.Millisecond || p.MaxBackoff != 10*time.Second {
		t.Errorf("unexpected policy from defaults: %+v", p)
	}
	if p.AttemptTimeout != 15*time.Second {
		t.Errorf("expected 15s attempt timeout, got %v", p.AttemptTimeout)
	}

	p = PolicyFrom(shared.QueueConfig{Workers: 50})
	if p.Workers != 10 {
		t.Errorf("expected workers capped at 10, got %d", p.Workers)
	}
	if p.MaxAttempts != 3 {
		t.Errorf("expected default attempts, got %d", p.MaxAttempts)
	}
}
