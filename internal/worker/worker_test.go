package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/miroir/internal/cache"
	"github.com/desertthunder/miroir/internal/models"
	"github.com/desertthunder/miroir/internal/notify"
	"github.com/desertthunder/miroir/internal/queue"
	"github.com/desertthunder/miroir/internal/repositories"
	"github.com/desertthunder/miroir/internal/shared"
	tu "github.com/desertthunder/miroir/internal/testing"
)

type probeFunc func(ctx context.Context) bool

func (f probeFunc) Online(ctx context.Context) bool { return f(ctx) }

type hitCounter struct {
	hits atomic.Int32
	next http.RoundTripper
}

func (h *hitCounter) RoundTrip(req *http.Request) (*http.Response, error) {
	h.hits.Add(1)
	return h.next.RoundTrip(req)
}

type recordingNotifier struct {
	mu    sync.Mutex
	shown []*notify.Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, n *notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = append(r.shown, n)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.shown)
}

func quietLogger() *log.Logger { return log.New(io.Discard) }

func fastPolicy() queue.SyncPolicy {
	return queue.SyncPolicy{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		AttemptTimeout: time.Second,
		Workers:        2,
		RateLimit:      1000,
	}
}

func newOrigin(t *testing.T, failing string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == failing {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, "page "+r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type fixture struct {
	worker    *ServiceWorker
	store     *cache.MemoryStorage
	repo      *repositories.SubmissionRepository
	prefs     *repositories.PreferenceRepository
	deliverer *tu.MockDeliverer
	notifier  *recordingNotifier
	network   *hitCounter
}

func newFixture(t *testing.T, origin string, probe func(ctx context.Context) bool) *fixture {
	t.Helper()

	db := tu.NewTestDB(t)
	f := &fixture{
		store:     cache.NewMemoryStorage(),
		repo:      repositories.NewSubmissionRepository(db),
		prefs:     repositories.NewPreferenceRepository(db),
		deliverer: &tu.MockDeliverer{},
		notifier:  &recordingNotifier{},
		network:   &hitCounter{next: http.DefaultTransport},
	}

	manager, err := cache.NewManager(cache.Config{
		Version:        "miroir-v2",
		Origin:         origin,
		HomePage:       "/index.html",
		StaticManifest: []string{"/", "/index.html", "/style.css"},
	}, f.store, f.network, quietLogger())
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	opts := Options{
		Cache:       manager,
		Syncer:      queue.NewSyncer(f.repo, f.deliverer, fastPolicy(), quietLogger()),
		Preferences: f.prefs,
		Notifier:    f.notifier,
		Transport:   f.network,
		Interval:    10 * time.Millisecond,
		Logger:      quietLogger(),
	}
	if probe != nil {
		opts.Probe = probeFunc(probe)
	}

	f.worker, err = New(opts)
	if err != nil {
		t.Fatalf("failed to create worker: %v", err)
	}
	return f
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew(t *testing.T) {
	if _, err := New(Options{}); !errors.Is(err, shared.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig without a cache, got %v", err)
	}
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("install then activate", func(t *testing.T) {
		f := newFixture(t, newOrigin(t, "").URL, nil)
		f.store.PutAll(ctx, "miroir-v1", []*models.CachedEntry{
			models.NewCachedEntry("http://old/", http.StatusOK, nil, []byte("old"), time.Now()),
		})

		if f.worker.State() != StateParsed {
			t.Fatalf("expected parsed, got %s", f.worker.State())
		}
		if err := f.worker.Activate(ctx); !errors.Is(err, shared.ErrNotInstalled) {
			t.Fatalf("expected ErrNotInstalled before install, got %v", err)
		}

		if err := f.worker.Install(ctx); err != nil {
			t.Fatalf("install failed: %v", err)
		}
		if f.worker.State() != StateInstalled {
			t.Fatalf("expected installed, got %s", f.worker.State())
		}

		if err := f.worker.Activate(ctx); err != nil {
			t.Fatalf("activate failed: %v", err)
		}
		if f.worker.State() != StateActivated {
			t.Fatalf("expected activated, got %s", f.worker.State())
		}

		keys, _ := f.store.Keys(ctx)
		if len(keys) != 1 || keys[0] != "miroir-v2" {
			t.Errorf("expected only the current generation, got %v", keys)
		}
	})

	t.Run("failed install is redundant", func(t *testing.T) {
		f := newFixture(t, newOrigin(t, "/style.css").URL, nil)

		if err := f.worker.Install(ctx); !errors.Is(err, shared.ErrInstallFailed) {
			t.Fatalf("expected ErrInstallFailed, got %v", err)
		}
		if f.worker.State() != StateRedundant {
			t.Errorf("expected redundant, got %s", f.worker.State())
		}
		if err := f.worker.Activate(ctx); !errors.Is(err, shared.ErrNotInstalled) {
			t.Errorf("expected ErrNotInstalled after failed install, got %v", err)
		}
	})

	t.Run("state names", func(t *testing.T) {
		if StateActivating.String() != "activating" || State(42).String() != "state(42)" {
			t.Errorf("unexpected state names %s %s", StateActivating, State(42))
		}
	})
}

func TestFetch(t *testing.T) {
	ctx := context.Background()
	origin := newOrigin(t, "")
	f := newFixture(t, origin.URL, nil)

	fetch := func() string {
		t.Helper()
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, origin.URL+"/style.css", nil)
		resp, err := f.worker.RoundTrip(req)
		if err != nil {
			t.Fatalf("fetch failed: %v", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return string(body)
	}

	fetch()
	if f.network.hits.Load() != 1 {
		t.Fatalf("expected network fetch before install, got %d hits", f.network.hits.Load())
	}

	if err := f.worker.Install(ctx); err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if err := f.worker.Activate(ctx); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	before := f.network.hits.Load()

	if body := fetch(); body != "page /style.css" {
		t.Errorf("unexpected cached body %q", body)
	}
	if f.network.hits.Load() != before {
		t.Error("activated worker should serve precached assets without the network")
	}
}

func TestSync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newOrigin(t, "").URL, nil)

	record := models.NewSubmissionRecord("s-1", models.CategoryStory, time.Now(), map[string]string{"title": "one"})
	if err := f.repo.Put(ctx, record); err != nil {
		t.Fatalf("failed to seed: %v", err)
	}

	t.Run("unknown tag is ignored", func(t *testing.T) {
		if err := f.worker.Sync(ctx, "newsletter-signup"); err != nil {
			t.Errorf("expected unknown tag to be ignored, got %v", err)
		}
	})

	t.Run("failed delivery is reported", func(t *testing.T) {
		f.deliverer.DeliverFunc = func(ctx context.Context, r *models.SubmissionRecord) error {
			return shared.ErrDeliveryFailed
		}
		if err := f.worker.Sync(ctx, "story-submission"); !errors.Is(err, shared.ErrDeliveryFailed) {
			t.Errorf("expected ErrDeliveryFailed, got %v", err)
		}
	})

	t.Run("delivered", func(t *testing.T) {
		f.deliverer.DeliverFunc = nil
		if err := f.worker.Sync(ctx, "story-submission"); err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		got, _ := f.repo.Get(ctx, models.CategoryStory, "s-1")
		if !got.Synced() {
			t.Error("expected record to be synced")
		}
	})
}

func TestPush(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newOrigin(t, "").URL, nil)

	noon := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	f.worker.now = func() time.Time { return noon }

	t.Run("shown", func(t *testing.T) {
		n, err := f.worker.Push(ctx, []byte("A new story"))
		if err != nil {
			t.Fatalf("push failed: %v", err)
		}
		if n == nil || n.Body != "A new story" || f.notifier.count() != 1 {
			t.Errorf("expected one notification, got %+v (%d shown)", n, f.notifier.count())
		}
	})

	t.Run("quiet hours suppress", func(t *testing.T) {
		f.prefs.Set(ctx, notify.KeyQuietStart, "11")
		f.prefs.Set(ctx, notify.KeyQuietEnd, "13")
		defer f.prefs.Delete(ctx, notify.KeyQuietStart)
		defer f.prefs.Delete(ctx, notify.KeyQuietEnd)

		shown := f.notifier.count()
		n, err := f.worker.Push(ctx, nil)
		if err != nil || n != nil {
			t.Errorf("expected suppression, got %+v, %v", n, err)
		}
		if f.notifier.count() != shown {
			t.Error("suppressed push must not be displayed")
		}
	})

	t.Run("disabled suppress", func(t *testing.T) {
		f.prefs.Set(ctx, notify.KeyEnabled, "false")
		defer f.prefs.Delete(ctx, notify.KeyEnabled)

		if n, _ := f.worker.Push(ctx, nil); n != nil {
			t.Errorf("expected suppression, got %+v", n)
		}
	})
}

func TestNotificationClick(t *testing.T) {
	f := newFixture(t, newOrigin(t, "").URL, nil)

	for action, want := range map[string]string{"explore": "/", "": "/", "close": ""} {
		got, err := f.worker.NotificationClick(context.Background(), action)
		if err != nil || got != want {
			t.Errorf("NotificationClick(%q) = %q, %v; want %q", action, got, err, want)
		}
	}
}

func TestReminders(t *testing.T) {
	ctx := context.Background()

	t.Run("next reminder", func(t *testing.T) {
		// Saturday evening: the Sunday digest at 10:00 comes before the next 19:00 reminder.
		sat := time.Date(2025, 3, 8, 20, 0, 0, 0, time.UTC)
		r, at, ok := nextReminder(notify.DefaultPreferences(), sat)
		if !ok || r.Name != notify.WeeklyDigest.Name || !at.Equal(time.Date(2025, 3, 9, 10, 0, 0, 0, time.UTC)) {
			t.Errorf("unexpected next reminder %s at %v", r.Name, at)
		}

		p := notify.DefaultPreferences()
		p.Enabled = false
		if _, _, ok := nextReminder(p, sat); ok {
			t.Error("disabled notifications should have no next reminder")
		}
	})

	t.Run("remind", func(t *testing.T) {
		f := newFixture(t, newOrigin(t, "").URL, nil)

		f.worker.now = func() time.Time { return time.Date(2025, 3, 3, 19, 0, 0, 0, time.UTC) }
		if shown, err := f.worker.remind(ctx, notify.DailyReflection); err != nil || !shown {
			t.Errorf("expected reminder shown, got %v, %v", shown, err)
		}

		f.worker.now = func() time.Time { return time.Date(2025, 3, 3, 23, 0, 0, 0, time.UTC) }
		if shown, _ := f.worker.remind(ctx, notify.DailyReflection); shown {
			t.Error("reminder must not be shown during quiet hours")
		}

		f.worker.now = func() time.Time { return time.Date(2025, 3, 3, 19, 0, 0, 0, time.UTC) }
		f.prefs.Set(ctx, notify.KeyReflectionReminders, "false")
		if shown, _ := f.worker.remind(ctx, notify.DailyReflection); shown {
			t.Error("reminder turned off must not be shown")
		}

		if f.notifier.count() != 1 {
			t.Errorf("expected exactly one reminder displayed, got %d", f.notifier.count())
		}
	})
}

func TestStart(t *testing.T) {
	origin := newOrigin(t, "")

	t.Run("offline submission is delivered once online", func(t *testing.T) {
		var online atomic.Bool
		f := newFixture(t, origin.URL, func(context.Context) bool { return online.Load() })
		f.deliverer.DeliverFunc = func(ctx context.Context, r *models.SubmissionRecord) error {
			if !online.Load() {
				return shared.ErrDeliveryFailed
			}
			return nil
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- f.worker.Start(ctx) }()

		eventually(t, "activation", func() bool { return f.worker.State() == StateActivated })

		q := queue.NewQueue(f.repo, f.worker.Scheduler(), quietLogger())
		record, err := q.Enqueue(ctx, models.CategoryStory, map[string]string{"title": "offline"})
		if err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}

		time.Sleep(30 * time.Millisecond)
		if got, _ := f.repo.Get(ctx, models.CategoryStory, record.ID()); got.Synced() {
			t.Fatal("record must stay unsynced while offline")
		}

		online.Store(true)
		eventually(t, "delivery", func() bool {
			got, err := f.repo.Get(ctx, models.CategoryStory, record.ID())
			return err == nil && got.Synced()
		})

		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("expected clean shutdown, got %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("worker did not stop")
		}
	})

	t.Run("leftover records drain at startup", func(t *testing.T) {
		f := newFixture(t, origin.URL, nil)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		seeded := models.NewSubmissionRecord("r-1", models.CategoryReflection, time.Now(), nil)
		if err := f.repo.Put(ctx, seeded); err != nil {
			t.Fatalf("failed to seed: %v", err)
		}

		go f.worker.Start(ctx)
		eventually(t, "startup sync", func() bool { return f.deliverer.Calls("r-1") == 1 })
	})

	t.Run("restart while offline serves the stored generation", func(t *testing.T) {
		upstream := newOrigin(t, "")
		f := newFixture(t, upstream.URL, nil)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := f.worker.Install(ctx); err != nil {
			t.Fatalf("install failed: %v", err)
		}
		if err := f.worker.Activate(ctx); err != nil {
			t.Fatalf("activate failed: %v", err)
		}
		upstream.Close()

		restarted, err := New(Options{
			Cache:       f.worker.cache,
			Syncer:      f.worker.syncer,
			Preferences: f.prefs,
			Notifier:    f.notifier,
			Transport:   f.network,
			Interval:    10 * time.Millisecond,
			Logger:      quietLogger(),
		})
		if err != nil {
			t.Fatalf("failed to create worker: %v", err)
		}

		done := make(chan error, 1)
		go func() { done <- restarted.Start(ctx) }()
		eventually(t, "stored generation in use", func() bool { return restarted.State() == StateActivated })

		q := queue.NewQueue(f.repo, restarted.Scheduler(), quietLogger())
		record, err := q.Enqueue(ctx, models.CategoryStory, map[string]string{"title": "while offline"})
		if err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		eventually(t, "deferred delivery", func() bool { return f.deliverer.Calls(record.ID()) == 1 })

		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, upstream.URL+"/about", nil)
		req.Header.Set("Sec-Fetch-Mode", "navigate")
		resp, err := restarted.RoundTrip(req)
		if err != nil {
			t.Fatalf("expected the cached home page, got %v", err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if string(body) != "page /index.html" {
			t.Errorf("unexpected offline body %q", body)
		}

		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("expected clean shutdown, got %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("worker did not stop")
		}
	})

	t.Run("failed install without a stored generation still syncs", func(t *testing.T) {
		f := newFixture(t, newOrigin(t, "/index.html").URL, nil)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		seeded := models.NewSubmissionRecord("s-9", models.CategoryStory, time.Now(), nil)
		if err := f.repo.Put(ctx, seeded); err != nil {
			t.Fatalf("failed to seed: %v", err)
		}

		done := make(chan error, 1)
		go func() { done <- f.worker.Start(ctx) }()
		eventually(t, "startup sync", func() bool { return f.deliverer.Calls("s-9") == 1 })

		if f.worker.State() != StateRedundant {
			t.Errorf("expected redundant, got %s", f.worker.State())
		}
		if pending := f.worker.Scheduler().Pending(); len(pending) != 0 {
			t.Errorf("expected no pending tags, got %v", pending)
		}

		cancel()
		if err := <-done; err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	})
}
