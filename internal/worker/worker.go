package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/miroir/internal/cache"
	"github.com/desertthunder/miroir/internal/models"
	"github.com/desertthunder/miroir/internal/notify"
	"github.com/desertthunder/miroir/internal/queue"
	"github.com/desertthunder/miroir/internal/shared"
	"github.com/desertthunder/miroir/internal/tasks"
)

// BackgroundRuntime receives the lifecycle and functional events of the offline layer.
type BackgroundRuntime interface {
	Install(ctx context.Context) error
	Activate(ctx context.Context) error
	Fetch(req *http.Request) (*http.Response, error)
	Sync(ctx context.Context, tag string) error
	Push(ctx context.Context, payload []byte) (*notify.Notification, error)
	NotificationClick(ctx context.Context, action string) (string, error)
}

// State is a lifecycle state.
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

var stateNames = [...]string{"parsed", "installing", "installed", "activating", "activated", "redundant"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// SyncHandler drains the store behind a sync tag.
type SyncHandler interface {
	Sync(ctx context.Context, tag string) (queue.SyncReport, error)
}

// Options wires a [ServiceWorker].
type Options struct {
	Cache       *cache.Manager
	Syncer      SyncHandler
	Preferences notify.PreferenceSource // nil uses [notify.DefaultPreferences]
	Notifier    notify.Notifier         // nil logs notifications
	Transport   http.RoundTripper       // network used before activation (default: http.DefaultTransport)
	Probe       tasks.ConnectivityProbe // nil is always online
	Interval    time.Duration           // scheduler poll interval (default: 30s)
	Logger      *log.Logger
}

// ServiceWorker implements [BackgroundRuntime] and [http.RoundTripper].
type ServiceWorker struct {
	cache     *cache.Manager
	syncer    SyncHandler
	prefs     notify.PreferenceSource
	notifier  notify.Notifier
	transport http.RoundTripper
	scheduler *tasks.Scheduler
	logger    *log.Logger
	now       func() time.Time

	mu    sync.RWMutex
	state State
}

var _ BackgroundRuntime = (*ServiceWorker)(nil)

// New creates a worker in the parsed state together with its deferred sync scheduler.
func New(opts Options) (*ServiceWorker, error) {
	if opts.Cache == nil {
		return nil, fmt.Errorf("%w: worker needs a cache manager", shared.ErrInvalidConfig)
	}
	if opts.Syncer == nil {
		return nil, fmt.Errorf("%w: worker needs a sync handler", shared.ErrInvalidConfig)
	}

	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	logger = logger.With("component", "worker", "version", opts.Cache.Version())

	if opts.Notifier == nil {
		opts.Notifier = &notify.LogNotifier{Logger: logger}
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}

	w := &ServiceWorker{
		cache:     opts.Cache,
		syncer:    opts.Syncer,
		prefs:     opts.Preferences,
		notifier:  opts.Notifier,
		transport: opts.Transport,
		logger:    logger,
		now:       time.Now,
		state:     StateParsed,
	}
	w.scheduler = tasks.NewScheduler(w.Sync, opts.Probe, opts.Interval, logger)
	return w, nil
}

// State returns the current lifecycle state.
func (w *ServiceWorker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Scheduler returns the deferred sync scheduler. The submission queue registers tags with it.
func (w *ServiceWorker) Scheduler() *tasks.Scheduler { return w.scheduler }

func (w *ServiceWorker) setState(s State) {
	w.mu.Lock()
	prev := w.state
	w.state = s
	w.mu.Unlock()
	w.logger.Debug("state changed", "from", prev, "to", s)
}

// Install precaches the static manifest. A failed install leaves the worker redundant and stored
// generations untouched.
func (w *ServiceWorker) Install(ctx context.Context) error {
	w.setState(StateInstalling)

	if err := w.cache.Install(ctx); err != nil {
		w.setState(StateRedundant)
		w.logger.Error("install failed", "err", err)
		return err
	}

	w.setState(StateInstalled)
	w.logger.Info("installed")
	return nil
}

// Activate purges stale generations. It returns [shared.ErrNotInstalled] unless Install succeeded.
func (w *ServiceWorker) Activate(ctx context.Context) error {
	switch w.State() {
	case StateInstalled, StateActivated:
	default:
		return fmt.Errorf("%w: worker is %s", shared.ErrNotInstalled, w.State())
	}

	w.setState(StateActivating)
	removed, err := w.cache.Activate(ctx)
	if err != nil {
		w.setState(StateInstalled)
		return err
	}

	w.setState(StateActivated)
	w.logger.Info("activated", "purged", len(removed))
	return nil
}

// Fetch answers req through the cache once activated, and from the network before that.
func (w *ServiceWorker) Fetch(req *http.Request) (*http.Response, error) {
	if w.State() != StateActivated {
		return w.transport.RoundTrip(req)
	}
	return w.cache.Fetch(req)
}

// RoundTrip implements [http.RoundTripper]. See [ServiceWorker.Fetch].
func (w *ServiceWorker) RoundTrip(req *http.Request) (*http.Response, error) {
	return w.Fetch(req)
}

// Sync drains the store behind tag.
//
// Unknown tags are logged and ignored. When any record could not be delivered the result wraps
// [shared.ErrDeliveryFailed] so the scheduler keeps the tag pending.
func (w *ServiceWorker) Sync(ctx context.Context, tag string) error {
	report, err := w.syncer.Sync(ctx, tag)
	if errors.Is(err, shared.ErrUnknownTag) {
		w.logger.Warn("ignoring unknown sync tag", "tag", tag)
		return nil
	}
	if err != nil {
		return err
	}
	if report.Failed > 0 {
		return fmt.Errorf("%w: %d of %d %s left unsynced",
			shared.ErrDeliveryFailed, report.Failed, report.Pending, report.Category.Store())
	}
	return nil
}

// Push shows the notification for payload. It returns nil without error when preferences suppress it.
func (w *ServiceWorker) Push(ctx context.Context, payload []byte) (*notify.Notification, error) {
	now := w.now()
	prefs := w.preferences(ctx)
	if prefs.SuppressPush(now) {
		w.logger.Info("push suppressed", "enabled", prefs.Enabled, "quiet", prefs.InQuietHours(now))
		return nil, nil
	}

	n := notify.FromPush(payload, now)
	if err := w.notifier.Notify(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to show notification: %w", err)
	}
	return n, nil
}

// NotificationClick returns the page the action opens, or "" for none.
func (w *ServiceWorker) NotificationClick(ctx context.Context, action string) (string, error) {
	target := notify.Click(action)
	w.logger.Debug("notification click", "action", action, "open", target)
	return target, nil
}

// Start installs, activates and drains every category once, then runs the scheduler and reminder
// loops. It blocks until ctx is cancelled and returns nil on a clean shutdown.
//
// A failed install or activation is not fatal. A generation of this version already in storage keeps
// serving cache-first, otherwise requests go to the network. Sync and reminders run either way.
func (w *ServiceWorker) Start(ctx context.Context) error {
	if err := w.Install(ctx); err != nil {
		w.resume(ctx)
	} else if err := w.Activate(ctx); err != nil {
		w.logger.Warn("activate failed, stale generations kept", "err", err)
		w.resume(ctx)
	}

	for _, category := range models.Categories() {
		if err := w.Sync(ctx, category.SyncTag()); err != nil {
			w.logger.Warn("startup sync incomplete, deferring", "category", category, "err", err)
			if err := w.scheduler.Register(ctx, category.SyncTag()); err != nil {
				w.logger.Warn("failed to defer sync", "category", category, "err", err)
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.scheduler.Run(gctx) })
	g.Go(func() error { return w.runReminders(gctx) })

	err := g.Wait()
	w.scheduler.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// resume serves the stored generation of this version when the lifecycle could not complete.
func (w *ServiceWorker) resume(ctx context.Context) {
	ok, err := w.cache.Installed(ctx)
	if err != nil || !ok {
		w.logger.Warn("no stored generation, serving from the network", "err", err)
		return
	}
	w.setState(StateActivated)
	w.logger.Info("serving stored generation")
}

func (w *ServiceWorker) preferences(ctx context.Context) notify.Preferences {
	prefs, err := notify.LoadPreferences(ctx, w.prefs)
	if err != nil {
		w.logger.Warn("failed to load notification preferences, using defaults", "err", err)
	}
	return prefs
}
