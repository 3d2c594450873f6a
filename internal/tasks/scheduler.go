package tasks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/miroir/internal/shared"
)

// Handler runs the deferred work registered under tag.
type Handler func(ctx context.Context, tag string) error

// ConnectivityProbe reports whether the destination is reachable.
type ConnectivityProbe interface {
	Online(ctx context.Context) bool
}

// AlwaysOnline is a [ConnectivityProbe] that never blocks a sync.
type AlwaysOnline struct{}

func (AlwaysOnline) Online(context.Context) bool { return true }

// HTTPProbe checks connectivity with a HEAD request. Any HTTP response counts as online.
type HTTPProbe struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

func (p *HTTPProbe) Online(ctx context.Context) bool {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}

	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// Scheduler holds registered sync tags until they can run.
//
// Registering a tag that is already pending collapses into the existing registration. A tag stays
// pending until its handler succeeds; a registration that arrives while the handler runs keeps it
// pending for another pass.
type Scheduler struct {
	handler  Handler
	probe    ConnectivityProbe
	interval time.Duration
	logger   *log.Logger

	mu      sync.Mutex
	pending map[string]uint64
	seq     uint64
	closed  bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// NewScheduler creates a [Scheduler]. A nil probe is treated as [AlwaysOnline].
func NewScheduler(handler Handler, probe ConnectivityProbe, interval time.Duration, logger *log.Logger) *Scheduler {
	if probe == nil {
		probe = AlwaysOnline{}
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Scheduler{
		handler:  handler,
		probe:    probe,
		interval: interval,
		logger:   logger.With("component", "scheduler"),
		pending:  make(map[string]uint64),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Register marks tag pending and wakes the run loop.
func (s *Scheduler) Register(ctx context.Context, tag string) error {
	if tag == "" {
		return fmt.Errorf("%w: sync tag is required", shared.ErrInvalidInput)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return shared.ErrSchedulerClosed
	}
	s.seq++
	s.pending[tag] = s.seq
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the pending tags in name order.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	tags := make([]string, 0, len(s.pending))
	for tag := range s.pending {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Flush runs every pending tag once if the probe reports connectivity. It returns the number of tags
// whose handler succeeded.
func (s *Scheduler) Flush(ctx context.Context) int {
	s.mu.Lock()
	snapshot := make(map[string]uint64, len(s.pending))
	for tag, seq := range s.pending {
		snapshot[tag] = seq
	}
	s.mu.Unlock()

	if len(snapshot) == 0 {
		return 0
	}

	if !s.probe.Online(ctx) {
		s.logger.Debug("offline, deferring", "pending", len(snapshot))
		return 0
	}

	tags := make([]string, 0, len(snapshot))
	for tag := range snapshot {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	fired := 0
	for _, tag := range tags {
		if ctx.Err() != nil {
			break
		}

		err := s.handler(ctx, tag)
		switch {
		case err == nil:
			fired++
			s.settle(tag, snapshot[tag])
		case errors.Is(err, shared.ErrUnknownTag):
			s.logger.Warn("dropping unknown tag", "tag", tag)
			s.settle(tag, snapshot[tag])
		default:
			s.logger.Warn("sync failed, keeping tag pending", "tag", tag, "err", err)
		}
	}
	return fired
}

// settle removes tag unless it was registered again after the snapshot.
func (s *Scheduler) settle(tag string, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[tag] == seq {
		delete(s.pending, tag)
	}
}

// Run flushes on every registration and poll tick until ctx is done or [Scheduler.Close] is called.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Debug("scheduler started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-s.wake:
		case <-ticker.C:
		}
		s.Flush(ctx)
	}
}

// Close stops the run loop. Later registrations return [shared.ErrSchedulerClosed].
func (s *Scheduler) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
	return nil
}
