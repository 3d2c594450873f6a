package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/desertthunder/miroir/internal/models"
	"github.com/desertthunder/miroir/internal/shared"
)

// Deliverer sends one record to its destination. Returning a [backoff.PermanentError] stops retries for that record.
type Deliverer interface {
	Deliver(ctx context.Context, record *models.SubmissionRecord) error
}

// SyncPolicy bounds the work of one sync run.
type SyncPolicy struct {
	MaxAttempts    int           // attempts per record per run
	InitialBackoff time.Duration // first retry delay
	MaxBackoff     time.Duration // retry delay cap
	AttemptTimeout time.Duration // deadline of a single delivery attempt
	Workers        int           // concurrent deliveries (default: 4, max: 10)
	RateLimit      float64       // deliveries started per second (default: 5)
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() SyncPolicy {
	return SyncPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		AttemptTimeout: 15 * time.Second,
		Workers:        4,
		RateLimit:      5.0,
	}
}

// PolicyFrom builds a [SyncPolicy] from the queue config, filling unset values with defaults.
func PolicyFrom(c shared.QueueConfig) SyncPolicy {
	p := SyncPolicy{
		MaxAttempts:    c.MaxAttempts,
		InitialBackoff: c.InitialBackoff.Duration,
		MaxBackoff:     c.MaxBackoff.Duration,
		AttemptTimeout: c.AttemptTimeout.Duration,
		Workers:        c.Workers,
		RateLimit:      c.RateLimit,
	}
	return p.normalize()
}

func (p SyncPolicy) normalize() SyncPolicy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = d.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = d.MaxBackoff
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = d.AttemptTimeout
	}
	if p.Workers <= 0 {
		p.Workers = d.Workers
	}
	if p.Workers > 10 {
		p.Workers = 10
	}
	if p.RateLimit <= 0 {
		p.RateLimit = d.RateLimit
	}
	return p
}

// SyncReport summarizes one sync run of a category.
type SyncReport struct {
	Category  models.Category
	Pending   int               // unsynced records found at the start of the run
	Delivered int               // records marked synced by this run
	Failed    int               // records left unsynced
	Errors    map[string]string // last error per failed record id
}

type syncResult struct {
	id  string
	err error
}

// Syncer drains unsynced records. Runs of the same category are serialized.
type Syncer struct {
	store     Store
	deliverer Deliverer
	policy    SyncPolicy
	logger    *log.Logger
	now       func() time.Time

	mu    sync.Mutex
	locks map[models.Category]*sync.Mutex
}

// NewSyncer creates a [Syncer] that delivers through d.
func NewSyncer(store Store, d Deliverer, policy SyncPolicy, logger *log.Logger) *Syncer {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Syncer{
		store:     store,
		deliverer: d,
		policy:    policy.normalize(),
		logger:    logger.With("component", "sync"),
		now:       time.Now,
		locks:     make(map[models.Category]*sync.Mutex),
	}
}

// Sync resolves tag to a category and drains it. Unknown tags return [shared.ErrUnknownTag].
func (s *Syncer) Sync(ctx context.Context, tag string) (SyncReport, error) {
	category, err := models.CategoryFromTag(tag)
	if err != nil {
		return SyncReport{}, err
	}
	return s.SyncCategory(ctx, category)
}

// SyncCategory delivers every unsynced record of category.
//
// Delivery failures are recorded on the record and reported, never returned; the error result is
// reserved for storage failures and cancellation.
func (s *Syncer) SyncCategory(ctx context.Context, category models.Category) (SyncReport, error) {
	lock := s.lockFor(category)
	lock.Lock()
	defer lock.Unlock()

	report := SyncReport{Category: category, Errors: map[string]string{}}

	records, err := s.store.ListUnsynced(ctx, category)
	if err != nil {
		return report, fmt.Errorf("failed to read %s: %w", category.Store(), err)
	}

	report.Pending = len(records)
	if len(records) == 0 {
		s.logger.Debug("nothing to sync", "category", category)
		return report, nil
	}

	s.logger.Info("sync started", "category", category, "pending", len(records))

	limiter := rate.NewLimiter(rate.Limit(s.policy.RateLimit), 1)
	jobs := make(chan *models.SubmissionRecord, len(records))
	results := make(chan syncResult, len(records))

	var wg sync.WaitGroup
	for i := 0; i < min(s.policy.Workers, len(records)); i++ {
		wg.Add(1)
		go s.worker(ctx, &wg, jobs, results)
	}

	go func() {
		defer close(jobs)
		for _, record := range records {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			jobs <- record
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var storageErrs []error
	for res := range results {
		switch {
		case res.err == nil:
			report.Delivered++
		case errors.Is(res.err, shared.ErrStorage):
			report.Failed++
			report.Errors[res.id] = res.err.Error()
			storageErrs = append(storageErrs, res.err)
		default:
			report.Failed++
			report.Errors[res.id] = res.err.Error()
		}
	}

	// records never handed to a worker because the run was cancelled
	report.Failed += report.Pending - report.Delivered - report.Failed

	s.logger.Info("sync finished",
		"category", category, "delivered", report.Delivered, "failed", report.Failed,
	)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, errors.Join(storageErrs...)
}

func (s *Syncer) worker(ctx context.Context, wg *sync.WaitGroup, jobs <-chan *models.SubmissionRecord, results chan<- syncResult) {
	defer wg.Done()

	for record := range jobs {
		results <- syncResult{id: record.ID(), err: s.syncOne(ctx, record)}
	}
}

// syncOne retries delivery of one record, then marks it synced or records the failure.
func (s *Syncer) syncOne(ctx context.Context, record *models.SubmissionRecord) error {
	logger := s.logger.With("category", record.Category(), "id", record.ID())

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.policy.InitialBackoff
	b.MaxInterval = s.policy.MaxBackoff

	operation := func() (struct{}, error) {
		actx, cancel := context.WithTimeout(ctx, s.policy.AttemptTimeout)
		defer cancel()
		return struct{}{}, s.deliverer.Deliver(actx, record)
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.policy.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Debug("delivery failed, retrying", "err", err, "next", next)
		}),
	)
	if err != nil {
		logger.Warn("delivery failed", "err", err)
		if rerr := s.store.RecordAttempt(context.WithoutCancel(ctx), record.Category(), record.ID(), err.Error()); rerr != nil {
			logger.Error("failed to record delivery attempt", "err", rerr)
		}
		return fmt.Errorf("%w: %w", shared.ErrDeliveryFailed, err)
	}

	changed, err := s.store.MarkSynced(context.WithoutCancel(ctx), record.Category(), record.ID(), s.now())
	if err != nil {
		logger.Error("delivered but failed to mark synced", "err", err)
		return err
	}
	if !changed {
		logger.Debug("record was already synced")
	}

	logger.Info("submission synced")
	return nil
}

func (s *Syncer) lockFor(category models.Category) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[category]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[category] = lock
	}
	return lock
}
