package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/e-fakture/sefsync/app/repository"
	"github.com/e-fakture/sefsync/internal/pkg/invoicestatus"
	"github.com/e-fakture/sefsync/internal/pkg/sef"
)

const (
	// DefaultRedriveInterval is how often deferred and orphaned submissions
	// are re-driven.
	DefaultRedriveInterval = 2 * time.Minute
	// DefaultPollInterval is how often open invoice statuses are pulled from
	// the exchange.
	DefaultPollInterval = 5 * time.Minute

	// redriveAge keeps the redriver away from submissions another instance
	// may still be actively working on.
	redriveAge = 5 * time.Minute

	leaderLockKey = "sefsync:reconcile:leader"
	leaderLockTTL = 90 * time.Second

	batchLimit = 50
)

// leaderClient is the subset of the shared-cache client the cross-instance
// lock needs. *redis.Client satisfies it; tests inject a fake.
type leaderClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Reconciler periodically re-drives stalled submissions and pulls exchange
// statuses for open invoices, feeding both through the same monotonic state
// machine the webhook path uses. A shared-cache lock keeps reconciliation on
// a single instance at a time.
type Reconciler struct {
	subs      *sef.SubmissionService
	sefRepo   sef.Repository
	invoices  repository.InvoiceRepository
	companies repository.CompanyRepository
	status    *invoicestatus.Service

	locks      leaderClient
	instanceID string

	// Clients builds a poll client per company; tests inject fakes.
	Clients sef.ClientFactory

	RedriveInterval time.Duration
	PollInterval    time.Duration

	redriveTicker *time.Ticker
	pollTicker    *time.Ticker
	stopCh        chan struct{}
	wg            sync.WaitGroup
	mu            sync.Mutex
	running       bool
}

// NewReconciler wires a reconciler from explicit dependencies.
func NewReconciler(
	subs *sef.SubmissionService,
	sefRepo sef.Repository,
	invoices repository.InvoiceRepository,
	companies repository.CompanyRepository,
	status *invoicestatus.Service,
	rdb *redis.Client,
) *Reconciler {
	r := &Reconciler{
		subs:            subs,
		sefRepo:         sefRepo,
		invoices:        invoices,
		companies:       companies,
		status:          status,
		instanceID:      uuid.NewString(),
		Clients:         sef.DefaultClientFactory,
		RedriveInterval: DefaultRedriveInterval,
		PollInterval:    DefaultPollInterval,
		stopCh:          make(chan struct{}),
	}
	if rdb != nil {
		r.locks = rdb
	}
	return r
}

// NewReconcilerFromDB wires a reconciler from a GORM handle and the shared
// cache client.
func NewReconcilerFromDB(db *gorm.DB, rdb *redis.Client) *Reconciler {
	repos := repository.NewRepositories(db)
	return NewReconciler(
		sef.NewSubmissionServiceFromDB(db),
		sef.NewRepository(db),
		repos.Invoice,
		repos.Company,
		invoicestatus.NewServiceFromDB(db),
		rdb,
	)
}

// Start launches the background workers.
func (r *Reconciler) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}

	// Recreate stop channel per start cycle so the reconciler can be
	// restarted safely.
	r.stopCh = make(chan struct{})
	r.running = true
	log.Info("[Reconciler] Starting background synchronization")

	r.redriveTicker = time.NewTicker(r.RedriveInterval)
	r.wg.Add(1)
	go r.redriveWorker()

	r.pollTicker = time.NewTicker(r.PollInterval)
	r.wg.Add(1)
	go r.pollWorker()
}

// Stop stops the background workers and waits for them to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}

	log.Info("[Reconciler] Stopping background synchronization...")

	if r.redriveTicker != nil {
		r.redriveTicker.Stop()
	}
	if r.pollTicker != nil {
		r.pollTicker.Stop()
	}

	close(r.stopCh)
	r.running = false

	r.wg.Wait()
	r.releaseLeadership()
	log.Info("[Reconciler] Stopped")
}

// IsRunning returns whether the reconciler is currently running.
func (r *Reconciler) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Reconciler) redriveWorker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stopCh:
			log.Info("[Reconciler] Redrive worker stopping")
			return
		case <-r.redriveTicker.C:
			if !r.acquireLeadership() {
				continue
			}
			if err := r.RedriveOnce(context.Background()); err != nil {
				log.Errorf("[Reconciler] Redrive pass failed: %v", err)
			}
		}
	}
}

func (r *Reconciler) pollWorker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stopCh:
			log.Info("[Reconciler] Poll worker stopping")
			return
		case <-r.pollTicker.C:
			if !r.acquireLeadership() {
				continue
			}
			if err := r.PollOnce(context.Background()); err != nil {
				log.Errorf("[Reconciler] Poll pass failed: %v", err)
			}
		}
	}
}

// acquireLeadership takes or extends the cross-instance lock. The lock value
// is this instance's id, so the current leader recognizes its own lock and
// extends the lease instead of waiting for the TTL to lapse. Without a cache
// client every instance reconciles; acceptable for single-node setups.
func (r *Reconciler) acquireLeadership() bool {
	if r.locks == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := r.locks.SetNX(ctx, leaderLockKey, r.instanceID, leaderLockTTL).Result()
	if err != nil {
		log.Warnf("[Reconciler] Leader lock unavailable, skipping pass: %v", err)
		return false
	}
	if ok {
		return true
	}

	owner, err := r.locks.Get(ctx, leaderLockKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warnf("[Reconciler] Leader lock check failed, skipping pass: %v", err)
		}
		return false
	}
	if owner != r.instanceID {
		return false
	}
	if err := r.locks.Expire(ctx, leaderLockKey, leaderLockTTL).Err(); err != nil {
		log.Warnf("[Reconciler] Leader lease extension failed: %v", err)
	}
	return true
}

// releaseLeadership drops the lock on shutdown so another instance takes
// over without waiting out the lease.
func (r *Reconciler) releaseLeadership() {
	if r.locks == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	owner, err := r.locks.Get(ctx, leaderLockKey).Result()
	if err != nil || owner != r.instanceID {
		return
	}
	if err := r.locks.Del(ctx, leaderLockKey).Err(); err != nil {
		log.Warnf("[Reconciler] Leader lock release failed: %v", err)
	}
}

// RedriveOnce re-drives one batch of stalled submissions: deferred ones whose
// maintenance window may have passed and pending ones orphaned mid-attempt.
func (r *Reconciler) RedriveOnce(ctx context.Context) error {
	subs, err := r.sefRepo.ListRetryable(redriveAge, batchLimit)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return nil
	}
	log.Infof("[Reconciler] Re-driving %d stalled submission(s)", len(subs))

	for i := range subs {
		sub := &subs[i]
		inv, err := r.invoices.GetByID(sub.InvoiceID)
		if err != nil {
			log.Errorf("[Reconciler] Submission %s references missing invoice %d: %v", sub.UUID, sub.InvoiceID, err)
			continue
		}
		company, err := r.companies.GetByID(inv.CompanyID)
		if err != nil {
			log.Errorf("[Reconciler] Invoice %d references missing company %d: %v", inv.ID, inv.CompanyID, err)
			continue
		}
		if err := r.subs.RetrySubmission(ctx, company, inv, sub); err != nil {
			log.Warnf("[Reconciler] Redrive of submission %s did not complete: %v", sub.UUID, err)
		}
	}
	return nil
}

// PollOnce pulls the exchange status for one batch of open invoices and
// folds newer statuses in through the state machine. Conflicts with webhook
// deliveries resolve by the same monotonic rule either way.
func (r *Reconciler) PollOnce(ctx context.Context) error {
	invoices, err := r.invoices.ListOpenWithSEFID(batchLimit)
	if err != nil {
		return err
	}

	for i := range invoices {
		inv := &invoices[i]
		company, err := r.companies.GetByID(inv.CompanyID)
		if err != nil {
			log.Errorf("[Reconciler] Invoice %d references missing company %d: %v", inv.ID, inv.CompanyID, err)
			continue
		}

		exchangeStatus, err := r.Clients(company).PollStatus(ctx, inv.SEFID)
		if err != nil {
			log.Warnf("[Reconciler] Poll for invoice %d (sefId=%s) failed: %v", inv.ID, inv.SEFID, err)
			continue
		}
		target, ok := invoicestatus.FromExchange(exchangeStatus)
		if !ok {
			log.Warnf("[Reconciler] Invoice %d reported unmapped exchange status %q", inv.ID, exchangeStatus)
			continue
		}

		if _, err := r.status.Apply(ctx, invoicestatus.Transition{
			Invoice:   inv,
			Target:    target,
			EventType: "POLL",
			EventTime: time.Now(),
		}); err != nil {
			log.Errorf("[Reconciler] Applying polled status for invoice %d failed: %v", inv.ID, err)
		}
	}
	return nil
}
