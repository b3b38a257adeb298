package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/sitesync/internal/platform/logging"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

const (
	defaultWorkers      = 8
	defaultPollInterval = 2 * time.Second
	defaultSweepLimit   = 500
)

// ErrClosed is returned by Sweep after Close.
var ErrClosed = errors.New("dispatcher is closed")

// Drainer executes a project's PENDING commands until none remain.
type Drainer interface {
	DrainProject(ctx context.Context, projectID string) error
}

// PendingLister reports projects that still have PENDING commands.
type PendingLister interface {
	ListPendingProjects(ctx context.Context, limit int) ([]string, error)
}

// State is a project's queue state.
type State string

const (
	StateIdle    State = "IDLE"
	StateRunning State = "RUNNING"
)

// Config tunes a Dispatcher. Zero values take defaults.
type Config struct {
	// Workers bounds how many projects drain at once.
	Workers      int
	PollInterval time.Duration
	// SweepLimit caps project ids loaded per recovery sweep.
	SweepLimit int
	// Locker guards a project across processes. Defaults to a LocalLocker.
	Locker Locker
	Logger log.FieldLogger
}

type project struct {
	dirty bool
}

// Dispatcher serializes command execution per project.
type Dispatcher struct {
	drainer Drainer
	pending PendingLister
	locker  Locker
	slots   *semaphore.Weighted
	poll    time.Duration
	limit   int
	logger  log.FieldLogger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	projects map[string]*project
}

// New builds a dispatcher. pending may be nil when no sweep is wanted.
func New(drainer Drainer, pending PendingLister, cfg Config) (*Dispatcher, error) {
	if drainer == nil {
		return nil, fmt.Errorf("drainer is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.SweepLimit <= 0 {
		cfg.SweepLimit = defaultSweepLimit
	}
	if cfg.Locker == nil {
		cfg.Locker = NewLocalLocker()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		drainer:  drainer,
		pending:  pending,
		locker:   cfg.Locker,
		slots:    semaphore.NewWeighted(int64(cfg.Workers)),
		poll:     cfg.PollInterval,
		limit:    cfg.SweepLimit,
		logger:   logging.OrDiscard(cfg.Logger),
		base:     base,
		cancel:   cancel,
		projects: make(map[string]*project),
	}, nil
}

// Enqueue signals that projectID has new work. It never blocks.
func (d *Dispatcher) Enqueue(projectID string) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.base.Err() != nil {
		return
	}
	if p, ok := d.projects[projectID]; ok {
		p.dirty = true
		return
	}
	d.projects[projectID] = &project{}
	d.wg.Add(1)
	go d.work(projectID)
}

// State reports whether a worker is active for projectID.
func (d *Dispatcher) State(projectID string) State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.projects[projectID]; ok {
		return StateRunning
	}
	return StateIdle
}

// Running returns the number of projects with an active worker.
func (d *Dispatcher) Running() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.projects)
}

func (d *Dispatcher) work(projectID string) {
	defer d.wg.Done()
	logger := d.logger.WithField("project_id", projectID)

	if err := d.slots.Acquire(d.base, 1); err != nil {
		d.idle(projectID)
		return
	}
	defer d.slots.Release(1)

	for {
		if !d.drainOnce(logger, projectID) {
			d.idle(projectID)
			return
		}
		if !d.recheck(projectID) {
			return
		}
	}
}

// drainOnce holds the project lease for one drain. It reports false when the
// lease is unavailable or lost, or the dispatcher is closing.
func (d *Dispatcher) drainOnce(logger log.FieldLogger, projectID string) bool {
	if d.base.Err() != nil {
		return false
	}
	lease, ok, err := d.locker.TryLock(d.base, projectID)
	if err != nil {
		logger.WithError(err).Warn("acquire project lease")
		return false
	}
	if !ok {
		logger.Debug("project lease held elsewhere")
		return false
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(d.base)); err != nil {
			logger.WithError(err).Warn("release project lease")
		}
	}()

	// The drain stops between commands once the lease is gone.
	drainCtx, cancel := context.WithCancel(d.base)
	defer cancel()
	go func() {
		select {
		case <-lease.Done():
			cancel()
		case <-drainCtx.Done():
		}
	}()

	started := time.Now()
	if err := d.drainer.DrainProject(drainCtx, projectID); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("drain project")
	}
	select {
	case <-lease.Done():
		logger.Warn("project lease lost during drain")
		return false
	default:
	}
	logger.WithField("duration_ms", time.Since(started).Milliseconds()).Debug("project drained")
	return true
}

// recheck consumes a pending dirty mark. Without one the project goes IDLE
// under the same lock Enqueue takes, so no signal is lost.
func (d *Dispatcher) recheck(projectID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.projects[projectID]
	if p != nil && p.dirty && d.base.Err() == nil {
		p.dirty = false
		return true
	}
	delete(d.projects, projectID)
	return false
}

func (d *Dispatcher) idle(projectID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.projects, projectID)
}

// Sweep enqueues every project that has PENDING commands.
func (d *Dispatcher) Sweep(ctx context.Context) (int, error) {
	if d.base.Err() != nil {
		return 0, ErrClosed
	}
	if d.pending == nil {
		return 0, nil
	}
	projectIDs, err := d.pending.ListPendingProjects(ctx, d.limit)
	if err != nil {
		return 0, fmt.Errorf("list pending projects: %w", err)
	}
	for _, projectID := range projectIDs {
		d.Enqueue(projectID)
	}
	return len(projectIDs), nil
}

// Run sweeps on start and every poll interval until ctx is done, then closes
// the dispatcher.
func (d *Dispatcher) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer d.Close()

	d.sweep(ctx)
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.base.Done():
			return nil
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

func (d *Dispatcher) sweep(ctx context.Context) {
	count, err := d.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, ErrClosed) {
			d.logger.WithError(err).Warn("recovery sweep failed")
		}
		return
	}
	if count > 0 {
		d.logger.WithField("projects", count).Debug("recovery sweep enqueued projects")
	}
}

// Wait blocks until no project is RUNNING.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close stops accepting work, lets each worker finish its current command,
// and waits for them.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.cancel()
	d.mu.Unlock()
	d.wg.Wait()
}
