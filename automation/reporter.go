package automation

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/eladsnd/sunday/domain"
)

// FailureSink durably records failures.
type FailureSink interface {
	Record(ctx context.Context, f domain.AutomationFailure) error
}

// ReporterConfig sizes an AsyncReporter.
type ReporterConfig struct {
	Workers        int
	Buffer         int
	Timeout        time.Duration
	HandoffTimeout time.Duration
}

func (c ReporterConfig) withDefaults() ReporterConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Buffer < 0 {
		c.Buffer = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

type reportJob struct {
	failure domain.AutomationFailure
}

// AsyncReporter hands failures to a pool of workers that write them to a
// FailureSink, so recording never delays the request that triggered the
// automation. When the pool is saturated past the handoff timeout, or
// closed, the failure is recorded inline.
type AsyncReporter struct {
	sink    FailureSink
	logger  *log.Logger
	cfg     ReporterConfig
	now     func() time.Time
	jobs    chan reportJob
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	closeMu sync.Once
}

var _ FailureReporter = (*AsyncReporter)(nil)

func NewAsyncReporter(sink FailureSink, logger *log.Logger, cfg ReporterConfig) *AsyncReporter {
	if sink == nil {
		panic("automation.NewAsyncReporter: sink is nil")
	}
	if logger == nil {
		panic("Logger is not initialized")
	}
	cfg = cfg.withDefaults()
	r := &AsyncReporter{
		sink:   sink,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
		jobs:   make(chan reportJob, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	logger.Infof("failure reporter started, workers: %d, buffer: %d, timeout: %v, handoff: %v", cfg.Workers, cfg.Buffer, cfg.Timeout, cfg.HandoffTimeout)
	return r
}

func (r *AsyncReporter) worker(id int) {
	defer r.wg.Done()
	for j := range r.jobs {
		r.record(j, id)
	}
}

func (r *AsyncReporter) record(j reportJob, worker int) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()
	if err := r.sink.Record(ctx, j.failure); err != nil {
		r.logger.WithFields(log.Fields{
			"board":  j.failure.BoardID,
			"rule":   j.failure.RuleID,
			"item":   j.failure.ItemID,
			"worker": worker,
		}).WithError(err).Error("record automation failure")
	}
}

// Report queues the failure for recording.
func (r *AsyncReporter) Report(_ context.Context, failure *domain.ActionExecutionError) {
	if failure == nil {
		return
	}
	job := reportJob{failure: failure.Failure(r.now().UTC())}
	if r.tryEnqueue(job) {
		return
	}
	r.logger.WithField("board", failure.BoardID).Warn("failure reporter saturated, recording inline")
	r.record(job, -1)
}

func (r *AsyncReporter) tryEnqueue(job reportJob) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}

	select {
	case r.jobs <- job:
		return true
	default:
	}
	if r.cfg.HandoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(r.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case r.jobs <- job:
		return true
	case <-timer.C:
		return false
	}
}

// Close stops accepting work and waits for queued failures to be recorded.
func (r *AsyncReporter) Close() {
	r.closeMu.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.jobs)
		r.mu.Unlock()
		r.wg.Wait()
	})
}
