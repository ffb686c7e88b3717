// Package retract deletes delivered broadcast messages after a
// retention window. Registrations live in memory only; anything pending
// at shutdown is dropped.
package retract

import (
	"context"
	"sync"
	"time"

	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

// Deleter is the transport surface the scheduler needs.
type Deleter interface {
	Delete(ctx context.Context, ref transport.MessageRef) error
}

type Config struct {
	Retention time.Duration // default 24h
	Workers   int           // default 2
}

type task struct {
	recipient int64
	ref       transport.MessageRef
}

// Scheduler arms one timer per delivered message and funnels expired
// ones through a small worker pool so a burst of expiries cannot stall
// the timer goroutines.
type Scheduler struct {
	cfg Config
	del Deleter
	log logx.Logger

	mu      sync.Mutex
	timers  map[uint64]*time.Timer
	nextID  uint64
	stopped bool

	queue  chan task
	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, del Deleter, log logx.Logger) *Scheduler {
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		cfg:    cfg,
		del:    del,
		log:    log,
		timers: make(map[uint64]*time.Timer),
		queue:  make(chan task, 256),
	}
}

// Start launches the deletion workers. The scheduler accepts After()
// registrations only between Start and Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.stopped = false
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.log.Info("retraction scheduler started",
		logx.Duration("retention", s.cfg.Retention), logx.Int("workers", s.cfg.Workers))
}

// After schedules ref for deletion one retention window from now.
// Failures during deletion are logged and dropped, never retried.
func (s *Scheduler) After(recipient int64, ref transport.MessageRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.runCtx == nil {
		return
	}
	s.nextID++
	id := s.nextID
	s.timers[id] = time.AfterFunc(s.cfg.Retention, func() {
		s.fire(id, task{recipient: recipient, ref: ref})
	})
	s.log.Debug("retraction armed",
		logx.Int64("recipient", recipient),
		logx.Int("message_id", ref.MessageID),
		logx.Duration("in", s.cfg.Retention))
}

func (s *Scheduler) fire(id uint64, t task) {
	s.mu.Lock()
	_, live := s.timers[id]
	delete(s.timers, id)
	stopped := s.stopped
	s.mu.Unlock()
	if !live || stopped {
		return
	}
	select {
	case s.queue <- t:
	case <-s.runCtx.Done():
	}
}

// Pending reports armed-but-unfired registrations, for tests and
// shutdown logging.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels all pending timers and waits for in-flight deletions.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped || s.runCtx == nil {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	dropped := len(s.timers)
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	if dropped > 0 {
		s.log.Warn("retractions dropped at shutdown", logx.Int("pending", dropped))
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.runCtx.Done():
			return
		case t := <-s.queue:
			s.deleteOne(t)
		}
	}
}

func (s *Scheduler) deleteOne(t task) {
	ctx, cancel := context.WithTimeout(s.runCtx, 15*time.Second)
	defer cancel()
	if err := s.del.Delete(ctx, t.ref); err != nil {
		s.log.Warn("retraction failed",
			logx.Int64("recipient", t.recipient),
			logx.Int("message_id", t.ref.MessageID),
			logx.Err(err))
		return
	}
	s.log.Debug("message retracted",
		logx.Int64("recipient", t.recipient),
		logx.Int("message_id", t.ref.MessageID))
}
