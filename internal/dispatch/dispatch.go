// Package dispatch fans a broadcast out to its resolved audience, one
// recipient at a time, classifying every failure.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"relaybot/internal/session"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

var (
	ErrNoContent = errors.New("dispatch: job has no content")
	ErrNoTargets = errors.New("dispatch: job has no targets")
)

type Config struct {
	RatePerSec    int           // transport-wide ceiling, 0 disables
	BaseDelay     time.Duration // pause for jobs with DefaultPacing, 0 = none
	CooldownEvery int           // extra pause cadence, default 30
	Cooldown      time.Duration // extra pause length, default 2s
	ProgressEvery int           // progress callback cadence, default 50
	SendTimeout   time.Duration // per-delivery bound, default 30s
}

func (c Config) withDefaults() Config {
	if c.CooldownEvery <= 0 {
		c.CooldownEvery = 30
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 2 * time.Second
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = 50
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	return c
}

// Stats is the delivery ledger for one run. Delivered plus the four
// failure buckets always equals Total when a run completes; Failed is
// the sum of the buckets.
type Stats struct {
	Total          int
	Delivered      int
	Failed         int
	Blocked        int
	DeletedAccount int
	Unreachable    int
	Other          int
}

// DefaultPacing makes a job inherit the configured BaseDelay between
// deliveries instead of carrying its own.
const DefaultPacing time.Duration = -1

// Job is one confirmed broadcast.
type Job struct {
	Content session.Content
	Targets []int64
	// Pacing is the delay between deliveries. Zero means no extra
	// delay; DefaultPacing (or any negative value) uses the configured
	// BaseDelay.
	Pacing     time.Duration
	StartDelay time.Duration

	// OnScheduled fires once before a delayed run starts waiting.
	OnScheduled func(startAt time.Time)
	// OnStart fires when deliveries begin.
	OnStart func(total int)
	// OnProgress fires after every ProgressEvery deliveries and once at
	// the end of a completed run.
	OnProgress func(done int, st Stats)
}

// Sender is the transport surface the dispatcher delivers through.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
	SendPhoto(ctx context.Context, to transport.ChatTarget, photoID, caption string, opt *transport.SendOptions) (transport.MessageRef, error)
}

// Retractor receives every delivered message for deferred deletion.
type Retractor interface {
	After(recipient int64, ref transport.MessageRef)
}

type Dispatcher struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	sender  Sender
	retract Retractor
	log     logx.Logger
}

func New(cfg Config, sender Sender, retract Retractor, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{sender: sender, retract: retract, log: log}
	d.Apply(cfg)
	return d
}

// Apply swaps pacing settings, e.g. on config reload. A run already in
// flight picks the new values up at its next delivery.
func (d *Dispatcher) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	d.mu.Lock()
	d.cfg = cfg
	if cfg.RatePerSec > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	} else {
		d.limiter = nil
	}
	d.mu.Unlock()
}

func (d *Dispatcher) snapshot() (Config, *rate.Limiter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg, d.limiter
}

// Run delivers the job sequentially in target order. It returns partial
// stats with a non-nil error when the transport goes away or ctx is
// cancelled; every other delivery failure is counted and skipped.
func (d *Dispatcher) Run(ctx context.Context, job Job) (Stats, error) {
	if job.Content.Empty() {
		return Stats{}, ErrNoContent
	}
	if len(job.Targets) == 0 {
		return Stats{}, ErrNoTargets
	}

	st := Stats{Total: len(job.Targets)}
	start := time.Now()

	if job.StartDelay > 0 {
		if job.OnScheduled != nil {
			job.OnScheduled(start.Add(job.StartDelay))
		}
		if err := sleep(ctx, job.StartDelay); err != nil {
			return st, err
		}
	}
	if job.OnStart != nil {
		job.OnStart(st.Total)
	}
	d.log.Info("broadcast started",
		logx.Int("total", st.Total), logx.Bool("photo", job.Content.PhotoID != ""))

	for i, chatID := range job.Targets {
		cfg, lim := d.snapshot()

		if i > 0 {
			pause := job.Pacing
			if pause < 0 {
				pause = cfg.BaseDelay
			}
			if i%cfg.CooldownEvery == 0 {
				pause += cfg.Cooldown
			}
			if pause > 0 {
				if err := sleep(ctx, pause); err != nil {
					return st, err
				}
			}
		}
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return st, err
			}
		}

		ref, err := d.sendOne(ctx, cfg, job.Content, chatID)
		switch {
		case err == nil:
			st.Delivered++
			if d.retract != nil {
				d.retract.After(chatID, ref)
			}
		case ctx.Err() != nil:
			return st, ctx.Err()
		case errors.Is(err, transport.ErrUnavailable):
			d.log.Error("broadcast aborted, transport unavailable",
				logx.Int("done", i), logx.Err(err))
			return st, err
		default:
			st.Failed++
			switch transport.KindOf(err) {
			case transport.FailureForbidden:
				st.Blocked++
			case transport.FailureNotFound:
				st.DeletedAccount++
			case transport.FailureBadRequest:
				st.Unreachable++
			default:
				st.Other++
			}
			d.log.Debug("delivery failed",
				logx.Int64("chat_id", chatID), logx.Err(err))
		}

		done := i + 1
		if job.OnProgress != nil && done < st.Total && done%cfg.ProgressEvery == 0 {
			job.OnProgress(done, st)
		}
	}

	if job.OnProgress != nil {
		job.OnProgress(st.Total, st)
	}
	fields := []logx.Field{
		logx.Int("total", st.Total),
		logx.Int("delivered", st.Delivered),
		logx.Int("failed", st.Failed),
		logx.Duration("dur", time.Since(start)),
	}
	if st.Failed > 0 {
		d.log.Warn("broadcast finished with failures", fields...)
	} else {
		d.log.Info("broadcast finished", fields...)
	}
	return st, nil
}

func (d *Dispatcher) sendOne(ctx context.Context, cfg Config, c session.Content, chatID int64) (transport.MessageRef, error) {
	sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()
	to := transport.ChatTarget{ChatID: chatID}
	if c.PhotoID != "" {
		return d.sender.SendPhoto(sctx, to, c.PhotoID, c.Text, nil)
	}
	return d.sender.SendText(sctx, to, c.Text, nil)
}

func sleep(ctx context.Context, d time.Duration) error {
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
