// Package maintenance runs the recurring housekeeping jobs: link cache
// refresh and expired-link pruning.
package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"relaybot/internal/links"
	"relaybot/pkg/logx"
)

type Config struct {
	// RefreshSpec and PruneSpec are standard five-field cron specs.
	RefreshSpec string // default hourly
	PruneSpec   string // default daily at 04:00
}

func (c Config) withDefaults() Config {
	if c.RefreshSpec == "" {
		c.RefreshSpec = "0 * * * *"
	}
	if c.PruneSpec == "" {
		c.PruneSpec = "0 4 * * *"
	}
	return c
}

type Service struct {
	cfg   Config
	links *links.Service
	log   logx.Logger
	c     *cron.Cron
}

func New(cfg Config, ls *links.Service, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.withDefaults(), links: ls, log: log.With(logx.String("comp", "maintenance"))}
}

func (s *Service) Start(ctx context.Context) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))

	if _, err := c.AddFunc(s.cfg.RefreshSpec, func() { s.refresh(ctx) }); err != nil {
		return err
	}
	if _, err := c.AddFunc(s.cfg.PruneSpec, func() { s.prune(ctx) }); err != nil {
		return err
	}
	c.Start()
	s.c = c

	// Warm the hot tier right away instead of waiting for the first tick.
	s.refresh(ctx)
	s.log.Info("maintenance jobs scheduled",
		logx.String("refresh", s.cfg.RefreshSpec), logx.String("prune", s.cfg.PruneSpec))
	return nil
}

func (s *Service) Stop() {
	if s.c == nil {
		return
	}
	done := s.c.Stop().Done()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.log.Warn("maintenance jobs still running at shutdown")
	}
	s.c = nil
}

func (s *Service) refresh(ctx context.Context) {
	rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.links.RefreshCache(rctx); err != nil {
		s.log.Warn("link cache refresh failed", logx.Err(err))
	}
}

func (s *Service) prune(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if _, err := s.links.Prune(pctx); err != nil {
		s.log.Warn("link prune failed", logx.Err(err))
	}
}
