// Package bot is the operator-facing conversation layer: it routes
// adapter updates into the broadcast setup flow, the directory tools and
// the secure-link flow.
package bot

import (
	"context"
	"sync"
	"time"

	"relaybot/internal/directory"
	"relaybot/internal/dispatch"
	"relaybot/internal/links"
	"relaybot/internal/runtime/supervisor"
	"relaybot/internal/segment"
	"relaybot/internal/session"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

type Config struct {
	Owners []int64
}

type Service struct {
	cfgMu      sync.RWMutex
	cfg        Config
	adapter    transport.Adapter
	sessions   *session.Store
	dir        *directory.Store
	dispatcher *dispatch.Dispatcher
	links      *links.Service
	log        logx.Logger

	updates chan transport.Update
	sup     *supervisor.Supervisor
}

func New(cfg Config, adapter transport.Adapter, dir *directory.Store, d *dispatch.Dispatcher, ls *links.Service, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:        cfg,
		adapter:    adapter,
		sessions:   session.NewStore(),
		dir:        dir,
		dispatcher: d,
		links:      ls,
		log:        log.With(logx.String("comp", "bot")),
		updates:    make(chan transport.Update, 64),
	}
}

// Start brings the adapter up, registers the command menus and begins
// routing updates. It returns once the routing goroutines are launched.
func (s *Service) Start(ctx context.Context) error {
	if err := s.adapter.Start(ctx, s.updates); err != nil {
		return err
	}
	s.registerCommands(ctx)

	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	s.sup.Go0("bot.route", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case u := <-s.updates:
				s.route(ctx, u)
			}
		}
	})
	s.log.Info("conversation routing started", logx.Int("owners", len(s.cfg.Owners)))
	return nil
}

// Stop halts routing and the adapter.
func (s *Service) Stop(ctx context.Context) {
	if s.sup != nil {
		s.sup.Cancel()
		_ = s.sup.Wait(ctx)
	}
	_ = s.adapter.Stop(ctx)
	if n := s.sessions.Len(); n > 0 {
		s.log.Info("sessions dropped at shutdown", logx.Int("count", n))
	}
}

// Apply swaps the owner list on config reload.
func (s *Service) Apply(cfg Config) {
	s.cfgMu.Lock()
	s.cfg.Owners = cfg.Owners
	s.cfgMu.Unlock()
}

func (s *Service) isOwner(userID int64) bool {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	for _, id := range s.cfg.Owners {
		if id == userID {
			return true
		}
	}
	return false
}

func (s *Service) route(ctx context.Context, u transport.Update) {
	switch u.Kind {
	case transport.UpdateMessage:
		if u.Message != nil {
			s.handleMessage(ctx, u.Message)
		}
	case transport.UpdateCallback:
		if u.Callback != nil {
			s.handleCallback(ctx, u.Callback)
		}
	}
}

func (s *Service) registerCommands(ctx context.Context) {
	updater, ok := s.adapter.(transport.CommandMenuUpdater)
	if !ok {
		return
	}
	adminCmds := []transport.BotCommand{
		{Command: "start", Description: "Open the admin menu"},
		{Command: "broadcast", Description: "Start a broadcast"},
		{Command: "stats", Description: "Show directory totals"},
	}
	for _, owner := range s.cfg.Owners {
		if err := updater.UpdateMenuCommands(ctx, adminCmds, owner); err != nil {
			s.log.Warn("command menu update failed", logx.Int64("owner", owner), logx.Err(err))
		}
	}
}

// reply sends HTML-formatted text back to a chat, with optional markup.
func (s *Service) reply(ctx context.Context, chatID int64, text string, markup any) {
	opt := &transport.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if markup != nil {
		opt.ReplyMarkup = markup
	}
	sctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if _, err := s.adapter.SendText(sctx, transport.ChatTarget{ChatID: chatID}, text, opt); err != nil {
		s.log.Warn("reply failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

// resolveTargets materializes the session's segment and moves the
// operator to content capture, or reports an empty match.
func (s *Service) resolveTargets(ctx context.Context, operatorID int64, spec segment.Spec) {
	targets, err := segment.Resolve(ctx, s.dir, spec, time.Now())
	if err != nil {
		s.log.Warn("segment resolve failed", logx.Int64("operator", operatorID), logx.Err(err))
		s.reply(ctx, operatorID, "Could not resolve that audience: "+err.Error(), nil)
		return
	}
	if len(targets) == 0 {
		s.sessions.Put(&session.Session{
			OperatorID: operatorID,
			Step:       session.StepSelectingAudience,
		})
		s.reply(ctx, operatorID, "No recipients match that audience. Pick another:", audienceMenu())
		return
	}
	s.sessions.Put(&session.Session{
		OperatorID: operatorID,
		Step:       session.StepAwaitingContent,
		Segment:    spec,
		Targets:    targets,
		Pacing:     dispatch.DefaultPacing,
	})
	s.reply(ctx, operatorID, promptContent(spec, len(targets)), nil)
}
