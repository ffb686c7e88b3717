// Package app assembles the relay: config, logging, storage, transport,
// the dispatcher and the conversation layer, plus hot reload plumbing.
package app

import (
	"context"
	"time"

	"relaybot/internal/bot"
	"relaybot/internal/config"
	"relaybot/internal/directory"
	"relaybot/internal/dispatch"
	"relaybot/internal/links"
	"relaybot/internal/maintenance"
	"relaybot/internal/retract"
	"relaybot/internal/runtime/supervisor"
	"relaybot/internal/storage"
	"relaybot/internal/transport/telegram"
	"relaybot/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	db        *storage.DB
	dir       *directory.Store
	linksSvc  *links.Service
	apiSrv    *links.APIServer
	adapter   *telegram.Adapter
	retractor *retract.Scheduler
	disp      *dispatch.Dispatcher
	botSvc    *bot.Service
	maint     *maintenance.Service

	sup   *supervisor.Supervisor
	cfgCh chan *config.Config
}

// New loads the config and builds every component. Nothing starts yet.
func New(configPath string) (*App, error) {
	mgr := config.NewManager(configPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(loggingConfig(cfg))
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	busy, _ := config.ParseDuration("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	db, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	dir := directory.NewStore(db.SQL(), log.With(logx.String("comp", "directory")))
	linksSvc := links.NewService(linksConfig(cfg), db.SQL(), log.With(logx.String("comp", "links")))

	pollTimeout, _ := config.ParseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = db.Close()
		logSvc.Close()
		return nil, err
	}

	retention, _ := config.ParseDuration("retract.retention", cfg.Retract.Retention, 24*time.Hour)
	retractor := retract.New(retract.Config{
		Retention: retention,
		Workers:   cfg.Retract.Workers,
	}, adapter, log.With(logx.String("comp", "retract")))

	disp := dispatch.New(dispatchConfig(cfg), adapter, retractor, log.With(logx.String("comp", "dispatch")))
	botSvc := bot.New(bot.Config{Owners: cfg.Telegram.OwnerUserIDs}, adapter, dir, disp, linksSvc, log)

	refresh, _ := config.ParseDuration("links.refresh", cfg.Links.Refresh, time.Hour)
	maint := maintenance.New(maintenance.Config{
		RefreshSpec: "@every " + refresh.String(),
	}, linksSvc, log)

	return &App{
		cfgMgr:    mgr,
		logSvc:    logSvc,
		log:       log,
		db:        db,
		dir:       dir,
		linksSvc:  linksSvc,
		apiSrv:    links.NewAPIServer(linksSvc, dir, log),
		adapter:   adapter,
		retractor: retractor,
		disp:      disp,
		botSvc:    botSvc,
		maint:     maint,
	}, nil
}

// Start brings every component up and begins watching the config file.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	runCtx := a.sup.Context()

	a.retractor.Start(runCtx)
	if err := a.botSvc.Start(runCtx); err != nil {
		return err
	}
	if err := a.maint.Start(runCtx); err != nil {
		return err
	}
	a.apiSrv.Apply(runCtx, apiConfig(a.cfgMgr.Get()))

	a.cfgCh = a.cfgMgr.Subscribe(1)
	a.sup.Go("config.watch", a.cfgMgr.Watch)
	a.sup.Go0("config.apply", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case cfg := <-a.cfgCh:
				if cfg != nil {
					a.applyConfig(ctx, cfg)
				}
			}
		}
	})

	a.log.Info("relay started")
	return nil
}

// applyConfig pushes a validated reload into the running components.
// Storage and transport settings need a restart and are left alone.
func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logSvc.Apply(loggingConfig(cfg))
	a.disp.Apply(dispatchConfig(cfg))
	a.botSvc.Apply(bot.Config{Owners: cfg.Telegram.OwnerUserIDs})
	a.apiSrv.Apply(ctx, apiConfig(cfg))
	a.log.Info("config reloaded")
}

// Stop shuts everything down in reverse dependency order.
func (a *App) Stop(ctx context.Context) {
	if a.sup != nil {
		a.sup.Cancel()
		_ = a.sup.Wait(ctx)
	}
	if a.cfgCh != nil {
		a.cfgMgr.Unsubscribe(a.cfgCh)
	}
	a.botSvc.Stop(ctx)
	a.maint.Stop()
	a.retractor.Stop()
	a.apiSrv.Stop(ctx)
	if err := a.db.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.log.Info("relay stopped")
	a.logSvc.Close()
}

func loggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func dispatchConfig(cfg *config.Config) dispatch.Config {
	base, _ := config.ParseDuration("broadcast.base_delay", cfg.Broadcast.BaseDelay, 100*time.Millisecond)
	cooldown, _ := config.ParseDuration("broadcast.cooldown", cfg.Broadcast.Cooldown, 2*time.Second)
	sendTimeout, _ := config.ParseDuration("broadcast.send_timeout", cfg.Broadcast.SendTimeout, 30*time.Second)
	ceiling := cfg.Broadcast.RatePerSec
	if ceiling == 0 {
		ceiling = 25
	}
	return dispatch.Config{
		RatePerSec:    ceiling,
		BaseDelay:     base,
		CooldownEvery: cfg.Broadcast.CooldownEvery,
		Cooldown:      cooldown,
		ProgressEvery: cfg.Broadcast.ProgressEvery,
		SendTimeout:   sendTimeout,
	}
}

func linksConfig(cfg *config.Config) links.Config {
	ttl, _ := config.ParseDuration("links.ttl", cfg.Links.TTL, 720*time.Hour)
	return links.Config{
		BotUsername: cfg.Telegram.BotUsername,
		AppName:     cfg.Telegram.AppName,
		TTL:         ttl,
		CacheSize:   cfg.Links.CacheSize,
	}
}

func apiConfig(cfg *config.Config) links.APIConfig {
	return links.APIConfig{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr}
}
