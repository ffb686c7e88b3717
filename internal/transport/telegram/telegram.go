package telegram

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "relaybot/internal/runtime/supervisor"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- transport.Update)
	runMu   sync.Mutex
	running bool

	// sup owns adapter internal goroutines (poll loop, drop logger, stop watcher).
	// It is created on Start() and cancelled on Stop().
	sup *rtsup.Supervisor

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the poll loop. Logged periodically to avoid per-update spam.
	droppedUpdates uint64

	menuMu   sync.Mutex
	menuHash string
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		a.sendUpdate(transport.Update{
			Kind:    transport.UpdateMessage,
			Message: messageFrom(m, m.Text, ""),
		})
		return nil
	})

	a.bot.Handle(tele.OnPhoto, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Photo == nil {
			return nil
		}
		a.sendUpdate(transport.Update{
			Kind:    transport.UpdateMessage,
			Message: messageFrom(m, m.Caption, m.Photo.FileID),
		})
		return nil
	})

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil {
			return nil
		}
		a.sendUpdate(transport.Update{
			Kind: transport.UpdateCallback,
			Callback: &transport.Callback{
				ID:        cb.ID,
				ChatID:    m.Chat.ID,
				FromID:    cb.Sender.ID,
				MessageID: m.ID,
				Data:      strings.TrimSpace(cb.Data),
			},
		})
		return nil
	})
}

func messageFrom(m *tele.Message, text, photoID string) *transport.Message {
	return &transport.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		FromID:       m.Sender.ID,
		FromFirst:    m.Sender.FirstName,
		FromLast:     m.Sender.LastName,
		FromUsername: m.Sender.Username,
		Text:         text,
		PhotoID:      photoID,
	}
}

func (a *Adapter) sendUpdate(up transport.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- transport.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
		if a.log.Enabled(logx.LevelDebug) {
			a.log.Debug("update forwarded", logx.String("kind", string(up.Kind)))
		}
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		// adapter errors should not take down the whole app; treat as best-effort
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	// Periodic summary for dropped updates (avoid noisy per-update logs).
	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n))
				}
			}
		}
	})

	// Ensure we stop telebot when the adapter context is cancelled.
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		if a.bot != nil {
			a.bot.Stop()
		}
	})

	// Telebot's Start() is a long-running loop. In some failure modes it can
	// exit unexpectedly; run it under a restart loop so the adapter self-heals.
	sup.GoRestart0("telebot.poll", func(c context.Context) {
		a.log.Info("polling started")
		if a.bot != nil {
			a.bot.Start()
		}
		a.log.Info("polling stopped")
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if sup != nil {
		sup.Cancel()
	}
	// telebot Stop is expected to be fast; run it async just in case.
	if a.bot != nil {
		go a.bot.Stop()
	}

	// Grace window: keep shutdown snappy even if getUpdates long-poll is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	if sup == nil {
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Warn("telegram stop error", logx.Err(err))
	}
	return nil
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	msg, err := send(ctx, func() (*tele.Message, error) {
		return a.bot.Send(&tele.Chat{ID: to.ChatID}, text, sendOptions(opt))
	})
	if err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

func (a *Adapter) SendPhoto(ctx context.Context, to transport.ChatTarget, photoID, caption string, opt *transport.SendOptions) (transport.MessageRef, error) {
	photo := &tele.Photo{File: tele.File{FileID: photoID}, Caption: caption}
	msg, err := send(ctx, func() (*tele.Message, error) {
		return a.bot.Send(&tele.Chat{ID: to.ChatID}, photo, sendOptions(opt))
	})
	if err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

// send runs the synchronous telebot call on its own goroutine so the
// context can bound it. A deadline hit counts as a per-recipient failure;
// plain cancellation propagates unclassified for the caller to abort on.
func send(ctx context.Context, call func() (*tele.Message, error)) (*tele.Message, error) {
	type result struct {
		msg *tele.Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := call()
		ch <- result{msg: msg, err: err}
	}()
	select {
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &transport.Failure{Kind: transport.FailureOther, Err: err}
		}
		return nil, err
	case r := <-ch:
		if r.err != nil {
			return nil, classify(r.err)
		}
		return r.msg, nil
	}
}

func (a *Adapter) Delete(ctx context.Context, ref transport.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := tele.StoredMessage{MessageID: strconv.Itoa(ref.MessageID), ChatID: ref.ChatID}
	if err := a.bot.Delete(stored); err != nil {
		return classify(err)
	}
	return nil
}

// Probe issues a typing chat action; it delivers nothing visible but
// surfaces the recipient's reachability.
func (a *Adapter) Probe(ctx context.Context, to transport.ChatTarget) (transport.ProbeStatus, error) {
	if err := ctx.Err(); err != nil {
		return transport.ProbeUnreachable, err
	}
	err := a.bot.Notify(&tele.Chat{ID: to.ChatID}, tele.Typing)
	if err == nil {
		return transport.ProbeActive, nil
	}
	switch transport.KindOf(classify(err)) {
	case transport.FailureForbidden:
		return transport.ProbeBlocked, nil
	case transport.FailureNotFound:
		return transport.ProbeDeleted, nil
	default:
		return transport.ProbeUnreachable, nil
	}
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

func sendOptions(opt *transport.SendOptions) *tele.SendOptions {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	so := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}
	if rm, ok := opt.ReplyMarkup.(*tele.ReplyMarkup); ok {
		so.ReplyMarkup = rm
	}
	return so
}

// classify maps a telebot error onto the transport failure taxonomy:
// 403 -> forbidden, 404 -> not_found, 400 -> bad_request, everything
// else -> other. Network-level errors become ErrUnavailable, which the
// dispatcher treats as a run-level abort rather than a recipient failure.
func classify(err error) error {
	if err == nil {
		return nil
	}

	// A timed-out call is one slow recipient, not a dead transport.
	if errors.Is(err, context.DeadlineExceeded) {
		return &transport.Failure{Kind: transport.FailureOther, Err: err}
	}

	var uerr *url.Error
	var nerr net.Error
	if errors.As(err, &uerr) || errors.As(err, &nerr) {
		return &unavailableError{err: err}
	}

	var terr *tele.Error
	if errors.As(err, &terr) {
		kind := transport.FailureOther
		switch terr.Code {
		case 403:
			kind = transport.FailureForbidden
		case 404:
			kind = transport.FailureNotFound
		case 400:
			kind = transport.FailureBadRequest
		}
		return &transport.Failure{Kind: kind, Code: terr.Code, Err: err}
	}
	var ferr tele.FloodError
	if errors.As(err, &ferr) {
		return &transport.Failure{Kind: transport.FailureOther, Code: 429, Err: err}
	}
	return &transport.Failure{Kind: transport.FailureOther, Err: err}
}

type unavailableError struct{ err error }

func (e *unavailableError) Error() string { return "transport unavailable: " + e.err.Error() }
func (e *unavailableError) Is(target error) bool {
	return target == transport.ErrUnavailable
}
func (e *unavailableError) Unwrap() error { return e.err }

// UpdateMenuCommands updates Telegram's /menu command list (setMyCommands).
// The default scope gets /start only; the owner chat additionally gets the
// admin command set. Best-effort: only calls out when the list changes.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []transport.BotCommand, ownerChatID int64) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	var sb strings.Builder
	for _, c := range cmds {
		sb.WriteString(c.Command)
		sb.WriteByte(0)
		sb.WriteString(c.Description)
		sb.WriteByte(0)
	}
	sb.WriteString(strconv.FormatInt(ownerChatID, 10))
	sum := sb.String()
	if sum == a.menuHash {
		return nil
	}

	defaultCmds := []tele.Command{{Text: "start", Description: "Start bot"}}
	if err := a.bot.SetCommands(defaultCmds, tele.CommandScope{Type: tele.CommandScopeDefault}); err != nil {
		return classify(err)
	}

	if ownerChatID != 0 {
		adminCmds := make([]tele.Command, 0, len(cmds))
		for _, c := range cmds {
			if c.Command == "" {
				continue
			}
			d := c.Description
			if d == "" {
				d = c.Command
			}
			if len(d) > 256 {
				d = d[:256]
			}
			adminCmds = append(adminCmds, tele.Command{Text: c.Command, Description: d})
		}
		scope := tele.CommandScope{Type: tele.CommandScopeChat, ChatID: ownerChatID}
		if err := a.bot.SetCommands(adminCmds, scope); err != nil {
			return classify(err)
		}
	}

	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(cmds)))
	return nil
}
