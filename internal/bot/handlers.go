package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"relaybot/internal/directory"
	"relaybot/internal/links"
	"relaybot/internal/segment"
	"relaybot/internal/session"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
	"relaybot/pkg/tgui"
)

const (
	greeting     = "Hi! This bot delivers announcements. You are all set."
	notOperator  = "This action is limited to the bot operators."
	linkPrompt   = "Send a https://t.me/... link and I will wrap it in a secure short link."
	windowPrompt = "How far back? Reply like <code>2d</code>, <code>3w</code>, <code>6m</code> or <code>1y</code>."
	limitPrompt  = "How many recipients? Reply with a number."
	pacePrompt   = "In how many minutes should the broadcast start? Reply with a number (0 = now)."
)

func (s *Service) handleMessage(ctx context.Context, m *transport.Message) {
	s.register(ctx, m)

	if !s.isOwner(m.FromID) {
		s.handleVisitor(ctx, m)
		return
	}

	switch strings.TrimSpace(m.Text) {
	case "/start":
		s.sessions.Delete(m.FromID)
		s.reply(ctx, m.ChatID, "What would you like to do?", mainMenu())
		return
	case "/broadcast":
		s.sessions.Put(&session.Session{OperatorID: m.FromID, Step: session.StepSelectingAudience})
		s.reply(ctx, m.ChatID, "Pick the audience:", audienceMenu())
		return
	case "/stats":
		s.reportTotals(ctx, m.ChatID)
		return
	}

	sess := s.sessions.Get(m.FromID)
	if sess == nil {
		if isTelegramLink(m.Text) {
			s.createSecureLink(ctx, m)
			return
		}
		s.reply(ctx, m.ChatID, "Use the menu below.", mainMenu())
		return
	}

	switch sess.Step {
	case session.StepAwaitingWindow:
		s.handleWindowInput(ctx, m, sess)
	case session.StepAwaitingContent:
		s.handleContentInput(ctx, m, sess)
	case session.StepConfiguringPacing:
		s.handlePacingInput(ctx, m, sess)
	case session.StepDispatching:
		s.reply(ctx, m.ChatID, "A broadcast is running. I will post the results here when it finishes.", nil)
	default:
		// Typed text is meaningless for button-driven steps; re-prompt
		// without touching the session.
		s.reply(ctx, m.ChatID, "Please use the buttons above to continue.", nil)
	}
}

func (s *Service) handleVisitor(ctx context.Context, m *transport.Message) {
	if isTelegramLink(m.Text) {
		s.createSecureLink(ctx, m)
		return
	}
	s.reply(ctx, m.ChatID, greeting, nil)
}

// register records every message sender in the roster so broadcasts can
// reach them later.
func (s *Service) register(ctx context.Context, m *transport.Message) {
	if m.FromID == 0 {
		return
	}
	err := s.dir.Upsert(ctx, directory.Recipient{
		UserID:    m.FromID,
		FirstName: m.FromFirst,
		LastName:  m.FromLast,
		Username:  m.FromUsername,
	})
	if err != nil {
		s.log.Warn("recipient upsert failed", logx.Int64("user_id", m.FromID), logx.Err(err))
	}
}

func (s *Service) handleWindowInput(ctx context.Context, m *transport.Message, sess *session.Session) {
	spec := sess.Segment
	switch spec.Kind {
	case segment.KindNewest, segment.KindOldest:
		window, err := segment.ParseWindow(m.Text)
		if err != nil {
			s.reply(ctx, m.ChatID, "I did not understand that. "+windowPrompt, nil)
			return
		}
		spec.Window = window
	case segment.KindLimit:
		n, err := strconv.Atoi(strings.TrimSpace(m.Text))
		if err != nil || n <= 0 {
			s.reply(ctx, m.ChatID, "I need a positive number. "+limitPrompt, nil)
			return
		}
		spec.Limit = n
	default:
		s.sessions.Delete(m.FromID)
		s.reply(ctx, m.ChatID, "Let's start over.", mainMenu())
		return
	}
	s.resolveTargets(ctx, m.FromID, spec)
}

func (s *Service) handleContentInput(ctx context.Context, m *transport.Message, sess *session.Session) {
	content := session.Content{Text: m.Text, PhotoID: m.PhotoID}
	if content.Empty() {
		s.reply(ctx, m.ChatID, "Send the broadcast message as text, or a photo with a caption.", nil)
		return
	}
	sess.Content = &content
	sess.Step = session.StepPreviewing
	s.sessions.Put(sess)

	s.reply(ctx, m.ChatID, tgui.I("This is how it will look:").String(), nil)
	s.sendContent(ctx, m.ChatID, content, previewMenu())
}

func (s *Service) handlePacingInput(ctx context.Context, m *transport.Message, sess *session.Session) {
	minutes, err := strconv.Atoi(strings.TrimSpace(m.Text))
	if err != nil || minutes < 0 {
		s.reply(ctx, m.ChatID, "I need a number of minutes (0 = now).", nil)
		return
	}
	s.moveToReady(ctx, sess, time.Duration(minutes)*time.Minute)
}

// sendContent delivers content as the audience would receive it, used
// for the operator preview.
func (s *Service) sendContent(ctx context.Context, chatID int64, c session.Content, markup any) {
	opt := &transport.SendOptions{}
	if markup != nil {
		opt.ReplyMarkup = markup
	}
	to := transport.ChatTarget{ChatID: chatID}
	sctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var err error
	if c.PhotoID != "" {
		_, err = s.adapter.SendPhoto(sctx, to, c.PhotoID, c.Text, opt)
	} else {
		_, err = s.adapter.SendText(sctx, to, c.Text, opt)
	}
	if err != nil {
		s.log.Warn("preview send failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

func (s *Service) moveToReady(ctx context.Context, sess *session.Session, delay time.Duration) {
	sess.StartDelay = delay
	sess.Step = session.StepReady
	s.sessions.Put(sess)

	when := "immediately"
	if delay > 0 {
		when = "in " + delay.String()
	}
	summary := "a photo"
	if sess.Content != nil && sess.Content.Text != "" {
		summary = tgui.Code(tgui.TruncRunes(sess.Content.Text, 60)).String()
	}
	text := "Ready to broadcast to <b>" + strconv.Itoa(len(sess.Targets)) + " recipients</b> (" +
		tgui.Esc(sess.Segment.Describe()).String() + "), starting " + when + ".\n\n" + summary
	s.reply(ctx, sess.OperatorID, text, confirmMenu())
}

func (s *Service) reportTotals(ctx context.Context, chatID int64) {
	n, err := s.dir.Count(ctx)
	if err != nil {
		s.log.Warn("directory count failed", logx.Err(err))
		s.reply(ctx, chatID, "Could not read the directory right now.", nil)
		return
	}
	s.reply(ctx, chatID, "👥 "+tgui.B(strconv.Itoa(n)).String()+" recipients registered.", nil)
}

func (s *Service) createSecureLink(ctx context.Context, m *transport.Message) {
	l, err := s.links.Create(ctx, m.Text, directory.Recipient{
		UserID:    m.FromID,
		FirstName: m.FromFirst,
		LastName:  m.FromLast,
		Username:  m.FromUsername,
	})
	if errors.Is(err, links.ErrInvalidLink) {
		s.reply(ctx, m.ChatID, "Only t.me links can be wrapped.", nil)
		return
	}
	if err != nil {
		s.log.Error("secure link create failed", logx.Err(err))
		s.reply(ctx, m.ChatID, "Could not create the link right now, try again later.", nil)
		return
	}
	share := tgui.NewInline().Row(tgui.URLBtn("Open link", l.SecureLink)).Markup()
	s.reply(ctx, m.ChatID, "🔗 Your secure link:\n"+tgui.Code(l.SecureLink).String(), share)
}

func isTelegramLink(raw string) bool {
	raw = strings.TrimSpace(raw)
	return strings.HasPrefix(raw, "https://t.me/") || strings.HasPrefix(raw, "http://t.me/")
}
