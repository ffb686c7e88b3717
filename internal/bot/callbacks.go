package bot

import (
	"context"
	"strconv"
	"time"

	"relaybot/internal/segment"
	"relaybot/internal/session"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
	"relaybot/pkg/tgui"
)

func (s *Service) handleCallback(ctx context.Context, cb *transport.Callback) {
	if !s.isOwner(cb.FromID) {
		s.answer(ctx, cb.ID, notOperator)
		return
	}
	s.answer(ctx, cb.ID, "")

	action, payload := tgui.Split(cb.Data)
	switch action {
	case actMenu:
		s.handleMenu(ctx, cb, payload)
	case actSegment:
		s.handleSegment(ctx, cb, payload)
	case actSize:
		s.handleSize(ctx, cb, payload)
	case actPreview:
		s.handlePreview(ctx, cb, payload)
	case actPace:
		s.handlePace(ctx, cb, payload)
	case actConfirm:
		s.handleConfirm(ctx, cb, payload)
	case actTools:
		s.handleTools(ctx, cb, payload)
	default:
		s.log.Debug("unknown callback", logx.String("data", cb.Data))
	}
}

func (s *Service) answer(ctx context.Context, id, text string) {
	actx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.adapter.AnswerCallback(actx, id, text); err != nil {
		s.log.Debug("callback answer failed", logx.Err(err))
	}
}

func (s *Service) handleMenu(ctx context.Context, cb *transport.Callback, payload string) {
	switch payload {
	case "main":
		s.sessions.Delete(cb.FromID)
		s.reply(ctx, cb.ChatID, "What would you like to do?", mainMenu())
	case "all":
		s.resolveTargets(ctx, cb.FromID, segment.Spec{Kind: segment.KindAll})
	case "partial":
		s.sessions.Put(&session.Session{OperatorID: cb.FromID, Step: session.StepSelectingAudience})
		s.reply(ctx, cb.ChatID, "Pick the audience:", audienceMenu())
	case "link":
		s.reply(ctx, cb.ChatID, linkPrompt, nil)
	case "tools":
		s.reply(ctx, cb.ChatID, "Directory tools:", toolsMenu())
	}
}

func (s *Service) handleSegment(ctx context.Context, cb *transport.Callback, payload string) {
	switch payload {
	case "odd":
		s.resolveTargets(ctx, cb.FromID, segment.Spec{Kind: segment.KindOdd})
	case "even":
		s.resolveTargets(ctx, cb.FromID, segment.Spec{Kind: segment.KindEven})
	case "newest", "oldest":
		kind := segment.KindNewest
		if payload == "oldest" {
			kind = segment.KindOldest
		}
		s.sessions.Put(&session.Session{
			OperatorID: cb.FromID,
			Step:       session.StepAwaitingWindow,
			Segment:    segment.Spec{Kind: kind},
		})
		s.reply(ctx, cb.ChatID, windowPrompt, nil)
	case "limit":
		s.reply(ctx, cb.ChatID, "How many recipients?", sizeMenu())
	}
}

func (s *Service) handleSize(ctx context.Context, cb *transport.Callback, payload string) {
	if payload == "custom" {
		s.sessions.Put(&session.Session{
			OperatorID: cb.FromID,
			Step:       session.StepAwaitingWindow,
			Segment:    segment.Spec{Kind: segment.KindLimit},
		})
		s.reply(ctx, cb.ChatID, limitPrompt, nil)
		return
	}
	n, err := strconv.Atoi(payload)
	if err != nil || n <= 0 {
		s.log.Debug("bad size payload", logx.String("payload", payload))
		return
	}
	s.resolveTargets(ctx, cb.FromID, segment.Spec{Kind: segment.KindLimit, Limit: n})
}

func (s *Service) handlePreview(ctx context.Context, cb *transport.Callback, payload string) {
	sess := s.sessions.Get(cb.FromID)
	if sess == nil || sess.Step != session.StepPreviewing {
		s.reply(ctx, cb.ChatID, "That preview is no longer active.", mainMenu())
		return
	}
	switch payload {
	case "ok":
		sess.Step = session.StepConfiguringPacing
		s.sessions.Put(sess)
		s.reply(ctx, cb.ChatID, "When should it go out?", paceMenu())
	case "edit":
		sess.ResetContent()
		s.sessions.Put(sess)
		s.reply(ctx, cb.ChatID, "Send the new message.", nil)
	}
}

func (s *Service) handlePace(ctx context.Context, cb *transport.Callback, payload string) {
	sess := s.sessions.Get(cb.FromID)
	if sess == nil || sess.Step != session.StepConfiguringPacing {
		s.reply(ctx, cb.ChatID, "That choice is no longer active.", mainMenu())
		return
	}
	if payload == "custom" {
		// Stay on the pacing step; the next typed number is the delay.
		s.reply(ctx, cb.ChatID, pacePrompt, nil)
		return
	}
	minutes, err := strconv.Atoi(payload)
	if err != nil || minutes < 0 {
		s.log.Debug("bad pace payload", logx.String("payload", payload))
		return
	}
	s.moveToReady(ctx, sess, time.Duration(minutes)*time.Minute)
}

func (s *Service) handleConfirm(ctx context.Context, cb *transport.Callback, payload string) {
	switch payload {
	case "send":
		s.startDispatch(ctx, cb.FromID)
	case "edit":
		sess := s.sessions.Get(cb.FromID)
		if sess == nil || (sess.Step != session.StepReady && sess.Step != session.StepPreviewing) {
			s.reply(ctx, cb.ChatID, "Nothing to edit.", mainMenu())
			return
		}
		sess.ResetContent()
		s.sessions.Put(sess)
		s.reply(ctx, cb.ChatID, "Send the new message.", nil)
	case "cancel":
		s.sessions.Delete(cb.FromID)
		s.reply(ctx, cb.ChatID, "Broadcast cancelled.", mainMenu())
	}
}
