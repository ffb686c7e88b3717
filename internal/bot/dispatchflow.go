package bot

import (
	"context"
	"errors"
	"time"

	"relaybot/internal/dispatch"
	"relaybot/internal/session"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

// startDispatch consumes the operator's ready session and launches the
// fan-out. Take makes a racing double-confirm a no-op.
func (s *Service) startDispatch(ctx context.Context, operatorID int64) {
	sess := s.sessions.Take(operatorID)
	if sess == nil || sess.Step != session.StepReady {
		if sess != nil {
			s.sessions.Put(sess)
		}
		s.reply(ctx, operatorID, "Nothing is ready to send.", mainMenu())
		return
	}
	if sess.Content == nil || sess.Content.Empty() {
		s.reply(ctx, operatorID, "The message is empty. Send it again.", nil)
		sess.ResetContent()
		s.sessions.Put(sess)
		return
	}

	job := dispatch.Job{
		Content:    *sess.Content,
		Targets:    sess.Targets,
		Pacing:     sess.Pacing,
		StartDelay: sess.StartDelay,
		OnScheduled: func(at time.Time) {
			s.reply(ctx, operatorID, "⏳ Broadcast scheduled for "+at.Format("15:04:05")+".", nil)
		},
		OnStart: func(total int) {
			s.reply(ctx, operatorID, "🚀 Broadcasting…", nil)
		},
		OnProgress: func(done int, st dispatch.Stats) {
			if done < st.Total {
				s.reply(ctx, operatorID, progressReport(done, st), nil)
			}
		},
	}

	// Mark the operator busy while the run is in flight.
	s.sessions.Put(&session.Session{OperatorID: operatorID, Step: session.StepDispatching})

	s.sup.Go0("bot.dispatch", func(ctx context.Context) {
		start := time.Now()
		st, err := s.dispatcher.Run(ctx, job)
		s.sessions.Delete(operatorID)
		s.reportRun(ctx, operatorID, st, time.Since(start), err)
	})
}

func (s *Service) reportRun(ctx context.Context, operatorID int64, st dispatch.Stats, took time.Duration, err error) {
	if ctx.Err() != nil {
		// Shutting down; nobody is listening for the report.
		return
	}
	switch {
	case err == nil:
		s.reply(ctx, operatorID, statsReport(st, took), mainMenu())
	case errors.Is(err, dispatch.ErrNoContent), errors.Is(err, dispatch.ErrNoTargets):
		s.reply(ctx, operatorID, "Nothing to send: "+err.Error(), mainMenu())
	case errors.Is(err, transport.ErrUnavailable):
		s.log.Error("broadcast aborted", logx.Err(err))
		s.reply(ctx, operatorID, "⚠️ Telegram became unreachable. Partial results:\n\n"+statsReport(st, took), mainMenu())
	default:
		s.log.Error("broadcast failed", logx.Err(err))
		s.reply(ctx, operatorID, "⚠️ Broadcast stopped early. Partial results:\n\n"+statsReport(st, took), mainMenu())
	}
}
