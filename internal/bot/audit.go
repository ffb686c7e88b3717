package bot

import (
	"context"
	"fmt"
	"time"

	"relaybot/internal/directory"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
	"relaybot/pkg/tgui"
)

// auditReport tallies a probe sweep over the whole roster.
type auditReport struct {
	Total       int
	Active      int
	Blocked     int
	Deleted     int
	Unreachable int
	Removed     int
}

func (r auditReport) String() string {
	return fmt.Sprintf(
		"🔍 %s\n\nTotal: %d\nActive: %d\nBlocked: %d\nDeleted accounts: %d\nUnreachable: %d\nRemoved: %d",
		tgui.B("Directory audit"), r.Total, r.Active, r.Blocked, r.Deleted, r.Unreachable, r.Removed)
}

func (s *Service) handleTools(ctx context.Context, cb *transport.Callback, payload string) {
	switch payload {
	case "count":
		s.reportTotals(ctx, cb.ChatID)
		return
	case "blocked", "unreachable", "clean_deleted", "clean_unreachable":
	default:
		return
	}

	s.reply(ctx, cb.ChatID, "Probing the whole directory, this can take a while…", nil)
	operator := cb.ChatID
	s.sup.Go0("bot.audit", func(ctx context.Context) {
		rep, err := s.audit(ctx, payload)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.log.Error("directory audit failed", logx.Err(err))
			s.reply(ctx, operator, "Audit failed: "+err.Error(), toolsMenu())
			return
		}
		s.reply(ctx, operator, rep.String(), toolsMenu())
	})
}

// audit probes every recipient and, for the clean_* modes, removes the
// matching ones from the roster.
func (s *Service) audit(ctx context.Context, mode string) (auditReport, error) {
	all, err := s.dir.FindAll(ctx, directory.Filter{})
	if err != nil {
		return auditReport{}, err
	}
	rep := auditReport{Total: len(all)}

	for _, r := range all {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		status := s.probeOne(ctx, r.UserID)
		switch status {
		case transport.ProbeActive:
			rep.Active++
		case transport.ProbeBlocked:
			rep.Blocked++
		case transport.ProbeDeleted:
			rep.Deleted++
			if mode == "clean_deleted" && s.removeOne(ctx, r) {
				rep.Removed++
			}
		default:
			rep.Unreachable++
			if mode == "clean_unreachable" && s.removeOne(ctx, r) {
				rep.Removed++
			}
		}
		// Keep the probe sweep gentle on the API.
		select {
		case <-ctx.Done():
			return rep, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return rep, nil
}

func (s *Service) probeOne(ctx context.Context, userID int64) transport.ProbeStatus {
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	status, err := s.adapter.Probe(pctx, transport.ChatTarget{ChatID: userID})
	if err != nil {
		s.log.Debug("probe failed", logx.Int64("user_id", userID), logx.Err(err))
		return transport.ProbeUnreachable
	}
	return status
}

func (s *Service) removeOne(ctx context.Context, r directory.Recipient) bool {
	if err := s.dir.Remove(ctx, r.UserID); err != nil {
		s.log.Warn("recipient remove failed", logx.Int64("user_id", r.UserID), logx.Err(err))
		return false
	}
	s.log.Info("recipient cleaned",
		logx.String("name", r.DisplayName()), logx.Time("joined", r.JoinedAt()))
	return true
}
