// Package notify delivers workflow notices to members.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"kmp.org/internal/activities"
)

var (
	_ activities.Notifier = (*LogSender)(nil)
	_ activities.Notifier = Multi(nil)
)

// LogSender writes every notice as a structured log line. It is the
// delivery channel used when no mail relay is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender returns a sender logging to logger, or slog.Default.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) SendApprovalRequest(ctx context.Context, n activities.ApprovalRequestNotice) error {
	if n.ApproverEmail == "" && n.ApproverID == "" {
		return errors.New("notify: approval request has no recipient")
	}
	s.logger.InfoContext(ctx, "approval requested",
		"event", "notify_approval_request",
		"to", n.ApproverEmail,
		"approver_id", n.ApproverID,
		"approver", n.ApproverName,
		"requester", n.RequesterName,
		"activity", n.ActivityName,
		"token", n.Token,
	)
	return nil
}

func (s *LogSender) SendStatusChange(ctx context.Context, n activities.StatusChangeNotice) error {
	if n.MemberEmail == "" && n.MemberID == "" {
		return errors.New("notify: status change has no recipient")
	}
	s.logger.InfoContext(ctx, "authorization status changed",
		"event", "notify_status_change",
		"to", n.MemberEmail,
		"member_id", n.MemberID,
		"member", n.MemberName,
		"activity", n.ActivityName,
		"status", string(n.Status),
		"actor", n.ActorName,
		"next_approver", n.NextApproverName,
	)
	return nil
}

func (s *LogSender) SendRetraction(ctx context.Context, n activities.RetractionNotice) error {
	s.logger.InfoContext(ctx, "authorization request retracted",
		"event", "notify_retraction",
		"to", n.ApproverEmail,
		"approver_id", n.ApproverID,
		"requester", n.RequesterName,
		"activity", n.ActivityName,
	)
	return nil
}

// Multi fans a notice out to several senders and stops at the first error.
type Multi []activities.Notifier

func (m Multi) SendApprovalRequest(ctx context.Context, n activities.ApprovalRequestNotice) error {
	for _, s := range m {
		if err := s.SendApprovalRequest(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) SendStatusChange(ctx context.Context, n activities.StatusChangeNotice) error {
	for _, s := range m {
		if err := s.SendStatusChange(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) SendRetraction(ctx context.Context, n activities.RetractionNotice) error {
	for _, s := range m {
		if err := s.SendRetraction(ctx, n); err != nil {
			return err
		}
	}
	return nil
}
