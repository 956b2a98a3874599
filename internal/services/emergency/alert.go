package emergency

import (
	"context"

	"go.uber.org/zap"

	"crisisguard/internal/domain"
)

// LogAlerter raises failed pushes at error level for whoever watches the
// server logs. Nothing is retracted automatically.
type LogAlerter struct {
	Logger *zap.Logger
}

func (a LogAlerter) PushFailed(ctx context.Context, rec domain.EmergencyPushRecord) error {
	reason := ""
	if rec.FailureReason != nil {
		reason = *rec.FailureReason
	}
	a.Logger.Error("emergency push failed verification, manual investigation required",
		zap.String("push_id", rec.ID),
		zap.String("operator", rec.Operator),
		zap.String("version", rec.EmergencyVersion),
		zap.String("failure_reason", reason),
	)
	return nil
}
