package alert

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Notifier receives the events a compliance scan produced. Implementations
// own delivery; the engine only decides that an alert is due.
type Notifier interface {
	Notify(ctx context.Context, events []Event) error
}

// LogNotifier writes events to the structured log, rate limited so a scan
// over a large estate cannot flood downstream log shipping. It doubles as the
// default sink when no delivery collaborator is attached.
type LogNotifier struct {
	log     *zap.Logger
	limiter *rate.Limiter
}

// NewLogNotifier builds a notifier emitting at most perSec events per second
// with the given burst.
func NewLogNotifier(log *zap.Logger, perSec float64, burst int) *LogNotifier {
	if perSec <= 0 {
		perSec = 10
	}
	if burst <= 0 {
		burst = 1
	}
	return &LogNotifier{
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(perSec), burst),
	}
}

func (n *LogNotifier) Notify(ctx context.Context, events []Event) error {
	for _, e := range events {
		if err := n.limiter.Wait(ctx); err != nil {
			return err
		}
		n.log.Info("compliance alert",
			zap.String("subject_type", e.Key.SubjectType),
			zap.String("subject_id", e.Key.SubjectID),
			zap.String("condition", string(e.Key.Condition)),
			zap.String("severity", string(e.Severity)),
			zap.String("message", e.Message),
			zap.Time("detected_at", e.DetectedAt),
		)
	}
	return nil
}
