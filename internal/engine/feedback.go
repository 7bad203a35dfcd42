package engine

import (
	"context"

	"github.com/xaenox/edubot/internal/models"
)

// ApplyFeedback adds offset to the score of the completion fb was left on.
// Feedback on anything that isn't a tracked completion is ignored.
func (e *Engine) ApplyFeedback(ctx context.Context, offset int, fb models.FeedbackInfo, threadName string) error {
	matched, err := e.correlator.Apply(ctx, offset, fb, threadName)
	if err != nil {
		return err
	}

	result := "untracked"
	if matched {
		result = "correlated"
	}
	e.metrics.Feedback.WithLabelValues(result).Inc()
	return nil
}
