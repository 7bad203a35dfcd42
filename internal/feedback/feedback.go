// Package feedback attributes user reactions to the generated response they
// were most likely left on.
//
// The link between a reaction and a completion can't be observed directly:
// the integration does not know when a completion was actually delivered, and
// new messages can arrive while one is being generated. A completion matches
// when its text equals the reacted message and the message it replied to was
// sent shortly before the reacted message. Duplicate completions in that
// window resolve to the newest one.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xaenox/edubot/internal/models"
	"github.com/xaenox/edubot/internal/storage"
	"go.uber.org/zap"
)

// DefaultLookback bounds how long before the reacted message the replied-to
// message may have been sent.
const DefaultLookback = 90 * time.Second

type Correlator struct {
	store    storage.Queries
	botID    int64
	platform string
	lookback time.Duration
	logger   *zap.Logger
}

func NewCorrelator(store storage.Queries, botID int64, platform string, lookback time.Duration, logger *zap.Logger) *Correlator {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Correlator{
		store:    store,
		botID:    botID,
		platform: platform,
		lookback: lookback,
		logger:   logger,
	}
}

// Window returns the [from, to) range the replied-to message must fall in.
func (c *Correlator) Window(t time.Time) (time.Time, time.Time) {
	return t.Add(-c.lookback), t
}

// Correlate finds the completion fb refers to. It returns nil without an
// error when fb is not a tracked completion.
func (c *Correlator) Correlate(ctx context.Context, fb models.FeedbackInfo, threadName string) (*models.Completion, error) {
	thread, err := c.store.GetThread(ctx, threadName, c.platform)
	if errors.Is(err, storage.ErrNotFound) {
		c.logger.Debug("Feedback for unknown thread", zap.String("thread", threadName))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up thread: %w", err)
	}

	from, to := c.Window(fb.Time)
	completion, err := c.store.FindCompletion(ctx, storage.CompletionQuery{
		BotID:    c.botID,
		ThreadID: thread.ID,
		Text:     fb.Text,
		From:     from,
		To:       to,
	})
	if errors.Is(err, storage.ErrNotFound) {
		c.logger.Debug("Message is not a tracked completion",
			zap.String("text", fb.Text),
			zap.Time("time", fb.Time))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find completion: %w", err)
	}
	return completion, nil
}

// Apply adds offset to the score of the completion fb refers to. It reports
// whether a completion was found.
func (c *Correlator) Apply(ctx context.Context, offset int, fb models.FeedbackInfo, threadName string) (bool, error) {
	completion, err := c.Correlate(ctx, fb, threadName)
	if err != nil || completion == nil {
		return false, err
	}

	if err := c.store.AddCompletionScore(ctx, completion.ID, offset); err != nil {
		return false, fmt.Errorf("failed to update completion score: %w", err)
	}

	c.logger.Info("Completion score changed",
		zap.Int64("completion_id", completion.ID),
		zap.Int("offset", offset))
	return true, nil
}
