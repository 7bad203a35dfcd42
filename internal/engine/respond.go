package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaenox/edubot/internal/chatcontext"
	"github.com/xaenox/edubot/internal/models"
	"github.com/xaenox/edubot/internal/storage"
	"go.uber.org/zap"
)

// Respond merges window into the stored history of thread, asks the
// language model for a reply and records it. A failed model call is logged
// and yields an empty reply.
func (e *Engine) Respond(ctx context.Context, window []models.MessageInfo, threadName, personalityOverride string) (string, error) {
	if e.completer == nil {
		return "", fmt.Errorf("%w: language model", ErrMissingCredential)
	}
	if len(window) == 0 {
		return "", ErrEmptyWindow
	}
	logger := e.requestLogger("respond", threadName)

	thread, merged, err := e.mergeWindow(ctx, window, threadName, logger)
	if err != nil {
		return "", err
	}

	entries, dropped := e.formatter.Build(merged, personalityOverride, e.maxTokens)
	if dropped > 0 {
		e.metrics.TrimmedEntries.Add(float64(dropped))
		logger.Debug("Trimmed history to token budget", zap.Int("dropped", dropped), zap.Int("budget", e.maxTokens))
	}

	reply, err := e.completer.Complete(ctx, entries)
	if err != nil {
		e.serviceFailed(logger, "llm", err)
		return "", nil
	}
	reply = e.stripSelfName(reply)

	if err := e.recordCompletion(ctx, thread, merged, reply, logger); err != nil {
		return "", err
	}
	e.metrics.Completions.WithLabelValues("chat").Inc()

	return reply, nil
}

// mergeWindow combines window with the stored messages of the thread and
// persists the entries the store has not seen, all in one transaction.
func (e *Engine) mergeWindow(ctx context.Context, window []models.MessageInfo, threadName string, logger *zap.Logger) (*models.Thread, []models.MessageInfo, error) {
	var (
		thread *models.Thread
		merged []models.MessageInfo
	)

	err := e.store.WithTx(ctx, func(q storage.Queries) error {
		var err error
		thread, err = q.EnsureThread(ctx, threadName, e.platform)
		if err != nil {
			return err
		}

		rows, err := q.MessagesAfter(ctx, thread.ID, window[0].Time)
		if err != nil {
			return err
		}
		stored := make([]models.MessageInfo, len(rows))
		for i := range rows {
			stored[i] = rows[i].Info()
		}

		merged = chatcontext.Merge(window, stored)

		saved := 0
		for _, msg := range merged {
			persist, err := e.shouldPersist(ctx, q, thread.ID, msg)
			if err != nil {
				return err
			}
			if !persist {
				continue
			}

			row := &models.Message{ThreadID: thread.ID, Username: msg.Username, Text: msg.Text, Time: msg.Time}
			if err := q.SaveMessage(ctx, row); err != nil {
				return err
			}
			saved++
		}

		e.metrics.MessagesRecorded.Add(float64(saved))
		logger.Debug("Merged context",
			zap.Int("window", len(window)),
			zap.Int("merged", len(merged)),
			zap.Int("saved", saved))
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to merge context: %w", err)
	}
	return thread, merged, nil
}

// shouldPersist is false for messages already stored and for messages
// authored by any bot on the platform; bot output is recorded as completions.
func (e *Engine) shouldPersist(ctx context.Context, q storage.Queries, threadID int64, msg models.MessageInfo) (bool, error) {
	_, err := q.FindMessage(ctx, threadID, msg)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}

	_, err = q.GetBot(ctx, msg.Username, e.platform)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}
	return true, nil
}

// recordCompletion ties reply to the latest stored message of merged, which
// is the last window message unless a bot wrote it.
func (e *Engine) recordCompletion(ctx context.Context, thread *models.Thread, merged []models.MessageInfo, reply string, logger *zap.Logger) error {
	for i := len(merged) - 1; i >= 0; i-- {
		msg, err := e.store.FindMessage(ctx, thread.ID, merged[i])
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to find reply-to message: %w", err)
		}

		completion := &models.Completion{BotID: e.botID, Text: reply, ReplyTo: msg.ID}
		if err := e.store.SaveCompletion(ctx, completion); err != nil {
			return fmt.Errorf("failed to record completion: %w", err)
		}
		logger.Debug("Recorded completion",
			zap.Int64("completion_id", completion.ID),
			zap.Int64("reply_to", msg.ID))
		return nil
	}

	logger.Warn("No stored message to attach completion to")
	return nil
}
