package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xaenox/edubot/internal/chatcontext"
	"github.com/xaenox/edubot/internal/models"
	"github.com/xaenox/edubot/internal/storage"
	"github.com/xaenox/edubot/internal/tokens"
	"go.uber.org/zap"
)

// WebSummaryPrompt instructs the model to summarise scraped page text.
const WebSummaryPrompt = "Your input is scraped text from a website. Your job is to summarise the text and post it to a chatroom.\n" +
	"Long-form text includes pages such as news articles and blog posts.\n" +
	"If the page doesn't contain long-form text return the phrase 'NO CONTENT' and nothing else.\n" +
	"If the page mentions any variation of 'requiring javascript', or 'enable javascript' you should also return 'NO CONTENT' and nothing else.\n" +
	"If the page DOES contain long-form text return a brief 2 sentence summary of the text content. " +
	"This summary will then be sent to users.\n"

const (
	noContentMarker = "NO CONTENT"
	// summaryTrimStep is how many runes are cut from the end per trim.
	summaryTrimStep = 100
)

// SummarizeURL summarises the page at url and records the summary as a reply
// to trigger. It returns "" when the page can't be fetched or has no
// long-form text.
func (e *Engine) SummarizeURL(ctx context.Context, url string, trigger models.MessageInfo, threadName string) (string, error) {
	if e.completer == nil {
		return "", fmt.Errorf("%w: language model", ErrMissingCredential)
	}
	if e.extractor == nil {
		return "", errors.New("text extractor is not configured")
	}
	logger := e.requestLogger("summarize_url", threadName).With(zap.String("url", url))

	raw, err := e.extractor.Fetch(ctx, url)
	if err != nil {
		e.serviceFailed(logger, "fetch", err)
		return "", nil
	}
	if raw == "" {
		logger.Debug("Fetched page is empty")
		return "", nil
	}

	text, err := e.extractor.Extract(raw)
	if err != nil {
		logger.Debug("No text extracted from page", zap.Error(err))
		return "", nil
	}
	text = truncateToBudget(text, e.maxTokens)

	summary, err := e.completer.Complete(ctx, []chatcontext.Entry{
		chatcontext.NewEntry(chatcontext.RoleSystem, WebSummaryPrompt),
		chatcontext.NewEntry(chatcontext.RoleUser, text),
	})
	if err != nil {
		e.serviceFailed(logger, "llm", err)
		return "", nil
	}
	if strings.Contains(strings.ToUpper(summary), noContentMarker) {
		logger.Debug("Page has no long-form content")
		return "", nil
	}
	summary = strings.TrimSpace(summary)

	err = e.store.WithTx(ctx, func(q storage.Queries) error {
		thread, err := q.EnsureThread(ctx, threadName, e.platform)
		if err != nil {
			return err
		}

		msg, err := q.FindMessage(ctx, thread.ID, trigger)
		if errors.Is(err, storage.ErrNotFound) {
			msg = &models.Message{ThreadID: thread.ID, Username: trigger.Username, Text: trigger.Text, Time: trigger.Time}
			if err := q.SaveMessage(ctx, msg); err != nil {
				return err
			}
			e.metrics.MessagesRecorded.Inc()
		} else if err != nil {
			return err
		}

		return q.SaveCompletion(ctx, &models.Completion{BotID: e.botID, Text: summary, ReplyTo: msg.ID})
	})
	if err != nil {
		return "", fmt.Errorf("failed to record summary: %w", err)
	}
	e.metrics.Completions.WithLabelValues("summary").Inc()

	return summary, nil
}

// truncateToBudget cuts summaryTrimStep runes at a time from the end of text
// until its estimated cost fits budget.
func truncateToBudget(text string, budget int) string {
	r := []rune(text)

	// Without any words a text costs at least runes/8, so these cuts are
	// over budget and need no estimate.
	for len(r) > summaryTrimStep && float64(len(r))/8 > float64(budget)+1 {
		r = r[:len(r)-summaryTrimStep]
	}

	for len(r) > 0 && tokens.Estimate(string(r)) > budget {
		r = r[:len(r)-min(summaryTrimStep, len(r))]
	}
	return string(r)
}
