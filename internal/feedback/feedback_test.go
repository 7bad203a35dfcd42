package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/edubot/internal/models"
	"github.com/xaenox/edubot/internal/storage"
	"go.uber.org/zap"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store  *storage.MemoryStorage
	bot    *models.Bot
	thread *models.Thread
	corr   *Correlator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStorage()

	bot, err := store.EnsureBot(ctx, "edubot", "telegram")
	require.NoError(t, err)
	thread, err := store.EnsureThread(ctx, "chat-1", "telegram")
	require.NoError(t, err)

	return &fixture{
		store:  store,
		bot:    bot,
		thread: thread,
		corr:   NewCorrelator(store, bot.ID, "telegram", 0, zap.NewNop()),
	}
}

func (f *fixture) completion(t *testing.T, text string, replyAt time.Time) *models.Completion {
	t.Helper()
	ctx := context.Background()

	msg := &models.Message{ThreadID: f.thread.ID, Username: "alice", Text: "question", Time: replyAt}
	require.NoError(t, f.store.SaveMessage(ctx, msg))
	c := &models.Completion{BotID: f.bot.ID, Text: text, ReplyTo: msg.ID}
	require.NoError(t, f.store.SaveCompletion(ctx, c))
	return c
}

func (f *fixture) score(t *testing.T, id int64) int {
	t.Helper()
	c, err := f.store.GetCompletion(context.Background(), id)
	require.NoError(t, err)
	return c.Score
}

func TestApply(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		after     time.Duration
		wantMatch bool
	}{
		{name: "within window", text: "answer", after: 30 * time.Second, wantMatch: true},
		{name: "just inside window", text: "answer", after: 89 * time.Second, wantMatch: true},
		{name: "too late", text: "answer", after: 91 * time.Second},
		{name: "same instant", text: "answer", after: 0},
		{name: "different text", text: "other", after: 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			c := f.completion(t, "answer", t0)

			matched, err := f.corr.Apply(context.Background(), 3,
				models.FeedbackInfo{Text: tt.text, Time: t0.Add(tt.after)}, "chat-1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantMatch, matched)

			want := 0
			if tt.wantMatch {
				want = 3
			}
			assert.Equal(t, want, f.score(t, c.ID))
		})
	}
}

func TestApplyPrefersNewestDuplicate(t *testing.T) {
	f := newFixture(t)
	older := f.completion(t, "answer", t0)
	newer := f.completion(t, "answer", t0.Add(10*time.Second))

	matched, err := f.corr.Apply(context.Background(), -1,
		models.FeedbackInfo{Text: "answer", Time: t0.Add(20 * time.Second)}, "chat-1")
	require.NoError(t, err)
	assert.True(t, matched)

	assert.Equal(t, 0, f.score(t, older.ID))
	assert.Equal(t, -1, f.score(t, newer.ID))
}

func TestApplyAccumulates(t *testing.T) {
	f := newFixture(t)
	c := f.completion(t, "answer", t0)
	fb := models.FeedbackInfo{Text: "answer", Time: t0.Add(5 * time.Second)}

	for _, offset := range []int{1, 1, -3} {
		_, err := f.corr.Apply(context.Background(), offset, fb, "chat-1")
		require.NoError(t, err)
	}
	assert.Equal(t, -1, f.score(t, c.ID))
}

func TestApplyUnknownThread(t *testing.T) {
	f := newFixture(t)
	f.completion(t, "answer", t0)

	matched, err := f.corr.Apply(context.Background(), 1,
		models.FeedbackInfo{Text: "answer", Time: t0.Add(5 * time.Second)}, "chat-404")
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestCustomLookback(t *testing.T) {
	f := newFixture(t)
	corr := NewCorrelator(f.store, f.bot.ID, "telegram", 5*time.Minute, zap.NewNop())
	f.completion(t, "answer", t0)

	c, err := corr.Correlate(context.Background(),
		models.FeedbackInfo{Text: "answer", Time: t0.Add(4 * time.Minute)}, "chat-1")
	require.NoError(t, err)
	assert.NotNil(t, c)

	from, to := corr.Window(t0)
	assert.Equal(t, t0.Add(-5*time.Minute), from)
	assert.Equal(t, t0, to)
}
