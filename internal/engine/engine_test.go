package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/edubot/internal/chatcontext"
	"github.com/xaenox/edubot/internal/metrics"
	"github.com/xaenox/edubot/internal/models"
	"github.com/xaenox/edubot/internal/storage"
	"github.com/xaenox/edubot/internal/tokens"
	"go.uber.org/zap"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(user, text string, sec int) models.MessageInfo {
	return models.MessageInfo{Username: user, Text: text, Time: base.Add(time.Duration(sec) * time.Second)}
}

type fakeCompleter struct {
	reply string
	err   error
	calls [][]chatcontext.Entry
}

func (f *fakeCompleter) Complete(ctx context.Context, entries []chatcontext.Entry) (string, error) {
	f.calls = append(f.calls, entries)
	return f.reply, f.err
}

func (f *fakeCompleter) last() []chatcontext.Entry {
	return f.calls[len(f.calls)-1]
}

type fakeCaptioner struct {
	caption string
	err     error
	calls   int
}

func (f *fakeCaptioner) Caption(ctx context.Context, image []byte) (string, error) {
	f.calls++
	return f.caption, f.err
}

type fakeImageGen struct {
	image []byte
	err   error
}

func (f *fakeImageGen) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	return f.image, f.err
}

type fakeExtractor struct {
	raw      string
	fetchErr error
	text     string
	extErr   error
}

func (f *fakeExtractor) Fetch(ctx context.Context, url string) (string, error) {
	return f.raw, f.fetchErr
}

func (f *fakeExtractor) Extract(raw string) (string, error) {
	return f.text, f.extErr
}

type harness struct {
	engine    *Engine
	store     storage.Storage
	completer *fakeCompleter
	captioner *fakeCaptioner
	extractor *fakeExtractor
	imageGen  *fakeImageGen
	metrics   *metrics.Metrics
}

func newHarness(t *testing.T, store storage.Storage, cfg Config) *harness {
	t.Helper()
	if cfg.BotName == "" {
		cfg.BotName = "edubot"
	}
	if cfg.Platform == "" {
		cfg.Platform = "telegram"
	}
	cfg.Model = "gpt-4"

	h := &harness{
		store:     store,
		completer: &fakeCompleter{reply: "hello there"},
		captioner: &fakeCaptioner{caption: "a cat on a sofa"},
		extractor: &fakeExtractor{raw: "<html>", text: "Long article text."},
		imageGen:  &fakeImageGen{image: []byte("png")},
		metrics:   metrics.New(prometheus.NewRegistry()),
	}

	eng, err := New(context.Background(), cfg, store, Options{
		Completer:      h.completer,
		Captioner:      h.captioner,
		ImageGenerator: h.imageGen,
		Extractor:      h.extractor,
		Metrics:        h.metrics,
		Now:            func() time.Time { return base },
	}, zap.NewNop())
	require.NoError(t, err)
	h.engine = eng
	return h
}

func (h *harness) messages(t *testing.T, thread string) []models.Message {
	t.Helper()
	ctx := context.Background()
	th, err := h.store.GetThread(ctx, thread, "telegram")
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	require.NoError(t, err)
	msgs, err := h.store.MessagesAfter(ctx, th.ID, base.Add(-24*time.Hour))
	require.NoError(t, err)
	return msgs
}

func (h *harness) completion(t *testing.T, id int64) *models.Completion {
	t.Helper()
	c, err := h.store.GetCompletion(context.Background(), id)
	require.NoError(t, err)
	return c
}

func contents(entries []chatcontext.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Content
	}
	return out
}

func TestRespond(t *testing.T) {
	h := newHarness(t, storage.NewMemoryStorage(), Config{})
	ctx := context.Background()
	window := []models.MessageInfo{at("alice", "hi", 0), at("bob", "hey", 10), at("alice", "what's new?", 20)}

	reply, err := h.engine.Respond(ctx, window, "chat-1", "")
	require.NoError(t, err)
	assert.Equal(t, "hello there", reply)

	entries := h.completer.last()
	require.Len(t, entries, 8)
	assert.Equal(t, []string{"alice: hi", "bob: hey", "alice: what's new?"}, contents(entries[5:]))

	msgs := h.messages(t, "chat-1")
	assert.Len(t, msgs, 3)

	c := h.completion(t, 1)
	assert.Equal(t, "hello there", c.Text)
	assert.Equal(t, msgs[2].ID, c.ReplyTo, "completion replies to the last window message")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Completions.WithLabelValues("chat")))
}

func TestRespondIncludesImageCaptions(t *testing.T) {
	h := newHarness(t, storage.NewMemoryStorage(), Config{})
	ctx := context.Background()

	_, err := h.engine.RecordImageCaption(ctx, []byte("img"), "alice", base.Add(5*time.Second), "chat-1")
	require.NoError(t, err)

	window := []models.MessageInfo{at("alice", "look", 0), at("bob", "cute!", 10)}
	_, err = h.engine.Respond(ctx, window, "chat-1", "")
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"alice: look", "alice: *An image of a cat on a sofa", "bob: cute!"},
		contents(h.completer.last()[5:]))
	assert.Len(t, h.messages(t, "chat-1"), 3)
}

func TestRespondIsIdempotent(t *testing.T) {
	for name, store := range map[string]storage.Storage{
		"memory": storage.NewMemoryStorage(),
		"sqlite": newSQLite(t),
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, store, Config{})
			ctx := context.Background()
			window := []models.MessageInfo{at("alice", "hi", 0), at("alice", "hi again", 10)}

			_, err := h.engine.Respond(ctx, window, "chat-1", "")
			require.NoError(t, err)
			_, err = h.engine.Respond(ctx, window, "chat-1", "")
			require.NoError(t, err)

			assert.Len(t, h.messages(t, "chat-1"), 2)
			assert.Equal(t, "hello there", h.completion(t, 2).Text)
		})
	}
}

func TestRespondSkipsBotMessages(t *testing.T) {
	store := storage.NewMemoryStorage()
	h := newHarness(t, store, Config{})
	ctx := context.Background()
	_, err := store.EnsureBot(ctx, "otherbot", "telegram")
	require.NoError(t, err)

	window := []models.MessageInfo{
		at("alice", "hi", 0),
		at("otherbot", "beep", 5),
		at("edubot", "earlier reply", 10),
	}
	_, err = h.engine.Respond(ctx, window, "chat-1", "")
	require.NoError(t, err)

	msgs := h.messages(t, "chat-1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice", msgs[0].Username)

	entries := h.completer.last()
	assert.Equal(t, chatcontext.RoleAssistant, entries[len(entries)-1].Role)
	assert.Equal(t, msgs[0].ID, h.completion(t, 1).ReplyTo, "falls back to the latest stored message")
}

func TestRespondStripsSelfName(t *testing.T) {
	h := newHarness(t, storage.NewMemoryStorage(), Config{})
	h.completer.reply = "edubot:   good morning"

	reply, err := h.engine.Respond(context.Background(), []models.MessageInfo{at("alice", "morning", 0)}, "chat-1", "")
	require.NoError(t, err)
	assert.Equal(t, "good morning", reply)
}

func TestRespondPersonalityOverride(t *testing.T) {
	h := newHarness(t, storage.NewMemoryStorage(), Config{Personality: "helpful tutor"})
	ctx := context.Background()
	window := []models.MessageInfo{at("alice", "hi", 0)}

	_, err := h.engine.Respond(ctx, window, "chat-1", "")
	require.NoError(t, err)
	assert.Equal(t, "Your personality is: helpful tutor", h.completer.last()[1].Content)

	_, err = h.engine.Respond(ctx, window, "chat-1", "pirate")
	require.NoError(t, err)
	assert.Equal(t, "Your personality is: pirate", h.completer.last()[1].Content)
	assert.Contains(t, h.completer.last()[3].Content, "2024")
}

func TestRespondTrimsHistory(t *testing.T) {
	h := newHarness(t, storage.NewMemoryStorage(), Config{MaxContextTokens: 10})
	window := []models.MessageInfo{
		at("alice", strings.Repeat("blah ", 30), 0),
		at("alice", "short one", 10),
	}

	_, err := h.engine.Respond(context.Background(), window, "chat-1", "")
	require.NoError(t, err)

	entries := h.completer.last()
	assert.Equal(t, []string{"alice: short one"}, contents(entries[5:]))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TrimmedEntries))
	assert.Len(t, h.messages(t, "chat-1"), 2, "trimmed entries are still stored")
}

func TestRespondServiceFailure(t *testing.T) {
	h := newHarness(t, storage.NewMemoryStorage(), Config{})
	h.completer.err = errors.New("503")

	reply, err := h.engine.Respond(context.Background(), []models.MessageInfo{at("alice", "hi", 0)}, "chat-1", "")
	require.NoError(t, err)
	assert.Empty(t, reply)

	_, err = h.store.GetCompletion(context.Background(), 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ServiceFailures.WithLabelValues("llm")))
}

func TestRespondErrors(t *testing.T) {
	h := newHarness(t, storage.NewMemoryStorage(), Config{})
	_, err := h.engine.Respond(context.Background(), nil, "chat-1", "")
	assert.ErrorIs(t, err, ErrEmptyWindow)

	eng, err := New(context.Background(), Config{BotName: "edubot", Platform: "telegram"}, storage.NewMemoryStorage(), Options{}, zap.NewNop())
	require.NoError(t, err)
	_, err = eng.Respond(context.Background(), []models.MessageInfo{at("alice", "hi", 0)}, "chat-1", "")
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestRecordImageCaption(t *testing.T) {
	h := newHarness(t, storage.NewMemoryStorage(), Config{})

	caption, err := h.engine.RecordImageCaption(context.Background(), []byte("img"), "alice", base, "chat-1")
	require.NoError(t, err)
	assert.Equal(t, "a cat on a sofa", caption)

	msgs := h.messages(t, "chat-1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "*An image of a cat on a sofa", msgs[0].Text)
	assert.Equal(t, "alice", msgs[0].Username)
}

func TestRecordImageCaptionTooLarge(t *testing.T) {
	h := newHarness(t, storage.NewMemoryStorage(), Config{MaxImageSize: 4})

	caption, err := h.engine.RecordImageCaption(context.Background(), []byte("too big"), "alice", base, "chat-1")
	require.NoError(t, err)
	assert.Empty(t, caption)
	assert.Zero(t, h.captioner.calls)
	assert.Nil(t, h.messages(t, "chat-1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ImagesSkipped))
}

func TestRecordImageCaptionEmpty(t *testing.T) {
	h := newHarness(t, storage.NewMemoryStorage(), Config{})
	h.captioner.caption = ""

	caption, err := h.engine.RecordImageCaption(context.Background(), []byte("img"), "alice", base, "chat-1")
	require.NoError(t, err)
	assert.Empty(t, caption)
	assert.Nil(t, h.messages(t, "chat-1"))
}

func TestApplyFeedbackAfterRespond(t *testing.T) {
	h := newHarness(t, storage.NewMemoryStorage(), Config{})
	ctx := context.Background()
	window := []models.MessageInfo{at("alice", "tell me a joke", 0)}

	reply, err := h.engine.Respond(ctx, window, "chat-1", "")
	require.NoError(t, err)

	require.NoError(t, h.engine.ApplyFeedback(ctx, 1, models.FeedbackInfo{Text: reply, Time: base.Add(20 * time.Second)}, "chat-1"))
	require.NoError(t, h.engine.ApplyFeedback(ctx, 1, models.FeedbackInfo{Text: reply, Time: base.Add(5 * time.Minute)}, "chat-1"))
	require.NoError(t, h.engine.ApplyFeedback(ctx, 1, models.FeedbackInfo{Text: "not mine", Time: base.Add(20 * time.Second)}, "chat-1"))

	assert.Equal(t, 1, h.completion(t, 1).Score)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Feedback.WithLabelValues("correlated")))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.Feedback.WithLabelValues("untracked")))
}

func TestSummarizeURL(t *testing.T) {
	h := newHarness(t, storage.NewMemoryStorage(), Config{})
	h.completer.reply = "  Rain is coming. Stay inside.  "
	ctx := context.Background()
	trigger := at("alice", "https://example.com/news", 0)

	summary, err := h.engine.SummarizeURL(ctx, "https://example.com/news", trigger, "chat-1")
	require.NoError(t, err)
	assert.Equal(t, "Rain is coming. Stay inside.", summary)

	entries := h.completer.last()
	require.Len(t, entries, 2)
	assert.Equal(t, WebSummaryPrompt, entries[0].Content)
	assert.Equal(t, "Long article text.", entries[1].Content)

	msgs := h.messages(t, "chat-1")
	require.Len(t, msgs, 1)
	assert.Equal(t, trigger.Text, msgs[0].Text)
	assert.Equal(t, msgs[0].ID, h.completion(t, 1).ReplyTo)

	// The trigger is not stored twice.
	_, err = h.engine.SummarizeURL(ctx, "https://example.com/news", trigger, "chat-1")
	require.NoError(t, err)
	assert.Len(t, h.messages(t, "chat-1"), 1)
}

func TestSummarizeURLNoResult(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
	}{
		{name: "unreachable", setup: func(h *harness) { h.extractor.fetchErr = errors.New("connection refused") }},
		{name: "empty body", setup: func(h *harness) { h.extractor.raw = "" }},
		{name: "no text", setup: func(h *harness) { h.extractor.extErr = errors.New("no text") }},
		{name: "no content marker", setup: func(h *harness) { h.completer.reply = "no content" }},
		{name: "model failure", setup: func(h *harness) { h.completer.err = errors.New("timeout") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, storage.NewMemoryStorage(), Config{})
			tt.setup(h)

			summary, err := h.engine.SummarizeURL(context.Background(), "https://example.com", at("alice", "link", 0), "chat-1")
			require.NoError(t, err)
			assert.Empty(t, summary)
			assert.Nil(t, h.messages(t, "chat-1"))
		})
	}
}

func TestTruncateToBudget(t *testing.T) {
	short := "a few words only"
	assert.Equal(t, short, truncateToBudget(short, 100))

	long := strings.Repeat("lorem ipsum dolor ", 2000)
	got := truncateToBudget(long, 500)
	assert.LessOrEqual(t, tokens.Estimate(got), 500)
	assert.True(t, strings.HasPrefix(long, got))
	assert.Zero(t, (len([]rune(long))-len([]rune(got)))%summaryTrimStep, "cut in whole steps")
	assert.Greater(t, tokens.Estimate(long[:len(got)+summaryTrimStep]), 500, "longest fitting prefix")

	assert.Equal(t, "", truncateToBudget(strings.Repeat("x", 250), 0))
}

func TestGenerateImage(t *testing.T) {
	h := newHarness(t, storage.NewMemoryStorage(), Config{})
	ctx := context.Background()

	image, err := h.engine.GenerateImage(ctx, "a lighthouse")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), image)

	h.imageGen.err = errors.New("boom")
	image, err = h.engine.GenerateImage(ctx, "a lighthouse")
	require.NoError(t, err)
	assert.Nil(t, image)
}

func newSQLite(t *testing.T) storage.Storage {
	t.Helper()
	s, err := storage.NewSQLiteStorage(context.Background(), filepath.Join(t.TempDir(), "edubot.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
