package bot

import (
	"context"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/edubot/internal/models"
	"go.uber.org/zap"
)

type stubEngine struct{ name string }

func (s stubEngine) BotName() string { return s.name }

func (stubEngine) Respond(context.Context, []models.MessageInfo, string, string) (string, error) {
	return "", nil
}

func (stubEngine) RecordImageCaption(context.Context, []byte, string, time.Time, string) (string, error) {
	return "", nil
}

func (stubEngine) ApplyFeedback(context.Context, int, models.FeedbackInfo, string) error { return nil }

func (stubEngine) SummarizeURL(context.Context, string, models.MessageInfo, string) (string, error) {
	return "", nil
}

func (stubEngine) GenerateImage(context.Context, string) ([]byte, error) { return nil, nil }

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func msgAt(text string, sec int) models.MessageInfo {
	return models.MessageInfo{Username: "alice", Text: text, Time: base.Add(time.Duration(sec) * time.Second)}
}

func TestChatStateKeepsOrderAndSize(t *testing.T) {
	s := newChatState(3)

	s.Append(1, msgAt("b", 10))
	s.Append(1, msgAt("a", 0))
	s.Append(1, msgAt("c", 20))
	assert.Equal(t, []models.MessageInfo{msgAt("a", 0), msgAt("b", 10), msgAt("c", 20)}, s.Window(1))

	s.Append(1, msgAt("d", 30))
	assert.Equal(t, []models.MessageInfo{msgAt("b", 10), msgAt("c", 20), msgAt("d", 30)}, s.Window(1))

	// Equal timestamps keep arrival order.
	s.Append(1, msgAt("e", 30))
	w := s.Window(1)
	assert.Equal(t, "e", w[len(w)-1].Text)

	assert.Empty(t, s.Window(2))
}

func TestChatStateWindowIsCopy(t *testing.T) {
	s := newChatState(5)
	s.Append(1, msgAt("a", 0))

	w := s.Window(1)
	w[0].Text = "changed"
	assert.Equal(t, "a", s.Window(1)[0].Text)
}

func TestChatStatePersonality(t *testing.T) {
	s := newChatState(0)
	s.SetPersonality(1, "pirate")
	assert.Equal(t, "pirate", s.Personality(1))
	assert.Empty(t, s.Personality(2))

	s.SetPersonality(1, "")
	assert.Empty(t, s.Personality(1))
}

func TestExtractURLs(t *testing.T) {
	text := "👋 see https://example.com/a and this"
	entities := []tgbotapi.MessageEntity{
		// The emoji is two UTF-16 code units.
		{Type: "url", Offset: 7, Length: 21},
		{Type: "text_link", Offset: 33, Length: 4, URL: "https://example.org/b"},
		{Type: "bold", Offset: 0, Length: 2},
		{Type: "url", Offset: 100, Length: 5},
	}

	assert.Equal(t, []string{"https://example.com/a", "https://example.org/b"}, extractURLs(text, entities))
	assert.Nil(t, extractURLs("no links", nil))
}

func TestParseVote(t *testing.T) {
	tests := []struct {
		data   string
		want   int
		wantOK bool
	}{
		{data: "vote:1", want: 1, wantOK: true},
		{data: "vote:-1", want: -1, wantOK: true},
		{data: "vote:0"},
		{data: "vote:abc"},
		{data: "other"},
	}

	for _, tt := range tests {
		got, ok := parseVote(tt.data)
		assert.Equal(t, tt.wantOK, ok, tt.data)
		assert.Equal(t, tt.want, got, tt.data)
	}
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "alice", displayName(&tgbotapi.User{UserName: "alice", FirstName: "Alice"}))
	assert.Equal(t, "Alice Smith", displayName(&tgbotapi.User{FirstName: "Alice", LastName: "Smith"}))
	assert.Equal(t, "unknown", displayName(nil))
}

func TestAddressed(t *testing.T) {
	b := New(nil, stubEngine{name: "edubot"}, 10, zap.NewNop())
	group := &tgbotapi.Chat{ID: -100, Type: "supergroup"}

	tests := []struct {
		name    string
		message *tgbotapi.Message
		content string
		want    bool
	}{
		{name: "private chat", message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1, Type: "private"}}, content: "hi", want: true},
		{name: "mention", message: &tgbotapi.Message{Chat: group}, content: "hey @EduBot what's up", want: true},
		{
			name:    "reply to bot",
			message: &tgbotapi.Message{Chat: group, ReplyToMessage: &tgbotapi.Message{From: &tgbotapi.User{UserName: "edubot"}}},
			content: "thanks",
			want:    true,
		},
		{
			name:    "reply to someone else",
			message: &tgbotapi.Message{Chat: group, ReplyToMessage: &tgbotapi.Message{From: &tgbotapi.User{UserName: "bob"}}},
			content: "thanks",
		},
		{name: "group chatter", message: &tgbotapi.Message{Chat: group}, content: "lunch?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.addressed(tt.message, tt.content))
		})
	}
}

func TestVoteKeyboard(t *testing.T) {
	kb := voteKeyboard()
	require.Len(t, kb.InlineKeyboard, 1)
	require.Len(t, kb.InlineKeyboard[0], 2)

	offset, ok := parseVote(*kb.InlineKeyboard[0][1].CallbackData)
	assert.True(t, ok)
	assert.Equal(t, -1, offset)
}
