package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/edubot/internal/models"
	"go.uber.org/zap"
)

const platform = "telegram"

const votePrefix = "vote:"

// Engine is the subset of the response engine the Telegram adapter drives.
type Engine interface {
	BotName() string
	Respond(ctx context.Context, window []models.MessageInfo, thread, personalityOverride string) (string, error)
	RecordImageCaption(ctx context.Context, image []byte, author string, sentAt time.Time, thread string) (string, error)
	ApplyFeedback(ctx context.Context, offset int, fb models.FeedbackInfo, thread string) error
	SummarizeURL(ctx context.Context, url string, trigger models.MessageInfo, thread string) (string, error)
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}

type Bot struct {
	api        *tgbotapi.BotAPI
	engine     Engine
	chats      *chatState
	httpClient *http.Client
	logger     *zap.Logger
}

func New(api *tgbotapi.BotAPI, engine Engine, windowSize int, logger *zap.Logger) *Bot {
	return &Bot{
		api:        api,
		engine:     engine,
		chats:      newChatState(windowSize),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With(zap.String("platform", platform)),
	}
}

// Start polls for updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("Listening for updates", zap.String("username", b.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			switch {
			case update.CallbackQuery != nil:
				go b.handleCallback(ctx, update.CallbackQuery)
			case update.Message != nil:
				go b.handleMessage(ctx, update.Message)
			}
		}
	}
}

func threadName(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

func displayName(u *tgbotapi.User) string {
	if u == nil {
		return "unknown"
	}
	if u.UserName != "" {
		return u.UserName
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	// Handle commands
	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	chatID := message.Chat.ID
	thread := threadName(chatID)
	author := displayName(message.From)
	sentAt := message.Time()

	if len(message.Photo) > 0 {
		b.handlePhoto(ctx, message, author, thread)
	}

	// Get content from message
	content := message.Text
	entities := message.Entities
	if message.Caption != "" {
		content = message.Caption
		entities = message.CaptionEntities
		// The image caption is stored at sentAt; the text sent with it follows.
		sentAt = sentAt.Add(time.Millisecond)
	}
	if content == "" {
		return
	}

	msg := models.MessageInfo{Username: author, Text: content, Time: sentAt}
	b.chats.Append(chatID, msg)

	for _, link := range extractURLs(content, entities) {
		b.summarize(ctx, chatID, message.MessageID, link, msg, thread)
	}

	if !b.addressed(message, content) {
		return
	}

	reply, err := b.engine.Respond(ctx, b.chats.Window(chatID), thread, b.chats.Personality(chatID))
	if err != nil {
		b.logger.Error("Failed to generate response",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
		b.sendErrorMessage(chatID, "Sorry, I couldn't come up with a reply. Please try again.")
		return
	}
	if reply == "" {
		return
	}

	b.sendReply(chatID, message.MessageID, reply)
}

// addressed reports whether the bot should answer: private chats, mentions
// and replies to the bot's own messages.
func (b *Bot) addressed(message *tgbotapi.Message, content string) bool {
	if message.Chat.IsPrivate() {
		return true
	}
	name := b.engine.BotName()
	if strings.Contains(strings.ToLower(content), "@"+strings.ToLower(name)) {
		return true
	}
	reply := message.ReplyToMessage
	return reply != nil && reply.From != nil && reply.From.UserName == name
}

func (b *Bot) handlePhoto(ctx context.Context, message *tgbotapi.Message, author, thread string) {
	// Telegram lists sizes smallest first.
	largest := message.Photo[len(message.Photo)-1]

	image, err := b.download(ctx, largest.FileID)
	if err != nil {
		b.logger.Error("Failed to download photo",
			zap.Error(err),
			zap.String("file_id", largest.FileID))
		return
	}

	caption, err := b.engine.RecordImageCaption(ctx, image, author, message.Time(), thread)
	if err != nil {
		b.logger.Error("Failed to record image caption", zap.Error(err), zap.String("thread", thread))
		return
	}
	if caption != "" {
		b.logger.Debug("Image captioned", zap.String("thread", thread), zap.String("caption", caption))
	}
}

func (b *Bot) download(ctx context.Context, fileID string) ([]byte, error) {
	link, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func (b *Bot) summarize(ctx context.Context, chatID int64, replyToID int, link string, trigger models.MessageInfo, thread string) {
	summary, err := b.engine.SummarizeURL(ctx, link, trigger, thread)
	if err != nil {
		b.logger.Error("Failed to summarize link",
			zap.Error(err),
			zap.String("url", link),
			zap.Int64("chat_id", chatID))
		return
	}
	if summary == "" {
		return
	}
	b.sendReply(chatID, replyToID, summary)
}

// extractURLs returns the links Telegram detected in text. Entity offsets
// are counted in UTF-16 code units.
func extractURLs(text string, entities []tgbotapi.MessageEntity) []string {
	var encoded []uint16
	var urls []string
	for _, e := range entities {
		switch e.Type {
		case "url":
			if encoded == nil {
				encoded = utf16.Encode([]rune(text))
			}
			if e.Offset < 0 || e.Offset+e.Length > len(encoded) {
				continue
			}
			urls = append(urls, string(utf16.Decode(encoded[e.Offset:e.Offset+e.Length])))
		case "text_link":
			if e.URL != "" {
				urls = append(urls, e.URL)
			}
		}
	}
	return urls
}

func parseVote(data string) (int, bool) {
	if !strings.HasPrefix(data, votePrefix) {
		return 0, false
	}
	offset, err := strconv.Atoi(strings.TrimPrefix(data, votePrefix))
	if err != nil || offset == 0 {
		return 0, false
	}
	return offset, true
}

func (b *Bot) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	offset, ok := parseVote(query.Data)
	if !ok || query.Message == nil {
		b.answerCallback(query.ID, "")
		return
	}

	fb := models.FeedbackInfo{Text: query.Message.Text, Time: query.Message.Time()}
	if err := b.engine.ApplyFeedback(ctx, offset, fb, threadName(query.Message.Chat.ID)); err != nil {
		b.logger.Error("Failed to apply feedback",
			zap.Error(err),
			zap.Int64("chat_id", query.Message.Chat.ID))
		b.answerCallback(query.ID, "Sorry, I couldn't save that.")
		return
	}

	b.answerCallback(query.ID, "Thanks for the feedback!")
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.logger.Error("Failed to answer callback", zap.Error(err))
	}
}

func voteKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("👍", votePrefix+"1"),
			tgbotapi.NewInlineKeyboardButtonData("👎", votePrefix+"-1"),
		),
	)
}

// sendReply posts text with vote buttons and adds it to the chat window.
func (b *Bot) sendReply(chatID int64, replyToID int, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyToID
	msg.ReplyMarkup = voteKeyboard()

	sent, err := b.api.Send(msg)
	if err != nil {
		b.logger.Error("Failed to send reply",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
		return
	}

	b.chats.Append(chatID, models.MessageInfo{Username: b.engine.BotName(), Text: text, Time: sent.Time()})
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
