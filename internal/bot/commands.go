package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const welcome = `Hi! I'm a chatbot that learns from your feedback.
Talk to me directly, mention me in a group, or reply to one of my messages.
Rate my replies with 👍 or 👎 so I get better.
Use /help to see all available commands.`

const help = `Available commands:
/start - Start the bot
/help - Show this help message
/personality <text> - Change how I behave in this chat
/personality - Go back to my default personality
/imagine <prompt> - Generate an image

I also summarise links and look at photos posted to the chat.`

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.sendMessage(message.Chat.ID, welcome)
	case "help":
		b.sendMessage(message.Chat.ID, help)
	case "personality":
		b.handlePersonality(message)
	case "imagine":
		b.handleImagine(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handlePersonality(message *tgbotapi.Message) {
	personality := strings.TrimSpace(message.CommandArguments())
	b.chats.SetPersonality(message.Chat.ID, personality)

	if personality == "" {
		b.sendMessage(message.Chat.ID, "Back to my usual self.")
		return
	}
	b.sendMessage(message.Chat.ID, "Got it, my personality is now: "+personality)
}

func (b *Bot) handleImagine(ctx context.Context, message *tgbotapi.Message) {
	prompt := strings.TrimSpace(message.CommandArguments())
	if prompt == "" {
		b.sendMessage(message.Chat.ID, "Tell me what to draw, e.g. /imagine a lighthouse at dusk")
		return
	}

	image, err := b.engine.GenerateImage(ctx, prompt)
	if err != nil {
		b.logger.Error("Failed to generate image",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
		b.sendErrorMessage(message.Chat.ID, "Image generation is not available right now.")
		return
	}
	if image == nil {
		b.sendMessage(message.Chat.ID, "I can't draw that one.")
		return
	}

	photo := tgbotapi.NewPhoto(message.Chat.ID, tgbotapi.FileBytes{Name: "image.png", Bytes: image})
	photo.ReplyToMessageID = message.MessageID
	if _, err := b.api.Send(photo); err != nil {
		b.logger.Error("Failed to send image",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
	}
}
