package models

import "time"

// Bot is a chat identity the engine (or another bot on the same platform) speaks as.
type Bot struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Platform string `json:"platform"`
}

// Thread is one named conversation stream on a platform.
type Thread struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Platform string `json:"platform"`
}

// Message is a persisted chat message owned by a thread.
type Message struct {
	ID       int64     `json:"id"`
	ThreadID int64     `json:"thread_id"`
	Username string    `json:"username"`
	Text     string    `json:"text"`
	Time     time.Time `json:"time"`
}

// Info returns the platform-independent view of the message.
func (m *Message) Info() MessageInfo {
	return MessageInfo{Username: m.Username, Text: m.Text, Time: m.Time}
}

// Completion is one generated response and its accumulated feedback score.
type Completion struct {
	ID      int64  `json:"id"`
	BotID   int64  `json:"bot_id"`
	Text    string `json:"text"`
	ReplyTo int64  `json:"reply_to"`
	Score   int    `json:"score"`
}

// MessageInfo is a message as supplied by an integration.
type MessageInfo struct {
	Username string    `json:"username"`
	Text     string    `json:"text"`
	Time     time.Time `json:"time"`
}

// Equal reports whether both messages carry the same author, text and timestamp.
func (m MessageInfo) Equal(o MessageInfo) bool {
	return m.Username == o.Username && m.Text == o.Text && m.Time.Equal(o.Time)
}

// FeedbackInfo identifies the bot message a reaction was left on.
type FeedbackInfo struct {
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}
