package chatcontext

import (
	"fmt"
	"time"

	"github.com/xaenox/edubot/internal/models"
)

// ImagePrompt tells the model to treat stored image captions as sight.
const ImagePrompt = "You should pretend you can view images. " +
	"Descriptions of images posted to the chat will be saved to the database. " +
	"These descriptions are in the form: '*An image of ____'. " +
	"When you spot these descriptions you should pretend you can see the image, using the description. " +
	"Do not mention that you cannot see the image, or that you are instead viewing a description of " +
	"the image. Just pretend like you can see it."

// Formatter renders conversation history in the shape a chat model expects.
type Formatter struct {
	BotName     string
	Personality string
	Model       string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Preamble returns the fixed system instructions. A non-empty override
// replaces the configured personality.
func (f *Formatter) Preamble(personalityOverride string) []Entry {
	personality := f.Personality
	if personalityOverride != "" {
		personality = personalityOverride
	}

	now := time.Now
	if f.Now != nil {
		now = f.Now
	}

	return []Entry{
		NewEntry(RoleSystem, "You are a chatbot named "+f.BotName),
		NewEntry(RoleSystem, "Your personality is: "+personality),
		NewEntry(RoleSystem, ImagePrompt),
		NewEntry(RoleSystem, fmt.Sprintf("The current year is: %d", now().Year())),
		NewEntry(RoleSystem, "You use the language model "+f.Model),
	}
}

// Entries converts messages into "username: text" entries tagged with the
// bot's own voice or the counterpart's.
func (f *Formatter) Entries(messages []models.MessageInfo) []Entry {
	entries := make([]Entry, 0, len(messages))
	for _, msg := range messages {
		role := RoleUser
		if msg.Username == f.BotName {
			role = RoleAssistant
		}
		entries = append(entries, NewEntry(role, msg.Username+": "+msg.Text))
	}
	return entries
}

// Build formats messages, trims them to budget and prepends the preamble,
// which is not counted against the budget.
func (f *Formatter) Build(messages []models.MessageInfo, personalityOverride string, budget int) ([]Entry, int) {
	kept, dropped := Trim(f.Entries(messages), budget)

	preamble := f.Preamble(personalityOverride)
	out := make([]Entry, 0, len(preamble)+len(kept))
	out = append(out, preamble...)
	out = append(out, kept...)
	return out, dropped
}
