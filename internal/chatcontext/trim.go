package chatcontext

import "github.com/xaenox/edubot/internal/tokens"

// Role tags understood by chat completion APIs.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Entry is one role-tagged message of a model request.
type Entry struct {
	Role    string
	Content string
	Tokens  int
}

// NewEntry builds an entry and costs its content.
func NewEntry(role, content string) Entry {
	return Entry{Role: role, Content: content, Tokens: tokens.Estimate(content)}
}

// TotalTokens sums the estimated cost of entries.
func TotalTokens(entries []Entry) int {
	total := 0
	for _, e := range entries {
		total += e.Tokens
	}
	return total
}

// Trim drops the oldest entries until the total cost fits budget and returns
// the kept suffix along with how many entries were dropped.
func Trim(entries []Entry, budget int) ([]Entry, int) {
	total := TotalTokens(entries)

	dropped := 0
	for total > budget && dropped < len(entries) {
		total -= entries[dropped].Tokens
		dropped++
	}

	return entries[dropped:], dropped
}
