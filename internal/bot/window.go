package bot

import (
	"sort"
	"sync"

	"github.com/xaenox/edubot/internal/models"
)

// chatState holds the recent messages and personality override of each chat.
type chatState struct {
	mu            sync.Mutex
	size          int
	windows       map[int64][]models.MessageInfo
	personalities map[int64]string
}

func newChatState(size int) *chatState {
	if size <= 0 {
		size = 20
	}
	return &chatState{
		size:          size,
		windows:       make(map[int64][]models.MessageInfo),
		personalities: make(map[int64]string),
	}
}

// Append adds msg keeping the window sorted by time and no longer than size.
func (s *chatState) Append(chatID int64, msg models.MessageInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.windows[chatID]
	i := sort.Search(len(w), func(i int) bool { return w[i].Time.After(msg.Time) })
	w = append(w, models.MessageInfo{})
	copy(w[i+1:], w[i:])
	w[i] = msg

	if len(w) > s.size {
		w = append([]models.MessageInfo(nil), w[len(w)-s.size:]...)
	}
	s.windows[chatID] = w
}

// Window returns a copy of the chat's recent messages.
func (s *chatState) Window(chatID int64) []models.MessageInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]models.MessageInfo(nil), s.windows[chatID]...)
}

func (s *chatState) SetPersonality(chatID int64, personality string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if personality == "" {
		delete(s.personalities, chatID)
		return
	}
	s.personalities[chatID] = personality
}

func (s *chatState) Personality(chatID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.personalities[chatID]
}
