package storage

import (
	"context"
	"sync"
	"time"

	"github.com/xaenox/edubot/internal/models"
)

type MemoryStorage struct {
	mu          sync.RWMutex
	txMu        sync.Mutex
	bots        []*models.Bot
	threads     []*models.Thread
	messages    []*models.Message
	completions []*models.Completion
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// Bot methods
func (s *MemoryStorage) EnsureBot(ctx context.Context, username, platform string) (*models.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b := s.findBot(username, platform); b != nil {
		return b, nil
	}
	b := &models.Bot{ID: int64(len(s.bots) + 1), Username: username, Platform: platform}
	s.bots = append(s.bots, b)
	copied := *b
	return &copied, nil
}

func (s *MemoryStorage) GetBot(ctx context.Context, username, platform string) (*models.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if b := s.findBot(username, platform); b != nil {
		return b, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) findBot(username, platform string) *models.Bot {
	for _, b := range s.bots {
		if b.Username == username && b.Platform == platform {
			copied := *b
			return &copied
		}
	}
	return nil
}

// Thread methods
func (s *MemoryStorage) EnsureThread(ctx context.Context, name, platform string) (*models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t := s.findThread(name, platform); t != nil {
		return t, nil
	}
	t := &models.Thread{ID: int64(len(s.threads) + 1), Name: name, Platform: platform}
	s.threads = append(s.threads, t)
	copied := *t
	return &copied, nil
}

func (s *MemoryStorage) GetThread(ctx context.Context, name, platform string) (*models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t := s.findThread(name, platform); t != nil {
		return t, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) findThread(name, platform string) *models.Thread {
	for _, t := range s.threads {
		if t.Name == name && t.Platform == platform {
			copied := *t
			return &copied
		}
	}
	return nil
}

// Message methods
func (s *MemoryStorage) FindMessage(ctx context.Context, threadID int64, info models.MessageInfo) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.messages {
		if m.ThreadID == threadID && m.Info().Equal(info) {
			copied := *m
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) SaveMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.ID = int64(len(s.messages) + 1)
	copied := *msg
	s.messages = append(s.messages, &copied)
	return nil
}

func (s *MemoryStorage) MessagesAfter(ctx context.Context, threadID int64, t time.Time) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Message
	for _, m := range s.messages {
		if m.ThreadID == threadID && m.Time.After(t) {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *MemoryStorage) getMessage(id int64) *models.Message {
	if id < 1 || id > int64(len(s.messages)) {
		return nil
	}
	return s.messages[id-1]
}

// Completion methods
func (s *MemoryStorage) SaveCompletion(ctx context.Context, c *models.Completion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.ID = int64(len(s.completions) + 1)
	c.Score = 0
	copied := *c
	s.completions = append(s.completions, &copied)
	return nil
}

func (s *MemoryStorage) GetCompletion(ctx context.Context, id int64) (*models.Completion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id < 1 || id > int64(len(s.completions)) {
		return nil, ErrNotFound
	}
	copied := *s.completions[id-1]
	return &copied, nil
}

func (s *MemoryStorage) FindCompletion(ctx context.Context, q CompletionQuery) (*models.Completion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Newest first so the first hit has the largest id.
	for i := len(s.completions) - 1; i >= 0; i-- {
		c := s.completions[i]
		if c.BotID != q.BotID || c.Text != q.Text {
			continue
		}
		m := s.getMessage(c.ReplyTo)
		if m == nil || m.ThreadID != q.ThreadID {
			continue
		}
		if m.Time.Before(q.From) || !m.Time.Before(q.To) {
			continue
		}
		copied := *c
		return &copied, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) AddCompletionScore(ctx context.Context, id int64, offset int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id < 1 || id > int64(len(s.completions)) {
		return ErrNotFound
	}
	s.completions[id-1].Score += offset
	return nil
}

// WithTx serializes transactions against each other. Writes are not rolled
// back when fn fails.
func (s *MemoryStorage) WithTx(ctx context.Context, fn func(q Queries) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	return fn(s)
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
