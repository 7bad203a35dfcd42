package storage

import (
	"context"
	"errors"
	"time"

	"github.com/xaenox/edubot/internal/models"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// CompletionQuery selects completions whose reply-to message falls in [From, To).
type CompletionQuery struct {
	BotID    int64
	ThreadID int64
	Text     string
	From     time.Time
	To       time.Time
}

// Queries is the set of single-statement reads and writes over the entity store.
type Queries interface {
	EnsureBot(ctx context.Context, username, platform string) (*models.Bot, error)
	GetBot(ctx context.Context, username, platform string) (*models.Bot, error)

	EnsureThread(ctx context.Context, name, platform string) (*models.Thread, error)
	GetThread(ctx context.Context, name, platform string) (*models.Thread, error)

	FindMessage(ctx context.Context, threadID int64, info models.MessageInfo) (*models.Message, error)
	SaveMessage(ctx context.Context, msg *models.Message) error
	// MessagesAfter returns thread messages strictly later than t, in insertion order.
	MessagesAfter(ctx context.Context, threadID int64, t time.Time) ([]models.Message, error)

	SaveCompletion(ctx context.Context, c *models.Completion) error
	GetCompletion(ctx context.Context, id int64) (*models.Completion, error)
	// FindCompletion returns the most recently created completion matching q.
	FindCompletion(ctx context.Context, q CompletionQuery) (*models.Completion, error)
	AddCompletionScore(ctx context.Context, id int64, offset int) error
}

type Storage interface {
	Queries

	// WithTx runs fn in one transaction. It commits when fn returns nil and
	// rolls back otherwise.
	WithTx(ctx context.Context, fn func(q Queries) error) error
	Close() error
}
