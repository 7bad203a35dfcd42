package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xaenox/edubot/internal/models"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

type dialect string

const (
	dialectPostgres dialect = "postgres"
	dialectSQLite   dialect = "sqlite"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStorage implements Storage over database/sql for PostgreSQL and SQLite.
type SQLStorage struct {
	*sqlQueries
	db     *sql.DB
	logger *zap.Logger
}

func newSQLStorage(db *sql.DB, d dialect, logger *zap.Logger) *SQLStorage {
	return &SQLStorage{
		sqlQueries: &sqlQueries{db: db, dialect: d},
		db:         db,
		logger:     logger,
	}
}

// Migrate applies the embedded schema for the storage dialect.
func (s *SQLStorage) Migrate(ctx context.Context) error {
	// Read migrations file
	migrationSQL, err := migrations.ReadFile("migrations/" + string(s.dialect) + ".sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	// Execute migrations
	if _, err := s.db.ExecContext(ctx, string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	s.logger.Debug("Schema applied", zap.String("dialect", string(s.dialect)))
	return nil
}

func (s *SQLStorage) WithTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&sqlQueries{db: tx, dialect: s.dialect}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}

func (s *SQLStorage) Close() error {
	return s.db.Close()
}

type sqlQueries struct {
	db      dbtx
	dialect dialect
}

// rebind rewrites ? placeholders into the $N form PostgreSQL expects.
func (q *sqlQueries) rebind(query string) string {
	if q.dialect != dialectPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (q *sqlQueries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.db.QueryRowContext(ctx, q.rebind(query), args...)
}

func (q *sqlQueries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.db.ExecContext(ctx, q.rebind(query), args...)
}

func toUnix(t time.Time) int64 { return t.UnixNano() }

func fromUnix(n int64) time.Time { return time.Unix(0, n).UTC() }

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (q *sqlQueries) EnsureBot(ctx context.Context, username, platform string) (*models.Bot, error) {
	_, err := q.exec(ctx,
		`INSERT INTO bots (username, platform) VALUES (?, ?) ON CONFLICT (username, platform) DO NOTHING`,
		username, platform)
	if err != nil {
		return nil, fmt.Errorf("error creating bot: %w", err)
	}
	return q.GetBot(ctx, username, platform)
}

func (q *sqlQueries) GetBot(ctx context.Context, username, platform string) (*models.Bot, error) {
	b := &models.Bot{}
	err := q.queryRow(ctx,
		`SELECT id, username, platform FROM bots WHERE username = ? AND platform = ?`,
		username, platform,
	).Scan(&b.ID, &b.Username, &b.Platform)
	if err != nil {
		return nil, notFound(err)
	}
	return b, nil
}

func (q *sqlQueries) EnsureThread(ctx context.Context, name, platform string) (*models.Thread, error) {
	_, err := q.exec(ctx,
		`INSERT INTO threads (name, platform) VALUES (?, ?) ON CONFLICT (name, platform) DO NOTHING`,
		name, platform)
	if err != nil {
		return nil, fmt.Errorf("error creating thread: %w", err)
	}
	return q.GetThread(ctx, name, platform)
}

func (q *sqlQueries) GetThread(ctx context.Context, name, platform string) (*models.Thread, error) {
	t := &models.Thread{}
	err := q.queryRow(ctx,
		`SELECT id, name, platform FROM threads WHERE name = ? AND platform = ?`,
		name, platform,
	).Scan(&t.ID, &t.Name, &t.Platform)
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

func (q *sqlQueries) FindMessage(ctx context.Context, threadID int64, info models.MessageInfo) (*models.Message, error) {
	m := &models.Message{}
	var sentAt int64
	err := q.queryRow(ctx, `
		SELECT id, thread_id, username, text, sent_at
		FROM messages
		WHERE thread_id = ? AND username = ? AND text = ? AND sent_at = ?
		ORDER BY id
		LIMIT 1`,
		threadID, info.Username, info.Text, toUnix(info.Time),
	).Scan(&m.ID, &m.ThreadID, &m.Username, &m.Text, &sentAt)
	if err != nil {
		return nil, notFound(err)
	}
	m.Time = fromUnix(sentAt)
	return m, nil
}

func (q *sqlQueries) SaveMessage(ctx context.Context, msg *models.Message) error {
	err := q.queryRow(ctx, `
		INSERT INTO messages (thread_id, username, text, sent_at)
		VALUES (?, ?, ?, ?)
		RETURNING id`,
		msg.ThreadID, msg.Username, msg.Text, toUnix(msg.Time),
	).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("error saving message: %w", err)
	}
	return nil
}

func (q *sqlQueries) MessagesAfter(ctx context.Context, threadID int64, t time.Time) ([]models.Message, error) {
	rows, err := q.db.QueryContext(ctx, q.rebind(`
		SELECT id, thread_id, username, text, sent_at
		FROM messages
		WHERE thread_id = ? AND sent_at > ?
		ORDER BY id`),
		threadID, toUnix(t))
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var sentAt int64
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Username, &m.Text, &sentAt); err != nil {
			return nil, fmt.Errorf("error scanning message: %w", err)
		}
		m.Time = fromUnix(sentAt)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (q *sqlQueries) SaveCompletion(ctx context.Context, c *models.Completion) error {
	err := q.queryRow(ctx, `
		INSERT INTO completions (bot_id, text, reply_to, score)
		VALUES (?, ?, ?, 0)
		RETURNING id, score`,
		c.BotID, c.Text, c.ReplyTo,
	).Scan(&c.ID, &c.Score)
	if err != nil {
		return fmt.Errorf("error saving completion: %w", err)
	}
	return nil
}

func (q *sqlQueries) GetCompletion(ctx context.Context, id int64) (*models.Completion, error) {
	c := &models.Completion{}
	err := q.queryRow(ctx,
		`SELECT id, bot_id, text, reply_to, score FROM completions WHERE id = ?`, id,
	).Scan(&c.ID, &c.BotID, &c.Text, &c.ReplyTo, &c.Score)
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (q *sqlQueries) FindCompletion(ctx context.Context, cq CompletionQuery) (*models.Completion, error) {
	c := &models.Completion{}
	err := q.queryRow(ctx, `
		SELECT c.id, c.bot_id, c.text, c.reply_to, c.score
		FROM completions c
		JOIN messages m ON m.id = c.reply_to
		WHERE c.bot_id = ?
			AND c.text = ?
			AND m.thread_id = ?
			AND m.sent_at >= ?
			AND m.sent_at < ?
		ORDER BY c.id DESC
		LIMIT 1`,
		cq.BotID, cq.Text, cq.ThreadID, toUnix(cq.From), toUnix(cq.To),
	).Scan(&c.ID, &c.BotID, &c.Text, &c.ReplyTo, &c.Score)
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (q *sqlQueries) AddCompletionScore(ctx context.Context, id int64, offset int) error {
	result, err := q.exec(ctx, `UPDATE completions SET score = score + ? WHERE id = ?`, offset, id)
	if err != nil {
		return fmt.Errorf("error updating completion score: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
