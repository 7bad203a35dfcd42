// Package engine sequences context assembly, language model calls and
// feedback correlation behind the operations an integration calls.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/xaenox/edubot/internal/chatcontext"
	"github.com/xaenox/edubot/internal/feedback"
	"github.com/xaenox/edubot/internal/metrics"
	"github.com/xaenox/edubot/internal/storage"
	"go.uber.org/zap"
)

var (
	// ErrMissingCredential means a collaborator was not configured because
	// its credential is absent.
	ErrMissingCredential = errors.New("missing credential")
	ErrEmptyWindow       = errors.New("message window is empty")
)

const (
	// DefaultMaxTokens leaves room under an 8k context for the preamble and the reply.
	DefaultMaxTokens    = 7200
	DefaultMaxImageSize = 50 << 20
)

// Completer generates a reply from role-tagged entries.
type Completer interface {
	Complete(ctx context.Context, entries []chatcontext.Entry) (string, error)
}

// Captioner describes an image in a short phrase.
type Captioner interface {
	Caption(ctx context.Context, image []byte) (string, error)
}

// ImageGenerator renders a prompt. A nil image with a nil error means the
// prompt was rejected.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}

// Extractor fetches a page and reduces it to plaintext.
type Extractor interface {
	Fetch(ctx context.Context, url string) (string, error)
	Extract(raw string) (string, error)
}

type Config struct {
	BotName          string
	Platform         string
	Personality      string
	Model            string
	MaxContextTokens int
	FeedbackWindow   time.Duration
	MaxImageSize     int64
}

// Options carries the collaborator handles. Nil handles make the operations
// that need them fail with ErrMissingCredential.
type Options struct {
	Completer      Completer
	Captioner      Captioner
	ImageGenerator ImageGenerator
	Extractor      Extractor
	Metrics        *metrics.Metrics
	Now            func() time.Time
}

type Engine struct {
	store      storage.Storage
	botID      int64
	botName    string
	platform   string
	maxTokens  int
	maxImage   int64
	formatter  *chatcontext.Formatter
	correlator *feedback.Correlator

	completer Completer
	captioner Captioner
	imageGen  ImageGenerator
	extractor Extractor

	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New registers the bot identity in store and returns an engine speaking as it.
func New(ctx context.Context, cfg Config, store storage.Storage, opts Options, logger *zap.Logger) (*Engine, error) {
	if cfg.BotName == "" || cfg.Platform == "" {
		return nil, errors.New("bot name and platform are required")
	}

	bot, err := store.EnsureBot(ctx, cfg.BotName, cfg.Platform)
	if err != nil {
		return nil, fmt.Errorf("failed to register bot: %w", err)
	}

	maxTokens := cfg.MaxContextTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	maxImage := cfg.MaxImageSize
	if maxImage <= 0 {
		maxImage = DefaultMaxImageSize
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New(nil)
	}

	logger = logger.With(zap.String("bot", cfg.BotName), zap.String("platform", cfg.Platform))
	logger.Info("Engine ready", zap.Int64("bot_id", bot.ID), zap.String("model", cfg.Model))

	return &Engine{
		store:     store,
		botID:     bot.ID,
		botName:   cfg.BotName,
		platform:  cfg.Platform,
		maxTokens: maxTokens,
		maxImage:  maxImage,
		formatter: &chatcontext.Formatter{
			BotName:     cfg.BotName,
			Personality: cfg.Personality,
			Model:       cfg.Model,
			Now:         opts.Now,
		},
		correlator: feedback.NewCorrelator(store, bot.ID, cfg.Platform, cfg.FeedbackWindow, logger),
		completer:  opts.Completer,
		captioner:  opts.Captioner,
		imageGen:   opts.ImageGenerator,
		extractor:  opts.Extractor,
		metrics:    m,
		logger:     logger,
	}, nil
}

// BotName is the username the engine speaks as.
func (e *Engine) BotName() string {
	return e.botName
}

func (e *Engine) requestLogger(op, thread string) *zap.Logger {
	return e.logger.With(
		zap.String("request_id", uuid.NewString()),
		zap.String("op", op),
		zap.String("thread", thread),
	)
}

func (e *Engine) serviceFailed(logger *zap.Logger, service string, err error) {
	e.metrics.ServiceFailures.WithLabelValues(service).Inc()
	logger.Error("External service request failed", zap.String("service", service), zap.Error(err))
}

// stripSelfName removes a leading "<bot>: " the model sometimes echoes back.
func (e *Engine) stripSelfName(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, e.botName+": ")
	return strings.TrimLeftFunc(text, unicode.IsSpace)
}
