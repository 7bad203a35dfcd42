package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/xaenox/edubot/internal/models"
	"github.com/xaenox/edubot/internal/storage"
	"go.uber.org/zap"
)

// CaptionPrefix marks stored messages that stand in for an image.
const CaptionPrefix = "*An image of "

// RecordImageCaption captions image and stores the caption in thread as a
// message from author, so later replies can refer to it. It returns the
// caption, or "" when the image was skipped or could not be captioned.
func (e *Engine) RecordImageCaption(ctx context.Context, image []byte, author string, sentAt time.Time, threadName string) (string, error) {
	if e.captioner == nil {
		return "", fmt.Errorf("%w: image captioning", ErrMissingCredential)
	}
	logger := e.requestLogger("record_image_caption", threadName)

	if int64(len(image)) > e.maxImage {
		e.metrics.ImagesSkipped.Inc()
		logger.Info("Skipped image because it was too large",
			zap.String("size", humanize.IBytes(uint64(len(image)))),
			zap.String("limit", humanize.IBytes(uint64(e.maxImage))))
		return "", nil
	}

	caption, err := e.captioner.Caption(ctx, image)
	if err != nil {
		e.serviceFailed(logger, "caption", err)
		return "", nil
	}
	if caption == "" {
		logger.Error("Captioning service returned an empty response")
		return "", nil
	}

	err = e.store.WithTx(ctx, func(q storage.Queries) error {
		thread, err := q.EnsureThread(ctx, threadName, e.platform)
		if err != nil {
			return err
		}
		return q.SaveMessage(ctx, &models.Message{
			ThreadID: thread.ID,
			Username: author,
			Text:     CaptionPrefix + caption,
			Time:     sentAt,
		})
	})
	if err != nil {
		return "", fmt.Errorf("failed to save image caption: %w", err)
	}
	e.metrics.MessagesRecorded.Inc()

	logger.Debug("Saved image caption", zap.String("caption", caption))
	return caption, nil
}

// GenerateImage renders prompt. It returns nil when the prompt was rejected
// or the service failed.
func (e *Engine) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	if e.imageGen == nil {
		return nil, fmt.Errorf("%w: image generation", ErrMissingCredential)
	}
	logger := e.requestLogger("generate_image", "")

	image, err := e.imageGen.GenerateImage(ctx, prompt)
	if err != nil {
		e.serviceFailed(logger, "image_generation", err)
		return nil, nil
	}
	if image == nil {
		logger.Info("Image prompt was rejected")
	}
	return image, nil
}
