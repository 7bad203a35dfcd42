// Package ai talks to the OpenAI API for chat completions, image captions and
// image generation.
package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/edubot/internal/chatcontext"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrMissingAPIKey is returned by NewClient when no API key is configured.
var ErrMissingAPIKey = errors.New("openai api key is not set")

// ErrEmptyResponse is returned when the API answers without any content.
var ErrEmptyResponse = errors.New("openai returned an empty response")

const captionPrompt = "Describe this image in a single short phrase. " +
	"Do not start with 'an image of' or 'a picture of'."

type Config struct {
	APIKey            string
	BaseURL           string
	Model             string
	VisionModel       string
	ImageModel        string
	MaxTokens         int
	Temperature       float64
	RequestsPerMinute int
}

type Client struct {
	client      *openai.Client
	model       string
	visionModel string
	imageModel  string
	maxTokens   int
	temperature float64
	limiter     *rate.Limiter
	logger      *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	visionModel := cfg.VisionModel
	if visionModel == "" {
		visionModel = cfg.Model
	}

	return &Client{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		visionModel: visionModel,
		imageModel:  cfg.ImageModel,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		limiter:     limiter,
		logger:      logger,
	}, nil
}

// Model is the chat model identifier requests are sent to.
func (c *Client) Model() string {
	return c.model
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

func (c *Client) chat(ctx context.Context, model string, messages []openai.ChatCompletionMessage) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}

	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:       model,
			Messages:    messages,
			MaxTokens:   c.maxTokens,
			Temperature: float32(c.temperature),
		},
	)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	c.logger.Debug("Chat completion finished",
		zap.String("model", model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))

	return resp.Choices[0].Message.Content, nil
}

// Complete sends role-tagged entries to the chat model and returns its reply.
func (c *Client) Complete(ctx context.Context, entries []chatcontext.Entry) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(entries))
	for _, e := range entries {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    e.Role,
			Content: e.Content,
		})
	}
	return c.chat(ctx, c.model, messages)
}

// Caption asks the vision model for a short description of image.
func (c *Client) Caption(ctx context.Context, image []byte) (string, error) {
	dataURI := "data:" + http.DetectContentType(image) + ";base64," + base64.StdEncoding.EncodeToString(image)

	text, err := c.chat(ctx, c.visionModel, []openai.ChatCompletionMessage{
		{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: captionPrompt},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    dataURI,
						Detail: openai.ImageURLDetailLow,
					},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}

	return strings.TrimRight(strings.TrimSpace(text), "."), nil
}

// GenerateImage renders prompt to PNG bytes. A prompt rejected by the
// content policy returns nil without an error.
func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          c.imageModel,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.Code == "content_policy_violation" {
			c.logger.Info("Image prompt rejected", zap.String("prompt", prompt))
			return nil, nil
		}
		return nil, fmt.Errorf("image generation failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, ErrEmptyResponse
	}

	image, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode generated image: %w", err)
	}
	return image, nil
}
