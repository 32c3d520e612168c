package identify

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidImage 表示图片不是合法的 base64。
var ErrInvalidImage = errors.New("image is not valid base64")

const instruction = `This is a photo of a book cover. Identify the book.
Reply with a single JSON object and nothing else: {"title": "<title>", "author": "<author>"}.
Use null for anything you cannot read.`

// Vision sends an image and an instruction to a multimodal model.
type Vision interface {
	DescribeImage(ctx context.Context, imageURL, instruction string) (string, error)
}

// Result is the identified book. Nil fields are unknown.
type Result struct {
	Title  *string `json:"title"`
	Author *string `json:"author"`
}

// Service reads a cover photo into a (title, author) pair.
type Service struct {
	vision     Vision
	strategies []Strategy
	timeout    time.Duration
	logger     *zap.Logger
}

// NewService 创建识别服务。timeout 为零时不额外限时。
func NewService(vision Vision, timeout time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		vision:     vision,
		strategies: DefaultStrategies(),
		timeout:    timeout,
		logger:     logger.Named("identify"),
	}
}

// Identify returns nulls without any upstream call when the image is empty.
func (s *Service) Identify(ctx context.Context, imageBase64 string) (Result, error) {
	imageURL, err := toDataURL(imageBase64)
	if err != nil {
		return Result{}, err
	}
	if imageURL == "" {
		return Result{}, nil
	}

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	raw, err := s.vision.DescribeImage(callCtx, imageURL, instruction)
	if err != nil {
		return Result{}, fmt.Errorf("identify cover: %w", err)
	}

	result, strategy := s.parse(raw)
	s.logger.Info("identified cover",
		zap.String("strategy", strategy),
		zap.Bool("title", result.Title != nil),
		zap.Bool("author", result.Author != nil),
	)
	return result, nil
}

func (s *Service) parse(raw string) (Result, string) {
	raw = strings.TrimSpace(raw)
	for _, strategy := range s.strategies {
		if title, author, ok := strategy.Parse(raw); ok {
			return Result{Title: title, Author: author}, strategy.Name
		}
	}
	return Result{}, "none"
}

// toDataURL accepts bare base64 or a data URL and returns a JPEG data URL.
func toDataURL(imageBase64 string) (string, error) {
	trimmed := strings.TrimSpace(imageBase64)
	if trimmed == "" {
		return "", nil
	}

	if strings.HasPrefix(trimmed, "data:") {
		idx := strings.Index(trimmed, ",")
		if idx < 0 {
			return "", ErrInvalidImage
		}
		if _, err := base64.StdEncoding.DecodeString(trimmed[idx+1:]); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
		return trimmed, nil
	}

	if _, err := base64.StdEncoding.DecodeString(trimmed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return "data:image/jpeg;base64," + trimmed, nil
}
