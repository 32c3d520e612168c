package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/grimoire/backend/internal/config"
)

// ErrEmptyCompletion is returned when the model answers with no text at all.
var ErrEmptyCompletion = errors.New("model returned an empty completion")

const replySystemPrompt = "You answer a reader on behalf of a book. Stay in character and never mention that you are a language model."

const classifyInstruction = `Classify the book the user names.
Reply with a single JSON object and nothing else:
{"isFiction": true|false, "personaRole": "protagonist"|"author", "personaName": "<display name>", "gender": "male"|"female"|"unknown"}
Use "protagonist" for fiction with a clear main character, otherwise "author".
personaName is the protagonist's name or the author's full name.`

// Service wraps the chat model behind the reply, classification and vision calls.
type Service struct {
	visionModel model.ChatModel
	reply       compose.Runnable[map[string]any, *schema.Message]
	classify    compose.Runnable[map[string]any, *schema.Message]
	logger      *zap.Logger
}

// NewService creates the service from Ark configuration.
func NewService(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	visionModel := chatModel
	if cfg.VisionModel != "" && cfg.VisionModel != cfg.Model {
		visionModel, err = cfg.NewVisionModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create vision model: %w", err)
		}
	}

	return NewServiceWithModels(ctx, chatModel, visionModel, logger)
}

// NewServiceWithModels builds the chains over already constructed models.
// visionModel may be nil, in which case chatModel also handles images.
func NewServiceWithModels(ctx context.Context, chatModel, visionModel model.ChatModel, logger *zap.Logger) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if visionModel == nil {
		visionModel = chatModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	reply, err := compileChain(ctx, chatModel, prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{prompt}"),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to compile reply chain: %w", err)
	}

	classify, err := compileChain(ctx, chatModel, prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{instruction}"),
		schema.UserMessage("{book}"),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to compile classification chain: %w", err)
	}

	return &Service{
		visionModel: visionModel,
		reply:       reply,
		classify:    classify,
		logger:      logger.Named("ai"),
	}, nil
}

func compileChain(ctx context.Context, chatModel model.ChatModel, tpl prompt.ChatTemplate) (compose.Runnable[map[string]any, *schema.Message], error) {
	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(tpl)
	chain.AppendChatModel(chatModel)
	return chain.Compile(ctx)
}

// Reply runs a composed persona prompt through the model and returns the answer text.
func (s *Service) Reply(ctx context.Context, composed string) (string, error) {
	response, err := s.reply.Invoke(ctx, map[string]any{
		"system": replySystemPrompt,
		"prompt": composed,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run reply chain: %w", err)
	}

	answer := strings.TrimSpace(response.Content)
	if answer == "" {
		return "", ErrEmptyCompletion
	}

	s.logger.Debug("generated reply", zap.Int("promptLength", len(composed)), zap.Int("length", len(answer)))
	return answer, nil
}

// Classify asks the model which persona should speak for a book and returns its raw output.
func (s *Service) Classify(ctx context.Context, title, author string) (string, error) {
	book := "Title: " + strings.TrimSpace(title)
	if author = strings.TrimSpace(author); author != "" {
		book += "\nAuthor: " + author
	}

	response, err := s.classify.Invoke(ctx, map[string]any{
		"instruction": classifyInstruction,
		"book":        book,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run classification chain: %w", err)
	}

	s.logger.Debug("classified book", zap.String("title", title), zap.Int("length", len(response.Content)))
	return response.Content, nil
}

// DescribeImage sends one image plus an instruction to the vision model.
// imageURL is either an https URL or a data: URL carrying the encoded image.
func (s *Service) DescribeImage(ctx context.Context, imageURL, instruction string) (string, error) {
	message := &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: instruction},
			{
				Type:     schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{URL: imageURL},
			},
		},
	}

	response, err := s.visionModel.Generate(ctx, []*schema.Message{message})
	if err != nil {
		return "", fmt.Errorf("failed to run vision model: %w", err)
	}

	s.logger.Debug("described image", zap.Int("length", len(response.Content)))
	return response.Content, nil
}
