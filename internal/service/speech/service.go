package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/zhouzirui/grimoire/backend/internal/config"
	"github.com/zhouzirui/grimoire/backend/internal/model/speech"
)

var (
	// ErrEmptyAudio 表示请求没有携带音频数据。
	ErrEmptyAudio = errors.New("audio payload is empty")
	// ErrEmptyText 表示合成请求没有文本。
	ErrEmptyText = errors.New("synthesis text is empty")
)

// Service 语音服务核心业务逻辑
type Service struct {
	client             *openai.Client
	transcriptionModel string
	synthesisModel     string
	language           string
	voices             VoiceProfile
	logger             *zap.Logger
}

// NewService 创建语音服务实例
func NewService(cfg config.SpeechConfig, logger *zap.Logger) (*Service, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is required for speech")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		client:             openai.NewClientWithConfig(clientCfg),
		transcriptionModel: cfg.TranscriptionModel,
		synthesisModel:     cfg.SynthesisModel,
		language:           cfg.Language,
		voices:             NewVoiceProfile(cfg),
		logger:             logger.Named("speech"),
	}, nil
}

// TranscribeAudio 语音转文字
func (s *Service) TranscribeAudio(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error) {
	if req == nil || len(req.AudioData) == 0 {
		return nil, ErrEmptyAudio
	}

	format := DetectFormat(req.AudioData, req.Format)
	language := req.Language
	if language == "" {
		language = s.language
	}

	started := time.Now()
	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.transcriptionModel,
		FilePath: "clip." + format,
		Reader:   bytes.NewReader(req.AudioData),
		Language: language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	s.logger.Debug("transcribed audio",
		zap.String("conversationId", req.ConversationID),
		zap.String("format", format),
		zap.Int("bytes", len(req.AudioData)),
		zap.Int("textLength", len(text)),
		zap.Duration("elapsed", time.Since(started)),
	)

	return &speech.ASRResponse{
		ConversationID: req.ConversationID,
		Text:           text,
		Language:       resp.Language,
		Duration:       resp.Duration,
		CreatedAt:      time.Now(),
	}, nil
}

// SynthesizeSpeech 文字转语音
func (s *Service) SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	if req == nil || strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}

	voice, ok := NormalizeVoice(req.Voice)
	if !ok {
		voice = s.voices.VoiceFor(req.Gender)
	}

	format := NormalizeFormat(req.Format)
	if format == "" {
		format = "mp3"
	}

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.synthesisModel),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormat(format),
	})
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read synthesized audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("synthesis returned no audio")
	}

	s.logger.Debug("synthesized speech",
		zap.String("conversationId", req.ConversationID),
		zap.String("voice", voice),
		zap.Int("bytes", len(audio)),
	)

	return &speech.TTSResponse{
		ConversationID: req.ConversationID,
		AudioData:      audio,
		Format:         format,
		MimeType:       MimeType(format),
		Voice:          voice,
		CreatedAt:      time.Now(),
	}, nil
}
