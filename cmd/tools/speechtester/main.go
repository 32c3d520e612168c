package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/grimoire/backend/internal/config"
	personamodel "github.com/zhouzirui/grimoire/backend/internal/model/persona"
	speechmodel "github.com/zhouzirui/grimoire/backend/internal/model/speech"
	"github.com/zhouzirui/grimoire/backend/internal/service/speech"
)

func main() {
	mode := flag.String("mode", "", "test mode: asr or tts")
	audioPath := flag.String("audio", "", "input audio file for asr")
	text := flag.String("text", "", "input text for tts")
	outputPath := flag.String("out", "", "output audio file for tts (derived from the format when empty)")
	format := flag.String("format", "", "audio format (asr: input hint, tts: output format)")
	language := flag.String("lang", "", "ISO-639-1 language code, configured default when empty")
	voice := flag.String("voice", "", "tts voice; overrides -gender")
	gender := flag.String("gender", "unknown", "persona gender used to pick the tts voice: male, female or unknown")
	timeout := flag.Duration("timeout", 45*time.Second, "request timeout")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := godotenv.Load(); err != nil {
		logger.Warn("no .env file loaded, using system environment", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	if !cfg.Speech.Enabled {
		logger.Fatal("speech is not configured; set OPENAI_API_KEY")
	}

	if *mode != "asr" && *mode != "tts" {
		flag.Usage()
		logger.Fatal("choose -mode=asr or -mode=tts")
	}

	svc, err := speech.NewService(cfg.Speech, logger)
	if err != nil {
		logger.Fatal("failed to build speech service", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "asr":
		err = runASR(ctx, svc, logger, *audioPath, *format, *language)
	case "tts":
		err = runTTS(ctx, svc, logger, *text, *voice, *gender, *format, *outputPath)
	}
	if err != nil {
		logger.Fatal("speech test failed", zap.String("mode", *mode), zap.Error(err))
	}
}

func runASR(ctx context.Context, svc *speech.Service, logger *zap.Logger, audioPath, format, language string) error {
	if audioPath == "" {
		return fmt.Errorf("asr mode needs -audio")
	}

	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return fmt.Errorf("read audio file: %w", err)
	}
	if format == "" {
		format = filepath.Ext(audioPath)
	}
	format = speech.DetectFormat(audio, format)

	logger.Info("running transcription", zap.String("file", audioPath), zap.String("format", format), zap.Int("bytes", len(audio)))

	resp, err := svc.TranscribeAudio(ctx, &speechmodel.ASRRequest{
		AudioData: audio,
		Format:    format,
		Language:  language,
	})
	if err != nil {
		return err
	}

	logger.Info("transcription succeeded",
		zap.String("text", resp.Text),
		zap.String("language", resp.Language),
		zap.Float64("durationSeconds", resp.Duration),
	)
	return nil
}

func runTTS(ctx context.Context, svc *speech.Service, logger *zap.Logger, text, voice, gender, format, outputPath string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("tts mode needs -text")
	}

	parsedGender, ok := personamodel.ParseGender(gender)
	if !ok {
		parsedGender = personamodel.GenderUnknown
	}

	resp, err := svc.SynthesizeSpeech(ctx, &speechmodel.TTSRequest{
		Text:   text,
		Voice:  voice,
		Gender: parsedGender,
		Format: format,
	})
	if err != nil {
		return err
	}

	if outputPath == "" {
		outputPath = fmt.Sprintf("tts-output-%d.%s", time.Now().Unix(), resp.Format)
	}
	if err := os.WriteFile(outputPath, resp.AudioData, 0o644); err != nil {
		return fmt.Errorf("write audio file: %w", err)
	}

	logger.Info("synthesis succeeded",
		zap.String("out", outputPath),
		zap.String("voice", resp.Voice),
		zap.String("mimeType", resp.MimeType),
		zap.Int("bytes", len(resp.AudioData)),
	)
	return nil
}
