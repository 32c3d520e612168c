package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	AI       AIConfig
	Speech   SpeechConfig
	Persona  PersonaConfig
	Store    StoreConfig
	Pipeline PipelineConfig
	Log      LogConfig
}

// Load 从环境变量加载配置；若设置了 CONFIG_FILE，则先读取 YAML 文件作为默认值，环境变量优先。
func Load() (*Config, error) {
	src, err := newSource(strings.TrimSpace(os.Getenv("CONFIG_FILE")))
	if err != nil {
		return nil, err
	}
	return load(src)
}

func load(src source) (*Config, error) {
	server, err := loadServerConfig(src)
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig(src)
	if err != nil {
		return nil, err
	}

	speech := loadSpeechConfig(src)

	persona, err := loadPersonaConfig(src)
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig(src)
	if err != nil {
		return nil, err
	}

	pipeline, err := loadPipelineConfig(src)
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig(src)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		AI:       ai,
		Speech:   speech,
		Persona:  persona,
		Store:    store,
		Pipeline: pipeline,
		Log:      logCfg,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr               string
	MaxBodyBytes       int64
	RateLimitPerMinute int
	AllowedOrigins     []string
}

// loadServerConfig 解析服务器监听地址与请求限制。
func loadServerConfig(src source) (ServerConfig, error) {
	port := src.get("PORT")
	if port == "" {
		port = "4000"
	}

	var addr string
	switch {
	case strings.Contains(port, ":"):
		// 允许用户直接传入 ":4000" 或 "127.0.0.1:4000"。
		addr = port
	case strings.Contains(port, " "):
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	default:
		addr = ":" + port
	}

	maxBody := int64(25 << 20)
	if override, err := src.optionalInt("MAX_BODY_BYTES"); err != nil {
		return ServerConfig{}, err
	} else if override != nil && *override > 0 {
		maxBody = int64(*override)
	}

	rate := 0
	if override, err := src.optionalInt("RATE_LIMIT_PER_MINUTE"); err != nil {
		return ServerConfig{}, err
	} else if override != nil && *override > 0 {
		rate = *override
	}

	return ServerConfig{
		Addr:               addr,
		MaxBodyBytes:       maxBody,
		RateLimitPerMinute: rate,
		AllowedOrigins:     src.list("CORS_ALLOWED_ORIGINS", []string{"*"}),
	}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	VisionModel string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建回复与分类共用的模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	return c.newArkModel(ctx, c.Model)
}

// NewVisionModel 创建封面识别使用的模型；未单独配置时复用主模型。
func (c AIConfig) NewVisionModel(ctx context.Context) (model.ChatModel, error) {
	name := c.VisionModel
	if name == "" {
		name = c.Model
	}
	return c.newArkModel(ctx, name)
}

func (c AIConfig) newArkModel(ctx context.Context, modelName string) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       modelName,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig(src source) (AIConfig, error) {
	temperature, err := src.optionalFloat("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := src.optionalFloat("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := src.optionalInt("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	modelName := src.get("ARK_MODEL")
	if modelName == "" {
		// 兼容旧的 Model 变量名
		modelName = src.get("Model")
	}

	return AIConfig{
		APIKey:      src.get("ARK_API_KEY"),
		AccessKey:   src.get("ARK_ACCESS_KEY"),
		SecretKey:   src.get("ARK_SECRET_KEY"),
		Model:       modelName,
		VisionModel: src.get("ARK_VISION_MODEL"),
		BaseURL:     src.getOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      src.getOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// SpeechConfig 描述语音识别与合成（OpenAI 兼容接口）的配置。
type SpeechConfig struct {
	APIKey             string
	BaseURL            string
	TranscriptionModel string
	SynthesisModel     string
	Language           string
	MaleVoice          string
	FemaleVoice        string
	NeutralVoice       string
	Enabled            bool
}

func loadSpeechConfig(src source) SpeechConfig {
	apiKey := src.get("OPENAI_API_KEY")

	return SpeechConfig{
		APIKey:             apiKey,
		BaseURL:            src.get("OPENAI_BASE_URL"),
		TranscriptionModel: src.getOrDefault("SPEECH_TRANSCRIPTION_MODEL", "whisper-1"),
		SynthesisModel:     src.getOrDefault("SPEECH_SYNTHESIS_MODEL", "tts-1"),
		Language:           src.get("SPEECH_LANGUAGE"),
		MaleVoice:          src.getOrDefault("SPEECH_VOICE_MALE", "onyx"),
		FemaleVoice:        src.getOrDefault("SPEECH_VOICE_FEMALE", "nova"),
		NeutralVoice:       src.getOrDefault("SPEECH_VOICE_NEUTRAL", "alloy"),
		Enabled:            apiKey != "",
	}
}

// PersonaConfig 控制人物解析缓存。
type PersonaConfig struct {
	// CacheSize bounds the in-process LRU; 0 means unbounded.
	CacheSize int
	// CacheDefaults keeps defaulted classifications cached instead of retrying them.
	CacheDefaults bool
	RedisURL      string
	RedisTTL      time.Duration
}

func loadPersonaConfig(src source) (PersonaConfig, error) {
	size := 1024
	if override, err := src.optionalInt("PERSONA_CACHE_SIZE"); err != nil {
		return PersonaConfig{}, err
	} else if override != nil {
		if *override < 0 {
			return PersonaConfig{}, fmt.Errorf("invalid PERSONA_CACHE_SIZE value %d: must be >= 0", *override)
		}
		size = *override
	}

	cacheDefaults, err := src.boolean("PERSONA_CACHE_DEFAULTS", true)
	if err != nil {
		return PersonaConfig{}, err
	}

	ttl, err := src.duration("PERSONA_REDIS_TTL", 0)
	if err != nil {
		return PersonaConfig{}, err
	}

	return PersonaConfig{
		CacheSize:     size,
		CacheDefaults: cacheDefaults,
		RedisURL:      src.get("PERSONA_REDIS_URL"),
		RedisTTL:      ttl,
	}, nil
}

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
)

// StoreConfig 描述会话日志的持久化方式。
type StoreConfig struct {
	Driver      string
	Path        string
	DatabaseURL string
}

func loadStoreConfig(src source) (StoreConfig, error) {
	driver := strings.ToLower(src.getOrDefault("STORE_DRIVER", StoreMemory))
	cfg := StoreConfig{
		Driver:      driver,
		Path:        src.getOrDefault("STORE_PATH", "grimoire-sessions.json"),
		DatabaseURL: src.get("DATABASE_URL"),
	}

	switch driver {
	case StoreMemory, StoreFile:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return StoreConfig{}, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return StoreConfig{}, fmt.Errorf("invalid STORE_DRIVER value %q", driver)
	}
	return cfg, nil
}

// PipelineConfig 描述单轮对话编排的超时设置。
type PipelineConfig struct {
	UpstreamTimeout time.Duration
}

func loadPipelineConfig(src source) (PipelineConfig, error) {
	timeout, err := src.duration("UPSTREAM_TIMEOUT", 30*time.Second)
	if err != nil {
		return PipelineConfig{}, err
	}
	return PipelineConfig{UpstreamTimeout: timeout}, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level       string
	Development bool
}

func loadLogConfig(src source) (LogConfig, error) {
	dev, err := src.boolean("LOG_DEVELOPMENT", false)
	if err != nil {
		return LogConfig{}, err
	}
	return LogConfig{
		Level:       strings.ToLower(src.getOrDefault("LOG_LEVEL", "info")),
		Development: dev,
	}, nil
}

// NewLogger 根据配置构建 zap 日志器。
func (c LogConfig) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL value %q: %w", c.Level, err)
	}

	zcfg := zap.NewProductionConfig()
	if c.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

// source resolves keys from the environment first and the optional YAML file second.
type source struct {
	file map[string]string
}

func newSource(path string) (source, error) {
	src := source{file: map[string]string{}}
	if path == "" {
		return src, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return src, fmt.Errorf("read config file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return src, fmt.Errorf("parse config file: %w", err)
	}
	for key, value := range raw {
		if value == nil {
			continue
		}
		src.file[key] = strings.TrimSpace(fmt.Sprint(value))
	}
	return src, nil
}

func (s source) get(key string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return s.file[key]
}

func (s source) getOrDefault(key, defaultValue string) string {
	if value := s.get(key); value != "" {
		return value
	}
	return defaultValue
}

func (s source) list(key string, defaultValue []string) []string {
	raw := s.get(key)
	if raw == "" {
		return defaultValue
	}
	var items []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}

func (s source) boolean(key string, defaultValue bool) (bool, error) {
	raw := s.get(key)
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func (s source) duration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := s.get(key)
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
}

func (s source) optionalFloat(key string) (*float64, error) {
	raw := s.get(key)
	if raw == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return &val, nil
}

func (s source) optionalInt(key string) (*int, error) {
	raw := s.get(key)
	if raw == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return &val, nil
}
