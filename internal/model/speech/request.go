package speech

import "github.com/zhouzirui/grimoire/backend/internal/model/persona"

// ASRRequest 语音识别请求
type ASRRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	AudioData      []byte `json:"-"`
	Format         string `json:"format"`             // m4a, mp3, wav, webm, ogg
	Language       string `json:"language,omitempty"` // ISO-639-1, empty lets the model detect
}

// TTSRequest 语音合成请求
type TTSRequest struct {
	ConversationID string         `json:"conversationId,omitempty"`
	Text           string         `json:"text"`
	Gender         persona.Gender `json:"gender,omitempty"` // picks the voice when Voice is empty
	Voice          string         `json:"voice,omitempty"`
	Format         string         `json:"format,omitempty"` // mp3 unless overridden
}
