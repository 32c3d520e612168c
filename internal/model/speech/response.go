package speech

import "time"

// ASRResponse 语音识别响应
type ASRResponse struct {
	ConversationID string    `json:"conversationId,omitempty"`
	Text           string    `json:"text"`
	Language       string    `json:"language,omitempty"`
	Duration       float64   `json:"duration"` // seconds
	CreatedAt      time.Time `json:"createdAt"`
}

// TTSResponse 语音合成响应
type TTSResponse struct {
	ConversationID string    `json:"conversationId,omitempty"`
	AudioData      []byte    `json:"-"`
	Format         string    `json:"format"`
	MimeType       string    `json:"mimeType"`
	Voice          string    `json:"voice"`
	CreatedAt      time.Time `json:"createdAt"`
}
