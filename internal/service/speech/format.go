package speech

import (
	"bytes"
	"strings"
)

// DefaultInputFormat is assumed for clips that cannot be sniffed; phones record AAC in m4a.
const DefaultInputFormat = "m4a"

var mimeTypes = map[string]string{
	"mp3":  "audio/mpeg",
	"m4a":  "audio/mp4",
	"mp4":  "audio/mp4",
	"wav":  "audio/wav",
	"ogg":  "audio/ogg",
	"webm": "audio/webm",
	"flac": "audio/flac",
	"aac":  "audio/aac",
	"opus": "audio/opus",
	"pcm":  "audio/pcm",
}

// DetectFormat sniffs the container from magic bytes, falling back to hint and then m4a.
func DetectFormat(data []byte, hint string) string {
	switch {
	case bytes.HasPrefix(data, []byte("ID3")),
		len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "mp3"
	case bytes.HasPrefix(data, []byte("RIFF")) && len(data) >= 12 && string(data[8:12]) == "WAVE":
		return "wav"
	case bytes.HasPrefix(data, []byte("OggS")):
		return "ogg"
	case bytes.HasPrefix(data, []byte("fLaC")):
		return "flac"
	case bytes.HasPrefix(data, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return "webm"
	case len(data) >= 8 && string(data[4:8]) == "ftyp":
		return "m4a"
	}

	if format := NormalizeFormat(hint); format != "" {
		return format
	}
	return DefaultInputFormat
}

// NormalizeFormat accepts "m4a", ".M4A" or "audio/mp4" and returns the short name, or "" when unknown.
func NormalizeFormat(raw string) string {
	format := strings.ToLower(strings.TrimSpace(raw))
	format = strings.TrimPrefix(format, ".")
	if _, ok := mimeTypes[format]; ok {
		return format
	}
	for name, mime := range mimeTypes {
		if mime == format && name != "mp4" {
			return name
		}
	}
	switch format {
	case "audio/x-m4a", "audio/m4a":
		return "m4a"
	case "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/mp3":
		return "mp3"
	}
	return ""
}

// MimeType returns the content type for a short format name.
func MimeType(format string) string {
	if mime, ok := mimeTypes[NormalizeFormat(format)]; ok {
		return mime
	}
	return "application/octet-stream"
}
