package speech

import (
	"testing"

	"github.com/zhouzirui/grimoire/backend/internal/config"
	"github.com/zhouzirui/grimoire/backend/internal/model/persona"
)

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		hint string
		want string
	}{
		{name: "id3", data: []byte("ID3\x04"), want: "mp3"},
		{name: "mpeg frame", data: []byte{0xFF, 0xFB, 0x90}, want: "mp3"},
		{name: "wav", data: []byte("RIFF\x24\x00\x00\x00WAVEfmt "), want: "wav"},
		{name: "ogg", data: []byte("OggS\x00"), want: "ogg"},
		{name: "webm", data: []byte{0x1A, 0x45, 0xDF, 0xA3, 0x01}, want: "webm"},
		{name: "m4a", data: []byte("\x00\x00\x00\x20ftypM4A "), want: "m4a"},
		{name: "hint", data: []byte("????"), hint: ".WEBM", want: "webm"},
		{name: "mime hint", data: []byte("????"), hint: "audio/x-m4a", want: "m4a"},
		{name: "fallback", data: []byte("????"), hint: "midi", want: DefaultInputFormat},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetectFormat(tc.data, tc.hint); got != tc.want {
				t.Fatalf("DetectFormat = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestMimeType(t *testing.T) {
	if got := MimeType("mp3"); got != "audio/mpeg" {
		t.Fatalf("MimeType(mp3) = %s", got)
	}
	if got := MimeType("audio/mp4"); got != "audio/mp4" {
		t.Fatalf("MimeType(audio/mp4) = %s", got)
	}
	if got := MimeType("xyz"); got != "application/octet-stream" {
		t.Fatalf("MimeType(xyz) = %s", got)
	}
}

func TestVoiceProfile(t *testing.T) {
	profile := NewVoiceProfile(config.SpeechConfig{MaleVoice: "ECHO", FemaleVoice: "not-a-voice"})

	if got := profile.VoiceFor(persona.GenderMale); got != "echo" {
		t.Fatalf("male voice = %s", got)
	}
	if got := profile.VoiceFor(persona.GenderFemale); got != "nova" {
		t.Fatalf("female voice should fall back to nova, got %s", got)
	}
	if got := profile.VoiceFor(persona.GenderUnknown); got != "alloy" {
		t.Fatalf("neutral voice = %s", got)
	}
}
