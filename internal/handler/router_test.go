package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zhouzirui/grimoire/backend/internal/config"
	"github.com/zhouzirui/grimoire/backend/internal/service/conversation"
)

func TestHealth(t *testing.T) {
	router := NewRouter(Dependencies{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK || rr.Body.String() != "OK" {
		t.Fatalf("unexpected health response %d %q", rr.Code, rr.Body.String())
	}
	if !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("unexpected content type %q", rr.Header().Get("Content-Type"))
	}
}

func TestMissingServicesReturn503(t *testing.T) {
	router := NewRouter(Dependencies{})

	for _, path := range []string{"/api/grimoire/chat", "/api/grimoire/identify", "/api/grimoire/speech/synthesize"} {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"bookTitle": "Emma", "question": "hi", "imageBase64": "anBlZw==", "text": "hi"}`))
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: expected 503, got %d", path, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/grimoire/ws/abc", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("websocket: expected 503, got %d", rr.Code)
	}
}

func TestConversationRoutesMounted(t *testing.T) {
	store := conversation.NewMemoryStore()
	router := NewRouter(Dependencies{Conversations: store})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/grimoire/conversations", strings.NewReader(`{"title": "Emma"}`)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/grimoire/conversations", nil))
	var list []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("unexpected list %s err=%v", rr.Body.String(), err)
	}
}

func TestRequestBodyLimit(t *testing.T) {
	router := NewRouter(Dependencies{
		Server:        config.ServerConfig{MaxBodyBytes: 64},
		Conversations: conversation.NewMemoryStore(),
	})

	body := `{"title": "` + strings.Repeat("x", 128) + `"}`
	for _, path := range []string{"/api/grimoire/conversations", "/api/grimoire/identify"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body))))
		if rr.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("%s: oversized body should get 413, got %d", path, rr.Code)
		}
	}
}

func TestRateLimit(t *testing.T) {
	router := NewRouter(Dependencies{
		Server:        config.ServerConfig{RateLimitPerMinute: 2},
		Conversations: conversation.NewMemoryStore(),
	})

	var last int
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/grimoire/conversations", nil)
		req.RemoteAddr = "203.0.113.7:5000"
		router.ServeHTTP(rr, req)
		last = rr.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("third request should be limited, got %d", last)
	}
}
