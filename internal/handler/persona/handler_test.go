package persona

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	personamodel "github.com/zhouzirui/grimoire/backend/internal/model/persona"
	personaservice "github.com/zhouzirui/grimoire/backend/internal/service/persona"
)

type stubClassifier struct {
	raw   string
	err   error
	calls int
}

func (s *stubClassifier) Classify(_ context.Context, _, _ string) (string, error) {
	s.calls++
	return s.raw, s.err
}

func setupRouter(classifier *stubClassifier) *chi.Mux {
	resolver := personaservice.NewResolver(classifier, nil, personaservice.Options{CacheDefaults: true})
	r := chi.NewRouter()
	New(resolver, nil).RegisterRoutes(r)
	return r
}

func get(r http.Handler, url string) (*httptest.ResponseRecorder, map[string]any) {
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, url, nil))
	var body map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	return rr, body
}

func TestResolvePersona(t *testing.T) {
	classifier := &stubClassifier{raw: `{"isFiction": true, "personaRole": "protagonist", "personaName": "Elizabeth Bennet", "gender": "female"}`}
	r := setupRouter(classifier)

	rr, body := get(r, "/persona?title=Pride+and+Prejudice&author=Jane+Austen")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	persona, _ := body["persona"].(map[string]any)
	if persona["personaName"] != "Elizabeth Bennet" || body["status"] != personaservice.StatusParsed.String() || body["cached"] != false {
		t.Fatalf("unexpected body %v", body)
	}

	_, body = get(r, "/persona?title=pride+and+prejudice&author=JANE+AUSTEN")
	if body["cached"] != true || classifier.calls != 1 {
		t.Fatalf("second lookup should hit the cache, body=%v calls=%d", body, classifier.calls)
	}
}

func TestResolvePersonaCachedDefaultKeepsStatus(t *testing.T) {
	classifier := &stubClassifier{raw: "I could not tell."}
	r := setupRouter(classifier)

	_, first := get(r, "/persona?title=Unknown+Tome")
	_, second := get(r, "/persona?title=Unknown+Tome")

	want := personaservice.StatusDefaulted.String()
	if first["status"] != want || second["status"] != want {
		t.Fatalf("expected defaulted twice, got %v then %v", first["status"], second["status"])
	}
	if second["cached"] != true || second["reason"] != first["reason"] || classifier.calls != 1 {
		t.Fatalf("expected cached default with reason, got %v after %d calls", second, classifier.calls)
	}
}

func TestResolvePersonaFailureFallsBack(t *testing.T) {
	r := setupRouter(&stubClassifier{err: errors.New("ark down")})

	rr, body := get(r, "/persona?title=Dune")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	persona, _ := body["persona"].(map[string]any)
	if persona["personaName"] != "Dune" || persona["personaRole"] != string(personamodel.RoleProtagonist) {
		t.Fatalf("expected last-resort persona, got %v", body)
	}
	if body["status"] != personaservice.StatusFailed.String() {
		t.Fatalf("unexpected status %v", body["status"])
	}
}

func TestResolvePersonaRequiresTitle(t *testing.T) {
	r := setupRouter(&stubClassifier{})

	rr, _ := get(r, "/persona?author=Anonymous")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
