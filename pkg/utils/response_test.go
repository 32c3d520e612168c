package utils

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDecodeRequestMapsErrors(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		limit    int64
		wantOK   bool
		wantCode int
		wantKind string
	}{
		{name: "valid", body: `{"title": "Emma"}`, wantOK: true},
		{name: "malformed", body: `{broken`, wantCode: http.StatusBadRequest, wantKind: "InvalidRequest"},
		{name: "empty", body: ``, wantCode: http.StatusBadRequest, wantKind: "InvalidRequest"},
		{name: "too large", body: `{"title": "` + strings.Repeat("x", 256) + `"}`, limit: 32, wantCode: http.StatusRequestEntityTooLarge, wantKind: "PayloadTooLarge"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(tc.body)))
			if tc.limit > 0 {
				req.Body = http.MaxBytesReader(rr, req.Body, tc.limit)
			}

			var dst struct {
				Title string `json:"title"`
			}
			ok := DecodeRequest(rr, req, &dst)
			if ok != tc.wantOK {
				t.Fatalf("expected ok=%v, got %v", tc.wantOK, ok)
			}
			if tc.wantOK {
				if dst.Title != "Emma" {
					t.Fatalf("unexpected decode %+v", dst)
				}
				return
			}

			if rr.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d", tc.wantCode, rr.Code)
			}
			var body ErrorBody
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body.Error != tc.wantKind {
				t.Fatalf("unexpected body %s err=%v", rr.Body.String(), err)
			}
		})
	}
}
