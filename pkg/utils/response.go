package utils

import (
	"errors"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := sonic.ConfigStd.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

// RespondError 发送错误响应，kind 为机器可读的错误类型，detail 为可读说明。
func RespondError(w http.ResponseWriter, status int, kind, detail string) {
	RespondJSON(w, status, ErrorBody{Error: kind, Detail: detail})
}

// DecodeJSON 解析请求体；空请求体视为错误。
func DecodeJSON(r *http.Request, dst interface{}) error {
	if err := sonic.ConfigStd.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

// DecodeRequest decodes the body into dst and writes the error response itself:
// 413 PayloadTooLarge when the body exceeds the server limit, 400 InvalidRequest otherwise.
func DecodeRequest(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	err := DecodeJSON(r, dst)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		RespondError(w, http.StatusRequestEntityTooLarge, "PayloadTooLarge", "request body exceeds the configured limit")
		return false
	}
	RespondError(w, http.StatusBadRequest, "InvalidRequest", "invalid request body")
	return false
}
