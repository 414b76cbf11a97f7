// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/meetup/internal/middleware"
	"github.com/hitoshi/meetup/internal/model"
)

// maxRequestBodyBytes はリクエストボディの上限。
const maxRequestBodyBytes = 1 << 20

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをvにデコードする。
// 失敗した場合は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		reason := "リクエストボディの解析に失敗しました"
		if errors.Is(err, io.EOF) {
			reason = "リクエストボディが空です"
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(reason))
		return false
	}
	return true
}

// handleServiceError はストアやAPIアダプタのエラーをHTTPステータスに変換して書き込む。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外は内部エラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidRequest, model.ErrCodeInvalidEmail, model.ErrCodePasswordTooShort,
		model.ErrCodeInvalidNickname, model.ErrCodeInvalidMeetup:
		return http.StatusBadRequest
	case model.ErrCodeEmailTaken, model.ErrCodeJoinRejected:
		return http.StatusConflict
	case model.ErrCodeUserNotFound, model.ErrCodeMeetupNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidCredentials, model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeResetCodeNotFound:
		return http.StatusNotFound
	case model.ErrCodeResetCodeExpired:
		return http.StatusGone
	case model.ErrCodeResetCodeMismatch:
		return http.StatusBadRequest
	case model.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
