package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/meetup/internal/metrics"
	"github.com/hitoshi/meetup/internal/model"
)

// PasswordResetServiceInterface はパスワード再設定ハンドラーが必要とするインターフェース。
// account.LocalAPI が満たす。
type PasswordResetServiceInterface interface {
	RequestPasswordReset(ctx context.Context, email string) (*model.ResetRecord, error)
	VerifyPasswordResetCode(ctx context.Context, email, code string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
}

// PasswordResetHandler はパスワード再設定フローのHTTPハンドラー。
type PasswordResetHandler struct {
	service PasswordResetServiceInterface
	metrics metrics.MetricsCollector
}

// NewPasswordResetHandler はPasswordResetHandlerを生成する。
func NewPasswordResetHandler(service PasswordResetServiceInterface, m metrics.MetricsCollector) *PasswordResetHandler {
	if m == nil {
		m = metrics.Nop{}
	}
	return &PasswordResetHandler{service: service, metrics: m}
}

type resetRequest struct {
	Email string `json:"email"`
}

type resetVerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type resetConfirmRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

// resetIssuedResponse は発行したコードのレスポンス。
// メール送信の代わりにコードをそのまま返す。
type resetIssuedResponse struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Request は再設定コードを発行する。
// POST /api/password-reset
func (h *PasswordResetHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, err := h.service.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		h.metrics.RecordResetRequest(false)
		handleServiceError(w, err)
		return
	}
	h.metrics.RecordResetRequest(true)
	slog.Info("password reset code issued", slog.String("login_id", model.NormalizeEmail(req.Email)))
	writeJSON(w, http.StatusCreated, resetIssuedResponse{Code: rec.Code, ExpiresAt: rec.ExpiresAt})
}

// Verify は再設定コードを検証する。コードは消費しない。
// POST /api/password-reset/verify
func (h *PasswordResetHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req resetVerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.VerifyPasswordResetCode(r.Context(), req.Email, req.Code); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Confirm はコードを検証して新しいパスワードを設定する。
// POST /api/password-reset/confirm
func (h *PasswordResetHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
