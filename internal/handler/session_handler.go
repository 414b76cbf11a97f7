package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/meetup/internal/model"
	"github.com/hitoshi/meetup/internal/session"
)

// SessionServiceInterface はセッションハンドラーが必要とするインターフェース。
// session.Store が満たす。
type SessionServiceInterface interface {
	Snapshot() session.Snapshot
	CurrentUser() *model.User
	SignIn(ctx context.Context, loginID, password string) (*model.User, error)
	SignUp(ctx context.Context, input model.SignupInput) (*model.User, error)
	Logout(ctx context.Context) error
	UpdateProfile(ctx context.Context, patch model.ProfilePatch) (*model.User, error)
}

// SessionHandler はセッション関連のHTTPハンドラー。
type SessionHandler struct {
	service SessionServiceInterface
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(service SessionServiceInterface) *SessionHandler {
	return &SessionHandler{service: service}
}

type loginRequest struct {
	LoginID  string `json:"loginId"`
	Password string `json:"password"`
}

// GetSession は現在のセッションスナップショットを返す。
// GET /api/session
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Snapshot())
}

// Login はログインIDとパスワードでログインする。
// POST /api/session/login
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.LoginID == "" || req.Password == "" {
		handleServiceError(w, model.NewInvalidRequestError("loginIdとpasswordは必須です"))
		return
	}

	if _, err := h.service.SignIn(r.Context(), req.LoginID, req.Password); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.service.Snapshot())
}

// Signup は新規登録してログインする。
// POST /api/session/signup
func (h *SessionHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req model.SignupInput
	if !decodeJSON(w, r, &req) {
		return
	}

	if _, err := h.service.SignUp(r.Context(), req); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.service.Snapshot())
}

// Logout はログアウトする。
// 永続化レコードの削除に失敗してもセッションは未認証になるため、警告ログのみ残して200を返す。
// POST /api/session/logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context()); err != nil {
		slog.Warn("logout completed with persistence error", slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusOK, h.service.Snapshot())
}

// UpdateProfile はプロフィールを部分更新する。
// 失敗時はストア側でロールバック済みのエラーを返す。
// PATCH /api/session/profile
func (h *SessionHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var patch model.ProfilePatch
	if !decodeJSON(w, r, &patch) {
		return
	}

	updated, err := h.service.UpdateProfile(r.Context(), patch)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if updated == nil {
		// 処理中にログアウトされた
		handleServiceError(w, model.NewUnauthorizedError())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
