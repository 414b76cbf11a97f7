// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/hitoshi/meetup/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// loginIDContextKey はリクエストコンテキストにログインIDを格納するためのキー。
var loginIDContextKey = contextKey("login_id")

// ErrNoLoginID はコンテキストにログインIDが無い場合のエラー。
var ErrNoLoginID = errors.New("login id not found in context")

// SessionReader は現在のセッションユーザーを参照するためのインターフェース。
// session.Store の部分集合として定義する。
type SessionReader interface {
	CurrentUser() *model.User
}

// NewSessionMiddleware はセッションストアがログイン中であれば
// ログインIDをリクエストコンテキストに注入するミドルウェアを返す。
// 未ログインでもリクエストは拒否しない。拒否は RequireLogin が行う。
func NewSessionMiddleware(reader SessionReader) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if u := reader.CurrentUser(); u != nil && u.LoginID != "" {
				r = r.WithContext(ContextWithLoginID(r.Context(), u.LoginID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireLogin はログインIDの無いリクエストに401を返すミドルウェア。
// NewSessionMiddleware の後に配置する。
func RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := LoginIDFromContext(r.Context()); err != nil {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LoginIDFromContext はリクエストコンテキストからログインIDを取得する。
func LoginIDFromContext(ctx context.Context) (string, error) {
	loginID, ok := ctx.Value(loginIDContextKey).(string)
	if !ok || loginID == "" {
		return "", ErrNoLoginID
	}
	return loginID, nil
}

// ContextWithLoginID はコンテキストにログインIDを注入する。
func ContextWithLoginID(ctx context.Context, loginID string) context.Context {
	return context.WithValue(ctx, loginIDContextKey, loginID)
}
