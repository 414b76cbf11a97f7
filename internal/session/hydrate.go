package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/meetup/internal/metrics"
	"github.com/hitoshi/meetup/internal/model"
	"github.com/hitoshi/meetup/internal/storage"
)

// CredentialProvider は自動ログインに使う資格情報を提供する。
type CredentialProvider interface {
	Credential() (loginID, password string, err error)
}

// StaticCredential は固定の資格情報を返すCredentialProvider。
type StaticCredential struct {
	LoginID  string
	Password string
}

// Credential はCredentialProviderを実装する。
func (c StaticCredential) Credential() (string, string, error) {
	if c.LoginID == "" {
		return "", "", fmt.Errorf("fallback login id is empty")
	}
	return c.LoginID, c.Password, nil
}

// staleRecords は未認証へ落ちるときに削除する古い永続化レコード。
type staleRecords struct {
	token   bool
	loginID bool
}

// Hydrate は永続化された状態からセッションを復元する。起動時に一度だけ呼び出す。
// 2回目以降の呼び出しは何もせず現在の状態を返す。
//
// エラーは返さない。途中で失敗しても自動ログイン（有効な場合）を一度だけ試み、
// 必ず認証済みか未認証のどちらかで終了し、最後に HasHydrated を true にする。
func (s *Store) Hydrate(ctx context.Context) Snapshot {
	s.mu.Lock()
	if s.hydrateStarted {
		snap := s.state.clone()
		s.mu.Unlock()
		return snap
	}
	s.hydrateStarted = true
	s.mu.Unlock()

	s.publish(func(st *Snapshot) {
		st.Status = StatusHydrating
	})

	outcome, err := s.safely(func() (string, error) { return s.restore(ctx) })
	if err != nil {
		slog.Error("session hydration failed",
			slog.String("error", err.Error()),
			slog.Bool("fallback_enabled", s.fallback != nil),
		)
		outcome = metrics.HydrationRecovered
		if s.fallback != nil {
			if _, ferr := s.safely(func() (string, error) { return "", s.fallbackLogin(ctx) }); ferr != nil {
				slog.Warn("fallback login failed", slog.String("error", ferr.Error()))
			}
		}
	}

	s.publish(func(st *Snapshot) {
		if !st.IsLoggedIn || st.User == nil {
			st.Status = StatusUnauthenticated
			st.IsLoggedIn = false
			st.User = nil
		}
		st.HasHydrated = true
	})

	snap := s.Snapshot()
	s.metrics.RecordHydration(outcome)
	slog.Info("session hydrated",
		slog.String("outcome", outcome),
		slog.Bool("logged_in", snap.IsLoggedIn),
	)
	return snap
}

// restore は復元の各分岐を実行し、結果ラベルを返す。
func (s *Store) restore(ctx context.Context) (string, error) {
	if s.fallback != nil {
		if err := s.api.EnsureMockUsers(ctx); err != nil {
			return "", fmt.Errorf("failed to seed mock users: %w", err)
		}
	}

	_, ok, err := s.AccessToken(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return s.fallbackOrAnonymous(ctx, staleRecords{})
	}

	loginID, ok, err := s.api.GetCurrentLoginID(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read current login id: %w", err)
	}
	if !ok {
		return s.fallbackOrAnonymous(ctx, staleRecords{token: true})
	}

	user, err := s.api.GetUserByLoginID(ctx, loginID)
	if err != nil && !model.HasCode(err, model.ErrCodeUserNotFound) {
		return "", fmt.Errorf("failed to resolve user: %w", err)
	}
	if user == nil {
		return s.fallbackOrAnonymous(ctx, staleRecords{token: true, loginID: true})
	}

	u := user.Clone()
	s.publish(func(st *Snapshot) {
		st.Status = StatusAuthenticated
		st.IsLoggedIn = true
		st.User = u
	})
	return metrics.HydrationRestored, nil
}

// fallbackOrAnonymous は自動ログインを試み、無効または失敗した場合は
// 古いレコードを削除して未認証状態にする。
func (s *Store) fallbackOrAnonymous(ctx context.Context, stale staleRecords) (string, error) {
	if s.fallback != nil {
		err := s.fallbackLogin(ctx)
		if err == nil {
			return metrics.HydrationFallback, nil
		}
		slog.Warn("fallback login failed", slog.String("error", err.Error()))
	}

	if stale.token {
		if err := s.kv.Delete(ctx, storage.KeyAccessToken); err != nil {
			slog.Warn("failed to delete stale access token", slog.String("error", err.Error()))
		}
	}
	if stale.loginID {
		if err := s.api.ClearCurrentLoginID(ctx); err != nil {
			slog.Warn("failed to clear stale login id", slog.String("error", err.Error()))
		}
	}

	s.publish(func(st *Snapshot) {
		st.Status = StatusUnauthenticated
		st.IsLoggedIn = false
		st.User = nil
	})
	return metrics.HydrationAnonymous, nil
}

// fallbackLogin は資格情報プロバイダでログインする。
func (s *Store) fallbackLogin(ctx context.Context) error {
	loginID, password, err := s.fallback.Credential()
	if err != nil {
		return fmt.Errorf("failed to get fallback credential: %w", err)
	}
	u, err := s.api.Login(ctx, loginID, password)
	if err != nil {
		return fmt.Errorf("fallback login rejected: %w", err)
	}
	return s.Login(ctx, u)
}

// safely はpanicをエラーに変換して実行する。
func (s *Store) safely(fn func() (string, error)) (outcome string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
