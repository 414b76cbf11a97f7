// Package session は認証セッションの状態管理を提供する。
//
// Store はセッション状態機械（未復元 → 復元中 → 認証済み/未認証）を持ち、
// 起動時の復元（Hydrate）、ログイン・ログアウト、楽観的なプロフィール更新を扱う。
// 状態は変更のたびに購読者へ同期的に通知される。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/meetup/internal/account"
	"github.com/hitoshi/meetup/internal/metrics"
	"github.com/hitoshi/meetup/internal/model"
	"github.com/hitoshi/meetup/internal/storage"
)

// Status はセッションの状態を表す。
type Status string

const (
	StatusUnhydrated      Status = "unhydrated"
	StatusHydrating       Status = "hydrating"
	StatusAuthenticated   Status = "authenticated"
	StatusUnauthenticated Status = "unauthenticated"
)

// Snapshot はある時点のセッション状態のコピー。
// 不変条件: IsLoggedIn ならば User は非nil。HasHydrated は一度trueになったら戻らない。
type Snapshot struct {
	Status      Status      `json:"status"`
	HasHydrated bool        `json:"hasHydrated"`
	IsLoggedIn  bool        `json:"isLoggedIn"`
	User        *model.User `json:"user"`
}

func (s Snapshot) clone() Snapshot {
	s.User = s.User.Clone()
	return s
}

// Listener は状態変更の通知を受け取る関数。
// 通知中にStoreの変更系メソッドを同期的に呼び出してはならない。
// Listenerのpanicはログに記録され、他の購読者と呼び出し元には伝播しない。
type Listener func(Snapshot)

// Options はStoreの任意設定。
type Options struct {
	// Fallback は復元できなかった場合の自動ログインに使う資格情報。nilの場合は無効。
	Fallback CredentialProvider
	// Metrics はnilの場合は記録しない。
	Metrics metrics.MetricsCollector
}

// Store はセッション状態を保持する。
type Store struct {
	api      account.AuthAPI
	kv       storage.KVStore
	fallback CredentialProvider
	metrics  metrics.MetricsCollector

	mu             sync.Mutex
	state          Snapshot
	hydrateStarted bool
	listeners      map[int]Listener
	nextListenerID int

	// notifyMu は状態変更と通知の順序を揃える。
	notifyMu sync.Mutex

	newToken func() (string, error)
}

// NewStore は未復元状態のStoreを生成する。
func NewStore(api account.AuthAPI, kv storage.KVStore, opts Options) *Store {
	m := opts.Metrics
	if m == nil {
		m = metrics.Nop{}
	}
	return &Store{
		api:       api,
		kv:        kv,
		fallback:  opts.Fallback,
		metrics:   m,
		state:     Snapshot{Status: StatusUnhydrated},
		listeners: make(map[int]Listener),
		newToken:  generateToken,
	}
}

// Snapshot は現在の状態のコピーを返す。
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// CurrentUser はログイン中のユーザーのコピーを返す。未ログインの場合はnil。
func (s *Store) CurrentUser() *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.IsLoggedIn {
		return nil
	}
	return s.state.User.Clone()
}

// Subscribe は状態変更の購読を登録し、解除用の関数を返す。
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	id := s.nextListenerID
	s.nextListenerID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// AccessToken は永続化されたアクセストークンを返す。
func (s *Store) AccessToken(ctx context.Context) (string, bool, error) {
	token, ok, err := s.kv.Get(ctx, storage.KeyAccessToken)
	if err != nil {
		return "", false, fmt.Errorf("failed to read access token: %w", err)
	}
	if !ok || token == "" {
		return "", false, nil
	}
	return token, true, nil
}

// Login は新しいトークンを発行して永続化し、ユーザーを認証済み状態にする。
// 以降の復元では同じログインIDが解決される。
func (s *Store) Login(ctx context.Context, user *model.User) error {
	if user == nil {
		return model.NewInvalidRequestError("user is required")
	}

	token, err := s.newToken()
	if err != nil {
		return fmt.Errorf("failed to generate access token: %w", err)
	}
	if err := s.kv.Set(ctx, storage.KeyAccessToken, token); err != nil {
		return fmt.Errorf("failed to persist access token: %w", err)
	}
	if err := s.api.SetCurrentLoginID(ctx, user.LoginID); err != nil {
		return fmt.Errorf("failed to persist current login id: %w", err)
	}

	u := user.Clone()
	s.publish(func(st *Snapshot) {
		st.Status = StatusAuthenticated
		st.IsLoggedIn = true
		st.User = u
	})

	slog.Info("session started", slog.String("login_id", user.LoginID))
	return nil
}

// SignIn はAuthAPIで認証してからLoginする。
// 認証エラーはそのまま返す。
func (s *Store) SignIn(ctx context.Context, loginID, password string) (*model.User, error) {
	u, err := s.api.Login(ctx, loginID, password)
	if err != nil {
		return nil, err
	}
	if err := s.Login(ctx, u); err != nil {
		return nil, err
	}
	return u.Clone(), nil
}

// SignUp は新規登録してからLoginする。
func (s *Store) SignUp(ctx context.Context, input model.SignupInput) (*model.User, error) {
	u, err := s.api.Signup(ctx, input)
	if err != nil {
		return nil, err
	}
	if err := s.Login(ctx, u); err != nil {
		return nil, err
	}
	return u.Clone(), nil
}

// Logout は永続化されたトークンとログインIDを削除し、未認証状態にする。
// 値が既に存在しない場合も成功する。削除に失敗しても状態は未認証になり、最初のエラーを返す。
func (s *Store) Logout(ctx context.Context) error {
	var firstErr error

	if err := s.kv.Delete(ctx, storage.KeyAccessToken); err != nil {
		slog.Error("failed to delete access token", slog.String("error", err.Error()))
		firstErr = fmt.Errorf("failed to delete access token: %w", err)
	}
	if err := s.api.ClearCurrentLoginID(ctx); err != nil {
		slog.Error("failed to clear current login id", slog.String("error", err.Error()))
		if firstErr == nil {
			firstErr = fmt.Errorf("failed to clear current login id: %w", err)
		}
	}

	s.publish(func(st *Snapshot) {
		st.Status = StatusUnauthenticated
		st.IsLoggedIn = false
		st.User = nil
	})
	return firstErr
}

// UpdateProfile はプロフィールを楽観的に更新する。
//
//  1. 仮の値（現在のユーザー + パッチ）を即座に公開する
//  2. AuthAPI.UpdateUser で保存する
//  3. 成功時はサーバーが返した値で確定し、失敗時は呼び出し時点の値に戻してエラーを返す
//
// 未ログインの場合は何もせず nil, nil を返す。
//
// 既知の制約: ロールバックは呼び出し開始時点のスナップショットを復元するため、
// 同じフィールドに対する並行した別の更新を上書きすることがある。
func (s *Store) UpdateProfile(ctx context.Context, patch model.ProfilePatch) (*model.User, error) {
	s.mu.Lock()
	if !s.state.IsLoggedIn || s.state.User == nil {
		s.mu.Unlock()
		return nil, nil
	}
	prev := *s.state.User
	s.mu.Unlock()

	tentative := patch.Apply(prev)
	s.publish(func(st *Snapshot) {
		if sameSession(st, prev.LoginID) {
			st.User = &tentative
		}
	})

	updated, err := s.api.UpdateUser(ctx, prev.LoginID, patch)
	if err == nil && updated == nil {
		err = errors.New("empty response")
	}
	if err != nil {
		s.publish(func(st *Snapshot) {
			if sameSession(st, prev.LoginID) {
				restored := prev
				st.User = &restored
			}
		})
		s.metrics.RecordProfileUpdate(false)
		slog.Warn("profile update rolled back",
			slog.String("login_id", prev.LoginID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	committed := updated.Clone()
	s.publish(func(st *Snapshot) {
		if sameSession(st, prev.LoginID) {
			st.User = committed.Clone()
		}
	})
	s.metrics.RecordProfileUpdate(true)
	return committed, nil
}

// sameSession は更新開始時と同じユーザーがログイン中かを返す。
// 途中でログアウトされた場合はユーザーを書き戻さない。
func sameSession(st *Snapshot, loginID string) bool {
	return st.IsLoggedIn && st.User != nil && st.User.LoginID == loginID
}

// publish は状態を変更し、ロック解放後に購読者へ通知する。
func (s *Store) publish(mutate func(st *Snapshot)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	mutate(&s.state)
	snap := s.state.clone()
	listeners := make([]Listener, 0, len(s.listeners))
	for i := 0; i < s.nextListenerID; i++ {
		if fn, ok := s.listeners[i]; ok {
			listeners = append(listeners, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		notify(fn, snap.clone())
	}
}

// notify は購読者を1つ呼び出す。
func notify(fn Listener, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("session listener panicked",
				slog.Any("panic", r),
				slog.String("status", string(snap.Status)),
			)
		}
	}()
	fn(snap)
}

// generateToken は暗号的に安全な不透明トークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
