// Package account はドメインAPIアダプタ（認証・プロフィールAPI）を提供する。
//
// AuthAPI はセッションストアが利用するリモートAPIの抽象。
// LocalAPI はリモートサービスの代わりに永続化アダプタ上のローカルユーザーディレクトリで
// AuthAPI を実装するモックバックエンド。パスワード再設定フローもここで扱う。
package account

import (
	"context"

	"github.com/hitoshi/meetup/internal/model"
)

// AuthAPI はセッションストアが必要とする認証・プロフィールAPIのインターフェース。
type AuthAPI interface {
	// Login はログインIDとパスワードで認証する。
	// 未登録の場合はUSER_NOT_FOUND、パスワード不一致の場合はINVALID_CREDENTIALSを返す。
	Login(ctx context.Context, loginID, password string) (*model.User, error)

	// Signup は新規ユーザーを登録する。
	Signup(ctx context.Context, input model.SignupInput) (*model.User, error)

	// GetUserByLoginID はログインIDからユーザーを取得する。見つからない場合はnilを返す。
	GetUserByLoginID(ctx context.Context, loginID string) (*model.User, error)

	// UpdateUser はプロフィールを更新し、サーバー側で正規化された最新のユーザーを返す。
	UpdateUser(ctx context.Context, loginID string, patch model.ProfilePatch) (*model.User, error)

	// GetCurrentLoginID は永続化された現在のログインIDを返す。
	GetCurrentLoginID(ctx context.Context) (string, bool, error)

	// SetCurrentLoginID は現在のログインIDを永続化する。
	SetCurrentLoginID(ctx context.Context, loginID string) error

	// ClearCurrentLoginID は現在のログインIDを削除する。
	ClearCurrentLoginID(ctx context.Context) error

	// EnsureMockUsers は開発用のモックアカウントを冪等に作成する。
	EnsureMockUsers(ctx context.Context) error
}

// MockAccount は開発用に事前登録されるアカウント。
type MockAccount struct {
	Email    string
	Password string
	Nickname string
	Gender   model.Gender
}

// DefaultMockAccounts はAUTO_MOCK_LOGIN有効時に作成されるモックアカウント。
var DefaultMockAccounts = []MockAccount{
	{Email: "demo@meetup.local", Password: "password1234", Nickname: "demo", Gender: model.GenderNone},
	{Email: "friend@meetup.local", Password: "password1234", Nickname: "friend", Gender: model.GenderNone},
}
