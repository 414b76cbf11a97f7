// Package storage はキー・バリュー形式の永続化アダプタを提供する。
// ビジネスロジックは持たず、文字列キー空間に対するGet/Set/Deleteのみを扱う。
// 書き込みは後勝ちで、トランザクションは提供しない。
package storage

import "context"

// 永続化キー。
const (
	// KeyAccessToken はアクセストークンのレコード。
	KeyAccessToken = "meetup.auth.accessToken"
	// KeyCurrentLoginID は現在ログイン中のログインIDのレコード。
	KeyCurrentLoginID = "meetup.auth.currentLoginId"
	// KeyUsers はローカルユーザーディレクトリ（ユーザー+パスワードレコードの配列）。
	KeyUsers = "meetup.users"
	// KeyResetPrefix はパスワード再設定レコードのキープレフィックス。
	KeyResetPrefix = "meetup.passwordReset."
)

// ResetKey は正規化済みメールアドレスに対応する再設定レコードのキーを返す。
func ResetKey(normalizedEmail string) string {
	return KeyResetPrefix + normalizedEmail
}

// KVStore は永続化アダプタのインターフェース。
type KVStore interface {
	// Get は値を取得する。キーが存在しない場合はokがfalseになる。
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set は値を上書き保存する。
	Set(ctx context.Context, key, value string) error
	// Delete は値を削除する。キーが存在しなくてもエラーにしない。
	Delete(ctx context.Context, key string) error
}

// KeyLister はプレフィックス一致でキーを列挙できるストアのインターフェース。
// 期限切れレコードのクリーンアップで使用する。
type KeyLister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// ConditionalDeleter は現在の値が一致する場合にだけ削除できるストアのインターフェース。
// 読み取り後に別の書き込みで上書きされた値を消さないために使う。
type ConditionalDeleter interface {
	// DeleteIfValue は値がvalueと一致した場合のみ削除し、削除したかを返す。
	DeleteIfValue(ctx context.Context, key, value string) (bool, error)
}
