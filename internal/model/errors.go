// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, meetup, reset, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeInvalidEmail       = "INVALID_EMAIL"
	ErrCodePasswordTooShort   = "PASSWORD_TOO_SHORT"
	ErrCodeInvalidNickname    = "INVALID_NICKNAME"
	ErrCodeEmailTaken         = "EMAIL_TAKEN"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeResetCodeNotFound  = "RESET_CODE_NOT_FOUND"
	ErrCodeResetCodeExpired   = "RESET_CODE_EXPIRED"
	ErrCodeResetCodeMismatch  = "RESET_CODE_MISMATCH"
	ErrCodeInvalidMeetup      = "INVALID_MEETUP"
	ErrCodeMeetupNotFound     = "MEETUP_NOT_FOUND"
	ErrCodeJoinRejected       = "JOIN_REJECTED"
	ErrCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// HasCode はエラーチェーン中に指定コードのAPIErrorが含まれるかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewInvalidRequestError はリクエスト形式の不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewInvalidEmailError はメールアドレス形式エラーを生成する。
func NewInvalidEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  "メールアドレスの形式が正しくありません。",
		Category: "validation",
		Action:   "example@domain.com の形式で入力してください。",
	}
}

// NewPasswordTooShortError はパスワード長エラーを生成する。
func NewPasswordTooShortError(minLen int) *APIError {
	return &APIError{
		Code:     ErrCodePasswordTooShort,
		Message:  fmt.Sprintf("パスワードは%d文字以上で入力してください。", minLen),
		Category: "validation",
		Action:   "より長いパスワードを設定してください。",
	}
}

// NewInvalidNicknameError はニックネームの長さ・文字種エラーを生成する。
func NewInvalidNicknameError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidNickname,
		Message:  fmt.Sprintf("ニックネームが不正です: %s", reason),
		Category: "validation",
		Action:   "2〜12文字の英数字・アンダースコアで入力してください。",
	}
}

// NewEmailTakenError は登録済みメールアドレスでの新規登録エラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログインするか、パスワード再設定をご利用ください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "メールアドレスを確認するか、新規登録してください。",
	}
}

// NewInvalidCredentialsError はパスワード不一致エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewUnauthorizedError は未ログイン状態での操作エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewResetCodeNotFoundError は再設定コードが存在しない場合のエラーを生成する。
func NewResetCodeNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeResetCodeNotFound,
		Message:  "再設定コードが見つかりません。",
		Category: "reset",
		Action:   "再設定コードをもう一度リクエストしてください。",
	}
}

// NewResetCodeExpiredError は再設定コードの有効期限切れエラーを生成する。
func NewResetCodeExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeResetCodeExpired,
		Message:  "再設定コードの有効期限が切れています。",
		Category: "reset",
		Action:   "再設定コードをもう一度リクエストしてください。",
	}
}

// NewResetCodeMismatchError は再設定コード不一致エラーを生成する。
func NewResetCodeMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeResetCodeMismatch,
		Message:  "再設定コードが一致しません。",
		Category: "reset",
		Action:   "メールに記載された最新の6桁のコードを入力してください。",
	}
}

// NewInvalidMeetupError はミートアップ作成入力のエラーを生成する。
func NewInvalidMeetupError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidMeetup,
		Message:  fmt.Sprintf("ミートアップの入力が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewMeetupNotFoundError はミートアップ未検出エラーを生成する。
func NewMeetupNotFoundError(meetupID string) *APIError {
	return &APIError{
		Code:     ErrCodeMeetupNotFound,
		Message:  fmt.Sprintf("指定されたミートアップが見つかりません: %s", meetupID),
		Category: "meetup",
		Action:   "一覧を更新してください。",
	}
}

// NewJoinRejectedError は参加が反映されなかった場合のエラーを生成する。
// ストア自体はエラーを返さないため、HTTP層でのみ使用する。
func NewJoinRejectedError() *APIError {
	return &APIError{
		Code:     ErrCodeJoinRejected,
		Message:  "参加できませんでした。",
		Category: "meetup",
		Action:   "定員または参加状態を確認してください。",
	}
}
