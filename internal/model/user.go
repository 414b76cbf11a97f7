// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Gender はプロフィールの性別を表す。
type Gender string

const (
	// GenderMale は男性。
	GenderMale Gender = "male"
	// GenderFemale は女性。
	GenderFemale Gender = "female"
	// GenderNone は未設定（回答しない）。
	GenderNone Gender = "none"
)

// NormalizeGender は未知の値をGenderNoneに丸める。
func NormalizeGender(g Gender) Gender {
	switch Gender(strings.ToLower(strings.TrimSpace(string(g)))) {
	case GenderMale:
		return GenderMale
	case GenderFemale:
		return GenderFemale
	default:
		return GenderNone
	}
}

// User はアプリを利用するユーザーのプロフィールを表す。
// LoginIDは正規化済みメールアドレス。
type User struct {
	ID        string `json:"id"`
	LoginID   string `json:"loginId"`
	Nickname  string `json:"nickname"`
	Gender    Gender `json:"gender"`
	BirthDate string `json:"birthDate"` // YYYY-MM-DD または空
	AvatarURL string `json:"avatarUrl"`
}

// Clone はUserのコピーを返す。nilの場合はnilを返す。
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// ProfilePatch はプロフィールの部分更新を表す。
// nilフィールドは変更しない。
type ProfilePatch struct {
	Nickname  *string `json:"nickname,omitempty"`
	Gender    *Gender `json:"gender,omitempty"`
	BirthDate *string `json:"birthDate,omitempty"`
	AvatarURL *string `json:"avatarUrl,omitempty"`
}

// Apply はパッチを適用した新しいUserを返す。元のUserは変更しない。
func (p ProfilePatch) Apply(u User) User {
	if p.Nickname != nil {
		u.Nickname = *p.Nickname
	}
	if p.Gender != nil {
		u.Gender = *p.Gender
	}
	if p.BirthDate != nil {
		u.BirthDate = *p.BirthDate
	}
	if p.AvatarURL != nil {
		u.AvatarURL = *p.AvatarURL
	}
	return u
}

// IsEmpty は変更対象のフィールドがひとつもないかを返す。
func (p ProfilePatch) IsEmpty() bool {
	return p.Nickname == nil && p.Gender == nil && p.BirthDate == nil && p.AvatarURL == nil
}

// UserRecord はローカルユーザーディレクトリに保存されるレコード。
type UserRecord struct {
	User         User      `json:"user"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// SignupInput は新規登録の入力値。
type SignupInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Nickname  string `json:"nickname"`
	Gender    Gender `json:"gender"`
	BirthDate string `json:"birthDate"`
}

// ResetRecord はパスワード再設定コードを表す。正規化済みメールアドレスをキーに保存される。
type ResetRecord struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NormalizeEmail はメールアドレスをtrimして小文字化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
