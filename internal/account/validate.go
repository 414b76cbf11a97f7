package account

import (
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/hitoshi/meetup/internal/model"
)

const (
	// MinPasswordLength はパスワードの最小文字数。
	MinPasswordLength = 8
	// MinNicknameLength はニックネームの最小文字数。
	MinNicknameLength = 2
	// MaxNicknameLength はニックネームの最大文字数。
	MaxNicknameLength = 12
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidateEmail は正規化済みメールアドレスの形式を検証する。
func ValidateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return model.NewInvalidEmailError()
	}
	return nil
}

// ValidatePassword はパスワードの長さを検証する。
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return model.NewPasswordTooShortError(MinPasswordLength)
	}
	return nil
}

// ValidateNickname はtrim済みニックネームの長さと文字種を検証する。
// 文字（各言語の文字を含む）、数字、アンダースコアのみ許可する。
func ValidateNickname(nickname string) error {
	n := utf8.RuneCountInString(nickname)
	if n < MinNicknameLength || n > MaxNicknameLength {
		return model.NewInvalidNicknameError("文字数が範囲外です")
	}
	for _, r := range nickname {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return model.NewInvalidNicknameError("使用できない文字が含まれています")
		}
	}
	return nil
}

// validateBirthDate は空またはYYYY-MM-DD形式の過去日付を許可する。
func validateBirthDate(birthDate string, now time.Time) error {
	if birthDate == "" {
		return nil
	}
	d, err := time.Parse("2006-01-02", birthDate)
	if err != nil {
		return model.NewInvalidRequestError("birthDate は YYYY-MM-DD 形式で指定してください")
	}
	if d.After(now) {
		return model.NewInvalidRequestError("birthDate に未来の日付は指定できません")
	}
	return nil
}

func normalizeNickname(nickname string) string {
	return strings.TrimSpace(nickname)
}
