// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はユーザーが入力する自由記述テキスト（レビュー本文、ミートアップの
// タイトルや説明など）からマークアップを除去し、プレーンテキストとして保存できる形にする。
// bluemondayのStrictPolicyで全タグを落とした後、エスケープされた実体参照を元の文字に戻す。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプレーンテキスト化のインターフェース。
type TextSanitizer interface {
	// Sanitize は全てのHTMLタグを除去したプレーンテキストを返す。
	// script, styleの中身も除去される。同一入力に対して常に同一出力を返す。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerの実装。ポリシーはスレッドセーフ。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はTextSanitizerを実装する。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return html.UnescapeString(s.policy.Sanitize(raw))
}

// CleanText はサニタイズ後に前後の空白を除去し、最大maxRunes文字に切り詰める。
// maxRunesが0以下の場合は切り詰めない。
func CleanText(s TextSanitizer, raw string, maxRunes int) string {
	text := strings.TrimSpace(s.Sanitize(raw))
	return Truncate(text, maxRunes)
}

// Truncate は文字（rune）単位でmaxRunes文字に切り詰める。
func Truncate(text string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	return string([]rune(text)[:maxRunes])
}
