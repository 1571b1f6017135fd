// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService はプロバイダのレポートペイロードに含まれる
// 自由記述欄（コメント等）をサニタイズする。上流プロバイダのデータは
// 第三者（製造事業者）の入力に由来するため、保存前に無害化する。
// bluemondayライブラリの許可リストベースのポリシーを使用する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService は自由記述コンテンツのサニタイズ機能のインターフェースを定義する。
// レポートの保存前に使用される。
type ContentSanitizerService interface {
	// Sanitize は自由記述テキストをサニタイズして安全なプレーンテキストを返す。
	// HTMLタグはすべて除去され、エンティティはデコードされ、前後の空白は削除される。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// レポートのコメント欄は表示時にプレーンテキストとして扱われるため、
// タグを一切許可しないStrictPolicyを使用する。
func NewContentSanitizer() *contentSanitizer {
	return &contentSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は自由記述テキストをサニタイズして安全なプレーンテキストを返す。
func (s *contentSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}

	cleaned := s.policy.Sanitize(raw)
	// StrictPolicyはテキストをエスケープして返すため、
	// プレーンテキストとして保存する前にエンティティを戻す
	return strings.TrimSpace(html.UnescapeString(cleaned))
}
