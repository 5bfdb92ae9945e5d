// Package security はアプリケーションのセキュリティ機能を提供する。
//
// AttributionSanitizer はリデンプション時にフォーム/クエリから渡される
// 流入元情報（src、email）をサニタイズする。値は在庫行に保存され、
// 後から管理画面等で表示されうるため、マークアップを一切許可しない。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxAttributionLength は流入元フィールドの最大長。
// それを超える入力は切り詰める。
const maxAttributionLength = 256

// AttributionSanitizer は流入元フィールドのサニタイズ機能のインターフェースを定義する。
type AttributionSanitizer interface {
	// Sanitize は入力からHTMLタグを全て除去し、前後の空白を削った値を返す。
	// 最大長を超える入力は切り詰められる。空文字列には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// attributionSanitizer はAttributionSanitizerの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type attributionSanitizer struct {
	policy *bluemonday.Policy
}

// NewAttributionSanitizer はAttributionSanitizerの新しいインスタンスを生成する。
// StrictPolicy（全タグ除去）を使用する。
func NewAttributionSanitizer() *attributionSanitizer {
	return &attributionSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は入力からHTMLタグを全て除去し、前後の空白を削った値を返す。
func (s *attributionSanitizer) Sanitize(raw string) string {
	cleaned := strings.TrimSpace(s.policy.Sanitize(raw))
	if len(cleaned) > maxAttributionLength {
		cleaned = cleaned[:maxAttributionLength]
	}
	return cleaned
}
