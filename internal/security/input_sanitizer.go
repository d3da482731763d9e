// Package security はアプリケーションのセキュリティ機能を提供する。
//
// InputSanitizerService はユーザーが入力する加盟店名などの自由記述フィールドを
// サニタイズする。これらの値はDBへ保存されるほか、発行プロバイダのメタデータ
// としても送信されるため、HTMLタグや制御文字を一切含めない。
// bluemondayのStrictPolicyで全タグを除去するテキスト専用ポリシーを使用する。
package security

import (
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// merchantMaxLength は加盟店名として保存される最大文字数（rune単位）。
const merchantMaxLength = 64

// InputSanitizerService は自由記述入力のサニタイズ機能のインターフェースを定義する。
// カード発行リクエストの加盟店名フィールドの保存前に使用される。
type InputSanitizerService interface {
	// SanitizeMerchant は加盟店名をサニタイズして安全なプレーンテキストを返す。
	// 全てのHTMLタグと制御文字を除去し、前後の空白を削除した上で
	// 最大長に切り詰める。サニタイズ後に空になった場合は空文字列を返す
	// （呼び出し側がデフォルト値を適用する）。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeMerchant(raw string) string
}

// inputSanitizer はInputSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type inputSanitizer struct {
	policy *bluemonday.Policy
}

// NewInputSanitizer はInputSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyは許可タグを一切持たないため、全てのHTML要素と
// on*イベント属性を含むあらゆる属性が除去される。
func NewInputSanitizer() *inputSanitizer {
	return &inputSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeMerchant は加盟店名をサニタイズして安全なプレーンテキストを返す。
func (s *inputSanitizer) SanitizeMerchant(raw string) string {
	cleaned := s.policy.Sanitize(raw)
	cleaned = stripControlRunes(cleaned)
	cleaned = strings.TrimSpace(cleaned)

	runes := []rune(cleaned)
	if len(runes) > merchantMaxLength {
		cleaned = string(runes[:merchantMaxLength])
		cleaned = strings.TrimSpace(cleaned)
	}
	return cleaned
}

// stripControlRunes は改行・タブを含む制御文字を除去する。
func stripControlRunes(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
