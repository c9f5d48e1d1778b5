package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は外部APIから受け取ったテキストをプレーンテキストに正規化する。
// 植物名や説明文はそのままUIに表示されるため、HTMLタグはすべて除去する。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
// bluemondayのStrictPolicyを使用し、すべての要素を除去する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// maxSanitizePasses は実体参照の多重エンコードを剥がす最大回数。
const maxSanitizePasses = 8

// Sanitize はタグを除去し、エスケープされた実体参照を復元した上で
// 連続する空白を1つにまとめて返す。実体参照で書かれたタグも復元後に除去されるよう、
// 結果が変化しなくなるまで繰り返す。並行呼び出しに対して安全。
func (s *TextSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}

	out := raw
	for i := 0; i < maxSanitizePasses; i++ {
		next := s.pass(out)
		if next == out {
			return out
		}
		out = next
	}
	// 収束しない入力は山括弧を残さない
	return strings.NewReplacer("<", "", ">", "").Replace(out)
}

func (s *TextSanitizer) pass(text string) string {
	stripped := s.policy.Sanitize(text)
	return strings.Join(strings.Fields(html.UnescapeString(stripped)), " ")
}
