package security

import (
	"strings"
	"sync"
	"testing"
)

func TestTextSanitizer_Sanitize(t *testing.T) {
	s := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"空文字列", "", ""},
		{"プレーンテキストはそのまま", "Monstera deliciosa", "Monstera deliciosa"},
		{"タグを除去", "<b>Rose</b> <i>garden</i>", "Rose garden"},
		{"実体参照を復元", "Salt &amp; pepper", "Salt & pepper"},
		{"scriptは中身ごと除去", "Fern<script>alert(1)</script>", "Fern"},
		{"on属性付き要素", `<img src=x onerror="alert(1)">Ivy`, "Ivy"},
		{"連続空白を正規化", "  Aloe \n\t vera  ", "Aloe vera"},
		{"日本語", "<p>ソメイヨシノ</p>", "ソメイヨシノ"},
		{"エスケープされたscriptも除去", "Fern &lt;script&gt;alert(1)&lt;/script&gt;", "Fern"},
		{"二重エスケープされたタグも除去", "Ivy &amp;lt;b&amp;gt;bold&amp;lt;/b&amp;gt;", "Ivy bold"},
		{"比較記号は残す", "pH &lt; 7", "pH < 7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTextSanitizer_Idempotent(t *testing.T) {
	s := NewTextSanitizer()
	input := "<p>Ficus <em>lyrata</em> is a species.</p>"

	first := s.Sanitize(input)
	second := s.Sanitize(first)
	if first != second {
		t.Errorf("not idempotent: %q then %q", first, second)
	}
	if strings.Contains(first, "<") {
		t.Errorf("tags remain: %q", first)
	}
}

// 実体参照で書かれたマークアップを含む入力でも2回目の適用で結果が変わらないこと
func TestTextSanitizer_IdempotentOnEncodedMarkup(t *testing.T) {
	s := NewTextSanitizer()
	inputs := []string{
		"Fern &lt;script&gt;alert(1)&lt;/script&gt;",
		"&lt;img src=x onerror=alert(1)&gt;Aloe",
		"Rose &amp;amp; thorn",
		"pH &lt; 7",
	}

	for _, input := range inputs {
		first := s.Sanitize(input)
		second := s.Sanitize(first)
		if first != second {
			t.Errorf("Sanitize(%q): not idempotent: %q then %q", input, first, second)
		}
		if strings.Contains(first, "<script") || strings.Contains(first, "<img") {
			t.Errorf("Sanitize(%q) = %q, tags remain", input, first)
		}
	}
}

func TestTextSanitizer_Concurrent(t *testing.T) {
	s := NewTextSanitizer()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := s.Sanitize("<b>Cactus</b>"); got != "Cactus" {
				t.Errorf("Sanitize() = %q, want Cactus", got)
			}
		}()
	}
	wg.Wait()
}
