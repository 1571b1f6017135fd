package security

import (
	"strings"
	"testing"
)

// TestSanitize_StripsAllTags はすべてのHTMLタグが除去されることを検証する。
func TestSanitize_StripsAllTags(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "pタグが除去される",
			input: "<p>供給不足の詳細</p>",
			want:  "供給不足の詳細",
		},
		{
			name:  "strongタグが除去される",
			input: "supply <strong>constrained</strong>",
			want:  "supply constrained",
		},
		{
			name:  "aタグが除去されテキストのみ残る",
			input: `see <a href="https://example.com">details</a>`,
			want:  "see details",
		},
		{
			name:  "ネストしたタグが除去される",
			input: "<div><ul><li>item 1</li><li>item 2</li></ul></div>",
			want:  "item 1item 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			if got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestSanitize_XSSPayloads は典型的なXSSペイロードが無害化されることを検証する。
func TestSanitize_XSSPayloads(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name       string
		input      string
		wantAbsent []string
	}{
		{
			name:       "scriptタグ",
			input:      `before<script>alert('xss')</script>after`,
			wantAbsent: []string{"<script", "alert"},
		},
		{
			name:       "SVG onload",
			input:      `<svg onload="alert('xss')">text`,
			wantAbsent: []string{"<svg", "onload"},
		},
		{
			name:       "img onerror",
			input:      `<img src="x" onerror="alert('xss')">text`,
			wantAbsent: []string{"<img", "onerror"},
		},
		{
			name:       "javascript URI",
			input:      `<a href="javascript:alert('xss')">click</a>`,
			wantAbsent: []string{"javascript:", "href"},
		},
		{
			name:       "iframe",
			input:      `<iframe src="https://evil.com"></iframe>text`,
			wantAbsent: []string{"<iframe", "evil.com"},
		},
		{
			name:       "style属性",
			input:      `<p style="background:url(javascript:alert(1))">text</p>`,
			wantAbsent: []string{"style=", "background:"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, absent := range tt.wantAbsent {
				if strings.Contains(strings.ToLower(got), strings.ToLower(absent)) {
					t.Errorf("Sanitize(%q) = %q, should NOT contain %q", tt.input, got, absent)
				}
			}
		})
	}
}

// TestSanitize_EntitiesDecoded はエスケープされたエンティティが
// プレーンテキストに戻されることを検証する。
func TestSanitize_EntitiesDecoded(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		input string
		want  string
	}{
		{"Smith &amp; Co.", "Smith & Co."},
		{"dose &lt; 500mg", "dose < 500mg"},
		{`said &#34;limited supply&#34;`, `said "limited supply"`},
	}

	for _, tt := range tests {
		got := sanitizer.Sanitize(tt.input)
		if got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

// TestSanitize_TrimsWhitespace は前後の空白が削除されることを検証する。
func TestSanitize_TrimsWhitespace(t *testing.T) {
	sanitizer := NewContentSanitizer()

	got := sanitizer.Sanitize("  <p>  text  </p>  ")
	if got != "text" {
		t.Errorf("Sanitize = %q, want %q", got, "text")
	}
}

// TestSanitize_EmptyInput は空文字列の入力を安全に処理できることを検証する。
func TestSanitize_EmptyInput(t *testing.T) {
	sanitizer := NewContentSanitizer()

	if got := sanitizer.Sanitize(""); got != "" {
		t.Errorf("Sanitize(\"\") = %q, expected empty string", got)
	}
}

// TestSanitize_PlainText はプレーンテキストがそのまま通過することを検証する。
func TestSanitize_PlainText(t *testing.T) {
	sanitizer := NewContentSanitizer()

	input := "Backordered due to manufacturing delay. 再開予定は未定です。"
	if got := sanitizer.Sanitize(input); got != input {
		t.Errorf("Sanitize(%q) = %q, expected unchanged", input, got)
	}
}

// TestSanitize_Idempotent は同一入力に対して常に同一出力（冪等性）を検証する。
func TestSanitize_Idempotent(t *testing.T) {
	sanitizer := NewContentSanitizer()

	input := `<p>Limited supply</p><script>alert(1)</script> &amp; more`

	result1 := sanitizer.Sanitize(input)
	result2 := sanitizer.Sanitize(input)
	result3 := sanitizer.Sanitize(result1) // 二重サニタイズ

	if result1 != result2 {
		t.Errorf("冪等性違反: 1回目=%q, 2回目=%q", result1, result2)
	}
	if result1 != result3 {
		t.Errorf("二重サニタイズで結果が変わった: 1回目=%q, 二重=%q", result1, result3)
	}
}

// TestContentSanitizerInterface はContentSanitizerServiceインターフェースの適合を検証する。
func TestContentSanitizerInterface(t *testing.T) {
	var _ ContentSanitizerService = NewContentSanitizer()
}
