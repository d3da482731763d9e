package security

import (
	"strings"
	"testing"
)

var _ InputSanitizerService = (*inputSanitizer)(nil)

// TestSanitizeMerchant_PlainText は通常の加盟店名がそのまま通過することを検証する。
func TestSanitizeMerchant_PlainText(t *testing.T) {
	sanitizer := NewInputSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"英字の加盟店名", "Netflix", "Netflix"},
		{"空白を含む加盟店名", "Amazon Prime Video", "Amazon Prime Video"},
		{"前後の空白は削除される", "  Spotify  ", "Spotify"},
		{"日本語の加盟店名", "楽天市場", "楽天市場"},
		{"記号を含む加盟店名", "7-Eleven & Co.", "7-Eleven &amp; Co."},
		{"空文字列", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.SanitizeMerchant(tt.input); got != tt.want {
				t.Errorf("SanitizeMerchant(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestSanitizeMerchant_StripsMarkup はHTMLタグと危険な入力が除去されることを検証する。
func TestSanitizeMerchant_StripsMarkup(t *testing.T) {
	sanitizer := NewInputSanitizer()

	tests := []struct {
		name       string
		input      string
		wantAbsent []string
	}{
		{
			name:       "scriptタグが除去される",
			input:      `Netflix<script>alert('xss')</script>`,
			wantAbsent: []string{"<script", "alert"},
		},
		{
			name:       "imgタグのイベント属性が除去される",
			input:      `<img src=x onerror=alert(1)>Shop`,
			wantAbsent: []string{"<img", "onerror"},
		},
		{
			name:       "タグのみの入力は空になる",
			input:      `<div></div>`,
			wantAbsent: []string{"div"},
		},
		{
			name:       "制御文字が除去される",
			input:      "Net\x00flix\r\n",
			wantAbsent: []string{"\x00", "\r", "\n"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.SanitizeMerchant(tt.input)
			for _, absent := range tt.wantAbsent {
				if strings.Contains(got, absent) {
					t.Errorf("SanitizeMerchant(%q) = %q, should not contain %q", tt.input, got, absent)
				}
			}
		})
	}
}

// TestSanitizeMerchant_Truncation は最大長を超える入力が切り詰められることを検証する。
func TestSanitizeMerchant_Truncation(t *testing.T) {
	sanitizer := NewInputSanitizer()

	long := strings.Repeat("a", 200)
	got := sanitizer.SanitizeMerchant(long)
	if len([]rune(got)) != merchantMaxLength {
		t.Errorf("切り詰め後の長さ = %d, want %d", len([]rune(got)), merchantMaxLength)
	}
}

// TestSanitizeMerchant_Idempotent は二重サニタイズが結果を変えないことを検証する。
func TestSanitizeMerchant_Idempotent(t *testing.T) {
	sanitizer := NewInputSanitizer()

	inputs := []string{"Netflix", "  Amazon  ", "<b>Shop</b>", "楽天市場"}
	for _, input := range inputs {
		once := sanitizer.SanitizeMerchant(input)
		twice := sanitizer.SanitizeMerchant(once)
		if once != twice {
			t.Errorf("サニタイズが冪等でない: 1回目=%q 2回目=%q", once, twice)
		}
	}
}
