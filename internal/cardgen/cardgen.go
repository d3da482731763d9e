// Package cardgen はフォールバック用の合成カード番号・CVC生成を提供する。
// 発行プロバイダのサンドボックスがカード番号やCVCを返さない場合に、
// 決定的な形状（Luhn有効な16桁PANと3桁CVC）の代替値を生成する。
// 生成された番号は実カードではなく、下流は真正性を仮定してはならない。
package cardgen

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// panLength は生成するPANの桁数。
const panLength = 16

// cvcLength は生成するCVCの桁数。
const cvcLength = 3

// GeneratePAN はBINプレフィックスから始まるLuhn有効な16桁PANを生成する。
// BINは1〜8桁の数字列であること。末尾1桁はLuhnチェックディジット。
func GeneratePAN(bin string) (string, error) {
	if bin == "" || !isDigits(bin) {
		return "", fmt.Errorf("BINは数字のみで指定してください: %q", bin)
	}
	fill := panLength - 1 - len(bin)
	if fill <= 0 {
		return "", fmt.Errorf("BINが長すぎます: %q", bin)
	}

	randomPart, err := randomDigits(fill)
	if err != nil {
		return "", fmt.Errorf("乱数生成に失敗しました: %w", err)
	}

	body := bin + randomPart
	return body + string(luhnCheckDigit(body)), nil
}

// GenerateCVC はランダムな3桁のCVCを生成する。
func GenerateCVC() (string, error) {
	return randomDigits(cvcLength)
}

// randomDigits は指定長のランダム数字列を生成する。
// 剰余の偏りを避けるため、250未満のバイトのみ採用する棄却サンプリングを使う。
func randomDigits(count int) (string, error) {
	const threshold = 250 // 256 - (256 % 10)
	var sb strings.Builder
	sb.Grow(count)
	buf := make([]byte, 32)
	for sb.Len() < count {
		n, err := rand.Read(buf)
		if err != nil {
			return "", err
		}
		for i := 0; i < n && sb.Len() < count; i++ {
			if buf[i] < threshold {
				sb.WriteByte('0' + buf[i]%10)
			}
		}
	}
	return sb.String(), nil
}

// luhnCheckDigit はLuhnチェックディジットを計算する。
func luhnCheckDigit(body string) byte {
	sum, double := 0, true
	for i := len(body) - 1; i >= 0; i-- {
		d := int(body[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return '0' + byte((10-sum%10)%10)
}

// ValidatePAN はPANの桁数・数字構成・Luhnチェックを検証する。
func ValidatePAN(pan string) error {
	if len(pan) != panLength {
		return fmt.Errorf("PANは%d桁であるべきです (got %d)", panLength, len(pan))
	}
	if !isDigits(pan) {
		return fmt.Errorf("PANは数字のみで構成されるべきです")
	}
	if pan[panLength-1] != luhnCheckDigit(pan[:panLength-1]) {
		return fmt.Errorf("Luhnチェックディジットが不正です")
	}
	return nil
}

// isDigits は文字列が数字のみで構成されているかを返す。
func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
