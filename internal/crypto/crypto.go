// Package crypto はカード情報の保存時暗号化を提供する。
// AES-256-CBCで暗号化し、`hex(iv):hex(暗号文)` 形式のトークンとして扱う。
// トークン形式は既存の保存データと互換であり変更できない。
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// minKeyLength は許容される最小のキー長（バイト）。
// これ未満のキーではCipherはフェイルクローズドとなり、全てのEncryptが失敗する。
const minKeyLength = 32

// ivLength はAESブロックサイズと同じ16バイト。
const ivLength = aes.BlockSize

// ErrKeyUnavailable は暗号化キーが未設定または短すぎる場合のエラー。
// 弱いキーで暗号化を続行することはない（フェイルクローズド）。
var ErrKeyUnavailable = errors.New("暗号化キーが未設定または短すぎます")

// DecryptionError は復号失敗を表す。
// 呼び出し側はレコード単位の回復可能エラーとして扱い、
// 一覧表示では破損センチネルに置き換えて処理を継続する。
type DecryptionError struct {
	Reason string
}

// Error はerrorインターフェースを実装する。
func (e *DecryptionError) Error() string {
	return fmt.Sprintf("復号に失敗しました: %s", e.Reason)
}

// Cipher は固定の対称キーによる暗号化・復号を提供する。
// キーはプロセス全体の設定から導出し、構築後は変更しない。
type Cipher struct {
	key []byte // nilの場合はフェイルクローズド状態
}

// New は設定文字列からCipherを構築する。
// 64文字の16進文字列は32バイトのキーとしてデコードする。
// それ以外は先頭32バイトをそのままキーとして使用する。
// 32バイトに満たない場合はフェイルクローズド状態のCipherを返し、
// 以後のEncrypt/Decrypt呼び出しは全てErrKeyUnavailableで失敗する。
func New(configuredKey string) *Cipher {
	key := deriveKey(configuredKey)
	if key == nil {
		slog.Error("ENCRYPTION_KEYが未設定または短すぎます。暗号化は全て失敗します。",
			slog.Int("min_length", minKeyLength),
		)
	}
	return &Cipher{key: key}
}

// deriveKey は設定文字列から32バイトのキーを導出する。導出できない場合はnil。
func deriveKey(configuredKey string) []byte {
	if len(configuredKey) == 64 {
		if decoded, err := hex.DecodeString(configuredKey); err == nil {
			return decoded
		}
	}
	if len(configuredKey) >= minKeyLength {
		return []byte(configuredKey[:minKeyLength])
	}
	return nil
}

// Encrypt は平文を暗号化し `hex(iv):hex(暗号文)` 形式のトークンを返す。
// IVは呼び出しごとに新規生成し、再利用しない。
// キーが利用できない場合はErrKeyUnavailableを返す（フェイルクローズド）。
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if c.key == nil {
		return "", ErrKeyUnavailable
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("AES暗号の初期化に失敗しました: %w", err)
	}

	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("IVの生成に失敗しました: %w", err)
	}

	padded := padPKCS7([]byte(plaintext))
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt はEncryptが生成したトークンを復号する。
// トークン形式の不正・キー不一致は*DecryptionErrorとして返す。
// 呼び出し側はバッチ処理を中断せず、レコード単位で回復すること。
func (c *Cipher) Decrypt(token string) (string, error) {
	if c.key == nil {
		return "", ErrKeyUnavailable
	}

	ivHex, ctHex, found := strings.Cut(token, ":")
	if !found {
		return "", &DecryptionError{Reason: "トークンに区切り文字がありません"}
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != ivLength {
		return "", &DecryptionError{Reason: "IV部分が不正です"}
	}

	ciphertext, err := hex.DecodeString(ctHex)
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", &DecryptionError{Reason: "暗号文部分が不正です"}
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", &DecryptionError{Reason: "AES暗号の初期化に失敗しました"}
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := unpadPKCS7(plaintext)
	if err != nil {
		// パディング不正はキー不一致またはデータ破損を意味する
		return "", &DecryptionError{Reason: "パディングが不正です"}
	}

	return string(unpadded), nil
}

// padPKCS7 はPKCS#7パディングを付与する。
func padPKCS7(data []byte) []byte {
	padLen := aes.BlockSize - len(data)%aes.BlockSize
	return append(data, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
}

// unpadPKCS7 はPKCS#7パディングを除去する。
func unpadPKCS7(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("データが空です")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > len(data) {
		return nil, errors.New("パディング長が不正です")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("パディングバイトが不正です")
		}
	}
	return data[:len(data)-padLen], nil
}
