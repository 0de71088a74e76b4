package profile

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeContent はハッシュ計算用にテキストを正規化する
// NFKC 正規化の後、連続する空白を1つの空白にまとめる
func NormalizeContent(text string) string {
	normalized := norm.NFKC.String(text)
	return strings.Join(strings.Fields(normalized), " ")
}

// ContentHash は正規化済みテキストの SHA-256 を16進文字列で返す
// 同じ内容のファイルはバイト列が異なっても同じハッシュになる
func ContentHash(text string) string {
	hash := sha256.Sum256([]byte(NormalizeContent(text)))
	return hex.EncodeToString(hash[:])
}
