package textract

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv"
	"github.com/go-enry/go-enry/v2"
	"github.com/jaytaylor/html2text"
	"github.com/jinford/resume-matcher/internal/core/ingestion"
)

const (
	MIMEPlain    = "text/plain"
	MIMEMarkdown = "text/markdown"
	MIMEHTML     = "text/html"
	MIMEPDF      = "application/pdf"
	MIMEDOC      = "application/msword"
	MIMEDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MIMEODT      = "application/vnd.oasis.opendocument.text"
	MIMERTF      = "application/rtf"
)

// extensionTypes は拡張子から MIME タイプへの対応
var extensionTypes = map[string]string{
	".txt":  MIMEPlain,
	".text": MIMEPlain,
	".md":   MIMEMarkdown,
	".html": MIMEHTML,
	".htm":  MIMEHTML,
	".pdf":  MIMEPDF,
	".doc":  MIMEDOC,
	".docx": MIMEDOCX,
	".odt":  MIMEODT,
	".rtf":  MIMERTF,
}

// languageTypes は go-enry の言語名から MIME タイプへの対応
var languageTypes = map[string]string{
	"Text":             MIMEPlain,
	"Markdown":         MIMEMarkdown,
	"HTML":             MIMEHTML,
	"Rich Text Format": MIMERTF,
}

// docconvTypes は docconv で変換する MIME タイプ
// PDF は pdftotext、DOC は wvText、RTF は unrtf が実行環境に必要
var docconvTypes = map[string]bool{
	MIMEPDF:    true,
	MIMEDOC:    true,
	MIMEDOCX:   true,
	MIMEODT:    true,
	MIMERTF:    true,
	"text/rtf": true,
}

// SupportedExtensions は取り込み対象の拡張子を返す
func SupportedExtensions() []string {
	exts := make([]string, 0, len(extensionTypes))
	for ext := range extensionTypes {
		exts = append(exts, ext)
	}
	return exts
}

// Normalizer は履歴書ファイルからテキストを抽出し、OCR ノイズを除去する
type Normalizer struct {
	readability bool
}

// NewNormalizer は新しい Normalizer を作成する
func NewNormalizer() *Normalizer {
	return &Normalizer{readability: false}
}

// DetectMIME はファイルパスと内容から MIME タイプを判定する
func (n *Normalizer) DetectMIME(path string, data []byte) string {
	if mime, ok := extensionTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mime
	}

	if mime, ok := languageTypes[enry.GetLanguage(filepath.Base(path), data)]; ok {
		return mime
	}

	if len(data) == 0 {
		return MIMEPlain
	}

	// http.DetectContentType は先頭512バイトで判定する
	detected := http.DetectContentType(data)
	if idx := strings.Index(detected, ";"); idx != -1 {
		detected = detected[:idx]
	}
	return strings.TrimSpace(detected)
}

// Extract は MIME タイプに応じて生テキストを抽出する
func (n *Normalizer) Extract(ctx context.Context, data []byte, mimeHint string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	switch mimeHint {
	case MIMEPlain, MIMEMarkdown:
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: text is not valid UTF-8", ingestion.ErrExtraction)
		}
		return string(data), nil
	case MIMEHTML:
		return extractHTML(data)
	}

	if !docconvTypes[mimeHint] {
		return "", fmt.Errorf("%w: %s", ingestion.ErrUnsupportedFormat, mimeHint)
	}

	res, err := docconv.Convert(bytes.NewReader(data), mimeHint, n.readability)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ingestion.ErrExtraction, err)
	}
	return res.Body, nil
}

// extractHTML は本文のテキストを取り出す。リンク先URLは含めない
func extractHTML(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: html is not valid UTF-8", ingestion.ErrExtraction)
	}
	text, err := html2text.FromString(string(data), html2text.Options{OmitLinks: true})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ingestion.ErrExtraction, err)
	}
	return text, nil
}

// Clean はOCR由来のノイズを除去する
func (n *Normalizer) Clean(text string) string {
	return CleanOCRText(text)
}

var _ ingestion.TextNormalizer = (*Normalizer)(nil)
