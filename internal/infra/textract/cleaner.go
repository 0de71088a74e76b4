package textract

import (
	"regexp"
	"strings"
)

var (
	// 行頭に残った1文字のOCRゴミ (l, I, 1 など)
	strayLeadingChar = regexp.MustCompile(`(?m)^[lLiI1][ \t]+`)
	spacedAt         = regexp.MustCompile(`\s+@\s*|@\s+`)
	spacedPhone      = regexp.MustCompile(`(\+?\d)[\s.\-]*(\d{3})[\s.\-]*(\d{3})[\s.\-]*(\d{2})[\s.\-]*(\d{2})\b`)
	excessNewlines   = regexp.MustCompile(`\n{3,}`)
)

// CleanOCRText はOCR後の最小限の後処理を行う
// メールアドレスと電話番号の空白を詰め、空白を1つにまとめる
func CleanOCRText(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strayLeadingChar.ReplaceAllString(text, "")
	text = spacedAt.ReplaceAllString(text, "@")
	text = spacedPhone.ReplaceAllString(text, "$1$2$3$4$5")
	text = excessNewlines.ReplaceAllString(text, "\n\n")

	return strings.Join(strings.Fields(text), " ")
}
