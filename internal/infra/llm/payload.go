package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var errNoJSONObject = errors.New("no JSON object in response")

// extractJSONObject はLLM応答からJSONオブジェクト部分を取り出す
// ```json フェンスや前後の説明文は取り除く
func extractJSONObject(content string) (string, error) {
	s := strings.TrimSpace(content)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			// 言語タグ (json など) を読み飛ばす
			if !strings.Contains(s[:nl], "{") {
				s = s[nl+1:]
			}
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return "", errNoJSONObject
	}
	return s[start : end+1], nil
}

// decodePayload は応答を取り出して v にデコードする
func decodePayload(content string, v any) error {
	obj, err := extractJSONObject(content)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return nil
}

// looseString は null や数値も受け付ける文字列
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*s = ""
	case len(data) > 0 && data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = looseString(strings.TrimSpace(v))
	case len(data) > 0 && (data[0] == '[' || data[0] == '{'):
		*s = ""
	default:
		*s = looseString(string(data))
	}
	return nil
}

// looseStrings は null・単一文字列・混在配列を受け付ける文字列リスト
// 空要素は捨てる
type looseStrings []string

func (l *looseStrings) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	out := []string{}

	switch {
	case bytes.Equal(data, []byte("null")):
	case len(data) > 0 && data[0] == '[':
		var items []looseString
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		for _, item := range items {
			if item != "" {
				out = append(out, string(item))
			}
		}
	default:
		var single looseString
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		for _, part := range strings.Split(string(single), ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}

	*l = out
	return nil
}

// Slice は nil にならないスライスを返す
func (l looseStrings) Slice() []string {
	if l == nil {
		return []string{}
	}
	return []string(l)
}

// looseNumber は数値または数値文字列を受け付ける
// Valid=false は欠損、Invalid=true は数値として解釈できなかったことを表す
type looseNumber struct {
	Value   float64
	Valid   bool
	Invalid bool
}

func (n *looseNumber) UnmarshalJSON(data []byte) error {
	*n = looseNumber{}
	data = bytes.TrimSpace(data)

	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "%"))
		if raw == "" {
			return nil
		}
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		n.Invalid = true
		return nil
	}
	n.Value = v
	n.Valid = true
	return nil
}

// IntPtr は有効な値を丸めた整数ポインタを返す
func (n looseNumber) IntPtr() *int {
	if !n.Valid {
		return nil
	}
	v := int(math.Round(n.Value))
	return &v
}

// looseBool は真偽値または "yes"/"true" などの文字列を受け付ける
type looseBool struct {
	Value *bool
}

func (b *looseBool) UnmarshalJSON(data []byte) error {
	b.Value = nil
	data = bytes.TrimSpace(data)

	var v bool
	switch {
	case bytes.Equal(data, []byte("true")):
		v = true
	case bytes.Equal(data, []byte("false")):
		v = false
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "y", "1":
			v = true
		case "false", "no", "n", "0":
			v = false
		default:
			return nil
		}
	default:
		return nil
	}
	b.Value = &v
	return nil
}

// clampScore はスコアを 0〜100 の整数に丸める
func clampScore(v float64) int {
	return int(math.Round(math.Max(0, math.Min(100, v))))
}
