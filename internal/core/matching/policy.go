package matching

import (
	"fmt"
	"math"
)

// ScoringPolicy は埋め込みスコアとLLMスコアの合成方法と区分閾値
type ScoringPolicy struct {
	LLMWeight          float64 `yaml:"llm_weight"`
	EmbeddingWeight    float64 `yaml:"embedding_weight"`
	ExcellentThreshold float64 `yaml:"excellent_threshold"`
	GoodThreshold      float64 `yaml:"good_threshold"`
	ModerateThreshold  float64 `yaml:"moderate_threshold"`
}

// DefaultScoringPolicy はデフォルトのスコアリング方針を返す
func DefaultScoringPolicy() ScoringPolicy {
	return ScoringPolicy{
		LLMWeight:          0.7,
		EmbeddingWeight:    0.3,
		ExcellentThreshold: 80,
		GoodThreshold:      60,
		ModerateThreshold:  40,
	}
}

// Validate は重みと閾値の整合性を検証する
func (p ScoringPolicy) Validate() error {
	if p.LLMWeight < 0 || p.EmbeddingWeight < 0 {
		return fmt.Errorf("weights must be non-negative: llm=%v embedding=%v", p.LLMWeight, p.EmbeddingWeight)
	}
	if p.LLMWeight+p.EmbeddingWeight == 0 {
		return fmt.Errorf("weights must not both be zero")
	}
	if !(p.ExcellentThreshold >= p.GoodThreshold && p.GoodThreshold >= p.ModerateThreshold) {
		return fmt.Errorf("thresholds must be descending: excellent=%v good=%v moderate=%v",
			p.ExcellentThreshold, p.GoodThreshold, p.ModerateThreshold)
	}
	if p.ModerateThreshold < 0 || p.ExcellentThreshold > 100 {
		return fmt.Errorf("thresholds must be within [0, 100]")
	}
	return nil
}

// Combine は 0-100 の埋め込みスコアと LLM スコアを重み付き平均し、小数第2位で丸める
func (p ScoringPolicy) Combine(embeddingScore float64, llmScore int) float64 {
	total := p.LLMWeight + p.EmbeddingWeight
	combined := (p.LLMWeight*float64(llmScore) + p.EmbeddingWeight*embeddingScore) / total
	return round2(clamp(combined, 0, 100))
}

// Level は総合スコアの区分を返す
func (p ScoringPolicy) Level(score float64) MatchLevel {
	switch {
	case score >= p.ExcellentThreshold:
		return MatchExcellent
	case score >= p.GoodThreshold:
		return MatchGood
	case score >= p.ModerateThreshold:
		return MatchModerate
	default:
		return MatchWeak
	}
}

// ScoreFromDistance はコサイン距離を 0-100 の類似度スコアに変換する
func ScoreFromDistance(distance float64) float64 {
	if math.IsNaN(distance) {
		return 0
	}
	return round2(clamp((1-distance)*100, 0, 100))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
