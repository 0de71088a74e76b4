package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jinford/resume-matcher/internal/core/profile"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/samber/mo"
)

// OptionToText converts mo.Option[string] to pgtype.Text
func OptionToText(o mo.Option[string]) pgtype.Text {
	s, ok := o.Get()
	if !ok {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

// TextToOption converts pgtype.Text to mo.Option[string]
func TextToOption(t pgtype.Text) mo.Option[string] {
	if !t.Valid {
		return mo.None[string]()
	}
	return mo.Some(t.String)
}

// ProfileToJSONB converts the structured profile to JSONB bytes. nil means NULL.
func ProfileToJSONB(o mo.Option[profile.StructuredProfile]) ([]byte, error) {
	p, ok := o.Get()
	if !ok {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal structured profile: %w", err)
	}
	return b, nil
}

// JSONBToProfile converts JSONB bytes to the structured profile
func JSONBToProfile(b []byte) (mo.Option[profile.StructuredProfile], error) {
	if len(b) == 0 {
		return mo.None[profile.StructuredProfile](), nil
	}
	var p profile.StructuredProfile
	if err := json.Unmarshal(b, &p); err != nil {
		return mo.None[profile.StructuredProfile](), fmt.Errorf("failed to unmarshal structured profile: %w", err)
	}
	return mo.Some(p), nil
}

// EmbeddingToVector converts mo.Option[[]float32] to a nullable pgvector value
func EmbeddingToVector(o mo.Option[[]float32]) *pgvector.Vector {
	v, ok := o.Get()
	if !ok {
		return nil
	}
	vec := pgvector.NewVector(v)
	return &vec
}

// VectorToEmbedding converts a nullable pgvector value to mo.Option[[]float32]
func VectorToEmbedding(v *pgvector.Vector) mo.Option[[]float32] {
	if v == nil {
		return mo.None[[]float32]()
	}
	return mo.Some(v.Slice())
}
