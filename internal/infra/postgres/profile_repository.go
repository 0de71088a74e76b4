package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jinford/resume-matcher/internal/core/profile"
	"github.com/jinford/resume-matcher/internal/platform/database"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/samber/mo"
)

// SearchMode は近傍検索の方式
type SearchMode string

const (
	// SearchExact は全件を対象に content_hash ごとの最近傍を求める
	SearchExact SearchMode = "exact"
	// SearchApproximate は HNSW インデックスで候補を絞ってから重複を除く
	SearchApproximate SearchMode = "approximate"

	// DefaultOverfetch は近似検索で k に掛ける取得倍率
	DefaultOverfetch = 4

	removeDuplicatesLockKey = "resume-matcher:remove-duplicates"
)

// ParseSearchMode は文字列から SearchMode を解釈する
func ParseSearchMode(s string) (SearchMode, error) {
	switch SearchMode(strings.ToLower(s)) {
	case SearchExact, "":
		return SearchExact, nil
	case SearchApproximate:
		return SearchApproximate, nil
	default:
		return "", fmt.Errorf("unknown search mode: %s", s)
	}
}

// ProfileRepository は profile.Repository インターフェースを実装する PostgreSQL リポジトリ
type ProfileRepository struct {
	db        database.Querier
	txp       *database.TransactionProvider
	mode      SearchMode
	overfetch int
}

// RepositoryOption は ProfileRepository の設定オプション
type RepositoryOption func(*ProfileRepository)

// WithSearchMode は近傍検索の方式を設定する
func WithSearchMode(mode SearchMode) RepositoryOption {
	return func(r *ProfileRepository) {
		r.mode = mode
	}
}

// WithOverfetch は近似検索の取得倍率を設定する
func WithOverfetch(factor int) RepositoryOption {
	return func(r *ProfileRepository) {
		if factor > 0 {
			r.overfetch = factor
		}
	}
}

// NewProfileRepository は新しい ProfileRepository を作成する
func NewProfileRepository(db *database.DB, opts ...RepositoryOption) *ProfileRepository {
	r := &ProfileRepository{
		db:        db.Pool,
		txp:       database.NewTransactionProvider(db.Pool),
		mode:      SearchExact,
		overfetch: DefaultOverfetch,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// コンパイル時の型チェック
var _ profile.Repository = (*ProfileRepository)(nil)

const recordColumns = `id, source_path, file_name, content_hash, raw_text, cleaned_text, structured_profile, embedding, created_at, updated_at`

func (r *ProfileRepository) FindByHash(ctx context.Context, hash string) (mo.Option[*profile.Record], error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM profiles WHERE content_hash = $1 ORDER BY id LIMIT 1`, hash)
	return r.scanOptional(row, "failed to find profile by hash")
}

func (r *ProfileRepository) GetByID(ctx context.Context, id int64) (mo.Option[*profile.Record], error) {
	row := r.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM profiles WHERE id = $1`, id)
	return r.scanOptional(row, "failed to get profile")
}

func (r *ProfileRepository) FindIDBySourcePath(ctx context.Context, path string) (mo.Option[int64], error) {
	var id int64
	err := r.db.QueryRow(ctx, `SELECT id FROM profiles WHERE source_path = $1`, path).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[int64](), nil
		}
		return mo.None[int64](), fmt.Errorf("failed to find profile by source path: %w", err)
	}
	return mo.Some(id), nil
}

func (r *ProfileRepository) scanOptional(row pgx.Row, msg string) (mo.Option[*profile.Record], error) {
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[*profile.Record](), nil
		}
		return mo.None[*profile.Record](), fmt.Errorf("%s: %w", msg, err)
	}
	return mo.Some(rec), nil
}

func (r *ProfileRepository) List(ctx context.Context, params profile.ListParams) ([]*profile.Record, int, error) {
	const where = `WHERE $1 = '' OR file_name ILIKE '%' || $1 || '%' OR structured_profile::text ILIKE '%' || $1 || '%'`
	search := strings.TrimSpace(params.Search)

	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM profiles `+where, search).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count profiles: %w", err)
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+recordColumns+` FROM profiles `+where+` ORDER BY id LIMIT $2 OFFSET $3`,
		search, params.Limit, params.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	records := make([]*profile.Record, 0, params.Limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan profile: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate profiles: %w", err)
	}
	return records, total, nil
}

func (r *ProfileRepository) Stats(ctx context.Context) (profile.Stats, error) {
	var stats profile.Stats
	err := r.db.QueryRow(ctx, `
		SELECT count(*),
		       count(embedding),
		       count(structured_profile),
		       count(*) - count(DISTINCT content_hash)
		FROM profiles`).Scan(&stats.Total, &stats.WithEmbedding, &stats.WithProfile, &stats.DuplicateExtra)
	if err != nil {
		return profile.Stats{}, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

func (r *ProfileRepository) Upsert(ctx context.Context, rec *profile.Record, force bool) (profile.UpsertResult, error) {
	profileJSON, err := ProfileToJSONB(rec.Profile)
	if err != nil {
		return profile.UpsertResult{}, err
	}
	args := []any{
		rec.SourcePath,
		rec.FileName,
		rec.ContentHash,
		OptionToText(rec.RawText),
		OptionToText(rec.CleanedText),
		profileJSON,
		EmbeddingToVector(rec.Embedding),
	}

	if force {
		return r.upsertForce(ctx, args)
	}

	var id int64
	err = r.db.QueryRow(ctx, `
		INSERT INTO profiles (source_path, file_name, content_hash, raw_text, cleaned_text, structured_profile, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`, args...).Scan(&id)
	if err == nil {
		return profile.UpsertResult{ID: id, Outcome: profile.UpsertInserted}, nil
	}
	if !IsUniqueViolation(err) {
		return profile.UpsertResult{}, fmt.Errorf("failed to insert profile: %w", err)
	}

	// 同一 source_path の同時取り込みは既存扱いにする
	if err := r.db.QueryRow(ctx, `SELECT id FROM profiles WHERE source_path = $1`, rec.SourcePath).Scan(&id); err != nil {
		return profile.UpsertResult{}, fmt.Errorf("failed to resolve existing profile: %w", err)
	}
	return profile.UpsertResult{ID: id, Outcome: profile.UpsertAlreadyPresent}, nil
}

func (r *ProfileRepository) upsertForce(ctx context.Context, args []any) (profile.UpsertResult, error) {
	var (
		id       int64
		inserted bool
	)
	err := r.db.QueryRow(ctx, `
		INSERT INTO profiles (source_path, file_name, content_hash, raw_text, cleaned_text, structured_profile, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_path) DO UPDATE SET
			file_name          = EXCLUDED.file_name,
			content_hash       = EXCLUDED.content_hash,
			raw_text           = EXCLUDED.raw_text,
			cleaned_text       = EXCLUDED.cleaned_text,
			structured_profile = COALESCE(EXCLUDED.structured_profile, profiles.structured_profile),
			embedding          = CASE
				WHEN EXCLUDED.embedding IS NULL AND profiles.content_hash = EXCLUDED.content_hash
				THEN profiles.embedding
				ELSE EXCLUDED.embedding
			END,
			updated_at         = now()
		RETURNING id, (xmax = 0)`, args...).Scan(&id, &inserted)
	if err != nil {
		return profile.UpsertResult{}, fmt.Errorf("failed to upsert profile: %w", err)
	}

	outcome := profile.UpsertReplaced
	if inserted {
		outcome = profile.UpsertInserted
	}
	return profile.UpsertResult{ID: id, Outcome: outcome}, nil
}

const searchColumns = `id, source_path, file_name, content_hash, cleaned_text, structured_profile, created_at, updated_at`

const searchExactSQL = `
	SELECT ` + searchColumns + `, distance FROM (
		SELECT DISTINCT ON (content_hash) ` + searchColumns + `, embedding <=> $1 AS distance
		FROM profiles
		WHERE embedding IS NOT NULL
		ORDER BY content_hash, embedding <=> $1, id
	) d
	ORDER BY distance, id
	LIMIT $2`

const searchApproximateSQL = `
	WITH nearest AS (
		SELECT ` + searchColumns + `, embedding <=> $1 AS distance
		FROM profiles
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $3
	)
	SELECT ` + searchColumns + `, distance FROM (
		SELECT DISTINCT ON (content_hash) * FROM nearest
		ORDER BY content_hash, distance, id
	) d
	ORDER BY distance, id
	LIMIT $2`

func (r *ProfileRepository) SearchNearest(ctx context.Context, vector []float32, k int) ([]profile.Neighbor, error) {
	if k <= 0 {
		return []profile.Neighbor{}, nil
	}

	query := pgvector.NewVector(vector)
	var (
		rows pgx.Rows
		err  error
	)
	switch r.mode {
	case SearchApproximate:
		rows, err = r.db.Query(ctx, searchApproximateSQL, query, k, k*r.overfetch)
	default:
		rows, err = r.db.Query(ctx, searchExactSQL, query, k)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search profiles: %w", err)
	}
	defer rows.Close()

	neighbors := make([]profile.Neighbor, 0, k)
	for rows.Next() {
		var (
			rec         profile.Record
			cleanedText pgtype.Text
			profileJSON []byte
			distance    float64
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.SourcePath,
			&rec.FileName,
			&rec.ContentHash,
			&cleanedText,
			&profileJSON,
			&rec.CreatedAt,
			&rec.UpdatedAt,
			&distance,
		); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		rec.CleanedText = TextToOption(cleanedText)
		if rec.Profile, err = JSONBToProfile(profileJSON); err != nil {
			return nil, err
		}
		neighbors = append(neighbors, profile.Neighbor{Record: &rec, Distance: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate search results: %w", err)
	}
	return neighbors, nil
}

func (r *ProfileRepository) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM profiles WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete profile: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const duplicateMembersSQL = `
	SELECT content_hash, id, source_path, updated_at
	FROM profiles
	WHERE content_hash IN (
		SELECT content_hash FROM profiles GROUP BY content_hash HAVING count(*) > 1
	)
	ORDER BY content_hash, id`

func (r *ProfileRepository) FindDuplicateGroups(ctx context.Context) ([]profile.DuplicateGroup, error) {
	return findDuplicateGroups(ctx, r.db, duplicateMembersSQL)
}

func findDuplicateGroups(ctx context.Context, q database.Querier, sql string) ([]profile.DuplicateGroup, error) {
	rows, err := q.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to find duplicates: %w", err)
	}
	defer rows.Close()

	byHash := make(map[string][]profile.DuplicateMember)
	for rows.Next() {
		var (
			hash string
			m    profile.DuplicateMember
		)
		if err := rows.Scan(&hash, &m.ID, &m.SourcePath, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan duplicate: %w", err)
		}
		byHash[hash] = append(byHash[hash], m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate duplicates: %w", err)
	}
	return profile.GroupDuplicates(byHash), nil
}

// RemoveDuplicates はアドバイザリロックで直列化したトランザクション内で重複を削除する
func (r *ProfileRepository) RemoveDuplicates(ctx context.Context, keep profile.KeepRule, dryRun bool) (profile.RemovalResult, error) {
	return database.Transact(ctx, r.txp, func(tx *database.Tx) (profile.RemovalResult, error) {
		if err := tx.Lock(ctx, removeDuplicatesLockKey); err != nil {
			return profile.RemovalResult{}, err
		}

		groups, err := findDuplicateGroups(ctx, tx, duplicateMembersSQL)
		if err != nil {
			return profile.RemovalResult{}, err
		}

		kept, removed := profile.PlanRemoval(groups, keep)
		result := profile.RemovalResult{
			Groups:     len(groups),
			RemovedIDs: removed,
			KeptIDs:    kept,
			DryRun:     dryRun,
		}
		if dryRun || len(removed) == 0 {
			return result, nil
		}

		if _, err := tx.Exec(ctx, `DELETE FROM profiles WHERE id = ANY($1)`, removed); err != nil {
			return profile.RemovalResult{}, fmt.Errorf("failed to delete duplicates: %w", err)
		}
		return result, nil
	})
}

func (r *ProfileRepository) ListSourcePaths(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT source_path FROM profiles ORDER BY source_path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list source paths: %w", err)
	}
	paths, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect source paths: %w", err)
	}
	return paths, nil
}

func (r *ProfileRepository) DeleteBySourcePaths(ctx context.Context, paths []string) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM profiles WHERE source_path = ANY($1)`, paths)
	if err != nil {
		return 0, fmt.Errorf("failed to delete profiles by path: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanRecord(row pgx.Row) (*profile.Record, error) {
	var (
		rec         profile.Record
		rawText     pgtype.Text
		cleanedText pgtype.Text
		profileJSON []byte
		vector      *pgvector.Vector
	)
	if err := row.Scan(
		&rec.ID,
		&rec.SourcePath,
		&rec.FileName,
		&rec.ContentHash,
		&rawText,
		&cleanedText,
		&profileJSON,
		&vector,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rec.RawText = TextToOption(rawText)
	rec.CleanedText = TextToOption(cleanedText)
	rec.Embedding = VectorToEmbedding(vector)

	p, err := JSONBToProfile(profileJSON)
	if err != nil {
		return nil, err
	}
	rec.Profile = p
	return &rec, nil
}
