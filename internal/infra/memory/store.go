package memory

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jinford/resume-matcher/internal/core/profile"
	"github.com/samber/mo"
)

// ProfileStore はプロセス内に保持する profile.Repository 実装
// 近傍検索は全件の総当たりで、常に厳密な結果を返す
type ProfileStore struct {
	mu      sync.RWMutex
	nextID  int64
	records map[int64]*profile.Record
	byPath  map[string]int64
	now     func() time.Time
}

// NewProfileStore は空のストアを作成する
func NewProfileStore() *ProfileStore {
	return &ProfileStore{
		records: make(map[int64]*profile.Record),
		byPath:  make(map[string]int64),
		now:     time.Now,
	}
}

// コンパイル時の型チェック
var _ profile.Repository = (*ProfileStore)(nil)

func (s *ProfileStore) FindByHash(_ context.Context, hash string) (mo.Option[*profile.Record], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *profile.Record
	for _, rec := range s.records {
		if rec.ContentHash == hash && (found == nil || rec.ID < found.ID) {
			found = rec
		}
	}
	if found == nil {
		return mo.None[*profile.Record](), nil
	}
	return mo.Some(clone(found)), nil
}

func (s *ProfileStore) FindIDBySourcePath(_ context.Context, path string) (mo.Option[int64], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.byPath[path]; ok {
		return mo.Some(id), nil
	}
	return mo.None[int64](), nil
}

func (s *ProfileStore) GetByID(_ context.Context, id int64) (mo.Option[*profile.Record], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return mo.None[*profile.Record](), nil
	}
	return mo.Some(clone(rec)), nil
}

func (s *ProfileStore) List(_ context.Context, params profile.ListParams) ([]*profile.Record, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(params.Search))
	matched := make([]*profile.Record, 0, len(s.records))
	for _, rec := range s.records {
		if search == "" || matchesSearch(rec, search) {
			matched = append(matched, rec)
		}
	}
	slices.SortFunc(matched, func(a, b *profile.Record) int { return cmp.Compare(a.ID, b.ID) })

	total := len(matched)
	start := min(params.Offset, total)
	end := total
	if params.Limit > 0 {
		end = min(start+params.Limit, total)
	}

	page := make([]*profile.Record, 0, end-start)
	for _, rec := range matched[start:end] {
		page = append(page, clone(rec))
	}
	return page, total, nil
}

func matchesSearch(rec *profile.Record, search string) bool {
	if strings.Contains(strings.ToLower(rec.FileName), search) {
		return true
	}
	p, ok := rec.Profile.Get()
	if !ok {
		return false
	}
	if strings.Contains(strings.ToLower(p.Name), search) || strings.Contains(strings.ToLower(p.Position), search) {
		return true
	}
	for _, skill := range p.Skills {
		if strings.Contains(strings.ToLower(skill), search) {
			return true
		}
	}
	return false
}

func (s *ProfileStore) Stats(_ context.Context) (profile.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := profile.Stats{Total: len(s.records)}
	hashes := make(map[string]int, len(s.records))
	for _, rec := range s.records {
		if rec.HasEmbedding() {
			stats.WithEmbedding++
		}
		if rec.Profile.IsPresent() {
			stats.WithProfile++
		}
		hashes[rec.ContentHash]++
	}
	stats.DuplicateExtra = stats.Total - len(hashes)
	return stats, nil
}

func (s *ProfileStore) Upsert(_ context.Context, rec *profile.Record, force bool) (profile.UpsertResult, error) {
	if rec.SourcePath == "" {
		return profile.UpsertResult{}, fmt.Errorf("source path is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if id, exists := s.byPath[rec.SourcePath]; exists {
		if !force {
			return profile.UpsertResult{ID: id, Outcome: profile.UpsertAlreadyPresent}, nil
		}

		existing := s.records[id]
		replaced := clone(rec)
		replaced.ID = id
		replaced.CreatedAt = existing.CreatedAt
		replaced.UpdatedAt = now
		if replaced.Profile.IsAbsent() {
			replaced.Profile = existing.Profile
		}
		if replaced.Embedding.IsAbsent() && existing.ContentHash == replaced.ContentHash {
			replaced.Embedding = existing.Embedding
		}
		s.records[id] = replaced
		return profile.UpsertResult{ID: id, Outcome: profile.UpsertReplaced}, nil
	}

	s.nextID++
	inserted := clone(rec)
	inserted.ID = s.nextID
	inserted.CreatedAt = now
	inserted.UpdatedAt = now
	s.records[inserted.ID] = inserted
	s.byPath[inserted.SourcePath] = inserted.ID
	return profile.UpsertResult{ID: inserted.ID, Outcome: profile.UpsertInserted}, nil
}

func (s *ProfileStore) SearchNearest(_ context.Context, vector []float32, k int) ([]profile.Neighbor, error) {
	if k <= 0 {
		return []profile.Neighbor{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	neighbors := make([]profile.Neighbor, 0, len(s.records))
	for _, rec := range s.records {
		emb, ok := rec.Embedding.Get()
		if !ok || len(emb) == 0 {
			continue
		}
		if len(emb) != len(vector) {
			return nil, fmt.Errorf("dimension mismatch: query=%d stored=%d (id=%d)", len(vector), len(emb), rec.ID)
		}
		neighbors = append(neighbors, profile.Neighbor{
			Record:   searchView(rec),
			Distance: CosineDistance(vector, emb),
		})
	}
	return profile.ProjectNearest(neighbors, k), nil
}

func (s *ProfileStore) Delete(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deleteLocked(id), nil
}

func (s *ProfileStore) deleteLocked(id int64) bool {
	rec, ok := s.records[id]
	if !ok {
		return false
	}
	delete(s.records, id)
	delete(s.byPath, rec.SourcePath)
	return true
}

func (s *ProfileStore) FindDuplicateGroups(_ context.Context) ([]profile.DuplicateGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.duplicateGroupsLocked(), nil
}

func (s *ProfileStore) duplicateGroupsLocked() []profile.DuplicateGroup {
	byHash := make(map[string][]profile.DuplicateMember)
	for _, rec := range s.records {
		byHash[rec.ContentHash] = append(byHash[rec.ContentHash], profile.DuplicateMember{
			ID:         rec.ID,
			SourcePath: rec.SourcePath,
			UpdatedAt:  rec.UpdatedAt,
		})
	}
	return profile.GroupDuplicates(byHash)
}

func (s *ProfileStore) RemoveDuplicates(_ context.Context, keep profile.KeepRule, dryRun bool) (profile.RemovalResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups := s.duplicateGroupsLocked()
	kept, removed := profile.PlanRemoval(groups, keep)
	if !dryRun {
		for _, id := range removed {
			s.deleteLocked(id)
		}
	}
	return profile.RemovalResult{
		Groups:     len(groups),
		RemovedIDs: removed,
		KeptIDs:    kept,
		DryRun:     dryRun,
	}, nil
}

func (s *ProfileStore) ListSourcePaths(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths := make([]string, 0, len(s.byPath))
	for path := range s.byPath {
		paths = append(paths, path)
	}
	slices.Sort(paths)
	return paths, nil
}

func (s *ProfileStore) DeleteBySourcePaths(_ context.Context, paths []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, path := range paths {
		if id, ok := s.byPath[path]; ok && s.deleteLocked(id) {
			removed++
		}
	}
	return removed, nil
}

// CosineDistance は 1 - コサイン類似度を返す。ゼロベクトルとの距離は 1
func CosineDistance(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

func clone(rec *profile.Record) *profile.Record {
	copied := *rec
	if emb, ok := rec.Embedding.Get(); ok {
		copied.Embedding = mo.Some(slices.Clone(emb))
	}
	return &copied
}

// searchView は検索結果用に生テキストと埋め込みを省いたコピーを返す
func searchView(rec *profile.Record) *profile.Record {
	return &profile.Record{
		ID:          rec.ID,
		SourcePath:  rec.SourcePath,
		FileName:    rec.FileName,
		ContentHash: rec.ContentHash,
		CleanedText: rec.CleanedText,
		Profile:     rec.Profile,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}
