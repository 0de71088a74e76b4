package profile

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Service はプロフィールの参照・削除・重複整理を提供する
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// ServiceOption は Service の設定オプション
type ServiceOption func(*Service)

// WithServiceLogger はロガーを設定する
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService は新しい Service を作成する
func NewService(repo Repository, opts ...ServiceOption) *Service {
	s := &Service{
		repo:   repo,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get は ID でプロフィールを取得する
func (s *Service) Get(ctx context.Context, id int64) (*Record, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidID, id)
	}

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	if rec.IsAbsent() {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return rec.MustGet(), nil
}

// List はプロフィールの一覧と総件数を返す
func (s *Service) List(ctx context.Context, params ListParams) ([]*Record, int, error) {
	if params.Limit <= 0 {
		params.Limit = defaultListLimit
	}
	if params.Limit > maxListLimit {
		params.Limit = maxListLimit
	}
	if params.Offset < 0 {
		params.Offset = 0
	}

	records, total, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list profiles: %w", err)
	}
	return records, total, nil
}

// Stats はストアの統計を返す
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

// Delete はプロフィールを削除する。存在しない ID の削除は成功扱い
func (s *Service) Delete(ctx context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, fmt.Errorf("%w: %d", ErrInvalidID, id)
	}

	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete profile: %w", err)
	}

	if deleted {
		s.logger.Info("プロフィールを削除", "id", id)
	} else {
		s.logger.Debug("削除対象のプロフィールが存在しない", "id", id)
	}
	return deleted, nil
}

// FindDuplicateGroups は同一内容のプロフィールのグループを返す
func (s *Service) FindDuplicateGroups(ctx context.Context) ([]DuplicateGroup, error) {
	groups, err := s.repo.FindDuplicateGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find duplicates: %w", err)
	}
	return groups, nil
}

// RemoveDuplicates は各重複グループで1件だけ残して他を削除する
func (s *Service) RemoveDuplicates(ctx context.Context, keep KeepRule, dryRun bool) (RemovalResult, error) {
	result, err := s.repo.RemoveDuplicates(ctx, keep, dryRun)
	if err != nil {
		return RemovalResult{}, fmt.Errorf("failed to remove duplicates: %w", err)
	}

	s.logger.Info("重複プロフィールを整理",
		"groups", result.Groups,
		"removed", len(result.RemovedIDs),
		"keep", keep,
		"dryRun", dryRun,
	)
	return result, nil
}
