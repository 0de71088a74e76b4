package profile

import "errors"

var (
	// ErrNotFound は指定されたプロフィールが存在しない場合のエラー
	ErrNotFound = errors.New("profile not found")
	// ErrInvalidID は不正な ID が指定された場合のエラー
	ErrInvalidID = errors.New("invalid profile id")
)
