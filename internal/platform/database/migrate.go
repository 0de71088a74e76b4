package database

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// SchemaLockKey はスキーマ適用を直列化するアドバイザリロックのキー
const SchemaLockKey = "resume-matcher:schema"

// Migrate はスキーマを冪等に適用します
func (db *DB) Migrate(ctx context.Context) error {
	p := NewTransactionProvider(db.Pool)
	_, err := Transact(ctx, p, func(tx *Tx) (struct{}, error) {
		if err := tx.Lock(ctx, SchemaLockKey); err != nil {
			return struct{}{}, err
		}
		if _, err := tx.Exec(ctx, schemaSQL); err != nil {
			return struct{}{}, fmt.Errorf("failed to apply schema: %w", err)
		}
		return struct{}{}, nil
	})
	return err
}
