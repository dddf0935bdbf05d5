// Package storage は bbolt を使った永続化レイヤーの土台を提供します。
//
// スキーマ設計は持たず、各ストア（user, okr）が自分のバケットを宣言し、
// Open 時にまとめて作成します。
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// openTimeout はファイルロック取得の待ち時間です。別プロセスが DB を掴んでいる場合に無限待ちしないようにします。
const openTimeout = 2 * time.Second

// Open は path の bbolt データベースを開き、指定されたバケットを作成します。
func Open(path string, buckets ...[]byte) (*bbolt.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("storage: database path is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("storage: create data directory: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	if err := EnsureBuckets(db, buckets...); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// EnsureBuckets は存在しないバケットを作成します。
func EnsureBuckets(db *bbolt.DB, buckets ...[]byte) error {
	return db.Update(func(tx *bbolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("storage: create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Alive は ctx がキャンセル済みかを確認します。
// bbolt は context を受け取らないため、各ストアはトランザクション前にこれを呼びます。
func Alive(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
