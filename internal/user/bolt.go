package user

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/yourusername/okr-club/internal/storage"
)

var (
	bucketUsers   = []byte("users")
	bucketByEmail = []byte("users_by_email")
)

// Buckets は BoltStore が使用するバケット名です。storage.Open に渡します。
func Buckets() [][]byte {
	return [][]byte{bucketUsers, bucketByEmail}
}

// defaultName は登録時に名前が無い場合の呼び名です。
const defaultName = "friend"

// BoltStore は bbolt に保存するユーザーストアです。
type BoltStore struct {
	db  *bbolt.DB
	now func() time.Time
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore は BoltStore を作成します。db には Buckets() が作成済みである必要があります。
func NewBoltStore(db *bbolt.DB) *BoltStore {
	return &BoltStore{db: db, now: time.Now}
}

// FindByEmail は正規化したメールアドレスの完全一致でユーザーを探します。
func (s *BoltStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	if err := storage.Alive(ctx); err != nil {
		return nil, err
	}
	key := NormalizeEmail(email)
	if key == "" {
		return nil, ErrNotFound
	}

	var found *User
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketByEmail).Get([]byte(key))
		if id == nil {
			return ErrNotFound
		}
		u, err := getUser(tx, string(id))
		if err != nil {
			return err
		}
		found = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// FindByID は ID でユーザーを探します。
func (s *BoltStore) FindByID(ctx context.Context, id string) (*User, error) {
	if err := storage.Alive(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return nil, ErrNotFound
	}

	var found *User
	err := s.db.View(func(tx *bbolt.Tx) error {
		u, err := getUser(tx, id)
		if err != nil {
			return err
		}
		found = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Register はユーザーを作成します。メールアドレスの重複チェックと書き込みは同一トランザクションで行います。
func (s *BoltStore) Register(ctx context.Context, email, password, name string) (*User, error) {
	if err := storage.Alive(ctx); err != nil {
		return nil, err
	}
	key := NormalizeEmail(email)
	if key == "" || !strings.Contains(key, "@") {
		return nil, ErrInvalidEmail
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultName
	}

	u := &User{
		ID:           uuid.NewString(),
		Email:        key,
		Name:         name,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		byEmail := tx.Bucket(bucketByEmail)
		if byEmail.Get([]byte(key)) != nil {
			return ErrEmailTaken
		}
		payload, err := json.Marshal(u)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketUsers).Put([]byte(u.ID), payload); err != nil {
			return err
		}
		return byEmail.Put([]byte(key), []byte(u.ID))
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Delete はユーザーを削除します。削除後もセッションに残った ID は匿名として扱われます。
func (s *BoltStore) Delete(ctx context.Context, id string) error {
	if err := storage.Alive(ctx); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		u, err := getUser(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketByEmail).Delete([]byte(u.Email)); err != nil {
			return err
		}
		return tx.Bucket(bucketUsers).Delete([]byte(id))
	})
}

func getUser(tx *bbolt.Tx, id string) (*User, error) {
	data := tx.Bucket(bucketUsers).Get([]byte(id))
	if data == nil {
		return nil, ErrNotFound
	}
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("user %s: decode: %w", id, err)
	}
	return &u, nil
}
