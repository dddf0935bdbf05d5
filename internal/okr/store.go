package okr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/yourusername/okr-club/internal/storage"
)

var (
	bucketObjectives   = []byte("objectives")
	bucketRequirements = []byte("requirements")
)

// Buckets は Store が使用するバケット名です。
func Buckets() [][]byte {
	return [][]byte{bucketObjectives, bucketRequirements}
}

// Store は目標と達成条件を bbolt に保存します。
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewStore は Store を作成します。
func NewStore(db *bbolt.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// CreateObjective は userID が所有する目標を作成します。
func (s *Store) CreateObjective(ctx context.Context, userID, text string, end time.Time) (*Objective, error) {
	if err := storage.Alive(ctx); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if userID == "" {
		return nil, fmt.Errorf("okr: userID is required")
	}

	obj := &Objective{
		ID:     uuid.NewString(),
		UserID: userID,
		Text:   text,
		Start:  s.now().UTC(),
		End:    end,
	}
	payload, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketObjectives).Put([]byte(obj.ID), payload)
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// Objective は ID で目標を取得します。所有者の確認は呼び出し側の責務です。
func (s *Store) Objective(ctx context.Context, id string) (*Objective, error) {
	if err := storage.Alive(ctx); err != nil {
		return nil, err
	}
	var obj *Objective
	err := s.db.View(func(tx *bbolt.Tx) error {
		o, err := getObjective(tx, id)
		if err != nil {
			return err
		}
		obj = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// AddRequirement は目標に達成条件を追加します。
func (s *Store) AddRequirement(ctx context.Context, objectiveID, text string) (*Requirement, error) {
	if err := storage.Alive(ctx); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	req := &Requirement{
		ID:          uuid.NewString(),
		ObjectiveID: objectiveID,
		Text:        text,
		CreatedAt:   s.now().UTC(),
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := getObjective(tx, objectiveID); err != nil {
			return err
		}
		payload, err := json.Marshal(req)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketRequirements).Put(requirementKey(objectiveID, req.ID), payload)
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// ListObjectives は userID の目標を期日順に、達成条件を含めて返します。
func (s *Store) ListObjectives(ctx context.Context, userID string) ([]Objective, error) {
	if err := storage.Alive(ctx); err != nil {
		return nil, err
	}
	var list []Objective
	err := s.db.View(func(tx *bbolt.Tx) error {
		reqs := tx.Bucket(bucketRequirements)
		return tx.Bucket(bucketObjectives).ForEach(func(_, v []byte) error {
			var obj Objective
			if err := json.Unmarshal(v, &obj); err != nil {
				return err
			}
			if obj.UserID != userID {
				return nil
			}
			prefix := requirementKey(obj.ID, "")
			c := reqs.Cursor()
			for k, rv := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, rv = c.Next() {
				var r Requirement
				if err := json.Unmarshal(rv, &r); err != nil {
					return err
				}
				obj.Requirements = append(obj.Requirements, r)
			}
			sort.Slice(obj.Requirements, func(i, j int) bool {
				return obj.Requirements[i].CreatedAt.Before(obj.Requirements[j].CreatedAt)
			})
			list = append(list, obj)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].End.Before(list[j].End)
	})
	return list, nil
}

// CountRequirements は目標に紐づく達成条件の数を返します。
func (s *Store) CountRequirements(ctx context.Context, objectiveID string) (int, error) {
	if err := storage.Alive(ctx); err != nil {
		return 0, err
	}
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		prefix := requirementKey(objectiveID, "")
		c := tx.Bucket(bucketRequirements).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func getObjective(tx *bbolt.Tx, id string) (*Objective, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	data := tx.Bucket(bucketObjectives).Get([]byte(id))
	if data == nil {
		return nil, ErrNotFound
	}
	var obj Objective
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("objective %s: decode: %w", id, err)
	}
	return &obj, nil
}

func requirementKey(objectiveID, requirementID string) []byte {
	return []byte(objectiveID + ":" + requirementID)
}
