// Package okr はユーザーごとの目標（Objective）と達成条件（Requirement）を扱います。
package okr

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("objective not found")
	ErrEmptyText    = errors.New("text is required")
	ErrInvalidDueAt = errors.New("invalid due date")
)

// Objective はユーザーが所有する目標です。
type Objective struct {
	ID           string        `json:"id"`
	UserID       string        `json:"userId"`
	Text         string        `json:"text"`
	Start        time.Time     `json:"start"`
	End          time.Time     `json:"end"`
	Requirements []Requirement `json:"requirements,omitempty"`
}

// Requirement は目標にぶら下がる達成条件です。
type Requirement struct {
	ID          string    `json:"id"`
	ObjectiveID string    `json:"objectiveId"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DueDateLayout はフォームから受け取る期日の形式です。
const DueDateLayout = "2006-01-02"

// ParseDueDate は YYYY-MM-DD 形式の期日を解釈します。
func ParseDueDate(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DueDateLayout, raw, loc)
	if err != nil {
		return time.Time{}, ErrInvalidDueAt
	}
	return t, nil
}
