package tasks

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	maxSubjectLength = 190
	maxTextLength    = 2000
)

var (
	// ErrInvalidSubject indicates that an owner identifier is empty or exceeds storage bounds.
	ErrInvalidSubject = errors.New("tasks: invalid owner subject")
	// ErrEmptyText indicates that a task label is empty after trimming.
	ErrEmptyText = errors.New("tasks: empty task text")
	// ErrTextTooLong indicates that a task label exceeds storage bounds.
	ErrTextTooLong = errors.New("tasks: task text too long")
	// ErrTaskNotFound indicates that no task with the given id belongs to the subject.
	ErrTaskNotFound = errors.New("tasks: task not found")
	// ErrEmptyPatch reports an update request that names no fields.
	ErrEmptyPatch = errors.New("tasks: empty patch")
	// ErrOrderMismatch indicates that a reorder batch does not cover the subject's tasks exactly.
	ErrOrderMismatch = errors.New("tasks: order does not match stored tasks")
)

// Subject represents a validated owner identifier.
type Subject string

// NewSubject validates raw input and returns a Subject.
func NewSubject(rawInput string) (Subject, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSubject)
	}
	if len(trimmed) > maxSubjectLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidSubject, maxSubjectLength)
	}
	return Subject(trimmed), nil
}

// String returns the underlying subject string.
func (s Subject) String() string {
	return string(s)
}

// Text represents a validated task label.
type Text string

// NewText validates raw input and returns a Text.
func NewText(rawInput string) (Text, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", ErrEmptyText
	}
	if len(trimmed) > maxTextLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrTextTooLong, maxTextLength)
	}
	return Text(trimmed), nil
}

// String returns the underlying label string.
func (t Text) String() string {
	return string(t)
}

// Task models a persisted task record. Position encodes display order among
// the owner's tasks because the store has no native ordering; values are
// required to be ordered per owner, not dense (gaps accumulate after deletes
// and are compacted by the next reorder).
type Task struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	OwnerID   string    `gorm:"column:owner_id;size:190;not null;index:idx_tasks_owner_position,priority:1" json:"owner_id"`
	Text      string    `gorm:"column:text;type:text;not null" json:"text"`
	Completed bool      `gorm:"column:completed;not null;default:false" json:"completed"`
	Position  int       `gorm:"column:position;not null;default:0;index:idx_tasks_owner_position,priority:2" json:"position"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Task) TableName() string {
	return "tasks"
}

// Patch carries the mutable fields of an update; nil fields are left untouched.
type Patch struct {
	Text      *Text
	Completed *bool
}

// Empty reports whether the patch would change nothing.
func (p Patch) Empty() bool {
	return p.Text == nil && p.Completed == nil
}
