package appointments

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	maxClientIDLength = 190
	maxTitleLength    = 200
	maxNoteLength     = 2000
)

var (
	// ErrInvalidClientID reports an empty or oversized client identifier.
	ErrInvalidClientID = errors.New("invalid client id")
	// ErrEmptyTitle reports a title that is empty after trimming.
	ErrEmptyTitle = errors.New("title must not be empty")
	// ErrTitleTooLong reports a title above the stored column width.
	ErrTitleTooLong = fmt.Errorf("title exceeds %d characters", maxTitleLength)
	// ErrInvalidInterval reports an interval whose start does not precede its end.
	ErrInvalidInterval = errors.New("start must precede end")
	// ErrConflict reports a candidate interval inside another booking's buffer.
	ErrConflict = errors.New("interval conflicts with an existing appointment")
	// ErrAppointmentNotFound reports an id with no visible row.
	ErrAppointmentNotFound = errors.New("appointment not found")
	// ErrForbidden reports an operation the acting role may not perform.
	ErrForbidden = errors.New("operation not permitted for this account")
	// ErrInvalidStatus reports a status value outside the defined set.
	ErrInvalidStatus = errors.New("unknown appointment status")
	// ErrEmptyNote reports a note body that is empty after trimming.
	ErrEmptyNote = errors.New("note body must not be empty")
	// ErrNoteTooLong reports a note body above the stored column width.
	ErrNoteTooLong = fmt.Errorf("note body exceeds %d characters", maxNoteLength)
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ParseStatus maps a wire value to a defined status.
func ParseStatus(value string) (Status, error) {
	switch Status(value) {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return Status(value), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, value)
	}
}

func (s Status) String() string {
	return string(s)
}

// ClientID is a validated booking-owner subject.
type ClientID struct {
	value string
}

// NewClientID validates and wraps a subject string.
func NewClientID(value string) (ClientID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || len(trimmed) > maxClientIDLength {
		return ClientID{}, ErrInvalidClientID
	}
	return ClientID{value: trimmed}, nil
}

func (c ClientID) String() string {
	return c.value
}

// Title is a validated appointment title.
type Title struct {
	value string
}

// NewTitle trims and validates an appointment title.
func NewTitle(value string) (Title, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return Title{}, ErrEmptyTitle
	}
	if len(trimmed) > maxTitleLength {
		return Title{}, ErrTitleTooLong
	}
	return Title{value: trimmed}, nil
}

func (t Title) String() string {
	return t.value
}

// NoteBody is a validated administrator note body.
type NoteBody struct {
	value string
}

// NewNoteBody trims and validates a note body.
func NewNoteBody(value string) (NoteBody, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return NoteBody{}, ErrEmptyNote
	}
	if len(trimmed) > maxNoteLength {
		return NoteBody{}, ErrNoteTooLong
	}
	return NoteBody{value: trimmed}, nil
}

func (b NoteBody) String() string {
	return b.value
}

// Appointment is one calendar booking.
type Appointment struct {
	ID        string            `gorm:"column:id;primaryKey;size:64" json:"id"`
	ClientID  string            `gorm:"column:client_id;size:190;not null;index:idx_appointments_client" json:"client_id"`
	Title     string            `gorm:"column:title;size:200;not null" json:"title"`
	StartsAt  time.Time         `gorm:"column:starts_at;not null;index:idx_appointments_starts_at" json:"starts_at"`
	EndsAt    time.Time         `gorm:"column:ends_at;not null" json:"ends_at"`
	Status    Status            `gorm:"column:status;size:16;not null;default:pending" json:"status"`
	CreatedAt time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	Notes     []AppointmentNote `gorm:"foreignKey:AppointmentID;references:ID" json:"notes,omitempty"`
}

func (Appointment) TableName() string {
	return "appointments"
}

// AppointmentNote is one administrator remark attached to a booking.
type AppointmentNote struct {
	ID            string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	AppointmentID string    `gorm:"column:appointment_id;size:64;not null;index:idx_appointment_notes_appointment" json:"appointment_id"`
	AuthorID      string    `gorm:"column:author_id;size:190;not null" json:"author_id"`
	Body          string    `gorm:"column:body;type:text;not null" json:"body"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (AppointmentNote) TableName() string {
	return "appointment_notes"
}

// Actor is the authenticated principal an operation runs as.
type Actor struct {
	Subject string
	Admin   bool
}
