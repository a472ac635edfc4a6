package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew = "appointments.service.new"
	opCreate     = "appointments.create"
	opReschedule = "appointments.reschedule"
	opList       = "appointments.list"
	opSlots      = "appointments.slots"
	opSetStatus  = "appointments.set_status"
	opAddNote    = "appointments.add_note"
)

// ServiceError carries a dotted operation code alongside the causing error.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation code, e.g. "appointments.create.conflict".
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// IDProvider issues appointment and note identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig bundles the dependencies for the appointment service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Policy     BookingPolicy
	Logger     *zap.Logger
}

// Service owns the shared booking calendar. Listing and modification are
// scoped to the acting subject unless the actor is an administrator; the
// conflict rule always runs over the whole calendar.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	policy     BookingPolicy
	logger     *zap.Logger
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	policy, err := cfg.Policy.normalized()
	if err != nil {
		return nil, newServiceError(opServiceNew, "invalid_policy", err)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		policy:     policy,
		logger:     logger,
	}, nil
}

// Policy returns the calendar parameters the service runs under.
func (s *Service) Policy() BookingPolicy {
	return s.policy
}

// Create books a new pending appointment for the acting subject after
// checking the candidate interval against the whole calendar.
func (s *Service) Create(ctx context.Context, actor Actor, title Title, startsAt, endsAt time.Time) (Appointment, error) {
	if !startsAt.Before(endsAt) {
		return Appointment{}, newServiceError(opCreate, "invalid_interval", ErrInvalidInterval)
	}
	clientID, err := NewClientID(actor.Subject)
	if err != nil {
		return Appointment{}, newServiceError(opCreate, "invalid_subject", err)
	}
	appointmentID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Appointment{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	record := Appointment{
		ID:        appointmentID,
		ClientID:  clientID.String(),
		Title:     title.String(),
		StartsAt:  startsAt.UTC(),
		EndsAt:    endsAt.UTC(),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		booked, err := s.lockCalendarWindow(tx, record.StartsAt, record.EndsAt, "")
		if err != nil {
			return newServiceError(opCreate, "window_query_failed", err)
		}
		if blocking, conflicted := s.policy.FirstConflict(record.StartsAt, record.EndsAt, booked); conflicted {
			return newServiceError(opCreate, "conflict",
				fmt.Errorf("%w: %s", ErrConflict, blocking.ID))
		}
		if err := tx.Create(&record).Error; err != nil {
			return newServiceError(opCreate, "insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opCreate, "transaction_failed", txErr, zap.String("client_id", clientID.String()))
		return Appointment{}, txErr
	}
	return record, nil
}

// Reschedule moves an appointment to a new interval. The conflict check
// excludes the appointment itself. Clients may move only their own pending
// appointments; administrators may move any appointment not yet cancelled.
func (s *Service) Reschedule(ctx context.Context, actor Actor, appointmentID string, startsAt, endsAt time.Time) (Appointment, error) {
	if !startsAt.Before(endsAt) {
		return Appointment{}, newServiceError(opReschedule, "invalid_interval", ErrInvalidInterval)
	}

	var record Appointment
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.takeVisible(tx, actor, appointmentID, &record); err != nil {
			return newServiceError(opReschedule, "not_found", err)
		}
		if !actor.Admin && record.Status != StatusPending {
			return newServiceError(opReschedule, "not_pending", ErrForbidden)
		}
		if actor.Admin && record.Status == StatusCancelled {
			return newServiceError(opReschedule, "cancelled", ErrForbidden)
		}

		booked, err := s.lockCalendarWindow(tx, startsAt.UTC(), endsAt.UTC(), record.ID)
		if err != nil {
			return newServiceError(opReschedule, "window_query_failed", err)
		}
		if blocking, conflicted := s.policy.FirstConflict(startsAt.UTC(), endsAt.UTC(), booked); conflicted {
			return newServiceError(opReschedule, "conflict",
				fmt.Errorf("%w: %s", ErrConflict, blocking.ID))
		}

		record.StartsAt = startsAt.UTC()
		record.EndsAt = endsAt.UTC()
		record.UpdatedAt = s.clock().UTC()
		if err := tx.Save(&record).Error; err != nil {
			return newServiceError(opReschedule, "save_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opReschedule, "transaction_failed", txErr,
			zap.String("appointment_id", appointmentID),
			zap.String("subject", actor.Subject))
		return Appointment{}, txErr
	}
	return record, nil
}

// List returns appointments visible to the actor, oldest start first, with
// notes inline. Clients see their own rows, administrators the whole
// calendar. A non-nil day restricts results to that calendar date.
func (s *Service) List(ctx context.Context, actor Actor, day *time.Time) ([]Appointment, error) {
	query := s.db.WithContext(ctx).Model(&Appointment{})
	if !actor.Admin {
		query = query.Where("client_id = ?", actor.Subject)
	}
	if day != nil {
		from, until := s.dayBounds(*day)
		query = query.Where("starts_at >= ? AND starts_at < ?", from, until)
	}

	var records []Appointment
	if err := query.
		Preload("Notes", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Order("starts_at ASC").
		Find(&records).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("subject", actor.Subject))
		return nil, newServiceError(opList, "query_failed", err)
	}
	return records, nil
}

// Slots enumerates the free booking slots of the given calendar day.
func (s *Service) Slots(ctx context.Context, day time.Time) ([]Slot, error) {
	midnight, _ := s.dayBounds(day)
	windowStart := midnight.Add(s.policy.DayStart - s.policy.Buffer)
	windowEnd := midnight.Add(s.policy.DayEnd + s.policy.Buffer)

	var booked []Appointment
	if err := s.db.WithContext(ctx).
		Where("status <> ? AND starts_at >= ? AND starts_at <= ?", StatusCancelled, windowStart, windowEnd).
		Find(&booked).Error; err != nil {
		s.logError(opSlots, "query_failed", err)
		return nil, newServiceError(opSlots, "query_failed", err)
	}
	return s.policy.SlotsForDay(day, booked, s.clock()), nil
}

// SetStatus transitions an appointment's lifecycle state. Administrators may
// set any defined status; clients may only cancel their own appointments and
// only while they are still pending.
func (s *Service) SetStatus(ctx context.Context, actor Actor, appointmentID string, status Status) (Appointment, error) {
	if _, err := ParseStatus(status.String()); err != nil {
		return Appointment{}, newServiceError(opSetStatus, "invalid_status", err)
	}
	if !actor.Admin && status != StatusCancelled {
		return Appointment{}, newServiceError(opSetStatus, "forbidden_status", ErrForbidden)
	}

	var record Appointment
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.takeVisible(tx, actor, appointmentID, &record); err != nil {
			return newServiceError(opSetStatus, "not_found", err)
		}
		if !actor.Admin && record.Status != StatusPending {
			return newServiceError(opSetStatus, "not_pending", ErrForbidden)
		}
		record.Status = status
		record.UpdatedAt = s.clock().UTC()
		if err := tx.Save(&record).Error; err != nil {
			return newServiceError(opSetStatus, "save_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opSetStatus, "transaction_failed", txErr,
			zap.String("appointment_id", appointmentID),
			zap.String("subject", actor.Subject),
			zap.String("status", status.String()))
		return Appointment{}, txErr
	}
	return record, nil
}

// AddNote appends an administrator note to an appointment.
func (s *Service) AddNote(ctx context.Context, actor Actor, appointmentID string, body NoteBody) (AppointmentNote, error) {
	if !actor.Admin {
		return AppointmentNote{}, newServiceError(opAddNote, "forbidden", ErrForbidden)
	}
	noteID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAddNote, "id_generation_failed", err)
		return AppointmentNote{}, newServiceError(opAddNote, "id_generation_failed", err)
	}

	note := AppointmentNote{
		ID:        noteID,
		AuthorID:  actor.Subject,
		Body:      body.String(),
		CreatedAt: s.clock().UTC(),
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record Appointment
		if err := s.takeVisible(tx, actor, appointmentID, &record); err != nil {
			return newServiceError(opAddNote, "not_found", err)
		}
		note.AppointmentID = record.ID
		if err := tx.Create(&note).Error; err != nil {
			return newServiceError(opAddNote, "insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opAddNote, "transaction_failed", txErr,
			zap.String("appointment_id", appointmentID),
			zap.String("subject", actor.Subject))
		return AppointmentNote{}, txErr
	}
	return note, nil
}

// lockCalendarWindow loads, under an update lock, every non-cancelled
// booking whose start falls inside the candidate's fetch window, excluding
// excludeID when rescheduling.
func (s *Service) lockCalendarWindow(tx *gorm.DB, start, end time.Time, excludeID string) ([]Appointment, error) {
	windowStart, windowEnd := s.policy.fetchWindow(start, end)
	query := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("status <> ? AND starts_at >= ? AND starts_at <= ?", StatusCancelled, windowStart, windowEnd)
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}

	var booked []Appointment
	if err := query.Find(&booked).Error; err != nil {
		return nil, err
	}
	return booked, nil
}

// takeVisible loads the appointment by id through the actor's visibility:
// administrators see every row, clients only their own.
func (s *Service) takeVisible(tx *gorm.DB, actor Actor, appointmentID string, record *Appointment) error {
	query := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", appointmentID)
	if !actor.Admin {
		query = query.Where("client_id = ?", actor.Subject)
	}
	err := query.Take(record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrAppointmentNotFound
	}
	return err
}

func (s *Service) dayBounds(day time.Time) (time.Time, time.Time) {
	local := day.In(s.policy.Location)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.policy.Location)
	return midnight, midnight.AddDate(0, 0, 1)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("appointment service error", attrs...)
}
