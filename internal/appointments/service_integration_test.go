package appointments

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	client   = Actor{Subject: "client-1"}
	neighbor = Actor{Subject: "client-2"}
	admin    = Actor{Subject: "admin-1", Admin: true}
)

func TestServiceCreatePersistsPendingBooking(t *testing.T) {
	service, db := newTestService(t, []string{"appt-1", "appt-2"}, calendarDay)

	record, err := service.Create(context.Background(), client, mustTitle(t, "intro call"), at(t, "10:00"), at(t, "10:30"))
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if record.ID != "appt-1" {
		t.Fatalf("unexpected id %q", record.ID)
	}
	if record.Status != StatusPending {
		t.Fatalf("new bookings must start pending, got %q", record.Status)
	}
	if record.ClientID != client.Subject {
		t.Fatalf("unexpected client %q", record.ClientID)
	}

	var stored Appointment
	if err := db.First(&stored).Error; err != nil {
		t.Fatalf("failed to load stored booking: %v", err)
	}
	if !stored.StartsAt.Equal(at(t, "10:00")) || !stored.EndsAt.Equal(at(t, "10:30")) {
		t.Fatalf("unexpected stored interval: %+v", stored)
	}
}

func TestServiceCreateRejectsBufferedConflicts(t *testing.T) {
	service, db := newTestService(t, []string{"appt-1", "appt-2", "appt-3"}, calendarDay)

	if _, err := service.Create(context.Background(), client, mustTitle(t, "first"), at(t, "10:00"), at(t, "10:30")); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	// Another client collides even though the rows belong to different owners.
	_, err := service.Create(context.Background(), neighbor, mustTitle(t, "second"), at(t, "11:00"), at(t, "11:30"))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "appointments.create.conflict" {
		t.Fatalf("unexpected error code: %v", err)
	}

	var count int64
	if err := db.Model(&Appointment{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count bookings: %v", err)
	}
	if count != 1 {
		t.Fatalf("rejected bookings must not be stored, found %d rows", count)
	}

	// Exactly one buffer past the end is the first legal start.
	if _, err := service.Create(context.Background(), neighbor, mustTitle(t, "third"), at(t, "12:30"), at(t, "13:00")); err != nil {
		t.Fatalf("expected the buffer boundary to be bookable, got %v", err)
	}
}

func TestServiceCreateRejectsInvalidIntervals(t *testing.T) {
	service, _ := newTestService(t, []string{"appt-1"}, calendarDay)

	tests := []struct {
		name  string
		start string
		end   string
	}{
		{name: "zero-length", start: "10:00", end: "10:00"},
		{name: "inverted", start: "10:30", end: "10:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Create(context.Background(), client, mustTitle(t, "bad"), at(t, tt.start), at(t, tt.end))
			if !errors.Is(err, ErrInvalidInterval) {
				t.Fatalf("expected ErrInvalidInterval, got %v", err)
			}
		})
	}
}

func TestServiceRescheduleExcludesItself(t *testing.T) {
	service, _ := newTestService(t, []string{"appt-1", "appt-2"}, calendarDay)

	record, err := service.Create(context.Background(), client, mustTitle(t, "movable"), at(t, "10:00"), at(t, "10:30"))
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	// The new interval sits well inside the old one's buffer; only the
	// self-exclusion makes it bookable.
	moved, err := service.Reschedule(context.Background(), client, record.ID, at(t, "10:30"), at(t, "11:00"))
	if err != nil {
		t.Fatalf("unexpected reschedule error: %v", err)
	}
	if !moved.StartsAt.Equal(at(t, "10:30")) || !moved.EndsAt.Equal(at(t, "11:00")) {
		t.Fatalf("unexpected interval after reschedule: %+v", moved)
	}

	if _, err := service.Create(context.Background(), neighbor, mustTitle(t, "blocker"), at(t, "15:00"), at(t, "15:30")); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	_, err = service.Reschedule(context.Background(), client, record.ID, at(t, "14:00"), at(t, "14:30"))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict against the other booking, got %v", err)
	}
}

func TestServiceRescheduleAuthorization(t *testing.T) {
	service, db := newTestService(t, []string{"appt-1"}, calendarDay)

	record, err := service.Create(context.Background(), client, mustTitle(t, "session"), at(t, "10:00"), at(t, "10:30"))
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	// Foreign rows stay invisible to other clients.
	if _, err := service.Reschedule(context.Background(), neighbor, record.ID, at(t, "15:00"), at(t, "15:30")); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}

	if err := db.Model(&Appointment{}).Where("id = ?", record.ID).Update("status", StatusConfirmed).Error; err != nil {
		t.Fatalf("failed to confirm booking: %v", err)
	}
	if _, err := service.Reschedule(context.Background(), client, record.ID, at(t, "15:00"), at(t, "15:30")); !errors.Is(err, ErrForbidden) {
		t.Fatalf("clients must not move confirmed bookings, got %v", err)
	}
	if _, err := service.Reschedule(context.Background(), admin, record.ID, at(t, "15:00"), at(t, "15:30")); err != nil {
		t.Fatalf("admins may move confirmed bookings, got %v", err)
	}

	if err := db.Model(&Appointment{}).Where("id = ?", record.ID).Update("status", StatusCancelled).Error; err != nil {
		t.Fatalf("failed to cancel booking: %v", err)
	}
	if _, err := service.Reschedule(context.Background(), admin, record.ID, at(t, "16:00"), at(t, "16:30")); !errors.Is(err, ErrForbidden) {
		t.Fatalf("cancelled bookings must stay put, got %v", err)
	}
}

func TestServiceListVisibilityAndDayFilter(t *testing.T) {
	service, _ := newTestService(t, []string{"appt-1", "appt-2", "appt-3"}, calendarDay)

	if _, err := service.Create(context.Background(), client, mustTitle(t, "mine"), at(t, "09:00"), at(t, "09:30")); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if _, err := service.Create(context.Background(), neighbor, mustTitle(t, "theirs"), at(t, "13:00"), at(t, "13:30")); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	nextDay := calendarDay.AddDate(0, 0, 1)
	if _, err := service.Create(context.Background(), client, mustTitle(t, "tomorrow"), nextDay.Add(9*time.Hour), nextDay.Add(9*time.Hour+30*time.Minute)); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	own, err := service.List(context.Background(), client, nil)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(own) != 2 {
		t.Fatalf("expected the client's two bookings, got %d", len(own))
	}
	for _, record := range own {
		if record.ClientID != client.Subject {
			t.Fatalf("list leaked a foreign booking: %+v", record)
		}
	}

	everything, err := service.List(context.Background(), admin, nil)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(everything) != 3 {
		t.Fatalf("expected the whole calendar for admins, got %d", len(everything))
	}
	for index := 1; index < len(everything); index++ {
		if everything[index].StartsAt.Before(everything[index-1].StartsAt) {
			t.Fatalf("expected chronological order, got %+v", everything)
		}
	}

	today, err := service.List(context.Background(), admin, &calendarDay)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(today) != 2 {
		t.Fatalf("expected two bookings on the filtered day, got %d", len(today))
	}
}

func TestServiceSetStatusAuthorization(t *testing.T) {
	service, _ := newTestService(t, []string{"appt-1", "appt-2"}, calendarDay)

	record, err := service.Create(context.Background(), client, mustTitle(t, "session"), at(t, "10:00"), at(t, "10:30"))
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	if _, err := service.SetStatus(context.Background(), client, record.ID, StatusConfirmed); !errors.Is(err, ErrForbidden) {
		t.Fatalf("clients must not confirm bookings, got %v", err)
	}
	if _, err := service.SetStatus(context.Background(), neighbor, record.ID, StatusCancelled); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("foreign bookings must stay invisible, got %v", err)
	}

	confirmed, err := service.SetStatus(context.Background(), admin, record.ID, StatusConfirmed)
	if err != nil {
		t.Fatalf("unexpected status error: %v", err)
	}
	if confirmed.Status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %q", confirmed.Status)
	}

	// Once past pending the client cannot cancel either.
	if _, err := service.SetStatus(context.Background(), client, record.ID, StatusCancelled); !errors.Is(err, ErrForbidden) {
		t.Fatalf("clients must not cancel confirmed bookings, got %v", err)
	}

	done, err := service.SetStatus(context.Background(), admin, record.ID, StatusCompleted)
	if err != nil {
		t.Fatalf("unexpected status error: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q", done.Status)
	}

	second, err := service.Create(context.Background(), client, mustTitle(t, "later"), at(t, "15:00"), at(t, "15:30"))
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	cancelled, err := service.SetStatus(context.Background(), client, second.ID, StatusCancelled)
	if err != nil {
		t.Fatalf("clients may cancel their own pending booking, got %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %q", cancelled.Status)
	}
}

func TestServiceCancelledBookingFreesItsWindow(t *testing.T) {
	service, _ := newTestService(t, []string{"appt-1", "appt-2"}, calendarDay)

	record, err := service.Create(context.Background(), client, mustTitle(t, "blocker"), at(t, "12:00"), at(t, "12:30"))
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	slots, err := service.Slots(context.Background(), calendarDay)
	if err != nil {
		t.Fatalf("unexpected slots error: %v", err)
	}
	if len(slots) != 7 {
		t.Fatalf("expected 7 free slots around the booking, got %d", len(slots))
	}

	if _, err := service.SetStatus(context.Background(), client, record.ID, StatusCancelled); err != nil {
		t.Fatalf("unexpected cancel error: %v", err)
	}

	slots, err = service.Slots(context.Background(), calendarDay)
	if err != nil {
		t.Fatalf("unexpected slots error: %v", err)
	}
	if len(slots) != 16 {
		t.Fatalf("expected the whole day to open up, got %d slots", len(slots))
	}

	if _, err := service.Create(context.Background(), neighbor, mustTitle(t, "replacement"), at(t, "12:00"), at(t, "12:30")); err != nil {
		t.Fatalf("expected the cancelled window to be bookable, got %v", err)
	}
}

func TestServiceNotes(t *testing.T) {
	service, _ := newTestService(t, []string{"appt-1", "note-1", "note-2"}, calendarDay)

	record, err := service.Create(context.Background(), client, mustTitle(t, "session"), at(t, "10:00"), at(t, "10:30"))
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	if _, err := service.AddNote(context.Background(), client, record.ID, mustNoteBody(t, "sneaky")); !errors.Is(err, ErrForbidden) {
		t.Fatalf("clients must not attach notes, got %v", err)
	}

	note, err := service.AddNote(context.Background(), admin, record.ID, mustNoteBody(t, "bring the contract"))
	if err != nil {
		t.Fatalf("unexpected note error: %v", err)
	}
	if note.ID != "note-1" || note.AppointmentID != record.ID || note.AuthorID != admin.Subject {
		t.Fatalf("unexpected note row: %+v", note)
	}

	if _, err := service.AddNote(context.Background(), admin, "missing", mustNoteBody(t, "lost")); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}

	listed, err := service.List(context.Background(), client, nil)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(listed) != 1 || len(listed[0].Notes) != 1 {
		t.Fatalf("expected the note inline, got %+v", listed)
	}
	if listed[0].Notes[0].Body != "bring the contract" {
		t.Fatalf("unexpected note body: %q", listed[0].Notes[0].Body)
	}
}
