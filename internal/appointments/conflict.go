package appointments

import (
	"errors"
	"time"
)

// ErrInvalidPolicy reports a booking policy whose fields cannot describe a
// bookable day.
var ErrInvalidPolicy = errors.New("invalid booking policy")

const (
	// DefaultBuffer is the minimum gap kept around every booking.
	DefaultBuffer = 2 * time.Hour
	// DefaultSlotWidth is the width of one offered booking slot.
	DefaultSlotWidth = 30 * time.Minute
	// DefaultDayStart and DefaultDayEnd bound the bookable day.
	DefaultDayStart = 9 * time.Hour
	DefaultDayEnd   = 17 * time.Hour
)

// BookingPolicy holds the calendar parameters: the buffer kept around every
// booking, the offered slot width, and the bookable window of a day. DayStart
// and DayEnd are offsets from local midnight in Location.
type BookingPolicy struct {
	Buffer    time.Duration
	SlotWidth time.Duration
	DayStart  time.Duration
	DayEnd    time.Duration
	Location  *time.Location
}

// DefaultBookingPolicy returns the stock calendar: two-hour buffer,
// half-hour slots, nine to five, UTC.
func DefaultBookingPolicy() BookingPolicy {
	return BookingPolicy{
		Buffer:    DefaultBuffer,
		SlotWidth: DefaultSlotWidth,
		DayStart:  DefaultDayStart,
		DayEnd:    DefaultDayEnd,
		Location:  time.UTC,
	}
}

// normalized fills zero fields with defaults and validates the result.
func (p BookingPolicy) normalized() (BookingPolicy, error) {
	out := p
	if out.Buffer == 0 {
		out.Buffer = DefaultBuffer
	}
	if out.SlotWidth == 0 {
		out.SlotWidth = DefaultSlotWidth
	}
	if out.DayStart == 0 && out.DayEnd == 0 {
		out.DayStart = DefaultDayStart
		out.DayEnd = DefaultDayEnd
	}
	if out.Location == nil {
		out.Location = time.UTC
	}
	if out.Buffer < 0 || out.SlotWidth <= 0 {
		return BookingPolicy{}, ErrInvalidPolicy
	}
	if out.DayStart < 0 || out.DayEnd > 24*time.Hour || out.DayStart >= out.DayEnd {
		return BookingPolicy{}, ErrInvalidPolicy
	}
	return out, nil
}

// Slot is one offered booking window.
type Slot struct {
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

// fetchWindow is the interval whose contained booking starts can possibly
// conflict with the candidate: anything starting outside
// [start-buffer, end+buffer] is too far away to violate the rule.
func (p BookingPolicy) fetchWindow(start, end time.Time) (time.Time, time.Time) {
	return start.Add(-p.Buffer), end.Add(p.Buffer)
}

// violatesBuffer reports whether the candidate [start, end) sits closer than
// the buffer to the existing booking. The candidate is clear only when it
// ends at least a buffer before the booking starts, or starts at least a
// buffer after the booking ends.
func violatesBuffer(start, end time.Time, existing Appointment, buffer time.Duration) bool {
	clearBefore := !end.After(existing.StartsAt.Add(-buffer))
	clearAfter := !start.Before(existing.EndsAt.Add(buffer))
	return !clearBefore && !clearAfter
}

// FirstConflict returns the first booking the candidate interval collides
// with under the policy's buffer. Cancelled bookings never conflict.
func (p BookingPolicy) FirstConflict(start, end time.Time, existing []Appointment) (Appointment, bool) {
	for _, booked := range existing {
		if booked.Status == StatusCancelled {
			continue
		}
		if violatesBuffer(start, end, booked, p.Buffer) {
			return booked, true
		}
	}
	return Appointment{}, false
}

// SlotsForDay enumerates the free fixed-width slots of the given calendar
// day: every slot inside the bookable window whose start has not passed and
// which clears the buffer against every supplied booking. day is truncated
// to its calendar date in the policy's location.
func (p BookingPolicy) SlotsForDay(day time.Time, existing []Appointment, now time.Time) []Slot {
	local := day.In(p.Location)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, p.Location)
	open := midnight.Add(p.DayStart)
	shut := midnight.Add(p.DayEnd)

	slots := make([]Slot, 0)
	for start := open; !start.Add(p.SlotWidth).After(shut); start = start.Add(p.SlotWidth) {
		if start.Before(now) {
			continue
		}
		end := start.Add(p.SlotWidth)
		if _, conflicted := p.FirstConflict(start, end, existing); conflicted {
			continue
		}
		slots = append(slots, Slot{StartsAt: start, EndsAt: end})
	}
	return slots
}

// ParseDay interprets a YYYY-MM-DD value as a calendar date in the policy's
// location.
func (p BookingPolicy) ParseDay(value string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", value, p.Location)
}
