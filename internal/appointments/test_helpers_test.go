package appointments

import (
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

func mustTitle(t *testing.T, value string) Title {
	t.Helper()
	title, err := NewTitle(value)
	if err != nil {
		t.Fatalf("unexpected title error: %v", err)
	}
	return title
}

func mustNoteBody(t *testing.T, value string) NoteBody {
	t.Helper()
	body, err := NewNoteBody(value)
	if err != nil {
		t.Fatalf("unexpected note body error: %v", err)
	}
	return body
}

func newTestService(t *testing.T, ids []string, now time.Time) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:daybook_appointments_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Appointment{}, &AppointmentNote{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return now },
		IDProvider: &staticIDGenerator{ids: ids},
		Policy:     DefaultBookingPolicy(),
	})
	if err != nil {
		t.Fatalf("failed to construct appointment service: %v", err)
	}
	return service, db
}
