package tasks

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func mustSubject(t *testing.T, value string) Subject {
	t.Helper()
	subject, err := NewSubject(value)
	if err != nil {
		t.Fatalf("unexpected subject error: %v", err)
	}
	return subject
}

func mustText(t *testing.T, value string) Text {
	t.Helper()
	text, err := NewText(value)
	if err != nil {
		t.Fatalf("unexpected text error: %v", err)
	}
	return text
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:daybook_tasks_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Task{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	base := time.Unix(1760000000, 0).UTC()
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	service, err := NewService(ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to construct task service: %v", err)
	}
	return service, db
}
