package tasks

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestServiceCreateAssignsSequentialPositions(t *testing.T) {
	service, _ := newTestService(t)
	owner := mustSubject(t, "user-1")

	texts := []string{"buy groceries", "walk the dog", "file taxes"}
	for index, value := range texts {
		record, err := service.Create(context.Background(), owner, mustText(t, value))
		if err != nil {
			t.Fatalf("unexpected create error: %v", err)
		}
		if record.Position != index {
			t.Fatalf("expected position %d, got %d", index, record.Position)
		}
		if record.ID == 0 {
			t.Fatalf("expected store-assigned id")
		}
	}

	records, err := service.List(context.Background(), owner)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(records) != len(texts) {
		t.Fatalf("expected %d tasks, got %d", len(texts), len(records))
	}
	for index, record := range records {
		if record.Text != texts[index] {
			t.Fatalf("expected %q at index %d, got %q", texts[index], index, record.Text)
		}
	}
}

func TestServiceCreateContinuesPastPositionGaps(t *testing.T) {
	service, _ := newTestService(t)
	owner := mustSubject(t, "user-1")

	var middle Task
	for index, value := range []string{"first", "second", "third"} {
		record, err := service.Create(context.Background(), owner, mustText(t, value))
		if err != nil {
			t.Fatalf("unexpected create error: %v", err)
		}
		if index == 1 {
			middle = record
		}
	}

	removed, err := service.Delete(context.Background(), owner, middle.ID)
	if err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if removed.ID != middle.ID || removed.Text != "second" {
		t.Fatalf("unexpected removed row: %+v", removed)
	}

	record, err := service.Create(context.Background(), owner, mustText(t, "fourth"))
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if record.Position != 3 {
		t.Fatalf("expected position 3 after max 2, got %d", record.Position)
	}

	records, err := service.List(context.Background(), owner)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	positions := make([]int, 0, len(records))
	for _, stored := range records {
		positions = append(positions, stored.Position)
	}
	if len(positions) != 3 || positions[0] != 0 || positions[1] != 2 || positions[2] != 3 {
		t.Fatalf("expected surviving positions [0 2 3], got %v", positions)
	}
}

func TestServiceListBreaksPositionTiesByRecency(t *testing.T) {
	service, db := newTestService(t)
	owner := mustSubject(t, "user-1")

	older := Task{
		OwnerID:   owner.String(),
		Text:      "older",
		Position:  1,
		CreatedAt: time.Unix(1760000100, 0).UTC(),
	}
	newer := Task{
		OwnerID:   owner.String(),
		Text:      "newer",
		Position:  1,
		CreatedAt: time.Unix(1760000200, 0).UTC(),
	}
	head := Task{
		OwnerID:   owner.String(),
		Text:      "head",
		Position:  0,
		CreatedAt: time.Unix(1760000050, 0).UTC(),
	}
	for _, seed := range []*Task{&older, &newer, &head} {
		if err := db.Create(seed).Error; err != nil {
			t.Fatalf("failed to seed task: %v", err)
		}
	}

	records, err := service.List(context.Background(), owner)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(records))
	}
	if records[0].Text != "head" {
		t.Fatalf("expected lowest position first, got %q", records[0].Text)
	}
	if records[1].Text != "newer" || records[2].Text != "older" {
		t.Fatalf("expected newer row to win the position tie, got %q then %q", records[1].Text, records[2].Text)
	}
}

func TestServiceUpdateAppliesPatch(t *testing.T) {
	service, _ := newTestService(t)
	owner := mustSubject(t, "user-1")

	record, err := service.Create(context.Background(), owner, mustText(t, "draft"))
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	revised := mustText(t, "final")
	updated, err := service.Update(context.Background(), owner, record.ID, Patch{Text: &revised})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if updated.Text != "final" {
		t.Fatalf("expected text to change, got %q", updated.Text)
	}
	if updated.Completed {
		t.Fatalf("completed flag should be untouched")
	}

	completed := true
	updated, err = service.Update(context.Background(), owner, record.ID, Patch{Completed: &completed})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if !updated.Completed {
		t.Fatalf("expected completed flag to be set")
	}
	if updated.Text != "final" {
		t.Fatalf("text should survive a completion patch, got %q", updated.Text)
	}

	records, err := service.List(context.Background(), owner)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(records) != 1 || records[0].Text != "final" || !records[0].Completed {
		t.Fatalf("unexpected stored state: %+v", records)
	}
}

func TestServiceUpdateRejectsEmptyPatch(t *testing.T) {
	service, _ := newTestService(t)
	owner := mustSubject(t, "user-1")

	record, err := service.Create(context.Background(), owner, mustText(t, "draft"))
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	_, err = service.Update(context.Background(), owner, record.ID, Patch{})
	if err == nil {
		t.Fatalf("expected empty patch to be rejected")
	}
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "tasks.update.empty_patch" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestServiceUpdateUnknownTask(t *testing.T) {
	service, _ := newTestService(t)
	owner := mustSubject(t, "user-1")

	completed := true
	_, err := service.Update(context.Background(), owner, 42, Patch{Completed: &completed})
	if !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestServiceDeleteUnknownTask(t *testing.T) {
	service, _ := newTestService(t)
	owner := mustSubject(t, "user-1")

	_, err := service.Delete(context.Background(), owner, 42)
	if !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestServiceReorderRewritesPositions(t *testing.T) {
	service, _ := newTestService(t)
	owner := mustSubject(t, "user-1")

	ids := make([]int64, 0, 3)
	for _, value := range []string{"first", "second", "third"} {
		record, err := service.Create(context.Background(), owner, mustText(t, value))
		if err != nil {
			t.Fatalf("unexpected create error: %v", err)
		}
		ids = append(ids, record.ID)
	}

	reordered, err := service.Reorder(context.Background(), owner, []int64{ids[2], ids[0], ids[1]})
	if err != nil {
		t.Fatalf("unexpected reorder error: %v", err)
	}
	if len(reordered) != 3 {
		t.Fatalf("expected 3 rows in the batch, got %d", len(reordered))
	}
	for index, record := range reordered {
		if record.Position != index {
			t.Fatalf("expected dense positions, got %d at index %d", record.Position, index)
		}
	}
	if reordered[0].ID != ids[2] || reordered[1].ID != ids[0] || reordered[2].ID != ids[1] {
		t.Fatalf("batch order does not match the requested order: %+v", reordered)
	}

	records, err := service.List(context.Background(), owner)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if records[0].Text != "third" || records[1].Text != "first" || records[2].Text != "second" {
		t.Fatalf("stored order does not match the requested order: %+v", records)
	}
}

func TestServiceReorderRejectsMismatchedIDSets(t *testing.T) {
	service, _ := newTestService(t)
	owner := mustSubject(t, "user-1")

	ids := make([]int64, 0, 3)
	for _, value := range []string{"first", "second", "third"} {
		record, err := service.Create(context.Background(), owner, mustText(t, value))
		if err != nil {
			t.Fatalf("unexpected create error: %v", err)
		}
		ids = append(ids, record.ID)
	}

	tests := []struct {
		name  string
		order []int64
	}{
		{name: "missing-task", order: []int64{ids[2], ids[0]}},
		{name: "unknown-task", order: []int64{ids[2], ids[0], ids[1] + 100}},
		{name: "duplicate-task", order: []int64{ids[2], ids[0], ids[0]}},
		{name: "empty-order", order: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Reorder(context.Background(), owner, tt.order)
			if !errors.Is(err, ErrOrderMismatch) {
				t.Fatalf("expected ErrOrderMismatch, got %v", err)
			}

			records, listErr := service.List(context.Background(), owner)
			if listErr != nil {
				t.Fatalf("unexpected list error: %v", listErr)
			}
			for index, record := range records {
				if record.ID != ids[index] {
					t.Fatalf("rejected reorder must leave positions untouched, got %+v", records)
				}
			}
		})
	}
}

func TestServiceScopesOperationsToOwner(t *testing.T) {
	service, _ := newTestService(t)
	first := mustSubject(t, "user-1")
	second := mustSubject(t, "user-2")

	firstTask, err := service.Create(context.Background(), first, mustText(t, "mine"))
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if _, err := service.Create(context.Background(), first, mustText(t, "also mine")); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	secondTask, err := service.Create(context.Background(), second, mustText(t, "theirs"))
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if secondTask.Position != 0 {
		t.Fatalf("position sequence must be per owner, got %d", secondTask.Position)
	}

	records, err := service.List(context.Background(), second)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(records) != 1 || records[0].Text != "theirs" {
		t.Fatalf("list leaked rows across owners: %+v", records)
	}

	completed := true
	if _, err := service.Update(context.Background(), second, firstTask.ID, Patch{Completed: &completed}); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected foreign update to miss, got %v", err)
	}
	if _, err := service.Delete(context.Background(), second, firstTask.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected foreign delete to miss, got %v", err)
	}
	if _, err := service.Reorder(context.Background(), second, []int64{secondTask.ID, firstTask.ID}); !errors.Is(err, ErrOrderMismatch) {
		t.Fatalf("expected foreign reorder to be rejected, got %v", err)
	}

	remaining, err := service.List(context.Background(), first)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("foreign operations must not touch the owner's rows, got %+v", remaining)
	}
}
