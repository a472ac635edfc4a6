package importer

import (
	"context"
	"errors"
	"testing"

	"github.com/quayside/daybook/internal/client"
	"github.com/quayside/daybook/internal/tasks"
)

type recordingWriter struct {
	nextID    int64
	created   []tasks.Task
	completed map[int64]bool
	createErr error
}

func (w *recordingWriter) CreateTask(_ context.Context, text string) (tasks.Task, error) {
	if w.createErr != nil {
		return tasks.Task{}, w.createErr
	}
	w.nextID++
	record := tasks.Task{ID: w.nextID, Text: text, Position: len(w.created)}
	w.created = append(w.created, record)
	return record, nil
}

func (w *recordingWriter) UpdateTask(_ context.Context, taskID int64, patch client.TaskPatch) (tasks.Task, error) {
	if w.completed == nil {
		w.completed = make(map[int64]bool)
	}
	if patch.Completed != nil {
		w.completed[taskID] = *patch.Completed
	}
	for _, record := range w.created {
		if record.ID == taskID {
			record.Completed = w.completed[taskID]
			return record, nil
		}
	}
	return tasks.Task{}, tasks.ErrTaskNotFound
}

func TestImportCreatesTasksInDocumentOrder(t *testing.T) {
	document := []byte(`tasks:
  - text: buy milk
  - text: walk the dog
    completed: true
  - text: "  pay rent  "
`)
	writer := &recordingWriter{}
	count, err := Import(context.Background(), writer, document)
	if err != nil {
		t.Fatalf("unexpected import error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 created tasks, got %d", count)
	}
	expected := []string{"buy milk", "walk the dog", "pay rent"}
	for index, text := range expected {
		if writer.created[index].Text != text {
			t.Fatalf("unexpected order: %+v", writer.created)
		}
	}
	if !writer.completed[writer.created[1].ID] {
		t.Fatalf("expected second task marked completed")
	}
	if writer.completed[writer.created[0].ID] {
		t.Fatalf("expected first task left open")
	}
}

func TestImportRejectsEmptyDocument(t *testing.T) {
	for name, document := range map[string]string{
		"no tasks key": "version: 1\n",
		"empty list":   "tasks: []\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Import(context.Background(), &recordingWriter{}, []byte(document))
			if !errors.Is(err, ErrNoTasks) {
				t.Fatalf("expected ErrNoTasks, got %v", err)
			}
		})
	}
}

func TestImportRejectsBlankText(t *testing.T) {
	document := []byte("tasks:\n  - text: buy milk\n  - text: \"   \"\n")
	writer := &recordingWriter{}
	count, err := Import(context.Background(), writer, document)
	if !errors.Is(err, ErrMissingText) {
		t.Fatalf("expected ErrMissingText, got %v", err)
	}
	if count != 1 {
		t.Fatalf("expected count to cover tasks created before the failure, got %d", count)
	}
}

func TestImportRejectsMalformedYAML(t *testing.T) {
	_, err := Import(context.Background(), &recordingWriter{}, []byte("tasks: [unclosed"))
	if err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestImportSurfacesWriterFailure(t *testing.T) {
	writer := &recordingWriter{createErr: errors.New("store offline")}
	count, err := Import(context.Background(), writer, []byte("tasks:\n  - text: buy milk\n"))
	if err == nil {
		t.Fatalf("expected create error to surface")
	}
	if count != 0 {
		t.Fatalf("expected zero created tasks, got %d", count)
	}
}
