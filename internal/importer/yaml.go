// Package importer loads tasks in bulk from a YAML document.
package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/quayside/daybook/internal/client"
	"github.com/quayside/daybook/internal/tasks"
)

var (
	// ErrNoTasks reports a document with an empty or missing tasks list.
	ErrNoTasks = errors.New("importer: no tasks in document")
	// ErrMissingText reports a task entry without text.
	ErrMissingText = errors.New("importer: task text is required")
)

// TaskWriter is the slice of the API client the importer needs.
type TaskWriter interface {
	CreateTask(ctx context.Context, text string) (tasks.Task, error)
	UpdateTask(ctx context.Context, taskID int64, patch client.TaskPatch) (tasks.Task, error)
}

// YAMLTask is a single task entry in the input document.
type YAMLTask struct {
	Text      string `yaml:"text"`
	Completed bool   `yaml:"completed,omitempty"`
}

// YAMLInput is the root structure of the input document.
type YAMLInput struct {
	Tasks []YAMLTask `yaml:"tasks"`
}

// Import parses a YAML document and creates each listed task through the
// writer, in document order so imported tasks keep their relative order.
// Entries marked completed are patched after creation. Returns the number
// of tasks created; on error the count covers the tasks created before the
// failure.
func Import(ctx context.Context, writer TaskWriter, document []byte) (int, error) {
	var input YAMLInput
	if err := yaml.Unmarshal(document, &input); err != nil {
		return 0, fmt.Errorf("importer: parse document: %w", err)
	}
	if len(input.Tasks) == 0 {
		return 0, ErrNoTasks
	}

	count := 0
	for index, entry := range input.Tasks {
		text := strings.TrimSpace(entry.Text)
		if text == "" {
			return count, fmt.Errorf("%w: entry %d", ErrMissingText, index+1)
		}
		record, err := writer.CreateTask(ctx, text)
		if err != nil {
			return count, fmt.Errorf("create task %q: %w", text, err)
		}
		count++
		if !entry.Completed {
			continue
		}
		completed := true
		if _, err := writer.UpdateTask(ctx, record.ID, client.TaskPatch{Completed: &completed}); err != nil {
			return count, fmt.Errorf("mark task %q completed: %w", text, err)
		}
	}
	return count, nil
}
