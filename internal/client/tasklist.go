package client

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/quayside/daybook/internal/tasklist"
	"github.com/quayside/daybook/internal/tasks"
)

// TaskList is the client-side ordered task view. Local mutations are
// applied to the view optimistically and confirmed against the server; a
// failed write triggers an authoritative reload so the view never drifts
// from the store. Pushed change events fold in through HandleEvent.
type TaskList struct {
	mu         sync.Mutex
	client     *Client
	view       *tasklist.View
	subscribed bool
	logger     *zap.Logger
}

func NewTaskList(apiClient *Client, logger *zap.Logger) *TaskList {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskList{
		client: apiClient,
		view:   tasklist.NewView(),
		logger: logger,
	}
}

// Load replaces the view with the server's current task list.
func (l *TaskList) Load(ctx context.Context) error {
	records, err := l.client.ListTasks(ctx)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.view.Replace(records)
	l.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the view in display order.
func (l *TaskList) Snapshot() []tasks.Task {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.view.Records()
}

// Get returns the record with the given id, if present.
func (l *TaskList) Get(taskID int64) (tasks.Task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.view.Get(taskID)
}

// Len reports the number of records in the view.
func (l *TaskList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.view.Len()
}

// Subscribed reports whether the change feed is currently live.
func (l *TaskList) Subscribed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subscribed
}

// Add creates a task and places the confirmed row at its position-ordered
// spot. While the feed is subscribed the row's insert echo arrives too;
// folding it in again is an in-place overwrite, so the double application
// is harmless.
func (l *TaskList) Add(ctx context.Context, text string) (tasks.Task, error) {
	record, err := l.client.CreateTask(ctx, text)
	if err != nil {
		return tasks.Task{}, err
	}
	l.mu.Lock()
	l.view.InsertOrdered(record)
	l.mu.Unlock()
	return record, nil
}

// Toggle flips the completion flag. The flip shows in the view
// immediately; a rejected write reloads the authoritative list.
func (l *TaskList) Toggle(ctx context.Context, taskID int64) (tasks.Task, error) {
	l.mu.Lock()
	current, ok := l.view.Get(taskID)
	if !ok {
		l.mu.Unlock()
		return tasks.Task{}, tasks.ErrTaskNotFound
	}
	optimistic := current
	optimistic.Completed = !current.Completed
	l.view.Update(optimistic)
	l.mu.Unlock()

	record, err := l.client.UpdateTask(ctx, taskID, TaskPatch{Completed: &optimistic.Completed})
	if err != nil {
		l.reload(ctx)
		return tasks.Task{}, err
	}
	l.confirm(record)
	return record, nil
}

// Edit rewrites the task's text, optimistically first.
func (l *TaskList) Edit(ctx context.Context, taskID int64, text string) (tasks.Task, error) {
	l.mu.Lock()
	current, ok := l.view.Get(taskID)
	if !ok {
		l.mu.Unlock()
		return tasks.Task{}, tasks.ErrTaskNotFound
	}
	optimistic := current
	optimistic.Text = text
	l.view.Update(optimistic)
	l.mu.Unlock()

	record, err := l.client.UpdateTask(ctx, taskID, TaskPatch{Text: &text})
	if err != nil {
		l.reload(ctx)
		return tasks.Task{}, err
	}
	l.confirm(record)
	return record, nil
}

// Remove deletes the task, optimistically first.
func (l *TaskList) Remove(ctx context.Context, taskID int64) error {
	l.mu.Lock()
	_, ok := l.view.Remove(taskID)
	l.mu.Unlock()
	if !ok {
		return tasks.ErrTaskNotFound
	}

	if _, err := l.client.DeleteTask(ctx, taskID); err != nil {
		l.reload(ctx)
		return err
	}
	return nil
}

// Move splices the record at src to dst, renumbers the view, and pushes
// the whole batch as the new order. Moving a record onto itself performs
// no write.
func (l *TaskList) Move(ctx context.Context, src, dst int) error {
	l.mu.Lock()
	batch, err := l.view.Move(src, dst)
	l.mu.Unlock()
	if err != nil {
		return err
	}
	if batch == nil {
		return nil
	}

	orderedIDs := make([]int64, len(batch))
	for index, record := range batch {
		orderedIDs[index] = record.ID
	}
	if _, err := l.client.ReorderTasks(ctx, orderedIDs); err != nil {
		l.reload(ctx)
		return err
	}
	return nil
}

// HandleEvent folds one pushed change event into the view. Updates whose
// position moved are respliced to their ordered spot; unknown ids stay
// no-ops.
func (l *TaskList) HandleEvent(event tasklist.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if event.Kind == tasklist.EventUpdate {
		if _, known := l.view.Get(event.Task.ID); known {
			l.view.InsertOrdered(event.Task)
		}
		return
	}
	l.view.Apply(event)
}

// HandleState tracks the feed's connection phase.
func (l *TaskList) HandleState(state FeedState) {
	l.mu.Lock()
	l.subscribed = state == FeedSubscribed
	l.mu.Unlock()
}

func (l *TaskList) confirm(record tasks.Task) {
	l.mu.Lock()
	l.view.Update(record)
	l.mu.Unlock()
}

func (l *TaskList) reload(ctx context.Context) {
	if err := l.Load(ctx); err != nil {
		l.logger.Warn("failed to reload task list after rejected write", zap.Error(err))
	}
}
