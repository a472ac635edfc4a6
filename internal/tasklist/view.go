// Package tasklist keeps an in-memory ordered view of one owner's tasks.
// The view merges three inputs into a single consistent ordering: bulk
// loads from the store, local mutations applied ahead of their writes, and
// pushed change events. It holds no locks and performs no I/O; callers
// serialize access.
package tasklist

import (
	"errors"
	"fmt"
	"sort"

	"github.com/quayside/daybook/internal/tasks"
)

// ErrIndexOutOfRange reports a move index outside the current view.
var ErrIndexOutOfRange = errors.New("index out of range")

// View is the ordered collection. The zero value is an empty view.
type View struct {
	records []tasks.Task
}

// NewView returns an empty view.
func NewView() *View {
	return &View{}
}

// less orders records the way the store lists them: position ascending,
// newer creation time first within equal positions.
func less(a, b tasks.Task) bool {
	if a.Position != b.Position {
		return a.Position < b.Position
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// Replace discards the current contents and installs the given records,
// sorted into canonical order.
func (v *View) Replace(records []tasks.Task) {
	v.records = make([]tasks.Task, len(records))
	copy(v.records, records)
	sort.SliceStable(v.records, func(i, j int) bool {
		return less(v.records[i], v.records[j])
	})
}

// Apply folds one pushed change event into the view. Inserts prepend; a
// replayed insert for a known id overwrites the stored row instead of
// duplicating it. Updates overwrite in place. Deletes remove. Updates and
// deletes for ids the view has never seen are no-ops.
func (v *View) Apply(event Event) {
	switch event.Kind {
	case EventInsert:
		if index, ok := v.indexOf(event.Task.ID); ok {
			v.records[index] = event.Task
			return
		}
		v.records = append([]tasks.Task{event.Task}, v.records...)
	case EventUpdate:
		if index, ok := v.indexOf(event.Task.ID); ok {
			v.records[index] = event.Task
		}
	case EventDelete:
		if index, ok := v.indexOf(event.Task.ID); ok {
			v.records = append(v.records[:index], v.records[index+1:]...)
		}
	}
}

// InsertOrdered places the record at its canonical position. A record whose
// id is already present is removed first, so the call is also a "reposition".
func (v *View) InsertOrdered(record tasks.Task) {
	if index, ok := v.indexOf(record.ID); ok {
		v.records = append(v.records[:index], v.records[index+1:]...)
	}
	at := sort.Search(len(v.records), func(i int) bool {
		return less(record, v.records[i])
	})
	v.records = append(v.records, tasks.Task{})
	copy(v.records[at+1:], v.records[at:])
	v.records[at] = record
}

// Update overwrites the stored record with the same id. It reports whether
// the id was present; an absent id leaves the view untouched.
func (v *View) Update(record tasks.Task) bool {
	index, ok := v.indexOf(record.ID)
	if !ok {
		return false
	}
	v.records[index] = record
	return true
}

// Remove deletes the record by id and returns the removed row.
func (v *View) Remove(taskID int64) (tasks.Task, bool) {
	index, ok := v.indexOf(taskID)
	if !ok {
		return tasks.Task{}, false
	}
	removed := v.records[index]
	v.records = append(v.records[:index], v.records[index+1:]...)
	return removed, true
}

// Move splices the record at src out of the view, reinserts it at dst, and
// rewrites every record's position to its new index. It returns the full
// batch so the caller can push the rewrite to the store in one write. Moving
// a record onto itself returns a nil batch and performs no write.
func (v *View) Move(src, dst int) ([]tasks.Task, error) {
	length := len(v.records)
	if src < 0 || src >= length {
		return nil, fmt.Errorf("%w: source %d of %d", ErrIndexOutOfRange, src, length)
	}
	if dst < 0 || dst >= length {
		return nil, fmt.Errorf("%w: destination %d of %d", ErrIndexOutOfRange, dst, length)
	}
	if src == dst {
		return nil, nil
	}

	moved := v.records[src]
	v.records = append(v.records[:src], v.records[src+1:]...)
	v.records = append(v.records, tasks.Task{})
	copy(v.records[dst+1:], v.records[dst:])
	v.records[dst] = moved

	for index := range v.records {
		v.records[index].Position = index
	}
	return v.Records(), nil
}

// Records returns a copy of the view in display order.
func (v *View) Records() []tasks.Task {
	out := make([]tasks.Task, len(v.records))
	copy(out, v.records)
	return out
}

// Get returns the record with the given id.
func (v *View) Get(taskID int64) (tasks.Task, bool) {
	index, ok := v.indexOf(taskID)
	if !ok {
		return tasks.Task{}, false
	}
	return v.records[index], true
}

// Len reports the number of records in the view.
func (v *View) Len() int {
	return len(v.records)
}

func (v *View) indexOf(taskID int64) (int, bool) {
	for index, record := range v.records {
		if record.ID == taskID {
			return index, true
		}
	}
	return 0, false
}
