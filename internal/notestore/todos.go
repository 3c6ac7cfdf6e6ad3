package notestore

import (
	"fmt"
	"strings"
)

// todoPath is the per-space note that collects extracted action items.
const todoPath = "todo.md"

// TodoRecorder appends extracted action items to the space's todo note,
// creating it on first use.
type TodoRecorder struct {
	store *Store
}

// NewTodoRecorder creates a recorder over the given store.
func NewTodoRecorder(s *Store) *TodoRecorder {
	return &TodoRecorder{store: s}
}

// RecordTodos appends the items as unchecked checklist lines.
func (t *TodoRecorder) RecordTodos(space string, todos []string) error {
	if len(todos) == 0 {
		return nil
	}

	var b strings.Builder
	for _, item := range todos {
		fmt.Fprintf(&b, "- [ ] %s\n", item)
	}

	existing, err := t.store.ReadNote(space, todoPath)
	if err != nil {
		return t.store.CreateNote(space, todoPath, b.String())
	}
	if existing != "" && !strings.HasSuffix(existing, "\n") {
		existing += "\n"
	}
	return t.store.EditNote(space, todoPath, "", existing+b.String())
}
