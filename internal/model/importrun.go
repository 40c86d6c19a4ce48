package model

import "time"

// ImportStatus represents the state of an import run.
type ImportStatus string

const (
	ImportStatusRunning  ImportStatus = "running"
	ImportStatusComplete ImportStatus = "complete"
	ImportStatusPartial  ImportStatus = "partial"
	ImportStatusFailed   ImportStatus = "failed"
)

// ImportResult holds the counters of one import call. NewBindings counts
// bindings created or changed; UpdatedBindings is the changed subset.
type ImportResult struct {
	Rows            int `json:"rows"`
	NewVariables    int `json:"new_variables"`
	NewBindings     int `json:"new_bindings"`
	UpdatedBindings int `json:"updated_bindings"`
}

// Add accumulates o into r.
func (r *ImportResult) Add(o ImportResult) {
	r.Rows += o.Rows
	r.NewVariables += o.NewVariables
	r.NewBindings += o.NewBindings
	r.UpdatedBindings += o.UpdatedBindings
}

// ImportRun is a row of the import_runs log.
type ImportRun struct {
	ID          string       `json:"id"`
	Source      string       `json:"source"`
	Status      ImportStatus `json:"status"`
	Result      ImportResult `json:"result"`
	Error       string       `json:"error,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}
