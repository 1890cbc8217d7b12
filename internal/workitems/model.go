package workitems

import "time"

// Status enumerates work-item lifecycle states.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// WorkItem is an externally trackable task that timesheet rows reference.
// Timesheets never own work items; the reference is lookup-only.
type WorkItem struct {
	ID         int64      `json:"id" db:"id"`
	Subject    string     `json:"subject" db:"subject"`
	Status     Status     `json:"status" db:"status"`
	StartDate  *time.Time `json:"start_date,omitempty" db:"start_date"`
	DueDate    *time.Time `json:"due_date,omitempty" db:"due_date"`
	AssigneeID *int64     `json:"assignee_id,omitempty" db:"assignee_id"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// Active reports whether the item may still collect hours.
func (w WorkItem) Active() bool {
	return w.Status == StatusOpen
}
