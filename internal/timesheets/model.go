package timesheets

import "time"

// Timesheet records one owner's hours for a single commercial week.
// At most one timesheet exists per (owner, year, week). Once committed it
// is immutable for everyone except administrators.
type Timesheet struct {
	ID          int64      `json:"id" db:"id"`
	OwnerID     int64      `json:"owner_id" db:"owner_id"`
	Year        int        `json:"year" db:"year"`
	WeekNumber  int        `json:"week_number" db:"week_number"`
	Committed   bool       `json:"committed" db:"committed"`
	CommittedAt *time.Time `json:"committed_at,omitempty" db:"committed_at"`
	Description string     `json:"description" db:"description"`
	// LockVersion increases on every accepted update; callers must present
	// the version they last read or the whole update is rejected.
	LockVersion int64          `json:"lock_version" db:"lock_version"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
	Rows        []TimesheetRow `json:"rows,omitempty" db:"-"`
}

// TimesheetRow ties one work item to a timesheet. Positions are 1-based
// and contiguous within the timesheet; no work item appears twice.
type TimesheetRow struct {
	ID          int64       `json:"id" db:"id"`
	TimesheetID int64       `json:"timesheet_id" db:"timesheet_id"`
	WorkItemID  int64       `json:"work_item_id" db:"work_item_id"`
	Position    int         `json:"position" db:"position"`
	Entries     []TimeEntry `json:"entries,omitempty" db:"-"`
}

// TimeEntry holds the hours booked on one day of a row. Day numbers run
// 1..6 for Monday..Saturday with 0 for the Sunday closing the week.
type TimeEntry struct {
	ID        int64   `json:"id" db:"id"`
	RowID     int64   `json:"row_id" db:"row_id"`
	DayNumber int     `json:"day_number" db:"day_number"`
	Hours     float64 `json:"hours" db:"hours"`
}

// TimesheetWithOwner decorates a listing row with the owner's name.
type TimesheetWithOwner struct {
	Timesheet
	OwnerName string `json:"owner_name" db:"owner_name"`
}
