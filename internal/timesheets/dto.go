package timesheets

// CreateTimesheetRequest opens a new weekly timesheet.
type CreateTimesheetRequest struct {
	Year        int    `json:"year" validate:"required"`
	WeekNumber  int    `json:"week_number" validate:"required,gte=1,lte=53"`
	Description string `json:"description" validate:"max=2000"`
	// SeedDefaults pre-populates rows from the caller's eligible work items.
	SeedDefaults bool `json:"seed_defaults"`
}

// EntryEdit carries one raw hour value from the edit grid. The value is
// parsed per entry so one malformed field never sinks the whole request.
type EntryEdit struct {
	RowID int64  `json:"row_id"`
	Day   int    `json:"day"`
	Raw   string `json:"raw"`
}

// UpdateTimesheetRequest applies a batch edit to a draft timesheet.
// BaseVersion must match the stored lock version or the update is
// rejected wholesale.
type UpdateTimesheetRequest struct {
	BaseVersion    int64       `json:"base_version" validate:"required,gte=1"`
	Description    *string     `json:"description,omitempty"`
	Entries        []EntryEdit `json:"entries,omitempty"`
	AddWorkItemIDs []int64     `json:"add_work_item_ids,omitempty"`
	RemoveRowIDs   []int64     `json:"remove_row_ids,omitempty"`
	MoveUpRowIDs   []int64     `json:"move_up_row_ids,omitempty"`
	MoveDownRowIDs []int64     `json:"move_down_row_ids,omitempty"`
}

// ListTimesheetsRequest filters the timesheet index.
type ListTimesheetsRequest struct {
	OwnerID   *int64 `json:"owner_id,omitempty"`
	Year      *int   `json:"year,omitempty"`
	Committed *bool  `json:"committed,omitempty"`
	Limit     int    `json:"limit" validate:"gte=0,lte=1000"`
	Offset    int    `json:"offset" validate:"gte=0"`
}
