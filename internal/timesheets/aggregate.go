package timesheets

import "sort"

// MoveDirection selects which neighbour a row swaps positions with.
type MoveDirection string

const (
	MoveUp   MoveDirection = "up"
	MoveDown MoveDirection = "down"
)

// Row returns the row with the given ID, or nil.
func (t *Timesheet) Row(rowID int64) *TimesheetRow {
	for i := range t.Rows {
		if t.Rows[i].ID == rowID {
			return &t.Rows[i]
		}
	}
	return nil
}

// RowForItem returns the row referencing the given work item, or nil.
func (t *Timesheet) RowForItem(workItemID int64) *TimesheetRow {
	for i := range t.Rows {
		if t.Rows[i].WorkItemID == workItemID {
			return &t.Rows[i]
		}
	}
	return nil
}

// AddRow appends a row for the work item at the next free position.
// Adding an item that already has a row is a no-op and returns that row.
func (t *Timesheet) AddRow(workItemID int64) *TimesheetRow {
	if row := t.RowForItem(workItemID); row != nil {
		return row
	}
	t.Rows = append(t.Rows, TimesheetRow{
		TimesheetID: t.ID,
		WorkItemID:  workItemID,
		Position:    len(t.Rows) + 1,
	})
	return &t.Rows[len(t.Rows)-1]
}

// RemoveRow deletes the row and renumbers the remainder so positions stay
// a contiguous 1..N sequence. Returns false when the row is unknown.
func (t *Timesheet) RemoveRow(rowID int64) bool {
	for i := range t.Rows {
		if t.Rows[i].ID == rowID {
			t.Rows = append(t.Rows[:i], t.Rows[i+1:]...)
			t.renumber()
			return true
		}
	}
	return false
}

// Move swaps the row with its neighbour in the given direction. Rows at
// either edge stay put. Returns whether a swap happened.
func (t *Timesheet) Move(rowID int64, dir MoveDirection) bool {
	t.sortByPosition()
	for i := range t.Rows {
		if t.Rows[i].ID != rowID {
			continue
		}
		j := i - 1
		if dir == MoveDown {
			j = i + 1
		}
		if j < 0 || j >= len(t.Rows) {
			return false
		}
		t.Rows[i].Position, t.Rows[j].Position = t.Rows[j].Position, t.Rows[i].Position
		t.sortByPosition()
		return true
	}
	return false
}

// ApplyMoves performs a batch of single-step moves in the one order that
// cannot collide: ascending position when moving up, descending when
// moving down.
func (t *Timesheet) ApplyMoves(rowIDs []int64, dir MoveDirection) {
	if len(rowIDs) == 0 {
		return
	}
	selected := make(map[int64]bool, len(rowIDs))
	for _, id := range rowIDs {
		selected[id] = true
	}
	t.sortByPosition()
	ordered := make([]int64, 0, len(rowIDs))
	if dir == MoveUp {
		for i := range t.Rows {
			if selected[t.Rows[i].ID] {
				ordered = append(ordered, t.Rows[i].ID)
			}
		}
	} else {
		for i := len(t.Rows) - 1; i >= 0; i-- {
			if selected[t.Rows[i].ID] {
				ordered = append(ordered, t.Rows[i].ID)
			}
		}
	}
	for _, id := range ordered {
		t.Move(id, dir)
	}
}

// SumForDay totals hours across all rows for one day number. The caller's
// validation layer decides whether the total is acceptable.
func (t *Timesheet) SumForDay(day int) float64 {
	var sum float64
	for i := range t.Rows {
		if e := t.Rows[i].Entry(day); e != nil {
			sum += e.Hours
		}
	}
	return sum
}

// Total sums every entry on the timesheet.
func (t *Timesheet) Total() float64 {
	var sum float64
	for i := range t.Rows {
		sum += t.Rows[i].Total()
	}
	return sum
}

func (t *Timesheet) sortByPosition() {
	sort.SliceStable(t.Rows, func(i, j int) bool {
		return t.Rows[i].Position < t.Rows[j].Position
	})
}

func (t *Timesheet) renumber() {
	t.sortByPosition()
	for i := range t.Rows {
		t.Rows[i].Position = i + 1
	}
}

// Entry returns the row's entry for a day, or nil when no hours are booked.
func (r *TimesheetRow) Entry(day int) *TimeEntry {
	for i := range r.Entries {
		if r.Entries[i].DayNumber == day {
			return &r.Entries[i]
		}
	}
	return nil
}

// SetHours books hours on a day, replacing any existing entry.
func (r *TimesheetRow) SetHours(day int, hours float64) {
	if e := r.Entry(day); e != nil {
		e.Hours = hours
		return
	}
	r.Entries = append(r.Entries, TimeEntry{RowID: r.ID, DayNumber: day, Hours: hours})
}

// ClearEntry removes the entry for a day, if any.
func (r *TimesheetRow) ClearEntry(day int) {
	for i := range r.Entries {
		if r.Entries[i].DayNumber == day {
			r.Entries = append(r.Entries[:i], r.Entries[i+1:]...)
			return
		}
	}
}

// Total sums the row's entries. Value receiver so templates can call it
// on ranged rows.
func (r TimesheetRow) Total() float64 {
	var sum float64
	for i := range r.Entries {
		sum += r.Entries[i].Hours
	}
	return sum
}

// HoursFor returns the hours booked on a day, zero when the cell is empty.
func (r TimesheetRow) HoursFor(day int) float64 {
	for i := range r.Entries {
		if r.Entries[i].DayNumber == day {
			return r.Entries[i].Hours
		}
	}
	return 0
}
