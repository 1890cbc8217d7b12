package timesheets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/freedayko/redmine-planning/internal/calweek"
	"github.com/freedayko/redmine-planning/internal/shared"
	"github.com/freedayko/redmine-planning/internal/workitems"
)

const maxHoursPerDay = 24.0

// Year range accepted relative to the current year.
const (
	yearsBack    = 10
	yearsForward = 2
)

// FieldError is one human-readable validation message tied to a field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationErrors aggregates every rule the timesheet broke. The
// timesheet is not persisted while this is non-empty.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, fe := range v {
		msgs[i] = fe.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Messages returns the human-readable messages for rendering.
func (v ValidationErrors) Messages() []string {
	msgs := make([]string, len(v))
	for i, fe := range v {
		msgs[i] = fe.Message
	}
	return msgs
}

// AsValidationErrors unwraps err into ValidationErrors when possible.
func AsValidationErrors(err error) (ValidationErrors, bool) {
	var verrs ValidationErrors
	if errors.As(err, &verrs) {
		return verrs, true
	}
	return nil, false
}

// ItemCatalog is the live work-item lookup consulted at validation time.
// Item state is re-read on every validation, never cached on the entity.
type ItemCatalog interface {
	Get(ctx context.Context, id int64) (*workitems.WorkItem, error)
}

// Validate checks every persistence rule for the timesheet: week and year
// ranges, the 24-hour-per-day cap, non-negative hours, and that every
// referenced work item is still active. A closed item fails validation
// with a message naming the item instead of silently dropping the row.
func Validate(ctx context.Context, ts *Timesheet, catalog ItemCatalog, now time.Time) error {
	var verrs ValidationErrors

	if ts.WeekNumber < 1 || ts.WeekNumber > 53 {
		verrs = append(verrs, FieldError{Field: "week_number", Message: fmt.Sprintf("Week %d is outside the valid range 1..53", ts.WeekNumber)})
	}
	minYear, maxYear := now.Year()-yearsBack, now.Year()+yearsForward
	if ts.Year < minYear || ts.Year > maxYear {
		verrs = append(verrs, FieldError{Field: "year", Message: fmt.Sprintf("Year %d is outside the valid range %d..%d", ts.Year, minYear, maxYear)})
	}

	for i := range ts.Rows {
		for _, entry := range ts.Rows[i].Entries {
			if entry.DayNumber < 0 || entry.DayNumber > 6 {
				verrs = append(verrs, FieldError{Field: "day_number", Message: fmt.Sprintf("Day %d is outside the valid range 0..6", entry.DayNumber)})
			}
			if entry.Hours < 0 {
				verrs = append(verrs, FieldError{Field: "hours", Message: fmt.Sprintf("%s: Hours must not be negative", calweek.DayName(entry.DayNumber))})
			}
		}
	}

	for day := 0; day <= 6; day++ {
		if ts.SumForDay(day) > maxHoursPerDay {
			verrs = append(verrs, FieldError{Field: "hours", Message: fmt.Sprintf("%s: Cannot exceed 24 hours per day", calweek.DayName(day))})
		}
	}

	for i := range ts.Rows {
		row := &ts.Rows[i]
		item, err := catalog.Get(ctx, row.WorkItemID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				verrs = append(verrs, FieldError{Field: "rows", Message: fmt.Sprintf("Work item #%d no longer exists", row.WorkItemID)})
				continue
			}
			return err
		}
		if !item.Active() {
			verrs = append(verrs, FieldError{Field: "rows", Message: fmt.Sprintf("Work item #%d (%s) is closed and can no longer receive hours", item.ID, item.Subject)})
		}
	}

	if len(verrs) > 0 {
		return verrs
	}
	return nil
}
