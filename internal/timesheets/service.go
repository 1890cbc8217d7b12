package timesheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/freedayko/redmine-planning/internal/authz"
	"github.com/freedayko/redmine-planning/internal/calweek"
	"github.com/freedayko/redmine-planning/internal/shared"
	"github.com/freedayko/redmine-planning/internal/workitems"
)

// Catalog supplies live work-item state for validation and default rows.
type Catalog interface {
	ItemCatalog
	EligibleForDefaultRows(ctx context.Context, assigneeID int64, today time.Time) ([]workitems.WorkItem, error)
}

// AuditRecorder persists lifecycle audit events.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// EntryError reports one hour field that could not be applied. The field
// is reset to empty and the rest of the batch still goes through.
type EntryError struct {
	RowID   int64
	Day     int
	Raw     string
	Message string
}

// UpdateResult carries the saved timesheet plus any per-entry failures.
type UpdateResult struct {
	Timesheet   *Timesheet
	EntryErrors []EntryError
}

// Service implements the timesheet lifecycle.
type Service struct {
	repo     Repository
	catalog  Catalog
	audit    AuditRecorder
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the timesheet service.
func NewService(repo Repository, catalog Catalog, audit AuditRecorder, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		catalog:  catalog,
		audit:    audit,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// Create opens a draft timesheet for the actor's own week. When
// SeedDefaults is set the rows are pre-populated from the actor's
// eligible work items, ordered by item ID.
func (s *Service) Create(ctx context.Context, actor *authz.Actor, req CreateTimesheetRequest) (*Timesheet, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", errInvalidRequest, err)
	}
	if last := calweek.LastWeekNumber(req.Year); req.WeekNumber > last {
		return nil, ValidationErrors{{Field: "week_number", Message: fmt.Sprintf("Year %d only has %d weeks", req.Year, last)}}
	}

	if _, err := s.repo.FindByOwnerWeek(ctx, actor.ID, req.Year, req.WeekNumber); err == nil {
		return nil, ValidationErrors{{Field: "week_number", Message: fmt.Sprintf("A timesheet for week %d of %d already exists", req.WeekNumber, req.Year)}}
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	ts := &Timesheet{
		OwnerID:     actor.ID,
		Year:        req.Year,
		WeekNumber:  req.WeekNumber,
		Description: strings.TrimSpace(req.Description),
		LockVersion: 1,
	}
	if err := Validate(ctx, ts, s.catalog, s.now()); err != nil {
		return nil, err
	}

	if req.SeedDefaults {
		items, err := s.catalog.EligibleForDefaultRows(ctx, actor.ID, s.now())
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			ts.AddRow(item.ID)
		}
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		id, err := repo.Create(ctx, *ts)
		if err != nil {
			return err
		}
		ts.ID = id
		for i := range ts.Rows {
			ts.Rows[i].TimesheetID = id
			rowID, err := repo.InsertRow(ctx, ts.Rows[i])
			if err != nil {
				return err
			}
			ts.Rows[i].ID = rowID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("timesheet created", "timesheet_id", ts.ID, "owner_id", actor.ID,
		"year", ts.Year, "week", ts.WeekNumber, "rows", len(ts.Rows))
	return ts, nil
}

// Get loads a timesheet the actor is allowed to see. Non-admins only see
// their own sheets.
func (s *Service) Get(ctx context.Context, actor *authz.Actor, id int64) (*Timesheet, error) {
	ts, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin && ts.OwnerID != actor.ID {
		return nil, shared.ErrNotPermitted
	}
	return ts, nil
}

// List returns the timesheet index. Non-admins are restricted to their
// own sheets regardless of the requested filter.
func (s *Service) List(ctx context.Context, actor *authz.Actor, req ListTimesheetsRequest) ([]TimesheetWithOwner, int, error) {
	if !actor.IsAdmin {
		req.OwnerID = &actor.ID
	}
	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 25
	}
	if req.Offset < 0 {
		req.Offset = 0
	}
	return s.repo.List(ctx, req)
}

// Update applies a batch edit to a draft timesheet: row removals, moves,
// hour edits, and new rows, in that order. The whole batch is persisted
// in one transaction guarded by the lock version; a stale BaseVersion
// rejects everything. Individual hour fields that fail to parse are reset
// to empty and reported, without sinking the rest of the batch.
func (s *Service) Update(ctx context.Context, actor *authz.Actor, id int64, req UpdateTimesheetRequest) (*UpdateResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", errInvalidRequest, err)
	}

	ts, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !authz.CanModify(actor, ts.OwnerID, ts.Committed) {
		return nil, shared.ErrNotPermitted
	}

	if req.Description != nil {
		ts.Description = strings.TrimSpace(*req.Description)
	}
	for _, rowID := range req.RemoveRowIDs {
		ts.RemoveRow(rowID)
	}
	ts.ApplyMoves(req.MoveUpRowIDs, MoveUp)
	ts.ApplyMoves(req.MoveDownRowIDs, MoveDown)

	entryErrors := s.applyEntryEdits(ts, req.Entries)

	for _, itemID := range req.AddWorkItemIDs {
		ts.AddRow(itemID)
	}

	if err := Validate(ctx, ts, s.catalog, s.now()); err != nil {
		return nil, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		newVersion, err := repo.BumpVersion(ctx, ts.ID, req.BaseVersion)
		if err != nil {
			return err
		}
		ts.LockVersion = newVersion

		if req.Description != nil {
			if err := repo.UpdateDescription(ctx, ts.ID, ts.Description); err != nil {
				return err
			}
		}

		keep := make([]int64, 0, len(ts.Rows))
		for i := range ts.Rows {
			if ts.Rows[i].ID != 0 {
				keep = append(keep, ts.Rows[i].ID)
			}
		}
		if err := repo.DeleteRowsExcept(ctx, ts.ID, keep); err != nil {
			return err
		}

		for i := range ts.Rows {
			row := &ts.Rows[i]
			if row.ID == 0 {
				row.TimesheetID = ts.ID
				rowID, err := repo.InsertRow(ctx, *row)
				if err != nil {
					return err
				}
				row.ID = rowID
				for j := range row.Entries {
					row.Entries[j].RowID = rowID
				}
			} else if err := repo.UpdateRowPosition(ctx, row.ID, row.Position); err != nil {
				return err
			}
			if err := repo.ReplaceEntries(ctx, row.ID, row.Entries); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("timesheet updated", "timesheet_id", ts.ID, "actor_id", actor.ID,
		"lock_version", ts.LockVersion, "entry_errors", len(entryErrors))
	return &UpdateResult{Timesheet: ts, EntryErrors: entryErrors}, nil
}

// applyEntryEdits parses each raw hour value and books it on its row.
// Blank values clear the entry. Malformed or negative values reset the
// field to empty and are collected for the caller to display.
func (s *Service) applyEntryEdits(ts *Timesheet, edits []EntryEdit) []EntryError {
	var entryErrors []EntryError
	for _, edit := range edits {
		row := ts.Row(edit.RowID)
		if row == nil || edit.Day < 0 || edit.Day > 6 {
			continue
		}
		raw := strings.TrimSpace(edit.Raw)
		if raw == "" {
			row.ClearEntry(edit.Day)
			continue
		}
		hours, err := parseHours(raw)
		switch {
		case err != nil:
			row.ClearEntry(edit.Day)
			entryErrors = append(entryErrors, EntryError{
				RowID: edit.RowID, Day: edit.Day, Raw: edit.Raw,
				Message: fmt.Sprintf("%s: %q is not a valid hour value", calweek.DayName(edit.Day), edit.Raw),
			})
		case hours < 0:
			row.ClearEntry(edit.Day)
			entryErrors = append(entryErrors, EntryError{
				RowID: edit.RowID, Day: edit.Day, Raw: edit.Raw,
				Message: fmt.Sprintf("%s: Hours must not be negative", calweek.DayName(edit.Day)),
			})
		case hours == 0:
			row.ClearEntry(edit.Day)
		default:
			row.SetHours(edit.Day, hours)
		}
	}
	return entryErrors
}

// Commit freezes the timesheet. Validation gates the transition unless
// the actor is an administrator. Committing an already committed sheet is
// a no-op; committed_at keeps its original stamp either way.
func (s *Service) Commit(ctx context.Context, actor *authz.Actor, id int64) (*Timesheet, error) {
	ts, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin && ts.OwnerID != actor.ID {
		return nil, shared.ErrNotPermitted
	}
	if ts.Committed {
		return ts, nil
	}

	if !actor.IsAdmin {
		if err := Validate(ctx, ts, s.catalog, s.now()); err != nil {
			return nil, err
		}
	}

	at := s.now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.MarkCommitted(ctx, ts.ID, at); err != nil {
			return err
		}
		return repo.TouchOwnerLastCommitted(ctx, ts.OwnerID, at)
	})
	if err != nil {
		return nil, err
	}
	ts.Committed = true
	if ts.CommittedAt == nil {
		ts.CommittedAt = &at
	}

	s.recordAudit(ctx, actor, shared.AuditActionCommit, ts, map[string]any{"total_hours": ts.Total()})
	s.logger.Info("timesheet committed", "timesheet_id", ts.ID, "actor_id", actor.ID,
		"year", ts.Year, "week", ts.WeekNumber)
	return ts, nil
}

// Reopen flips a committed timesheet back to draft. Administrators only.
func (s *Service) Reopen(ctx context.Context, actor *authz.Actor, id int64) (*Timesheet, error) {
	if !actor.IsAdmin {
		return nil, shared.ErrNotPermitted
	}
	ts, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ts.Committed {
		return ts, nil
	}
	if err := s.repo.MarkDraft(ctx, ts.ID); err != nil {
		return nil, err
	}
	ts.Committed = false

	s.recordAudit(ctx, actor, shared.AuditActionReopen, ts, nil)
	s.logger.Info("timesheet reopened", "timesheet_id", ts.ID, "actor_id", actor.ID)
	return ts, nil
}

// Delete removes a timesheet with its rows and entries. Owners may delete
// their own drafts; administrators may delete anything.
func (s *Service) Delete(ctx context.Context, actor *authz.Actor, id int64) error {
	ts, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !authz.CanModify(actor, ts.OwnerID, ts.Committed) {
		return shared.ErrNotPermitted
	}
	if err := s.repo.Delete(ctx, ts.ID); err != nil {
		return err
	}

	s.recordAudit(ctx, actor, shared.AuditActionDelete, ts, map[string]any{"year": ts.Year, "week": ts.WeekNumber})
	s.logger.Info("timesheet deleted", "timesheet_id", ts.ID, "actor_id", actor.ID)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actor *authz.Actor, action string, ts *Timesheet, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "timesheet",
		EntityID: strconv.FormatInt(ts.ID, 10),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Error("audit record failed", "action", action, "timesheet_id", ts.ID, "error", err)
	}
}

var errInvalidRequest = errors.New("invalid request")

// parseHours accepts a plain decimal ("7.5") or an hours:minutes form
// ("7:30"). Commas are treated as decimal points.
func parseHours(raw string) (float64, error) {
	raw = strings.ReplaceAll(raw, ",", ".")
	if i := strings.IndexByte(raw, ':'); i >= 0 {
		h, err := strconv.Atoi(raw[:i])
		if err != nil {
			return 0, err
		}
		m, err := strconv.Atoi(raw[i+1:])
		if err != nil {
			return 0, err
		}
		if m < 0 || m > 59 {
			return 0, fmt.Errorf("minutes out of range: %d", m)
		}
		sign := 1.0
		if h < 0 {
			sign = -1
			h = -h
		}
		return sign * (float64(h) + float64(m)/60), nil
	}
	return strconv.ParseFloat(raw, 64)
}
