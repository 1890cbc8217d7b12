package timesheets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/freedayko/redmine-planning/internal/platform/db"
	"github.com/freedayko/redmine-planning/internal/shared"
)

// Repository defines persistence for timesheets, rows, and entries.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id int64) (*Timesheet, error)
	FindByOwnerWeek(ctx context.Context, ownerID int64, year, week int) (*Timesheet, error)
	List(ctx context.Context, req ListTimesheetsRequest) ([]TimesheetWithOwner, int, error)
	Create(ctx context.Context, ts Timesheet) (int64, error)
	// BumpVersion is the optimistic-lock gate: it increments lock_version
	// only when baseVersion still matches, returning shared.ErrStaleVersion
	// otherwise. Callers run it as the first statement of an update tx so a
	// conflict aborts before any mutation.
	BumpVersion(ctx context.Context, id, baseVersion int64) (int64, error)
	UpdateDescription(ctx context.Context, id int64, description string) error
	MarkCommitted(ctx context.Context, id int64, at time.Time) error
	// TouchOwnerLastCommitted stamps the owner's account-level marker. It
	// runs on the same connection as the caller, so inside WithTx it joins
	// the commit transaction instead of autocommitting on the pool.
	TouchOwnerLastCommitted(ctx context.Context, ownerID int64, at time.Time) error
	MarkDraft(ctx context.Context, id int64) error
	InsertRow(ctx context.Context, row TimesheetRow) (int64, error)
	UpdateRowPosition(ctx context.Context, rowID int64, position int) error
	DeleteRow(ctx context.Context, rowID int64) error
	DeleteRowsExcept(ctx context.Context, timesheetID int64, keepRowIDs []int64) error
	ReplaceEntries(ctx context.Context, rowID int64, entries []TimeEntry) error
	Delete(ctx context.Context, id int64) error
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const timesheetColumns = `id, owner_id, year, week_number, committed, committed_at, description, lock_version, created_at, updated_at`

func (r *repository) Get(ctx context.Context, id int64) (*Timesheet, error) {
	ts, err := r.scanTimesheet(r.db.QueryRow(ctx, `SELECT `+timesheetColumns+` FROM timesheets WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	ts.Rows, err = r.loadRows(ctx, ts.ID)
	if err != nil {
		return nil, err
	}
	return ts, nil
}

func (r *repository) FindByOwnerWeek(ctx context.Context, ownerID int64, year, week int) (*Timesheet, error) {
	ts, err := r.scanTimesheet(r.db.QueryRow(ctx,
		`SELECT `+timesheetColumns+` FROM timesheets WHERE owner_id = $1 AND year = $2 AND week_number = $3`,
		ownerID, year, week))
	if err != nil {
		return nil, err
	}
	ts.Rows, err = r.loadRows(ctx, ts.ID)
	if err != nil {
		return nil, err
	}
	return ts, nil
}

func (r *repository) List(ctx context.Context, req ListTimesheetsRequest) ([]TimesheetWithOwner, int, error) {
	conditions := []string{"TRUE"}
	var args []interface{}
	argPos := 1

	if req.OwnerID != nil {
		conditions = append(conditions, fmt.Sprintf("t.owner_id = $%d", argPos))
		args = append(args, *req.OwnerID)
		argPos++
	}
	if req.Year != nil {
		conditions = append(conditions, fmt.Sprintf("t.year = $%d", argPos))
		args = append(args, *req.Year)
		argPos++
	}
	if req.Committed != nil {
		conditions = append(conditions, fmt.Sprintf("t.committed = $%d", argPos))
		args = append(args, *req.Committed)
		argPos++
	}

	whereClause := "WHERE " + conditions[0]
	for i := 1; i < len(conditions); i++ {
		whereClause += " AND " + conditions[i]
	}

	var total int
	if err := r.db.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM timesheets t %s", whereClause), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT t.id, t.owner_id, t.year, t.week_number, t.committed, t.committed_at,
		       t.description, t.lock_version, t.created_at, t.updated_at,
		       u.full_name AS owner_name
		FROM timesheets t
		JOIN users u ON t.owner_id = u.id
		%s
		ORDER BY t.year DESC, t.week_number DESC, t.id DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argPos, argPos+1)
	args = append(args, req.Limit, req.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sheets []TimesheetWithOwner
	for rows.Next() {
		var (
			s           TimesheetWithOwner
			committedAt pgtype.Timestamptz
			createdAt   pgtype.Timestamptz
			updatedAt   pgtype.Timestamptz
		)
		err := rows.Scan(&s.ID, &s.OwnerID, &s.Year, &s.WeekNumber, &s.Committed, &committedAt,
			&s.Description, &s.LockVersion, &createdAt, &updatedAt, &s.OwnerName)
		if err != nil {
			return nil, 0, err
		}
		if committedAt.Valid {
			t := committedAt.Time
			s.CommittedAt = &t
		}
		s.CreatedAt = createdAt.Time
		s.UpdatedAt = updatedAt.Time
		sheets = append(sheets, s)
	}

	return sheets, total, rows.Err()
}

func (r *repository) Create(ctx context.Context, ts Timesheet) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO timesheets (owner_id, year, week_number, committed, description, lock_version, created_at, updated_at)
		VALUES ($1, $2, $3, FALSE, $4, 1, NOW(), NOW())
		RETURNING id
	`, ts.OwnerID, ts.Year, ts.WeekNumber, ts.Description).Scan(&id)
	return id, err
}

func (r *repository) BumpVersion(ctx context.Context, id, baseVersion int64) (int64, error) {
	var newVersion int64
	err := r.db.QueryRow(ctx, `
		UPDATE timesheets SET lock_version = lock_version + 1, updated_at = NOW()
		WHERE id = $1 AND lock_version = $2
		RETURNING lock_version
	`, id, baseVersion).Scan(&newVersion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the record vanished or someone updated it first.
			if _, getErr := r.scanTimesheet(r.db.QueryRow(ctx, `SELECT `+timesheetColumns+` FROM timesheets WHERE id = $1`, id)); getErr != nil {
				return 0, getErr
			}
			return 0, shared.ErrStaleVersion
		}
		return 0, err
	}
	return newVersion, nil
}

func (r *repository) UpdateDescription(ctx context.Context, id int64, description string) error {
	_, err := r.db.Exec(ctx, `UPDATE timesheets SET description = $2, updated_at = NOW() WHERE id = $1`, id, description)
	return err
}

func (r *repository) MarkCommitted(ctx context.Context, id int64, at time.Time) error {
	// committed_at is stamped only on the first transition to committed.
	_, err := r.db.Exec(ctx, `
		UPDATE timesheets SET committed = TRUE, committed_at = COALESCE(committed_at, $2), updated_at = NOW()
		WHERE id = $1
	`, id, at.UTC())
	return err
}

func (r *repository) TouchOwnerLastCommitted(ctx context.Context, ownerID int64, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET last_committed_at = $2, updated_at = NOW() WHERE id = $1`, ownerID, at.UTC())
	return err
}

func (r *repository) MarkDraft(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `UPDATE timesheets SET committed = FALSE, updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *repository) InsertRow(ctx context.Context, row TimesheetRow) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO timesheet_rows (timesheet_id, work_item_id, position)
		VALUES ($1, $2, $3)
		RETURNING id
	`, row.TimesheetID, row.WorkItemID, row.Position).Scan(&id)
	return id, err
}

func (r *repository) UpdateRowPosition(ctx context.Context, rowID int64, position int) error {
	_, err := r.db.Exec(ctx, `UPDATE timesheet_rows SET position = $2 WHERE id = $1`, rowID, position)
	return err
}

func (r *repository) DeleteRow(ctx context.Context, rowID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM timesheet_rows WHERE id = $1`, rowID)
	return err
}

func (r *repository) DeleteRowsExcept(ctx context.Context, timesheetID int64, keepRowIDs []int64) error {
	if len(keepRowIDs) == 0 {
		_, err := r.db.Exec(ctx, `DELETE FROM timesheet_rows WHERE timesheet_id = $1`, timesheetID)
		return err
	}
	_, err := r.db.Exec(ctx, `DELETE FROM timesheet_rows WHERE timesheet_id = $1 AND NOT (id = ANY($2))`, timesheetID, keepRowIDs)
	return err
}

func (r *repository) ReplaceEntries(ctx context.Context, rowID int64, entries []TimeEntry) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM time_entries WHERE row_id = $1`, rowID); err != nil {
		return err
	}
	for _, entry := range entries {
		_, err := r.db.Exec(ctx, `INSERT INTO time_entries (row_id, day_number, hours) VALUES ($1, $2, $3)`,
			rowID, entry.DayNumber, entry.Hours)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	// Rows and entries cascade via foreign keys.
	tag, err := r.db.Exec(ctx, `DELETE FROM timesheets WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) loadRows(ctx context.Context, timesheetID int64) ([]TimesheetRow, error) {
	rowsResult, err := r.db.Query(ctx, `
		SELECT id, timesheet_id, work_item_id, position
		FROM timesheet_rows WHERE timesheet_id = $1 ORDER BY position
	`, timesheetID)
	if err != nil {
		return nil, err
	}
	defer rowsResult.Close()

	var rows []TimesheetRow
	for rowsResult.Next() {
		var row TimesheetRow
		if err := rowsResult.Scan(&row.ID, &row.TimesheetID, &row.WorkItemID, &row.Position); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	if err := rowsResult.Err(); err != nil {
		return nil, err
	}

	for i := range rows {
		entries, err := r.loadEntries(ctx, rows[i].ID)
		if err != nil {
			return nil, err
		}
		rows[i].Entries = entries
	}
	return rows, nil
}

func (r *repository) loadEntries(ctx context.Context, rowID int64) ([]TimeEntry, error) {
	result, err := r.db.Query(ctx, `
		SELECT id, row_id, day_number, hours
		FROM time_entries WHERE row_id = $1 ORDER BY day_number
	`, rowID)
	if err != nil {
		return nil, err
	}
	defer result.Close()

	var entries []TimeEntry
	for result.Next() {
		var (
			entry TimeEntry
			hours pgtype.Numeric
		)
		if err := result.Scan(&entry.ID, &entry.RowID, &entry.DayNumber, &hours); err != nil {
			return nil, err
		}
		if hours.Valid {
			f, _ := hours.Float64Value()
			entry.Hours = f.Float64
		}
		entries = append(entries, entry)
	}
	return entries, result.Err()
}

func (r *repository) scanTimesheet(row pgx.Row) (*Timesheet, error) {
	var (
		ts          Timesheet
		committedAt pgtype.Timestamptz
		createdAt   pgtype.Timestamptz
		updatedAt   pgtype.Timestamptz
	)
	err := row.Scan(&ts.ID, &ts.OwnerID, &ts.Year, &ts.WeekNumber, &ts.Committed, &committedAt,
		&ts.Description, &ts.LockVersion, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	if committedAt.Valid {
		t := committedAt.Time
		ts.CommittedAt = &t
	}
	ts.CreatedAt = createdAt.Time
	ts.UpdatedAt = updatedAt.Time
	return &ts, nil
}
