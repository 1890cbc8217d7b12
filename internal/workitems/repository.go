package workitems

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/freedayko/redmine-planning/internal/shared"
)

// Repository defines catalog lookups used by the timesheet flows.
type Repository interface {
	Get(ctx context.Context, id int64) (*WorkItem, error)
	GetMany(ctx context.Context, ids []int64) (map[int64]*WorkItem, error)
	List(ctx context.Context, onlyOpen bool) ([]WorkItem, error)
	// ListEligible returns items suitable as default rows for a new
	// timesheet: start date unset or not in the future, and due date unset
	// or no further than seven days in the past.
	ListEligible(ctx context.Context, assigneeID int64, today time.Time) ([]WorkItem, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const itemColumns = `id, subject, status, start_date, due_date, assignee_id, created_at, updated_at`

func (r *repository) Get(ctx context.Context, id int64) (*WorkItem, error) {
	item, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM work_items WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

func (r *repository) GetMany(ctx context.Context, ids []int64) (map[int64]*WorkItem, error) {
	result := make(map[int64]*WorkItem, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM work_items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		result[item.ID] = item
	}
	return result, rows.Err()
}

func (r *repository) List(ctx context.Context, onlyOpen bool) ([]WorkItem, error) {
	query := `SELECT ` + itemColumns + ` FROM work_items ORDER BY id`
	if onlyOpen {
		query = `SELECT ` + itemColumns + ` FROM work_items WHERE status = 'OPEN' ORDER BY id`
	}
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

func (r *repository) ListEligible(ctx context.Context, assigneeID int64, today time.Time) ([]WorkItem, error) {
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM work_items
WHERE status = 'OPEN'
  AND assignee_id = $1
  AND (start_date IS NULL OR start_date <= $2)
  AND (due_date IS NULL OR due_date >= $3)
ORDER BY id`, assigneeID, day, day.AddDate(0, 0, -7))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

func collectItems(rows pgx.Rows) ([]WorkItem, error) {
	var items []WorkItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func scanItem(row pgx.Row) (*WorkItem, error) {
	var (
		item       WorkItem
		startDate  pgtype.Date
		dueDate    pgtype.Date
		assigneeID pgtype.Int8
		createdAt  pgtype.Timestamptz
		updatedAt  pgtype.Timestamptz
	)
	if err := row.Scan(&item.ID, &item.Subject, &item.Status, &startDate, &dueDate, &assigneeID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if startDate.Valid {
		t := startDate.Time
		item.StartDate = &t
	}
	if dueDate.Valid {
		t := dueDate.Time
		item.DueDate = &t
	}
	if assigneeID.Valid {
		v := assigneeID.Int64
		item.AssigneeID = &v
	}
	item.CreatedAt = createdAt.Time
	item.UpdatedAt = updatedAt.Time
	return &item, nil
}
