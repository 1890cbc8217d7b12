package workitems

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

// Service exposes catalog queries to the timesheet flows.
type Service struct {
	repo Repository

	// eligibility lookups fan out from every new-timesheet form render;
	// concurrent identical queries collapse into one database round trip.
	group singleflight.Group
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Get fetches a single work item.
func (s *Service) Get(ctx context.Context, id int64) (*WorkItem, error) {
	return s.repo.Get(ctx, id)
}

// GetMany fetches a batch of work items keyed by ID.
func (s *Service) GetMany(ctx context.Context, ids []int64) (map[int64]*WorkItem, error) {
	return s.repo.GetMany(ctx, ids)
}

// List returns catalog items, optionally restricted to open ones.
func (s *Service) List(ctx context.Context, onlyOpen bool) ([]WorkItem, error) {
	return s.repo.List(ctx, onlyOpen)
}

// IsActive reports whether the item exists and is still open. Evaluated
// live at validation time; results are never cached inside entities.
func (s *Service) IsActive(ctx context.Context, id int64) (bool, error) {
	item, err := s.repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return item.Active(), nil
}

// EligibleForDefaultRows returns the items seeding a new timesheet's rows.
func (s *Service) EligibleForDefaultRows(ctx context.Context, assigneeID int64, today time.Time) ([]WorkItem, error) {
	key := fmt.Sprintf("eligible:%d:%s", assigneeID, today.Format("2006-01-02"))
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.repo.ListEligible(ctx, assigneeID, today)
	})
	if err != nil {
		return nil, err
	}
	return v.([]WorkItem), nil
}
