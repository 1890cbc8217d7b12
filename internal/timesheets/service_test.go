package timesheets

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freedayko/redmine-planning/internal/authz"
	"github.com/freedayko/redmine-planning/internal/shared"
	"github.com/freedayko/redmine-planning/internal/workitems"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockTSRepo struct {
	sheets      map[int64]*Timesheet
	nextID      int64
	nextRowID   int64
	nextEntryID int64

	// Owner markers written through the transaction.
	touched []int64

	// Error injection
	txErr    error
	touchErr error
}

func newMockTSRepo() *mockTSRepo {
	return &mockTSRepo{
		sheets:      make(map[int64]*Timesheet),
		nextID:      1,
		nextRowID:   100,
		nextEntryID: 1000,
	}
}

func copySheet(ts *Timesheet) *Timesheet {
	cp := *ts
	cp.Rows = make([]TimesheetRow, len(ts.Rows))
	for i, row := range ts.Rows {
		cp.Rows[i] = row
		cp.Rows[i].Entries = append([]TimeEntry(nil), row.Entries...)
	}
	return &cp
}

func (m *mockTSRepo) seed(ts Timesheet) *Timesheet {
	if ts.ID == 0 {
		ts.ID = m.nextID
		m.nextID++
	}
	for i := range ts.Rows {
		if ts.Rows[i].ID == 0 {
			ts.Rows[i].ID = m.nextRowID
			m.nextRowID++
		}
		ts.Rows[i].TimesheetID = ts.ID
	}
	m.sheets[ts.ID] = copySheet(&ts)
	return m.sheets[ts.ID]
}

func (m *mockTSRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if m.txErr != nil {
		return m.txErr
	}
	snapshot := make(map[int64]*Timesheet, len(m.sheets))
	for id, ts := range m.sheets {
		snapshot[id] = copySheet(ts)
	}
	touchedSnapshot := append([]int64(nil), m.touched...)
	if err := fn(ctx, m); err != nil {
		m.sheets = snapshot
		m.touched = touchedSnapshot
		return err
	}
	return nil
}

func (m *mockTSRepo) Get(ctx context.Context, id int64) (*Timesheet, error) {
	ts, ok := m.sheets[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := copySheet(ts)
	cp.sortByPosition()
	return cp, nil
}

func (m *mockTSRepo) FindByOwnerWeek(ctx context.Context, ownerID int64, year, week int) (*Timesheet, error) {
	for _, ts := range m.sheets {
		if ts.OwnerID == ownerID && ts.Year == year && ts.WeekNumber == week {
			return copySheet(ts), nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *mockTSRepo) List(ctx context.Context, req ListTimesheetsRequest) ([]TimesheetWithOwner, int, error) {
	var out []TimesheetWithOwner
	for _, ts := range m.sheets {
		if req.OwnerID != nil && ts.OwnerID != *req.OwnerID {
			continue
		}
		if req.Year != nil && ts.Year != *req.Year {
			continue
		}
		if req.Committed != nil && ts.Committed != *req.Committed {
			continue
		}
		out = append(out, TimesheetWithOwner{Timesheet: *copySheet(ts)})
	}
	return out, len(out), nil
}

func (m *mockTSRepo) Create(ctx context.Context, ts Timesheet) (int64, error) {
	id := m.nextID
	m.nextID++
	ts.ID = id
	ts.Rows = nil
	m.sheets[id] = &ts
	return id, nil
}

func (m *mockTSRepo) BumpVersion(ctx context.Context, id, baseVersion int64) (int64, error) {
	ts, ok := m.sheets[id]
	if !ok {
		return 0, shared.ErrNotFound
	}
	if ts.LockVersion != baseVersion {
		return 0, shared.ErrStaleVersion
	}
	ts.LockVersion++
	return ts.LockVersion, nil
}

func (m *mockTSRepo) UpdateDescription(ctx context.Context, id int64, description string) error {
	ts, ok := m.sheets[id]
	if !ok {
		return shared.ErrNotFound
	}
	ts.Description = description
	return nil
}

func (m *mockTSRepo) MarkCommitted(ctx context.Context, id int64, at time.Time) error {
	ts, ok := m.sheets[id]
	if !ok {
		return shared.ErrNotFound
	}
	ts.Committed = true
	if ts.CommittedAt == nil {
		stamp := at
		ts.CommittedAt = &stamp
	}
	return nil
}

func (m *mockTSRepo) TouchOwnerLastCommitted(ctx context.Context, ownerID int64, at time.Time) error {
	if m.touchErr != nil {
		return m.touchErr
	}
	m.touched = append(m.touched, ownerID)
	return nil
}

func (m *mockTSRepo) MarkDraft(ctx context.Context, id int64) error {
	ts, ok := m.sheets[id]
	if !ok {
		return shared.ErrNotFound
	}
	ts.Committed = false
	return nil
}

func (m *mockTSRepo) InsertRow(ctx context.Context, row TimesheetRow) (int64, error) {
	ts, ok := m.sheets[row.TimesheetID]
	if !ok {
		return 0, shared.ErrNotFound
	}
	row.ID = m.nextRowID
	m.nextRowID++
	row.Entries = nil
	ts.Rows = append(ts.Rows, row)
	return row.ID, nil
}

func (m *mockTSRepo) UpdateRowPosition(ctx context.Context, rowID int64, position int) error {
	if row := m.findRow(rowID); row != nil {
		row.Position = position
		return nil
	}
	return shared.ErrNotFound
}

func (m *mockTSRepo) DeleteRow(ctx context.Context, rowID int64) error {
	for _, ts := range m.sheets {
		for i := range ts.Rows {
			if ts.Rows[i].ID == rowID {
				ts.Rows = append(ts.Rows[:i], ts.Rows[i+1:]...)
				return nil
			}
		}
	}
	return shared.ErrNotFound
}

func (m *mockTSRepo) DeleteRowsExcept(ctx context.Context, timesheetID int64, keepRowIDs []int64) error {
	ts, ok := m.sheets[timesheetID]
	if !ok {
		return shared.ErrNotFound
	}
	keep := make(map[int64]bool, len(keepRowIDs))
	for _, id := range keepRowIDs {
		keep[id] = true
	}
	var kept []TimesheetRow
	for _, row := range ts.Rows {
		if keep[row.ID] {
			kept = append(kept, row)
		}
	}
	ts.Rows = kept
	return nil
}

func (m *mockTSRepo) ReplaceEntries(ctx context.Context, rowID int64, entries []TimeEntry) error {
	row := m.findRow(rowID)
	if row == nil {
		return shared.ErrNotFound
	}
	row.Entries = nil
	for _, entry := range entries {
		entry.ID = m.nextEntryID
		m.nextEntryID++
		entry.RowID = rowID
		row.Entries = append(row.Entries, entry)
	}
	return nil
}

func (m *mockTSRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := m.sheets[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.sheets, id)
	return nil
}

func (m *mockTSRepo) findRow(rowID int64) *TimesheetRow {
	for _, ts := range m.sheets {
		for i := range ts.Rows {
			if ts.Rows[i].ID == rowID {
				return &ts.Rows[i]
			}
		}
	}
	return nil
}

// ============================================================================
// COLLABORATOR MOCKS
// ============================================================================

type mockAudit struct {
	logs []shared.AuditLog
}

func (m *mockAudit) Record(ctx context.Context, log shared.AuditLog) error {
	m.logs = append(m.logs, log)
	return nil
}

var serviceNow = time.Date(2026, time.August, 26, 9, 0, 0, 0, time.UTC)

type serviceFixture struct {
	repo    *mockTSRepo
	catalog *mockCatalog
	audit   *mockAudit
	service *Service
}

func newFixture() *serviceFixture {
	f := &serviceFixture{
		repo:    newMockTSRepo(),
		catalog: newMockCatalog(),
		audit:   &mockAudit{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.service = NewService(f.repo, f.catalog, f.audit, logger)
	f.service.now = func() time.Time { return serviceNow }
	return f
}

var (
	owner = &authz.Actor{ID: 5, FullName: "Dana Owner"}
	admin = &authz.Actor{ID: 1, FullName: "Sam Admin", IsAdmin: true}
	other = &authz.Actor{ID: 9, FullName: "Pat Other"}
)

// ============================================================================
// CREATE
// ============================================================================

func TestCreateTimesheet(t *testing.T) {
	f := newFixture()

	ts, err := f.service.Create(context.Background(), owner, CreateTimesheetRequest{Year: 2026, WeekNumber: 35})
	require.NoError(t, err)
	assert.NotZero(t, ts.ID)
	assert.Equal(t, owner.ID, ts.OwnerID)
	assert.False(t, ts.Committed)
	assert.EqualValues(t, 1, ts.LockVersion)

	stored, err := f.repo.Get(context.Background(), ts.ID)
	require.NoError(t, err)
	assert.Equal(t, 2026, stored.Year)
	assert.Equal(t, 35, stored.WeekNumber)
}

func TestCreateRejectsDuplicateWeek(t *testing.T) {
	f := newFixture()
	f.repo.seed(Timesheet{OwnerID: owner.ID, Year: 2026, WeekNumber: 35, LockVersion: 1})

	_, err := f.service.Create(context.Background(), owner, CreateTimesheetRequest{Year: 2026, WeekNumber: 35})
	verrs, ok := AsValidationErrors(err)
	require.True(t, ok)
	assert.Contains(t, verrs[0].Message, "already exists")
}

func TestCreateAllowsSameWeekForAnotherOwner(t *testing.T) {
	f := newFixture()
	f.repo.seed(Timesheet{OwnerID: other.ID, Year: 2026, WeekNumber: 35, LockVersion: 1})

	_, err := f.service.Create(context.Background(), owner, CreateTimesheetRequest{Year: 2026, WeekNumber: 35})
	assert.NoError(t, err)
}

func TestCreateRejectsWeek53InShortYear(t *testing.T) {
	f := newFixture()

	// 2025 has 52 commercial weeks.
	_, err := f.service.Create(context.Background(), owner, CreateTimesheetRequest{Year: 2025, WeekNumber: 53})
	verrs, ok := AsValidationErrors(err)
	require.True(t, ok)
	assert.Contains(t, verrs[0].Message, "52 weeks")
}

func TestCreateSeedsDefaultRows(t *testing.T) {
	f := newFixture()
	f.catalog.add(3, "Alpha", workitems.StatusOpen)
	f.catalog.add(8, "Beta", workitems.StatusOpen)

	ts, err := f.service.Create(context.Background(), owner, CreateTimesheetRequest{Year: 2026, WeekNumber: 35, SeedDefaults: true})
	require.NoError(t, err)
	require.Len(t, ts.Rows, 2)
	assert.Equal(t, 1, ts.Rows[0].Position)
	assert.Equal(t, 2, ts.Rows[1].Position)
	for _, row := range ts.Rows {
		assert.NotZero(t, row.ID)
		assert.Equal(t, ts.ID, row.TimesheetID)
	}
}

// ============================================================================
// UPDATE
// ============================================================================

func seedDraft(f *serviceFixture) *Timesheet {
	f.catalog.add(3, "Alpha", workitems.StatusOpen)
	f.catalog.add(8, "Beta", workitems.StatusOpen)
	ts := Timesheet{OwnerID: owner.ID, Year: 2026, WeekNumber: 35, LockVersion: 1}
	ts.Rows = []TimesheetRow{
		{WorkItemID: 3, Position: 1, Entries: []TimeEntry{{DayNumber: 1, Hours: 8}}},
		{WorkItemID: 8, Position: 2},
	}
	return f.repo.seed(ts)
}

func TestUpdateStaleVersionRejectsWholeBatch(t *testing.T) {
	f := newFixture()
	ts := seedDraft(f)
	rowA := ts.Rows[0].ID

	_, err := f.service.Update(context.Background(), owner, ts.ID, UpdateTimesheetRequest{
		BaseVersion: 99,
		Entries:     []EntryEdit{{RowID: rowA, Day: 2, Raw: "4"}},
	})
	require.ErrorIs(t, err, shared.ErrStaleVersion)

	stored, err := f.repo.Get(context.Background(), ts.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stored.LockVersion)
	require.NotNil(t, stored.Row(rowA))
	assert.Nil(t, stored.Row(rowA).Entry(2), "no edit may survive a version conflict")
}

func TestUpdateIsolatesMalformedEntries(t *testing.T) {
	f := newFixture()
	ts := seedDraft(f)
	rowA, rowB := ts.Rows[0].ID, ts.Rows[1].ID

	result, err := f.service.Update(context.Background(), owner, ts.ID, UpdateTimesheetRequest{
		BaseVersion: 1,
		Entries: []EntryEdit{
			{RowID: rowA, Day: 1, Raw: "abc"},
			{RowID: rowB, Day: 1, Raw: "5"},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.EntryErrors, 1)
	assert.Equal(t, rowA, result.EntryErrors[0].RowID)
	assert.Contains(t, result.EntryErrors[0].Message, "Monday")

	stored, err := f.repo.Get(context.Background(), ts.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Row(rowA).Entry(1), "malformed value resets the field")
	require.NotNil(t, stored.Row(rowB).Entry(1))
	assert.InDelta(t, 5, stored.Row(rowB).Entry(1).Hours, 1e-9)
	assert.EqualValues(t, 2, stored.LockVersion)
}

func TestUpdateClearsNegativeValues(t *testing.T) {
	f := newFixture()
	ts := seedDraft(f)
	rowA := ts.Rows[0].ID

	result, err := f.service.Update(context.Background(), owner, ts.ID, UpdateTimesheetRequest{
		BaseVersion: 1,
		Entries:     []EntryEdit{{RowID: rowA, Day: 1, Raw: "-3"}},
	})
	require.NoError(t, err)
	require.Len(t, result.EntryErrors, 1)
	assert.Contains(t, result.EntryErrors[0].Message, "negative")

	stored, _ := f.repo.Get(context.Background(), ts.ID)
	assert.Nil(t, stored.Row(rowA).Entry(1))
}

func TestUpdateBlankClearsEntry(t *testing.T) {
	f := newFixture()
	ts := seedDraft(f)
	rowA := ts.Rows[0].ID

	result, err := f.service.Update(context.Background(), owner, ts.ID, UpdateTimesheetRequest{
		BaseVersion: 1,
		Entries:     []EntryEdit{{RowID: rowA, Day: 1, Raw: "  "}},
	})
	require.NoError(t, err)
	assert.Empty(t, result.EntryErrors)

	stored, _ := f.repo.Get(context.Background(), ts.ID)
	assert.Nil(t, stored.Row(rowA).Entry(1))
}

func TestUpdateRowLifecycle(t *testing.T) {
	f := newFixture()
	f.catalog.add(12, "Gamma", workitems.StatusOpen)
	ts := seedDraft(f)
	rowA, rowB := ts.Rows[0].ID, ts.Rows[1].ID

	result, err := f.service.Update(context.Background(), owner, ts.ID, UpdateTimesheetRequest{
		BaseVersion:    1,
		RemoveRowIDs:   []int64{rowA},
		AddWorkItemIDs: []int64{12},
		MoveDownRowIDs: []int64{rowB},
	})
	require.NoError(t, err)

	stored := result.Timesheet
	require.Len(t, stored.Rows, 2)
	assert.Nil(t, stored.Row(rowA))
	// Moves apply before new rows join, so the lone survivor stays put
	// and the added item takes the next position.
	assert.Equal(t, rowB, stored.Rows[0].ID)
	assert.Equal(t, 1, stored.Rows[0].Position)
	assert.EqualValues(t, 12, stored.Rows[1].WorkItemID)
	assert.Equal(t, 2, stored.Rows[1].Position)
}

func TestUpdateRejectsDailyCapAcrossRows(t *testing.T) {
	f := newFixture()
	ts := seedDraft(f)
	rowA, rowB := ts.Rows[0].ID, ts.Rows[1].ID

	_, err := f.service.Update(context.Background(), owner, ts.ID, UpdateTimesheetRequest{
		BaseVersion: 1,
		Entries: []EntryEdit{
			{RowID: rowA, Day: 3, Raw: "13"},
			{RowID: rowB, Day: 3, Raw: "12"},
		},
	})
	verrs, ok := AsValidationErrors(err)
	require.True(t, ok)
	assert.Equal(t, "Wednesday: Cannot exceed 24 hours per day", verrs[0].Message)

	stored, _ := f.repo.Get(context.Background(), ts.ID)
	assert.EqualValues(t, 1, stored.LockVersion, "validation failure persists nothing")
}

func TestUpdateCommittedSheetPermissions(t *testing.T) {
	f := newFixture()
	ts := seedDraft(f)
	committedAt := serviceNow.Add(-24 * time.Hour)
	f.repo.sheets[ts.ID].Committed = true
	f.repo.sheets[ts.ID].CommittedAt = &committedAt

	_, err := f.service.Update(context.Background(), owner, ts.ID, UpdateTimesheetRequest{BaseVersion: 1})
	assert.ErrorIs(t, err, shared.ErrNotPermitted)

	_, err = f.service.Update(context.Background(), admin, ts.ID, UpdateTimesheetRequest{BaseVersion: 1})
	assert.NoError(t, err, "administrators may edit committed sheets")
}

func TestUpdateForeignSheetForbidden(t *testing.T) {
	f := newFixture()
	ts := seedDraft(f)

	_, err := f.service.Update(context.Background(), other, ts.ID, UpdateTimesheetRequest{BaseVersion: 1})
	assert.ErrorIs(t, err, shared.ErrNotPermitted)
}

// ============================================================================
// COMMIT / REOPEN / DELETE
// ============================================================================

func TestCommitStampsOnceAndTouchesOwner(t *testing.T) {
	f := newFixture()
	ts := seedDraft(f)

	committed, err := f.service.Commit(context.Background(), owner, ts.ID)
	require.NoError(t, err)
	assert.True(t, committed.Committed)
	require.NotNil(t, committed.CommittedAt)
	assert.Equal(t, serviceNow, *committed.CommittedAt)
	assert.Equal(t, []int64{owner.ID}, f.repo.touched)
	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, shared.AuditActionCommit, f.audit.logs[0].Action)

	// Reopen, advance the clock, commit again: the stamp must not move.
	_, err = f.service.Reopen(context.Background(), admin, ts.ID)
	require.NoError(t, err)
	f.service.now = func() time.Time { return serviceNow.Add(48 * time.Hour) }
	recommitted, err := f.service.Commit(context.Background(), owner, ts.ID)
	require.NoError(t, err)
	stored, _ := f.repo.Get(context.Background(), recommitted.ID)
	require.NotNil(t, stored.CommittedAt)
	assert.Equal(t, serviceNow, *stored.CommittedAt)
}

func TestCommitAlreadyCommittedIsNoop(t *testing.T) {
	f := newFixture()
	ts := seedDraft(f)

	_, err := f.service.Commit(context.Background(), owner, ts.ID)
	require.NoError(t, err)
	touches := len(f.repo.touched)

	_, err = f.service.Commit(context.Background(), owner, ts.ID)
	require.NoError(t, err)
	assert.Equal(t, touches, len(f.repo.touched))
	assert.Len(t, f.audit.logs, 1)
}

func TestCommitRollsBackWhenOwnerMarkerFails(t *testing.T) {
	f := newFixture()
	ts := seedDraft(f)
	f.repo.touchErr = errors.New("users update failed")

	_, err := f.service.Commit(context.Background(), owner, ts.ID)
	require.Error(t, err)

	// Marker and committed flag share one transaction: both must unwind.
	stored, getErr := f.repo.Get(context.Background(), ts.ID)
	require.NoError(t, getErr)
	assert.False(t, stored.Committed, "commit flag must roll back with the marker")
	assert.Nil(t, stored.CommittedAt)
	assert.Empty(t, f.repo.touched)
	assert.Empty(t, f.audit.logs)
}

func TestCommitBlockedByValidation(t *testing.T) {
	f := newFixture()
	ts := seedDraft(f)
	f.catalog.items[3].Status = workitems.StatusClosed

	_, err := f.service.Commit(context.Background(), owner, ts.ID)
	_, ok := AsValidationErrors(err)
	require.True(t, ok)

	stored, _ := f.repo.Get(context.Background(), ts.ID)
	assert.False(t, stored.Committed)
}

func TestCommitAdminBypassesValidation(t *testing.T) {
	f := newFixture()
	ts := seedDraft(f)
	f.catalog.items[3].Status = workitems.StatusClosed

	committed, err := f.service.Commit(context.Background(), admin, ts.ID)
	require.NoError(t, err)
	assert.True(t, committed.Committed)
}

func TestReopenAdminOnly(t *testing.T) {
	f := newFixture()
	ts := seedDraft(f)
	_, err := f.service.Commit(context.Background(), owner, ts.ID)
	require.NoError(t, err)

	_, err = f.service.Reopen(context.Background(), owner, ts.ID)
	assert.ErrorIs(t, err, shared.ErrNotPermitted)

	reopened, err := f.service.Reopen(context.Background(), admin, ts.ID)
	require.NoError(t, err)
	assert.False(t, reopened.Committed)
	assert.NotNil(t, reopened.CommittedAt, "the stamp survives a reopen")
}

func TestDeletePermissions(t *testing.T) {
	f := newFixture()
	ts := seedDraft(f)

	require.NoError(t, f.service.Delete(context.Background(), owner, ts.ID))
	_, err := f.repo.Get(context.Background(), ts.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	ts = seedDraft(f)
	_, err = f.service.Commit(context.Background(), owner, ts.ID)
	require.NoError(t, err)

	err = f.service.Delete(context.Background(), owner, ts.ID)
	assert.ErrorIs(t, err, shared.ErrNotPermitted, "owners cannot delete committed sheets")

	require.NoError(t, f.service.Delete(context.Background(), admin, ts.ID))
	require.Len(t, f.audit.logs, 3)
	assert.Equal(t, shared.AuditActionDelete, f.audit.logs[len(f.audit.logs)-1].Action)
}
