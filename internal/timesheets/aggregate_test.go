package timesheets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sheetWithRows(rowIDs ...int64) *Timesheet {
	ts := &Timesheet{ID: 1}
	for i, id := range rowIDs {
		ts.Rows = append(ts.Rows, TimesheetRow{ID: id, TimesheetID: 1, WorkItemID: id * 100, Position: i + 1})
	}
	return ts
}

func positions(ts *Timesheet) []int64 {
	ts.sortByPosition()
	ids := make([]int64, len(ts.Rows))
	for i := range ts.Rows {
		ids[i] = ts.Rows[i].ID
	}
	return ids
}

func TestAddRowIsIdempotent(t *testing.T) {
	ts := &Timesheet{ID: 1}

	first := ts.AddRow(42)
	require.NotNil(t, first)
	assert.Equal(t, 1, first.Position)

	again := ts.AddRow(42)
	assert.Len(t, ts.Rows, 1)
	assert.Equal(t, first.Position, again.Position)

	second := ts.AddRow(43)
	assert.Equal(t, 2, second.Position)
	assert.Len(t, ts.Rows, 2)
}

func TestRemoveRowRenumbersPositions(t *testing.T) {
	ts := sheetWithRows(10, 20, 30, 40)

	require.True(t, ts.RemoveRow(20))
	assert.Equal(t, []int64{10, 30, 40}, positions(ts))
	for i := range ts.Rows {
		assert.Equal(t, i+1, ts.Rows[i].Position)
	}

	assert.False(t, ts.RemoveRow(999))
	assert.Len(t, ts.Rows, 3)
}

func TestMoveSwapsNeighbours(t *testing.T) {
	ts := sheetWithRows(10, 20, 30)

	require.True(t, ts.Move(30, MoveUp))
	assert.Equal(t, []int64{10, 30, 20}, positions(ts))

	require.True(t, ts.Move(10, MoveDown))
	assert.Equal(t, []int64{30, 10, 20}, positions(ts))
}

func TestMoveAtEdgesIsNoop(t *testing.T) {
	ts := sheetWithRows(10, 20)

	assert.False(t, ts.Move(10, MoveUp))
	assert.False(t, ts.Move(20, MoveDown))
	assert.Equal(t, []int64{10, 20}, positions(ts))

	assert.False(t, ts.Move(999, MoveUp))
}

func TestApplyMovesBatch(t *testing.T) {
	ts := sheetWithRows(10, 20, 30, 40)

	// Moving two adjacent rows up must not let them leapfrog each other.
	ts.ApplyMoves([]int64{20, 30}, MoveUp)
	assert.Equal(t, []int64{20, 30, 10, 40}, positions(ts))

	ts = sheetWithRows(10, 20, 30, 40)
	ts.ApplyMoves([]int64{20, 30}, MoveDown)
	assert.Equal(t, []int64{10, 40, 20, 30}, positions(ts))
}

func TestReorderRoundTrip(t *testing.T) {
	ts := sheetWithRows(10, 20, 30)

	require.True(t, ts.Move(30, MoveUp))
	require.True(t, ts.Move(30, MoveUp))
	assert.Equal(t, []int64{30, 10, 20}, positions(ts))

	require.True(t, ts.Move(30, MoveDown))
	require.True(t, ts.Move(30, MoveDown))
	assert.Equal(t, []int64{10, 20, 30}, positions(ts))
}

func TestEntryBookkeeping(t *testing.T) {
	row := TimesheetRow{ID: 1}

	row.SetHours(1, 7.5)
	row.SetHours(3, 4)
	require.NotNil(t, row.Entry(1))
	assert.InDelta(t, 7.5, row.Entry(1).Hours, 1e-9)
	assert.Nil(t, row.Entry(2))

	row.SetHours(1, 6)
	assert.InDelta(t, 6, row.Entry(1).Hours, 1e-9)
	assert.Len(t, row.Entries, 2)

	row.ClearEntry(1)
	assert.Nil(t, row.Entry(1))
	assert.InDelta(t, 4, row.Total(), 1e-9)
}

func TestSumForDayAndTotal(t *testing.T) {
	ts := sheetWithRows(10, 20)
	ts.Rows[0].SetHours(1, 8)
	ts.Rows[0].SetHours(2, 6)
	ts.Rows[1].SetHours(1, 2.5)
	ts.Rows[1].SetHours(0, 1)

	assert.InDelta(t, 10.5, ts.SumForDay(1), 1e-9)
	assert.InDelta(t, 6, ts.SumForDay(2), 1e-9)
	assert.InDelta(t, 1, ts.SumForDay(0), 1e-9)
	assert.Zero(t, ts.SumForDay(5))
	assert.InDelta(t, 17.5, ts.Total(), 1e-9)
}
