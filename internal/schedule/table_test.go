package schedule

import (
	"errors"
	"testing"

	"github.com/periperidip/rtsched/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exampleEntries() []Entry {
	return []Entry{
		{Start: 0, Exec: 10, Job: "A"},
		{Start: 10, Exec: 12, Job: "B"},
		{Start: 22, Exec: 15, Job: "C"},
		{Start: 37, Exec: 11, Job: "D"},
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name        string
		entries     []Entry
		hyperperiod types.Ticks
		check       func(t *testing.T, err error)
	}{
		{
			name:        "valid example table",
			entries:     exampleEntries(),
			hyperperiod: 50,
			check: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name:        "back to back entries fill the hyperperiod",
			entries:     []Entry{{Start: 0, Exec: 5, Job: "A"}, {Start: 5, Exec: 5, Job: "B"}},
			hyperperiod: 10,
			check: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name:        "zero hyperperiod",
			entries:     exampleEntries(),
			hyperperiod: 0,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrZeroHyperperiod)
			},
		},
		{
			name:        "empty table",
			entries:     nil,
			hyperperiod: 50,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrEmptyTable)
			},
		},
		{
			name: "unsorted entries",
			entries: []Entry{
				{Start: 0, Exec: 5, Job: "A"},
				{Start: 20, Exec: 5, Job: "B"},
				{Start: 10, Exec: 5, Job: "C"},
			},
			hyperperiod: 50,
			check: func(t *testing.T, err error) {
				var orderErr *OrderError
				require.True(t, errors.As(err, &orderErr))
				assert.Equal(t, 1, orderErr.I)
				assert.Equal(t, 2, orderErr.J)
			},
		},
		{
			name: "overlapping entries",
			entries: []Entry{
				{Start: 0, Exec: 10, Job: "A"},
				{Start: 10, Exec: 13, Job: "B"},
				{Start: 22, Exec: 15, Job: "C"},
			},
			hyperperiod: 50,
			check: func(t *testing.T, err error) {
				var overlapErr *OverlapError
				require.True(t, errors.As(err, &overlapErr))
				assert.Equal(t, 1, overlapErr.I)
				assert.Equal(t, 2, overlapErr.J)
			},
		},
		{
			name:        "last entry past the hyperperiod",
			entries:     exampleEntries(),
			hyperperiod: 47,
			check: func(t *testing.T, err error) {
				var boundsErr *OutOfBoundsError
				require.True(t, errors.As(err, &boundsErr))
				assert.Equal(t, 3, boundsErr.I)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.check(t, Validate(tc.entries, tc.hyperperiod))
		})
	}
}

func TestConfigurationErrorsMatchSentinel(t *testing.T) {
	errs := []error{
		&OrderError{I: 0, J: 1},
		&OverlapError{I: 0, J: 1},
		&OutOfBoundsError{I: 0},
		&PeriodZeroError{I: 0},
		ErrEmptyTable,
		ErrZeroHyperperiod,
	}
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrConfiguration, err.Error())
	}
}

func TestValidateIsIdempotent(t *testing.T) {
	entries := exampleEntries()
	for i := 0; i < 3; i++ {
		assert.NoError(t, Validate(entries, 50))
	}
}

func TestNewCopiesEntries(t *testing.T) {
	entries := exampleEntries()
	table, err := New(entries, 50)
	require.NoError(t, err)

	entries[0].Job = "mutated"
	assert.Equal(t, types.JobID("A"), table.Entry(0).Job)
	assert.Equal(t, 4, table.Len())
	assert.Equal(t, types.Ticks(50), table.Hyperperiod())
	assert.Equal(t, types.Ticks(48), table.Busy())
	assert.Equal(t, []types.JobID{"A", "B", "C", "D"}, table.Jobs())
}

func TestStepWrapGap(t *testing.T) {
	table, err := New(exampleEntries(), 50)
	require.NoError(t, err)

	s := table.Step(3, 0)
	assert.True(t, s.Last)
	assert.Equal(t, types.Ticks(48), s.CurrEnd)
	assert.Equal(t, uint64(1), s.NextIter)
	assert.Equal(t, types.Ticks(50), s.NextStart)
	assert.Equal(t, types.Ticks(2), s.Gap())

	// Same wrap one cycle later.
	s = table.Step(3, 1)
	assert.Equal(t, types.Ticks(98), s.CurrEnd)
	assert.Equal(t, types.Ticks(100), s.NextStart)
	assert.Equal(t, types.Ticks(2), s.Gap())
}

func TestStepBackToBackHasNoGap(t *testing.T) {
	table, err := New(exampleEntries(), 50)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		s := table.Step(i, 0)
		assert.False(t, s.Last)
		assert.Equal(t, types.Ticks(0), s.Gap(), "entry %d", i)
	}
}

func TestPlanIsDeterministic(t *testing.T) {
	table, err := New(exampleEntries(), 50)
	require.NoError(t, err)

	plan := table.Plan(3)
	require.Len(t, plan, 12)
	assert.Equal(t, plan, table.Plan(3))

	order := make([]types.JobID, 0, len(plan))
	for _, d := range plan {
		order = append(order, d.Job)
	}
	assert.Equal(t, []types.JobID{"A", "B", "C", "D", "A", "B", "C", "D", "A", "B", "C", "D"}, order)

	assert.Equal(t, Dispatch{Cycle: 1, Index: 0, Job: "A", Start: 50}, plan[4])
	assert.Equal(t, Dispatch{Cycle: 2, Index: 3, Job: "D", Start: 137, Gap: 2}, plan[11])
}

func TestCDSTable(t *testing.T) {
	entries := []Entry{
		{0, 10, "t1"}, {10, 12, "t4"}, {22, 15, "t3"}, {37, 11, "t2"},
		{100, 10, "t1"}, {110, 12, "t4"}, {150, 15, "t3"},
		{200, 10, "t1"}, {210, 12, "t4"}, {222, 11, "t2"},
		{300, 10, "t1"}, {310, 12, "t4"}, {322, 15, "t3"},
		{400, 10, "t1"}, {410, 12, "t4"}, {422, 11, "t2"}, {450, 15, "t3"},
		{500, 10, "t1"}, {510, 12, "t4"},
	}
	table, err := New(entries, 600)
	require.NoError(t, err)

	// Wrap from t4@510..522 to t1@600.
	assert.Equal(t, types.Ticks(78), table.Step(18, 0).Gap())
	// t2 ends at 48, t1 starts at 100.
	assert.Equal(t, types.Ticks(52), table.Step(3, 0).Gap())
}

func TestHyperperiod(t *testing.T) {
	h, err := Hyperperiod(100, 200, 50, 150, 100)
	require.NoError(t, err)
	assert.Equal(t, types.Ticks(600), h)

	h, err = Hyperperiod(7)
	require.NoError(t, err)
	assert.Equal(t, types.Ticks(7), h)

	_, err = Hyperperiod(10, 0)
	var zeroErr *PeriodZeroError
	require.True(t, errors.As(err, &zeroErr))
	assert.Equal(t, 1, zeroErr.I)

	_, err = Hyperperiod()
	assert.ErrorIs(t, err, ErrConfiguration)
}
