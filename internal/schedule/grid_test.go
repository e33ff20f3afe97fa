package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Nixie-Tech-LLC/inkframe/internal/db/dbtest"
	"github.com/Nixie-Tech-LLC/inkframe/internal/model"
)

type MockValidator struct {
	mock.Mock
}

func (m *MockValidator) ValidateTarget(ctx context.Context, target model.ContentTarget) error {
	args := m.Called(ctx, target)
	return args.Error(0)
}

var (
	clock1   = model.ContentTarget{Type: model.TargetInstance, ID: "clock-1"}
	rotation = model.ContentTarget{Type: model.TargetPlaylist, ID: "rotation"}
)

// 2026-03-04 is a Wednesday.
func wednesday(hour, minute int) time.Time {
	return time.Date(2026, 3, 4, hour, minute, 0, 0, time.UTC)
}

func TestSlotScenario(t *testing.T) {
	ctx := context.Background()
	v := new(MockValidator)
	v.On("ValidateTarget", mock.Anything, clock1).Return(nil)

	g := NewGrid(dbtest.NewTestStore(t), v, time.Monday)
	require.NoError(t, g.SetSlot(ctx, 2, 9, clock1))

	target, ok := g.Resolve(wednesday(9, 15))
	require.True(t, ok)
	assert.Equal(t, clock1, target)

	_, ok = g.Resolve(wednesday(10, 0))
	assert.False(t, ok)

	v.AssertExpectations(t)
}

func TestResolveIsPure(t *testing.T) {
	ctx := context.Background()
	v := new(MockValidator)
	v.On("ValidateTarget", mock.Anything, mock.Anything).Return(nil)

	g := NewGrid(dbtest.NewTestStore(t), v, time.Monday)
	require.NoError(t, g.SetSlot(ctx, 2, 9, clock1))
	require.NoError(t, g.SetDefault(ctx, &rotation))

	before := g.Snapshot()
	for _, at := range []time.Time{wednesday(9, 0), wednesday(9, 59), wednesday(23, 0)} {
		first, ok1 := g.Resolve(at)
		second, ok2 := g.Resolve(at)
		assert.Equal(t, ok1, ok2)
		assert.Equal(t, first, second)
	}
	assert.Equal(t, before, g.Snapshot())

	target, ok := g.Resolve(wednesday(23, 0))
	require.True(t, ok)
	assert.Equal(t, rotation, target)
}

func TestWeekStart(t *testing.T) {
	g := NewGrid(dbtest.NewTestStore(t), nil, time.Sunday)
	day, hour := g.Coordinates(wednesday(9, 15))
	assert.Equal(t, 3, day)
	assert.Equal(t, 9, hour)

	g = NewGrid(dbtest.NewTestStore(t), nil, time.Monday)
	day, _ = g.Coordinates(time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)) // Sunday
	assert.Equal(t, 6, day)
}

func TestSetSlotRejections(t *testing.T) {
	ctx := context.Background()
	v := new(MockValidator)
	disabled := model.ContentTarget{Type: model.TargetInstance, ID: "off"}
	v.On("ValidateTarget", mock.Anything, disabled).
		Return(&InvalidTargetError{Target: disabled, Reason: "instance is disabled"})

	g := NewGrid(dbtest.NewTestStore(t), v, time.Monday)

	assert.ErrorIs(t, g.SetSlot(ctx, 7, 0, clock1), ErrInvalidSlot)
	assert.ErrorIs(t, g.SetSlot(ctx, 0, 24, clock1), ErrInvalidSlot)

	var invalid *InvalidTargetError
	assert.ErrorAs(t, g.SetSlot(ctx, 1, 1, model.ContentTarget{Type: "folder", ID: "x"}), &invalid)
	assert.ErrorAs(t, g.SetSlot(ctx, 1, 1, disabled), &invalid)
	assert.Equal(t, "instance is disabled", invalid.Reason)

	assert.Empty(t, g.Snapshot().Slots)
	v.AssertExpectations(t)
}

func TestClearSlotIdempotentAndPersistent(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewTestStore(t)
	v := new(MockValidator)
	v.On("ValidateTarget", mock.Anything, mock.Anything).Return(nil)

	g := NewGrid(store, v, time.Monday)
	require.NoError(t, g.SetSlot(ctx, 2, 9, clock1))
	require.NoError(t, g.SetSlot(ctx, 0, 0, rotation))

	reloaded := NewGrid(store, v, time.Monday)
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, g.Snapshot(), reloaded.Snapshot())

	require.NoError(t, g.ClearSlot(ctx, 2, 9))
	require.NoError(t, g.ClearSlot(ctx, 2, 9))
	_, ok := g.Resolve(wednesday(9, 15))
	assert.False(t, ok)

	require.NoError(t, reloaded.Load(ctx))
	assert.Len(t, reloaded.Snapshot().Slots, 1)
}

func TestParseWeekday(t *testing.T) {
	for in, want := range map[string]time.Weekday{"monday": time.Monday, "Sun": time.Sunday, "SATURDAY": time.Saturday} {
		got, err := ParseWeekday(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseWeekday("someday")
	assert.Error(t, err)
}
