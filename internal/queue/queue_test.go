package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{in: 0, want: Unlimited},
		{in: -1, want: Unlimited},
		{in: -7, want: Unlimited},
		{in: 1, want: 1},
		{in: 5, want: 5},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "Normalize(%d)", tt.in)
	}
}

func TestQueue_SetLimit(t *testing.T) {
	q := New(3)
	assert.Equal(t, 3, q.Limit())

	assert.False(t, q.SetLimit(3))
	assert.True(t, q.SetLimit(0))
	assert.Equal(t, Unlimited, q.Limit())
	assert.False(t, q.SetLimit(-5), "already unlimited")
	assert.True(t, q.SetLimit(2))
}

func TestQueue_NextRespectsLimit(t *testing.T) {
	q := New(2)
	for _, k := range []string{"a", "b", "c", "d"} {
		assert.True(t, q.Push(k, Priority, 0))
	}

	assert.Equal(t, []string{"a", "b"}, q.Next())
	assert.Nil(t, q.Next(), "no capacity")
	assert.Equal(t, 2, q.ActiveCount())
	assert.Equal(t, 2, q.WaitingCount())

	assert.True(t, q.Deactivate("a"))
	assert.False(t, q.Deactivate("a"))
	assert.Equal(t, []string{"c"}, q.Next())
	assert.True(t, q.IsActive("c"))
	assert.True(t, q.Waiting("d"))
}

func TestQueue_Unlimited(t *testing.T) {
	q := New(Unlimited)
	for _, k := range []string{"a", "b", "c"} {
		q.Push(k, Incidental, 0)
	}
	assert.Equal(t, []string{"a", "b", "c"}, q.Next())
	assert.Equal(t, Unlimited, q.Available())
}

func TestQueue_LoweringLimitDoesNotEvict(t *testing.T) {
	q := New(3)
	for _, k := range []string{"a", "b", "c", "d"} {
		q.Push(k, Priority, 0)
	}
	q.Next()
	q.SetLimit(1)

	assert.Equal(t, 3, q.ActiveCount())
	assert.Equal(t, 0, q.Available())

	q.Deactivate("a")
	q.Deactivate("b")
	assert.Nil(t, q.Next(), "still at the lowered cap")

	q.Deactivate("c")
	assert.Equal(t, []string{"d"}, q.Next())
}

func TestQueue_PriorityBeforeIncidental(t *testing.T) {
	q := New(Unlimited)
	q.Push("late", Incidental, 30)
	q.Push("early", Incidental, 10)
	q.Push("explicit", Priority, 99)
	q.Push("tie", Incidental, 10)

	assert.Equal(t, []string{"explicit", "early", "tie", "late"}, q.Snapshot().Waiting)
	assert.Equal(t, []string{"explicit", "early", "tie", "late"}, q.Next())
}

func TestQueue_PushDuplicates(t *testing.T) {
	q := New(1)
	assert.True(t, q.Push("a", Priority, 0))
	assert.False(t, q.Push("a", Incidental, 0), "already waiting")

	q.Next()
	assert.False(t, q.Push("a", Priority, 0), "already active")
}

func TestQueue_Remove(t *testing.T) {
	q := New(1)
	q.Push("a", Priority, 0)
	q.Push("b", Incidental, 1)
	q.Push("c", Incidental, 2)

	assert.True(t, q.Remove("b"))
	assert.False(t, q.Remove("b"))
	assert.True(t, q.Remove("a"))
	assert.False(t, q.Waiting("a"))

	assert.Equal(t, []string{"c"}, q.Next())
}

func TestQueue_Snapshot(t *testing.T) {
	q := New(2)
	q.Push("z", Priority, 0)
	q.Push("y", Priority, 0)
	q.Push("x", Priority, 0)
	q.Next()

	snap := q.Snapshot()
	assert.Equal(t, 2, snap.Limit)
	assert.Equal(t, []string{"y", "z"}, snap.Active)
	assert.Equal(t, []string{"x"}, snap.Waiting)
}
