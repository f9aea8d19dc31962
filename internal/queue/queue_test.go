package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdd_FirstItemReturnsNext(t *testing.T) {
	q := New()
	action := q.Add("A", "Alpha")
	assert.Equal(t, Action{Kind: Next, Key: "A"}, action)
	assert.Equal(t, 0, q.GetID())
	assert.Equal(t, []Item{{Key: "A", Title: "Alpha"}}, q.GetAll())
}

func TestAdd_SubsequentItemsReturnPass(t *testing.T) {
	q := New()
	q.Add("A", "Alpha")
	action := q.Add("B", "Beta")
	assert.Equal(t, Action{Kind: Pass}, action)
}

func TestAutoAdvanceScenario(t *testing.T) {
	q := New()
	q.Add("A", "Alpha")
	q.Add("B", "Beta")
	require.Equal(t, 0, q.GetID())

	key := q.Next()
	assert.Equal(t, "B", key)
	assert.Equal(t, 1, q.GetID())
}

func TestWrapScenario(t *testing.T) {
	q := New()
	q.Add("A", "Alpha")
	q.Add("B", "Beta")
	q.Next() // cursor -> 1 (B)

	key := q.Next()
	assert.Equal(t, "A", key)
	assert.Equal(t, 0, q.GetID())
}

func TestPrevWrap(t *testing.T) {
	q := New()
	q.Add("A", "Alpha")
	q.Add("B", "Beta")

	key := q.Prev()
	assert.Equal(t, "B", key)
	assert.Equal(t, 1, q.GetID())
}

func TestRemoveByID_RemovesCurrent(t *testing.T) {
	q := New()
	q.Add("A", "Alpha")
	q.Add("B", "Beta")
	q.Add("C", "Gamma")
	q.Next() // cursor -> 1 (B)

	action := q.RemoveByID(1)
	assert.Equal(t, Action{Kind: Next, Key: "C"}, action)
	assert.Equal(t, 1, q.GetID())
	assert.Equal(t, []Item{{"A", "Alpha"}, {"C", "Gamma"}}, q.GetAll())
}

func TestRemoveByID_Before(t *testing.T) {
	q := New()
	q.Add("A", "Alpha")
	q.Add("B", "Beta")
	q.Next() // cursor -> 1

	action := q.RemoveByID(0)
	assert.Equal(t, Action{Kind: Pass}, action)
	assert.Equal(t, 0, q.GetID())
}

func TestRemoveByID_After(t *testing.T) {
	q := New()
	q.Add("A", "Alpha")
	q.Add("B", "Beta")
	q.Add("C", "Gamma")

	action := q.RemoveByID(2)
	assert.Equal(t, Action{Kind: Pass}, action)
	assert.Equal(t, 0, q.GetID())
}

func TestRemoveByID_OutOfRange(t *testing.T) {
	q := New()
	q.Add("A", "Alpha")

	action := q.RemoveByID(5)
	assert.Equal(t, Action{Kind: NotFound}, action)
}

func TestRemoveByID_LastItemYieldsStop(t *testing.T) {
	q := New()
	q.Add("A", "Alpha")

	action := q.RemoveByID(0)
	assert.Equal(t, Action{Kind: Stop}, action)
	assert.True(t, q.IsEmpty())
	assert.Equal(t, 0, q.GetID())
}

func TestRemoveByKey_AbsentIsIdentity(t *testing.T) {
	q := New()
	q.Add("A", "Alpha")
	before := q.GetAll()

	action := q.RemoveByKey("Z")
	assert.Equal(t, Action{Kind: Pass}, action)
	assert.Equal(t, before, q.GetAll())
}

func TestRemoveByKey_EmptiesQueue(t *testing.T) {
	q := New()
	q.Add("A", "Alpha")

	action := q.RemoveByKey("A")
	assert.Equal(t, Action{Kind: Stop}, action)
	assert.True(t, q.IsEmpty())
}

func TestReorder_IdentityWhenSame(t *testing.T) {
	q := New()
	q.Add("A", "Alpha")
	q.Add("B", "Beta")
	before := q.GetAll()

	action := q.Reorder(1, 1)
	assert.Equal(t, Action{Kind: Pass}, action)
	assert.Equal(t, before, q.GetAll())
}

func TestReorder_AcrossCursor(t *testing.T) {
	q := New()
	q.Add("A", "Alpha")
	q.Add("B", "Beta")
	q.Add("C", "Gamma")
	q.Add("D", "Delta")
	q.Next()
	q.Next() // cursor -> 2 (C)
	require.Equal(t, "C", q.CurrentKey())

	q.Reorder(0, 3)
	assert.Equal(t, []Item{{"B", "Beta"}, {"C", "Gamma"}, {"D", "Delta"}, {"A", "Alpha"}}, q.GetAll())
	assert.Equal(t, 1, q.GetID())
	assert.Equal(t, "C", q.CurrentKey())
}

func TestNextThenPrevReturnsToStart(t *testing.T) {
	q := New()
	q.Add("A", "Alpha")
	q.Add("B", "Beta")
	q.Add("C", "Gamma")

	before := q.GetID()
	q.Next()
	q.Prev()
	assert.Equal(t, before, q.GetID())
}

func TestTopTitles_CapsAtThree(t *testing.T) {
	q := New()
	q.Add("A", "Alpha")
	q.Add("B", "Beta")
	q.Add("C", "Gamma")
	q.Add("D", "Delta")

	assert.Equal(t, []string{"Alpha", "Beta", "Gamma"}, q.TopTitles())
}

func TestEmptyQueueInvariants(t *testing.T) {
	q := New()
	assert.True(t, q.IsEmpty())
	assert.Equal(t, 0, q.GetID())
	assert.Equal(t, "", q.Next())
	assert.Equal(t, "", q.Prev())
}
