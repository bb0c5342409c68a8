package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEditQueue(t *testing.T) {
	q := NewEditQueue()

	_, ok := q.Next("/a")
	assert.False(t, ok)

	q.Record("/a", "1")
	q.Record("/a", "2")
	q.Record("/b", "3")
	assert.Equal(t, 2, q.Len("/a"))

	id, ok := q.Next("/a")
	assert.True(t, ok)
	assert.Equal(t, "1", id)

	assert.True(t, q.Remove("3"))
	assert.False(t, q.Remove("3"))
	assert.Zero(t, q.Len("/b"))

	id, _ = q.Next("/a")
	assert.Equal(t, "2", id)
	assert.Zero(t, q.Len("/a"))
}

func TestEditQueue_RemoveMiddle(t *testing.T) {
	q := NewEditQueue()
	q.Record("/a", "1")
	q.Record("/a", "2")
	q.Record("/a", "3")

	q.Remove("2")

	first, _ := q.Next("/a")
	second, _ := q.Next("/a")
	assert.Equal(t, "1", first)
	assert.Equal(t, "3", second)
}
