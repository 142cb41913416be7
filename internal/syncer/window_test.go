package syncer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindowObserve(t *testing.T) {
	w := newWindow(3)

	assert.True(t, w.Observe("a"))
	assert.False(t, w.Observe("a"), "second observation is not new")
	assert.True(t, w.Observe("b"))
	assert.True(t, w.Observe("c"))
	assert.Equal(t, 3, w.Len())
}

func TestWindowEvictsOldestFirst(t *testing.T) {
	w := newWindow(3)
	w.Add("a")
	w.Add("b")
	w.Add("c")

	w.Add("d") // evicts "a"

	assert.False(t, w.Contains("a"))
	assert.True(t, w.Contains("b"))
	assert.True(t, w.Contains("d"))
	assert.Equal(t, 3, w.Len())
}

func TestWindowReAddIsNoop(t *testing.T) {
	w := newWindow(2)
	w.Add("a")
	w.Add("a")
	w.Add("b")

	assert.Equal(t, 2, w.Len())
	assert.True(t, w.Contains("a"))
}

func TestWindowStaysBounded(t *testing.T) {
	w := newWindow(10)
	for i := 0; i < 1000; i++ {
		w.Add(fmt.Sprintf("id-%d", i))
	}
	assert.Equal(t, 10, w.Len())
	assert.True(t, w.Contains("id-999"))
	assert.False(t, w.Contains("id-989"))
	assert.True(t, w.Contains("id-990"))
}
