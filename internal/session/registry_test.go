package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmitRejectsOverCap(t *testing.T) {
	r := NewRegistry(1)

	require.NoError(t, r.Admit(&Session{FD: 1}))
	err := r.Admit(&Session{FD: 2})
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, 1, r.Count())
}

func TestEnqueueDequeueOrder(t *testing.T) {
	r := NewRegistry(4)
	r.Enqueue(1)
	r.Enqueue(2)

	fd, ok := r.Dequeue()
	require.True(t, ok)
	assert.Equal(t, 1, fd)

	fd, ok = r.Dequeue()
	require.True(t, ok)
	assert.Equal(t, 2, fd)
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	r := NewRegistry(4)
	done := make(chan int, 1)
	go func() {
		fd, ok := r.Dequeue()
		if ok {
			done <- fd
		} else {
			done <- -1
		}
	}()

	time.Sleep(10 * time.Millisecond)
	r.Enqueue(42)

	select {
	case fd := <-done:
		assert.Equal(t, 42, fd)
	case <-time.After(time.Second):
		t.Fatal("Dequeue never returned")
	}
}

func TestSetQuitUnblocksDequeue(t *testing.T) {
	r := NewRegistry(4)
	done := make(chan bool, 1)
	go func() {
		_, ok := r.Dequeue()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	r.SetQuit()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Dequeue never woke on shutdown")
	}
}

func TestShutdownFlags(t *testing.T) {
	r := NewRegistry(4)
	assert.False(t, r.Quit())
	assert.False(t, r.NoMoreConnections())

	r.SetNoMoreConnections()
	assert.True(t, r.NoMoreConnections())
	assert.False(t, r.Quit())
}
