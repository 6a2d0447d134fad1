package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marmos91/fsd/internal/store"
)

func TestOpenSetTracking(t *testing.T) {
	s := &Session{OpenSet: make(map[string]*store.Entry)}
	e := &store.Entry{Pathname: "/a"}

	assert.False(t, s.Has("/a"))
	s.MarkOpen(e)
	assert.True(t, s.Has("/a"))

	snap := s.Snapshot()
	assert.Len(t, snap, 1)
	assert.Equal(t, e, snap[0])

	s.MarkClosed("/a")
	assert.False(t, s.Has("/a"))
	assert.Len(t, s.Snapshot(), 0)
}
