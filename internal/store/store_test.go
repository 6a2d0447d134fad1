package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withLock(s *Store, fn func()) {
	s.Lock()
	defer s.Unlock()
	fn()
}

func TestCreateAndGet(t *testing.T) {
	s := New(2, 100)

	withLock(s, func() {
		e, err := s.Create("/a", NoLockHolder)
		require.NoError(t, err)
		assert.Equal(t, "/a", e.Pathname)
		assert.Equal(t, 1, e.OpenCount)
		assert.False(t, e.HasPayload())
	})

	withLock(s, func() {
		_, ok := s.Get("/a")
		assert.True(t, ok)
	})
}

func TestCreateAlreadyExists(t *testing.T) {
	s := New(2, 100)
	withLock(s, func() {
		_, err := s.Create("/a", NoLockHolder)
		require.NoError(t, err)
		_, err = s.Create("/a", NoLockHolder)
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})
}

func TestCommitPayloadJoinsFIFOAndCounters(t *testing.T) {
	s := New(2, 100)
	withLock(s, func() {
		e, _ := s.Create("/a", NoLockHolder)
		evicted, err := s.CommitPayload(e, []byte("hello"))
		require.NoError(t, err)
		assert.Empty(t, evicted)
		assert.Equal(t, 1, s.FilesUsed())
		assert.EqualValues(t, 5, s.BytesUsed())
	})
}

func TestEvictionFIFOOrder(t *testing.T) {
	s := New(2, 100)
	var a, b *Entry
	withLock(s, func() {
		a, _ = s.Create("/a", NoLockHolder)
		_, err := s.CommitPayload(a, []byte("aaaaaaaaaa")) // 10 bytes
		require.NoError(t, err)

		b, _ = s.Create("/b", NoLockHolder)
		_, err = s.CommitPayload(b, []byte("bbbbbbbbbb")) // 10 bytes
		require.NoError(t, err)
	})

	var c *Entry
	var evicted []Evicted
	withLock(s, func() {
		// third file forces eviction of the file-count cap (2), evicting /a (oldest)
		var err error
		c, err = s.Create("/c", NoLockHolder)
		require.NoError(t, err)
		evicted, err = s.CommitPayload(c, []byte("cccccccccc"))
		require.NoError(t, err)
	})

	require.Len(t, evicted, 1)
	assert.Equal(t, "/a", evicted[0].Pathname)
	withLock(s, func() {
		_, ok := s.Get("/a")
		assert.False(t, ok)
		_, ok = s.Get("/b")
		assert.True(t, ok)
	})
}

func TestSelfEvictionRuleOnAppend(t *testing.T) {
	// FILES=2 BYTES=30: /a is oldest payload-bearing entry and also the one
	// being appended to; growth must not evict itself.
	s := New(2, 30)
	var a *Entry
	withLock(s, func() {
		var err error
		a, err = s.Create("/a", NoLockHolder)
		require.NoError(t, err)
		_, err = s.CommitPayload(a, []byte("0123456789")) // 10 bytes, bytesUsed=10
		require.NoError(t, err)
	})

	withLock(s, func() {
		evicted, err := s.AppendPayload(a, make([]byte, 25)) // needs total 35 > 30 cap
		// /a is the only FIFO entry and is protected from its own growth,
		// so there is nothing left to evict: reserve must fail with
		// ErrCannotEvict rather than evict /a to make room for itself.
		assert.ErrorIs(t, err, ErrCannotEvict)
		assert.Empty(t, evicted)
	})

	withLock(s, func() {
		got, ok := s.Get("/a")
		require.True(t, ok)
		assert.True(t, got.HasPayload())
		assert.EqualValues(t, 10, got.Size())
	})
}

func TestMarkDeleteAndUnlinkOnClose(t *testing.T) {
	s := New(2, 100)
	var a *Entry
	withLock(s, func() {
		a, _ = s.Create("/a", "s1")
		_, _ = s.CommitPayload(a, []byte("data"))
		s.Open(a) // second session opens it too
	})

	withLock(s, func() {
		s.MarkDelete(a)
		assert.True(t, a.PendingDelete)
		_, ok := s.Get("/a")
		assert.False(t, ok, "pending-delete entries are invisible to Get")
		_, ok = s.GetAny("/a")
		assert.True(t, ok, "still present until open_count reaches 0")
	})

	withLock(s, func() {
		s.Close(a, "s1")
		_, ok := s.GetAny("/a")
		assert.True(t, ok, "one reference remains")
	})

	withLock(s, func() {
		s.Close(a, "")
		_, ok := s.GetAny("/a")
		assert.False(t, ok, "unlinked once open_count reaches 0")
	})
}

func TestWaitLockReleasedWakesOnBroadcastBeforeDeadline(t *testing.T) {
	s := New(2, 100)
	done := make(chan bool, 1)
	go func() {
		s.Lock()
		defer s.Unlock()
		deadline := time.Now().Add(50 * time.Millisecond)
		ok := s.WaitLockReleased(deadline)
		// Force the wait to re-check; a real implementation loops on a
		// condition predicate. One wait call with no broadcast blocks
		// until the test's explicit wake below.
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	withLock(s, func() {
		s.BroadcastLockReleased()
	})

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("WaitLockReleased never woke")
	}
}
