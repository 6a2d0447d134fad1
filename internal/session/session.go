// Package session implements per-connection client state (C5) and the
// registry that tracks live sessions and hands ready sockets from the
// acceptor to the worker pool (C6/C7).
package session

import (
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/fsd/internal/store"
	"github.com/marmos91/fsd/internal/wire"
)

// Session is one client connection's state: its socket, its framing
// buffer, and the set of file entries it currently has open. The read
// buffer and open-set are mutated only by the worker currently servicing
// this session, so neither needs its own lock; OpenSet entries are
// themselves guarded by the store mutex when read or written.
type Session struct {
	ID     string // opaque handle, unique among live sessions; used as lock_holder
	FD     int    // raw file descriptor, the handle the acceptor/hand-off queue track
	Conn   *net.UnixConn
	Reader *wire.FrameReader

	OpenSet   map[string]*store.Entry
	CreatedAt time.Time
}

// New constructs a session for an accepted connection. fd is the raw
// socket descriptor used by the epoll-based acceptor.
func New(conn *net.UnixConn, fd int) *Session {
	return &Session{
		ID:        uuid.NewString(),
		FD:        fd,
		Conn:      conn,
		Reader:    wire.NewFrameReader(conn),
		OpenSet:   make(map[string]*store.Entry),
		CreatedAt: time.Now(),
	}
}

// MarkOpen records that the session has entry in its open-set.
func (s *Session) MarkOpen(e *store.Entry) {
	s.OpenSet[e.Pathname] = e
}

// MarkClosed removes pathname from the session's open-set.
func (s *Session) MarkClosed(pathname string) {
	delete(s.OpenSet, pathname)
}

// Has reports whether pathname is in this session's open-set.
func (s *Session) Has(pathname string) bool {
	_, ok := s.OpenSet[pathname]
	return ok
}

// Snapshot returns the session's currently open entries as a slice, for
// teardown to iterate without holding OpenSet open across store-mutex
// acquisitions (see package server's teardown, and the recursive-mutex
// design note it resolves).
func (s *Session) Snapshot() []*store.Entry {
	out := make([]*store.Entry, 0, len(s.OpenSet))
	for _, e := range s.OpenSet {
		out = append(out, e)
	}
	return out
}
