// Package store implements the capacity-bounded, lockable file table at
// the heart of the service: a pathname-keyed map of entries, a FIFO
// insertion-order eviction queue, and the per-entry open/lock discipline
// that the command dispatcher drives under a single store-wide mutex.
package store

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

// Sentinel errors returned by store operations, mapped to wire response
// codes at the dispatcher boundary.
var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
	ErrPendingDelete = errors.New("store: pending delete")
	ErrCannotEvict   = errors.New("store: cannot evict enough to satisfy caps")
)

// NoLockHolder is the lock_holder value meaning "unlocked".
const NoLockHolder = ""

// Entry is one stored file record. All field access must happen while
// the owning Store's mutex is held.
type Entry struct {
	Pathname      string
	Payload       []byte // nil: created but never written
	OpenCount     int
	LockHolder    string // NoLockHolder: unlocked
	PendingDelete bool

	elem *list.Element // FIFO queue position, nil if not enqueued
}

// HasPayload reports whether a WRITE has ever committed content.
func (e *Entry) HasPayload() bool { return e.Payload != nil }

// Size is len(Payload), or 0 when absent.
func (e *Entry) Size() int { return len(e.Payload) }

// Evicted describes one file removed by the eviction policy, returned to
// the requester as part of the response payload.
type Evicted struct {
	Pathname string
	Size     int
	Payload  []byte
}

// Store is the bounded, keyed file table. The zero value is not usable;
// construct with New.
type Store struct {
	mu   sync.Mutex
	cond *sync.Cond // lock_released, broadcast on unlock/mark-delete/shutdown

	entries map[string]*Entry
	fifo    *list.List

	filesCap  int
	bytesCap  int64
	filesUsed int
	bytesUsed int64

	evictions uint64
}

// New constructs a Store with the given capacity limits.
func New(filesCap int, bytesCap int64) *Store {
	s := &Store{
		entries:  make(map[string]*Entry),
		fifo:     list.New(),
		filesCap: filesCap,
		bytesCap: bytesCap,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Lock acquires the store mutex. Every exported method below assumes the
// caller already holds it; the dispatcher takes the lock once per command
// and releases it when the command completes.
func (s *Store) Lock() { s.mu.Lock() }

// Unlock releases the store mutex.
func (s *Store) Unlock() { s.mu.Unlock() }

// FilesCap returns the configured file-count capacity.
func (s *Store) FilesCap() int { return s.filesCap }

// BytesCap returns the configured byte-count capacity.
func (s *Store) BytesCap() int64 { return s.bytesCap }

// FilesUsed returns the current number of payload-bearing, non-pending-delete entries.
func (s *Store) FilesUsed() int { return s.filesUsed }

// BytesUsed returns the current sum of sizes of payload-bearing, non-pending-delete entries.
func (s *Store) BytesUsed() int64 { return s.bytesUsed }

// Evictions returns the running count of eviction passes that removed at
// least one entry.
func (s *Store) Evictions() uint64 { return s.evictions }

// Get looks up pathname, ignoring pending-delete entries.
func (s *Store) Get(pathname string) (*Entry, bool) {
	e, ok := s.entries[pathname]
	if !ok || e.PendingDelete {
		return nil, false
	}
	return e, true
}

// GetAny looks up pathname regardless of pending-delete status. Only
// CLOSE is specified to see pending-delete entries.
func (s *Store) GetAny(pathname string) (*Entry, bool) {
	e, ok := s.entries[pathname]
	return e, ok
}

// Snapshot returns a shallow copy of the key map for handlers (READN) that
// need to enumerate every entry without holding the map itself open across
// the handler's other work. Entry pointers are shared with the store, so
// callers must still hold the store mutex while reading their fields.
func (s *Store) Snapshot() map[string]*Entry {
	out := make(map[string]*Entry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// Create inserts a new, payload-absent entry with open_count=1. It does
// not join the FIFO queue until a payload is committed.
func (s *Store) Create(pathname string, lockHolder string) (*Entry, error) {
	if existing, ok := s.entries[pathname]; ok {
		if existing.PendingDelete {
			return nil, ErrPendingDelete
		}
		return nil, ErrAlreadyExists
	}
	e := &Entry{
		Pathname:   pathname,
		OpenCount:  1,
		LockHolder: lockHolder,
	}
	s.entries[pathname] = e
	return e, nil
}

// Open adds one reference to entry's open-count.
func (s *Store) Open(e *Entry) { e.OpenCount++ }

// Close removes one reference from entry's open-count, releasing any lock
// the given holder owns, and unlinks the entry if it becomes orphaned.
// It is the single operation teardown/CLOSE use, so that multi-entry
// teardown can call it once per victim without re-entering the store
// mutex (see package server's session teardown).
func (s *Store) Close(e *Entry, holder string) {
	if e.LockHolder == holder && holder != NoLockHolder {
		e.LockHolder = NoLockHolder
		s.cond.Broadcast()
	}
	if e.OpenCount > 0 {
		e.OpenCount--
	}
	s.unlinkIfOrphan(e)
}

// unlinkIfOrphan removes e from the key map (and FIFO, if present) once
// nothing references it and it can never become visible content again.
func (s *Store) unlinkIfOrphan(e *Entry) {
	if e.OpenCount != 0 {
		return
	}
	if !e.PendingDelete && e.HasPayload() {
		return
	}
	if e.elem != nil {
		s.fifo.Remove(e.elem)
		e.elem = nil
	}
	delete(s.entries, e.Pathname)
}

// reserve evicts oldest-inserted FIFO entries, skipping protect, until
// filesUsed+filesDelta and bytesUsed+bytesDelta both fit under cap. It
// implements the evict-before-insert self-eviction rule from §4.4: the
// entry being grown is excluded from victim selection in its own pass.
func (s *Store) reserve(filesDelta int, bytesDelta int64, protect *Entry) ([]Evicted, error) {
	var evicted []Evicted
	for s.filesUsed+filesDelta > s.filesCap || s.bytesUsed+bytesDelta > s.bytesCap {
		elem := s.fifo.Front()
		for elem != nil && elem.Value.(*Entry) == protect {
			elem = elem.Next()
		}
		if elem == nil {
			return evicted, ErrCannotEvict
		}
		victim := elem.Value.(*Entry)
		s.fifo.Remove(elem)
		victim.elem = nil

		evicted = append(evicted, Evicted{
			Pathname: victim.Pathname,
			Size:     victim.Size(),
			Payload:  victim.Payload,
		})
		s.filesUsed--
		s.bytesUsed -= int64(victim.Size())

		if victim.OpenCount == 0 {
			delete(s.entries, victim.Pathname)
		} else {
			victim.PendingDelete = true
			s.cond.Broadcast()
		}
	}
	if len(evicted) > 0 {
		s.evictions++
	}
	return evicted, nil
}

// CommitPayload evicts room for a brand-new payload, then attaches it to
// e and joins the FIFO tail. e must not already have a payload.
func (s *Store) CommitPayload(e *Entry, data []byte) ([]Evicted, error) {
	evicted, err := s.reserve(1, int64(len(data)), nil)
	if err != nil {
		return evicted, err
	}
	e.Payload = data
	e.elem = s.fifo.PushBack(e)
	s.filesUsed++
	s.bytesUsed += int64(len(data))
	return evicted, nil
}

// AppendPayload evicts room for the growth, then extends e's existing
// payload in place. e's FIFO position is unaffected by growth.
func (s *Store) AppendPayload(e *Entry, data []byte) ([]Evicted, error) {
	evicted, err := s.reserve(0, int64(len(data)), e)
	if err != nil {
		return evicted, err
	}
	e.Payload = append(e.Payload, data...)
	s.bytesUsed += int64(len(data))
	return evicted, nil
}

// MarkDelete flags e for removal: it leaves the FIFO queue immediately
// and is unlinked from the key map once its open-count reaches zero.
func (s *Store) MarkDelete(e *Entry) {
	if e.elem != nil {
		s.fifo.Remove(e.elem)
		e.elem = nil
		s.filesUsed--
		s.bytesUsed -= int64(e.Size())
	}
	e.PendingDelete = true
	s.cond.Broadcast()
	s.unlinkIfOrphan(e)
}

// BroadcastLockReleased wakes every goroutine waiting in WaitLockReleased,
// used by UNLOCK, a releasing CLOSE, MarkDelete, and shutdown.
func (s *Store) BroadcastLockReleased() { s.cond.Broadcast() }

// WaitLockReleased blocks once on the lock_released condition, woken
// either by a real release/broadcast or by the periodic 2-second
// lock-wait ticker (see package server). It returns false once deadline
// has elapsed, telling the caller to stop retrying. The caller must hold
// the store mutex; it is released for the duration of the wait and
// reacquired before return, per sync.Cond.Wait semantics.
func (s *Store) WaitLockReleased(deadline time.Time) bool {
	if time.Now().After(deadline) {
		return false
	}
	s.cond.Wait()
	return !time.Now().After(deadline)
}
