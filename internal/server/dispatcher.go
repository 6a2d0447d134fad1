package server

import (
	"time"

	"github.com/marmos91/fsd/internal/session"
	"github.com/marmos91/fsd/internal/store"
	"github.com/marmos91/fsd/internal/wire"
)

// lockWaitBound is the maximum time LOCK/OPENL suspend waiting for a held
// lock to free up, per §5.
const lockWaitBound = 4 * time.Second

var errSyntax = wire.ErrSyntax

// Outcome is the result of dispatching one request. A non-nil InternalErr
// tells the worker to close the session without sending Response at all,
// per §4.10.
type Outcome struct {
	Response    *wire.Response
	Evicted     int
	InternalErr error
}

func reply(code int, data []byte) *Outcome {
	return &Outcome{Response: &wire.Response{Code: code, Descr: wire.Descriptions[code], Data: data}}
}

func internalErr(err error) *Outcome {
	return &Outcome{InternalErr: err}
}

// Dispatch runs req against the store on behalf of sess, implementing the
// per-command table of §4.9. The caller (the worker loop) owns sending the
// response and updating the session's open-set bookkeeping is handled
// here directly since it must happen atomically with the store mutation.
func (s *Service) Dispatch(sess *session.Session, req *wire.Request) *Outcome {
	switch req.Cmd {
	case wire.CmdOpen:
		return s.dispatchOpen(sess, req.Arg)
	case wire.CmdOpenC:
		return s.dispatchOpenC(sess, req.Arg, store.NoLockHolder)
	case wire.CmdOpenL:
		return s.dispatchOpenL(sess, req.Arg)
	case wire.CmdOpenCL:
		return s.dispatchOpenC(sess, req.Arg, sess.ID)
	case wire.CmdClose:
		return s.dispatchClose(sess, req.Arg)
	case wire.CmdLock:
		return s.dispatchLock(sess, req.Arg)
	case wire.CmdUnlock:
		return s.dispatchUnlock(sess, req.Arg)
	case wire.CmdRead:
		return s.dispatchRead(sess, req.Arg)
	case wire.CmdReadN:
		return s.dispatchReadN(sess, req.Arg)
	case wire.CmdWrite:
		return s.dispatchWrite(sess, req.Arg, req.Data)
	case wire.CmdAppend:
		return s.dispatchAppend(sess, req.Arg, req.Data)
	case wire.CmdRemove:
		return s.dispatchRemove(sess, req.Arg)
	case wire.CmdQuit:
		return reply(wire.CodeClosing, nil)
	default:
		return reply(wire.CodeSyntaxError, nil)
	}
}

func (s *Service) dispatchOpen(sess *session.Session, pathname string) *Outcome {
	s.Store.Lock()
	defer s.Store.Unlock()

	e, ok := s.Store.Get(pathname)
	if !ok {
		return reply(wire.CodeNotFound, nil)
	}
	if !sess.Has(pathname) {
		s.Store.Open(e)
		sess.MarkOpen(e)
	}
	return reply(wire.CodeSuccess, nil)
}

func (s *Service) dispatchOpenC(sess *session.Session, pathname, lockHolder string) *Outcome {
	s.Store.Lock()
	defer s.Store.Unlock()

	if s.Store.FilesCap() == 0 {
		return reply(wire.CodeQuotaExceeded, nil)
	}
	e, err := s.Store.Create(pathname, lockHolder)
	if err == store.ErrPendingDelete {
		return reply(wire.CodeCannotPerform, nil)
	}
	if err == store.ErrAlreadyExists {
		return reply(wire.CodeAlreadyExists, nil)
	}
	sess.MarkOpen(e)

	// A created-but-empty entry carries no payload, so it never occupies
	// files_cap/bytes_cap until the first WRITE commits it; nothing to
	// evict for here beyond the files_cap==0 guard above.
	return reply(wire.CodeSuccess, nil)
}

func (s *Service) finishEvicting(evicted []store.Evicted) *Outcome {
	if len(evicted) == 0 {
		return reply(wire.CodeSuccess, nil)
	}
	if s.Log != nil {
		s.Log.CapacityMiss()
	}
	records := make([]wire.Record, len(evicted))
	for i, v := range evicted {
		records[i] = wire.Record{Pathname: v.Pathname, Size: v.Size, Data: v.Payload}
		if s.Log != nil {
			s.Log.RejectedFile(v.Pathname, v.Size)
		}
	}
	data, err := wire.EmitRecords(records)
	if err != nil {
		return internalErr(err)
	}
	out := reply(wire.CodeSuccess, data)
	out.Evicted = len(evicted)
	return out
}

func (s *Service) dispatchOpenL(sess *session.Session, pathname string) *Outcome {
	s.Store.Lock()
	defer s.Store.Unlock()

	e, ok := s.Store.Get(pathname)
	if !ok {
		return reply(wire.CodeNotFound, nil)
	}
	if !sess.Has(pathname) {
		s.Store.Open(e)
		sess.MarkOpen(e)
	}

	if out := s.waitForLock(e, sess.ID); out != nil {
		return out
	}
	e.LockHolder = sess.ID
	return reply(wire.CodeSuccess, nil)
}

// waitForLock blocks the caller (who must hold the store mutex) until e's
// lock is free or owned by holder, pending_delete becomes true, the
// service starts shutting down, or lockWaitBound elapses. It returns a
// non-nil Outcome only when the wait ends in a failure that should be
// reported to the client instead of proceeding.
func (s *Service) waitForLock(e *store.Entry, holder string) *Outcome {
	deadline := time.Now().Add(lockWaitBound)
	for e.LockHolder != store.NoLockHolder && e.LockHolder != holder {
		if e.PendingDelete {
			return reply(wire.CodeCannotPerform, nil)
		}
		if s.Registry.Quit() {
			return reply(wire.CodeCannotPerform, nil)
		}
		if !s.Store.WaitLockReleased(deadline) {
			return reply(wire.CodeCannotPerform, nil)
		}
	}
	if e.PendingDelete {
		return reply(wire.CodeCannotPerform, nil)
	}
	return nil
}

func (s *Service) dispatchClose(sess *session.Session, pathname string) *Outcome {
	s.Store.Lock()
	defer s.Store.Unlock()

	e, ok := s.Store.GetAny(pathname)
	if !ok {
		return reply(wire.CodeNotFound, nil)
	}
	if !sess.Has(pathname) {
		return reply(wire.CodeCannotPerform, nil)
	}
	s.Store.Close(e, sess.ID)
	sess.MarkClosed(pathname)
	return reply(wire.CodeSuccess, nil)
}

func (s *Service) dispatchLock(sess *session.Session, pathname string) *Outcome {
	s.Store.Lock()
	defer s.Store.Unlock()

	e, ok := s.Store.Get(pathname)
	if !ok {
		return reply(wire.CodeNotFound, nil)
	}
	if !sess.Has(pathname) {
		return reply(wire.CodeCannotPerform, nil)
	}

	if out := s.waitForLock(e, sess.ID); out != nil {
		return out
	}
	e.LockHolder = sess.ID
	return reply(wire.CodeSuccess, nil)
}

func (s *Service) dispatchUnlock(sess *session.Session, pathname string) *Outcome {
	s.Store.Lock()
	defer s.Store.Unlock()

	e, ok := s.Store.Get(pathname)
	if !ok {
		return reply(wire.CodeNotFound, nil)
	}
	if !sess.Has(pathname) {
		return reply(wire.CodeCannotPerform, nil)
	}
	if e.LockHolder != sess.ID {
		return reply(wire.CodeNoAccess, nil)
	}
	e.LockHolder = store.NoLockHolder
	s.Store.BroadcastLockReleased()
	return reply(wire.CodeSuccess, nil)
}

func (s *Service) dispatchRead(sess *session.Session, pathname string) *Outcome {
	s.Store.Lock()
	defer s.Store.Unlock()

	e, ok := s.Store.Get(pathname)
	if !ok {
		return reply(wire.CodeNotFound, nil)
	}
	if !sess.Has(pathname) {
		return reply(wire.CodeCannotPerform, nil)
	}
	if e.LockHolder != store.NoLockHolder && e.LockHolder != sess.ID {
		return reply(wire.CodeNoAccess, nil)
	}

	payload := append([]byte(nil), e.Payload...)
	data, err := wire.EmitRecords([]wire.Record{{Pathname: e.Pathname, Size: len(payload), Data: payload}})
	if err != nil {
		return internalErr(err)
	}
	return reply(wire.CodeSuccess, data)
}

func (s *Service) dispatchReadN(sess *session.Session, arg string) *Outcome {
	n, err := parseReadNArg(arg)
	if err != nil {
		return reply(wire.CodeSyntaxError, nil)
	}

	s.Store.Lock()
	defer s.Store.Unlock()

	var records []wire.Record
	for pathname, e := range s.Store.Snapshot() {
		if n > 0 && len(records) >= n {
			break
		}
		if e.PendingDelete {
			continue
		}
		if e.LockHolder != store.NoLockHolder && e.LockHolder != sess.ID {
			continue
		}
		payload := append([]byte(nil), e.Payload...)
		records = append(records, wire.Record{Pathname: pathname, Size: len(payload), Data: payload})
	}

	data, err2 := wire.EmitRecords(records)
	if err2 != nil {
		return internalErr(err2)
	}
	return reply(wire.CodeSuccess, data)
}

func (s *Service) dispatchWrite(sess *session.Session, pathname string, payload []byte) *Outcome {
	if int64(len(payload)) > s.Store.BytesCap() {
		return reply(wire.CodeQuotaExceeded, nil)
	}

	s.Store.Lock()
	defer s.Store.Unlock()

	e, ok := s.Store.Get(pathname)
	if !ok {
		return reply(wire.CodeNotFound, nil)
	}
	if !sess.Has(pathname) || e.HasPayload() {
		return reply(wire.CodeCannotPerform, nil)
	}
	if e.LockHolder != sess.ID {
		return reply(wire.CodeNoAccess, nil)
	}

	evicted, err := s.Store.CommitPayload(e, append([]byte(nil), payload...))
	if err == store.ErrCannotEvict {
		return internalErr(err)
	}
	return s.finishEvicting(evicted)
}

func (s *Service) dispatchAppend(sess *session.Session, pathname string, payload []byte) *Outcome {
	s.Store.Lock()
	defer s.Store.Unlock()

	e, ok := s.Store.Get(pathname)
	if !ok {
		return reply(wire.CodeNotFound, nil)
	}
	if int64(e.Size()+len(payload)) > s.Store.BytesCap() {
		return reply(wire.CodeQuotaExceeded, nil)
	}
	if !sess.Has(pathname) || !e.HasPayload() {
		return reply(wire.CodeCannotPerform, nil)
	}
	if e.LockHolder != store.NoLockHolder && e.LockHolder != sess.ID {
		return reply(wire.CodeNoAccess, nil)
	}

	evicted, err := s.Store.AppendPayload(e, append([]byte(nil), payload...))
	if err == store.ErrCannotEvict {
		return internalErr(err)
	}
	return s.finishEvicting(evicted)
}

func (s *Service) dispatchRemove(sess *session.Session, pathname string) *Outcome {
	s.Store.Lock()
	defer s.Store.Unlock()

	e, ok := s.Store.Get(pathname)
	if !ok {
		return reply(wire.CodeNotFound, nil)
	}
	if !sess.Has(pathname) {
		return reply(wire.CodeCannotPerform, nil)
	}
	if e.LockHolder != sess.ID {
		return reply(wire.CodeNoAccess, nil)
	}
	s.Store.MarkDelete(e)
	return reply(wire.CodeSuccess, nil)
}

func parseReadNArg(arg string) (int, error) {
	if arg == "" {
		return 0, nil
	}
	neg := false
	i := 0
	if arg[0] == '-' {
		neg = true
		i = 1
	}
	if i == len(arg) {
		return 0, errSyntax
	}
	n := 0
	for ; i < len(arg); i++ {
		c := arg[i]
		if c < '0' || c > '9' {
			return 0, errSyntax
		}
		n = n*10 + int(c-'0')
	}
	if neg {
		n = -n
	}
	return n, nil
}
