package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/fsd/internal/eventlog"
	"github.com/marmos91/fsd/internal/metrics"
	"github.com/marmos91/fsd/internal/session"
	"github.com/marmos91/fsd/internal/store"
	"github.com/marmos91/fsd/internal/wire"
)

func newTestService(filesCap int, bytesCap int64) (*Service, *session.Session) {
	st := store.New(filesCap, bytesCap)
	reg := session.NewRegistry(16)
	log := eventlog.NewWithWriter(&discard{})
	m := metrics.NewForTesting()
	svc := NewService(nil, st, reg, log, m)
	sess := &session.Session{ID: "sess-1", OpenSet: make(map[string]*store.Entry)}
	return svc, sess
}

type discard struct{}

func (*discard) Write(p []byte) (int, error) { return len(p), nil }

func TestDispatchOpenCThenWrite(t *testing.T) {
	svc, sess := newTestService(10, 1024)

	out := svc.Dispatch(sess, &wire.Request{Cmd: wire.CmdOpenCL, Arg: "/a"})
	require.Nil(t, out.InternalErr)
	assert.Equal(t, wire.CodeSuccess, out.Response.Code)

	out = svc.Dispatch(sess, &wire.Request{Cmd: wire.CmdWrite, Arg: "/a", Data: []byte("hello")})
	require.Nil(t, out.InternalErr)
	assert.Equal(t, wire.CodeSuccess, out.Response.Code)

	out = svc.Dispatch(sess, &wire.Request{Cmd: wire.CmdRead, Arg: "/a"})
	require.Nil(t, out.InternalErr)
	assert.Equal(t, wire.CodeSuccess, out.Response.Code)
	records, err := wire.ParseDataField(out.Response.Data)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "hello", string(records[0].Data))
}

func TestDispatchOpenCRejectsAlreadyExists(t *testing.T) {
	svc, sess := newTestService(10, 1024)
	svc.Dispatch(sess, &wire.Request{Cmd: wire.CmdOpenC, Arg: "/a"})

	other := &session.Session{ID: "sess-2", OpenSet: make(map[string]*store.Entry)}
	out := svc.Dispatch(other, &wire.Request{Cmd: wire.CmdOpenC, Arg: "/a"})
	require.Nil(t, out.InternalErr)
	assert.Equal(t, wire.CodeAlreadyExists, out.Response.Code)
}

func TestDispatchOpenNotFound(t *testing.T) {
	svc, sess := newTestService(10, 1024)
	out := svc.Dispatch(sess, &wire.Request{Cmd: wire.CmdOpen, Arg: "/missing"})
	assert.Equal(t, wire.CodeNotFound, out.Response.Code)
}

func TestDispatchWriteRejectsWithoutLock(t *testing.T) {
	svc, sess := newTestService(10, 1024)
	svc.Dispatch(sess, &wire.Request{Cmd: wire.CmdOpenC, Arg: "/a"})
	out := svc.Dispatch(sess, &wire.Request{Cmd: wire.CmdWrite, Arg: "/a", Data: []byte("x")})
	assert.Equal(t, wire.CodeNoAccess, out.Response.Code)
}

func TestDispatchWriteQuotaExceeded(t *testing.T) {
	svc, sess := newTestService(10, 4)
	svc.Dispatch(sess, &wire.Request{Cmd: wire.CmdOpenCL, Arg: "/a"})
	out := svc.Dispatch(sess, &wire.Request{Cmd: wire.CmdWrite, Arg: "/a", Data: []byte("toolong")})
	assert.Equal(t, wire.CodeQuotaExceeded, out.Response.Code)
}

func TestDispatchLockThenUnlock(t *testing.T) {
	svc, sess := newTestService(10, 1024)
	svc.Dispatch(sess, &wire.Request{Cmd: wire.CmdOpenC, Arg: "/a"})
	svc.Dispatch(sess, &wire.Request{Cmd: wire.CmdOpen, Arg: "/a"})

	out := svc.Dispatch(sess, &wire.Request{Cmd: wire.CmdLock, Arg: "/a"})
	require.Equal(t, wire.CodeSuccess, out.Response.Code)

	out = svc.Dispatch(sess, &wire.Request{Cmd: wire.CmdUnlock, Arg: "/a"})
	require.Equal(t, wire.CodeSuccess, out.Response.Code)

	out = svc.Dispatch(sess, &wire.Request{Cmd: wire.CmdUnlock, Arg: "/a"})
	assert.Equal(t, wire.CodeNoAccess, out.Response.Code)
}

func TestDispatchRemoveRequiresLock(t *testing.T) {
	svc, sess := newTestService(10, 1024)
	svc.Dispatch(sess, &wire.Request{Cmd: wire.CmdOpenC, Arg: "/a"})
	svc.Dispatch(sess, &wire.Request{Cmd: wire.CmdOpen, Arg: "/a"})

	out := svc.Dispatch(sess, &wire.Request{Cmd: wire.CmdRemove, Arg: "/a"})
	assert.Equal(t, wire.CodeNoAccess, out.Response.Code)
}

func TestDispatchQuit(t *testing.T) {
	svc, sess := newTestService(10, 1024)
	out := svc.Dispatch(sess, &wire.Request{Cmd: wire.CmdQuit})
	assert.Equal(t, wire.CodeClosing, out.Response.Code)
}

func TestDispatchReadNSkipsLockedByOthers(t *testing.T) {
	svc, sess := newTestService(10, 1024)
	svc.Dispatch(sess, &wire.Request{Cmd: wire.CmdOpenCL, Arg: "/a"})
	svc.Dispatch(sess, &wire.Request{Cmd: wire.CmdWrite, Arg: "/a", Data: []byte("x")})

	other := &session.Session{ID: "sess-2", OpenSet: make(map[string]*store.Entry)}
	out := svc.Dispatch(other, &wire.Request{Cmd: wire.CmdReadN, Arg: ""})
	require.Nil(t, out.InternalErr)
	records, err := wire.ParseDataField(out.Response.Data)
	require.NoError(t, err)
	assert.Len(t, records, 0)
}
