package server

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/marmos91/fsd/internal/logger"
	"github.com/marmos91/fsd/internal/session"
	"github.com/marmos91/fsd/internal/wire"
	"github.com/marmos91/fsd/pkg/bufpool"
)

// Pool is the fixed-size worker pool (C9). Each worker runs as a single
// goroutine parked on the hand-off queue's condition variable, per §4.8 —
// the Go runtime's M:N scheduler satisfies the "parallel OS threads"
// requirement of §5 without pinning goroutines to threads.
type Pool struct {
	svc         *Service
	returnWrite *os.File
	size        int

	live sync.WaitGroup
	left atomic.Int64
}

// NewPool constructs a worker pool of the configured size, posting
// finished handles back through returnWrite.
func NewPool(svc *Service, size int, returnWrite *os.File) *Pool {
	p := &Pool{svc: svc, returnWrite: returnWrite, size: size}
	p.left.Store(int64(size))
	return p
}

// Run starts every worker goroutine and returns immediately.
func (p *Pool) Run() {
	for i := 0; i < p.size; i++ {
		p.live.Add(1)
		go p.workerLoop()
	}
}

// Wait blocks until every worker goroutine has exited.
func (p *Pool) Wait() { p.live.Wait() }

func (p *Pool) workerLoop() {
	defer p.live.Done()
	id := p.svc.nextWorkerID()

	for {
		fd, ok := p.svc.Registry.Dequeue()
		if !ok {
			break
		}
		p.service(id, fd)
	}

	if p.left.Add(-1) == 0 {
		p.returnWrite.Close()
	}
}

func (p *Pool) service(workerID, fd int) {
	sess, ok := p.svc.Registry.Get(fd)
	if !ok {
		return
	}

	req, err := sess.Reader.ReadRequest()
	if err != nil {
		p.handleReadError(workerID, sess, err)
		return
	}

	lc := logger.NewLogContext(sess.ID).WithCommand(string(req.Cmd), req.Arg)
	ctx := logger.WithContext(context.Background(), lc)
	logger.DebugCtx(ctx, "dispatching command")
	outcome := p.svc.Dispatch(sess, req)

	if outcome.InternalErr != nil {
		logger.Error("worker: internal error servicing command",
			logger.Session(sess.ID), logger.Command(string(req.Cmd)),
			logger.Path(req.Arg), logger.Err(outcome.InternalErr))
		p.svc.Log.Command(workerID, sess.ID, string(req.Cmd), req.Arg, false, "internal error")
		p.closeSession(sess, "internal error")
		return
	}

	resp := outcome.Response
	success := resp.Code == wire.CodeSuccess || resp.Code == wire.CodeReady || resp.Code == wire.CodeClosing
	detail := ""
	if success && len(resp.Data) > 0 {
		detail = strconv.Itoa(len(resp.Data))
	} else if !success {
		detail = resp.Descr
	}
	p.svc.Log.Command(workerID, sess.ID, string(req.Cmd), req.Arg, success, detail)
	if p.svc.Metrics != nil {
		p.svc.Metrics.CommandsTotal.WithLabelValues(string(req.Cmd), strconv.Itoa(resp.Code)).Inc()
		if outcome.Evicted > 0 {
			p.svc.Metrics.EvictionsTotal.Inc()
		}
		p.svc.Store.Lock()
		filesUsed, bytesUsed := p.svc.Store.FilesUsed(), p.svc.Store.BytesUsed()
		p.svc.Store.Unlock()
		p.svc.Metrics.FilesUsed.Set(float64(filesUsed))
		p.svc.Metrics.BytesUsed.Set(float64(bytesUsed))
	}

	frame, err := wire.EmitResponse(resp.Code, resp.Descr, resp.Data)
	if err != nil {
		p.closeSession(sess, "internal error")
		return
	}
	_, writeErr := sess.Conn.Write(frame)
	bufpool.Put(frame)
	if writeErr != nil {
		p.closeSession(sess, "write error")
		return
	}

	if resp.Code == wire.CodeClosing || resp.Code == wire.CodeServiceUnavailable || p.svc.Registry.Quit() {
		reason := ""
		if resp.Code == wire.CodeServiceUnavailable {
			reason = "service unavailable"
		}
		p.closeSession(sess, reason)
		return
	}

	p.postBack(fd)
}

func (p *Pool) handleReadError(workerID int, sess *session.Session, err error) {
	switch {
	case errors.Is(err, wire.ErrSyntax):
		frame, _ := wire.EmitResponse(wire.CodeSyntaxError, wire.Descriptions[wire.CodeSyntaxError], nil)
		sess.Conn.Write(frame)
		p.postBack(sess.FD)
	case errors.Is(err, wire.ErrBufferCapExceed):
		frame, _ := wire.EmitResponse(wire.CodeServiceUnavailable, wire.Descriptions[wire.CodeServiceUnavailable], nil)
		sess.Conn.Write(frame)
		p.closeSession(sess, "buffer cap exceeded")
	case errors.Is(err, io.EOF), errors.Is(err, wire.ErrConnectionClosed):
		p.closeSession(sess, "")
	default:
		p.closeSession(sess, "io error")
	}
}

func (p *Pool) postBack(fd int) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(fd))
	p.returnWrite.Write(buf[:])
}

func (p *Pool) closeSession(sess *session.Session, reason string) {
	p.svc.Store.Lock()
	victims := sess.Snapshot()
	for _, e := range victims {
		p.svc.Store.Close(e, sess.ID)
	}
	p.svc.Store.Unlock()

	p.svc.Registry.Remove(sess.FD)
	sess.Conn.Close()
	p.svc.Log.ConnectionClosed(sess.ID, reason)
	if p.svc.Metrics != nil {
		p.svc.Metrics.ConnectionsActive.Dec()
	}
}
