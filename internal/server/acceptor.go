package server

import (
	"encoding/binary"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/marmos91/fsd/internal/logger"
	"github.com/marmos91/fsd/internal/session"
	"github.com/marmos91/fsd/internal/wire"
	"github.com/marmos91/fsd/pkg/bufpool"
)

// Acceptor implements C8: it holds the epoll readiness set containing the
// listening socket, the return-pipe read end, and every client socket that
// is currently idle (not held by a worker). A client fd leaves the set the
// moment a worker dequeues it and rejoins once the worker posts it back
// through the return pipe.
type Acceptor struct {
	svc      *Service
	listener *net.UnixListener
	listenFD int

	epollFd int

	returnRead  *os.File
	returnWrite *os.File

	listenArmed bool
}

// pollTimeoutMS is the acceptor's wakeup period, used to re-check the
// shutdown flags even when every socket is quiet, per §4.7.
const pollTimeoutMS = 5000

// NewAcceptor creates the epoll instance and return pipe, and registers
// the listening socket for readability.
func NewAcceptor(svc *Service, listener *net.UnixListener) (*Acceptor, error) {
	epollFd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	rawConn, err := listener.SyscallConn()
	if err != nil {
		return nil, err
	}
	var listenFD int
	ctlErr := rawConn.Control(func(fd uintptr) {
		listenFD = int(fd)
	})
	if ctlErr != nil {
		return nil, ctlErr
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, err
	}

	a := &Acceptor{
		svc:         svc,
		listener:    listener,
		listenFD:    listenFD,
		epollFd:     epollFd,
		returnRead:  pr,
		returnWrite: pw,
	}

	if err := a.armListen(); err != nil {
		return nil, err
	}
	if err := a.armFD(int(pr.Fd())); err != nil {
		return nil, err
	}
	return a, nil
}

// ReturnWrite is the pipe write end workers post finished handles back
// through. Ownership of when to close it belongs to the worker pool (the
// last worker to exit closes it, per §4.8).
func (a *Acceptor) ReturnWrite() *os.File { return a.returnWrite }

func (a *Acceptor) armListen() error {
	if a.listenArmed {
		return nil
	}
	if err := a.armFD(a.listenFD); err != nil {
		return err
	}
	a.listenArmed = true
	return nil
}

func (a *Acceptor) disarmListen() {
	if !a.listenArmed {
		return
	}
	_ = unix.EpollCtl(a.epollFd, unix.EPOLL_CTL_DEL, a.listenFD, &unix.EpollEvent{})
	a.listenArmed = false
}

func (a *Acceptor) armFD(fd int) error {
	event := unix.EpollEvent{Fd: int32(fd), Events: unix.EPOLLIN}
	return unix.EpollCtl(a.epollFd, unix.EPOLL_CTL_ADD, fd, &event)
}

func (a *Acceptor) disarmFD(fd int) {
	_ = unix.EpollCtl(a.epollFd, unix.EPOLL_CTL_DEL, fd, &unix.EpollEvent{})
}

// Run is the acceptor's main loop. It returns once the return pipe's read
// end observes EOF, meaning every worker has exited.
func (a *Acceptor) Run() {
	events := make([]unix.EpollEvent, 64)
	for {
		n, err := unix.EpollWait(a.epollFd, events, pollTimeoutMS)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			logger.Error("acceptor: epoll_wait failed", logger.Err(err))
			return
		}

		if a.svc.Registry.NoMoreConnections() || a.svc.Registry.Quit() {
			a.disarmListen()
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			switch {
			case fd == a.listenFD:
				a.acceptOne()
			case fd == int(a.returnRead.Fd()):
				if done := a.drainReturnPipe(); done {
					return
				}
			default:
				a.disarmFD(fd)
				a.svc.Registry.Enqueue(fd)
			}
		}
	}
}

func (a *Acceptor) acceptOne() {
	conn, err := a.listener.AcceptUnix()
	if err != nil {
		logger.Error("acceptor: accept failed", logger.Err(err))
		return
	}

	rawConn, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return
	}
	var fd int
	_ = rawConn.Control(func(p uintptr) { fd = int(p) })

	sess := session.New(conn, fd)

	if err := a.svc.Registry.Admit(sess); err != nil {
		resp, _ := wire.EmitResponse(wire.CodeServiceUnavailable, wire.Descriptions[wire.CodeServiceUnavailable], nil)
		conn.Write(resp)
		bufpool.Put(resp)
		conn.Close()
		return
	}

	resp, _ := wire.EmitResponse(wire.CodeReady, wire.Descriptions[wire.CodeReady], nil)
	_, writeErr := conn.Write(resp)
	bufpool.Put(resp)
	if writeErr != nil {
		a.svc.Registry.Remove(fd)
		conn.Close()
		return
	}

	a.svc.Log.ConnectionOpened(sess.ID)
	if a.svc.Metrics != nil {
		a.svc.Metrics.ConnectionsActive.Inc()
	}
	if err := a.armFD(fd); err != nil {
		logger.Error("acceptor: failed to arm client fd", logger.Err(err))
	}
}

// drainReturnPipe reads every pending fd a worker posted back and re-arms
// each for readiness polling. It returns true once the pipe's write end
// has been closed by the last exiting worker and no more fds remain.
func (a *Acceptor) drainReturnPipe() bool {
	buf := make([]byte, 4096)
	n, err := a.returnRead.Read(buf)
	if n == 0 && err != nil {
		return true
	}
	for off := 0; off+4 <= n; off += 4 {
		fd := int(binary.LittleEndian.Uint32(buf[off : off+4]))
		if err := a.armFD(fd); err != nil {
			logger.Error("acceptor: failed to re-arm client fd", logger.Err(err))
		}
	}
	return false
}

// Close tears down the epoll instance. The return pipe is closed by the
// worker pool.
func (a *Acceptor) Close() {
	unix.Close(a.epollFd)
}
