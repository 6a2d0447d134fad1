package server

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marmos91/fsd/internal/logger"
)

// lockBroadcastPeriod is how often the background broadcaster wakes every
// LOCK/OPENL waiter so the 4-second bound stays observable even without a
// real release, per §5.
const lockBroadcastPeriod = 2 * time.Second

// Run binds the listening socket and runs the acceptor, worker pool, and
// lock-broadcast goroutine until a shutdown signal is handled and every
// worker has drained. It removes a stale socket file left by an unclean
// prior exit before binding.
func Run(svc *Service) error {
	socketPath := svc.Config.SocketFileName
	if err := removeStaleSocket(socketPath); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: socketPath, Net: "unix"})
	if err != nil {
		return fmt.Errorf("server: listen on %q: %w", socketPath, err)
	}
	defer os.Remove(socketPath)

	acceptor, err := NewAcceptor(svc, listener)
	if err != nil {
		listener.Close()
		return fmt.Errorf("server: acceptor setup: %w", err)
	}
	defer acceptor.Close()

	pool := NewPool(svc, int(svc.Config.WorkerThreadsNum), acceptor.ReturnWrite())

	stopBroadcast := make(chan struct{})
	go lockBroadcaster(svc, stopBroadcast)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGHUP)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGHUP:
				logger.Info("server: SIGHUP received, no longer accepting new connections")
				svc.Registry.SetNoMoreConnections()
			case syscall.SIGINT, syscall.SIGQUIT:
				logger.Info("server: shutdown signal received", "signal", sig.String())
				svc.Registry.SetQuit()
				svc.Store.Lock()
				svc.Store.BroadcastLockReleased()
				svc.Store.Unlock()
			}
		}
	}()

	svc.Log.ServerStarted()
	logger.Info("server: listening", "socket", socketPath,
		logger.KeyWorkers, svc.Config.WorkerThreadsNum,
		logger.KeyFilesCap, svc.Store.FilesCap(),
		logger.KeyBytesCap, svc.Store.BytesCap())

	pool.Run()
	acceptor.Run()
	pool.Wait()

	close(stopBroadcast)
	signal.Stop(sigCh)
	svc.Log.ServerTerminated()
	return nil
}

// lockBroadcaster wakes every store-mutex lock waiter periodically so the
// bounded LOCK/OPENL wait is observable even when no real release happens,
// per §5.
func lockBroadcaster(svc *Service, stop <-chan struct{}) {
	ticker := time.NewTicker(lockBroadcastPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			svc.Store.Lock()
			svc.Store.BroadcastLockReleased()
			svc.Store.Unlock()
		}
	}
}

func removeStaleSocket(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if _, err := net.Dial("unix", path); err == nil {
		return fmt.Errorf("socket %q is already in use by a live server", path)
	}
	return os.Remove(path)
}
