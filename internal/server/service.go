// Package server wires the store, the session registry, and the wire
// protocol together into the running service: the acceptor (C8), the
// worker pool (C9), and the per-command dispatcher (C10).
package server

import (
	"sync/atomic"

	"github.com/marmos91/fsd/internal/config"
	"github.com/marmos91/fsd/internal/eventlog"
	"github.com/marmos91/fsd/internal/metrics"
	"github.com/marmos91/fsd/internal/session"
	"github.com/marmos91/fsd/internal/store"
)

// Service bundles every shared collaborator the acceptor, worker pool,
// and dispatcher need. It is constructed once in cmd/fsd/commands/serve.go and
// passed down explicitly — no package-level globals.
type Service struct {
	Config   *config.Config
	Store    *store.Store
	Registry *session.Registry
	Log      *eventlog.Sink
	Metrics  *metrics.Metrics

	workerSeq atomic.Int64
}

// NewService constructs a Service from its already-loaded collaborators.
func NewService(cfg *config.Config, st *store.Store, reg *session.Registry, log *eventlog.Sink, m *metrics.Metrics) *Service {
	return &Service{
		Config:   cfg,
		Store:    st,
		Registry: reg,
		Log:      log,
		Metrics:  m,
	}
}

// nextWorkerID assigns the goroutine-local sequence number used as the
// log file's <thread-id> field, per §6: the closest stable per-worker
// identity available without reaching into runtime internals.
func (s *Service) nextWorkerID() int {
	return int(s.workerSeq.Add(1))
}
