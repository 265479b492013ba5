package main

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

// acceptConnections accepts until the listener closes. A connection slot is
// taken before each Accept, so once the pool is full new connections wait in
// the kernel's backlog.
func (s *Server) acceptConnections(ctx context.Context) error {
	for {
		if err := s.pool.Acquire(ctx, 1); err != nil {
			return nil
		}

		nc, err := s.listener.Accept()
		if err != nil {
			s.pool.Release(1)
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.log.Debug("connection accepter shutting down")
				return nil
			}
			s.log.Warn("failed to accept connection", "error", err)
			continue
		}

		connectionsAccepted.WithLabelValues("incoming").Inc()

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			defer s.pool.Release(1)

			c := newConn(nc, s.Config.WriteTimeout, s.log)
			c.log.Info("new connection")
			s.serveConn(ctx, c, nil)
		}()
	}
}
