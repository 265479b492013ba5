package main

import (
	"context"
	"io"
	"time"

	"github.com/horgh/catlink/internal/wire"
	"github.com/pkg/errors"
)

// commandHandler is the state of one connection. Each handle call processes
// one message and returns the handler for the next one: itself, a promoted
// handler, or nil when the connection is finished.
type commandHandler interface {
	handle(m wire.Message) commandHandler

	// terminate cleans up after the connection is lost or the server shuts
	// down. It must be safe to call after the database already forgot the
	// connection.
	terminate(reason string)
}

// throttled handlers rate limit what they read.
type throttled interface {
	throttle(ctx context.Context) error
}

// serveConn runs a connection until it ends. link is set when we dialed a
// server ourselves.
func (s *Server) serveConn(ctx context.Context, c *conn, link *LinkConfig) {
	c.start()
	defer c.Close()

	reg := newRegistrationHandler(s, c, link)
	if link != nil {
		reg.sendServerIntro()
	}
	var h commandHandler = reg

	interval := s.Config.PingTime / 4
	if interval > time.Second {
		interval = time.Second
	}
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastActivity := time.Now()
	pinged := false

	for {
		select {
		case <-ctx.Done():
			h.terminate("Server shutting down")
			return

		case <-c.done:
			h.terminate("Connection closed")
			return

		case res, ok := <-c.reads:
			if !ok {
				h.terminate("Connection closed")
				return
			}

			if res.err != nil {
				if wire.IsParseError(res.err) {
					c.log.Debug("unparsable line", "error", res.err)
					c.Send(parsingError(s.Config.ServerName, currentNick(h)))
					continue
				}
				reason := "Connection closed"
				if !errors.Is(res.err, io.EOF) {
					c.log.Info("read failed", "error", res.err)
					reason = "I/O error"
				}
				h.terminate(reason)
				return
			}

			lastActivity = time.Now()
			pinged = false

			if t, ok := h.(throttled); ok {
				if err := t.throttle(ctx); err != nil {
					h.terminate("Server shutting down")
					return
				}
			}

			next := h.handle(res.msg)
			if next == nil {
				return
			}
			h = next

		case <-ticker.C:
			idle := time.Since(lastActivity)
			if idle >= s.Config.DeadTime {
				c.Send(errorMessage("Ping timeout"))
				h.terminate("Ping timeout")
				return
			}
			if idle >= s.Config.PingTime && !pinged {
				c.Send(pingMessage("", s.Config.ServerName))
				pinged = true
			}
		}
	}
}

// currentNick is who numerics and notices are addressed to. It is "*" until a
// nick is known.
func currentNick(h commandHandler) string {
	switch v := h.(type) {
	case *registrationHandler:
		if v.nick != "" {
			return v.nick
		}
	case *clientHandler:
		return v.nick
	}
	return "*"
}
