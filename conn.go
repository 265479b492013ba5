package main

import (
	"bufio"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/horgh/catlink/internal/wire"
	"github.com/pkg/errors"
)

// sendQueueLength bounds how many messages may wait for a slow connection.
// Past it the connection is dropped.
const sendQueueLength = 4096

// conn is a TCP connection to a client or server. It implements Stream.
type conn struct {
	ID string

	// Remote IP. We use it as the client's hostname.
	IP string

	netConn net.Conn
	reader  *wire.Reader
	writer  *bufio.Writer
	ioWait  time.Duration

	// writeChan feeds writeLoop. It is never closed; done is.
	writeChan chan wire.Message

	// reads carries what readLoop read. readLoop closes it when it stops.
	reads chan readResult

	done      chan struct{}
	closeOnce sync.Once

	// Track if we overflow our send queue. If we do, we drop the connection.
	sendQueueExceeded atomic.Bool

	log *slog.Logger
}

type readResult struct {
	msg wire.Message
	err error
}

func newConn(nc net.Conn, ioWait time.Duration, log *slog.Logger) *conn {
	id := uuid.New().String()

	ip := nc.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}

	return &conn{
		ID:        id,
		IP:        ip,
		netConn:   nc,
		reader:    wire.NewReader(nc),
		writer:    bufio.NewWriter(nc),
		ioWait:    ioWait,
		writeChan: make(chan wire.Message, sendQueueLength),
		reads:     make(chan readResult),
		done:      make(chan struct{}),
		log:       log.With("conn", id, "remote", nc.RemoteAddr().String()),
	}
}

func (c *conn) String() string {
	return c.ID + " " + c.netConn.RemoteAddr().String()
}

// Send queues a message. It won't block. If the queue is full we flag the
// connection and close it.
//
// Not blocking is important because the database sends to connections this
// way, and if we block on a problem client, everything would grind to a halt.
func (c *conn) Send(m wire.Message) {
	select {
	case <-c.done:
		return
	default:
	}

	if c.sendQueueExceeded.Load() {
		return
	}

	select {
	case c.writeChan <- m:
	default:
		c.sendQueueExceeded.Store(true)
		c.log.Warn("send queue exceeded")
		c.Close()
	}
}

// Close stops the connection. Messages already queued are still written.
func (c *conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// start launches the reader and writer goroutines.
func (c *conn) start() {
	connectionsOpen.Inc()
	go c.readLoop()
	go c.writeLoop()
}

// readLoop reads framed messages and hands them to the handler. A parse
// error is passed along and reading continues. Any other error ends the
// loop.
func (c *conn) readLoop() {
	defer close(c.reads)

	for {
		m, err := c.reader.ReadMessage()
		if err != nil && !wire.IsParseError(err) {
			select {
			case c.reads <- readResult{err: err}:
			case <-c.done:
			}
			return
		}

		select {
		case c.reads <- readResult{msg: m, err: err}:
		case <-c.done:
			return
		}
	}
}

// writeLoop writes queued messages until the connection is closed, then
// flushes what is left and closes the socket.
func (c *conn) writeLoop() {
	defer func() {
		if err := c.netConn.Close(); err != nil {
			c.log.Debug("problem closing connection", "error", err)
		}
		connectionsOpen.Dec()
	}()

	for {
		select {
		case m := <-c.writeChan:
			if err := c.write(m); err != nil {
				c.log.Info("write failed", "error", err)
				c.Close()
				return
			}
		case <-c.done:
			for {
				select {
				case m := <-c.writeChan:
					if err := c.write(m); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *conn) write(m wire.Message) error {
	line, err := m.Encode()
	if err != nil && err != wire.ErrTruncated {
		c.log.Warn("unable to encode message", "message", m.String(), "error", err)
		return nil
	}

	if err := c.netConn.SetWriteDeadline(time.Now().Add(c.ioWait)); err != nil {
		return errors.Wrap(err, "error setting write deadline")
	}

	if _, err := c.writer.WriteString(line); err != nil {
		return errors.Wrap(err, "error writing")
	}

	// Batch while more is queued.
	if len(c.writeChan) > 0 {
		return nil
	}

	if err := c.writer.Flush(); err != nil {
		return errors.Wrap(err, "flush error")
	}
	return nil
}
