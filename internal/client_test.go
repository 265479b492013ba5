package internal

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/horgh/irc"
	"github.com/pkg/errors"
)

// Client is an IRC client driven by a test.
type Client struct {
	nick string
	addr string

	conn net.Conn
	rw   *bufio.ReadWriter

	recvChan chan irc.Message
	sendMu   sync.Mutex
	wg       sync.WaitGroup
}

// NewClient creates a client. Call Start to connect.
func NewClient(nick, addr string) *Client {
	return &Client{
		nick:     nick,
		addr:     addr,
		recvChan: make(chan irc.Message, 512),
	}
}

// Start connects, registers, and waits for the welcome.
func (c *Client) Start() error {
	conn, err := net.DialTimeout("tcp", c.addr, 5*time.Second)
	if err != nil {
		return errors.Wrap(err, "error dialing")
	}
	c.conn = conn
	c.rw = bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))

	c.wg.Add(1)
	go c.reader()

	if err := c.Send(irc.Message{Command: "NICK", Params: []string{c.nick}}); err != nil {
		return err
	}
	if err := c.Send(irc.Message{
		Command: "USER",
		Params:  []string{c.nick, "0", "*", c.nick + " test"},
	}); err != nil {
		return err
	}

	m := c.WaitFor(func(m irc.Message) bool {
		return m.Command == irc.ReplyWelcome || m.Command == "433"
	})
	if m == nil {
		return errors.Errorf("%s did not get a welcome", c.nick)
	}
	if m.Command != irc.ReplyWelcome {
		return errors.Errorf("%s was refused: %s", c.nick, m.Command)
	}
	return nil
}

func (c *Client) reader() {
	defer c.wg.Done()
	defer close(c.recvChan)

	for {
		line, err := c.rw.ReadString('\n')
		if err != nil {
			return
		}

		m, err := irc.ParseMessage(line)
		if err != nil && err != irc.ErrTruncated {
			log.Printf("%s: unparsable line %q: %s", c.nick, line, err)
			continue
		}

		if m.Command == "PING" {
			_ = c.Send(irc.Message{Command: "PONG", Params: m.Params})
			continue
		}

		c.recvChan <- m
	}
}

// Send writes a message.
func (c *Client) Send(m irc.Message) error {
	buf, err := m.Encode()
	if err != nil && err != irc.ErrTruncated {
		return errors.Wrap(err, "unable to encode message")
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return errors.Wrap(err, "unable to set deadline")
	}
	if _, err := c.rw.WriteString(buf); err != nil {
		return errors.Wrap(err, "write failed")
	}
	return errors.Wrap(c.rw.Flush(), "flush failed")
}

// Sendf sends a raw line built from a format string.
func (c *Client) Sendf(format string, args ...interface{}) error {
	m, err := irc.ParseMessage(fmt.Sprintf(format, args...) + "\r\n")
	if err != nil {
		return errors.Wrap(err, "unable to parse message")
	}
	return c.Send(m)
}

// WaitFor returns the first message matching fn, or nil if none arrives in
// time. Messages read before it are discarded.
func (c *Client) WaitFor(fn func(irc.Message) bool) *irc.Message {
	timeout := time.After(10 * time.Second)
	for {
		select {
		case m, ok := <-c.recvChan:
			if !ok {
				return nil
			}
			if fn(m) {
				return &m
			}
		case <-timeout:
			return nil
		}
	}
}

// Collect returns everything received during d.
func (c *Client) Collect(d time.Duration) []irc.Message {
	var msgs []irc.Message
	timeout := time.After(d)
	for {
		select {
		case m, ok := <-c.recvChan:
			if !ok {
				return msgs
			}
			msgs = append(msgs, m)
		case <-timeout:
			return msgs
		}
	}
}

// Stop disconnects.
func (c *Client) Stop() {
	_ = c.Send(irc.Message{Command: "QUIT", Params: []string{"bye"}})
	_ = c.conn.Close()
	c.wg.Wait()
}

// isCommand matches messages with the given command whose parameters start
// with params.
func isCommand(command string, params ...string) func(irc.Message) bool {
	return func(m irc.Message) bool {
		if !strings.EqualFold(m.Command, command) || len(m.Params) < len(params) {
			return false
		}
		for i, p := range params {
			if m.Params[i] != p {
				return false
			}
		}
		return true
	}
}
