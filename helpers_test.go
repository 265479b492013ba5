package main

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/horgh/catlink/internal/wire"
)

// fakeStream records what is sent to it.
type fakeStream struct {
	mu     sync.Mutex
	msgs   []wire.Message
	closed bool
}

func (f *fakeStream) Send(m wire.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, m)
}

func (f *fakeStream) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

// take returns the recorded messages and forgets them.
func (f *fakeStream) take() []wire.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.msgs
	f.msgs = nil
	return msgs
}

func (f *fakeStream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// commands lists the commands of messages.
func commands(msgs []wire.Message) []string {
	var out []string
	for _, m := range msgs {
		out = append(out, m.Command)
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startDatabase runs a database for the length of a test.
func startDatabase(t *testing.T, name string) Handle {
	t.Helper()
	db := NewDatabase(name, "test server", map[string]string{}, discardLogger())
	go db.Run()
	t.Cleanup(db.Stop)
	return db.Handle()
}

func localClient(nick string) (*LocalClient, *fakeStream) {
	fs := &fakeStream{}
	return &LocalClient{
		Info: ClientInfo{
			Nicknames:  []string{nick},
			Username:   nick,
			Hostname:   "127.0.0.1",
			Servername: "irc.test",
			Realname:   nick,
		},
		Stream: fs,
		ID:     nick,
	}, fs
}

func externalClient(nick, server, via string, hop int) *ExternalClient {
	return &ExternalClient{
		Info: ClientInfo{
			Nicknames:  []string{nick},
			Username:   nick,
			Hostname:   "example.org",
			Servername: server,
			Realname:   nick,
			Hopcount:   hop,
		},
		Via: canonicalizeServer(via),
	}
}

// testState builds a state directly for tests that run on one goroutine.
func testState() *State {
	return newState("irc.test", "test server", nil)
}

func linkServerTo(s *State, name string) *fakeStream {
	fs := &fakeStream{}
	s.ImmediateServers[canonicalizeServer(name)] = &ImmediateServer{
		Name: name, Info: name, Stream: fs, ID: name,
	}
	return fs
}
