package main

import (
	"log/slog"
)

// State is everything the server knows. Only the Database goroutine touches
// it.
type State struct {
	Name string
	Info string

	// Operator name to password. Passwords may be bcrypt hashes.
	Credentials map[string]string

	// All maps are keyed by canonical name.
	LocalClients     map[string]*LocalClient
	ExternalClients  map[string]*ExternalClient
	Channels         map[string]*Channel
	ImmediateServers map[string]*ImmediateServer
	DistantServers   map[string]*DistantServer

	// Most recent last.
	whowas []ClientInfo
}

func newState(name, info string, credentials map[string]string) *State {
	if credentials == nil {
		credentials = map[string]string{}
	}
	return &State{
		Name:             name,
		Info:             info,
		Credentials:      credentials,
		LocalClients:     map[string]*LocalClient{},
		ExternalClients:  map[string]*ExternalClient{},
		Channels:         map[string]*Channel{},
		ImmediateServers: map[string]*ImmediateServer{},
		DistantServers:   map[string]*DistantServer{},
	}
}

type request struct {
	fn func(*State)

	// Closed once fn ran. Nil for requests nobody waits on.
	done chan struct{}
}

// Database owns the State. Requests are closures run one at a time on its
// goroutine, so every operation is linearizable with respect to the others.
type Database struct {
	state    *State
	requests chan request
	quit     chan struct{}
	stopped  chan struct{}
	log      *slog.Logger
}

// NewDatabase creates a database. Call Run to start it.
func NewDatabase(name, info string, credentials map[string]string,
	log *slog.Logger) *Database {
	return &Database{
		state:    newState(name, info, credentials),
		requests: make(chan request, 1024),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		log:      log,
	}
}

// Run processes requests until Stop.
func (d *Database) Run() {
	defer close(d.stopped)

	for {
		select {
		case r := <-d.requests:
			d.exec(r)
		case <-d.quit:
			// Finish what is queued so nobody waits forever.
			for {
				select {
				case r := <-d.requests:
					d.exec(r)
				default:
					d.log.Debug("database stopped")
					return
				}
			}
		}
	}
}

func (d *Database) exec(r request) {
	r.fn(d.state)
	if r.done != nil {
		close(r.done)
	}
}

// Stop ends Run. Requests made afterwards are dropped and queries return zero
// values.
func (d *Database) Stop() {
	select {
	case <-d.quit:
	default:
		close(d.quit)
	}
	<-d.stopped
}

// Handle gives access to the database.
func (d *Database) Handle() Handle {
	return Handle{requests: d.requests, stopped: d.stopped, quit: d.quit}
}

// Handle is a cheap value used to talk to the Database. Copy it freely.
type Handle struct {
	requests chan<- request
	quit     <-chan struct{}
	stopped  <-chan struct{}
}

// tell queues a mutation and returns without waiting for it.
func (h Handle) tell(fn func(*State)) {
	select {
	case <-h.quit:
		return
	default:
	}

	select {
	case h.requests <- request{fn: fn}:
	case <-h.stopped:
	}
}

// ask runs fn on the database goroutine and waits for it.
func (h Handle) ask(fn func(*State)) {
	select {
	case <-h.quit:
		return
	default:
	}

	r := request{fn: fn, done: make(chan struct{})}
	select {
	case h.requests <- r:
	case <-h.stopped:
		return
	}

	select {
	case <-r.done:
	case <-h.stopped:
	}
}
