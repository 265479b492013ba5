package main

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/horgh/catlink/internal/wire"
	"github.com/pkg/errors"
)

const dialTimeout = 10 * time.Second

// linkServer records a new immediate server, sends it everything we know,
// and introduces it to our other links. It all happens in one database step
// so nothing routed afterwards can overtake the burst.
func (s *State) linkServer(is *ImmediateServer) error {
	if err := s.addImmediateServer(is); err != nil {
		return err
	}

	for _, m := range s.burst(is.Name) {
		is.Stream.Send(m)
	}

	s.sendToAllServers(serverOrigin(s.Name),
		serverMessage("", is.Name, 2, is.Info), is.Name)
	return nil
}

// burst is the state dump for a newly linked server: clients, then their
// operator and away status, then channels, then the servers behind us.
func (s *State) burst(to string) []wire.Message {
	skip := canonicalizeServer(to)
	var msgs []wire.Message

	var clients []ClientInfo
	for _, c := range s.allClients() {
		if via, ok := s.immediateServerFor(c.Nick()); ok && via == skip {
			continue
		}
		clients = append(clients, c)
	}

	for _, c := range clients {
		msgs = append(msgs,
			wire.NewMessage("", "NICK", c.Nick(), strconv.Itoa(c.Hopcount+1)),
			userMessage(c),
		)
	}

	for _, c := range clients {
		if c.IsOperator() {
			msgs = append(msgs, modeMessage(c.Nick(), c.Nick(), []string{"+o"}))
		}
		if c.IsAway() {
			msgs = append(msgs, awayMessage(c.Nick(), c.Away))
		}
	}

	for _, ch := range s.allChannels() {
		if !ch.IsDistributed() {
			continue
		}
		msgs = append(msgs, channelBurst(s.Name, ch, skip, s)...)
	}

	for _, srv := range s.allServers() {
		if canonicalizeServer(srv.Name) == skip {
			continue
		}
		if via, ok := s.viaFor(srv.Name); ok && via == skip {
			continue
		}
		msgs = append(msgs, serverMessage(srv.Uplink, srv.Name, srv.Hopcount+1,
			srv.Info))
	}

	return msgs
}

// channelBurst rebuilds a channel on the far side: the JOINs, then MODE
// lines for flags, limit, key, operators, bans and speakers, then the topic.
func channelBurst(self string, ch Channel, skip string, s *State) []wire.Message {
	var msgs []wire.Message

	var members []string
	for _, m := range ch.Members {
		if via, ok := s.immediateServerFor(m); ok && via == skip {
			continue
		}
		members = append(members, m)
		msgs = append(msgs, joinMessage(m, ch.Name))
	}
	if len(members) == 0 {
		return nil
	}

	cfg := ch.Config
	if cfg.Flags != 0 {
		msgs = append(msgs, modeMessage(self, ch.Name, []string{cfg.Flags.String()}))
	}
	if cfg.HasLimit {
		msgs = append(msgs, modeMessage(self, ch.Name,
			[]string{"+l", strconv.Itoa(cfg.Limit)}))
	}
	if cfg.Key != "" {
		msgs = append(msgs, modeMessage(self, ch.Name, []string{"+k", cfg.Key}))
	}
	for _, m := range members {
		if cfg.IsOperator(m) {
			msgs = append(msgs, modeMessage(self, ch.Name, []string{"+o", m}))
		}
	}
	for _, b := range cfg.Banmasks {
		msgs = append(msgs, modeMessage(self, ch.Name, []string{"+b", b}))
	}
	for _, m := range members {
		if cfg.IsSpeaker(m) {
			msgs = append(msgs, modeMessage(self, ch.Name, []string{"+v", m}))
		}
	}
	if ch.Topic != "" {
		msgs = append(msgs, topicMessage(self, ch.Name, ch.Topic))
	}

	return msgs
}

// connectToServer dials a server and runs the link until it ends. It takes a
// slot in the connection pool like an inbound connection does.
func (s *Server) connectToServer(ctx context.Context, link LinkConfig) error {
	if err := s.pool.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, "waiting for a connection slot")
	}
	defer s.pool.Release(1)

	d := net.Dialer{Timeout: dialTimeout}
	nc, err := d.DialContext(ctx, "tcp", link.Address)
	if err != nil {
		return errors.Wrapf(err, "error dialing %s", link.Address)
	}

	connectionsAccepted.WithLabelValues("outgoing").Inc()

	c := newConn(nc, s.Config.WriteTimeout, s.log)
	c.log.Info("connected to server", "address", link.Address)
	s.serveConn(ctx, c, &link)
	return nil
}

// linkForAddress finds a configured link by address, for --link arguments.
// Unknown addresses get an unnamed definition.
func (c Config) linkForAddress(addr string) LinkConfig {
	for _, l := range c.Links {
		if l.Address == addr {
			return l
		}
	}
	return LinkConfig{Address: addr}
}
