package main

import (
	"sort"

	"github.com/horgh/catlink/internal/wire"
)

// origin is the source of a routed message. Local clients see the full
// hostmask. Linked servers see the bare nickname, which they resolve
// themselves.
type origin struct {
	Local  string
	Remote string
}

func clientOrigin(c ClientInfo) origin {
	return origin{Local: c.Hostmask(), Remote: c.Nick()}
}

func serverOrigin(name string) origin {
	return origin{Local: name, Remote: name}
}

// The send functions below run on the database goroutine. Stream.Send does
// not block, so a slow peer never holds up the database.

func (s *State) sendToLocal(o origin, m wire.Message, lc *LocalClient) {
	m.Prefix = o.Local
	lc.Stream.Send(m)
	messagesRouted.WithLabelValues("client").Inc()
}

func (s *State) sendToServer(o origin, m wire.Message, name string) bool {
	is, ok := s.ImmediateServers[canonicalizeServer(name)]
	if !ok {
		return false
	}
	m.Prefix = o.Remote
	is.Stream.Send(m)
	messagesRouted.WithLabelValues("server").Inc()
	return true
}

// sendToClient writes to a local client's socket or forwards toward the link
// a remote client is behind. A remote client behind skipServer is not sent
// to, as that is where the message came from.
func (s *State) sendToClient(o origin, m wire.Message, nick,
	skipServer string) bool {
	key := canonicalizeNick(nick)
	if lc, ok := s.LocalClients[key]; ok {
		s.sendToLocal(o, m, lc)
		return true
	}
	if ec, ok := s.ExternalClients[key]; ok {
		if ec.Via == canonicalizeServer(skipServer) {
			return false
		}
		return s.sendToServer(o, m, ec.Via)
	}
	return false
}

// sendToChannel sends to every local member and once to each immediate
// server with at least one remote member behind it. skipNick and skipServer
// exclude the sender and the link the message arrived on.
func (s *State) sendToChannel(o origin, m wire.Message, channel, skipNick,
	skipServer string) (locals, servers int) {
	ch, ok := s.channel(channel)
	if !ok {
		return 0, 0
	}

	skipNick = canonicalizeNick(skipNick)
	skipServer = canonicalizeServer(skipServer)
	vias := map[string]struct{}{}

	for _, member := range ch.Members {
		key := canonicalizeNick(member)
		if key == skipNick {
			continue
		}
		if lc, ok := s.LocalClients[key]; ok {
			s.sendToLocal(o, m, lc)
			locals++
			continue
		}
		if ec, ok := s.ExternalClients[key]; ok && ec.Via != skipServer {
			vias[ec.Via] = struct{}{}
		}
	}

	if !ch.IsDistributed() {
		return locals, 0
	}

	names := make([]string, 0, len(vias))
	for via := range vias {
		names = append(names, via)
	}
	sort.Strings(names)
	for _, via := range names {
		if s.sendToServer(o, m, via) {
			servers++
		}
	}
	return locals, servers
}

// sendToAllServers writes to every immediate server except one.
func (s *State) sendToAllServers(o origin, m wire.Message, except string) int {
	except = canonicalizeServer(except)
	n := 0
	for key := range s.ImmediateServers {
		if key == except {
			continue
		}
		if s.sendToServer(o, m, key) {
			n++
		}
	}
	return n
}

// sendToNeighbours sends to each local client sharing a channel with nick,
// once each. nick itself is not sent to.
func (s *State) sendToNeighbours(o origin, m wire.Message, nick string) int {
	self := canonicalizeNick(nick)
	seen := map[string]struct{}{self: {}}
	n := 0
	for _, name := range s.channelsForClient(nick) {
		ch, _ := s.channel(name)
		for _, member := range ch.Members {
			key := canonicalizeNick(member)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			if lc, ok := s.LocalClients[key]; ok {
				s.sendToLocal(o, m, lc)
				n++
			}
		}
	}
	return n
}

// quitClient removes a client and tells its local neighbours. Linked servers
// other than skipServer are told too. A local client's stream is closed.
func (s *State) quitClient(nick, reason, skipServer string) (ClientInfo, bool) {
	info, ok := s.clientInfo(nick)
	if !ok {
		return ClientInfo{}, false
	}

	o := clientOrigin(info)
	s.sendToNeighbours(o, quitMessage("", reason), nick)
	s.sendToAllServers(o, quitMessage("", reason), skipServer)

	if lc, ok := s.LocalClients[canonicalizeNick(nick)]; ok {
		lc.Stream.Close()
	}
	s.removeClient(nick)
	return info, true
}

// splitResult describes what a netsplit removed.
type splitResult struct {
	Servers []string
	Clients []string
}

// netsplit removes a server, everything behind it, and every client on those
// servers. Each local neighbour of a removed client gets one QUIT for it.
// Linked servers are not told; the caller relays an SQUIT.
func (s *State) netsplit(name string) splitResult {
	tree := s.subtree(name)
	res := splitResult{Clients: s.clientsBehind(tree)}

	for _, nick := range res.Clients {
		info, ok := s.clientInfo(nick)
		if !ok {
			continue
		}
		s.sendToNeighbours(clientOrigin(info), quitMessage("", "Net split"), nick)
		s.removeClient(nick)
	}

	for key := range tree {
		if info, ok := s.serverInfo(key); ok {
			res.Servers = append(res.Servers, info.Name)
		}
		if is, ok := s.ImmediateServers[key]; ok {
			is.Stream.Close()
		}
		s.removeServer(key)
	}
	sort.Strings(res.Servers)

	netsplits.Inc()
	return res
}

// Router is the message routing fabric used by handlers.
type Router struct {
	db Handle
}

// SendToClient routes to a client wherever it is.
func (r Router) SendToClient(o origin, m wire.Message, nick string) (ok bool) {
	r.db.ask(func(s *State) { ok = s.sendToClient(o, m, nick, "") })
	return ok
}

// SendToServer writes to an immediate server.
func (r Router) SendToServer(o origin, m wire.Message, name string) (ok bool) {
	r.db.ask(func(s *State) { ok = s.sendToServer(o, m, name) })
	return ok
}

// SendToChannel fans out to a channel. See State.sendToChannel.
func (r Router) SendToChannel(o origin, m wire.Message, channel, skipNick,
	skipServer string) {
	r.db.ask(func(s *State) {
		s.sendToChannel(o, m, channel, skipNick, skipServer)
	})
}

// SendToAllServers writes to every immediate server except one.
func (r Router) SendToAllServers(o origin, m wire.Message, except string) {
	r.db.ask(func(s *State) { s.sendToAllServers(o, m, except) })
}

// SendToTarget routes to a channel or a client depending on the name.
func (r Router) SendToTarget(o origin, m wire.Message, target, skipNick,
	skipServer string) (ok bool) {
	r.db.ask(func(s *State) {
		if isChannelName(target) {
			if _, found := s.channel(target); found {
				s.sendToChannel(o, m, target, skipNick, skipServer)
				ok = true
			}
			return
		}
		ok = s.sendToClient(o, m, target, skipServer)
	})
	return ok
}

// SendToNeighbours sends to local clients sharing a channel with nick.
func (r Router) SendToNeighbours(o origin, m wire.Message, nick string) {
	r.db.ask(func(s *State) { s.sendToNeighbours(o, m, nick) })
}

// QuitClient removes a client and notifies everyone who needs to know.
func (r Router) QuitClient(nick, reason, skipServer string) (info ClientInfo,
	ok bool) {
	r.db.ask(func(s *State) { info, ok = s.quitClient(nick, reason, skipServer) })
	return info, ok
}

// Netsplit prunes a server and what is behind it.
func (r Router) Netsplit(name string) (res splitResult) {
	r.db.ask(func(s *State) { res = s.netsplit(name) })
	return res
}

// announceToChannel sends a change to a channel's state. Every local member
// except skipNick gets it, and for a distributed channel so does every linked
// server except skipServer, whether or not members are behind it.
func (s *State) announceToChannel(o origin, m wire.Message, channel, skipNick,
	skipServer string) {
	ch, ok := s.channel(channel)
	if !ok {
		return
	}
	skip := canonicalizeNick(skipNick)
	for _, member := range ch.Members {
		key := canonicalizeNick(member)
		if key == skip {
			continue
		}
		if lc, ok := s.LocalClients[key]; ok {
			s.sendToLocal(o, m, lc)
		}
	}
	if ch.IsDistributed() {
		s.sendToAllServers(o, m, skipServer)
	}
}
