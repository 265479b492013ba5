package main

import (
	"sort"

	"github.com/horgh/catlink/internal/wire"
)

func (s *State) addImmediateServer(is *ImmediateServer) error {
	if s.containsServer(is.Name) {
		return errServerExists
	}
	s.ImmediateServers[canonicalizeServer(is.Name)] = is
	return nil
}

func (s *State) addDistantServer(ds *DistantServer) error {
	if s.containsServer(ds.Name) {
		return errServerExists
	}
	s.DistantServers[canonicalizeServer(ds.Name)] = ds
	return nil
}

// containsServer includes ourself.
func (s *State) containsServer(name string) bool {
	key := canonicalizeServer(name)
	if key == canonicalizeServer(s.Name) {
		return true
	}
	if _, ok := s.ImmediateServers[key]; ok {
		return true
	}
	_, ok := s.DistantServers[key]
	return ok
}

func (s *State) isImmediateServer(name string) bool {
	_, ok := s.ImmediateServers[canonicalizeServer(name)]
	return ok
}

func (s *State) removeServer(name string) {
	key := canonicalizeServer(name)
	delete(s.ImmediateServers, key)
	delete(s.DistantServers, key)
}

func (s *State) serverStream(name string) (Stream, bool) {
	is, ok := s.ImmediateServers[canonicalizeServer(name)]
	if !ok {
		return nil, false
	}
	return is.Stream, true
}

// viaFor returns the canonical name of the immediate server on the path to
// a server.
func (s *State) viaFor(name string) (string, bool) {
	key := canonicalizeServer(name)
	if _, ok := s.ImmediateServers[key]; ok {
		return key, true
	}
	if ds, ok := s.DistantServers[key]; ok {
		return ds.Via, true
	}
	return "", false
}

func (s *State) serverInfo(name string) (ServerInfo, bool) {
	key := canonicalizeServer(name)
	if key == canonicalizeServer(s.Name) {
		return ServerInfo{Name: s.Name, Info: s.Info}, true
	}
	if is, ok := s.ImmediateServers[key]; ok {
		return ServerInfo{Name: is.Name, Info: is.Info, Hopcount: 1,
			Uplink: s.Name}, true
	}
	if ds, ok := s.DistantServers[key]; ok {
		uplink := ds.Uplink
		if up, ok := s.serverInfo(ds.Uplink); ok {
			uplink = up.Name
		}
		return ServerInfo{Name: ds.Name, Info: ds.Info, Hopcount: ds.Hopcount,
			Uplink: uplink}, true
	}
	return ServerInfo{}, false
}

// allServers lists every server except ourself, nearest first. A server
// always comes after its uplink.
func (s *State) allServers() []ServerInfo {
	var servers []ServerInfo
	for _, is := range s.ImmediateServers {
		info, _ := s.serverInfo(is.Name)
		servers = append(servers, info)
	}
	for _, ds := range s.DistantServers {
		info, _ := s.serverInfo(ds.Name)
		servers = append(servers, info)
	}
	sort.Slice(servers, func(i, j int) bool {
		if servers[i].Hopcount != servers[j].Hopcount {
			return servers[i].Hopcount < servers[j].Hopcount
		}
		return canonicalizeServer(servers[i].Name) <
			canonicalizeServer(servers[j].Name)
	})
	return servers
}

// subtree returns the canonical names of a server and every server behind
// it, as seen from us.
func (s *State) subtree(name string) map[string]struct{} {
	root := canonicalizeServer(name)
	tree := map[string]struct{}{root: {}}

	for {
		grew := false
		for key, ds := range s.DistantServers {
			if _, ok := tree[key]; ok {
				continue
			}
			if _, ok := tree[ds.Uplink]; ok {
				tree[key] = struct{}{}
				grew = true
			}
		}
		if !grew {
			return tree
		}
	}
}

// clientsBehind returns the nicknames of remote clients homed on any of the
// given servers.
func (s *State) clientsBehind(servers map[string]struct{}) []string {
	var nicks []string
	for _, ec := range s.ExternalClients {
		_, onServer := servers[canonicalizeServer(ec.Info.Servername)]
		_, viaServer := servers[ec.Via]
		if onServer || viaServer {
			nicks = append(nicks, ec.Info.Nick())
		}
	}
	sort.Strings(nicks)
	return nicks
}

type stats struct {
	LocalClients    int
	Clients         int
	Operators       int
	Channels        int
	Servers         int
	ImmediateServer int
}

func (s *State) stats() stats {
	st := stats{
		LocalClients:    len(s.LocalClients),
		Clients:         len(s.LocalClients) + len(s.ExternalClients),
		Channels:        len(s.Channels),
		Servers:         1 + len(s.ImmediateServers) + len(s.DistantServers),
		ImmediateServer: len(s.ImmediateServers),
	}
	for _, c := range s.allClients() {
		if c.IsOperator() {
			st.Operators++
		}
	}
	return st
}

// shutdown sends a final message on every stream and closes them.
func (s *State) shutdown(m wire.Message) {
	for _, lc := range s.LocalClients {
		lc.Stream.Send(m)
		lc.Stream.Close()
	}
	for _, is := range s.ImmediateServers {
		is.Stream.Send(m)
		is.Stream.Close()
	}
}

// Handle wrappers.

// AddImmediateServer records a direct link.
func (h Handle) AddImmediateServer(is *ImmediateServer) (err error) {
	err = errServerExists
	h.ask(func(s *State) { err = s.addImmediateServer(is) })
	return err
}

// AddDistantServer records a server introduced over a link.
func (h Handle) AddDistantServer(ds *DistantServer) (err error) {
	err = errServerExists
	h.ask(func(s *State) { err = s.addDistantServer(ds) })
	return err
}

func (h Handle) ContainsServer(name string) (ok bool) {
	h.ask(func(s *State) { ok = s.containsServer(name) })
	return ok
}

func (h Handle) IsImmediateServer(name string) (ok bool) {
	h.ask(func(s *State) { ok = s.isImmediateServer(name) })
	return ok
}

// RemoveServer forgets a server record only. See Router.Netsplit for removing
// what is behind it.
func (h Handle) RemoveServer(name string) {
	h.tell(func(s *State) { s.removeServer(name) })
}

func (h Handle) ServerStream(name string) (stream Stream, ok bool) {
	h.ask(func(s *State) { stream, ok = s.serverStream(name) })
	return stream, ok
}

func (h Handle) AllServers() (servers []ServerInfo) {
	h.ask(func(s *State) { servers = s.allServers() })
	return servers
}

func (h Handle) ServerInfo(name string) (info ServerInfo, ok bool) {
	h.ask(func(s *State) { info, ok = s.serverInfo(name) })
	return info, ok
}

// ViaFor returns the immediate server on the path to a server.
func (h Handle) ViaFor(name string) (via string, ok bool) {
	h.ask(func(s *State) { via, ok = s.viaFor(name) })
	return via, ok
}

// ServerName is our own name.
func (h Handle) ServerName() (name string) {
	h.ask(func(s *State) { name = s.Name })
	return name
}

func (h Handle) Stats() (st stats) {
	h.ask(func(s *State) { st = s.stats() })
	return st
}

// Shutdown sends m to every connection and closes them all.
func (h Handle) Shutdown(m wire.Message) {
	h.ask(func(s *State) { s.shutdown(m) })
}
