package main

import (
	"sort"

	"github.com/pkg/errors"
)

var (
	errNicknameTaken   = errors.New("nickname in use")
	errClientNotFound  = errors.New("no such client")
	errServerExists    = errors.New("server already exists")
	errServerNotFound  = errors.New("no such server")
	errChannelNotFound = errors.New("no such channel")
)

func (s *State) lookupClient(nick string) (*ClientInfo, bool) {
	cn := canonicalizeNick(nick)
	if lc, ok := s.LocalClients[cn]; ok {
		return &lc.Info, true
	}
	if ec, ok := s.ExternalClients[cn]; ok {
		return &ec.Info, true
	}
	return nil, false
}

func (s *State) containsClient(nick string) bool {
	_, ok := s.lookupClient(nick)
	return ok
}

func (s *State) addLocalClient(lc *LocalClient) error {
	if s.containsClient(lc.Info.Nick()) {
		return errNicknameTaken
	}
	s.LocalClients[canonicalizeNick(lc.Info.Nick())] = lc
	return nil
}

func (s *State) addExternalClient(ec *ExternalClient) error {
	if s.containsClient(ec.Info.Nick()) {
		return errNicknameTaken
	}
	s.ExternalClients[canonicalizeNick(ec.Info.Nick())] = ec
	return nil
}

// updateNickname renames a client and every channel reference to it in one
// step.
func (s *State) updateNickname(oldNick, newNick string) error {
	oldKey := canonicalizeNick(oldNick)
	newKey := canonicalizeNick(newNick)

	info, ok := s.lookupClient(oldNick)
	if !ok {
		return errClientNotFound
	}
	if oldKey != newKey && s.containsClient(newNick) {
		return errNicknameTaken
	}

	current := info.Nick()
	info.Nicknames = append(info.Nicknames, newNick)

	if lc, ok := s.LocalClients[oldKey]; ok {
		delete(s.LocalClients, oldKey)
		s.LocalClients[newKey] = lc
	}
	if ec, ok := s.ExternalClients[oldKey]; ok {
		delete(s.ExternalClients, oldKey)
		s.ExternalClients[newKey] = ec
	}

	for _, ch := range s.Channels {
		if i := ch.memberIndex(current); i != -1 {
			ch.Members[i] = newNick
		}
		renameKey(ch.Config.Operators, oldKey, newKey)
		renameKey(ch.Config.Speakers, oldKey, newKey)
		renameKey(ch.Config.Invited, oldKey, newKey)
	}

	return nil
}

func renameKey(m map[string]struct{}, from, to string) {
	if _, ok := m[from]; !ok {
		return
	}
	delete(m, from)
	m[to] = struct{}{}
}

// removeClient deletes a client and its memberships. Channels left empty are
// deleted. The departed nickname goes into the WHOWAS history.
func (s *State) removeClient(nick string) (ClientInfo, bool) {
	key := canonicalizeNick(nick)

	info, ok := s.lookupClient(nick)
	if !ok {
		return ClientInfo{}, false
	}
	removed := info.clone()

	for _, ch := range s.channelsForClient(nick) {
		s.removeClientFromChannel(nick, ch)
	}
	for _, ch := range s.Channels {
		delete(ch.Config.Invited, key)
	}

	delete(s.LocalClients, key)
	delete(s.ExternalClients, key)

	s.whowas = append(s.whowas, removed)
	if len(s.whowas) > whowasLength {
		s.whowas = s.whowas[len(s.whowas)-whowasLength:]
	}

	return removed, true
}

// disconnectClient closes a local client's stream. Its record stays until
// removeClient.
func (s *State) disconnectClient(nick string) bool {
	lc, ok := s.LocalClients[canonicalizeNick(nick)]
	if !ok {
		return false
	}
	lc.Stream.Close()
	return true
}

func (s *State) clientInfo(nick string) (ClientInfo, bool) {
	info, ok := s.lookupClient(nick)
	if !ok {
		return ClientInfo{}, false
	}
	return info.clone(), true
}

func (s *State) localStream(nick string) (Stream, bool) {
	lc, ok := s.LocalClients[canonicalizeNick(nick)]
	if !ok {
		return nil, false
	}
	return lc.Stream, true
}

// immediateServerFor returns the canonical name of the link a remote client
// is reachable through.
func (s *State) immediateServerFor(nick string) (string, bool) {
	ec, ok := s.ExternalClients[canonicalizeNick(nick)]
	if !ok {
		return "", false
	}
	return ec.Via, true
}

func (s *State) isLocalClient(nick string) bool {
	_, ok := s.LocalClients[canonicalizeNick(nick)]
	return ok
}

func (s *State) setUserFlag(nick string, flag UserFlags, on bool) bool {
	info, ok := s.lookupClient(nick)
	if !ok {
		return false
	}
	if on {
		info.Flags |= flag
	} else {
		info.Flags &^= flag
	}
	return true
}

func (s *State) setAwayMessage(nick, message string) bool {
	info, ok := s.lookupClient(nick)
	if !ok {
		return false
	}
	info.Away = message
	if message == "" {
		info.Flags &^= UserAway
	} else {
		info.Flags |= UserAway
	}
	return true
}

func (s *State) allClients() []ClientInfo {
	clients := make([]ClientInfo, 0, len(s.LocalClients)+len(s.ExternalClients))
	for _, lc := range s.LocalClients {
		clients = append(clients, lc.Info.clone())
	}
	for _, ec := range s.ExternalClients {
		clients = append(clients, ec.Info.clone())
	}
	sort.Slice(clients, func(i, j int) bool {
		return canonicalizeNick(clients[i].Nick()) <
			canonicalizeNick(clients[j].Nick())
	})
	return clients
}

func (s *State) clientsForMask(m string) []ClientInfo {
	var clients []ClientInfo
	for _, c := range s.allClients() {
		if c.MatchesMask(m) {
			clients = append(clients, c)
		}
	}
	return clients
}

func (s *State) clientsForNickmask(m string) []ClientInfo {
	var clients []ClientInfo
	for _, c := range s.allClients() {
		if matchNick(m, c.Nick()) {
			clients = append(clients, c)
		}
	}
	return clients
}

func (s *State) whowasHistory(nick string) []ClientInfo {
	key := canonicalizeNick(nick)
	var found []ClientInfo
	for i := len(s.whowas) - 1; i >= 0; i-- {
		if canonicalizeNick(s.whowas[i].Nick()) == key {
			found = append(found, s.whowas[i].clone())
		}
	}
	return found
}

// Handle wrappers.

// AddLocalClient registers a client connected to us.
func (h Handle) AddLocalClient(lc *LocalClient) (err error) {
	err = errNicknameTaken
	h.ask(func(s *State) { err = s.addLocalClient(lc) })
	return err
}

// AddExternalClient records a client introduced by a linked server.
func (h Handle) AddExternalClient(ec *ExternalClient) (err error) {
	err = errNicknameTaken
	h.ask(func(s *State) { err = s.addExternalClient(ec) })
	return err
}

// UpdateNickname renames a client, rewriting channel membership.
func (h Handle) UpdateNickname(oldNick, newNick string) (err error) {
	err = errClientNotFound
	h.ask(func(s *State) { err = s.updateNickname(oldNick, newNick) })
	return err
}

// DisconnectClient closes a local client's socket.
func (h Handle) DisconnectClient(nick string) {
	h.tell(func(s *State) { s.disconnectClient(nick) })
}

// RemoveClient forgets a client entirely.
func (h Handle) RemoveClient(nick string) (info ClientInfo, ok bool) {
	h.ask(func(s *State) { info, ok = s.removeClient(nick) })
	return info, ok
}

// ClientInfo looks up a client by nickname.
func (h Handle) ClientInfo(nick string) (info ClientInfo, ok bool) {
	h.ask(func(s *State) { info, ok = s.clientInfo(nick) })
	return info, ok
}

// LocalStream returns the stream of a local client.
func (h Handle) LocalStream(nick string) (stream Stream, ok bool) {
	h.ask(func(s *State) { stream, ok = s.localStream(nick) })
	return stream, ok
}

// ImmediateServerFor returns the link a remote client is behind.
func (h Handle) ImmediateServerFor(nick string) (name string, ok bool) {
	h.ask(func(s *State) { name, ok = s.immediateServerFor(nick) })
	return name, ok
}

func (h Handle) ContainsClient(nick string) (ok bool) {
	h.ask(func(s *State) { ok = s.containsClient(nick) })
	return ok
}

func (h Handle) IsLocalClient(nick string) (ok bool) {
	h.ask(func(s *State) { ok = s.isLocalClient(nick) })
	return ok
}

func (h Handle) SetServerOperator(nick string) {
	h.tell(func(s *State) { s.setUserFlag(nick, UserOperator, true) })
}

func (h Handle) IsServerOperator(nick string) (ok bool) {
	h.ask(func(s *State) {
		info, found := s.lookupClient(nick)
		ok = found && info.IsOperator()
	})
	return ok
}

// SetUserFlag sets or clears a user mode.
func (h Handle) SetUserFlag(nick string, flag UserFlags, on bool) {
	h.tell(func(s *State) { s.setUserFlag(nick, flag, on) })
}

// SetAwayMessage marks a client away. An empty message marks it back.
func (h Handle) SetAwayMessage(nick, message string) {
	h.tell(func(s *State) { s.setAwayMessage(nick, message) })
}

// AwayMessage returns the away message if the client is away.
func (h Handle) AwayMessage(nick string) (message string, ok bool) {
	h.ask(func(s *State) {
		info, found := s.lookupClient(nick)
		if found && info.IsAway() {
			message, ok = info.Away, true
		}
	})
	return message, ok
}

func (h Handle) AllClients() (clients []ClientInfo) {
	h.ask(func(s *State) { clients = s.allClients() })
	return clients
}

func (h Handle) ClientsForMask(m string) (clients []ClientInfo) {
	h.ask(func(s *State) { clients = s.clientsForMask(m) })
	return clients
}

func (h Handle) ClientsForNickmask(m string) (clients []ClientInfo) {
	h.ask(func(s *State) { clients = s.clientsForNickmask(m) })
	return clients
}

// Whowas returns departed clients that used the nickname, newest first.
func (h Handle) Whowas(nick string) (clients []ClientInfo) {
	h.ask(func(s *State) { clients = s.whowasHistory(nick) })
	return clients
}

// OperatorPassword returns the configured password for an operator name.
func (h Handle) OperatorPassword(name string) (password string, ok bool) {
	h.ask(func(s *State) { password, ok = s.Credentials[name] })
	return password, ok
}
