package main

import (
	"strconv"
	"strings"

	"github.com/horgh/catlink/internal/wire"
)

// maxNickLengthLinked is the longest nickname we accept from a link. Other
// servers may allow longer ones than we do.
const maxNickLengthLinked = 30

// serverHandler serves a linked server. Everything it receives names its
// source in the prefix. Messages we can't make sense of are dropped, not
// answered, so a confused peer can't start a storm.
type serverHandler struct {
	server *Server
	conn   *conn

	// The peer's name as it introduced itself.
	name string

	// Clients introduced with NICK whose USER has not arrived. Canonical
	// nick to hopcount.
	pending map[string]int
}

func newServerHandler(s *Server, c *conn, name string) *serverHandler {
	return &serverHandler{
		server:  s,
		conn:    c,
		name:    name,
		pending: map[string]int{},
	}
}

// terminate splits the link and tells our other links.
func (h *serverHandler) terminate(reason string) {
	var split splitResult
	h.server.DB.ask(func(s *State) {
		if !s.isImmediateServer(h.name) {
			return
		}
		split = s.netsplit(h.name)
		s.sendToAllServers(serverOrigin(s.Name), squitMessage("", h.name, reason), "")
	})
	if len(split.Servers) > 0 {
		h.conn.log.Info("server link lost", "server", h.name, "reason", reason,
			"servers", split.Servers, "clients", len(split.Clients))
	}
}

func (h *serverHandler) drop(m wire.Message, why string) commandHandler {
	h.conn.log.Debug("dropping message from server", "server", h.name,
		"message", m.String(), "reason", why)
	return h
}

func (h *serverHandler) handle(m wire.Message) commandHandler {
	cmd := strings.ToUpper(m.Command)
	commandsProcessed.WithLabelValues("server", cmd).Inc()

	switch cmd {
	case "NICK":
		return h.nickCommand(m)
	case "USER":
		return h.userCommand(m)
	case "PRIVMSG", "NOTICE":
		return h.privmsgCommand(m)
	case "JOIN":
		return h.joinCommand(m)
	case "PART":
		return h.partCommand(m)
	case "KICK":
		return h.kickCommand(m)
	case "TOPIC":
		return h.topicCommand(m)
	case "INVITE":
		return h.inviteCommand(m)
	case "AWAY":
		return h.awayCommand(m)
	case "MODE":
		return h.modeCommand(m)
	case "QUIT":
		return h.quitCommand(m)
	case "SERVER":
		return h.serverCommand(m)
	case "SQUIT":
		return h.squitCommand(m)
	case "KILL":
		return h.killCommand(m)
	case "PING":
		h.conn.Send(pongMessage(h.server.Config.ServerName,
			h.server.Config.ServerName, firstArg(m)))
		return h
	case "PONG":
		return h
	case "ERROR":
		h.conn.log.Info("server sent ERROR", "server", h.name, "text", firstArg(m))
		h.terminate(firstArg(m))
		return nil
	}

	if isNumericCommand(cmd) {
		return h
	}
	return h.drop(m, "unknown command")
}

// sourceClient resolves a prefix naming a client behind this link.
func (h *serverHandler) sourceClient(s *State, prefix string) (ClientInfo, bool) {
	if prefix == "" {
		return ClientInfo{}, false
	}
	ec, ok := s.ExternalClients[canonicalizeNick(prefix)]
	if !ok || ec.Via != canonicalizeServer(h.name) {
		return ClientInfo{}, false
	}
	return ec.Info, true
}

// sourceServer resolves a prefix naming this link or a server behind it.
// An empty prefix is the link itself.
func (h *serverHandler) sourceServer(s *State, prefix string) (string, bool) {
	if prefix == "" || canonicalizeServer(prefix) == canonicalizeServer(h.name) {
		return h.name, true
	}
	via, ok := s.viaFor(prefix)
	if !ok || via != canonicalizeServer(h.name) {
		return "", false
	}
	info, _ := s.serverInfo(prefix)
	return info.Name, true
}

// source resolves a prefix that may name a client or a server.
func (h *serverHandler) source(s *State, prefix string) (origin, bool) {
	if info, ok := h.sourceClient(s, prefix); ok {
		return clientOrigin(info), true
	}
	if name, ok := h.sourceServer(s, prefix); ok {
		return serverOrigin(name), true
	}
	return origin{}, false
}

// NICK <nick> <hopcount> introduces a client. :<old> NICK <new> renames one.
func (h *serverHandler) nickCommand(m wire.Message) commandHandler {
	args := m.Args()
	if len(args) == 0 {
		return h.drop(m, "no nickname")
	}
	nick := args[0]

	ok := true
	h.server.DB.ask(func(s *State) {
		if info, found := h.sourceClient(s, m.Prefix); found {
			ok = h.renameClient(s, info, nick)
			return
		}
		if m.Prefix != "" && !s.containsServer(m.Prefix) {
			ok = false
			return
		}

		hop := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				ok = false
				return
			}
			hop = n
		}

		if s.containsClient(nick) {
			s.nickCollision(nick)
			delete(h.pending, canonicalizeNick(nick))
			return
		}
		h.pending[canonicalizeNick(nick)] = hop
	})
	if !ok {
		return h.drop(m, "bad NICK")
	}
	return h
}

func (h *serverHandler) renameClient(s *State, info ClientInfo, nick string) bool {
	if !isValidNick(maxNickLengthLinked, nick) {
		return false
	}
	if s.containsClient(nick) &&
		canonicalizeNick(nick) != canonicalizeNick(info.Nick()) {
		s.nickCollision(nick)
		s.killClient(serverOrigin(s.Name), info.Nick(), "Nick collision", "")
		return true
	}
	if err := s.updateNickname(info.Nick(), nick); err != nil {
		return false
	}
	o := clientOrigin(info)
	s.sendToNeighbours(o, nickMessage("", nick), nick)
	s.sendToAllServers(o, nickMessage("", nick), h.name)
	return true
}

// nickCollision removes a client whose nickname turned up twice. Every
// linked server is told to kill it, so the other holder goes too.
func (s *State) nickCollision(nick string) {
	if lc, ok := s.LocalClients[canonicalizeNick(nick)]; ok {
		lc.Stream.Send(errNickCollision(lc.Info.Nick()).Message(s.Name,
			lc.Info.Nick()))
	}
	s.killClient(serverOrigin(s.Name), nick, "Nick collision", "")
}

// :<nick> USER <user> <host> <server> :<realname> completes an introduction.
func (h *serverHandler) userCommand(m wire.Message) commandHandler {
	args := m.Args()
	if len(args) < 4 || m.Prefix == "" {
		return h.drop(m, "malformed USER")
	}

	key := canonicalizeNick(m.Prefix)
	hop, ok := h.pending[key]
	if !ok {
		return h.drop(m, "USER without NICK")
	}
	delete(h.pending, key)

	ec := &ExternalClient{
		Info: ClientInfo{
			Nicknames:  []string{m.Prefix},
			Username:   args[0],
			Hostname:   args[1],
			Servername: args[2],
			Realname:   args[3],
			Hopcount:   hop,
		},
		Via: canonicalizeServer(h.name),
	}

	var err error
	h.server.DB.ask(func(s *State) {
		if err = s.addExternalClient(ec); err != nil {
			return
		}
		s.sendToAllServers(serverOrigin(""),
			wire.NewMessage("", "NICK", m.Prefix, strconv.Itoa(hop+1)), h.name)
		s.sendToAllServers(clientOrigin(ec.Info), userMessage(ec.Info), h.name)
	})
	if err != nil {
		return h.drop(m, err.Error())
	}
	return h
}

func (h *serverHandler) privmsgCommand(m wire.Message) commandHandler {
	args := m.Args()
	if len(args) < 2 {
		return h.drop(m, "malformed message")
	}

	ok := true
	h.server.DB.ask(func(s *State) {
		o, found := h.source(s, m.Prefix)
		if !found {
			ok = false
			return
		}
		for _, target := range splitList(args[0]) {
			msg := wire.NewMessage("", m.Command, target).WithTrailing(args[1])
			if isChannelName(target) {
				s.sendToChannel(o, msg, target, o.Remote, h.name)
				continue
			}
			s.sendToClient(o, msg, target, h.name)
		}
	})
	if !ok {
		return h.drop(m, "unknown source")
	}
	return h
}

func (h *serverHandler) joinCommand(m wire.Message) commandHandler {
	args := m.Args()
	if len(args) == 0 {
		return h.drop(m, "malformed JOIN")
	}

	ok := true
	h.server.DB.ask(func(s *State) {
		info, found := h.sourceClient(s, m.Prefix)
		if !found {
			ok = false
			return
		}
		for _, name := range splitList(args[0]) {
			if !isDistributedChannel(name) || !isValidChannel(name) ||
				s.isClientInChannel(info.Nick(), name) {
				continue
			}
			s.addClientToChannel(info.Nick(), name)
			s.announceToChannel(clientOrigin(info), joinMessage("", name), name,
				"", h.name)
		}
	})
	if !ok {
		return h.drop(m, "unknown source")
	}
	return h
}

func (h *serverHandler) partCommand(m wire.Message) commandHandler {
	args := m.Args()
	if len(args) == 0 {
		return h.drop(m, "malformed PART")
	}
	message := ""
	if len(args) > 1 {
		message = args[1]
	}

	ok := true
	h.server.DB.ask(func(s *State) {
		info, found := h.sourceClient(s, m.Prefix)
		if !found {
			ok = false
			return
		}
		for _, name := range splitList(args[0]) {
			if !s.isClientInChannel(info.Nick(), name) {
				continue
			}
			s.announceToChannel(clientOrigin(info),
				partMessage("", name, message), name, "", h.name)
			s.removeClientFromChannel(info.Nick(), name)
		}
	})
	if !ok {
		return h.drop(m, "unknown source")
	}
	return h
}

func (h *serverHandler) kickCommand(m wire.Message) commandHandler {
	args := m.Args()
	if len(args) < 2 {
		return h.drop(m, "malformed KICK")
	}
	reason := ""
	if len(args) > 2 {
		reason = args[2]
	}

	ok := true
	h.server.DB.ask(func(s *State) {
		o, found := h.source(s, m.Prefix)
		if !found {
			ok = false
			return
		}
		ch, found := s.channel(args[0])
		if !found {
			return
		}
		i := ch.memberIndex(args[1])
		if i == -1 {
			return
		}
		victim := ch.Members[i]
		s.announceToChannel(o, kickMessage("", ch.Name, victim, reason), ch.Name,
			"", h.name)
		s.removeClientFromChannel(victim, ch.Name)
	})
	if !ok {
		return h.drop(m, "unknown source")
	}
	return h
}

func (h *serverHandler) topicCommand(m wire.Message) commandHandler {
	args := m.Args()
	if len(args) < 2 {
		return h.drop(m, "malformed TOPIC")
	}

	ok := true
	h.server.DB.ask(func(s *State) {
		o, found := h.source(s, m.Prefix)
		if !found {
			ok = false
			return
		}
		if !s.setChannelTopic(args[0], args[1]) {
			return
		}
		s.announceToChannel(o, topicMessage("", args[0], args[1]), args[0], "",
			h.name)
	})
	if !ok {
		return h.drop(m, "unknown source")
	}
	return h
}

func (h *serverHandler) inviteCommand(m wire.Message) commandHandler {
	args := m.Args()
	if len(args) < 2 {
		return h.drop(m, "malformed INVITE")
	}

	ok := true
	h.server.DB.ask(func(s *State) {
		info, found := h.sourceClient(s, m.Prefix)
		if !found {
			ok = false
			return
		}
		target, found := s.clientInfo(args[0])
		if !found {
			return
		}
		s.addInvite(args[1], target.Nick())
		s.sendToClient(clientOrigin(info), inviteMessage("", target.Nick(), args[1]),
			target.Nick(), h.name)
	})
	if !ok {
		return h.drop(m, "unknown source")
	}
	return h
}

func (h *serverHandler) awayCommand(m wire.Message) commandHandler {
	message := firstArg(m)

	ok := true
	h.server.DB.ask(func(s *State) {
		info, found := h.sourceClient(s, m.Prefix)
		if !found {
			ok = false
			return
		}
		s.setAwayMessage(info.Nick(), message)
		s.sendToAllServers(clientOrigin(info), awayMessage("", message), h.name)
	})
	if !ok {
		return h.drop(m, "unknown source")
	}
	return h
}

// MODE from a server is trusted: operator checks happened where the command
// was issued.
func (h *serverHandler) modeCommand(m wire.Message) commandHandler {
	args := m.Args()
	if len(args) < 2 {
		return h.drop(m, "malformed MODE")
	}
	target := args[0]

	if isChannelName(target) {
		changes, err := parseChannelModes(args[1], args[2:])
		if err != nil {
			return h.drop(m, err.Error())
		}
		ok := true
		h.server.DB.ask(func(s *State) {
			o, found := h.source(s, m.Prefix)
			if !found {
				ok = false
				return
			}
			applied, _ := s.applyChannelModes(target, changes)
			if len(applied) == 0 {
				return
			}
			s.announceToChannel(o, modeMessage("", target, formatModes(applied)),
				target, "", h.name)
		})
		if !ok {
			return h.drop(m, "unknown source")
		}
		return h
	}

	ok := true
	h.server.DB.ask(func(s *State) {
		info, found := h.sourceClient(s, m.Prefix)
		if !found || canonicalizeNick(info.Nick()) != canonicalizeNick(target) {
			ok = false
			return
		}
		var applied []modeChange
		add := true
		for i := 0; i < len(args[1]); i++ {
			c := args[1][i]
			switch c {
			case '+':
				add = true
				continue
			case '-':
				add = false
				continue
			}
			flag, known := userFlagFromLetter(c)
			if !known || flag == UserAway {
				continue
			}
			if s.setUserFlag(info.Nick(), flag, add) {
				applied = append(applied, modeChange{Add: add, Mode: c})
			}
		}
		if len(applied) == 0 {
			return
		}
		s.sendToAllServers(clientOrigin(info),
			modeMessage("", info.Nick(), formatModes(applied)), h.name)
	})
	if !ok {
		return h.drop(m, "bad user MODE")
	}
	return h
}

func (h *serverHandler) quitCommand(m wire.Message) commandHandler {
	ok := true
	h.server.DB.ask(func(s *State) {
		info, found := h.sourceClient(s, m.Prefix)
		if !found {
			ok = false
			return
		}
		s.quitClient(info.Nick(), firstArg(m), h.name)
	})
	if !ok {
		return h.drop(m, "unknown source")
	}
	return h
}

// :<uplink> SERVER <name> <hopcount> :<info> introduces a server behind this
// link. A server we already know means the network has a loop, so the link
// goes.
func (h *serverHandler) serverCommand(m wire.Message) commandHandler {
	args := m.Args()
	if len(args) < 3 {
		return h.drop(m, "malformed SERVER")
	}
	name, info := args[0], args[2]
	hop, err := strconv.Atoi(args[1])
	if err != nil || hop < 2 || !isValidServerName(name) {
		return h.drop(m, "bad SERVER")
	}

	var exists, ok bool
	h.server.DB.ask(func(s *State) {
		uplink, found := h.sourceServer(s, m.Prefix)
		if !found {
			return
		}
		ok = true
		if s.containsServer(name) {
			exists = true
			return
		}
		ds := &DistantServer{
			Name:     name,
			Info:     info,
			Hopcount: hop,
			Via:      canonicalizeServer(h.name),
			Uplink:   canonicalizeServer(uplink),
		}
		if err := s.addDistantServer(ds); err != nil {
			exists = true
			return
		}
		s.sendToAllServers(serverOrigin(uplink),
			serverMessage("", name, hop+1, info), h.name)
	})

	if exists {
		h.conn.log.Warn("server introduced twice", "server", name, "link", h.name)
		h.conn.Send(errorMessage("Server " + name + " already exists"))
		h.terminate("Server " + name + " already exists")
		return nil
	}
	if !ok {
		return h.drop(m, "unknown uplink")
	}
	return h
}

// SQUIT <target> :<reason>. Naming us or the link cuts the link. Naming
// another of our links cuts that one. A server behind this link is pruned,
// and one elsewhere is passed along toward it.
func (h *serverHandler) squitCommand(m wire.Message) commandHandler {
	args := m.Args()
	if len(args) == 0 {
		return h.drop(m, "malformed SQUIT")
	}
	target := args[0]
	reason := "Net split"
	if len(args) > 1 && args[1] != "" {
		reason = args[1]
	}

	self := canonicalizeServer(h.server.Config.ServerName)
	link := canonicalizeServer(h.name)
	t := canonicalizeServer(target)

	if t == self || t == link {
		h.conn.log.Info("link closed by SQUIT", "server", h.name, "reason", reason)
		h.terminate(reason)
		return nil
	}

	h.server.DB.ask(func(s *State) {
		o, found := h.source(s, m.Prefix)
		if !found {
			o = serverOrigin(h.name)
		}

		if s.isImmediateServer(target) {
			s.sendToServer(o, squitMessage("", target, reason), target)
			s.netsplit(target)
			s.sendToAllServers(serverOrigin(s.Name),
				squitMessage("", target, reason), "")
			return
		}

		via, ok := s.viaFor(target)
		if !ok {
			return
		}
		if via == link {
			s.netsplit(target)
			s.sendToAllServers(o, squitMessage("", target, reason), h.name)
			return
		}
		s.sendToServer(o, squitMessage("", target, reason), via)
	})
	return h
}

// :<source> KILL <nick> :<reason>
func (h *serverHandler) killCommand(m wire.Message) commandHandler {
	args := m.Args()
	if len(args) == 0 {
		return h.drop(m, "malformed KILL")
	}
	reason := "Killed"
	if len(args) > 1 {
		reason = args[1]
	}

	h.server.DB.ask(func(s *State) {
		delete(h.pending, canonicalizeNick(args[0]))
		o, found := h.source(s, m.Prefix)
		if !found {
			o = serverOrigin(h.name)
		}
		s.killClient(o, args[0], reason, h.name)
	})
	return h
}
