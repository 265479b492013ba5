package main

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/horgh/catlink/internal/wire"
	"github.com/lrstanley/girc"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

// errClientQuit ends the connection after a command.
var errClientQuit = errors.New("client quit")

// clientHandler serves a registered client.
type clientHandler struct {
	server  *Server
	conn    *conn
	nick    string
	limiter *rate.Limiter
}

func newClientHandler(s *Server, c *conn, nick string) *clientHandler {
	return &clientHandler{
		server:  s,
		conn:    c,
		nick:    nick,
		limiter: rate.NewLimiter(rate.Limit(s.Config.FloodRate), s.Config.FloodBurst),
	}
}

func (h *clientHandler) serverName() string { return h.server.Config.ServerName }

func (h *clientHandler) reply(n Numeric) {
	h.conn.Send(n.Message(h.serverName(), h.nick))
}

func (h *clientHandler) throttle(ctx context.Context) error {
	return h.limiter.Wait(ctx)
}

func (h *clientHandler) terminate(reason string) {
	h.server.route.QuitClient(h.nick, reason, "")
}

func (h *clientHandler) handle(m wire.Message) commandHandler {
	cmd := strings.ToUpper(m.Command)
	commandsProcessed.WithLabelValues("client", cmd).Inc()

	var err error
	switch cmd {
	case "NICK":
		err = h.nickCommand(m)
	case "USER", "PASS", "SERVER":
		err = errAlreadyRegistered()
	case "OPER":
		err = h.operCommand(m)
	case "PRIVMSG", "NOTICE":
		err = h.privmsgCommand(cmd, m.Args())
	case "CTCP":
		err = h.ctcpCommand(m)
	case "JOIN":
		err = h.joinCommand(m)
	case "PART":
		err = h.partCommand(m)
	case "INVITE":
		err = h.inviteCommand(m)
	case "NAMES":
		err = h.namesCommand(m)
	case "LIST":
		err = h.listCommand(m)
	case "WHO":
		err = h.whoCommand(m)
	case "WHOIS":
		err = h.whoisCommand(m)
	case "WHOWAS":
		err = h.whowasCommand(m)
	case "AWAY":
		err = h.awayCommand(m)
	case "TOPIC":
		err = h.topicCommand(m)
	case "KICK":
		err = h.kickCommand(m)
	case "MODE":
		err = h.modeCommand(m)
	case "QUIT":
		err = h.quitCommand(m)
	case "SQUIT":
		err = h.squitCommand(m)
	case "KILL":
		err = h.killCommand(m)
	case "CONNECT":
		err = h.connectCommand(m)
	case "PING":
		h.conn.Send(pongMessage(h.serverName(), h.serverName(), firstArg(m)))
	case "PONG":
	case "MOTD":
		h.motdCommand()
	case "LUSERS":
		h.lusersCommand()
	case "LINKS":
		h.linksCommand(m)
	default:
		err = errUnknownCommand(m.Command)
	}

	if err == nil {
		return h
	}
	if errors.Is(err, errClientQuit) {
		return nil
	}

	var n Numeric
	if errors.As(err, &n) {
		h.reply(n)
		return h
	}
	h.conn.log.Error("command failed", "command", cmd, "error", err)
	return h
}

// sendWelcome is the burst a client gets on registering.
func (h *clientHandler) sendWelcome(info ClientInfo) {
	cfg := h.server.Config
	h.reply(rplWelcome(info.Hostmask()))
	h.reply(rplYourHost(cfg.ServerName, cfg.Version))
	h.reply(rplCreated(cfg.CreatedDate))
	h.reply(rplMyInfo(cfg.ServerName, cfg.Version))
	h.lusersCommand()
	h.motdCommand()
}

func (h *clientHandler) lusersCommand() {
	st := h.server.DB.Stats()
	h.reply(rplLuserClient(st.Clients, st.Servers))
	h.reply(rplLuserOp(st.Operators))
	h.reply(rplLuserChannels(st.Channels))
	h.reply(rplLuserMe(st.LocalClients, st.ImmediateServer))
}

func (h *clientHandler) motdCommand() {
	motd := h.server.Config.MOTD
	if len(motd) == 0 {
		h.reply(errNoMotd())
		return
	}
	h.reply(rplMotdStart(h.serverName()))
	for _, line := range motd {
		h.reply(rplMotd(girc.Fmt(line)))
	}
	h.reply(rplEndOfMotd())
}

func (h *clientHandler) linksCommand(m wire.Message) {
	pattern := "*"
	if args := m.Args(); len(args) > 0 {
		pattern = args[len(args)-1]
	}

	self := ServerInfo{Name: h.serverName(), Info: h.server.Config.ServerInfo,
		Uplink: h.serverName()}
	for _, s := range append([]ServerInfo{self}, h.server.DB.AllServers()...) {
		if matchNick(pattern, s.Name) {
			h.reply(rplLinks(pattern, s))
		}
	}
	h.reply(rplEndOfLinks(pattern))
}

// The nick change reaches us, our neighbours and every linked server as
// :old NICK new.
func (h *clientHandler) nickCommand(m wire.Message) error {
	args := m.Args()
	if len(args) == 0 || args[0] == "" {
		return errNoNicknameGiven()
	}
	nick := args[0]
	if !isValidNick(h.server.Config.MaxNickLength, nick) {
		return errErroneousNickname(nick)
	}
	if nick == h.nick {
		return nil
	}

	var err error
	h.server.DB.ask(func(s *State) {
		info, ok := s.clientInfo(h.nick)
		if !ok {
			err = errClientNotFound
			return
		}
		if err = s.updateNickname(h.nick, nick); err != nil {
			return
		}
		o := clientOrigin(info)
		msg := nickMessage("", nick)
		if lc, ok := s.LocalClients[canonicalizeNick(nick)]; ok {
			s.sendToLocal(o, msg, lc)
		}
		s.sendToNeighbours(o, msg, nick)
		s.sendToAllServers(o, msg, "")
	})
	if errors.Is(err, errNicknameTaken) {
		return errNicknameInUse(nick)
	}
	if err != nil {
		return err
	}

	h.conn.log.Info("nick changed", "from", h.nick, "to", nick)
	h.nick = nick
	return nil
}

// checkOperPassword compares against a bcrypt hash when the stored password
// is one, and in constant time otherwise.
func checkOperPassword(stored, given string) bool {
	if stored == "" {
		return false
	}
	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(given)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}

func (h *clientHandler) operCommand(m wire.Message) error {
	args := m.Args()
	if len(args) < 2 {
		return errNeedMoreParams("OPER")
	}

	stored, ok := h.server.DB.OperatorPassword(args[0])
	if !ok || !checkOperPassword(stored, args[1]) {
		return errPasswdMismatch()
	}

	h.server.DB.ask(func(s *State) {
		info, ok := s.clientInfo(h.nick)
		if !ok || info.IsOperator() {
			return
		}
		s.setUserFlag(h.nick, UserOperator, true)
		msg := modeMessage("", h.nick, []string{"+o"})
		s.sendToClient(origin{Local: h.nick, Remote: h.nick}, msg, h.nick, "")
		s.sendToAllServers(clientOrigin(info), msg, "")
	})

	h.conn.log.Info("client became operator", "nick", h.nick, "oper", args[0])
	h.reply(rplYoureOper())
	return nil
}

// privmsgCommand delivers PRIVMSG and NOTICE. Per RFC, NOTICE never gets an
// error reply.
func (h *clientHandler) privmsgCommand(cmd string, args []string) error {
	notice := cmd == "NOTICE"
	fail := func(n Numeric) error {
		if notice {
			return nil
		}
		return n
	}

	if len(args) == 0 {
		return fail(errNoRecipient(cmd))
	}
	if len(args) < 2 || args[1] == "" {
		return fail(errNoTextToSend())
	}
	text := args[1]

	for _, target := range splitList(args[0]) {
		msg := wire.NewMessage("", cmd, target).WithTrailing(text)

		if isChannelName(target) {
			err := h.messageChannel(msg, target, text)
			var n Numeric
			if !notice && errors.As(err, &n) {
				h.reply(n)
			}
			continue
		}

		var found bool
		var away string
		h.server.DB.ask(func(s *State) {
			info, ok := s.clientInfo(h.nick)
			if !ok {
				return
			}
			to, ok := s.clientInfo(target)
			if !ok {
				return
			}
			found = s.sendToClient(clientOrigin(info), msg, to.Nick(), "")
			if to.IsAway() {
				away = to.Away
			}
		})
		if notice {
			continue
		}
		if !found {
			h.reply(errNoSuchNick(target))
			continue
		}
		if away != "" {
			h.reply(rplAway(target, away))
		}
	}
	return nil
}

// messageChannel checks the channel's rules for the sender and fans out.
func (h *clientHandler) messageChannel(msg wire.Message, channel,
	text string) error {
	var err error
	h.server.DB.ask(func(s *State) {
		ch, ok := s.channel(channel)
		if !ok {
			err = errNoSuchNick(channel)
			return
		}
		info, ok := s.clientInfo(h.nick)
		if !ok {
			err = errClientNotFound
			return
		}

		member := ch.HasMember(h.nick)
		voiced := ch.Config.IsOperator(h.nick) || ch.Config.IsSpeaker(h.nick)

		switch {
		case isDCC(text):
			err = errCannotSendToChan(ch.Name)
		case ch.Config.Has(ChannelNoExternal) && !member:
			err = errCannotSendToChan(ch.Name)
		case ch.Config.Has(ChannelModerated) && !voiced:
			err = errCannotSendToChan(ch.Name)
		case !voiced && isBanned(ch.Config, info):
			err = errCannotSendToChan(ch.Name)
		}
		if err != nil {
			return
		}

		s.sendToChannel(clientOrigin(info), msg, ch.Name, h.nick, "")
	})
	return err
}

func isBanned(cfg ChannelConfig, info ClientInfo) bool {
	for _, b := range cfg.Banmasks {
		if info.MatchesBanmask(b) {
			return true
		}
	}
	return false
}

// CTCP <target> <command> [:args] sends a CTCP query as a PRIVMSG.
func (h *clientHandler) ctcpCommand(m wire.Message) error {
	args := m.Args()
	if len(args) < 2 {
		return errNeedMoreParams("CTCP")
	}
	c := ctcp{Command: strings.ToUpper(args[1])}
	if len(args) > 2 {
		c.Args = strings.Join(args[2:], " ")
	}
	return h.privmsgCommand("PRIVMSG", []string{args[0], c.String()})
}

func (h *clientHandler) awayCommand(m wire.Message) error {
	message := firstArg(m)

	h.server.DB.ask(func(s *State) {
		info, ok := s.clientInfo(h.nick)
		if !ok {
			return
		}
		s.setAwayMessage(h.nick, message)
		s.sendToAllServers(clientOrigin(info), awayMessage("", message), "")
	})

	if message == "" {
		h.reply(rplUnaway())
		return nil
	}
	h.reply(rplNowAway())
	return nil
}

func (h *clientHandler) quitCommand(m wire.Message) error {
	message := firstArg(m)
	if message == "" {
		message = h.nick
	}

	h.conn.Send(errorMessage(fmt.Sprintf("Closing Link: %s (Quit: %s)",
		h.conn.IP, message)))
	h.server.route.QuitClient(h.nick, "Quit: "+message, "")
	h.conn.log.Info("client quit", "nick", h.nick)
	return errClientQuit
}

func (h *clientHandler) whoisCommand(m wire.Message) error {
	args := m.Args()
	if len(args) == 0 {
		return errNoNicknameGiven()
	}
	// WHOIS [server] nickmask
	masks := args[0]
	if len(args) > 1 {
		masks = args[1]
	}

	for _, nm := range splitList(masks) {
		var replies []Numeric
		h.server.DB.ask(func(s *State) {
			for _, c := range s.clientsForNickmask(nm) {
				replies = append(replies, s.whoisReplies(c, h.nick)...)
			}
		})
		if len(replies) == 0 {
			h.reply(errNoSuchNick(nm))
		}
		for _, r := range replies {
			h.reply(r)
		}
		h.reply(rplEndOfWhois(nm))
	}
	return nil
}

// whoisReplies is the WHOIS block for one client as seen by asker.
func (s *State) whoisReplies(c ClientInfo, asker string) []Numeric {
	replies := []Numeric{rplWhoisUser(c)}

	serverInfo := s.Info
	if si, ok := s.serverInfo(c.Servername); ok {
		serverInfo = si.Info
	}
	replies = append(replies, rplWhoisServer(c.Nick(), c.Servername, serverInfo))

	if c.IsOperator() {
		replies = append(replies, rplWhoisOperator(c.Nick()))
	}

	var channels []string
	for _, name := range s.channelsForClient(c.Nick()) {
		ch, _ := s.channel(name)
		if ch.Config.Has(ChannelSecret) && !ch.HasMember(asker) {
			continue
		}
		switch {
		case ch.Config.IsOperator(c.Nick()):
			name = "@" + name
		case ch.Config.Has(ChannelModerated) && ch.Config.IsSpeaker(c.Nick()):
			name = "+" + name
		}
		channels = append(channels, name)
	}
	if len(channels) > 0 {
		replies = append(replies, rplWhoisChannels(c.Nick(), channels))
	}

	// 301 follows the WHOIS block.
	if c.IsAway() {
		replies = append(replies, rplAway(c.Nick(), c.Away))
	}
	return replies
}

func (h *clientHandler) whowasCommand(m wire.Message) error {
	args := m.Args()
	if len(args) == 0 || args[0] == "" {
		return errNoNicknameGiven()
	}

	for _, nick := range splitList(args[0]) {
		history := h.server.DB.Whowas(nick)
		if len(history) == 0 {
			h.reply(errWasNoSuchNick(nick))
		}
		for _, c := range history {
			h.reply(rplWhowasUser(c))
			h.reply(rplWhoisServer(c.Nick(), c.Servername, ""))
		}
		h.reply(rplEndOfWhowas(nick))
	}
	return nil
}

// The commands below need server operator status.

func (h *clientHandler) requireOperator() error {
	if !h.server.DB.IsServerOperator(h.nick) {
		return errNoPrivileges()
	}
	return nil
}

// SQUIT <server> [:reason]. A link of ours is cut here. A distant server is
// asked to be cut by whoever links it.
func (h *clientHandler) squitCommand(m wire.Message) error {
	if err := h.requireOperator(); err != nil {
		return err
	}
	args := m.Args()
	if len(args) == 0 {
		return errNeedMoreParams("SQUIT")
	}
	target := args[0]
	reason := h.nick
	if len(args) > 1 && args[1] != "" {
		reason = args[1]
	}

	var err error
	var split splitResult
	h.server.DB.ask(func(s *State) {
		info, ok := s.clientInfo(h.nick)
		if !ok {
			return
		}
		o := clientOrigin(info)

		if s.isImmediateServer(target) {
			s.sendToServer(o, squitMessage("", target, reason), target)
			split = s.netsplit(target)
			s.sendToAllServers(serverOrigin(s.Name),
				squitMessage("", target, reason), "")
			return
		}

		via, ok := s.viaFor(target)
		if !ok || !s.containsServer(target) {
			err = errNoSuchServer(target)
			return
		}
		s.sendToServer(o, squitMessage("", target, reason), via)
	})
	if err != nil {
		return err
	}

	if len(split.Servers) > 0 {
		h.server.log.Info("server split by operator", "server", target,
			"operator", h.nick, "servers", split.Servers,
			"clients", len(split.Clients))
	}
	return nil
}

// KILL <nick> :<reason>. The client is removed everywhere.
func (h *clientHandler) killCommand(m wire.Message) error {
	if err := h.requireOperator(); err != nil {
		return err
	}
	args := m.Args()
	if len(args) == 0 {
		return errNeedMoreParams("KILL")
	}
	target := args[0]
	reason := h.nick
	if len(args) > 1 && args[1] != "" {
		reason = args[1]
	}

	var err error
	h.server.DB.ask(func(s *State) {
		info, ok := s.clientInfo(h.nick)
		if !ok {
			return
		}
		if !s.containsClient(target) {
			err = errNoSuchNick(target)
			return
		}
		s.killClient(clientOrigin(info), target,
			fmt.Sprintf("Killed (%s (%s))", h.nick, reason), "")
	})
	return err
}

// killClient removes a client network wide. A local one is told why before
// its connection is closed. Every linked server except skipServer is told to
// forget it.
func (s *State) killClient(o origin, nick, reason, skipServer string) {
	info, ok := s.clientInfo(nick)
	if !ok {
		return
	}

	if lc, ok := s.LocalClients[canonicalizeNick(nick)]; ok {
		s.sendToLocal(o, killMessage("", info.Nick(), reason), lc)
		lc.Stream.Send(errorMessage("Closing Link: " + reason))
		lc.Stream.Close()
	}

	s.sendToAllServers(o, killMessage("", info.Nick(), reason), skipServer)
	s.sendToNeighbours(clientOrigin(info), quitMessage("", reason), nick)
	s.removeClient(nick)
}

// CONNECT <server> dials a configured link.
func (h *clientHandler) connectCommand(m wire.Message) error {
	if err := h.requireOperator(); err != nil {
		return err
	}
	args := m.Args()
	if len(args) == 0 {
		return errNeedMoreParams("CONNECT")
	}

	link, ok := h.server.Config.linkByName(args[0])
	if !ok {
		return errNoSuchServer(args[0])
	}
	if h.server.DB.ContainsServer(link.Name) {
		h.conn.Send(notice(h.serverName(), h.nick,
			fmt.Sprintf("%s is already linked", link.Name)))
		return nil
	}

	h.conn.Send(notice(h.serverName(), h.nick,
		fmt.Sprintf("Connecting to %s", link.Name)))
	h.server.dial(link)
	return nil
}
