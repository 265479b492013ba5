package main

import (
	"crypto/subtle"
	"strconv"
	"strings"

	"github.com/horgh/catlink/internal/wire"
)

// registrationHandler is where every connection starts. It becomes a client
// on NICK and USER, or a server on SERVER.
type registrationHandler struct {
	server *Server
	conn   *conn

	// Set when we dialed the peer.
	link *LinkConfig

	// PASS
	pass    string
	gotPass bool

	// NICK
	nick string

	sentServer bool
}

func newRegistrationHandler(s *Server, c *conn,
	link *LinkConfig) *registrationHandler {
	return &registrationHandler{server: s, conn: c, link: link}
}

func (h *registrationHandler) reply(n Numeric) {
	h.conn.Send(n.Message(h.server.Config.ServerName, h.nick))
}

// fail sends an ERROR and ends the connection.
func (h *registrationHandler) fail(text string) commandHandler {
	h.conn.log.Info("registration failed", "reason", text)
	h.conn.Send(errorMessage(text))
	return nil
}

func (h *registrationHandler) terminate(reason string) {
	h.conn.log.Debug("unregistered connection ended", "reason", reason)
}

func (h *registrationHandler) handle(m wire.Message) commandHandler {
	cmd := strings.ToUpper(m.Command)
	commandsProcessed.WithLabelValues("registration", cmd).Inc()

	switch cmd {
	case "PASS":
		return h.passCommand(m)
	case "NICK":
		return h.nickCommand(m)
	case "USER":
		return h.userCommand(m)
	case "SERVER":
		return h.serverCommand(m)
	case "QUIT":
		h.conn.Send(errorMessage("Closing Link: " + h.conn.IP))
		return nil
	case "PING":
		h.conn.Send(pongMessage(h.server.Config.ServerName,
			h.server.Config.ServerName, firstArg(m)))
		return h
	case "PONG":
		return h
	case "ERROR":
		h.conn.log.Info("peer sent ERROR", "text", firstArg(m))
		return nil
	}

	h.reply(errNotRegistered())
	return h
}

func firstArg(m wire.Message) string {
	args := m.Args()
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// PASS is only valid before NICK.
func (h *registrationHandler) passCommand(m wire.Message) commandHandler {
	args := m.Args()
	if len(args) == 0 {
		h.reply(errNeedMoreParams("PASS"))
		return h
	}
	if h.nick != "" {
		h.reply(errAlreadyRegistered())
		return h
	}
	h.pass = args[0]
	h.gotPass = true
	return h
}

func (h *registrationHandler) nickCommand(m wire.Message) commandHandler {
	args := m.Args()
	if len(args) == 0 || args[0] == "" {
		h.reply(errNoNicknameGiven())
		return h
	}

	nick := args[0]
	if !isValidNick(h.server.Config.MaxNickLength, nick) {
		h.reply(errErroneousNickname(nick))
		return h
	}

	if h.server.DB.ContainsClient(nick) {
		h.reply(errNicknameInUse(nick))
		return h
	}

	h.nick = nick
	return h
}

func (h *registrationHandler) userCommand(m wire.Message) commandHandler {
	if h.nick == "" {
		h.reply(errNotRegistered())
		return h
	}

	args := m.Args()
	if len(args) < 4 {
		h.reply(errNeedMoreParams("USER"))
		return h
	}

	cfg := h.server.Config
	if cfg.Password != "" &&
		subtle.ConstantTimeCompare([]byte(h.pass), []byte(cfg.Password)) != 1 {
		h.reply(errPasswdMismatch())
		return h.fail("Bad password")
	}

	user := args[0]
	if len(user) > 10 {
		user = user[:10]
	}
	if !isValidUser(10, user) {
		h.reply(errUnknownError("USER", "Invalid username"))
		return h
	}

	realname := truncate(args[3], maxRealNameLength)

	lc := &LocalClient{
		Info: ClientInfo{
			Nicknames:  []string{h.nick},
			Username:   user,
			Hostname:   h.conn.IP,
			Servername: cfg.ServerName,
			Realname:   realname,
		},
		Stream:   h.conn,
		Password: h.pass,
		ID:       h.conn.ID,
	}

	var err error
	h.server.DB.ask(func(s *State) {
		if err = s.addLocalClient(lc); err != nil {
			return
		}
		info := lc.Info
		s.sendToAllServers(serverOrigin(""),
			wire.NewMessage("", "NICK", info.Nick(), "1"), "")
		s.sendToAllServers(clientOrigin(info), userMessage(info), "")
	})
	if err != nil {
		h.reply(errNicknameInUse(h.nick))
		h.nick = ""
		return h
	}

	h.conn.log.Info("client registered", "nick", lc.Info.Nick())

	ch := newClientHandler(h.server, h.conn, lc.Info.Nick())
	ch.sendWelcome(lc.Info)
	return ch
}

// userMessage introduces a client's details over a link after its NICK.
func userMessage(c ClientInfo) wire.Message {
	return wire.NewMessage(c.Nick(), "USER", c.Username, c.Hostname,
		c.Servername).WithTrailing(c.Realname)
}

// sendServerIntro starts the handshake on a link we dialed.
func (h *registrationHandler) sendServerIntro() {
	if h.link.Password != "" {
		h.conn.Send(wire.NewMessage("", "PASS", h.link.Password))
	}
	h.conn.Send(serverMessage("", h.server.Config.ServerName, 1,
		h.server.Config.ServerInfo))
	h.sentServer = true
}

func (h *registrationHandler) serverCommand(m wire.Message) commandHandler {
	args := m.Args()
	if len(args) < 3 {
		return h.fail("Malformed SERVER")
	}

	name, info := args[0], args[2]
	if hop, err := strconv.Atoi(args[1]); err != nil || hop < 0 || hop > 1 {
		return h.fail("Bad hopcount")
	}
	if !isValidServerName(name) {
		return h.fail("Invalid server name")
	}

	cfg := h.server.Config

	if h.link != nil && h.link.Name != "" &&
		canonicalizeServer(h.link.Name) != canonicalizeServer(name) {
		return h.fail("Unexpected server name")
	}

	var password string
	if def, ok := cfg.linkByName(name); ok {
		password = def.Password
		if password != "" &&
			subtle.ConstantTimeCompare([]byte(h.pass), []byte(password)) != 1 {
			return h.fail("Bad password")
		}
	} else if !cfg.OpenLinking {
		return h.fail("Unknown server")
	}

	if !h.sentServer {
		if password != "" {
			h.conn.Send(wire.NewMessage("", "PASS", password))
		}
		h.conn.Send(serverMessage("", cfg.ServerName, 1, cfg.ServerInfo))
		h.sentServer = true
	}

	is := &ImmediateServer{Name: name, Info: info, Stream: h.conn, ID: h.conn.ID}

	var err error
	h.server.DB.ask(func(s *State) { err = s.linkServer(is) })
	if err != nil {
		return h.fail("Server already exists")
	}

	h.conn.log.Info("server linked", "server", name)
	return newServerHandler(h.server, h.conn, name)
}
