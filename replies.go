package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/horgh/catlink/internal/wire"
)

// Numeric is a numeric reply. Error replies are returned as errors by
// command handlers and sent back to whoever issued the command.
type Numeric struct {
	Code string

	// Middle parameters after the target nickname.
	Params []string

	// Sent as the trailing parameter unless bare is set.
	Text string
	bare bool
}

func (n Numeric) Error() string {
	s := n.Code
	if len(n.Params) > 0 {
		s += " " + strings.Join(n.Params, " ")
	}
	if !n.bare {
		s += " :" + n.Text
	}
	return s
}

// Message addresses the reply to target from server. Before registration the
// target is "*".
func (n Numeric) Message(server, target string) wire.Message {
	if target == "" {
		target = "*"
	}
	m := wire.NewMessage(server, n.Code, append([]string{target}, n.Params...)...)
	if n.bare {
		return m
	}
	return m.WithTrailing(n.Text)
}

func numeric(code, text string, params ...string) Numeric {
	return Numeric{Code: code, Params: params, Text: text}
}

func bareNumeric(code string, params ...string) Numeric {
	return Numeric{Code: code, Params: params, bare: true}
}

// Registration.

func rplWelcome(hostmask string) Numeric {
	return numeric("001", "Welcome to the Internet Relay Network "+hostmask)
}

func rplYourHost(server, version string) Numeric {
	return numeric("002", fmt.Sprintf("Your host is %s, running version %s",
		server, version))
}

func rplCreated(created string) Numeric {
	return numeric("003", "This server was created "+created)
}

func rplMyInfo(server, version string) Numeric {
	return bareNumeric("004", server, version, "oiwsa", "imsptnlbokv")
}

func rplUmodeIs(modes string) Numeric { return bareNumeric("221", modes) }

func rplLuserClient(users, servers int) Numeric {
	return numeric("251", fmt.Sprintf(
		"There are %d users and 0 services on %d servers", users, servers))
}

func rplLuserOp(n int) Numeric {
	return numeric("252", "operator(s) online", strconv.Itoa(n))
}

func rplLuserChannels(n int) Numeric {
	return numeric("254", "channels formed", strconv.Itoa(n))
}

func rplLuserMe(clients, servers int) Numeric {
	return numeric("255", fmt.Sprintf("I have %d clients and %d servers",
		clients, servers))
}

// Away.

func rplAway(nick, message string) Numeric { return numeric("301", message, nick) }

func rplUnaway() Numeric {
	return numeric("305", "You are no longer marked as being away")
}

func rplNowAway() Numeric {
	return numeric("306", "You have been marked as being away")
}

// WHOIS, WHOWAS, WHO.

func rplWhoisUser(c ClientInfo) Numeric {
	return numeric("311", c.Realname, c.Nick(), c.Username, c.Hostname, "*")
}

func rplWhoisServer(nick, server, info string) Numeric {
	return numeric("312", info, nick, server)
}

func rplWhoisOperator(nick string) Numeric {
	return numeric("313", "is an IRC operator", nick)
}

func rplWhowasUser(c ClientInfo) Numeric {
	return numeric("314", c.Realname, c.Nick(), c.Username, c.Hostname, "*")
}

func rplEndOfWho(name string) Numeric {
	return numeric("315", "End of /WHO list", name)
}

func rplEndOfWhois(nick string) Numeric {
	return numeric("318", "End of /WHOIS list", nick)
}

func rplWhoisChannels(nick string, channels []string) Numeric {
	return numeric("319", strings.Join(channels, " "), nick)
}

func rplWhoReply(channel string, c ClientInfo, status string) Numeric {
	return numeric("352", fmt.Sprintf("%d %s", c.Hopcount, c.Realname),
		channel, c.Username, c.Hostname, c.Servername, c.Nick(), status)
}

func rplEndOfWhowas(nick string) Numeric {
	return numeric("369", "End of WHOWAS", nick)
}

// LIST.

func rplListStart() Numeric { return numeric("321", "Users  Name", "Channel") }

func rplList(channel string, visible int, topic string) Numeric {
	return numeric("322", topic, channel, strconv.Itoa(visible))
}

func rplListEnd() Numeric { return numeric("323", "End of /LIST") }

// Channels.

func rplChannelModeIs(channel string, modes []string) Numeric {
	return bareNumeric("324", append([]string{channel}, modes...)...)
}

func rplNoTopic(channel string) Numeric {
	return numeric("331", "No topic is set", channel)
}

func rplTopic(channel, topic string) Numeric {
	return numeric("332", topic, channel)
}

func rplInviting(channel, nick string) Numeric {
	return bareNumeric("341", channel, nick)
}

func rplNamReply(symbol, channel string, names []string) Numeric {
	return numeric("353", strings.Join(names, " "), symbol, channel)
}

func rplEndOfNames(channel string) Numeric {
	return numeric("366", "End of /NAMES list", channel)
}

func rplBanList(channel, banmask string) Numeric {
	return bareNumeric("367", channel, banmask)
}

func rplEndOfBanList(channel string) Numeric {
	return numeric("368", "End of channel ban list", channel)
}

// Servers and MOTD.

func rplLinks(m string, s ServerInfo) Numeric {
	return numeric("364", fmt.Sprintf("%d %s", s.Hopcount, s.Info), m, s.Name,
		s.Uplink)
}

func rplEndOfLinks(m string) Numeric {
	return numeric("365", "End of /LINKS list", m)
}

func rplMotd(line string) Numeric { return numeric("372", "- "+line) }

func rplMotdStart(server string) Numeric {
	return numeric("375", fmt.Sprintf("- %s Message of the day - ", server))
}

func rplEndOfMotd() Numeric { return numeric("376", "End of /MOTD command") }

func rplYoureOper() Numeric {
	return numeric("381", "You are now an IRC operator")
}

// Errors.

func errUnknownError(command, text string) Numeric {
	return numeric("400", text, command)
}

func errNoSuchNick(nick string) Numeric {
	return numeric("401", "No such nick/channel", nick)
}

func errNoSuchServer(server string) Numeric {
	return numeric("402", "No such server", server)
}

func errNoSuchChannel(channel string) Numeric {
	return numeric("403", "No such channel", channel)
}

func errCannotSendToChan(channel string) Numeric {
	return numeric("404", "Cannot send to channel", channel)
}

func errTooManyChannels(channel string) Numeric {
	return numeric("405", "You have joined too many channels", channel)
}

func errWasNoSuchNick(nick string) Numeric {
	return numeric("406", "There was no such nickname", nick)
}

func errNoRecipient(command string) Numeric {
	return numeric("411", fmt.Sprintf("No recipient given (%s)", command))
}

func errNoTextToSend() Numeric { return numeric("412", "No text to send") }

func errUnknownCommand(command string) Numeric {
	return numeric("421", "Unknown command", command)
}

func errNoMotd() Numeric { return numeric("422", "MOTD File is missing") }

func errNoNicknameGiven() Numeric { return numeric("431", "No nickname given") }

func errErroneousNickname(nick string) Numeric {
	return numeric("432", "Erroneous nickname", nick)
}

func errNicknameInUse(nick string) Numeric {
	return numeric("433", "Nickname is already in use", nick)
}

func errNickCollision(nick string) Numeric {
	return numeric("436", "Nickname collision KILL", nick)
}

func errUserNotInChannel(nick, channel string) Numeric {
	return numeric("441", "They aren't on that channel", nick, channel)
}

func errNotOnChannel(channel string) Numeric {
	return numeric("442", "You're not on that channel", channel)
}

func errUserOnChannel(nick, channel string) Numeric {
	return numeric("443", "is already on channel", nick, channel)
}

func errNotRegistered() Numeric { return numeric("451", "You have not registered") }

func errNeedMoreParams(command string) Numeric {
	return numeric("461", "Not enough parameters", command)
}

func errAlreadyRegistered() Numeric {
	return numeric("462", "Unauthorized command (already registered)")
}

func errPasswdMismatch() Numeric { return numeric("464", "Password incorrect") }

func errKeySet(channel string) Numeric {
	return numeric("467", "Channel key already set", channel)
}

func errChannelIsFull(channel string) Numeric {
	return numeric("471", "Cannot join channel (+l)", channel)
}

func errUnknownMode(c byte) Numeric {
	return numeric("472", "is unknown mode char to me", string(c))
}

func errInviteOnlyChan(channel string) Numeric {
	return numeric("473", "Cannot join channel (+i)", channel)
}

func errBannedFromChan(channel string) Numeric {
	return numeric("474", "Cannot join channel (+b)", channel)
}

func errBadChannelKey(channel string) Numeric {
	return numeric("475", "Cannot join channel (+k)", channel)
}

func errNoPrivileges() Numeric {
	return numeric("481", "Permission Denied- You're not an IRC operator")
}

func errChanOPrivsNeeded(channel string) Numeric {
	return numeric("482", "You're not channel operator", channel)
}

func errUmodeUnknownFlag() Numeric { return numeric("501", "Unknown MODE flag") }

func errUsersDontMatch() Numeric {
	return numeric("502", "Cant change mode for other users")
}

// Notifications. These are the non-numeric messages we relay. The prefix is
// the source: nick!user@host toward local clients, the bare nick or a server
// name toward links.

func notice(prefix, target, text string) wire.Message {
	return wire.NewMessage(prefix, "NOTICE", target).WithTrailing(text)
}

// parsingError is what a client gets for a line we could not parse.
func parsingError(server, target string) wire.Message {
	if target == "" {
		target = "*"
	}
	return notice(server, target, "Could not parse your message")
}

func joinMessage(prefix, channel string) wire.Message {
	return wire.NewMessage(prefix, "JOIN", channel)
}

func partMessage(prefix, channel, message string) wire.Message {
	return wire.NewMessage(prefix, "PART", channel).WithTrailing(message)
}

func quitMessage(prefix, message string) wire.Message {
	return wire.NewMessage(prefix, "QUIT").WithTrailing(message)
}

func nickMessage(prefix, nick string) wire.Message {
	return wire.NewMessage(prefix, "NICK", nick)
}

func topicMessage(prefix, channel, topic string) wire.Message {
	return wire.NewMessage(prefix, "TOPIC", channel).WithTrailing(topic)
}

func kickMessage(prefix, channel, nick, reason string) wire.Message {
	return wire.NewMessage(prefix, "KICK", channel, nick).WithTrailing(reason)
}

func inviteMessage(prefix, nick, channel string) wire.Message {
	return wire.NewMessage(prefix, "INVITE", nick, channel)
}

func modeMessage(prefix, target string, modes []string) wire.Message {
	return wire.NewMessage(prefix, "MODE", append([]string{target}, modes...)...)
}

func awayMessage(prefix, message string) wire.Message {
	if message == "" {
		return wire.NewMessage(prefix, "AWAY")
	}
	return wire.NewMessage(prefix, "AWAY").WithTrailing(message)
}

func killMessage(prefix, nick, reason string) wire.Message {
	return wire.NewMessage(prefix, "KILL", nick).WithTrailing(reason)
}

func errorMessage(text string) wire.Message {
	return wire.NewMessage("", "ERROR").WithTrailing(text)
}

func squitMessage(prefix, server, reason string) wire.Message {
	return wire.NewMessage(prefix, "SQUIT", server).WithTrailing(reason)
}

func serverMessage(prefix, name string, hopcount int, info string) wire.Message {
	return wire.NewMessage(prefix, "SERVER", name, strconv.Itoa(hopcount)).
		WithTrailing(info)
}

func pingMessage(prefix, token string) wire.Message {
	return wire.NewMessage(prefix, "PING").WithTrailing(token)
}

func pongMessage(prefix, server, token string) wire.Message {
	return wire.NewMessage(prefix, "PONG", server).WithTrailing(token)
}
