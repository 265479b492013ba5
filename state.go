package main

import (
	"strconv"
	"strings"

	"github.com/horgh/catlink/internal/mask"
	"github.com/horgh/catlink/internal/wire"
)

const (
	// maxChannels is how many channels one client may be in.
	maxChannels = 10

	// maxClients bounds the number of concurrent connections we serve.
	maxClients = 26

	// whowasLength is how many departed nicknames we remember.
	whowasLength = 64
)

// Stream is where we write messages destined for a connection. Send must not
// block.
type Stream interface {
	Send(m wire.Message)
	Close()
}

// UserFlags are user modes.
type UserFlags uint8

const (
	UserOperator UserFlags = 1 << iota
	UserInvisible
	UserWallops
	UserServerNotices
	UserAway
)

var userFlagLetters = []struct {
	flag   UserFlags
	letter byte
}{
	{UserOperator, 'o'},
	{UserInvisible, 'i'},
	{UserWallops, 'w'},
	{UserServerNotices, 's'},
	{UserAway, 'a'},
}

func (f UserFlags) String() string {
	s := "+"
	for _, l := range userFlagLetters {
		if f&l.flag != 0 {
			s += string(l.letter)
		}
	}
	return s
}

func userFlagFromLetter(c byte) (UserFlags, bool) {
	for _, l := range userFlagLetters {
		if l.letter == c {
			return l.flag, true
		}
	}
	return 0, false
}

// ChannelFlags are the channel modes without arguments.
type ChannelFlags uint8

const (
	ChannelInviteOnly ChannelFlags = 1 << iota
	ChannelModerated
	ChannelSecret
	ChannelPrivate
	ChannelTopicOps
	ChannelNoExternal
)

var channelFlagLetters = []struct {
	flag   ChannelFlags
	letter byte
}{
	{ChannelInviteOnly, 'i'},
	{ChannelModerated, 'm'},
	{ChannelSecret, 's'},
	{ChannelPrivate, 'p'},
	{ChannelTopicOps, 't'},
	{ChannelNoExternal, 'n'},
}

func (f ChannelFlags) String() string {
	s := "+"
	for _, l := range channelFlagLetters {
		if f&l.flag != 0 {
			s += string(l.letter)
		}
	}
	return s
}

func channelFlagFromLetter(c byte) (ChannelFlags, bool) {
	for _, l := range channelFlagLetters {
		if l.letter == c {
			return l.flag, true
		}
	}
	return 0, false
}

// ClientInfo is the public record of a user.
type ClientInfo struct {
	// Nickname history. The last one is current.
	Nicknames []string

	Username   string
	Hostname   string
	Servername string
	Realname   string

	// Links between us and the server the client is on. 0 for our own.
	Hopcount int

	// Set when Flags has UserAway.
	Away string

	Flags UserFlags
}

// Nick is the current nickname.
func (c ClientInfo) Nick() string {
	if len(c.Nicknames) == 0 {
		return ""
	}
	return c.Nicknames[len(c.Nicknames)-1]
}

// Hostmask is nick!user@host.
func (c ClientInfo) Hostmask() string {
	return mask.Hostmask(c.Nick(), c.Username, c.Hostname)
}

// MatchesBanmask tells whether a nick!user@host glob covers the client.
func (c ClientInfo) MatchesBanmask(m string) bool {
	return mask.MatchHostmask(m, c.Nick(), c.Username, c.Hostname)
}

// MatchesMask is the looser match WHO uses. The mask may cover the hostmask
// or any one of host, server, realname or nick.
func (c ClientInfo) MatchesMask(m string) bool {
	if strings.ContainsAny(m, "!@") {
		return c.MatchesBanmask(m)
	}
	return mask.Match(m, c.Nick()) ||
		mask.Match(m, c.Hostname) ||
		mask.Match(m, c.Servername) ||
		mask.Match(m, c.Realname)
}

// IsOperator tells whether the client is a server operator.
func (c ClientInfo) IsOperator() bool { return c.Flags&UserOperator != 0 }

// IsAway tells whether the client is marked away.
func (c ClientInfo) IsAway() bool { return c.Flags&UserAway != 0 }

func (c ClientInfo) clone() ClientInfo {
	c.Nicknames = append([]string(nil), c.Nicknames...)
	return c
}

// LocalClient is a user connected to us.
type LocalClient struct {
	Info     ClientInfo
	Stream   Stream
	Password string

	// Connection ID, used in logs.
	ID string
}

// ExternalClient is a user on another server.
type ExternalClient struct {
	Info ClientInfo

	// Canonical name of the immediate server it is reachable through.
	Via string
}

// ChannelConfig holds modes and lists attached to a channel.
type ChannelConfig struct {
	// Canonical nicknames.
	Operators map[string]struct{}
	Speakers  map[string]struct{}
	Invited   map[string]struct{}

	// Insertion order, no duplicates.
	Banmasks []string

	Key      string
	Limit    int
	HasLimit bool
	Flags    ChannelFlags
}

func newChannelConfig() ChannelConfig {
	return ChannelConfig{
		Operators: map[string]struct{}{},
		Speakers:  map[string]struct{}{},
		Invited:   map[string]struct{}{},
	}
}

func cloneSet(m map[string]struct{}) map[string]struct{} {
	c := make(map[string]struct{}, len(m))
	for k := range m {
		c[k] = struct{}{}
	}
	return c
}

func (c ChannelConfig) clone() ChannelConfig {
	c.Operators = cloneSet(c.Operators)
	c.Speakers = cloneSet(c.Speakers)
	c.Invited = cloneSet(c.Invited)
	c.Banmasks = append([]string(nil), c.Banmasks...)
	return c
}

// Has tells whether a flag is set.
func (c ChannelConfig) Has(f ChannelFlags) bool { return c.Flags&f != 0 }

// IsOperator takes a nickname in any case.
func (c ChannelConfig) IsOperator(nick string) bool {
	_, ok := c.Operators[canonicalizeNick(nick)]
	return ok
}

// IsSpeaker takes a nickname in any case.
func (c ChannelConfig) IsSpeaker(nick string) bool {
	_, ok := c.Speakers[canonicalizeNick(nick)]
	return ok
}

// ModeString renders the modes and their arguments as for RPL_CHANNELMODEIS.
// The key is shown only when showKey is set.
func (c ChannelConfig) ModeString(showKey bool) []string {
	modes := c.Flags.String()
	var args []string
	if c.HasLimit {
		modes += "l"
		args = append(args, strconv.Itoa(c.Limit))
	}
	if c.Key != "" {
		modes += "k"
		if showKey {
			args = append(args, c.Key)
		} else {
			args = append(args, "*")
		}
	}
	return append([]string{modes}, args...)
}

// Channel holds everything to do with a channel.
type Channel struct {
	Name string

	// Current nicknames, in join order.
	Members []string

	// Empty when unset.
	Topic string

	Config ChannelConfig
}

// IsDistributed tells whether the channel is shared with linked servers.
func (c Channel) IsDistributed() bool { return isDistributedChannel(c.Name) }

func (c Channel) clone() Channel {
	c.Members = append([]string(nil), c.Members...)
	c.Config = c.Config.clone()
	return c
}

func (c *Channel) memberIndex(nick string) int {
	cn := canonicalizeNick(nick)
	for i, m := range c.Members {
		if canonicalizeNick(m) == cn {
			return i
		}
	}
	return -1
}

// HasMember takes a nickname in any case.
func (c Channel) HasMember(nick string) bool { return c.memberIndex(nick) != -1 }

// ImmediateServer is a server linked to us directly.
type ImmediateServer struct {
	Name   string
	Info   string
	Stream Stream
	ID     string
}

// DistantServer is a server reachable through an immediate one.
type DistantServer struct {
	Name     string
	Info     string
	Hopcount int

	// Canonical name of the immediate server on the path to it.
	Via string

	// Canonical name of the server that introduced it. It is the next server
	// toward us in the tree.
	Uplink string
}

// ServerInfo is the common view of a server used by LINKS, LUSERS and the
// burst.
type ServerInfo struct {
	Name     string
	Info     string
	Hopcount int
	Uplink   string
}
