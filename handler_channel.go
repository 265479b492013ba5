package main

import (
	"strings"

	"github.com/horgh/catlink/internal/wire"
	"github.com/pkg/errors"
)

// namesLineLength keeps a 353 reply well inside the line limit.
const namesLineLength = 400

// JOIN <channel>[,<channel>] [<key>[,<key>]]. JOIN 0 parts every channel.
func (h *clientHandler) joinCommand(m wire.Message) error {
	args := m.Args()
	if len(args) == 0 || args[0] == "" {
		return errNeedMoreParams("JOIN")
	}

	if args[0] == "0" {
		for _, name := range h.server.DB.ChannelsForClient(h.nick) {
			h.part(name, h.nick)
		}
		return nil
	}

	var keys []string
	if len(args) > 1 {
		keys = splitList(args[1])
	}

	for i, name := range splitList(args[0]) {
		key := ""
		if i < len(keys) {
			key = keys[i]
		}
		if err := h.join(name, key); err != nil {
			var n Numeric
			if errors.As(err, &n) {
				h.reply(n)
			}
		}
	}
	return nil
}

// join admits us to one channel. The JOIN is announced to the members and
// linked servers in the same database step as the admission. The creator's
// operator grant follows the NAMES reply.
func (h *clientHandler) join(name, key string) error {
	var res joinResult
	var err error
	h.server.DB.ask(func(s *State) {
		res, err = s.joinChannel(h.nick, name, key)
		if err != nil {
			return
		}
		info, _ := s.clientInfo(h.nick)
		s.announceToChannel(clientOrigin(info), joinMessage("", res.Channel.Name),
			res.Channel.Name, "", "")
	})
	if errors.Is(err, errAlreadyOnChannel) {
		return nil
	}
	if err != nil {
		return err
	}

	ch := res.Channel
	if ch.Topic == "" {
		h.reply(rplNoTopic(ch.Name))
	} else {
		h.reply(rplTopic(ch.Name, ch.Topic))
	}
	for _, n := range namesReplies(ch) {
		h.reply(n)
	}
	h.reply(rplEndOfNames(ch.Name))

	if res.Created {
		h.server.DB.ask(func(s *State) {
			if !s.isClientInChannel(h.nick, ch.Name) {
				return
			}
			o := serverOrigin(s.Name)
			s.announceToChannel(o, modeMessage("", ch.Name, []string{"+o", h.nick}),
				ch.Name, "", "")
		})
	}
	return nil
}

func channelSymbol(ch Channel) string {
	switch {
	case ch.Config.Has(ChannelSecret):
		return "@"
	case ch.Config.Has(ChannelPrivate):
		return "*"
	}
	return "="
}

// namesReplies lists a channel's members, split over as many 353 replies as
// needed.
func namesReplies(ch Channel) []Numeric {
	var replies []Numeric
	var names []string
	length := 0

	for _, member := range ch.Members {
		name := member
		switch {
		case ch.Config.IsOperator(member):
			name = "@" + member
		case ch.Config.IsSpeaker(member):
			name = "+" + member
		}
		if length+len(name)+1 > namesLineLength && len(names) > 0 {
			replies = append(replies, rplNamReply(channelSymbol(ch), ch.Name, names))
			names, length = nil, 0
		}
		names = append(names, name)
		length += len(name) + 1
	}
	if len(names) > 0 {
		replies = append(replies, rplNamReply(channelSymbol(ch), ch.Name, names))
	}
	return replies
}

// visibleTo tells whether a non-secret channel or one nick is in.
func (ch Channel) visibleTo(nick string) bool {
	return !ch.Config.Has(ChannelSecret) || ch.HasMember(nick)
}

// PART <channel>[,<channel>] [:message]
func (h *clientHandler) partCommand(m wire.Message) error {
	args := m.Args()
	if len(args) == 0 || args[0] == "" {
		return errNeedMoreParams("PART")
	}
	message := h.nick
	if len(args) > 1 && args[1] != "" {
		message = args[1]
	}

	for _, name := range splitList(args[0]) {
		if err := h.part(name, message); err != nil {
			var n Numeric
			if errors.As(err, &n) {
				h.reply(n)
			}
		}
	}
	return nil
}

func (h *clientHandler) part(name, message string) error {
	var err error
	h.server.DB.ask(func(s *State) {
		ch, ok := s.channel(name)
		if !ok {
			err = errNoSuchChannel(name)
			return
		}
		if !ch.HasMember(h.nick) {
			err = errNotOnChannel(ch.Name)
			return
		}
		info, _ := s.clientInfo(h.nick)
		s.announceToChannel(clientOrigin(info), partMessage("", ch.Name, message),
			ch.Name, "", "")
		s.removeClientFromChannel(h.nick, ch.Name)
	})
	return err
}

// INVITE <nick> <channel>
func (h *clientHandler) inviteCommand(m wire.Message) error {
	args := m.Args()
	if len(args) < 2 {
		return errNeedMoreParams("INVITE")
	}
	target, channel := args[0], args[1]

	var err error
	var to ClientInfo
	h.server.DB.ask(func(s *State) {
		var ok bool
		to, ok = s.clientInfo(target)
		if !ok {
			err = errNoSuchNick(target)
			return
		}

		if ch, ok := s.channel(channel); ok {
			if !ch.HasMember(h.nick) {
				err = errNotOnChannel(ch.Name)
				return
			}
			if ch.HasMember(target) {
				err = errUserOnChannel(to.Nick(), ch.Name)
				return
			}
			if ch.Config.Has(ChannelInviteOnly) && !ch.Config.IsOperator(h.nick) {
				err = errChanOPrivsNeeded(ch.Name)
				return
			}
			s.addInvite(ch.Name, to.Nick())
		}

		info, _ := s.clientInfo(h.nick)
		s.sendToClient(clientOrigin(info), inviteMessage("", to.Nick(), channel),
			to.Nick(), "")
	})
	if err != nil {
		return err
	}

	h.reply(rplInviting(channel, to.Nick()))
	if to.IsAway() {
		h.reply(rplAway(to.Nick(), to.Away))
	}
	return nil
}

// NAMES [<channel>[,<channel>]]
func (h *clientHandler) namesCommand(m wire.Message) error {
	args := m.Args()

	if len(args) == 0 || args[0] == "" {
		for _, ch := range h.server.DB.AllChannels() {
			if !ch.visibleTo(h.nick) {
				continue
			}
			for _, n := range namesReplies(ch) {
				h.reply(n)
			}
		}
		h.reply(rplEndOfNames("*"))
		return nil
	}

	for _, name := range splitList(args[0]) {
		if ch, ok := h.server.DB.Channel(name); ok && ch.visibleTo(h.nick) {
			for _, n := range namesReplies(ch) {
				h.reply(n)
			}
		}
		h.reply(rplEndOfNames(name))
	}
	return nil
}

// LIST [<channel>[,<channel>]]. Secret channels are hidden from non-members
// and private channels have their topic hidden.
func (h *clientHandler) listCommand(m wire.Message) error {
	var channels []Channel
	if args := m.Args(); len(args) > 0 && args[0] != "" {
		for _, name := range splitList(args[0]) {
			if ch, ok := h.server.DB.Channel(name); ok {
				channels = append(channels, ch)
			}
		}
	} else {
		channels = h.server.DB.AllChannels()
	}

	h.reply(rplListStart())
	for _, ch := range channels {
		if !ch.visibleTo(h.nick) {
			continue
		}
		topic := ch.Topic
		if ch.Config.Has(ChannelPrivate) && !ch.HasMember(h.nick) {
			topic = ""
		}
		h.reply(rplList(ch.Name, len(ch.Members), topic))
	}
	h.reply(rplListEnd())
	return nil
}

// WHO [<mask> [o]]
func (h *clientHandler) whoCommand(m wire.Message) error {
	args := m.Args()
	mask := "*"
	if len(args) > 0 && args[0] != "" && args[0] != "0" {
		mask = args[0]
	}
	opersOnly := len(args) > 1 && args[1] == "o"

	var replies []Numeric
	h.server.DB.ask(func(s *State) {
		if isChannelName(mask) {
			ch, ok := s.channel(mask)
			if !ok || !ch.visibleTo(h.nick) {
				return
			}
			for _, member := range ch.Members {
				info, ok := s.clientInfo(member)
				if !ok || (opersOnly && !info.IsOperator()) {
					continue
				}
				replies = append(replies,
					rplWhoReply(ch.Name, info, whoStatus(info, ch.Config)))
			}
			return
		}

		shared := map[string]struct{}{}
		for _, name := range s.channelsForClient(h.nick) {
			for _, member := range s.channelClients(name) {
				shared[canonicalizeNick(member)] = struct{}{}
			}
		}

		for _, info := range s.clientsForMask(mask) {
			if opersOnly && !info.IsOperator() {
				continue
			}
			_, sharesChannel := shared[canonicalizeNick(info.Nick())]
			if info.Flags&UserInvisible != 0 && !sharesChannel &&
				canonicalizeNick(info.Nick()) != canonicalizeNick(h.nick) {
				continue
			}
			replies = append(replies, rplWhoReply("*", info, whoStatus(info, ChannelConfig{})))
		}
	})

	for _, r := range replies {
		h.reply(r)
	}
	h.reply(rplEndOfWho(mask))
	return nil
}

// whoStatus is H or G for here or gone, * for operators, then @ or + for
// channel status.
func whoStatus(info ClientInfo, cfg ChannelConfig) string {
	status := "H"
	if info.IsAway() {
		status = "G"
	}
	if info.IsOperator() {
		status += "*"
	}
	switch {
	case cfg.IsOperator(info.Nick()):
		status += "@"
	case cfg.IsSpeaker(info.Nick()):
		status += "+"
	}
	return status
}

// TOPIC <channel> [:topic]
func (h *clientHandler) topicCommand(m wire.Message) error {
	args := m.Args()
	if len(args) == 0 || args[0] == "" {
		return errNeedMoreParams("TOPIC")
	}
	name := args[0]

	if len(args) == 1 {
		ch, ok := h.server.DB.Channel(name)
		if !ok || !ch.visibleTo(h.nick) {
			return errNoSuchChannel(name)
		}
		if ch.Topic == "" {
			return rplNoTopic(ch.Name)
		}
		h.reply(rplTopic(ch.Name, ch.Topic))
		return nil
	}

	topic := truncate(args[1], maxTopicLength)

	var err error
	h.server.DB.ask(func(s *State) {
		ch, ok := s.channel(name)
		if !ok {
			err = errNoSuchChannel(name)
			return
		}
		if !ch.HasMember(h.nick) {
			err = errNotOnChannel(ch.Name)
			return
		}
		if ch.Config.Has(ChannelTopicOps) && !ch.Config.IsOperator(h.nick) {
			err = errChanOPrivsNeeded(ch.Name)
			return
		}
		s.setChannelTopic(ch.Name, topic)
		info, _ := s.clientInfo(h.nick)
		s.announceToChannel(clientOrigin(info), topicMessage("", ch.Name, topic),
			ch.Name, "", "")
	})
	return err
}

// KICK <channel> <nick>[,<nick>] [:reason]
func (h *clientHandler) kickCommand(m wire.Message) error {
	args := m.Args()
	if len(args) < 2 {
		return errNeedMoreParams("KICK")
	}
	name := args[0]
	reason := h.nick
	if len(args) > 2 && args[2] != "" {
		reason = args[2]
	}

	for _, target := range splitList(args[1]) {
		var err error
		h.server.DB.ask(func(s *State) {
			ch, ok := s.channel(name)
			if !ok {
				err = errNoSuchChannel(name)
				return
			}
			if !ch.HasMember(h.nick) {
				err = errNotOnChannel(ch.Name)
				return
			}
			if !ch.Config.IsOperator(h.nick) {
				err = errChanOPrivsNeeded(ch.Name)
				return
			}
			i := ch.memberIndex(target)
			if i == -1 {
				err = errUserNotInChannel(target, ch.Name)
				return
			}
			victim := ch.Members[i]
			info, _ := s.clientInfo(h.nick)
			s.announceToChannel(clientOrigin(info),
				kickMessage("", ch.Name, victim, reason), ch.Name, "", "")
			s.removeClientFromChannel(victim, ch.Name)
		})
		var n Numeric
		if errors.As(err, &n) {
			h.reply(n)
		}
	}
	return nil
}

// MODE <channel> [<modes> [<args>...]] or MODE <nick> [<modes>]
func (h *clientHandler) modeCommand(m wire.Message) error {
	args := m.Args()
	if len(args) == 0 || args[0] == "" {
		return errNeedMoreParams("MODE")
	}
	if isChannelName(args[0]) {
		return h.channelModeCommand(args[0], args[1:])
	}
	return h.userModeCommand(args[0], args[1:])
}

func (h *clientHandler) channelModeCommand(name string, args []string) error {
	ch, ok := h.server.DB.Channel(name)
	if !ok {
		return errNoSuchChannel(name)
	}

	if len(args) == 0 {
		h.reply(rplChannelModeIs(ch.Name, ch.Config.ModeString(ch.HasMember(h.nick))))
		return nil
	}

	changes, err := parseChannelModes(args[0], args[1:])
	if err != nil {
		return err
	}

	var wanted []modeChange
	for _, c := range changes {
		if c.Mode == 'b' && !c.HasArg {
			for _, b := range ch.Config.Banmasks {
				h.reply(rplBanList(ch.Name, b))
			}
			h.reply(rplEndOfBanList(ch.Name))
			continue
		}
		wanted = append(wanted, c)
	}
	if len(wanted) == 0 {
		return nil
	}

	var applied []modeChange
	var errs []Numeric
	h.server.DB.ask(func(s *State) {
		ch, ok := s.channel(name)
		if !ok {
			errs = []Numeric{errNoSuchChannel(name)}
			return
		}
		if !ch.Config.IsOperator(h.nick) {
			errs = []Numeric{errChanOPrivsNeeded(ch.Name)}
			return
		}
		applied, errs = s.applyChannelModes(ch.Name, wanted)
		if len(applied) == 0 {
			return
		}
		info, _ := s.clientInfo(h.nick)
		s.announceToChannel(clientOrigin(info),
			modeMessage("", ch.Name, formatModes(applied)), ch.Name, "", "")
	})

	for _, n := range errs {
		h.reply(n)
	}
	return nil
}

func (h *clientHandler) userModeCommand(nick string, args []string) error {
	if !h.server.DB.ContainsClient(nick) {
		return errNoSuchNick(nick)
	}
	if canonicalizeNick(nick) != canonicalizeNick(h.nick) {
		return errUsersDontMatch()
	}

	if len(args) == 0 {
		info, _ := h.server.DB.ClientInfo(h.nick)
		h.reply(rplUmodeIs(info.Flags.String()))
		return nil
	}

	changes, err := parseUserModes(strings.Join(args, ""))
	if err != nil {
		return err
	}

	h.server.DB.ask(func(s *State) {
		applied := s.applyUserModes(h.nick, changes)
		if len(applied) == 0 {
			return
		}
		info, _ := s.clientInfo(h.nick)
		msg := modeMessage("", h.nick, formatModes(applied))
		s.sendToClient(origin{Local: h.nick, Remote: h.nick}, msg, h.nick, "")
		s.sendToAllServers(clientOrigin(info), msg, "")
	})
	return nil
}
