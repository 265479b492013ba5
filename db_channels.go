package main

import (
	"sort"

	"github.com/pkg/errors"
)

var errAlreadyOnChannel = errors.New("already on channel")

func (s *State) channel(name string) (*Channel, bool) {
	ch, ok := s.Channels[canonicalizeChannel(name)]
	return ch, ok
}

// addClientToChannel adds a membership without admission checks. It creates
// the channel if needed.
func (s *State) addClientToChannel(nick, name string) (created bool) {
	ch, ok := s.channel(name)
	if !ok {
		ch = &Channel{Name: name, Config: newChannelConfig()}
		s.Channels[canonicalizeChannel(name)] = ch
		created = true
	}
	if ch.memberIndex(nick) == -1 {
		ch.Members = append(ch.Members, nick)
	}
	delete(ch.Config.Invited, canonicalizeNick(nick))
	return created
}

// removeClientFromChannel drops a membership along with the member's
// operator and speaker status. An empty channel is deleted.
func (s *State) removeClientFromChannel(nick, name string) bool {
	ch, ok := s.channel(name)
	if !ok {
		return false
	}
	i := ch.memberIndex(nick)
	if i == -1 {
		return false
	}

	ch.Members = append(ch.Members[:i], ch.Members[i+1:]...)
	delete(ch.Config.Operators, canonicalizeNick(nick))
	delete(ch.Config.Speakers, canonicalizeNick(nick))

	if len(ch.Members) == 0 {
		delete(s.Channels, canonicalizeChannel(name))
	}
	return true
}

// joinResult is what a successful admission returns. Channel is a snapshot
// taken after the join and before any creator operator grant.
type joinResult struct {
	Channel Channel
	Created bool
}

// joinChannel admits a client to a channel. On refusal the error is the
// Numeric to send back.
func (s *State) joinChannel(nick, name, key string) (joinResult, error) {
	info, ok := s.lookupClient(nick)
	if !ok {
		return joinResult{}, errClientNotFound
	}

	if ch, ok := s.channel(name); ok && ch.memberIndex(nick) != -1 {
		return joinResult{}, errAlreadyOnChannel
	}

	if len(s.channelsForClient(nick)) >= maxChannels {
		return joinResult{}, errTooManyChannels(name)
	}

	if !isValidChannel(name) {
		return joinResult{}, errNoSuchChannel(name)
	}

	if ch, ok := s.channel(name); ok {
		_, invited := ch.Config.Invited[canonicalizeNick(nick)]

		if ch.Config.HasLimit && len(ch.Members) >= ch.Config.Limit {
			return joinResult{}, errChannelIsFull(ch.Name)
		}

		if ch.Config.Key != "" && key != ch.Config.Key {
			return joinResult{}, errBadChannelKey(ch.Name)
		}

		if !invited {
			for _, m := range ch.Config.Banmasks {
				if info.MatchesBanmask(m) {
					return joinResult{}, errBannedFromChan(ch.Name)
				}
			}
		}

		if ch.Config.Has(ChannelInviteOnly) && !invited {
			return joinResult{}, errInviteOnlyChan(ch.Name)
		}
	}

	created := s.addClientToChannel(info.Nick(), name)
	ch, _ := s.channel(name)
	res := joinResult{Channel: ch.clone(), Created: created}

	if created {
		ch.Config.Operators[canonicalizeNick(nick)] = struct{}{}
	}

	return res, nil
}

func (s *State) isClientInChannel(nick, name string) bool {
	ch, ok := s.channel(name)
	return ok && ch.memberIndex(nick) != -1
}

func (s *State) channelClients(name string) []string {
	ch, ok := s.channel(name)
	if !ok {
		return nil
	}
	return append([]string(nil), ch.Members...)
}

// channelsForClient returns the channel names the client is in, sorted.
func (s *State) channelsForClient(nick string) []string {
	var names []string
	for _, ch := range s.Channels {
		if ch.memberIndex(nick) != -1 {
			names = append(names, ch.Name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return canonicalizeChannel(names[i]) < canonicalizeChannel(names[j])
	})
	return names
}

func (s *State) allChannels() []Channel {
	channels := make([]Channel, 0, len(s.Channels))
	for _, ch := range s.Channels {
		channels = append(channels, ch.clone())
	}
	sort.Slice(channels, func(i, j int) bool {
		return canonicalizeChannel(channels[i].Name) <
			canonicalizeChannel(channels[j].Name)
	})
	return channels
}

func (s *State) localClientsForChannel(name string) []string {
	ch, ok := s.channel(name)
	if !ok {
		return nil
	}
	var nicks []string
	for _, m := range ch.Members {
		if s.isLocalClient(m) {
			nicks = append(nicks, m)
		}
	}
	return nicks
}

func (s *State) setChannelTopic(name, topic string) bool {
	ch, ok := s.channel(name)
	if !ok {
		return false
	}
	ch.Topic = topic
	return true
}

func (s *State) setChannelKey(name, key string) bool {
	ch, ok := s.channel(name)
	if !ok {
		return false
	}
	ch.Config.Key = key
	return true
}

func (s *State) setChannelLimit(name string, limit int, has bool) bool {
	ch, ok := s.channel(name)
	if !ok || (has && limit < len(ch.Members)) {
		return false
	}
	ch.Config.Limit = limit
	ch.Config.HasLimit = has
	return true
}

// addChannelBanmask keeps the first copy of a mask. It reports whether the
// list changed.
func (s *State) addChannelBanmask(name, m string) bool {
	ch, ok := s.channel(name)
	if !ok {
		return false
	}
	for _, b := range ch.Config.Banmasks {
		if canonicalizeNick(b) == canonicalizeNick(m) {
			return false
		}
	}
	ch.Config.Banmasks = append(ch.Config.Banmasks, m)
	return true
}

func (s *State) removeChannelBanmask(name, m string) bool {
	ch, ok := s.channel(name)
	if !ok {
		return false
	}
	for i, b := range ch.Config.Banmasks {
		if canonicalizeNick(b) == canonicalizeNick(m) {
			ch.Config.Banmasks = append(ch.Config.Banmasks[:i],
				ch.Config.Banmasks[i+1:]...)
			return true
		}
	}
	return false
}

// setMemberStatus adds or removes nick from one of the channel's nickname
// sets. It reports whether the set changed.
func setMemberStatus(set map[string]struct{}, nick string, on bool) bool {
	key := canonicalizeNick(nick)
	_, had := set[key]
	if on {
		set[key] = struct{}{}
	} else {
		delete(set, key)
	}
	return had != on
}

func (s *State) setChannop(name, nick string, on bool) bool {
	ch, ok := s.channel(name)
	if !ok {
		return false
	}
	return setMemberStatus(ch.Config.Operators, nick, on)
}

func (s *State) setSpeaker(name, nick string, on bool) bool {
	ch, ok := s.channel(name)
	if !ok {
		return false
	}
	return setMemberStatus(ch.Config.Speakers, nick, on)
}

func (s *State) addInvite(name, nick string) bool {
	ch, ok := s.channel(name)
	if !ok {
		return false
	}
	return setMemberStatus(ch.Config.Invited, nick, true)
}

// setChannelMode reports whether the flag changed.
func (s *State) setChannelMode(name string, flag ChannelFlags, on bool) bool {
	ch, ok := s.channel(name)
	if !ok {
		return false
	}
	had := ch.Config.Flags&flag != 0
	if on {
		ch.Config.Flags |= flag
	} else {
		ch.Config.Flags &^= flag
	}
	return had != on
}

// Handle wrappers.

// JoinChannel runs JOIN admission and adds the membership on success.
func (h Handle) JoinChannel(nick, name, key string) (res joinResult, err error) {
	err = errClientNotFound
	h.ask(func(s *State) { res, err = s.joinChannel(nick, name, key) })
	return res, err
}

// AddClientToChannel adds a membership without checks, as for a JOIN relayed
// by a linked server.
func (h Handle) AddClientToChannel(nick, name string) (created bool) {
	h.ask(func(s *State) { created = s.addClientToChannel(nick, name) })
	return created
}

func (h Handle) RemoveClientFromChannel(nick, name string) (ok bool) {
	h.ask(func(s *State) { ok = s.removeClientFromChannel(nick, name) })
	return ok
}

func (h Handle) IsClientInChannel(nick, name string) (ok bool) {
	h.ask(func(s *State) { ok = s.isClientInChannel(nick, name) })
	return ok
}

func (h Handle) ContainsChannel(name string) (ok bool) {
	h.ask(func(s *State) { _, ok = s.channel(name) })
	return ok
}

// Channel returns a snapshot of a channel.
func (h Handle) Channel(name string) (ch Channel, ok bool) {
	h.ask(func(s *State) {
		var c *Channel
		if c, ok = s.channel(name); ok {
			ch = c.clone()
		}
	})
	return ch, ok
}

func (h Handle) ChannelClients(name string) (nicks []string) {
	h.ask(func(s *State) { nicks = s.channelClients(name) })
	return nicks
}

func (h Handle) ChannelsForClient(nick string) (names []string) {
	h.ask(func(s *State) { names = s.channelsForClient(nick) })
	return names
}

func (h Handle) AllChannels() (channels []Channel) {
	h.ask(func(s *State) { channels = s.allChannels() })
	return channels
}

func (h Handle) LocalClientsForChannel(name string) (nicks []string) {
	h.ask(func(s *State) { nicks = s.localClientsForChannel(name) })
	return nicks
}

// ChannelTopic returns the topic. It is empty when unset.
func (h Handle) ChannelTopic(name string) (topic string, ok bool) {
	h.ask(func(s *State) {
		var ch *Channel
		if ch, ok = s.channel(name); ok {
			topic = ch.Topic
		}
	})
	return topic, ok
}

func (h Handle) SetChannelTopic(name, topic string) {
	h.tell(func(s *State) { s.setChannelTopic(name, topic) })
}

func (h Handle) ChannelKey(name string) (key string) {
	h.ask(func(s *State) {
		if ch, ok := s.channel(name); ok {
			key = ch.Config.Key
		}
	})
	return key
}

// SetChannelKey sets the key. An empty key removes it.
func (h Handle) SetChannelKey(name, key string) {
	h.tell(func(s *State) { s.setChannelKey(name, key) })
}

func (h Handle) ChannelLimit(name string) (limit int, ok bool) {
	h.ask(func(s *State) {
		if ch, found := s.channel(name); found && ch.Config.HasLimit {
			limit, ok = ch.Config.Limit, true
		}
	})
	return limit, ok
}

func (h Handle) SetChannelLimit(name string, limit int) {
	h.tell(func(s *State) { s.setChannelLimit(name, limit, true) })
}

func (h Handle) UnsetChannelLimit(name string) {
	h.tell(func(s *State) { s.setChannelLimit(name, 0, false) })
}

// AddChannelBanmask reports whether the mask was new.
func (h Handle) AddChannelBanmask(name, m string) (added bool) {
	h.ask(func(s *State) { added = s.addChannelBanmask(name, m) })
	return added
}

func (h Handle) RemoveChannelBanmask(name, m string) (removed bool) {
	h.ask(func(s *State) { removed = s.removeChannelBanmask(name, m) })
	return removed
}

func (h Handle) ChannelBanmasks(name string) (masks []string) {
	h.ask(func(s *State) {
		if ch, ok := s.channel(name); ok {
			masks = append([]string(nil), ch.Config.Banmasks...)
		}
	})
	return masks
}

func (h Handle) AddChannop(name, nick string) {
	h.tell(func(s *State) { s.setChannop(name, nick, true) })
}

func (h Handle) RemoveChannop(name, nick string) {
	h.tell(func(s *State) { s.setChannop(name, nick, false) })
}

func (h Handle) IsChannelOperator(name, nick string) (ok bool) {
	h.ask(func(s *State) {
		if ch, found := s.channel(name); found {
			ok = ch.Config.IsOperator(nick)
		}
	})
	return ok
}

func (h Handle) AddSpeaker(name, nick string) {
	h.tell(func(s *State) { s.setSpeaker(name, nick, true) })
}

func (h Handle) RemoveSpeaker(name, nick string) {
	h.tell(func(s *State) { s.setSpeaker(name, nick, false) })
}

func (h Handle) IsChannelSpeaker(name, nick string) (ok bool) {
	h.ask(func(s *State) {
		if ch, found := s.channel(name); found {
			ok = ch.Config.IsSpeaker(nick)
		}
	})
	return ok
}

// AddInvite lets nick past +i and bans on its next JOIN.
func (h Handle) AddInvite(name, nick string) {
	h.tell(func(s *State) { s.addInvite(name, nick) })
}

func (h Handle) SetChannelMode(name string, flag ChannelFlags) {
	h.tell(func(s *State) { s.setChannelMode(name, flag, true) })
}

func (h Handle) UnsetChannelMode(name string, flag ChannelFlags) {
	h.tell(func(s *State) { s.setChannelMode(name, flag, false) })
}

func (h Handle) ChannelHasMode(name string, flag ChannelFlags) (ok bool) {
	h.ask(func(s *State) {
		if ch, found := s.channel(name); found {
			ok = ch.Config.Has(flag)
		}
	})
	return ok
}

// ChannelConfig returns an atomic snapshot of a channel's modes and lists.
func (h Handle) ChannelConfig(name string) (cfg ChannelConfig, ok bool) {
	h.ask(func(s *State) {
		var ch *Channel
		if ch, ok = s.channel(name); ok {
			cfg = ch.Config.clone()
		}
	})
	return cfg, ok
}
