package main

import (
	"strconv"
	"strings"

	"github.com/horgh/catlink/internal/mask"
)

// modeChange is one flag from a MODE command.
type modeChange struct {
	Add    bool
	Mode   byte
	Arg    string
	HasArg bool
}

// parseChannelModes splits a mode string and its argument list into changes.
//
// o, v, b and k take an argument whichever the sign. l takes one when
// adding. A b without an argument is returned with HasArg unset and means a
// ban list query. Any letter outside imsptnlbokv fails the whole command.
func parseChannelModes(modes string, args []string) ([]modeChange, error) {
	var changes []modeChange
	add := true

	next := func() (string, bool) {
		if len(args) == 0 {
			return "", false
		}
		a := args[0]
		args = args[1:]
		return a, true
	}

	for i := 0; i < len(modes); i++ {
		c := modes[i]
		switch c {
		case '+':
			add = true
			continue
		case '-':
			add = false
			continue
		}

		change := modeChange{Add: add, Mode: c}

		switch c {
		case 'i', 'm', 's', 'p', 't', 'n':
		case 'o', 'v':
			arg, ok := next()
			if !ok {
				return nil, errNeedMoreParams("MODE")
			}
			change.Arg, change.HasArg = arg, true
		case 'b', 'k':
			change.Arg, change.HasArg = next()
		case 'l':
			if add {
				arg, ok := next()
				if !ok {
					return nil, errNeedMoreParams("MODE")
				}
				change.Arg, change.HasArg = arg, true
			}
		default:
			return nil, errUnknownMode(c)
		}

		changes = append(changes, change)
	}

	return changes, nil
}

// applyChannelModes applies changes to a channel in one step. It returns the
// changes that took effect and the error replies for those that did not.
// Ban list queries are neither.
func (s *State) applyChannelModes(channel string,
	changes []modeChange) ([]modeChange, []Numeric) {
	ch, ok := s.channel(channel)
	if !ok {
		return nil, []Numeric{errNoSuchChannel(channel)}
	}

	var applied []modeChange
	var errs []Numeric

	for _, c := range changes {
		switch c.Mode {
		case 'o', 'v':
			if ch.memberIndex(c.Arg) == -1 {
				errs = append(errs, errUserNotInChannel(c.Arg, ch.Name))
				continue
			}
			// Use the member's own spelling of the nick.
			c.Arg = ch.Members[ch.memberIndex(c.Arg)]
			set := ch.Config.Operators
			if c.Mode == 'v' {
				set = ch.Config.Speakers
			}
			if setMemberStatus(set, c.Arg, c.Add) {
				applied = append(applied, c)
			}

		case 'b':
			if !c.HasArg {
				continue
			}
			c.Arg = mask.Normalize(c.Arg)
			if c.Add && s.addChannelBanmask(ch.Name, c.Arg) {
				applied = append(applied, c)
			}
			if !c.Add && s.removeChannelBanmask(ch.Name, c.Arg) {
				applied = append(applied, c)
			}

		case 'k':
			if c.Add {
				if !c.HasArg || c.Arg == "" {
					continue
				}
				if ch.Config.Key != "" {
					errs = append(errs, errKeySet(ch.Name))
					continue
				}
				ch.Config.Key = c.Arg
				applied = append(applied, c)
				continue
			}
			if ch.Config.Key == "" {
				continue
			}
			c.Arg, c.HasArg = ch.Config.Key, true
			ch.Config.Key = ""
			applied = append(applied, c)

		case 'l':
			if c.Add {
				n, err := strconv.Atoi(c.Arg)
				if err != nil || n < 0 {
					continue
				}
				// A limit below the current membership would already be broken.
				if n < len(ch.Members) {
					continue
				}
				if ch.Config.HasLimit && ch.Config.Limit == n {
					continue
				}
				ch.Config.Limit, ch.Config.HasLimit = n, true
				c.Arg = strconv.Itoa(n)
				applied = append(applied, c)
				continue
			}
			if !ch.Config.HasLimit {
				continue
			}
			ch.Config.Limit, ch.Config.HasLimit = 0, false
			applied = append(applied, c)

		default:
			flag, ok := channelFlagFromLetter(c.Mode)
			if !ok {
				continue
			}
			if s.setChannelMode(ch.Name, flag, c.Add) {
				applied = append(applied, c)
			}
		}
	}

	return applied, errs
}

// formatModes renders changes as a mode string followed by its arguments.
func formatModes(changes []modeChange) []string {
	var sb strings.Builder
	var args []string
	var sign byte

	for _, c := range changes {
		want := byte('-')
		if c.Add {
			want = '+'
		}
		if want != sign {
			sb.WriteByte(want)
			sign = want
		}
		sb.WriteByte(c.Mode)
		if c.HasArg {
			args = append(args, c.Arg)
		}
	}

	return append([]string{sb.String()}, args...)
}

// parseUserModes reads a user mode string. Operator status cannot be given
// this way and away is managed by AWAY, so +o and +a are skipped.
func parseUserModes(modes string) ([]modeChange, error) {
	var changes []modeChange
	add := true
	for i := 0; i < len(modes); i++ {
		c := modes[i]
		switch c {
		case '+':
			add = true
		case '-':
			add = false
		case 'o':
			if !add {
				changes = append(changes, modeChange{Add: false, Mode: c})
			}
		case 'a':
		case 'i', 'w', 's':
			changes = append(changes, modeChange{Add: add, Mode: c})
		default:
			return nil, errUmodeUnknownFlag()
		}
	}
	return changes, nil
}

// applyUserModes returns the changes that took effect.
func (s *State) applyUserModes(nick string, changes []modeChange) []modeChange {
	info, ok := s.lookupClient(nick)
	if !ok {
		return nil
	}
	var applied []modeChange
	for _, c := range changes {
		flag, ok := userFlagFromLetter(c.Mode)
		if !ok {
			continue
		}
		had := info.Flags&flag != 0
		if had == c.Add {
			continue
		}
		if c.Add {
			info.Flags |= flag
		} else {
			info.Flags &^= flag
		}
		applied = append(applied, c)
	}
	return applied
}

// ApplyChannelModes is the database entry point for channel MODE.
func (h Handle) ApplyChannelModes(channel string,
	changes []modeChange) (applied []modeChange, errs []Numeric) {
	h.ask(func(s *State) { applied, errs = s.applyChannelModes(channel, changes) })
	return applied, errs
}

// ApplyUserModes is the database entry point for user MODE.
func (h Handle) ApplyUserModes(nick string,
	changes []modeChange) (applied []modeChange) {
	h.ask(func(s *State) { applied = s.applyUserModes(nick, changes) })
	return applied
}
