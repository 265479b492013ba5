package main

import (
	"strings"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/horgh/catlink/internal/mask"
	"github.com/lrstanley/girc"
)

// 50 from RFC
const maxChannelLength = 50

// Arbitrary. Something low enough we won't hit message limit.
const maxTopicLength = 300

const maxRealNameLength = 64

// canonicalizeNick converts the given nick to its canonical representation
// (which must be unique). RFC 1459 case mapping applies, so "[" and "{" are
// the same.
//
// Note: We don't check validity or strip whitespace.
func canonicalizeNick(n string) string {
	return girc.ToRFC1459(n)
}

// canonicalizeChannel converts the given channel to its canonical
// representation (which must be unique).
func canonicalizeChannel(c string) string {
	return girc.ToRFC1459(c)
}

func canonicalizeServer(s string) string {
	return strings.ToLower(s)
}

// isValidNick checks if a nickname is valid.
func isValidNick(maxLen int, n string) bool {
	if len(n) == 0 || len(n) > maxLen {
		return false
	}
	return girc.IsValidNick(n)
}

// isValidUser checks if a user (USER command) is valid
func isValidUser(maxLen int, u string) bool {
	if len(u) == 0 || len(u) > maxLen {
		return false
	}
	return girc.IsValidUser(u)
}

// isChannelName tells whether a target names a channel rather than a client.
func isChannelName(s string) bool {
	return s != "" && (s[0] == '#' || s[0] == '&')
}

// isDistributedChannel tells whether a channel is replicated to linked
// servers. Only # channels are.
func isDistributedChannel(s string) bool {
	return s != "" && s[0] == '#'
}

// isValidChannel checks a channel name for validity.
func isValidChannel(c string) bool {
	if len(c) < 2 || len(c) > maxChannelLength || !isChannelName(c) {
		return false
	}
	if strings.ContainsAny(c, ",: \x07") {
		return false
	}
	return girc.IsValidChannel(c)
}

// isValidServerName accepts host-like names.
func isValidServerName(s string) bool {
	if len(s) == 0 || len(s) > 63 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.' || c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}

func isNumericCommand(command string) bool {
	if len(command) != 3 {
		return false
	}
	for _, c := range command {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// matchNick matches a nickname glob.
func matchNick(pattern, nick string) bool {
	return mask.Match(pattern, nick)
}

// splitList splits a comma separated parameter, dropping empty entries.
func splitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

// truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	return ircmsg.TruncateUTF8Safe(s, n)
}
