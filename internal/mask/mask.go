// Package mask matches IRC glob masks such as *!*@host.example.
//
// '*' matches any run of characters (including none) and '?' matches exactly
// one. Every other byte matches itself. Comparison uses RFC 1459 case folding,
// so "[" and "{" are equal.
package mask

import (
	"strings"

	"github.com/lrstanley/girc"
)

// Match tells whether s satisfies the glob pattern.
func Match(pattern, s string) bool {
	return match(girc.ToRFC1459(pattern), girc.ToRFC1459(s))
}

// match is the usual greedy star matcher with a single backtrack point.
func match(p, s string) bool {
	pi, si := 0, 0
	star, mark := -1, 0

	for si < len(s) {
		switch {
		case pi < len(p) && (p[pi] == '?' || p[pi] == s[si]):
			pi++
			si++
		case pi < len(p) && p[pi] == '*':
			star = pi
			mark = si
			pi++
		case star != -1:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}

	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}

// Hostmask formats nick!user@host.
func Hostmask(nick, user, host string) string {
	return nick + "!" + user + "@" + host
}

// Normalize fills in a partial mask the way servers do for bans: "nick"
// becomes "nick!*@*" and "user@host" becomes "*!user@host".
func Normalize(m string) string {
	if m == "" {
		return "*!*@*"
	}

	bang := strings.IndexByte(m, '!')
	at := strings.IndexByte(m, '@')

	switch {
	case bang == -1 && at == -1:
		return m + "!*@*"
	case bang == -1:
		return "*!" + m
	case at == -1:
		return m + "@*"
	}
	return m
}

// MatchHostmask tells whether the client nick!user@host matches the mask.
func MatchHostmask(m, nick, user, host string) bool {
	return Match(Normalize(m), Hostmask(nick, user, host))
}
