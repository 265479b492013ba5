package main

import "strings"

const ctcpDelim = "\x01"

// ctcp is a client-to-client query carried in a PRIVMSG or NOTICE body.
type ctcp struct {
	Command string
	Args    string
}

// parseCTCP recognises a \x01 framed body. The closing delimiter is optional
// as many clients leave it off.
func parseCTCP(text string) (ctcp, bool) {
	if !strings.HasPrefix(text, ctcpDelim) || len(text) < 2 {
		return ctcp{}, false
	}
	body := strings.TrimSuffix(text[1:], ctcpDelim)
	if body == "" {
		return ctcp{}, false
	}
	cmd, args, _ := strings.Cut(body, " ")
	return ctcp{Command: strings.ToUpper(cmd), Args: args}, true
}

func (c ctcp) String() string {
	if c.Args == "" {
		return ctcpDelim + c.Command + ctcpDelim
	}
	return ctcpDelim + c.Command + " " + c.Args + ctcpDelim
}

// dccTypes are the DCC negotiations we relay between two clients.
var dccTypes = map[string]struct{}{
	"CHAT":   {},
	"SEND":   {},
	"RESUME": {},
	"ACCEPT": {},
}

// isDCC tells whether a message body offers or negotiates a DCC session.
func isDCC(text string) bool {
	c, ok := parseCTCP(text)
	if !ok || c.Command != "DCC" {
		return false
	}
	kind, _, _ := strings.Cut(c.Args, " ")
	_, ok = dccTypes[strings.ToUpper(kind)]
	return ok
}
