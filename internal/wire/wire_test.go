package wire

import (
	"io"
	"math/rand"
	"strings"
	"testing"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/horgh/irc"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input  string
		output Message
		err    error
	}{
		{":irc PRIVMSG\r\n", Message{Prefix: "irc", Command: "PRIVMSG"}, nil},
		{"PRIVMSG\r\n", Message{Command: "PRIVMSG"}, nil},
		{"privmsg #a b\r\n", Message{Command: "PRIVMSG", Params: []string{"#a", "b"}}, nil},
		// Message tags are not part of the protocol here and are dropped.
		{"@time=now :bob PRIVMSG #a :hi\r\n", Message{Prefix: "bob", Command: "PRIVMSG",
			Params: []string{"#a"}, Trailing: "hi", HasTrailing: true}, nil},
		// A trailing parameter without spaces is still marked as trailing.
		{"QUIT :bye\r\n", Message{Command: "QUIT", Trailing: "bye", HasTrailing: true}, nil},
		{
			"PRIVMSG #lobby :hi there\r\n",
			Message{Command: "PRIVMSG", Params: []string{"#lobby"}, Trailing: "hi there",
				HasTrailing: true},
			nil,
		},
		{
			":alice!a@h TOPIC #x :\r\n",
			Message{Prefix: "alice!a@h", Command: "TOPIC", Params: []string{"#x"},
				HasTrailing: true},
			nil,
		},
		{
			"PRIVMSG #a ::colon\r\n",
			Message{Command: "PRIVMSG", Params: []string{"#a"}, Trailing: ":colon",
				HasTrailing: true},
			nil,
		},
		// Bare LF.
		{"NICK alice\n", Message{Command: "NICK", Params: []string{"alice"}}, nil},
		// Trailing space is seen in the wild.
		{":irc PRIVMSG \r\n", Message{Prefix: "irc", Command: "PRIVMSG"}, nil},
		// Repeated spaces between parameters.
		{"USER a  0 *  :A B\r\n", Message{Command: "USER", Params: []string{"a", "0", "*"},
			Trailing: "A B", HasTrailing: true}, nil},

		{":irc PRIVMSG", Message{}, ErrNoTrailingCRLF},
		{"", Message{}, ErrNoTrailingCRLF},
		{"\r\n", Message{}, ErrEmptyMessage},
		{":irc \r\n", Message{}, ErrEmptyMessage},
		{":irc\r\n", Message{}, ErrEmptyMessage},
		{"ir\rc\r\n", Message{}, ErrInvalidCharacter},
		{"PRIVMSG a :b\x00c\r\n", Message{}, ErrInvalidCharacter},
		{"PRIVMSG a :" + strings.Repeat("x", 500) + "\r\n", Message{}, ErrLineTooLong},
		{"NICK alice\r", Message{}, ErrNoTrailingCRLF},
	}

	for _, test := range tests {
		got, err := Parse(test.input)
		if test.err != nil {
			assert.Truef(t, errors.Is(err, test.err), "Parse(%q) = %v, wanted %v",
				test.input, err, test.err)
			assert.True(t, IsParseError(err))
			continue
		}
		if assert.NoErrorf(t, err, "Parse(%q)", test.input) {
			assert.Truef(t, test.output.Equal(got), "Parse(%q) = %s, wanted %s",
				test.input, got, test.output)
		}
	}
}

func TestParseMaxBody(t *testing.T) {
	body := "PRIVMSG a :" + strings.Repeat("x", MaxBodyLength-len("PRIVMSG a :"))
	m, err := Parse(body + "\r\n")
	require.NoError(t, err)
	assert.Len(t, m.Trailing, MaxBodyLength-len("PRIVMSG a :"))

	_, err = Parse(body + "x\r\n")
	assert.True(t, errors.Is(err, ErrLineTooLong))
}

func TestEncode(t *testing.T) {
	tests := []struct {
		input  Message
		output string
		err    error
	}{
		{NewMessage("", "PING"), "PING\r\n", nil},
		{NewMessage("srv", "001", "alice").WithTrailing("Welcome"),
			":srv 001 alice :Welcome\r\n", nil},
		{NewMessage("bob", "PRIVMSG", "#lobby").WithTrailing("hi"),
			":bob PRIVMSG #lobby :hi\r\n", nil},
		{NewMessage("", "TOPIC", "#x").WithTrailing(""), "TOPIC #x :\r\n", nil},
		{NewMessage("", "PRIVMSG", "a b"), "", ErrInvalidParam},
		{NewMessage("", "PRIVMSG", ":a"), "", ErrInvalidParam},
		{NewMessage("", "PRIVMSG", ""), "", ErrInvalidParam},
		{NewMessage("", "PRIVMSG", "a").WithTrailing("x\ny"), "", ErrInvalidCharacter},
		{NewMessage("", ""), "", ErrInvalidCharacter},
		{NewMessage("a b", "PING"), "", ErrInvalidCharacter},
		{NewMessage("", "PRIVMSG", "a\x00"), "", ErrInvalidCharacter},
		{NewMessage("", "PRIVMSG", strings.Repeat("x", 600)), "", ErrLineTooLong},
		{NewMessage("", "PRIVMSG", strings.Repeat("x", 509)).WithTrailing("hi"), "",
			ErrLineTooLong},
	}

	for _, test := range tests {
		got, err := test.input.Encode()
		if test.err != nil {
			assert.Equalf(t, test.err, err, "%s.Encode()", test.input)
			continue
		}
		if assert.NoError(t, err) {
			assert.Equal(t, test.output, got)
		}
	}
}

func TestEncodeTruncates(t *testing.T) {
	m := NewMessage("srv", "NOTICE", "alice").WithTrailing(strings.Repeat("é", 400))
	got, err := m.Encode()
	assert.Equal(t, ErrTruncated, err)
	assert.LessOrEqual(t, len(got), MaxLineLength)
	assert.True(t, strings.HasSuffix(got, "\r\n"))

	parsed, err := Parse(got)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(m.Trailing, parsed.Trailing))
	assert.NotContains(t, parsed.Trailing, "�")

	assert.Equal(t, got, m.Line())
	assert.Equal(t, "", NewMessage("", "A", "b c").Line())
}

func randomToken(r *rand.Rand, alphabet string, min, max int) string {
	n := min + r.Intn(max-min+1)
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[r.Intn(len(alphabet))]
	}
	return string(b)
}

func TestRoundTrip(t *testing.T) {
	const (
		letters  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
		middle   = letters + "0123456789#&!@.*-_[]{}\\|^"
		trailing = middle + " :,\x01"
	)

	r := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		m := Message{Command: strings.ToUpper(randomToken(r, letters, 1, 10))}
		if r.Intn(2) == 0 {
			m.Prefix = randomToken(r, middle, 1, 30)
		}
		for j := r.Intn(15); j > 0; j-- {
			m.Params = append(m.Params, randomToken(r, middle, 1, 12))
		}
		if r.Intn(3) != 0 {
			m = m.WithTrailing(randomToken(r, trailing, 0, 200))
		}

		line, err := m.Encode()
		require.NoError(t, err, m.String())

		got, err := Parse(line)
		require.NoError(t, err, line)
		assert.Truef(t, m.Equal(got), "round trip of %s gave %s", m, got)
	}
}

// Cross check against two independent decoders.
func TestParseAgreesWithOtherDecoders(t *testing.T) {
	lines := []string{
		":irc 001 alice :Welcome to the network\r\n",
		"NICK alice\r\n",
		"USER alice 0 * :Alice A\r\n",
		":bob!bob@host PRIVMSG #lobby :hi\r\n",
		":s1 SERVER s2 2 :second server\r\n",
		":alice MODE #lobby +ov bob carol\r\n",
		"JOIN #a,#b key1,key2\r\n",
		":op SQUIT s2 :bye\r\n",
	}

	for _, line := range lines {
		ours, err := Parse(line)
		require.NoError(t, err, line)

		theirs, err := irc.ParseMessage(line)
		require.NoError(t, err, line)
		assert.Equal(t, theirs.Prefix, ours.Prefix, line)
		assert.Equal(t, theirs.Command, ours.Command, line)
		assert.Equal(t, len(theirs.Params), len(ours.Args()), line)
		for i, p := range theirs.Params {
			assert.Equal(t, p, ours.Args()[i], line)
		}

		ergo, err := ircmsg.ParseLine(line)
		require.NoError(t, err, line)
		assert.Equal(t, ergo.Source, ours.Prefix, line)
		assert.Equal(t, ergo.Command, ours.Command, line)
		assert.Equal(t, len(ergo.Params), len(ours.Args()), line)
		for i, p := range ergo.Params {
			assert.Equal(t, p, ours.Args()[i], line)
		}
	}
}

func TestEncodeParsesElsewhere(t *testing.T) {
	m := NewMessage("alice!a@h", "PRIVMSG", "#lobby").WithTrailing("hello there")
	line, err := m.Encode()
	require.NoError(t, err)

	theirs, err := irc.ParseMessage(line)
	require.NoError(t, err)
	assert.Equal(t, []string{"#lobby", "hello there"}, theirs.Params)

	back, err := irc.Message{Prefix: "s1", Command: "NICK",
		Params: []string{"bob", "2"}}.Encode()
	require.NoError(t, err)
	ours, err := Parse(back)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "2"}, ours.Args())
}

func TestReader(t *testing.T) {
	input := "NICK alice\r\n" +
		"PRIVMSG " + strings.Repeat("x", 600) + "\r\n" +
		"\r\n" +
		"USER a 0 * :A\n" +
		"QUI"

	r := NewReader(strings.NewReader(input))

	m, err := r.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "NICK", m.Command)

	_, err = r.ReadMessage()
	assert.True(t, IsParseError(err))
	assert.True(t, errors.Is(err, ErrLineTooLong))

	_, err = r.ReadMessage()
	assert.True(t, IsParseError(err))
	assert.True(t, errors.Is(err, ErrEmptyMessage))

	m, err = r.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "0", "*", "A"}, m.Args())

	_, err = r.ReadMessage()
	assert.False(t, IsParseError(err))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))

	_, err = NewReader(strings.NewReader("")).ReadMessage()
	assert.Equal(t, io.EOF, err)
}

func TestSourceNick(t *testing.T) {
	tests := []struct {
		input  Message
		output string
	}{
		{Message{}, ""},
		{Message{Prefix: "blah"}, "blah"},
		{Message{Prefix: "hi!~hello@hey"}, "hi"},
	}

	for _, test := range tests {
		assert.Equal(t, test.output, test.input.SourceNick())
	}
}
