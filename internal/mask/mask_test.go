package mask

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		input   string
		output  bool
	}{
		{"test", "test", true},
		{"*", "test", true},
		{"*", "", true},
		{"t?st", "test", true},
		{"*est", "test", true},
		{"*test", "test", true},
		{"127.0.0.*", "127.0.0.1", true},
		{"*tst", "test", false},
		{"t?st", "tst", false},
		{"a*b*c", "aXXbYYc", true},
		{"a*b*c", "aXXbYY", false},
		{"*!*@evil.example", "e!e@evil.example", true},
		{"*!*@evil.example", "e!e@good.example", false},
		{"TEST", "test", true},
		{"[a]", "{A}", true},
		{"*[*", "nick[away]", true},
		{"", "", true},
		{"", "a", false},
		{"**", "a", true},
	}

	for _, test := range tests {
		got := Match(test.pattern, test.input)
		if got != test.output {
			t.Errorf("Match(%q, %q) = %v, wanted %v", test.pattern, test.input, got,
				test.output)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		input  string
		output string
	}{
		{"", "*!*@*"},
		{"bob", "bob!*@*"},
		{"bob@host", "*!bob@host"},
		{"bob!user", "bob!user@*"},
		{"*!*@evil.example", "*!*@evil.example"},
	}

	for _, test := range tests {
		assert.Equal(t, test.output, Normalize(test.input), test.input)
	}
}

func TestMatchHostmask(t *testing.T) {
	assert.True(t, MatchHostmask("*!*@evil.example", "e", "e", "evil.example"))
	assert.True(t, MatchHostmask("E", "e", "x", "y"))
	assert.False(t, MatchHostmask("*!f@*", "e", "e", "evil.example"))
}
