package mailparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeMessageID(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "bare address gets brackets",
			raw:  "foo@bar.com",
			want: "<foo@bar.com>",
		},
		{
			name: "surrounding whitespace trimmed",
			raw:  "  foo@bar.com ",
			want: "<foo@bar.com>",
		},
		{
			name: "existing brackets preserved once",
			raw:  "<foo@bar.com>",
			want: "<foo@bar.com>",
		},
		{
			name: "bracketed with whitespace",
			raw:  " <abc.123@mail.example.org> ",
			want: "<abc.123@mail.example.org>",
		},
		{
			name: "no at sign rejected",
			raw:  "nodomain",
			want: "",
		},
		{
			name: "bracketed without at sign rejected",
			raw:  "<nodomain>",
			want: "",
		},
		{
			name: "empty input",
			raw:  "",
			want: "",
		},
		{
			name: "whitespace only",
			raw:  "   ",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeMessageID(tt.raw))
		})
	}
}

func TestParseReferences(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "space and newline delimited",
			raw:  "<a@x> <b@y>\n<c@z>",
			want: []string{"<a@x>", "<b@y>", "<c@z>"},
		},
		{
			name: "order preserved without dedup",
			raw:  "<a@x> <b@y> <a@x>",
			want: []string{"<a@x>", "<b@y>", "<a@x>"},
		},
		{
			name: "entries without at sign dropped",
			raw:  "<a@x> garbage <b@y>",
			want: []string{"<a@x>", "<b@y>"},
		},
		{
			name: "empty header",
			raw:  "",
			want: nil,
		},
		{
			name: "unbracketed entries normalized",
			raw:  "a@x b@y",
			want: []string{"<a@x>", "<b@y>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseReferences(tt.raw))
		})
	}
}

func TestNormalizeReferences(t *testing.T) {
	got := NormalizeReferences([]string{" <a@x> ", "bogus", "b@y", ""})
	assert.Equal(t, []string{"<a@x>", "<b@y>"}, got)
}
