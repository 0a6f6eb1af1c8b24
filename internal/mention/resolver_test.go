package mention

import (
	"testing"

	"arunika/internal/common"

	"github.com/stretchr/testify/assert"
)

func roster() []common.Member {
	return []common.Member{
		{UserID: "u1", Username: "alice", DisplayName: "Alice Tan", Email: "alice.tan@example.com"},
		{UserID: "u2", Username: "albert", DisplayName: "Albert Wijaya", Email: "albert@example.com"},
		{UserID: "u3", Username: "bob", DisplayName: "Bob Siregar", Email: "bob.siregar@example.com"},
	}
}

func TestActiveQuery(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		cursor    int
		wantOK    bool
		wantText  string
		wantStart int
	}{
		{
			name:      "token under cursor",
			text:      "hi @al",
			cursor:    6,
			wantOK:    true,
			wantText:  "al",
			wantStart: 3,
		},
		{
			name:      "bare at sign",
			text:      "ping @",
			cursor:    6,
			wantOK:    true,
			wantText:  "",
			wantStart: 5,
		},
		{
			name:   "terminated by space",
			text:   "hi @al ",
			cursor: 7,
			wantOK: false,
		},
		{
			name:   "no token at all",
			text:   "plain text",
			cursor: 10,
			wantOK: false,
		},
		{
			name:      "cursor mid-text",
			text:      "see @bob later",
			cursor:    8,
			wantOK:    true,
			wantText:  "bob",
			wantStart: 4,
		},
		{
			name:   "cursor out of range",
			text:   "hi",
			cursor: 9,
			wantOK: false,
		},
		{
			// "à" encodes as 0xC3 0xA0; a byte-wise scan reads the
			// continuation byte as U+00A0 and stops at a phantom space
			name:      "multibyte rune inside the token",
			text:      "hola @à",
			cursor:    8,
			wantOK:    true,
			wantText:  "à",
			wantStart: 5,
		},
		{
			name:   "non-breaking space terminates like any space",
			text:   "hi @al x",
			cursor: 9,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, ok := ActiveQuery(tt.text, tt.cursor)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantText, q.Text)
				assert.Equal(t, tt.wantStart, q.Start)
			}
		})
	}
}

func TestCandidates(t *testing.T) {
	t.Run("prefix matches in roster order", func(t *testing.T) {
		got := Candidates("al", roster())
		if assert.Len(t, got, 2) {
			assert.Equal(t, "alice", got[0].Username)
			assert.Equal(t, "albert", got[1].Username)
		}
	})

	t.Run("case insensitive", func(t *testing.T) {
		got := Candidates("AL", roster())
		assert.Len(t, got, 2)
	})

	t.Run("matches display name substring", func(t *testing.T) {
		got := Candidates("siregar", roster())
		if assert.Len(t, got, 1) {
			assert.Equal(t, "bob", got[0].Username)
		}
	})

	t.Run("matches email local part only", func(t *testing.T) {
		got := Candidates("alice.tan", roster())
		if assert.Len(t, got, 1) {
			assert.Equal(t, "u1", got[0].UserID)
		}
		// the domain never matches
		assert.Empty(t, Candidates("example", roster()))
	})

	t.Run("empty query returns full roster", func(t *testing.T) {
		assert.Len(t, Candidates("", roster()), 3)
	})

	t.Run("no match", func(t *testing.T) {
		assert.Empty(t, Candidates("zz", roster()))
	})
}

func TestInsert(t *testing.T) {
	member := common.Member{UserID: "u1", Username: "Alice Tan"}

	text, cursor := Insert(member, "hi @al", 3, 6)
	assert.Equal(t, "hi @alicetan ", text)
	assert.Equal(t, 13, cursor)

	t.Run("mid-text replacement keeps the tail", func(t *testing.T) {
		text, cursor := Insert(common.Member{Username: "bob"}, "see @b later", 4, 6)
		assert.Equal(t, "see @bob  later", text)
		assert.Equal(t, 9, cursor)
	})

	t.Run("out of range offsets leave text alone", func(t *testing.T) {
		text, cursor := Insert(member, "hi", 5, 1)
		assert.Equal(t, "hi", text)
		assert.Equal(t, 1, cursor)
	})
}

func TestExtractUserIDs(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "username match",
			text: "ping @alice about this",
			want: []string{"u1"},
		},
		{
			name: "first name match",
			text: "ping @Bob",
			want: []string{"u3"},
		},
		{
			name: "mentioned twice resolves once",
			text: "@alice and again @alice",
			want: []string{"u1"},
		},
		{
			name: "unresolved token silently ignored",
			text: "hey @nobody and @alice",
			want: []string{"u1"},
		},
		{
			name: "multiple distinct mentions keep occurrence order",
			text: "@bob then @albert",
			want: []string{"u3", "u2"},
		},
		{
			name: "no tokens",
			text: "plain text",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractUserIDs(tt.text, roster()))
		})
	}
}

func TestNormalizeUsername(t *testing.T) {
	assert.Equal(t, "alicetan", NormalizeUsername(" Alice Tan "))
	assert.Equal(t, "bob", NormalizeUsername("bob"))
}
