package processing

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		maxLen int
		want   []string
	}{
		{
			name:   "empty",
			text:   "",
			maxLen: 10,
			want:   nil,
		},
		{
			name:   "whitespace only",
			text:   " \n\n\t ",
			maxLen: 10,
			want:   nil,
		},
		{
			name:   "fits in one message",
			text:   "  short answer \n",
			maxLen: 100,
			want:   []string{"short answer"},
		},
		{
			name:   "no limit",
			text:   strings.Repeat("x", 50),
			maxLen: 0,
			want:   []string{strings.Repeat("x", 50)},
		},
		{
			name:   "paragraphs packed greedily",
			text:   "aaaa\n\nbbbb\n\ncccc",
			maxLen: 10,
			want:   []string{"aaaa\n\nbbbb", "cccc"},
		},
		{
			name:   "separator counts toward the limit",
			text:   "aaaa\n\nbbbbb",
			maxLen: 10,
			want:   []string{"aaaa", "bbbbb"},
		},
		{
			name:   "blank paragraphs dropped",
			text:   "aaaa\n\n   \n\n\n\nbbbb\n\ncccccccc",
			maxLen: 10,
			want:   []string{"aaaa\n\nbbbb", "cccccccc"},
		},
		{
			name:   "oversized paragraph split at a space",
			text:   "aaaa bbbb cccc dddd",
			maxLen: 10,
			want:   []string{"aaaa bbbb", "cccc dddd"},
		},
		{
			name:   "line break preferred over space",
			text:   "aaa bbb\nccc ddd",
			maxLen: 10,
			want:   []string{"aaa bbb", "ccc ddd"},
		},
		{
			name:   "no break point cuts at the limit",
			text:   strings.Repeat("x", 25),
			maxLen: 10,
			want:   []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)},
		},
		{
			name:   "oversized paragraph between small ones",
			text:   "aa\n\n" + strings.Repeat("y", 12) + "\n\nbb",
			maxLen: 5,
			want:   []string{"aa", "yyyyy", "yyyyy", "yy", "bb"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Chunk(tt.text, tt.maxLen))
		})
	}
}

func TestChunk_CountsCharactersNotBytes(t *testing.T) {
	text := strings.Repeat("é", 9)
	chunks := Chunk(text, 4)

	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 4)
		assert.True(t, utf8.ValidString(c))
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestChunk_LongReply(t *testing.T) {
	// 19 paragraphs of 500 characters and one of 512: 10,050 characters in
	// total once the separators are counted.
	var paras []string
	for i := 0; i < 19; i++ {
		paras = append(paras, strings.Repeat(string(rune('a'+i)), 500))
	}
	paras = append(paras, strings.Repeat("z", 512))
	text := strings.Join(paras, "\n\n")
	require.Equal(t, 10050, utf8.RuneCountInString(text))

	chunks := Chunk(text, DefaultMaxMessageLen)

	assert.GreaterOrEqual(t, len(chunks), 3)
	for i, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), DefaultMaxMessageLen, "chunk %d", i)
		assert.NotEmpty(t, c)
	}
	assert.Equal(t, text, strings.Join(chunks, "\n\n"), "chunks must re-join in order")
}

func TestChunk_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	words := []string{"ssm", "syarikat", "pendaftaran", "akta", "a", "penguatkuasaan", "lesen", "ok"}

	for round := 0; round < 200; round++ {
		var paras []string
		for p := rng.Intn(12); p >= 0; p-- {
			var ws []string
			for w := rng.Intn(40) + 1; w > 0; w-- {
				ws = append(ws, words[rng.Intn(len(words))])
			}
			paras = append(paras, strings.Join(ws, " "))
		}
		text := strings.Join(paras, "\n\n")
		maxLen := rng.Intn(300) + 20

		t.Run(fmt.Sprintf("round_%d", round), func(t *testing.T) {
			chunks := Chunk(text, maxLen)
			require.NotEmpty(t, chunks)

			fits := true
			for _, p := range paras {
				if utf8.RuneCountInString(p) > maxLen {
					fits = false
				}
			}

			for _, c := range chunks {
				assert.LessOrEqual(t, utf8.RuneCountInString(c), maxLen)
				assert.Equal(t, strings.TrimSpace(c), c)
				assert.NotEmpty(t, c)
			}

			if fits {
				assert.Equal(t, text, strings.Join(chunks, "\n\n"))
			} else {
				assert.Equal(t, strings.Join(strings.Fields(text), ""), strings.Join(strings.Fields(strings.Join(chunks, " ")), ""))
			}
		})
	}
}
