package processing

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxMessageLen keeps replies under Telegram's 4096 character limit.
const DefaultMaxMessageLen = 4000

const paragraphSeparator = "\n\n"

// Chunk splits text into ordered, trimmed, non-empty pieces of at most maxLen
// characters (Unicode code points). Paragraphs, separated by a blank line,
// are packed greedily and never split unless a single paragraph is longer
// than maxLen; such a paragraph is cut at a line break, else at a space in
// the second half of the window, else exactly at maxLen.
//
// Joining the result with "\n\n" reproduces the paragraphs of text, up to
// whitespace at paragraph edges. maxLen <= 0 disables splitting.
// Chunk is a pure function and safe for concurrent use.
func Chunk(text string, maxLen int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxLen <= 0 || utf8.RuneCountInString(text) <= maxLen {
		return []string{text}
	}

	var (
		chunks []string
		buf    strings.Builder
		bufLen int
	)
	flush := func() {
		if bufLen == 0 {
			return
		}
		if s := strings.TrimSpace(buf.String()); s != "" {
			chunks = append(chunks, s)
		}
		buf.Reset()
		bufLen = 0
	}

	for _, para := range strings.Split(text, paragraphSeparator) {
		if strings.TrimSpace(para) == "" {
			continue
		}
		para = strings.TrimRightFunc(strings.TrimLeft(para, "\r\n"), unicode.IsSpace)
		n := utf8.RuneCountInString(para)

		if n > maxLen {
			flush()
			chunks = append(chunks, splitParagraph(para, maxLen)...)
			continue
		}

		if bufLen > 0 && bufLen+len(paragraphSeparator)+n > maxLen {
			flush()
		}
		if bufLen > 0 {
			buf.WriteString(paragraphSeparator)
			bufLen += len(paragraphSeparator)
		}
		buf.WriteString(para)
		bufLen += n
	}
	flush()

	return chunks
}

// splitParagraph hard-splits one paragraph longer than maxLen.
func splitParagraph(para string, maxLen int) []string {
	var out []string
	runes := []rune(para)

	for len(runes) > maxLen {
		cut := cutPoint(runes[:maxLen+1], maxLen)
		if piece := strings.TrimSpace(string(runes[:cut])); piece != "" {
			out = append(out, piece)
		}
		runes = trimLeftRunes(runes[cut:])
	}
	if piece := strings.TrimSpace(string(runes)); piece != "" {
		out = append(out, piece)
	}
	return out
}

// cutPoint picks where to end a piece of at most maxLen runes. window holds
// maxLen+1 runes so a break right after the limit is also considered.
func cutPoint(window []rune, maxLen int) int {
	lo := maxLen / 2
	if lo < 1 {
		lo = 1
	}
	for i := maxLen; i >= lo; i-- {
		if window[i] == '\n' {
			return i
		}
	}
	for i := maxLen; i >= lo; i-- {
		if window[i] == ' ' {
			return i
		}
	}
	return maxLen
}

func trimLeftRunes(r []rune) []rune {
	for len(r) > 0 && unicode.IsSpace(r[0]) {
		r = r[1:]
	}
	return r
}
