// Package natsort implements the natural ordering used for folder contents.
//
// A name is split into chunks: runs of digits that stand on their own are
// numeric chunks, everything else is text. A digit run immediately followed
// by a letter ("9a", "2nd") belongs to a text chunk, so tags such as version
// suffixes are not mistaken for counters.
//
// Chunks are ordered numeric before text. Numeric chunks compare by value,
// then by length (fewer leading zeros first); text chunks compare
// case-insensitively, then byte-wise. Names compare chunk by chunk, and a
// name that is a chunk prefix of another sorts first.
package natsort

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type chunk struct {
	text    string
	numeric bool
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func split(s string) []chunk {
	var chunks []chunk
	i := 0
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		start := i
		if isDigit(r) {
			j := i
			for j < len(s) && isDigit(rune(s[j])) {
				j++
			}
			next, _ := utf8.DecodeRuneInString(s[j:])
			if j < len(s) && unicode.IsLetter(next) {
				for j < len(s) {
					nr, ns := utf8.DecodeRuneInString(s[j:])
					if !unicode.IsLetter(nr) {
						break
					}
					j += ns
				}
				chunks = append(chunks, chunk{text: s[start:j]})
			} else {
				chunks = append(chunks, chunk{text: s[start:j], numeric: true})
			}
			i = j
			continue
		}
		i += size
		for i < len(s) {
			nr, ns := utf8.DecodeRuneInString(s[i:])
			if isDigit(nr) {
				break
			}
			i += ns
		}
		chunks = append(chunks, chunk{text: s[start:i]})
	}
	return chunks
}

func compareNumeric(a, b string) int {
	ta := strings.TrimLeft(a, "0")
	tb := strings.TrimLeft(b, "0")
	if len(ta) != len(tb) {
		return sign(len(ta) - len(tb))
	}
	if c := strings.Compare(ta, tb); c != 0 {
		return c
	}
	return sign(len(a) - len(b))
}

func compareText(a, b string) int {
	if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

func compareChunk(a, b chunk) int {
	switch {
	case a.numeric && b.numeric:
		return compareNumeric(a.text, b.text)
	case a.numeric:
		return -1
	case b.numeric:
		return 1
	default:
		return compareText(a.text, b.text)
	}
}

// Compare returns a negative number when a sorts before b, zero when the
// strings are identical and a positive number otherwise.
func Compare(a, b string) int {
	if a == b {
		return 0
	}
	ca, cb := split(a), split(b)
	for i := 0; i < len(ca) && i < len(cb); i++ {
		if c := compareChunk(ca[i], cb[i]); c != 0 {
			return c
		}
	}
	if len(ca) != len(cb) {
		return sign(len(ca) - len(cb))
	}
	return strings.Compare(a, b)
}

// Less reports whether a sorts before b.
func Less(a, b string) bool {
	return Compare(a, b) < 0
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}
