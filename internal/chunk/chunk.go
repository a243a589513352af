// Package chunk implements the UTF-8-safe message chunker: it splits a
// reply into segments no longer than max_bytes, never cutting a code point
// or, where it can help it, a line, and reserves room on the final segment
// for a trailing prompt.
package chunk

import "unicode/utf8"

// Split divides s into chunks of at most maxBytes bytes each, never
// splitting a UTF-8 code point; the one exception is a single code point
// wider than maxBytes, which is emitted whole as its own chunk. A prefix is preferred to end at the last
// newline within it when the prefix is at least half of maxBytes; shorter
// prefixes keep their raw byte-boundary cut since retreating further would
// throw away most of the chunk's budget for no benefit.
func Split(s string, maxBytes int) []string {
	if maxBytes <= 0 {
		panic("chunk: maxBytes must be positive")
	}

	var out []string
	for len(s) > 0 {
		if len(s) <= maxBytes {
			out = append(out, s)
			break
		}

		end := maxBytes
		for end > 0 && !utf8.RuneStart(s[end]) {
			end--
		}
		if end == 0 {
			// A single code point wider than the whole budget: emit it
			// whole rather than spinning forever, matching the boundary
			// behavior spec.md calls out for max_bytes smaller than one
			// rune.
			_, size := utf8.DecodeRuneInString(s)
			end = size
		}

		advance := end
		if end >= maxBytes/2 {
			if nl := lastNewline(s[:end]); nl >= 0 {
				out = append(out, s[:nl])
				advance = nl + 1
				s = s[advance:]
				continue
			}
		}

		out = append(out, s[:end])
		s = s[advance:]
	}
	return out
}

// SplitWithPrompt splits s the same way Split does, but reserves space for
// prompt (plus one possible newline) on every chunk's budget and appends
// prompt only to the final chunk, per the session reply contract: a reader
// stepping through intermediate chunks should never see the prompt until
// the reply is actually complete.
func SplitWithPrompt(s, prompt string, maxBytes int) []string {
	reserve := len(prompt) + 1
	budget := maxBytes - reserve
	if budget <= 0 {
		budget = maxBytes
	}

	chunks := Split(s, budget)
	if len(chunks) == 0 {
		return []string{prompt}
	}

	last := len(chunks) - 1
	sep := ""
	if len(chunks[last]) > 0 && chunks[last][len(chunks[last])-1] != '\n' {
		sep = "\n"
	}
	chunks[last] = chunks[last] + sep + prompt
	return chunks
}

func lastNewline(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' {
			return i
		}
	}
	return -1
}
