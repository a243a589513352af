package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSplitNeverBreaksEmDash(t *testing.T) {
	// "12345" + EM DASH (3 bytes) + "7890", max_bytes = 10, per spec
	// scenario 6: the dash must never be split across chunks. Byte index
	// 10 falls on the rune-starting '9', so the cut lands there rather
	// than at the dash: "12345—78" / "90".
	in := "12345—7890"
	got := Split(in, 10)
	require.Len(t, got, 2)
	assert.Equal(t, "12345—78", got[0])
	assert.Equal(t, "90", got[1])
	for _, c := range got {
		assert.True(t, utf8.ValidString(c))
	}
}

func TestSplitSingleWideCodepointSmallerBudget(t *testing.T) {
	in := "\U0001F600" // 4-byte emoji
	got := Split(in, 3)
	require.Len(t, got, 1)
	assert.Equal(t, in, got[0])
}

func TestSplitPrefersNewlineWhenLargeEnough(t *testing.T) {
	in := strings.Repeat("a", 40) + "\n" + strings.Repeat("b", 40)
	got := Split(in, 50)
	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, strings.Repeat("a", 40), got[0])
}

func TestSplitWithPromptOnlyOnFinalChunk(t *testing.T) {
	in := strings.Repeat("x", 300)
	chunks := SplitWithPrompt(in, "> ", 100)
	require.True(t, len(chunks) > 1)
	for _, c := range chunks[:len(chunks)-1] {
		assert.NotContains(t, c, "> ")
	}
	assert.Contains(t, chunks[len(chunks)-1], "> ")
}

func TestSplitEveryChunkIsValidUTF8Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := rapid.String().Draw(rt, "s")
		maxBytes := rapid.IntRange(1, 64).Draw(rt, "maxBytes")

		chunks := Split(s, maxBytes)
		for _, c := range chunks {
			assert.True(rt, utf8.ValidString(c))
		}

		var rebuilt strings.Builder
		for _, c := range chunks {
			rebuilt.WriteString(c)
		}
		assert.Equal(rt, strings.ReplaceAll(s, "\n", ""), strings.ReplaceAll(rebuilt.String(), "\n", ""))
	})
}
