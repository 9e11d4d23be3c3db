package tokenutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateFast(t *testing.T) {
	assert.Equal(t, 0, EstimateFast(""))
	assert.Equal(t, 0, EstimateFast("   \n\t"))
	assert.Equal(t, 1, EstimateFast("hi"))
	// 40 runes / 4 = 10 beats the 5-word floor.
	assert.Equal(t, 10, EstimateFast(strings.Repeat("abcdefgh", 5)))
	// Many short words: the word floor wins over runes/4.
	assert.Equal(t, 8, EstimateFast("a b c d e f g h"))
}

func TestCountTokensNonZero(t *testing.T) {
	assert.Greater(t, CountTokens("the quick brown fox jumps over the lazy dog"), 0)
	assert.Zero(t, CountTokens(""))
}

func TestTrimToBudget(t *testing.T) {
	assert.Equal(t, "", TrimToBudget("anything", 0))
	assert.Equal(t, "short", TrimToBudget("short", 100))

	long := strings.Repeat("lorem ipsum dolor sit amet ", 200)
	trimmed := TrimToBudget(long, 50)
	assert.Less(t, len(trimmed), len(long))
	assert.True(t, strings.HasSuffix(trimmed, "…"))
	assert.LessOrEqual(t, CountTokens(strings.TrimSuffix(trimmed, "…")), 50)
}
