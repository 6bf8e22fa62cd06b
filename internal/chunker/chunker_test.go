package chunker

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func wordStream(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = "w" + strconv.Itoa(i)
	}
	return strings.Join(words, " ")
}

func TestChunkProducesExpectedWindowCount(t *testing.T) {
	text := wordStream(1800)
	chunks := Chunk(text, 900, 150)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		require.NotEmpty(t, c)
	}
}

func TestChunkEmptyInputYieldsEmptySequence(t *testing.T) {
	require.Nil(t, Chunk("", 900, 150))
	require.Nil(t, Chunk("   \n\t  ", 900, 150))
}

func TestChunkDeterministic(t *testing.T) {
	text := wordStream(2400)
	a := Chunk(text, 900, 150)
	b := Chunk(text, 900, 150)
	require.Equal(t, a, b)
}

func TestCountTokens(t *testing.T) {
	require.Equal(t, 3, CountTokens("one two  three"))
	require.Equal(t, 0, CountTokens("   "))
}

func TestChunkOverlapRespected(t *testing.T) {
	text := wordStream(1000)
	chunks := Chunk(text, 900, 150)
	require.Len(t, chunks, 2)
	firstWords := strings.Fields(chunks[0])
	secondWords := strings.Fields(chunks[1])
	require.Equal(t, "w750", secondWords[0])
	require.Equal(t, "w899", firstWords[len(firstWords)-1])
}
