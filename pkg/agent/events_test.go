package agent

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkMessage(t *testing.T) {
	t.Run("should split long answers into ordered chunks", func(t *testing.T) {
		content := strings.Repeat("a", messageChunkSize*2+10)
		events := chunkMessage(content, 3)

		require.Len(t, events, 3)
		var rebuilt strings.Builder
		for _, ev := range events {
			assert.Equal(t, EventMessage, ev.Type)
			assert.Equal(t, 3, ev.Iteration)
			rebuilt.WriteString(ev.Content)
		}
		assert.Equal(t, content, rebuilt.String())
	})

	t.Run("should never cut a multi-byte rune in half", func(t *testing.T) {
		// two-byte runes that straddle the chunk boundary at every offset
		content := strings.Repeat("é", messageChunkSize)
		events := chunkMessage(content, 1)

		var rebuilt strings.Builder
		for _, ev := range events {
			assert.True(t, utf8.ValidString(ev.Content))
			rebuilt.WriteString(ev.Content)
		}
		assert.Equal(t, content, rebuilt.String())
	})

	t.Run("should emit nothing for an empty answer", func(t *testing.T) {
		assert.Empty(t, chunkMessage("", 1))
	})
}
