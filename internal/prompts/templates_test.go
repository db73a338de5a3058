package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractActions(t *testing.T) {
	t.Run("single param", func(t *testing.T) {
		text, actions := ExtractActions("Here you go! [ACTION:LOAD_COLLECTION:azuki] Enjoy.")
		require.Len(t, actions, 1)
		assert.Equal(t, "LOAD_COLLECTION", actions[0].Type)
		assert.Equal(t, "azuki", actions[0].Param1)
		assert.Nil(t, actions[0].Param2)
		assert.Equal(t, "Here you go!  Enjoy.", text)
		assert.NotContains(t, text, "[ACTION")
	})

	t.Run("numeric second param", func(t *testing.T) {
		text, actions := ExtractActions("[ACTION:SET_PAGE:azuki:3]")
		require.Len(t, actions, 1)
		require.NotNil(t, actions[0].Param2)
		assert.Equal(t, 3, *actions[0].Param2)
		assert.Equal(t, "azuki", actions[0].Param1)
		assert.Empty(t, text)
	})

	t.Run("multiple markers keep order", func(t *testing.T) {
		_, actions := ExtractActions("[ACTION:LOAD_COLLECTION:milady] then [ACTION:SET_PAGE:milady:2]")
		require.Len(t, actions, 2)
		assert.Equal(t, "LOAD_COLLECTION", actions[0].Type)
		assert.Equal(t, "SET_PAGE", actions[1].Type)
	})

	t.Run("malformed marker is stripped but not parsed", func(t *testing.T) {
		text, actions := ExtractActions("a [ACTION:BROKEN] b")
		assert.Empty(t, actions)
		assert.Equal(t, "a  b", text)
	})

	t.Run("no markers", func(t *testing.T) {
		text, actions := ExtractActions("  plain reply \n")
		assert.NotNil(t, actions)
		assert.Empty(t, actions)
		assert.Equal(t, "plain reply", text)
	})
}

func TestSystemPrompt_Build(t *testing.T) {
	sp := NewSystemPrompt("Liquid", "MUTE")

	withTools, err := sp.Build(true)
	require.NoError(t, err)
	assert.Contains(t, withTools, "You are Liquid")
	assert.Contains(t, withTools, "MUTE platform")
	assert.Contains(t, withTools, "search_items")

	withoutTools, err := sp.Build(false)
	require.NoError(t, err)
	assert.NotContains(t, withoutTools, "TOOL USAGE")
	assert.Contains(t, withoutTools, "[ACTION:LOAD_COLLECTION:azuki]")
}
