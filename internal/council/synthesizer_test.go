package council

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChairmanModel = "google/gemini-2.0-pro-exp-02-05"

const validScript = `[
  {"speakerId": "logic", "content": "We begin with structure.", "type": "debate"},
  {"speakerId": "skeptic", "content": "I doubt the premise.", "type": "debate"},
  {"speakerId": "decree", "content": "The Council has decided.", "type": "decree"}
]`

func scriptMembers() []Member {
	return []Member{
		{ID: "logic", Name: "The Architect"},
		{ID: "skeptic", Name: "The Inquisitor"},
	}
}

func TestParseScriptBareArray(t *testing.T) {
	turns, err := ParseScript(validScript, scriptMembers())
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "logic", turns[0].SpeakerID)
	assert.Equal(t, TurnDebate, turns[0].Type)
	assert.Equal(t, TurnDecree, turns[2].Type)
}

func TestParseScriptFencedMatchesUnfenced(t *testing.T) {
	plain, err := ParseScript(validScript, scriptMembers())
	require.NoError(t, err)

	fenced, err := ParseScript("```json\n"+validScript+"\n```", scriptMembers())
	require.NoError(t, err)
	assert.Equal(t, plain, fenced)

	bareFence, err := ParseScript("```\n"+validScript+"\n```", scriptMembers())
	require.NoError(t, err)
	assert.Equal(t, plain, bareFence)
}

func TestParseScriptObjectWrapper(t *testing.T) {
	for _, key := range []string{"items", "script", "turns"} {
		wrapped := `{"` + key + `": ` + validScript + `}`
		turns, err := ParseScript(wrapped, scriptMembers())
		require.NoError(t, err, "key %s", key)
		assert.Len(t, turns, 3)
	}
}

func TestParseScriptRejections(t *testing.T) {
	members := scriptMembers()
	cases := map[string]string{
		"not json":          `the chairman rambles`,
		"empty array":       `[]`,
		"object no array":   `{"verdict": "yes"}`,
		"unknown speaker":   `[{"speakerId": "ghost", "content": "boo", "type": "debate"}, {"speakerId": "decree", "content": "d", "type": "decree"}]`,
		"missing content":   `[{"speakerId": "logic", "content": "", "type": "debate"}, {"speakerId": "decree", "content": "d", "type": "decree"}]`,
		"invalid turn type": `[{"speakerId": "logic", "content": "x", "type": "soliloquy"}]`,
		"no decree":         `[{"speakerId": "logic", "content": "x", "type": "debate"}]`,
	}
	for name, payload := range cases {
		_, err := ParseScript(payload, members)
		var se *SynthesisError
		require.Error(t, err, name)
		assert.True(t, errors.As(err, &se), "%s should yield SynthesisError", name)
	}
}

func TestSynthesizerScript(t *testing.T) {
	inv := newFakeInvoker()
	inv.responses[testChairmanModel] = "```json\n" + validScript + "\n```"

	stances := []Stance{{MemberID: "logic", MemberName: "The Architect", Content: "Order."}}
	turns, err := NewSynthesizer(inv, testChairmanModel).Script(context.Background(), "q", stances, scriptMembers())
	require.NoError(t, err)
	assert.Len(t, turns, 3)
}

func TestSynthesizerPropagatesGatewayFailure(t *testing.T) {
	inv := newFakeInvoker()
	inv.errs[testChairmanModel] = errors.New("503")

	_, err := NewSynthesizer(inv, testChairmanModel).Script(context.Background(), "q", nil, scriptMembers())
	var se *SynthesisError
	require.True(t, errors.As(err, &se))
}
