package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesAny(t *testing.T) {
	keywords := []string{"  ", "Refund", "speak to a human"}

	kw, ok := MatchesAny("I'd like a REFUND please", keywords)
	assert.True(t, ok)
	assert.Equal(t, "Refund", kw)

	kw, ok = MatchesAny("can i Speak To A Human", keywords)
	assert.True(t, ok)
	assert.Equal(t, "speak to a human", kw)

	_, ok = MatchesAny("what colors do you have", keywords)
	assert.False(t, ok)

	_, ok = MatchesAny("", keywords)
	assert.False(t, ok)

	_, ok = MatchesAny("anything at all", []string{"", " "})
	assert.False(t, ok)
}
