package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLanguage(t *testing.T) {
	for _, valid := range []string{"javascript", "c", "python", "cpp", "java"} {
		lang, err := ParseLanguage(valid)
		require.NoError(t, err)
		assert.Equal(t, Language(valid), lang)
	}

	_, err := ParseLanguage("ruby")
	assert.ErrorIs(t, err, ErrUnknownLanguage)
	_, err = ParseLanguage("")
	assert.ErrorIs(t, err, ErrUnknownLanguage)
}

func TestNewUserValidation(t *testing.T) {
	u, err := NewUser("dev@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)

	_, err = NewUser("")
	assert.ErrorIs(t, err, ErrEmailEmpty)

	_, err = NewUser(strings.Repeat("a", MaxEmailLen+1))
	assert.ErrorIs(t, err, ErrEmailTooLong)
}

func TestNewParticipantDefaultsMediaOn(t *testing.T) {
	p := NewParticipant("conn-1", User{ID: "u1", Email: "dev@example.com"})
	assert.True(t, p.VideoOn)
	assert.True(t, p.AudioOn)
	assert.Equal(t, ConnectionID("conn-1"), p.ConnectionID)
	assert.Equal(t, UserID("u1"), p.UserID)
}
