package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDirective(t *testing.T) {
	cmd, err := Parse("/LOGIN alice s3cret")
	require.NoError(t, err)
	assert.Equal(t, CmdLogin, cmd.Type)
	assert.Equal(t, []string{"alice", "s3cret"}, cmd.Args)
	assert.Equal(t, "/login", cmd.Name)
}

func TestParseImplicitPublicChat(t *testing.T) {
	cmd, err := Parse("  hello   there  ")
	require.NoError(t, err)
	assert.Equal(t, CmdPublicChat, cmd.Type)
	assert.Equal(t, []string{"hello   there"}, cmd.Args)
}

func TestParseQuotingAndEscapes(t *testing.T) {
	cmd, err := Parse(`/private_chat bob "hi there" say\ \"yo\"`)
	require.NoError(t, err)
	assert.Equal(t, CmdPrivateChat, cmd.Type)
	assert.Equal(t, []string{"bob", "hi there", `say "yo"`}, cmd.Args)
	assert.Equal(t, `hi there say "yo"`, cmd.Tail(1))
}

func TestParseEmptyQuotedArg(t *testing.T) {
	cmd, err := Parse(`/join ""`)
	require.NoError(t, err)
	assert.Equal(t, []string{""}, cmd.Args)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse("   ")
	assert.ErrorIs(t, err, ErrEmptyCommand)
	_, err = Parse(`/public_chat "open`)
	assert.ErrorIs(t, err, ErrUnterminatedQuote)
}

func TestParseUnknown(t *testing.T) {
	cmd, err := Parse("/dance now")
	require.NoError(t, err)
	assert.Equal(t, CmdUnknown, cmd.Type)
	assert.Equal(t, "unknown", cmd.Type.String())
}

func TestAvailableCommandsCoverTypes(t *testing.T) {
	assert.Len(t, AvailableCommands(), len(CommandTypes()))
	assert.Contains(t, AvailableCommands(), "/private_chat <username> <message>")
}
