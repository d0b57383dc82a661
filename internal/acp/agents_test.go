package acp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveAgentCommand_Gemini(t *testing.T) {
	cmd, args := ResolveAgentCommand("gemini", nil)
	require.Equal(t, "gemini", cmd)
	require.Equal(t, []string{"--experimental-acp"}, args)
}

func TestResolveAgentCommand_OpencodeStripsLegacyFlag(t *testing.T) {
	cmd, args := ResolveAgentCommand("opencode", []string{"--acp", "--verbose"})
	require.Equal(t, "opencode", cmd)
	require.Equal(t, []string{"acp", "--verbose"}, args)
}

func TestResolveAgentCommand_UnknownNameIsLiteral(t *testing.T) {
	cmd, args := ResolveAgentCommand("my-custom-agent", []string{"--foo"})
	require.Equal(t, "my-custom-agent", cmd)
	require.Equal(t, []string{"--foo"}, args)
}
