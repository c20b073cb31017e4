package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"serve", "migrate", "chat", "seed"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "portfolio-chat", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestChatCommand_Flags(t *testing.T) {
	for _, name := range []string{"agent", "message", "session"} {
		assert.NotNil(t, chatCmd.Flags().Lookup(name), "chat command should have --%s flag", name)
	}
}

func TestSeedCommand_Flags(t *testing.T) {
	require.NotNil(t, seedCmd.Flags().Lookup("file"))
}
