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

	expected := []string{"serve", "predict", "advise", "retrain", "runs", "decisions", "weather"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "irrigation-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestDecisionsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range decisionsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "import", "export", "clear"} {
		assert.True(t, names[name], "decisions should have subcommand %q", name)
	}
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "health"} {
		assert.True(t, names[name], "runs should have subcommand %q", name)
	}
}

func TestPredictCommand_Flags(t *testing.T) {
	for _, c := range []string{"temperature", "humidity", "moisture", "crop", "city"} {
		assert.NotNil(t, predictCmd.Flags().Lookup(c), "predict should have --%s", c)
		assert.NotNil(t, adviseCmd.Flags().Lookup(c), "advise should have --%s", c)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestDecisionsClear_RequiresYes(t *testing.T) {
	flag := decisionsClearCmd.Flags().Lookup("yes")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}
