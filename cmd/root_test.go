package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	// Verify expected subcommands are registered.
	expected := []string{
		"migrate", "import-xml", "import-variables", "import-surveys",
		"reindex", "prune", "delete-survey", "reset", "check-duplicates",
		"stats", "runs", "maintain", "parse",
	}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "ddi-catalog", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestImportXMLCommand_Flags(t *testing.T) {
	flag := importXMLCmd.Flags().Lookup("url")
	require.NotNil(t, flag, "import-xml should have --url flag")
}

func TestImportCommands_DelimiterFlag(t *testing.T) {
	for _, c := range []string{"import-variables", "import-surveys"} {
		cmd, _, err := rootCmd.Find([]string{c})
		require.NoError(t, err)
		assert.NotNil(t, cmd.Flags().Lookup("delimiter"), "%s should have --delimiter", c)
	}
}

func TestResetCommand_RequiresConfirmation(t *testing.T) {
	flag := resetCmd.Flags().Lookup("yes")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)

	err := resetCmd.RunE(resetCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
}

func TestMaintainCommand_Flags(t *testing.T) {
	require.NotNil(t, maintainCmd.Flags().Lookup("once"))
	require.NotNil(t, maintainCmd.Flags().Lookup("schedule"))
}

func TestRunsCommand_Flags(t *testing.T) {
	flag := runsCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "20", flag.DefValue)
}
