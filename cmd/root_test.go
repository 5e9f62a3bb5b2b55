package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCommand_Tree(t *testing.T) {
	root := NewRootCommand()

	assert.Equal(t, "eversale", root.Use)
	assert.Equal(t, Version, root.Version)

	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "run")
}

func TestRootCommand_VersionFlag(t *testing.T) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"--version"})

	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), Version)
}

func TestRunCommand_Flags(t *testing.T) {
	run := newRunCmd()

	for _, flag := range []string{"task", "url", "query", "max-steps", "concurrency", "allow-domain"} {
		assert.NotNil(t, run.Flags().Lookup(flag), flag)
	}
}
