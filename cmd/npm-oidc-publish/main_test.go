package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["publish"])
	assert.True(t, names["keygen"])
}

func TestPublishCommandRequiresCoreFlags(t *testing.T) {
	cmd := newPublishCmd()
	cmd.SetArgs([]string{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	assert.Error(t, err, "tarball/package/version/basename are required")
}

func TestKeygenCommandPrintsKeyMaterial(t *testing.T) {
	cmd := newKeygenCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "BEGIN PUBLIC KEY")
	assert.Contains(t, out.String(), "key id:")
}

func TestRootCommandParsesVerbosityFlag(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"keygen", "-v", "debug"})
	root.SetOut(&bytes.Buffer{})
	require.NoError(t, root.Execute())
	assert.Equal(t, "debug", verbosity)
}
