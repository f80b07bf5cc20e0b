package main

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_RequiredFlags(t *testing.T) {
	escrowId, actor, err := escrowAndActor("confirm", "actor", []string{"-escrow", "e-1", "-actor", "buyer-1"})
	require.NoError(t, err)
	assert.Equal(t, "e-1", escrowId)
	assert.Equal(t, "buyer-1", actor)

	_, _, err = escrowAndActor("confirm", "actor", []string{"-escrow", "e-1"})
	assert.EqualError(t, err, "-actor is required")

	_, _, err = escrowAndActor("resolve", "admin", []string{"-escrow", "e-1", "-admin", ""})
	assert.EqualError(t, err, "-admin is required")
}

func TestParse_UnknownFlag(t *testing.T) {
	var v string
	err := parse("link", []string{"-bogus", "x"}, func(fs *flag.FlagSet) {
		fs.SetOutput(discard{})
		fs.StringVar(&v, "escrow", "", "")
	}, "escrow")
	assert.Error(t, err)
}

func TestCommandsHaveUsage(t *testing.T) {
	for name, cmd := range commands {
		assert.NotNil(t, cmd.run, name)
	}
	assert.Contains(t, commands, "status")
	assert.Contains(t, commands, "override")
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
