package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThresholdCommands(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"np", "--energy", "100", "--pfa", "0.05"}, "threshold=16.4485"},
		{[]string{"energy", "--n", "1", "--pfa", "0.05"}, "threshold=3.84146"},
	}
	for _, tt := range tests {
		t.Run(tt.args[0], func(t *testing.T) {
			cmd := newThresholdCmd()
			var out bytes.Buffer
			cmd.SetOut(&out)
			cmd.SetArgs(tt.args)
			require.NoError(t, cmd.Execute())
			assert.Contains(t, out.String(), tt.want)
		})
	}
}

func TestThresholdCommands_RejectInvalidPfa(t *testing.T) {
	cmd := newThresholdCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"np", "--pfa", "1.5"})
	assert.Error(t, cmd.Execute())
}
