package run

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
)

func TestSplitAtDash(t *testing.T) {
	cases := []struct {
		name            string
		rawArgs         []string
		wantTasks       []string
		wantPassthrough []string
	}{
		{
			name:            "no dash",
			rawArgs:         []string{"build", "test"},
			wantTasks:       []string{"build", "test"},
			wantPassthrough: nil,
		},
		{
			name:            "dash with trailing args",
			rawArgs:         []string{"build", "--", "--watch", "--verbose"},
			wantTasks:       []string{"build"},
			wantPassthrough: []string{"--watch", "--verbose"},
		},
		{
			name:            "trailing empty dash",
			rawArgs:         []string{"build", "test", "--"},
			wantTasks:       []string{"build", "test"},
			wantPassthrough: []string{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := &cobra.Command{Use: "run", Run: func(*cobra.Command, []string) {}}
			assert.NoError(t, cmd.Flags().Parse(tc.rawArgs))

			tasks, passThrough := splitAtDash(cmd, cmd.Flags().Args())
			assert.Equal(t, tc.wantTasks, tasks)
			assert.Equal(t, tc.wantPassthrough, passThrough)
		})
	}
}

func TestAddRunOptsFlagsDefaults(t *testing.T) {
	cmd := RunCmd(nil)
	flags := cmd.Flags()

	concurrency, err := flags.GetInt("concurrency")
	assert.NoError(t, err)
	assert.Equal(t, 10, concurrency)

	parallel, err := flags.GetBool("parallel")
	assert.NoError(t, err)
	assert.False(t, parallel)

	assert.NotNil(t, flags.Lookup("dry"))
	assert.NotNil(t, flags.Lookup("graph"))
	assert.NotNil(t, flags.Lookup("scope"))
	assert.NotNil(t, flags.Lookup("cache-dir"))
	assert.NotNil(t, flags.Lookup("force"))
}
