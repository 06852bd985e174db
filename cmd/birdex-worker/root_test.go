package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVideoRejectsBadStop(t *testing.T) {
	cmd := RootCommand()
	cmd.SetArgs([]string{"video", "--stop", "2"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--stop must be 0 or 1")
}

func TestMissingConfigFileFails(t *testing.T) {
	cmd := RootCommand()
	cmd.SetArgs([]string{"image", "--config", filepath.Join(t.TempDir(), "absent.yaml")})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestSubcommandsAndFlags(t *testing.T) {
	cmd := RootCommand()

	video, _, err := cmd.Find([]string{"video"})
	require.NoError(t, err)
	assert.NotNil(t, video.Flags().Lookup("fps"))
	assert.NotNil(t, video.Flags().Lookup("stop"))

	image, _, err := cmd.Find([]string{"image"})
	require.NoError(t, err)
	assert.Nil(t, image.Flags().Lookup("fps"))

	for _, name := range []string{"config", "log-level", "metrics-addr"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}
