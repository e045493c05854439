package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMigrationNumbersAfterHighestVersion(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"000001_init.up.sql", "000001_init.down.sql", "000007_teams.up.sql", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), nil, 0o644))
	}

	up, down, err := createMigration(dir, "Add Agent-Tags")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "000008_add_agent_tags.up.sql"), up)
	assert.Equal(t, filepath.Join(dir, "000008_add_agent_tags.down.sql"), down)
	assert.FileExists(t, up)
	assert.FileExists(t, down)
}

func TestCreateMigrationInEmptyDir(t *testing.T) {
	up, _, err := createMigration(t.TempDir(), "init")
	require.NoError(t, err)
	assert.Equal(t, "000001_init.up.sql", filepath.Base(up))
}

func TestCreateMigrationRejectsEmptyName(t *testing.T) {
	_, _, err := createMigration(t.TempDir(), " -- ")
	assert.Error(t, err)
}

func TestOptionalCount(t *testing.T) {
	n, err := optionalCount(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = optionalCount([]string{"3"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = optionalCount([]string{"0"})
	assert.Error(t, err)
	_, err = optionalCount([]string{"x"})
	assert.Error(t, err)
}
