package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirsFollowXDG(t *testing.T) {
	t.Setenv("SUDO_USER", "")
	data, conf := t.TempDir(), t.TempDir()
	t.Setenv("XDG_DATA_HOME", data)
	t.Setenv("XDG_CONFIG_HOME", conf)

	dir, err := DataDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(data, "rtcdoctor"), dir)
	assert.DirExists(t, dir)

	dir, err = ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(conf, "rtcdoctor"), dir)
}

func TestDirsDefaultUnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("SUDO_USER", "")
	t.Setenv("HOME", home)
	t.Setenv("XDG_DATA_HOME", "")

	dir, err := DataDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".local", "share", "rtcdoctor"), dir)

	got, err := HomeDir()
	require.NoError(t, err)
	assert.Equal(t, home, got)
	_, err = os.Stat(dir)
	assert.NoError(t, err)
}
