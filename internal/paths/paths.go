// Package paths locates the per-user directories of rtcdoctor.
package paths

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"
)

const appName = "rtcdoctor"

// invoker is the user that started the process, seen through sudo.
type invoker struct {
	home     string
	uid, gid int
	sudo     bool
}

func currentInvoker() (invoker, error) {
	if name := os.Getenv("SUDO_USER"); name != "" {
		if u, err := user.Lookup(name); err == nil {
			inv := invoker{home: u.HomeDir, sudo: true}
			inv.uid, _ = strconv.Atoi(os.Getenv("SUDO_UID"))
			inv.gid, _ = strconv.Atoi(os.Getenv("SUDO_GID"))
			return inv, nil
		}
	}
	home, err := os.UserHomeDir()
	return invoker{home: home}, err
}

// HomeDir returns the invoking user's home directory, even under sudo.
// Device checks are often run with sudo to rule out permission problems,
// and the report database must still land in the user's own home.
func HomeDir() (string, error) {
	inv, err := currentInvoker()
	return inv.home, err
}

// ChownToRealUser hands path back to the invoking user under sudo. It is a
// no-op otherwise.
func ChownToRealUser(path string) {
	inv, err := currentInvoker()
	if err != nil || !inv.sudo || inv.uid == 0 {
		return
	}
	_ = os.Chown(path, inv.uid, inv.gid)
}

// userDir resolves an XDG base directory. The XDG variable is ignored under
// sudo since it then belongs to root.
func userDir(xdgVar string, fallback ...string) (string, error) {
	inv, err := currentInvoker()
	if err != nil {
		return "", err
	}
	base := filepath.Join(append([]string{inv.home}, fallback...)...)
	if v := os.Getenv(xdgVar); v != "" && !inv.sudo {
		base = v
	}
	dir := filepath.Join(base, appName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if inv.sudo {
		ChownToRealUser(dir)
	}
	return dir, nil
}

// DataDir returns the directory holding the report database, creating it
// if needed. Defaults to ~/.local/share/rtcdoctor.
func DataDir() (string, error) {
	return userDir("XDG_DATA_HOME", ".local", "share")
}

// ConfigDir returns ~/.config/rtcdoctor (or $XDG_CONFIG_HOME/rtcdoctor),
// creating it if needed.
func ConfigDir() (string, error) {
	return userDir("XDG_CONFIG_HOME", ".config")
}
