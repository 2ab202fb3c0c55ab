//go:build unix

package media

import (
	"golang.org/x/sys/unix"
)

func accessCheck(path string) error {
	return unix.Access(path, unix.R_OK|unix.W_OK)
}
