//go:build !unix

package media

// Without an access syscall the only reliable check is opening the node.
func accessCheck(path string) error {
	return openCheck(path)
}
