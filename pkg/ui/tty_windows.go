//go:build windows

package ui

import (
	"io"
	"os"
)

// TODO(parley) Untested, needs a windows console to check CONIN$ handling.
func OpenTTY() (io.ReadWriteCloser, error) {
	return os.OpenFile("CONIN$", os.O_RDWR, 0)
}
