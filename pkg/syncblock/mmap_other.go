//go:build !unix

package syncblock

import (
	"os"

	"github.com/cockroachdb/errors"
)

var errNoShared = errors.New("file backed synchronization blocks are not supported on this platform; use --spawn=thread")

func Create(dir, name string, n int) (*Block, error) {
	return nil, errNoShared
}

func Open(path string) (*Block, error) {
	return nil, errNoShared
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func Shared() bool { return false }
