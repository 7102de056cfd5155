//go:build unix

package syncblock

import (
	"os"
	"path/filepath"
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Create allocates a file backed block for n workers in dir. The file is
// created exclusively and removed again by Close.
func Create(dir, name string, n int) (*Block, error) {
	if n < 1 {
		return nil, errors.Newf("invalid worker count %d", n)
	}
	if dir == "" {
		dir = os.TempDir()
	}

	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "create synchronization block")
	}
	defer f.Close()

	size := sizeFor(n)
	if err := f.Truncate(int64(size)); err != nil {
		os.Remove(path)
		return nil, errors.Wrap(err, "size synchronization block")
	}

	b, err := mapFile(f, path, size)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	b.owner = true
	b.init(n)
	return b, nil
}

// Open attaches to a block created by another process.
func Open(path string) (*Block, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(err, "open synchronization block")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat synchronization block")
	}
	size := int(info.Size())
	if size < sizeFor(1) || size%4 != 0 {
		return nil, errors.Newf("synchronization block %s has invalid size %d", path, size)
	}

	b, err := mapFile(f, path, size)
	if err != nil {
		return nil, err
	}
	if err := b.validate(); err != nil {
		b.Close()
		return nil, errors.Wrapf(err, "open %s", path)
	}
	return b, nil
}

func mapFile(f *os.File, path string, size int) (*Block, error) {
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrap(err, "map synchronization block")
	}

	// mmap returns page aligned memory, so every word is 4 byte aligned.
	words := unsafe.Slice((*int32)(unsafe.Pointer(&mem[0])), size/4)
	return &Block{
		words:    words,
		path:     path,
		interval: DefaultPollInterval,
		release: func() error {
			return unix.Munmap(mem)
		},
	}, nil
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove synchronization block")
	}
	return nil
}

// Shared reports whether file backed blocks are available on this platform.
func Shared() bool { return true }
