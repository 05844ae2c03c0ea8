package util

import (
	"hash/crc32"
	"io"
	"os"

	"github.com/pingcap/errors"
)

// FileExists reports whether path names a regular file. A directory does not count.
func FileExists(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.Mode().IsRegular()
}

// DeleteFileIfExists removes path and reports whether it was there.
func DeleteFileIfExists(path string) (bool, error) {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, errors.WithStack(err)
	}
	return true, nil
}

// FileChecksum reads the file at path once and returns its size and IEEE crc32.
func FileChecksum(path string) (uint64, uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, errors.WithStack(err)
	}
	defer f.Close()
	digest := crc32.NewIEEE()
	n, err := io.Copy(digest, f)
	if err != nil {
		return 0, 0, errors.WithStack(err)
	}
	return uint64(n), digest.Sum32(), nil
}
