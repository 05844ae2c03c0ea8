package importer

import "github.com/pingcap/errors"

var (
	ErrFileExists     = errors.New("importer: file already exists")
	ErrFileCorrupted  = errors.New("importer: file corrupted")
	ErrFileNotFound   = errors.New("importer: file not found")
	ErrInvalidSSTPath = errors.New("importer: invalid sst path")
	ErrInvalidSSTMeta = errors.New("importer: invalid sst meta")
	ErrStopped        = errors.New("importer: stopped")
)
