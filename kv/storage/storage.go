package storage

import (
	"github.com/pingcap-incubator/txnkv/kv/util/engine_util"
	"github.com/pingcap/kvproto/pkg/kvrpcpb"
	"github.com/pingcap/kvproto/pkg/metapb"
)

// Engine is the local persistent engine. All column families live in one Engine and a WriteBatch is applied
// atomically: a Reader never observes part of a batch.
type Engine interface {
	// GetCF returns nil with a nil error when the key does not exist.
	GetCF(cf string, key []byte) ([]byte, error)
	// Scan calls fn for every pair of cf in [start, end) in key order until fn returns false.
	Scan(cf string, start, end []byte, fn func(key, value []byte) bool) error
	Write(batch *engine_util.WriteBatch) error
	// Snapshot returns a consistent point-in-time view. The caller must Close it.
	Snapshot() (Reader, error)
	Close() error
}

// Reader reads from a consistent view of an Engine.
type Reader interface {
	// GetCF returns nil with a nil error when the key does not exist.
	GetCF(cf string, key []byte) ([]byte, error)
	IterCF(cf string) engine_util.DBIterator
	Close()
}

// Snapshot is a Reader bound to the region, epoch and term it was taken under. Reads fail with a retryable
// staleness error once the region has moved on.
type Snapshot interface {
	Reader
	Region() *metapb.Region
	Term() uint64
	// Validate fails once reads through the snapshot can no longer be trusted. Point reads check it on their
	// own; callers that iterate must call it after they are done reading.
	Validate() error
}

// SnapshotCallback receives exactly one of a snapshot or an error.
type SnapshotCallback func(snap Snapshot, err error)

// Storage is what the transaction layer reads from and writes to. It routes by the request context and rejects
// requests whose routing information is stale.
type Storage interface {
	Start() error
	Stop() error
	// AsyncSnapshot may call cb from another goroutine, at any later time.
	AsyncSnapshot(ctx *kvrpcpb.Context, cb SnapshotCallback)
	Write(ctx *kvrpcpb.Context, batch []Modify) error
}

// ScanReader implements Engine.Scan on top of a Reader.
func ScanReader(reader Reader, cf string, start, end []byte, fn func(key, value []byte) bool) error {
	iter := reader.IterCF(cf)
	defer iter.Close()
	for iter.Seek(start); iter.Valid(); iter.Next() {
		item := iter.Item()
		if engine_util.ExceedEndKey(item.Key(), end) {
			break
		}
		value, err := item.Value()
		if err != nil {
			return err
		}
		if !fn(item.Key(), value) {
			break
		}
	}
	return nil
}
