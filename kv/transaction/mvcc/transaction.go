package mvcc

import (
	"bytes"

	"github.com/pingcap-incubator/txnkv/kv/region"
	"github.com/pingcap-incubator/txnkv/kv/storage"
	"github.com/pingcap-incubator/txnkv/kv/util/codec"
	"github.com/pingcap-incubator/txnkv/kv/util/engine_util"
	"github.com/pingcap/kvproto/pkg/metapb"
)

// MvccTxn represents an mvcc transaction (see kv/transaction/doc.go for a definition). It permits reading from a
// snapshot and stores writes in a buffer for atomic writing.
type MvccTxn struct {
	RoTxn
	writes []storage.Modify
}

// A 'transaction' which will only read from the DB.
type RoTxn struct {
	Reader  storage.Reader
	StartTS uint64
	// Region bounds the keys the transaction may touch. nil means unbounded.
	Region *metapb.Region
}

func NewRoTxn(reader storage.Reader, startTs uint64) *RoTxn {
	txn := &RoTxn{Reader: reader, StartTS: startTs}
	if snap, ok := reader.(storage.Snapshot); ok {
		txn.Region = snap.Region()
	}
	return txn
}

func NewTxn(reader storage.Reader, startTs uint64) *MvccTxn {
	return &MvccTxn{RoTxn: *NewRoTxn(reader, startTs)}
}

// Writes returns all changes added to this transaction.
func (txn *MvccTxn) Writes() []storage.Modify {
	return txn.writes
}

// CheckKey fails with a region.ErrKeyNotInRegion if key is outside of the transaction's region.
func (txn *RoTxn) CheckKey(key []byte) error {
	if txn.Region == nil {
		return nil
	}
	return region.CheckKeyInRegion(key, txn.Region)
}

// EndKey is the exclusive upper bound of keys the transaction may read. nil means unbounded.
func (txn *RoTxn) EndKey() []byte {
	if txn.Region == nil || len(txn.Region.EndKey) == 0 {
		return nil
	}
	return txn.Region.EndKey
}

// MostRecentWrite finds the most recent write with the given key. It returns a Write from the DB and that
// write's commit timestamp, or an error.
func (txn *RoTxn) MostRecentWrite(key []byte) (*Write, uint64, error) {
	return txn.mostRecentWriteBefore(key, TsMax)
}

// mostRecentWriteBefore finds the write with the given key and the most recent commit timestamp before or equal to ts.
// It returns a Write from the DB and that write's commit timestamp, or an error.
// Postcondition: the returned ts is <= the ts arg.
func (txn *RoTxn) mostRecentWriteBefore(key []byte, ts uint64) (*Write, uint64, error) {
	iter := txn.Reader.IterCF(engine_util.CfWrite)
	defer iter.Close()
	iter.Seek(codec.EncodeKey(key, ts))
	if !iter.Valid() {
		return nil, 0, nil
	}
	item := iter.Item()
	userKey, commitTs, err := codec.DecodeKey(item.Key())
	if err != nil {
		return nil, 0, err
	}
	if !bytes.Equal(userKey, key) {
		return nil, 0, nil
	}
	value, err := item.Value()
	if err != nil {
		return nil, 0, err
	}
	write, err := ParseWrite(value)
	if err != nil {
		return nil, 0, err
	}

	return write, commitTs, nil
}

// CurrentWrite searches for a write with this transaction's start timestamp. It returns a Write from the DB and that
// write's commit timestamp, or an error. A rollback marker is found at commit timestamp == start timestamp.
func (txn *RoTxn) CurrentWrite(key []byte) (*Write, uint64, error) {
	seekTs := TsMax
	for {
		write, commitTs, err := txn.mostRecentWriteBefore(key, seekTs)
		if err != nil {
			return nil, 0, err
		}
		if write == nil {
			return nil, 0, nil
		}
		if write.StartTS == txn.StartTS {
			return write, commitTs, nil
		}
		if commitTs <= txn.StartTS {
			return nil, 0, nil
		}
		seekTs = commitTs - 1
	}
}

// GetValue finds the value for key, valid at the start timestamp of this transaction.
// I.e., the most recent value committed before the start of this transaction. Locks are not checked.
func (txn *RoTxn) GetValue(key []byte) ([]byte, error) {
	iter := txn.Reader.IterCF(engine_util.CfWrite)
	defer iter.Close()
	for iter.Seek(codec.EncodeKey(key, txn.StartTS)); iter.Valid(); iter.Next() {
		item := iter.Item()
		userKey, _, err := codec.DecodeKey(item.Key())
		if err != nil {
			return nil, err
		}
		// If the user key part of the combined key has changed, then we've got to the next key without finding a put write.
		if !bytes.Equal(userKey, key) {
			return nil, nil
		}
		value, err := item.Value()
		if err != nil {
			return nil, err
		}
		write, err := ParseWrite(value)
		if err != nil {
			return nil, err
		}
		switch write.Kind {
		case WriteKindPut:
			return txn.valueOf(key, write)
		case WriteKindDelete:
			return nil, nil
		}
		// Rollback and lock records carry no data, look at an older version.
	}

	// Iterated to the end of the DB
	return nil, nil
}

// valueOf returns the value a put write refers to.
func (txn *RoTxn) valueOf(key []byte, write *Write) ([]byte, error) {
	if write.ShortValue != nil {
		return write.ShortValue, nil
	}
	return txn.getValue(key, write.StartTS)
}

// GetLock returns a lock if key is locked. It will return (nil, nil) if there is no lock on key, and (nil, err)
// if an error occurs during lookup.
func (txn *RoTxn) GetLock(key []byte) (*Lock, error) {
	bytes, err := txn.Reader.GetCF(engine_util.CfLock, key)
	if err != nil {
		return nil, err
	}
	if bytes == nil {
		return nil, nil
	}

	lock, err := ParseLock(bytes)
	if err != nil {
		return nil, err
	}

	return lock, nil
}

// getValue gets the value at precisely the given key and ts, without searching.
func (txn *RoTxn) getValue(key []byte, ts uint64) ([]byte, error) {
	return txn.Reader.GetCF(engine_util.CfDefault, codec.EncodeKey(key, ts))
}

// PutWrite records write at key and ts.
func (txn *MvccTxn) PutWrite(key []byte, ts uint64, write *Write) {
	txn.writes = append(txn.writes, storage.Modify{
		Data: storage.Put{
			Key:   codec.EncodeKey(key, ts),
			Value: write.ToBytes(),
			Cf:    engine_util.CfWrite,
		},
	})
}

// PutLock adds a key/lock to this transaction.
func (txn *MvccTxn) PutLock(key []byte, lock *Lock) {
	txn.writes = append(txn.writes, storage.Modify{
		Data: storage.Put{
			Key:   key,
			Value: lock.ToBytes(),
			Cf:    engine_util.CfLock,
		},
	})
}

// DeleteLock adds a delete lock to this transaction.
func (txn *MvccTxn) DeleteLock(key []byte) {
	txn.writes = append(txn.writes, storage.Modify{
		Data: storage.Delete{
			Key: key,
			Cf:  engine_util.CfLock,
		},
	})
}

// PutValue adds a key/value write to this transaction.
func (txn *MvccTxn) PutValue(key []byte, value []byte) {
	txn.writes = append(txn.writes, storage.Modify{
		Data: storage.Put{
			Key:   codec.EncodeKey(key, txn.StartTS),
			Value: value,
			Cf:    engine_util.CfDefault,
		},
	})
}

// DeleteValue removes a key/value pair in this transaction.
func (txn *MvccTxn) DeleteValue(key []byte) {
	txn.writes = append(txn.writes, storage.Modify{
		Data: storage.Delete{
			Key: codec.EncodeKey(key, txn.StartTS),
			Cf:  engine_util.CfDefault,
		},
	})
}

// PutRaw writes a plain, unversioned key to cf.
func (txn *MvccTxn) PutRaw(cf string, key, value []byte) {
	txn.writes = append(txn.writes, storage.Modify{
		Data: storage.Put{Key: key, Value: value, Cf: cf},
	})
}

// DeleteRaw deletes a plain, unversioned key from cf.
func (txn *MvccTxn) DeleteRaw(cf string, key []byte) {
	txn.writes = append(txn.writes, storage.Modify{
		Data: storage.Delete{Key: key, Cf: cf},
	})
}
