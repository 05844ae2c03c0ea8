package mvcc

import (
	"bytes"

	"github.com/pingcap-incubator/txnkv/kv/util/codec"
	"github.com/pingcap-incubator/txnkv/kv/util/engine_util"
)

// Scanner is used for reading multiple sequential key/value pairs from the storage layer. It is aware of the implementation
// of the storage layer and returns results suitable for users.
// It walks the lock and write CFs side by side so a key that is only locked still reports the lock.
type Scanner struct {
	writeIter engine_util.DBIterator
	lockIter  engine_util.DBIterator
	txn       *RoTxn
	endKey    []byte
	finished  bool
}

// NewScanner creates a new scanner ready to read keys in [startKey, endKey) from the snapshot in txn. The range is
// clamped to the transaction's region. A nil endKey means no upper bound.
func NewScanner(startKey, endKey []byte, txn *RoTxn) *Scanner {
	if txn.Region != nil && bytes.Compare(startKey, txn.Region.StartKey) < 0 {
		startKey = txn.Region.StartKey
	}
	if regionEnd := txn.EndKey(); regionEnd != nil && (endKey == nil || bytes.Compare(regionEnd, endKey) < 0) {
		endKey = regionEnd
	}
	writeIter := txn.Reader.IterCF(engine_util.CfWrite)
	writeIter.Seek(codec.EncodeKey(startKey, TsMax))
	lockIter := txn.Reader.IterCF(engine_util.CfLock)
	lockIter.Seek(startKey)
	return &Scanner{
		writeIter: writeIter,
		lockIter:  lockIter,
		txn:       txn,
		endKey:    endKey,
	}
}

func (scan *Scanner) Close() {
	scan.writeIter.Close()
	scan.lockIter.Close()
}

// Next returns the next key/value pair from the scanner. If the scanner is exhausted, then it will return `nil, nil, nil`.
// A key locked for the read returns an *ErrKeyIsLocked; Next may be called again to continue after it.
func (scan *Scanner) Next() ([]byte, []byte, error) {
	for !scan.finished {
		var writeKey, lockKey []byte
		if scan.writeIter.Valid() {
			userKey, _, err := codec.DecodeKey(scan.writeIter.Item().Key())
			if err != nil {
				return nil, nil, err
			}
			writeKey = userKey
		}
		if scan.lockIter.Valid() {
			lockKey = scan.lockIter.Item().KeyCopy(nil)
		}

		var userKey []byte
		switch {
		case writeKey == nil && lockKey == nil:
			// The underlying iterators are exhausted, we've reached the end of the DB.
			scan.finished = true
			return nil, nil, nil
		case writeKey == nil:
			userKey = lockKey
		case lockKey == nil:
			userKey = writeKey
		case bytes.Compare(lockKey, writeKey) < 0:
			userKey = lockKey
		default:
			userKey = writeKey
		}
		if engine_util.ExceedEndKey(userKey, scan.endKey) {
			scan.finished = true
			return nil, nil, nil
		}

		hasWrites := writeKey != nil && bytes.Equal(writeKey, userKey)
		if lockKey != nil && bytes.Equal(lockKey, userKey) {
			value, err := scan.lockIter.Item().Value()
			if err != nil {
				return nil, nil, err
			}
			scan.lockIter.Next()
			lock, err := ParseLock(value)
			if err != nil {
				return nil, nil, err
			}
			if lock.IsLockedFor(userKey, scan.txn.StartTS) {
				if hasWrites {
					scan.skipVersions(userKey)
				}
				return nil, nil, &ErrKeyIsLocked{Key: userKey, Lock: lock}
			}
		}
		if !hasWrites {
			continue
		}

		value, found, err := scan.visibleValue(userKey)
		if err != nil {
			return nil, nil, err
		}
		scan.skipVersions(userKey)
		if found {
			return userKey, value, nil
		}
	}
	return nil, nil, nil
}

// visibleValue resolves userKey at the scanner's timestamp. The write iterator must be positioned on a version
// of userKey.
func (scan *Scanner) visibleValue(userKey []byte) ([]byte, bool, error) {
	for scan.writeIter.Valid() {
		item := scan.writeIter.Item()
		key, commitTs, err := codec.DecodeKey(item.Key())
		if err != nil {
			return nil, false, err
		}
		if !bytes.Equal(key, userKey) {
			return nil, false, nil
		}
		if commitTs > scan.txn.StartTS {
			// The key was not committed before our transaction started, find an earlier version.
			scan.writeIter.Seek(codec.EncodeKey(userKey, scan.txn.StartTS))
			continue
		}
		writeValue, err := item.Value()
		if err != nil {
			return nil, false, err
		}
		write, err := ParseWrite(writeValue)
		if err != nil {
			return nil, false, err
		}
		switch write.Kind {
		case WriteKindPut:
			value, err := scan.txn.valueOf(userKey, write)
			if err != nil {
				return nil, false, err
			}
			return value, true, nil
		case WriteKindDelete:
			return nil, false, nil
		}
		scan.writeIter.Next()
	}
	return nil, false, nil
}

// skipVersions moves the write iterator past every version of userKey.
func (scan *Scanner) skipVersions(userKey []byte) {
	scan.writeIter.Seek(codec.EncodeKey(userKey, 0))
	if !scan.writeIter.Valid() {
		return
	}
	key, _, err := codec.DecodeKey(scan.writeIter.Item().Key())
	if err == nil && bytes.Equal(key, userKey) {
		scan.writeIter.Next()
	}
}
