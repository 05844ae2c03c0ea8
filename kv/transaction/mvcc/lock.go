package mvcc

import (
	"bytes"
	"encoding/binary"

	"github.com/pingcap-incubator/txnkv/kv/util/codec"
	"github.com/pingcap-incubator/txnkv/kv/util/engine_util"
	"github.com/pingcap/errors"
	"github.com/pingcap/kvproto/pkg/kvrpcpb"
)

const TsMax uint64 = ^uint64(0)

// ShortValueMaxLen is the largest value inlined into lock and write records.
const ShortValueMaxLen = 64

// Timestamps carry a physical part in milliseconds above physicalShiftBits logical bits.
const physicalShiftBits = 18

type Lock struct {
	Primary []byte
	Ts      uint64
	Ttl     uint64
	Kind    WriteKind
	// ShortValue is the prewritten value when it was inlined. nil means the value lives in the default CF or
	// the lock carries no value.
	ShortValue []byte
}

type KlPair struct {
	Key  []byte
	Lock *Lock
}

// Info creates a LockInfo object from a Lock object for key.
func (lock *Lock) Info(key []byte) *kvrpcpb.LockInfo {
	info := kvrpcpb.LockInfo{}
	info.Key = key
	info.LockVersion = lock.Ts
	info.PrimaryLock = lock.Primary
	info.LockTtl = lock.Ttl
	return &info
}

// Layout: kind byte, compact primary, uvarint ts, uvarint ttl, then optionally shortValuePrefix, one length
// byte and the value.
func (lock *Lock) ToBytes() []byte {
	buf := make([]byte, 1, 1+len(lock.Primary)+3*binary.MaxVarintLen64+2+len(lock.ShortValue))
	buf[0] = byte(lock.Kind)
	buf = codec.EncodeCompactBytes(buf, lock.Primary)
	buf = appendUvarint(buf, lock.Ts)
	buf = appendUvarint(buf, lock.Ttl)
	if lock.ShortValue != nil {
		buf = append(buf, shortValuePrefix, byte(len(lock.ShortValue)))
		buf = append(buf, lock.ShortValue...)
	}
	return buf
}

// ParseLock attempts to parse a byte string into a Lock object.
func ParseLock(input []byte) (*Lock, error) {
	if len(input) < 4 {
		return nil, errors.Errorf("mvcc: error parsing lock, not enough input, found %d bytes", len(input))
	}
	kind := WriteKind(input[0])
	if !kind.valid() || kind == WriteKindRollback {
		return nil, errors.Errorf("mvcc: invalid lock kind %d", input[0])
	}
	left, primary, err := codec.DecodeCompactBytes(input[1:])
	if err != nil {
		return nil, errors.Annotate(err, "mvcc: error parsing lock primary")
	}
	ts, n := binary.Uvarint(left)
	if n <= 0 {
		return nil, errors.New("mvcc: error parsing lock ts")
	}
	left = left[n:]
	ttl, n := binary.Uvarint(left)
	if n <= 0 {
		return nil, errors.New("mvcc: error parsing lock ttl")
	}
	shortValue, err := parseShortValue(left[n:])
	if err != nil {
		return nil, err
	}
	return &Lock{
		Primary:    append([]byte{}, primary...),
		Ts:         ts,
		Ttl:        ttl,
		Kind:       kind,
		ShortValue: shortValue,
	}, nil
}

// IsLockedFor checks if lock blocks a read of key at txnStartTs. A read at TsMax is only blocked by the
// primary lock.
func (lock *Lock) IsLockedFor(key []byte, txnStartTs uint64) bool {
	if lock == nil {
		return false
	}
	if txnStartTs == TsMax && !bytes.Equal(key, lock.Primary) {
		return false
	}
	return lock.Ts <= txnStartTs
}

// IsExpired reports whether the lock's ttl has run out at currentTs.
func (lock *Lock) IsExpired(currentTs uint64) bool {
	return PhysicalTime(lock.Ts)+lock.Ttl < PhysicalTime(currentTs)
}

// PhysicalTime returns the physical part of a timestamp, in milliseconds.
func PhysicalTime(ts uint64) uint64 {
	return ts >> physicalShiftBits
}

// ComposeTs builds a timestamp from a physical time in milliseconds and a logical counter.
func ComposeTs(physical, logical uint64) uint64 {
	return physical<<physicalShiftBits + logical
}

// AllLocksForTxn returns the locks of the transaction txn.StartTS with keys in [startKey, endKey).
func AllLocksForTxn(txn *RoTxn, startKey, endKey []byte) ([]KlPair, error) {
	var result []KlPair
	iter := txn.Reader.IterCF(engine_util.CfLock)
	defer iter.Close()
	for iter.Seek(startKey); iter.Valid(); iter.Next() {
		item := iter.Item()
		if engine_util.ExceedEndKey(item.Key(), endKey) {
			break
		}
		val, err := item.Value()
		if err != nil {
			return nil, err
		}
		lock, err := ParseLock(val)
		if err != nil {
			return nil, err
		}
		if lock.Ts == txn.StartTS {
			result = append(result, KlPair{item.KeyCopy(nil), lock})
		}
	}
	return result, nil
}
