package mvcc

import (
	"encoding/binary"

	"github.com/pingcap/errors"
	"github.com/pingcap/kvproto/pkg/kvrpcpb"
)

// Write is a representation of a committed write to backing storage.
// A serialized version is stored in the "write" CF of our engine when a write is committed. That allows MvccTxn to find
// the status of a key at a given timestamp.
type Write struct {
	StartTS uint64
	Kind    WriteKind
	// ShortValue holds a put's value when it was small enough to inline. nil means the value lives in the default CF.
	ShortValue []byte
}

// Layout: kind byte, uvarint start ts, then optionally shortValuePrefix, one length byte and the value.
func (wr *Write) ToBytes() []byte {
	buf := make([]byte, 1, 1+binary.MaxVarintLen64+2+len(wr.ShortValue))
	buf[0] = byte(wr.Kind)
	buf = appendUvarint(buf, wr.StartTS)
	if wr.ShortValue != nil {
		buf = append(buf, shortValuePrefix, byte(len(wr.ShortValue)))
		buf = append(buf, wr.ShortValue...)
	}
	return buf
}

func ParseWrite(value []byte) (*Write, error) {
	if value == nil {
		return nil, nil
	}
	if len(value) < 2 {
		return nil, errors.Errorf("mvcc: write record too short, found %d bytes", len(value))
	}
	kind := WriteKind(value[0])
	if !kind.valid() {
		return nil, errors.Errorf("mvcc: invalid write kind %d", value[0])
	}
	startTs, n := binary.Uvarint(value[1:])
	if n <= 0 {
		return nil, errors.New("mvcc: invalid write start ts")
	}
	write := &Write{StartTS: startTs, Kind: kind}
	shortValue, err := parseShortValue(value[1+n:])
	if err != nil {
		return nil, err
	}
	write.ShortValue = shortValue
	return write, nil
}

type WriteKind int

const (
	WriteKindPut      WriteKind = 1
	WriteKindDelete   WriteKind = 2
	WriteKindRollback WriteKind = 3
	WriteKindLock     WriteKind = 4
)

func (wk WriteKind) valid() bool {
	return wk >= WriteKindPut && wk <= WriteKindLock
}

func (wk WriteKind) String() string {
	switch wk {
	case WriteKindPut:
		return "put"
	case WriteKindDelete:
		return "delete"
	case WriteKindRollback:
		return "rollback"
	case WriteKindLock:
		return "lock"
	}
	return "unknown"
}

func (wk WriteKind) ToProto() kvrpcpb.Op {
	switch wk {
	case WriteKindPut:
		return kvrpcpb.Op_Put
	case WriteKindDelete:
		return kvrpcpb.Op_Del
	case WriteKindRollback:
		return kvrpcpb.Op_Rollback
	case WriteKindLock:
		return kvrpcpb.Op_Lock
	}

	return -1
}

func WriteKindFromProto(op kvrpcpb.Op) (WriteKind, error) {
	switch op {
	case kvrpcpb.Op_Put:
		return WriteKindPut, nil
	case kvrpcpb.Op_Del:
		return WriteKindDelete, nil
	case kvrpcpb.Op_Rollback:
		return WriteKindRollback, nil
	case kvrpcpb.Op_Lock:
		return WriteKindLock, nil
	}
	return 0, errors.Errorf("mvcc: unsupported mutation op %v", op)
}

const shortValuePrefix = 'v'

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func parseShortValue(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if b[0] != shortValuePrefix || len(b) < 2 {
		return nil, errors.Errorf("mvcc: invalid short value flag %q", b[0])
	}
	l := int(b[1])
	if len(b)-2 != l {
		return nil, errors.Errorf("mvcc: short value wants %d bytes, found %d", l, len(b)-2)
	}
	value := make([]byte, l)
	copy(value, b[2:])
	return value, nil
}
