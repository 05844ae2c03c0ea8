package codec

import (
	"encoding/binary"

	"github.com/pingcap/errors"
)

const (
	encGroupSize = 8
	encMarker    = byte(0xFF)
	encPad       = byte(0x0)

	// TsLen is the length of the timestamp suffix of an encoded key.
	TsLen = 8
)

var pads = make([]byte, encGroupSize)

// ErrCorruptedKey is returned when an engine key cannot be split into a user key and a timestamp.
var ErrCorruptedKey = errors.New("codec: corrupted key")

// EncodeKey encodes a user key and appends an encoded timestamp to a key. Keys and timestamps are encoded so that
// timestamped keys are sorted first by key (ascending), then by timestamp (descending). The encoding is based on
// https://github.com/facebook/mysql-5.6/wiki/MyRocks-record-format#memcomparable-format.
func EncodeKey(key []byte, ts uint64) []byte {
	return AppendTs(EncodeBytes(key), ts)
}

// EncodeBytes guarantees the encoded value is in ascending order for comparison,
// encoding with the following rule:
//  [group1][marker1]...[groupN][markerN]
//  group is 8 bytes slice which is padding with 0.
//  marker is `0xFF - padding 0 count`
// For example:
//   [] -> [0, 0, 0, 0, 0, 0, 0, 0, 247]
//   [1, 2, 3] -> [1, 2, 3, 0, 0, 0, 0, 0, 250]
//   [1, 2, 3, 0] -> [1, 2, 3, 0, 0, 0, 0, 0, 251]
//   [1, 2, 3, 4, 5, 6, 7, 8] -> [1, 2, 3, 4, 5, 6, 7, 8, 255, 0, 0, 0, 0, 0, 0, 0, 0, 247]
func EncodeBytes(data []byte) []byte {
	dLen := len(data)
	// extra room for the timestamp suffix
	result := make([]byte, 0, (dLen/encGroupSize+1)*(encGroupSize+1)+TsLen)
	for idx := 0; idx <= dLen; idx += encGroupSize {
		remain := dLen - idx
		padCount := 0
		if remain >= encGroupSize {
			result = append(result, data[idx:idx+encGroupSize]...)
		} else {
			padCount = encGroupSize - remain
			result = append(result, data[idx:]...)
			result = append(result, pads[:padCount]...)
		}
		result = append(result, encMarker-byte(padCount))
	}
	return result
}

// AppendTs appends the timestamp to an encoded key. The timestamp is inverted so newer versions sort first.
func AppendTs(encodedKey []byte, ts uint64) []byte {
	var buf [TsLen]byte
	binary.BigEndian.PutUint64(buf[:], ^ts)
	return append(encodedKey, buf[:]...)
}

// DecodeKey splits an encoded key with a timestamp suffix into the user key and the timestamp.
func DecodeKey(key []byte) ([]byte, uint64, error) {
	left, userKey, err := DecodeBytes(key)
	if err != nil {
		return nil, 0, err
	}
	if len(left) != TsLen {
		return nil, 0, errors.Annotatef(ErrCorruptedKey, "timestamp suffix has %d bytes", len(left))
	}
	return userKey, ^binary.BigEndian.Uint64(left), nil
}

// DecodeUserKey takes a key + timestamp and returns the key part.
func DecodeUserKey(key []byte) []byte {
	userKey, _, err := DecodeKey(key)
	if err != nil {
		panic(err)
	}
	return userKey
}

// DecodeTs takes a key + timestamp and returns the timestamp part.
func DecodeTs(key []byte) uint64 {
	_, ts, err := DecodeKey(key)
	if err != nil {
		panic(err)
	}
	return ts
}

// DecodeBytes decodes bytes which is encoded by EncodeBytes before,
// returns the leftover bytes and decoded value if no error.
func DecodeBytes(b []byte) ([]byte, []byte, error) {
	data := make([]byte, 0, len(b))
	for {
		if len(b) < encGroupSize+1 {
			return nil, nil, errors.Annotate(ErrCorruptedKey, "insufficient bytes to decode value")
		}

		groupBytes := b[:encGroupSize+1]
		group := groupBytes[:encGroupSize]
		marker := groupBytes[encGroupSize]

		padCount := encMarker - marker
		if padCount > encGroupSize {
			return nil, nil, errors.Annotatef(ErrCorruptedKey, "invalid marker byte, group bytes %q", groupBytes)
		}

		realGroupSize := encGroupSize - padCount
		data = append(data, group[:realGroupSize]...)
		b = b[encGroupSize+1:]

		if padCount != 0 {
			for _, v := range group[realGroupSize:] {
				if v != encPad {
					return nil, nil, errors.Annotatef(ErrCorruptedKey, "invalid padding byte, group bytes %q", groupBytes)
				}
			}
			break
		}
	}
	return b, data, nil
}

// EncodeCompactBytes prefixes data with its uvarint length.
func EncodeCompactBytes(b []byte, data []byte) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], uint64(len(data)))
	b = append(b, buf[:n]...)
	return append(b, data...)
}

// DecodeCompactBytes decodes a value written by EncodeCompactBytes and returns the leftover bytes.
func DecodeCompactBytes(b []byte) ([]byte, []byte, error) {
	l, n := binary.Uvarint(b)
	if n <= 0 {
		return nil, nil, errors.New("codec: invalid compact bytes length")
	}
	b = b[n:]
	if uint64(len(b)) < l {
		return nil, nil, errors.Errorf("codec: compact bytes want %d bytes, have %d", l, len(b))
	}
	return b[l:], b[:l], nil
}
