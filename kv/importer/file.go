package importer

import (
	"bufio"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pingcap-incubator/txnkv/kv/util/codec"
	"github.com/pingcap-incubator/txnkv/kv/util/engine_util"
	"github.com/pingcap/errors"
	"github.com/pingcap/kvproto/pkg/import_sstpb"
	"github.com/pingcap/kvproto/pkg/metapb"
)

const (
	sstSuffix = ".sst"
	tmpSuffix = ".tmp"
)

// Pair is one key/value of an import file.
type Pair struct {
	Key   []byte
	Value []byte
}

// fileName names a file after everything needed to rebuild its meta:
// {uuid}_{region id}_{conf ver}_{version}_{cf}.sst
func fileName(meta *import_sstpb.SSTMeta) (string, error) {
	id, err := uuid.FromBytes(meta.Uuid)
	if err != nil {
		return "", errors.Annotatef(ErrInvalidSSTMeta, "uuid: %v", err)
	}
	if meta.RegionEpoch == nil {
		return "", errors.Annotate(ErrInvalidSSTMeta, "missing region epoch")
	}
	cf := cfName(meta)
	if !engine_util.ValidCF(cf) {
		return "", errors.Annotatef(ErrInvalidSSTMeta, "unknown column family %q", cf)
	}
	return fmt.Sprintf("%s_%d_%d_%d_%s%s", id, meta.RegionId,
		meta.RegionEpoch.ConfVer, meta.RegionEpoch.Version, cf, sstSuffix), nil
}

func cfName(meta *import_sstpb.SSTMeta) string {
	if meta.CfName == "" {
		return engine_util.CfDefault
	}
	return meta.CfName
}

// parseFileName is the inverse of fileName. Length and checksum are not part of the name.
func parseFileName(name string) (*import_sstpb.SSTMeta, error) {
	if !strings.HasSuffix(name, sstSuffix) {
		return nil, errors.Annotate(ErrInvalidSSTPath, name)
	}
	parts := strings.Split(strings.TrimSuffix(name, sstSuffix), "_")
	if len(parts) != 5 {
		return nil, errors.Annotate(ErrInvalidSSTPath, name)
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return nil, errors.Annotate(ErrInvalidSSTPath, name)
	}
	var nums [3]uint64
	for i := range nums {
		if nums[i], err = strconv.ParseUint(parts[i+1], 10, 64); err != nil {
			return nil, errors.Annotate(ErrInvalidSSTPath, name)
		}
	}
	if !engine_util.ValidCF(parts[4]) {
		return nil, errors.Annotate(ErrInvalidSSTPath, name)
	}
	return &import_sstpb.SSTMeta{
		Uuid:        id[:],
		RegionId:    nums[0],
		RegionEpoch: &metapb.RegionEpoch{ConfVer: nums[1], Version: nums[2]},
		CfName:      parts[4],
	}, nil
}

// WriteFile writes pairs in import file format: each key and value is length prefixed. It returns the length and
// crc32 to put into the file's SSTMeta.
func WriteFile(w io.Writer, pairs []Pair) (uint64, uint32, error) {
	digest := crc32.NewIEEE()
	bw := bufio.NewWriter(io.MultiWriter(w, digest))
	var length uint64
	var buf []byte
	for _, p := range pairs {
		buf = codec.EncodeCompactBytes(buf[:0], p.Key)
		buf = codec.EncodeCompactBytes(buf, p.Value)
		n, err := bw.Write(buf)
		length += uint64(n)
		if err != nil {
			return length, 0, errors.WithStack(err)
		}
	}
	if err := bw.Flush(); err != nil {
		return length, 0, errors.WithStack(err)
	}
	return length, digest.Sum32(), nil
}

func readFile(path string) ([]Pair, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Annotate(ErrFileNotFound, filepath.Base(path))
		}
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var pairs []Pair
	for len(data) > 0 {
		var key, value []byte
		if data, key, err = codec.DecodeCompactBytes(data); err != nil {
			return nil, errors.Annotatef(ErrFileCorrupted, "%s: %v", filepath.Base(path), err)
		}
		if data, value, err = codec.DecodeCompactBytes(data); err != nil {
			return nil, errors.Annotatef(ErrFileCorrupted, "%s: %v", filepath.Base(path), err)
		}
		pairs = append(pairs, Pair{Key: key, Value: value})
	}
	return pairs, nil
}
