package importer

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pingcap-incubator/txnkv/kv/config"
	"github.com/pingcap-incubator/txnkv/kv/region"
	"github.com/pingcap-incubator/txnkv/kv/storage"
	"github.com/pingcap-incubator/txnkv/kv/storage/region_storage"
	"github.com/pingcap-incubator/txnkv/kv/util/engine_util"
	"github.com/pingcap/errors"
	"github.com/pingcap/kvproto/pkg/import_sstpb"
	"github.com/pingcap/kvproto/pkg/kvrpcpb"
	"github.com/pingcap/kvproto/pkg/metapb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testImporter struct {
	*Importer
	engine *storage.MemEngine
	router *region.Router
	dir    string
}

func newTestImporter(t *testing.T) *testImporter {
	dir, err := ioutil.TempDir("", "txnkv-import")
	require.Nil(t, err)
	router := region.NewRouter(1)
	require.Nil(t, router.Bootstrap(&metapb.Region{
		Id:          1,
		RegionEpoch: &metapb.RegionEpoch{ConfVer: 1, Version: 1},
		Peers:       []*metapb.Peer{{Id: 11, StoreId: 1}},
	}))
	engine := storage.NewMemEngine()
	rs := region_storage.NewRegionStorage(engine, router)
	require.Nil(t, rs.Start())
	cfg := config.NewTestConfig().Import
	cfg.ImportDir = dir
	cfg.UploadRateLimit = config.ByteSize(config.MB)
	imp, err := NewImporter(&cfg, rs)
	require.Nil(t, err)
	imp.Start()
	return &testImporter{Importer: imp, engine: engine, router: router, dir: dir}
}

func (ti *testImporter) close() {
	ti.Stop()
	os.RemoveAll(ti.dir)
}

func (ti *testImporter) ctx(t *testing.T) *kvrpcpb.Context {
	ctx, err := ti.router.Context(1)
	require.Nil(t, err)
	return ctx
}

func buildFile(t *testing.T, cf string, pairs ...Pair) (*import_sstpb.SSTMeta, []byte) {
	var buf bytes.Buffer
	length, crc, err := WriteFile(&buf, pairs)
	require.Nil(t, err)
	id := uuid.New()
	return &import_sstpb.SSTMeta{
		Uuid:        id[:],
		Length:      length,
		Crc32:       crc,
		CfName:      cf,
		RegionId:    1,
		RegionEpoch: &metapb.RegionEpoch{ConfVer: 1, Version: 1},
	}, buf.Bytes()
}

func TestUploadIngest(t *testing.T) {
	ti := newTestImporter(t)
	defer ti.close()
	meta, data := buildFile(t, engine_util.CfDefault, Pair{[]byte("a"), []byte("1")}, Pair{[]byte("b"), []byte("2")})

	require.Nil(t, ti.Upload(meta, bytes.NewReader(data)))
	metas, err := ti.List()
	require.Nil(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, meta.Uuid, metas[0].Uuid)
	assert.Equal(t, meta.Length, metas[0].Length)
	assert.Equal(t, meta.Crc32, metas[0].Crc32)
	assert.Equal(t, meta.RegionEpoch, metas[0].RegionEpoch)

	require.Nil(t, ti.Ingest(ti.ctx(t), meta))
	assert.Equal(t, []byte("1"), ti.engine.Get(engine_util.CfDefault, []byte("a")))
	assert.Equal(t, []byte("2"), ti.engine.Get(engine_util.CfDefault, []byte("b")))

	metas, err = ti.List()
	require.Nil(t, err)
	assert.Empty(t, metas)
}

func TestUploadExists(t *testing.T) {
	ti := newTestImporter(t)
	defer ti.close()
	meta, data := buildFile(t, engine_util.CfWrite, Pair{[]byte("a"), []byte("1")})

	require.Nil(t, ti.Upload(meta, bytes.NewReader(data)))
	err := ti.Upload(meta, bytes.NewReader(data))
	assert.Equal(t, ErrFileExists, errors.Cause(err))
}

func TestUploadCorrupted(t *testing.T) {
	ti := newTestImporter(t)
	defer ti.close()
	meta, data := buildFile(t, "", Pair{[]byte("a"), []byte("1")})

	meta.Crc32++
	err := ti.Upload(meta, bytes.NewReader(data))
	assert.Equal(t, ErrFileCorrupted, errors.Cause(err))

	meta.Crc32--
	err = ti.Upload(meta, bytes.NewReader(data[:len(data)-1]))
	assert.Equal(t, ErrFileCorrupted, errors.Cause(err))

	// Nothing is left behind, not even the temporary file.
	infos, err := ioutil.ReadDir(ti.dir)
	require.Nil(t, err)
	assert.Empty(t, infos)

	// The same uuid can be uploaded again once the content is right.
	require.Nil(t, ti.Upload(meta, bytes.NewReader(data)))
}

func TestIngestMissingFile(t *testing.T) {
	ti := newTestImporter(t)
	defer ti.close()
	meta, _ := buildFile(t, engine_util.CfDefault, Pair{[]byte("a"), []byte("1")})

	err := ti.Ingest(ti.ctx(t), meta)
	assert.Equal(t, ErrFileNotFound, errors.Cause(err))
}

func TestIngestStaleEpoch(t *testing.T) {
	ti := newTestImporter(t)
	defer ti.close()
	meta, data := buildFile(t, engine_util.CfDefault, Pair{[]byte("a"), []byte("1")})
	require.Nil(t, ti.Upload(meta, bytes.NewReader(data)))

	_, err := ti.router.ChangePeer(1, &metapb.Peer{Id: 13, StoreId: 3}, true)
	require.Nil(t, err)

	err = ti.Ingest(ti.ctx(t), meta)
	_, ok := errors.Cause(err).(*region.ErrEpochNotMatch)
	assert.True(t, ok, "%v", err)
	assert.Equal(t, 0, ti.engine.Len(engine_util.CfDefault))
}

func TestIngestKeyOutsideRegion(t *testing.T) {
	ti := newTestImporter(t)
	defer ti.close()
	_, _, err := ti.router.Split(1, []byte("m"), 2, []uint64{21})
	require.Nil(t, err)
	meta, data := buildFile(t, engine_util.CfDefault, Pair{[]byte("a"), []byte("1")}, Pair{[]byte("x"), []byte("2")})
	meta.RegionEpoch.Version = 2
	require.Nil(t, ti.Upload(meta, bytes.NewReader(data)))

	err = ti.Ingest(ti.ctx(t), meta)
	_, ok := errors.Cause(err).(*region.ErrKeyNotInRegion)
	assert.True(t, ok, "%v", err)
	assert.Equal(t, 0, ti.engine.Len(engine_util.CfDefault))
}

func TestCleanupOnSplit(t *testing.T) {
	ti := newTestImporter(t)
	defer ti.close()
	meta, data := buildFile(t, engine_util.CfDefault, Pair{[]byte("a"), []byte("1")})
	require.Nil(t, ti.Upload(meta, bytes.NewReader(data)))

	_, _, err := ti.router.Split(1, []byte("m"), 2, []uint64{21})
	require.Nil(t, err)
	ti.cleaner.Flush()

	metas, err := ti.List()
	require.Nil(t, err)
	assert.Empty(t, metas)
}

func TestCleanupOnMerge(t *testing.T) {
	ti := newTestImporter(t)
	defer ti.close()
	_, _, err := ti.router.Split(1, []byte("m"), 2, []uint64{21})
	require.Nil(t, err)
	ti.cleaner.Flush()

	meta, data := buildFile(t, engine_util.CfDefault, Pair{[]byte("a"), []byte("1")})
	meta.RegionEpoch.Version = 2
	require.Nil(t, ti.Upload(meta, bytes.NewReader(data)))

	_, err = ti.router.Merge(1, 2)
	require.Nil(t, err)
	ti.cleaner.Flush()

	metas, err := ti.List()
	require.Nil(t, err)
	assert.Empty(t, metas)
}

func TestIngestRegionNotFound(t *testing.T) {
	ti := newTestImporter(t)
	defer ti.close()
	meta, data := buildFile(t, engine_util.CfDefault, Pair{[]byte("a"), []byte("1")})
	meta.RegionId = 1 << 31
	require.Nil(t, ti.Upload(meta, bytes.NewReader(data)))

	ctx := ti.ctx(t)
	ctx.RegionId = meta.RegionId
	err := ti.Ingest(ctx, meta)
	_, ok := errors.Cause(err).(*region.ErrRegionNotFound)
	assert.True(t, ok, "%v", err)
	assert.Equal(t, 0, ti.engine.Len(engine_util.CfDefault))
}

func TestRegionChangesDoNotWaitForCleanup(t *testing.T) {
	ti := newTestImporter(t)
	defer ti.close()
	meta, data := buildFile(t, engine_util.CfDefault, Pair{[]byte("a"), []byte("1")})
	require.Nil(t, ti.Upload(meta, bytes.NewReader(data)))

	// Hold up the cleanup worker so its queue fills.
	ti.mu.Lock()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := uint64(0); i < 200; i++ {
			_, _, err := ti.router.Split(1, []byte{byte(200 - i)}, 1000+i, []uint64{2000 + i})
			assert.Nil(t, err)
		}
	}()
	select {
	case <-done:
		ti.mu.Unlock()
	case <-time.After(5 * time.Second):
		ti.mu.Unlock()
		t.Fatal("region changes blocked on a busy cleanup worker")
	}

	// Cleanups that did get queued still see the latest regions.
	ti.cleaner.Flush()
	metas, err := ti.List()
	require.Nil(t, err)
	assert.Empty(t, metas)
}

func TestDelete(t *testing.T) {
	ti := newTestImporter(t)
	defer ti.close()
	meta, data := buildFile(t, engine_util.CfLock, Pair{[]byte("a"), []byte("1")})
	require.Nil(t, ti.Upload(meta, bytes.NewReader(data)))

	require.Nil(t, ti.Delete(meta))
	require.Nil(t, ti.Delete(meta))
	metas, err := ti.List()
	require.Nil(t, err)
	assert.Empty(t, metas)
}

func TestFileName(t *testing.T) {
	meta, _ := buildFile(t, engine_util.CfWrite)
	name, err := fileName(meta)
	require.Nil(t, err)
	parsed, err := parseFileName(name)
	require.Nil(t, err)
	assert.Equal(t, meta.Uuid, parsed.Uuid)
	assert.Equal(t, meta.RegionId, parsed.RegionId)
	assert.Equal(t, meta.RegionEpoch, parsed.RegionEpoch)
	assert.Equal(t, meta.CfName, parsed.CfName)

	for _, bad := range []string{"x.sst", "a_1_1_1_default.sst", uuid.New().String() + "_1_1_1_nope.sst", name + ".tmp"} {
		_, err := parseFileName(bad)
		assert.Equal(t, ErrInvalidSSTPath, errors.Cause(err), bad)
	}

	meta.Uuid = []byte{1, 2, 3}
	_, err = fileName(meta)
	assert.Equal(t, ErrInvalidSSTMeta, errors.Cause(err))
}

func TestReadFileRoundTrip(t *testing.T) {
	dir, err := ioutil.TempDir("", "txnkv-import-file")
	require.Nil(t, err)
	defer os.RemoveAll(dir)
	pairs := []Pair{{[]byte("k1"), []byte("v1")}, {[]byte(""), []byte("empty key")}, {[]byte("k3"), nil}}

	var buf bytes.Buffer
	_, _, err = WriteFile(&buf, pairs)
	require.Nil(t, err)
	path := filepath.Join(dir, "f")
	require.Nil(t, ioutil.WriteFile(path, buf.Bytes(), 0644))

	read, err := readFile(path)
	require.Nil(t, err)
	require.Len(t, read, 3)
	assert.Equal(t, []byte("k1"), read[0].Key)
	assert.Equal(t, []byte("empty key"), read[1].Value)
	assert.Empty(t, read[2].Value)

	require.Nil(t, ioutil.WriteFile(path, buf.Bytes()[:buf.Len()-1], 0644))
	_, err = readFile(path)
	assert.Equal(t, ErrFileCorrupted, errors.Cause(err))
}
