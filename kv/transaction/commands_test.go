package transaction

// This file contains utility code for testing commands.

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/pingcap-incubator/txnkv/kv/config"
	"github.com/pingcap-incubator/txnkv/kv/region"
	"github.com/pingcap-incubator/txnkv/kv/server"
	"github.com/pingcap-incubator/txnkv/kv/storage"
	"github.com/pingcap-incubator/txnkv/kv/storage/region_storage"
	"github.com/pingcap-incubator/txnkv/kv/transaction/mvcc"
	"github.com/pingcap-incubator/txnkv/kv/transaction/scheduler"
	"github.com/pingcap-incubator/txnkv/kv/util/codec"
	"github.com/pingcap-incubator/txnkv/kv/util/engine_util"
	"github.com/pingcap/kvproto/pkg/kvrpcpb"
	"github.com/pingcap/kvproto/pkg/metapb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBuilder is a helper type for running command tests.
type testBuilder struct {
	t      *testing.T
	server *server.Server
	// mem will always be the backing engine for server.
	mem     *storage.MemEngine
	router  *region.Router
	storage *region_storage.RegionStorage
	// Keep track of timestamps.
	prevTs uint64
}

// kv is a type which identifies a key/value pair to testBuilder.
type kv struct {
	cf string
	// The user key (unencoded, no time stamp).
	key []byte
	// Can be elided. The builder's prevTS will be used if the ts is needed.
	ts uint64
	// Can be elided in assertion functions. If elided then testBuilder checks that the key is present.
	value []byte
}

func newBuilder(t *testing.T) *testBuilder {
	router := region.NewRouter(1)
	require.Nil(t, router.Bootstrap(&metapb.Region{
		Id:          1,
		RegionEpoch: &metapb.RegionEpoch{ConfVer: 1, Version: 1},
		Peers:       []*metapb.Peer{{Id: 1, StoreId: 1}},
	}))
	mem := storage.NewMemEngine()
	rs := region_storage.NewRegionStorage(mem, router)
	require.Nil(t, rs.Start())
	sched, err := scheduler.NewScheduler(rs, &config.NewTestConfig().Scheduler)
	require.Nil(t, err)
	sched.Latches().Validation = func(txn *mvcc.MvccTxn, keys [][]byte) {
		keyMap := make(map[string]struct{})
		for _, k := range keys {
			keyMap[string(k)] = struct{}{}
		}
		for _, wr := range txn.Writes() {
			key := wr.Key()
			switch wr.Cf() {
			case engine_util.CfDefault, engine_util.CfWrite:
				// Raw commands write plain keys to these column families too.
				if userKey, _, err := codec.DecodeKey(key); err == nil {
					key = userKey
				}
			}
			if _, ok := keyMap[string(key)]; !ok {
				t.Errorf("Failed latching validation: tried to write a key which was not latched in %v", wr.Data)
			}
		}
	}
	builder := &testBuilder{t: t, server: server.NewServer(sched), mem: mem, router: router, storage: rs, prevTs: 99}
	return builder
}

func (builder *testBuilder) stop() {
	builder.server.Scheduler().Stop()
	builder.storage.Stop()
}

// init sets values in the test's DB.
func (builder *testBuilder) init(values []kv) {
	for _, kv := range values {
		ts := kv.ts
		if ts == 0 {
			ts = builder.prevTs
		}
		switch kv.cf {
		case engine_util.CfDefault, engine_util.CfWrite:
			builder.mem.Set(kv.cf, codec.EncodeKey(kv.key, ts), kv.value)
		case engine_util.CfLock:
			builder.mem.Set(kv.cf, kv.key, kv.value)
		}
	}
}

// runRequests calls the Server method named after each request's type. A request without a context gets the
// current context of region 1.
func (builder *testBuilder) runRequests(reqs ...interface{}) []interface{} {
	var result []interface{}
	for _, req := range reqs {
		reqName := fmt.Sprintf("%v", reflect.TypeOf(req))
		reqName = strings.TrimPrefix(strings.TrimSuffix(reqName, "Request"), "*kvrpcpb.")
		fnName := "Kv" + reqName
		serverVal := reflect.ValueOf(builder.server)
		fn := serverVal.MethodByName(fnName)
		require.True(builder.t, fn.IsValid(), "no method %s", fnName)

		reqVal := reflect.ValueOf(req)
		ctxField := reqVal.Elem().FieldByName("Context")
		if ctxField.IsNil() {
			regionCtx, err := builder.router.Context(1)
			require.Nil(builder.t, err)
			ctxField.Set(reflect.ValueOf(regionCtx))
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		results := fn.Call([]reflect.Value{reflect.ValueOf(ctx), reqVal})
		cancel()

		assert.Nil(builder.t, results[1].Interface())
		result = append(result, results[0].Interface())
	}
	return result
}

// runCleanup runs req through KvCleanupWithCurrentTs, which is not reachable by request type alone.
func (builder *testBuilder) runCleanup(req *kvrpcpb.CleanupRequest, currentTs uint64) *kvrpcpb.CleanupResponse {
	if req.Context == nil {
		regionCtx, err := builder.router.Context(1)
		require.Nil(builder.t, err)
		req.Context = regionCtx
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := builder.server.KvCleanupWithCurrentTs(ctx, req, currentTs)
	assert.Nil(builder.t, err)
	return resp
}

// runOneRequest is like runRequests but only runs a single request.
func (builder *testBuilder) runOneRequest(req interface{}) interface{} {
	return builder.runRequests(req)[0]
}

func (builder *testBuilder) nextTs() uint64 {
	builder.prevTs++
	return builder.prevTs
}

// ts returns the most recent timestamp used by testBuilder.
func (builder *testBuilder) ts() uint64 {
	return builder.prevTs
}

// assert that a key/value pair exists and has the given value, or if there is no value that it exists.
func (builder *testBuilder) assert(kvs []kv) {
	for _, kv := range kvs {
		var key []byte
		ts := kv.ts
		if ts == 0 {
			ts = builder.prevTs
		}
		switch kv.cf {
		case engine_util.CfDefault, engine_util.CfWrite:
			key = codec.EncodeKey(kv.key, ts)
		case engine_util.CfLock:
			key = kv.key
		}
		if kv.value == nil {
			assert.NotNil(builder.t, builder.mem.Get(kv.cf, key), "missing %s key %v", kv.cf, kv.key)
		} else {
			assert.Equal(builder.t, kv.value, builder.mem.Get(kv.cf, key))
		}
	}
}

// assertLen asserts the size of one of the column families.
func (builder *testBuilder) assertLen(cf string, size int) {
	assert.Equal(builder.t, size, builder.mem.Len(cf))
}

// assertLens asserts the size of each column family.
func (builder *testBuilder) assertLens(def int, lock int, write int) {
	builder.assertLen(engine_util.CfDefault, def)
	builder.assertLen(engine_util.CfLock, lock)
	builder.assertLen(engine_util.CfWrite, write)
}

// lockValue encodes the lock of a put by txn startTs with primary key {1}.
func lockValue(startTs uint64, ttl uint64, value []byte) []byte {
	lock := mvcc.Lock{Primary: []byte{1}, Ts: startTs, Ttl: ttl, Kind: mvcc.WriteKindPut}
	if len(value) <= mvcc.ShortValueMaxLen {
		lock.ShortValue = value
	}
	return lock.ToBytes()
}

func writeValue(kind mvcc.WriteKind, startTs uint64, value []byte) []byte {
	write := mvcc.Write{StartTS: startTs, Kind: kind, ShortValue: value}
	return write.ToBytes()
}

// longValue returns a value too long to be inlined in a lock or write record.
func longValue(b byte) []byte {
	value := make([]byte, mvcc.ShortValueMaxLen+1)
	for i := range value {
		value[i] = b
	}
	return value
}

func (builder *testBuilder) getRequest(key []byte, version uint64) *kvrpcpb.GetRequest {
	var req kvrpcpb.GetRequest
	req.Key = key
	req.Version = version
	return &req
}

func (builder *testBuilder) prewriteRequest(muts ...*kvrpcpb.Mutation) *kvrpcpb.PrewriteRequest {
	var req kvrpcpb.PrewriteRequest
	req.PrimaryLock = []byte{1}
	req.StartVersion = builder.nextTs()
	req.Mutations = muts
	return &req
}

func mutation(key byte, value []byte, op kvrpcpb.Op) *kvrpcpb.Mutation {
	var mut kvrpcpb.Mutation
	mut.Key = []byte{key}
	mut.Value = value
	mut.Op = op
	return &mut
}

func (builder *testBuilder) commitRequest(keys ...[]byte) *kvrpcpb.CommitRequest {
	var req kvrpcpb.CommitRequest
	req.StartVersion = builder.nextTs()
	req.CommitVersion = builder.prevTs + 10
	req.Keys = keys
	return &req
}

func (builder *testBuilder) rollbackRequest(keys ...[]byte) *kvrpcpb.BatchRollbackRequest {
	var req kvrpcpb.BatchRollbackRequest
	req.StartVersion = builder.nextTs()
	req.Keys = keys
	return &req
}

func (builder *testBuilder) cleanupRequest(key []byte) *kvrpcpb.CleanupRequest {
	var req kvrpcpb.CleanupRequest
	req.StartVersion = builder.nextTs()
	req.Key = key
	return &req
}

func resolveRequest(startTs uint64, commitTs uint64) *kvrpcpb.ResolveLockRequest {
	var req kvrpcpb.ResolveLockRequest
	req.StartVersion = startTs
	req.CommitVersion = commitTs
	return &req
}

func (builder *testBuilder) scanRequest(startKey []byte, limit uint32) *kvrpcpb.ScanRequest {
	var req kvrpcpb.ScanRequest
	req.StartKey = startKey
	req.Limit = limit
	req.Version = builder.nextTs()
	return &req
}
