package transaction

import (
	"testing"

	"github.com/pingcap-incubator/txnkv/kv/transaction/mvcc"
	"github.com/pingcap-incubator/txnkv/kv/util/engine_util"
	"github.com/pingcap/kvproto/pkg/kvrpcpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScanEmpty tests a scan after the end of the DB.
func TestScanEmpty(t *testing.T) {
	builder := builderForScan(t)
	defer builder.stop()

	cmd := builder.scanRequest([]byte{200}, 10000)
	resp := builder.runOneRequest(cmd).(*kvrpcpb.ScanResponse)
	assert.Nil(t, resp.RegionError)
	assert.Empty(t, resp.Pairs)
}

// TestScanLimitZero tests we get nothing if limit is 0.
func TestScanLimitZero(t *testing.T) {
	builder := builderForScan(t)
	defer builder.stop()

	cmd := builder.scanRequest([]byte{3}, 0)
	resp := builder.runOneRequest(cmd).(*kvrpcpb.ScanResponse)
	assert.Nil(t, resp.RegionError)
	assert.Empty(t, resp.Pairs)
}

// TestScanAll start at the beginning of the DB and read all pairs, respecting the timestamp.
func TestScanAll(t *testing.T) {
	builder := builderForScan(t)
	defer builder.stop()

	cmd := builder.scanRequest([]byte{0}, 10000)
	resp := builder.runOneRequest(cmd).(*kvrpcpb.ScanResponse)

	assert.Nil(t, resp.RegionError)
	require.Equal(t, 11, len(resp.Pairs))
	assert.Equal(t, []byte{1}, resp.Pairs[0].Key)
	assert.Equal(t, []byte{50}, resp.Pairs[0].Value)
	assert.Equal(t, []byte{3, 45}, resp.Pairs[3].Key)
	assert.Equal(t, longValue(56), resp.Pairs[3].Value)
	assert.Equal(t, []byte{199}, resp.Pairs[10].Key)
	assert.Equal(t, []byte{54}, resp.Pairs[10].Value)
}

// TestScanLimit tests that scan takes the limit into account.
func TestScanLimit(t *testing.T) {
	builder := builderForScan(t)
	defer builder.stop()

	cmd := builder.scanRequest([]byte{2}, 6)
	resp := builder.runOneRequest(cmd).(*kvrpcpb.ScanResponse)

	assert.Nil(t, resp.RegionError)
	require.Equal(t, 6, len(resp.Pairs))
	assert.Equal(t, []byte{3}, resp.Pairs[0].Key)
	assert.Equal(t, []byte{51}, resp.Pairs[0].Value)
	assert.Equal(t, []byte{4}, resp.Pairs[5].Key)
	assert.Equal(t, []byte{52}, resp.Pairs[5].Value)
}

// TestScanDeleted scan over a value which is deleted then replaced.
func TestScanDeleted(t *testing.T) {
	builder := builderForScan(t)
	defer builder.stop()

	req1 := builder.scanRequest([]byte{100}, 10000)
	req1.Version = 100
	req2 := builder.scanRequest([]byte{100}, 10000)
	req2.Version = 105
	req3 := builder.scanRequest([]byte{100}, 10000)
	req3.Version = 120

	resps := builder.runRequests(req1, req2, req3)

	resp1 := resps[0].(*kvrpcpb.ScanResponse)
	assert.Nil(t, resp1.RegionError)
	require.Equal(t, 3, len(resp1.Pairs))
	assert.Equal(t, []byte{150}, resp1.Pairs[1].Key)
	assert.Equal(t, []byte{42}, resp1.Pairs[1].Value)

	resp2 := resps[1].(*kvrpcpb.ScanResponse)
	assert.Nil(t, resp2.RegionError)
	require.Equal(t, 2, len(resp2.Pairs))
	assert.Equal(t, []byte{120}, resp2.Pairs[0].Key)
	assert.Equal(t, []byte{199}, resp2.Pairs[1].Key)

	resp3 := resps[2].(*kvrpcpb.ScanResponse)
	assert.Nil(t, resp3.RegionError)
	require.Equal(t, 3, len(resp3.Pairs))
	assert.Equal(t, []byte{150}, resp3.Pairs[1].Key)
	assert.Equal(t, []byte{64}, resp3.Pairs[1].Value)
}

// TestScanLocked tests a locked key is reported in place and counts towards the limit.
func TestScanLocked(t *testing.T) {
	builder := builderForScan(t)
	defer builder.stop()
	builder.init([]kv{
		{cf: engine_util.CfLock, key: []byte{3}, value: lockValue(90, 0, []byte{9})},
	})

	cmd := builder.scanRequest([]byte{2}, 3)
	resp := builder.runOneRequest(cmd).(*kvrpcpb.ScanResponse)

	assert.Nil(t, resp.RegionError)
	require.Equal(t, 3, len(resp.Pairs))
	require.NotNil(t, resp.Pairs[0].Error)
	require.NotNil(t, resp.Pairs[0].Error.Locked)
	assert.Equal(t, []byte{3}, resp.Pairs[0].Error.Locked.Key)
	assert.Equal(t, []byte{3, 45}, resp.Pairs[1].Key)
	assert.Equal(t, []byte{3, 46}, resp.Pairs[2].Key)
}

// TestScanStopsAtRegionEnd tests a scan never returns keys of another region.
func TestScanStopsAtRegionEnd(t *testing.T) {
	builder := builderForScan(t)
	defer builder.stop()
	_, _, err := builder.router.Split(1, []byte{100}, 2, []uint64{2})
	require.Nil(t, err)

	cmd := builder.scanRequest([]byte{0}, 10000)
	resp := builder.runOneRequest(cmd).(*kvrpcpb.ScanResponse)

	assert.Nil(t, resp.RegionError)
	require.Equal(t, 8, len(resp.Pairs))
	assert.Equal(t, []byte{4}, resp.Pairs[7].Key)
}

func builderForScan(t *testing.T) *testBuilder {
	put := func(key []byte, startTs, commitTs uint64, value []byte) []kv {
		if len(value) > mvcc.ShortValueMaxLen {
			return []kv{
				{engine_util.CfDefault, key, startTs, value},
				{engine_util.CfWrite, key, commitTs, writeValue(mvcc.WriteKindPut, startTs, nil)},
			}
		}
		return []kv{{engine_util.CfWrite, key, commitTs, writeValue(mvcc.WriteKindPut, startTs, value)}}
	}
	var values []kv
	// Committed before 100.
	values = append(values, put([]byte{1}, 80, 99, []byte{50})...)
	values = append(values, put([]byte{1, 23}, 80, 99, []byte{55})...)
	values = append(values, put([]byte{3}, 80, 99, []byte{51})...)
	values = append(values, put([]byte{3, 45}, 80, 99, longValue(56))...)
	values = append(values, put([]byte{3, 46}, 80, 99, []byte{57})...)
	values = append(values, put([]byte{3, 47}, 80, 99, []byte{58})...)
	values = append(values, put([]byte{3, 48}, 80, 99, []byte{59})...)
	values = append(values, put([]byte{4}, 80, 99, []byte{52})...)
	values = append(values, put([]byte{120}, 80, 99, []byte{53})...)
	values = append(values, put([]byte{199}, 80, 99, []byte{54})...)

	// Committed after 100.
	values = append(values, put([]byte{4, 45}, 110, 116, []byte{58})...)
	values = append(values, put([]byte{4, 46}, 110, 116, []byte{57})...)
	values = append(values, put([]byte{4, 47}, 110, 116, []byte{58})...)
	values = append(values, put([]byte{4, 48}, 110, 116, []byte{59})...)

	// Committed after 100, but started before.
	values = append(values, put([]byte{5, 45}, 97, 101, []byte{60})...)
	values = append(values, put([]byte{5, 46}, 97, 101, []byte{61})...)
	values = append(values, put([]byte{5, 47}, 97, 101, []byte{62})...)
	values = append(values, put([]byte{5, 48}, 97, 101, []byte{63})...)

	// A deleted value and replaced value.
	values = append(values, put([]byte{150}, 80, 99, []byte{42})...)
	values = append(values, kv{engine_util.CfWrite, []byte{150}, 101, writeValue(mvcc.WriteKindDelete, 97, nil)})
	values = append(values, put([]byte{150}, 110, 116, []byte{64})...)

	builder := newBuilder(t)
	builder.init(values)
	return builder
}
