// Package enginetest holds the behaviour every storage.Engine must share.
package enginetest

import (
	"fmt"
	"testing"

	"github.com/pingcap-incubator/txnkv/kv/storage"
	"github.com/pingcap-incubator/txnkv/kv/util/engine_util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunEngineTests runs the shared engine checks. newEngine must return an empty engine; it is closed by the caller
// of each sub-test.
func RunEngineTests(t *testing.T, newEngine func(t *testing.T) storage.Engine) {
	cases := []struct {
		name string
		fn   func(t *testing.T, engine storage.Engine)
	}{
		{"PointReadAndDelete", testPointReadAndDelete},
		{"ColumnFamiliesAreSeparate", testColumnFamiliesAreSeparate},
		{"SnapshotIsolation", testSnapshotIsolation},
		{"IteratorSeek", testIteratorSeek},
		{"Scan", testScan},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			engine := newEngine(t)
			defer engine.Close()
			c.fn(t, engine)
		})
	}
}

func mustWrite(t *testing.T, engine storage.Engine, fill func(wb *engine_util.WriteBatch)) {
	wb := new(engine_util.WriteBatch)
	fill(wb)
	require.Nil(t, engine.Write(wb))
}

func testPointReadAndDelete(t *testing.T, engine storage.Engine) {
	mustWrite(t, engine, func(wb *engine_util.WriteBatch) {
		wb.SetCF(engine_util.CfDefault, []byte("a"), []byte("a1"))
		wb.SetCF(engine_util.CfDefault, []byte("b"), []byte("b1"))
		wb.SetCF(engine_util.CfDefault, []byte("e"), []byte("e1"))
		wb.DeleteCF(engine_util.CfDefault, []byte("e"))
	})

	val, err := engine.GetCF(engine_util.CfDefault, []byte("a"))
	require.Nil(t, err)
	assert.Equal(t, []byte("a1"), val)

	val, err = engine.GetCF(engine_util.CfDefault, []byte("e"))
	require.Nil(t, err)
	assert.Nil(t, val)

	val, err = engine.GetCF(engine_util.CfDefault, []byte("missing"))
	require.Nil(t, err)
	assert.Nil(t, val)

	mustWrite(t, engine, func(wb *engine_util.WriteBatch) {
		wb.DeleteCF(engine_util.CfDefault, []byte("a"))
		wb.SetCF(engine_util.CfDefault, []byte("b"), []byte("b2"))
	})
	val, err = engine.GetCF(engine_util.CfDefault, []byte("a"))
	require.Nil(t, err)
	assert.Nil(t, val)
	val, err = engine.GetCF(engine_util.CfDefault, []byte("b"))
	require.Nil(t, err)
	assert.Equal(t, []byte("b2"), val)
}

func testColumnFamiliesAreSeparate(t *testing.T, engine storage.Engine) {
	mustWrite(t, engine, func(wb *engine_util.WriteBatch) {
		wb.SetCF(engine_util.CfDefault, []byte("k"), []byte("default"))
		wb.SetCF(engine_util.CfWrite, []byte("k"), []byte("write"))
		wb.SetCF(engine_util.CfLock, []byte("k"), []byte("lock"))
		wb.SetCF(engine_util.CfLock, []byte("z"), []byte("lock"))
	})
	for _, cf := range engine_util.CFs {
		val, err := engine.GetCF(cf, []byte("k"))
		require.Nil(t, err)
		assert.Equal(t, []byte(cf), val)
	}

	snap, err := engine.Snapshot()
	require.Nil(t, err)
	defer snap.Close()
	iter := snap.IterCF(engine_util.CfWrite)
	defer iter.Close()
	var keys []string
	for iter.Seek(nil); iter.Valid(); iter.Next() {
		keys = append(keys, string(iter.Item().KeyCopy(nil)))
	}
	assert.Equal(t, []string{"k"}, keys)
}

func testSnapshotIsolation(t *testing.T, engine storage.Engine) {
	mustWrite(t, engine, func(wb *engine_util.WriteBatch) {
		wb.SetCF(engine_util.CfLock, []byte("a"), []byte("v1"))
	})
	snap, err := engine.Snapshot()
	require.Nil(t, err)
	defer snap.Close()

	mustWrite(t, engine, func(wb *engine_util.WriteBatch) {
		wb.SetCF(engine_util.CfLock, []byte("a"), []byte("v2"))
		wb.SetCF(engine_util.CfLock, []byte("b"), []byte("v2"))
	})

	val, err := snap.GetCF(engine_util.CfLock, []byte("a"))
	require.Nil(t, err)
	assert.Equal(t, []byte("v1"), val)
	val, err = snap.GetCF(engine_util.CfLock, []byte("b"))
	require.Nil(t, err)
	assert.Nil(t, val)

	val, err = engine.GetCF(engine_util.CfLock, []byte("a"))
	require.Nil(t, err)
	assert.Equal(t, []byte("v2"), val)
}

func testIteratorSeek(t *testing.T, engine storage.Engine) {
	mustWrite(t, engine, func(wb *engine_util.WriteBatch) {
		for i := 0; i < 10; i += 2 {
			wb.SetCF(engine_util.CfDefault, []byte(fmt.Sprintf("k%d", i)), []byte(fmt.Sprintf("v%d", i)))
		}
	})
	snap, err := engine.Snapshot()
	require.Nil(t, err)
	defer snap.Close()
	iter := snap.IterCF(engine_util.CfDefault)
	defer iter.Close()

	iter.Seek([]byte("k3"))
	require.True(t, iter.Valid())
	assert.Equal(t, []byte("k4"), iter.Item().Key())
	val, err := iter.Item().ValueCopy(nil)
	require.Nil(t, err)
	assert.Equal(t, []byte("v4"), val)

	iter.Next()
	require.True(t, iter.Valid())
	assert.Equal(t, []byte("k6"), iter.Item().Key())

	iter.Seek([]byte("k9"))
	assert.False(t, iter.Valid())
}

func testScan(t *testing.T, engine storage.Engine) {
	mustWrite(t, engine, func(wb *engine_util.WriteBatch) {
		for _, k := range []string{"a", "b", "c", "d"} {
			wb.SetCF(engine_util.CfWrite, []byte(k), []byte(k))
		}
		wb.SetCF(engine_util.CfDefault, []byte("bb"), []byte("other cf"))
	})
	var keys []string
	err := engine.Scan(engine_util.CfWrite, []byte("b"), []byte("d"), func(key, value []byte) bool {
		keys = append(keys, string(key))
		return true
	})
	require.Nil(t, err)
	assert.Equal(t, []string{"b", "c"}, keys)

	keys = keys[:0]
	err = engine.Scan(engine_util.CfWrite, nil, nil, func(key, value []byte) bool {
		keys = append(keys, string(key))
		return len(keys) < 2
	})
	require.Nil(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)
}
