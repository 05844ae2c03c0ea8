package storage

import (
	"bytes"
	"sync"

	"github.com/google/btree"
	"github.com/pingcap-incubator/txnkv/kv/util/engine_util"
	"github.com/pingcap/errors"
)

const memBTreeDegree = 32

// MemEngine is an Engine backed by one btree per column family. Snapshots are copy-on-write clones, so they are
// cheap and never block writers for long. Data does not survive a restart.
type MemEngine struct {
	mu     sync.RWMutex
	cfs    map[string]*btree.BTree
	closed bool
}

func NewMemEngine() *MemEngine {
	cfs := make(map[string]*btree.BTree, len(engine_util.CFs))
	for _, cf := range engine_util.CFs {
		cfs[cf] = btree.New(memBTreeDegree)
	}
	return &MemEngine{cfs: cfs}
}

var errMemEngineClosed = errors.New("mem engine is closed")

func (me *MemEngine) GetCF(cf string, key []byte) ([]byte, error) {
	me.mu.RLock()
	defer me.mu.RUnlock()
	if me.closed {
		return nil, errMemEngineClosed
	}
	tree, err := me.tree(cf)
	if err != nil {
		return nil, err
	}
	return getFromTree(tree, key), nil
}

func (me *MemEngine) Scan(cf string, start, end []byte, fn func(key, value []byte) bool) error {
	snap, err := me.Snapshot()
	if err != nil {
		return err
	}
	defer snap.Close()
	return ScanReader(snap, cf, start, end, fn)
}

func (me *MemEngine) Write(batch *engine_util.WriteBatch) error {
	me.mu.Lock()
	defer me.mu.Unlock()
	if me.closed {
		return errMemEngineClosed
	}
	for _, entry := range batch.Entries() {
		if _, err := me.tree(entry.CF); err != nil {
			return err
		}
	}
	for _, entry := range batch.Entries() {
		tree := me.cfs[entry.CF]
		key := append([]byte{}, entry.RawKey()...)
		if entry.Delete {
			tree.Delete(memItem{key: key})
			continue
		}
		tree.ReplaceOrInsert(memItem{key: key, value: append([]byte(nil), entry.Value...)})
	}
	return nil
}

func (me *MemEngine) Snapshot() (Reader, error) {
	// Clone must not race with writers on the source tree.
	me.mu.Lock()
	defer me.mu.Unlock()
	if me.closed {
		return nil, errMemEngineClosed
	}
	cfs := make(map[string]*btree.BTree, len(me.cfs))
	for cf, tree := range me.cfs {
		cfs[cf] = tree.Clone()
	}
	return &memReader{cfs: cfs}, nil
}

func (me *MemEngine) Close() error {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.closed = true
	return nil
}

// Set writes a value directly, bypassing batches. Used to seed tests.
func (me *MemEngine) Set(cf string, key []byte, value []byte) {
	wb := new(engine_util.WriteBatch)
	wb.SetCF(cf, key, value)
	if err := me.Write(wb); err != nil {
		panic(err)
	}
}

// Get reads a value directly, nil if absent.
func (me *MemEngine) Get(cf string, key []byte) []byte {
	val, err := me.GetCF(cf, key)
	if err != nil {
		panic(err)
	}
	return val
}

func (me *MemEngine) Len(cf string) int {
	me.mu.RLock()
	defer me.mu.RUnlock()
	if tree, ok := me.cfs[cf]; ok {
		return tree.Len()
	}
	return 0
}

func (me *MemEngine) tree(cf string) (*btree.BTree, error) {
	tree, ok := me.cfs[cf]
	if !ok {
		return nil, errors.Errorf("unknown column family %q", cf)
	}
	return tree, nil
}

func getFromTree(tree *btree.BTree, key []byte) []byte {
	result := tree.Get(memItem{key: key})
	if result == nil {
		return nil
	}
	return result.(memItem).value
}

type memReader struct {
	cfs map[string]*btree.BTree
}

func (mr *memReader) GetCF(cf string, key []byte) ([]byte, error) {
	tree, ok := mr.cfs[cf]
	if !ok {
		return nil, errors.Errorf("unknown column family %q", cf)
	}
	return getFromTree(tree, key), nil
}

func (mr *memReader) IterCF(cf string) engine_util.DBIterator {
	tree, ok := mr.cfs[cf]
	if !ok {
		tree = btree.New(2)
	}
	return &memIter{data: tree}
}

func (mr *memReader) Close() {}

type memIter struct {
	data  *btree.BTree
	item  memItem
	valid bool
}

func (it *memIter) Item() engine_util.DBItem {
	return engine_util.NewKVItem(it.item.key, it.item.value)
}

func (it *memIter) Valid() bool {
	return it.valid
}

func (it *memIter) Next() {
	first := true
	oldItem := it.item
	it.item, it.valid = memItem{}, false
	it.data.AscendGreaterOrEqual(oldItem, func(item btree.Item) bool {
		// Skip the item we're already looking at.
		if first {
			first = false
			if bytes.Equal(item.(memItem).key, oldItem.key) {
				return true
			}
		}
		it.item, it.valid = item.(memItem), true
		return false
	})
}

func (it *memIter) Seek(key []byte) {
	it.item, it.valid = memItem{}, false
	it.data.AscendGreaterOrEqual(memItem{key: key}, func(item btree.Item) bool {
		it.item, it.valid = item.(memItem), true
		return false
	})
}

func (it *memIter) Close() {}

type memItem struct {
	key   []byte
	value []byte
}

func (it memItem) Less(than btree.Item) bool {
	return bytes.Compare(it.key, than.(memItem).key) < 0
}
