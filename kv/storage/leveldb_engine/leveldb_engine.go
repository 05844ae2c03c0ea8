package leveldb_engine

import (
	"github.com/pingcap-incubator/txnkv/kv/config"
	"github.com/pingcap-incubator/txnkv/kv/storage"
	"github.com/pingcap-incubator/txnkv/kv/util/engine_util"
	"github.com/pingcap/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBEngine stores every column family in one goleveldb DB, keys prefixed by CF name.
type LevelDBEngine struct {
	db        *leveldb.DB
	writeOpts *opt.WriteOptions
}

func NewLevelDBEngine(conf *config.Engine) (*LevelDBEngine, error) {
	db, err := leveldb.OpenFile(conf.DBPath, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &LevelDBEngine{db: db, writeOpts: &opt.WriteOptions{Sync: conf.SyncWrites}}, nil
}

func (le *LevelDBEngine) GetCF(cf string, key []byte) ([]byte, error) {
	return get(le.db.Get, cf, key)
}

func (le *LevelDBEngine) Scan(cf string, start, end []byte, fn func(key, value []byte) bool) error {
	snap, err := le.Snapshot()
	if err != nil {
		return err
	}
	defer snap.Close()
	return storage.ScanReader(snap, cf, start, end, fn)
}

func (le *LevelDBEngine) Write(batch *engine_util.WriteBatch) error {
	if batch.Len() == 0 {
		return nil
	}
	b := new(leveldb.Batch)
	for _, entry := range batch.Entries() {
		if entry.Delete {
			b.Delete(entry.Key)
		} else {
			b.Put(entry.Key, entry.Value)
		}
	}
	return errors.WithStack(le.db.Write(b, le.writeOpts))
}

func (le *LevelDBEngine) Snapshot() (storage.Reader, error) {
	snap, err := le.db.GetSnapshot()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &levelDBReader{snap: snap}, nil
}

func (le *LevelDBEngine) Close() error {
	return errors.WithStack(le.db.Close())
}

func get(getFn func(key []byte, ro *opt.ReadOptions) ([]byte, error), cf string, key []byte) ([]byte, error) {
	value, err := getFn(engine_util.KeyWithCF(cf, key), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return value, nil
}

type levelDBReader struct {
	snap *leveldb.Snapshot
}

func (lr *levelDBReader) GetCF(cf string, key []byte) ([]byte, error) {
	return get(lr.snap.Get, cf, key)
}

func (lr *levelDBReader) IterCF(cf string) engine_util.DBIterator {
	prefix := engine_util.CFPrefix(cf)
	return &levelDBIterator{
		iter:   lr.snap.NewIterator(&util.Range{Start: prefix, Limit: engine_util.CFUpperBound(cf)}, nil),
		prefix: prefix,
	}
}

func (lr *levelDBReader) Close() {
	lr.snap.Release()
}

type levelDBIterator struct {
	iter   iterator.Iterator
	prefix []byte
}

func (it *levelDBIterator) Item() engine_util.DBItem {
	return engine_util.NewKVItem(it.iter.Key()[len(it.prefix):], it.iter.Value())
}

func (it *levelDBIterator) Valid() bool { return it.iter.Valid() }

func (it *levelDBIterator) Next() {
	it.iter.Next()
}

func (it *levelDBIterator) Seek(key []byte) {
	it.iter.Seek(append(append([]byte(nil), it.prefix...), key...))
}

func (it *levelDBIterator) Close() {
	it.iter.Release()
}
