package pebble_engine

import (
	"io"

	"github.com/cockroachdb/pebble"
	"github.com/pingcap-incubator/txnkv/kv/config"
	"github.com/pingcap-incubator/txnkv/kv/storage"
	"github.com/pingcap-incubator/txnkv/kv/util/engine_util"
	"github.com/pingcap/errors"
)

// PebbleEngine stores every column family in one pebble DB, keys prefixed by CF name.
type PebbleEngine struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions
}

func NewPebbleEngine(conf *config.Engine) (*PebbleEngine, error) {
	db, err := pebble.Open(conf.DBPath, &pebble.Options{})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	writeOpts := pebble.NoSync
	if conf.SyncWrites {
		writeOpts = pebble.Sync
	}
	return &PebbleEngine{db: db, writeOpts: writeOpts}, nil
}

func (pe *PebbleEngine) GetCF(cf string, key []byte) ([]byte, error) {
	return get(pe.db.Get, cf, key)
}

func (pe *PebbleEngine) Scan(cf string, start, end []byte, fn func(key, value []byte) bool) error {
	snap, err := pe.Snapshot()
	if err != nil {
		return err
	}
	defer snap.Close()
	return storage.ScanReader(snap, cf, start, end, fn)
}

func (pe *PebbleEngine) Write(batch *engine_util.WriteBatch) error {
	if batch.Len() == 0 {
		return nil
	}
	b := pe.db.NewBatch()
	defer b.Close()
	for _, entry := range batch.Entries() {
		var err error
		if entry.Delete {
			err = b.Delete(entry.Key, nil)
		} else {
			err = b.Set(entry.Key, entry.Value, nil)
		}
		if err != nil {
			return errors.WithStack(err)
		}
	}
	return errors.WithStack(pe.db.Apply(b, pe.writeOpts))
}

func (pe *PebbleEngine) Snapshot() (storage.Reader, error) {
	return &pebbleReader{snap: pe.db.NewSnapshot()}, nil
}

func (pe *PebbleEngine) Close() error {
	return errors.WithStack(pe.db.Close())
}

func get(getFn func(key []byte) ([]byte, io.Closer, error), cf string, key []byte) ([]byte, error) {
	value, closer, err := getFn(engine_util.KeyWithCF(cf, key))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer closer.Close()
	v := make([]byte, len(value))
	copy(v, value)
	return v, nil
}

type pebbleReader struct {
	snap *pebble.Snapshot
}

func (pr *pebbleReader) GetCF(cf string, key []byte) ([]byte, error) {
	return get(pr.snap.Get, cf, key)
}

func (pr *pebbleReader) IterCF(cf string) engine_util.DBIterator {
	prefix := engine_util.CFPrefix(cf)
	return &pebbleIterator{
		iter: pr.snap.NewIter(&pebble.IterOptions{
			LowerBound: prefix,
			UpperBound: engine_util.CFUpperBound(cf),
		}),
		prefix: prefix,
	}
}

func (pr *pebbleReader) Close() {
	pr.snap.Close()
}

type pebbleIterator struct {
	iter   *pebble.Iterator
	prefix []byte
}

func (it *pebbleIterator) Item() engine_util.DBItem {
	return engine_util.NewKVItem(it.iter.Key()[len(it.prefix):], it.iter.Value())
}

func (it *pebbleIterator) Valid() bool { return it.iter.Valid() }

func (it *pebbleIterator) Next() {
	it.iter.Next()
}

func (it *pebbleIterator) Seek(key []byte) {
	it.iter.SeekGE(append(append([]byte(nil), it.prefix...), key...))
}

func (it *pebbleIterator) Close() {
	it.iter.Close()
}
