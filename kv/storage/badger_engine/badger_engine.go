package badger_engine

import (
	"os"

	"github.com/coocood/badger"
	"github.com/pingcap-incubator/txnkv/kv/config"
	"github.com/pingcap-incubator/txnkv/kv/storage"
	"github.com/pingcap-incubator/txnkv/kv/util/engine_util"
	"github.com/pingcap/errors"
)

// BadgerEngine stores every column family in one badger DB, keys prefixed by CF name.
type BadgerEngine struct {
	db   *badger.DB
	path string
}

// NewBadgerEngine opens (creating when needed) a badger DB under conf.DBPath.
func NewBadgerEngine(conf *config.Engine) (*BadgerEngine, error) {
	opts := badger.DefaultOptions
	opts.Dir = conf.DBPath
	opts.ValueDir = conf.DBPath
	opts.ValueThreshold = conf.ValueThreshold
	opts.MaxTableSize = int64(conf.MaxTableSize)
	opts.NumCompactors = conf.NumCompactors
	opts.SyncWrites = conf.SyncWrites
	if err := os.MkdirAll(opts.Dir, os.ModePerm); err != nil {
		return nil, errors.WithStack(err)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &BadgerEngine{db: db, path: conf.DBPath}, nil
}

func (be *BadgerEngine) GetCF(cf string, key []byte) (val []byte, err error) {
	err = be.db.View(func(txn *badger.Txn) error {
		val, err = getCFFromTxn(txn, cf, key)
		return err
	})
	return
}

func (be *BadgerEngine) Scan(cf string, start, end []byte, fn func(key, value []byte) bool) error {
	snap, err := be.Snapshot()
	if err != nil {
		return err
	}
	defer snap.Close()
	return storage.ScanReader(snap, cf, start, end, fn)
}

func (be *BadgerEngine) Write(batch *engine_util.WriteBatch) error {
	if batch.Len() == 0 {
		return nil
	}
	err := be.db.Update(func(txn *badger.Txn) error {
		for _, entry := range batch.Entries() {
			var err1 error
			if entry.Delete {
				err1 = txn.Delete(entry.Key)
			} else {
				err1 = txn.Set(entry.Key, entry.Value)
			}
			if err1 != nil {
				return err1
			}
		}
		return nil
	})
	return errors.WithStack(err)
}

func (be *BadgerEngine) Snapshot() (storage.Reader, error) {
	return &badgerReader{txn: be.db.NewTransaction(false)}, nil
}

func (be *BadgerEngine) Close() error {
	return errors.WithStack(be.db.Close())
}

// Destroy closes the engine and removes its files.
func (be *BadgerEngine) Destroy() error {
	if err := be.Close(); err != nil {
		return err
	}
	return errors.WithStack(os.RemoveAll(be.path))
}

func getCFFromTxn(txn *badger.Txn, cf string, key []byte) ([]byte, error) {
	item, err := txn.Get(engine_util.KeyWithCF(cf, key))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return item.ValueCopy(nil)
}

type badgerReader struct {
	txn *badger.Txn
}

func (br *badgerReader) GetCF(cf string, key []byte) ([]byte, error) {
	return getCFFromTxn(br.txn, cf, key)
}

func (br *badgerReader) IterCF(cf string) engine_util.DBIterator {
	return newCFIterator(cf, br.txn)
}

func (br *badgerReader) Close() {
	br.txn.Discard()
}

type cfItem struct {
	item      *badger.Item
	prefixLen int
}

func (i *cfItem) Key() []byte {
	return i.item.Key()[i.prefixLen:]
}

func (i *cfItem) KeyCopy(dst []byte) []byte {
	return engine_util.SafeCopy(dst, i.item.Key()[i.prefixLen:])
}

func (i *cfItem) Value() ([]byte, error) {
	return i.item.Value()
}

func (i *cfItem) ValueSize() int {
	return i.item.ValueSize()
}

func (i *cfItem) ValueCopy(dst []byte) ([]byte, error) {
	return i.item.ValueCopy(dst)
}

type cfIterator struct {
	iter   *badger.Iterator
	prefix []byte
}

func newCFIterator(cf string, txn *badger.Txn) *cfIterator {
	return &cfIterator{
		iter:   txn.NewIterator(badger.DefaultIteratorOptions),
		prefix: engine_util.CFPrefix(cf),
	}
}

func (it *cfIterator) Item() engine_util.DBItem {
	return &cfItem{
		item:      it.iter.Item(),
		prefixLen: len(it.prefix),
	}
}

func (it *cfIterator) Valid() bool { return it.iter.ValidForPrefix(it.prefix) }

func (it *cfIterator) Close() {
	it.iter.Close()
}

func (it *cfIterator) Next() {
	it.iter.Next()
}

func (it *cfIterator) Seek(key []byte) {
	it.iter.Seek(append(append([]byte(nil), it.prefix...), key...))
}
