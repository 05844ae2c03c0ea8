package commands

import (
	"github.com/pingcap-incubator/txnkv/kv/transaction/mvcc"
	"github.com/pingcap/kvproto/pkg/kvrpcpb"
)

// Get reads the value of a key visible at a version. It fails with a key-is-locked error when a transaction that
// started at or before the version still holds a lock on the key.
type Get struct {
	ReadOnly
	CommandBase
	request *kvrpcpb.GetRequest
}

func NewGet(request *kvrpcpb.GetRequest) *Get {
	return &Get{
		CommandBase: CommandBase{
			context: request.Context,
			startTs: request.Version,
		},
		request: request,
	}
}

func (g *Get) Kind() string {
	return "get"
}

func (g *Get) Read(txn *mvcc.RoTxn) (interface{}, [][]byte, error) {
	key := g.request.Key
	if err := txn.CheckKey(key); err != nil {
		return nil, nil, err
	}

	// Check for locks.
	lock, err := txn.GetLock(key)
	if err != nil {
		return nil, nil, err
	}
	if lock.IsLockedFor(key, txn.StartTS) {
		return nil, nil, &mvcc.ErrKeyIsLocked{Key: key, Lock: lock}
	}

	// Search writes for a committed value.
	value, err := txn.GetValue(key)
	if err != nil {
		return nil, nil, err
	}
	return &GetResult{Value: value, NotFound: value == nil}, nil, nil
}
