package commands

import (
	"github.com/pingcap-incubator/txnkv/kv/transaction/mvcc"
	"github.com/pingcap/kvproto/pkg/kvrpcpb"
)

// Cleanup rolls back a single key of a transaction, usually the primary of a transaction another client found
// blocking it. With a non-zero current ts the lock is only removed once its ttl has run out.
type Cleanup struct {
	CommandBase
	request   *kvrpcpb.CleanupRequest
	currentTs uint64
}

// NewCleanup rolls back the lock whatever its ttl.
func NewCleanup(request *kvrpcpb.CleanupRequest) *Cleanup {
	return NewCleanupWithCurrentTs(request, 0)
}

// NewCleanupWithCurrentTs keeps a lock that has not expired at currentTs. Zero disables the ttl check.
func NewCleanupWithCurrentTs(request *kvrpcpb.CleanupRequest, currentTs uint64) *Cleanup {
	return &Cleanup{
		CommandBase: CommandBase{
			context: request.Context,
			startTs: request.StartVersion,
		},
		request:   request,
		currentTs: currentTs,
	}
}

func (c *Cleanup) Kind() string {
	return "cleanup"
}

func (c *Cleanup) PrepareWrites(txn *mvcc.MvccTxn) (interface{}, error) {
	key := c.request.Key
	if err := txn.CheckKey(key); err != nil {
		return nil, err
	}

	if currentTs := c.currentTs; currentTs != 0 {
		lock, err := txn.GetLock(key)
		if err != nil {
			return nil, err
		}
		if lock != nil && lock.Ts == txn.StartTS && !lock.IsExpired(currentTs) {
			return nil, &mvcc.ErrKeyIsLocked{Key: key, Lock: lock}
		}
	}

	if err := rollbackKey(key, txn); err != nil {
		return nil, err
	}
	return nil, nil
}

func (c *Cleanup) WillWrite() [][]byte {
	return [][]byte{c.request.Key}
}
