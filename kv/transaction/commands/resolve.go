package commands

import (
	"github.com/pingcap-incubator/txnkv/kv/transaction/mvcc"
	"github.com/pingcap/errors"
	"github.com/pingcap/kvproto/pkg/kvrpcpb"
)

// ResolveLock commits (CommitVersion > 0) or rolls back (CommitVersion == 0) every lock of one transaction in the
// region. The locks are found by a read without latches, then each key is resolved again once its latch is held.
type ResolveLock struct {
	CommandBase
	request  *kvrpcpb.ResolveLockRequest
	keyLocks []mvcc.KlPair
}

func NewResolveLock(request *kvrpcpb.ResolveLockRequest) *ResolveLock {
	return &ResolveLock{
		CommandBase: CommandBase{
			context: request.Context,
			startTs: request.StartVersion,
		},
		request: request,
	}
}

func (rl *ResolveLock) Kind() string {
	return "resolve_lock"
}

func (rl *ResolveLock) PrepareWrites(txn *mvcc.MvccTxn) (interface{}, error) {
	commitTs := rl.request.CommitVersion
	if commitTs != 0 && commitTs <= txn.StartTS {
		return nil, errors.Annotatef(ErrInvalidCommitTs, "start ts %d, commit ts %d", txn.StartTS, commitTs)
	}

	for _, kl := range rl.keyLocks {
		if err := txn.CheckKey(kl.Key); err != nil {
			return nil, err
		}
		var err error
		if commitTs == 0 {
			err = rollbackKey(kl.Key, txn)
		} else {
			err = commitKey(kl.Key, commitTs, txn)
		}
		if err != nil {
			return nil, err
		}
	}

	return nil, nil
}

func (rl *ResolveLock) WillWrite() [][]byte {
	return nil
}

func (rl *ResolveLock) Read(txn *mvcc.RoTxn) (interface{}, [][]byte, error) {
	// Find all locks of the transaction in the region.
	var startKey []byte
	if txn.Region != nil {
		startKey = txn.Region.StartKey
	}
	keyLocks, err := mvcc.AllLocksForTxn(txn, startKey, txn.EndKey())
	if err != nil {
		return nil, nil, err
	}
	rl.keyLocks = keyLocks
	keys := [][]byte{}
	for _, kl := range keyLocks {
		keys = append(keys, kl.Key)
	}
	return nil, keys, nil
}
