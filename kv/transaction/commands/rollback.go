package commands

import (
	"github.com/pingcap-incubator/txnkv/kv/transaction/mvcc"
	"github.com/pingcap/kvproto/pkg/kvrpcpb"
)

// Rollback aborts a transaction on a set of keys.
type Rollback struct {
	CommandBase
	request *kvrpcpb.BatchRollbackRequest
}

func NewRollback(request *kvrpcpb.BatchRollbackRequest) *Rollback {
	return &Rollback{
		CommandBase: CommandBase{
			context: request.Context,
			startTs: request.StartVersion,
		},
		request: request,
	}
}

func (r *Rollback) Kind() string {
	return "rollback"
}

func (r *Rollback) PrepareWrites(txn *mvcc.MvccTxn) (interface{}, error) {
	if err := checkKeys(txn, r.request.Keys); err != nil {
		return nil, err
	}
	for _, k := range r.request.Keys {
		if err := rollbackKey(k, txn); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (r *Rollback) WillWrite() [][]byte {
	return r.request.Keys
}
