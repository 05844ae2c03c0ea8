package commands

import (
	"github.com/pingcap-incubator/txnkv/kv/transaction/mvcc"
	"github.com/pingcap/errors"
	"github.com/pingcap/kvproto/pkg/kvrpcpb"
)

// Commit is the second phase of a two phase commit. Every key must still hold the transaction's lock or already be
// committed by it; the first key that is neither fails the whole command.
type Commit struct {
	CommandBase
	request *kvrpcpb.CommitRequest
}

func NewCommit(request *kvrpcpb.CommitRequest) *Commit {
	return &Commit{
		CommandBase: CommandBase{
			context: request.Context,
			startTs: request.StartVersion,
		},
		request: request,
	}
}

func (c *Commit) Kind() string {
	return "commit"
}

func (c *Commit) PrepareWrites(txn *mvcc.MvccTxn) (interface{}, error) {
	commitTs := c.request.CommitVersion
	if commitTs <= txn.StartTS {
		return nil, errors.Annotatef(ErrInvalidCommitTs, "start ts %d, commit ts %d", txn.StartTS, commitTs)
	}
	if err := checkKeys(txn, c.request.Keys); err != nil {
		return nil, err
	}

	for _, k := range c.request.Keys {
		if err := commitKey(k, commitTs, txn); err != nil {
			return nil, err
		}
	}

	return nil, nil
}

func (c *Commit) WillWrite() [][]byte {
	return c.request.Keys
}
