package commands

import (
	"github.com/pingcap-incubator/txnkv/kv/transaction/mvcc"
	"github.com/pingcap/errors"
	"github.com/pingcap/kvproto/pkg/kvrpcpb"
)

// Prewrite represents the prewrite stage of a transaction. A prewrite contains all writes (but not reads) in a transaction,
// if the whole transaction can be written to underlying storage atomically and without conflicting with other
// transactions (complete or in-progress) then success is returned to the client. If all a client's prewrites succeed,
// then it will send a commit message. I.e., prewrite is the first phase in a two phase commit.
//
// A prewrite is all or nothing: when any key conflicts nothing is written and every key error found is returned
// together as mvcc.KeyErrors.
type Prewrite struct {
	CommandBase
	request *kvrpcpb.PrewriteRequest
}

func NewPrewrite(request *kvrpcpb.PrewriteRequest) *Prewrite {
	return &Prewrite{
		CommandBase: CommandBase{
			context: request.Context,
			startTs: request.StartVersion,
		},
		request: request,
	}
}

func (p *Prewrite) Kind() string {
	return "prewrite"
}

func (p *Prewrite) PrepareWrites(txn *mvcc.MvccTxn) (interface{}, error) {
	var keyErrors mvcc.KeyErrors
	// Prewrite all mutations in the request.
	for _, m := range p.request.Mutations {
		if err := txn.CheckKey(m.Key); err != nil {
			return nil, err
		}
		if err := p.prewriteMutation(txn, m); err != nil {
			if !mvcc.IsConflict(err) {
				return nil, err
			}
			keyErrors = append(keyErrors, err)
		}
	}
	if len(keyErrors) > 0 {
		return nil, keyErrors
	}
	return nil, nil
}

// prewriteMutation prewrites mut to txn. It returns nil on success or when the key is already locked by this
// transaction, a conflict error if the key is locked by another transaction or has a newer write, and any other
// error if an internal error occurs.
func (p *Prewrite) prewriteMutation(txn *mvcc.MvccTxn, mut *kvrpcpb.Mutation) error {
	key := mut.Key
	kind, err := WriteKindFromMutation(mut.Op)
	if err != nil {
		return err
	}

	// Check if key is locked.
	if existingLock, err := txn.GetLock(key); err != nil {
		return err
	} else if existingLock != nil {
		if existingLock.Ts != txn.StartTS {
			// Key is locked by someone else.
			return &mvcc.ErrKeyIsLocked{Key: key, Lock: existingLock}
		}
		// Key is locked by us.
		return nil
	}

	// Check for write conflicts. A rollback marker at our own start ts counts too.
	if write, commitTs, err := txn.MostRecentWrite(key); err != nil {
		return err
	} else if write != nil && commitTs >= txn.StartTS {
		return &mvcc.ErrWriteConflict{
			StartTs:    txn.StartTS,
			ConflictTs: commitTs,
			Key:        key,
			Primary:    p.request.PrimaryLock,
		}
	}

	// Write a lock and value.
	lock := mvcc.Lock{
		Primary: p.request.PrimaryLock,
		Ts:      txn.StartTS,
		Kind:    kind,
		Ttl:     p.request.LockTtl,
	}
	if kind == mvcc.WriteKindPut {
		if len(mut.Value) <= mvcc.ShortValueMaxLen {
			lock.ShortValue = append([]byte{}, mut.Value...)
		} else {
			txn.PutValue(key, mut.Value)
		}
	}
	txn.PutLock(key, &lock)

	return nil
}

func (p *Prewrite) WillWrite() [][]byte {
	result := [][]byte{}
	for _, m := range p.request.Mutations {
		result = append(result, m.Key)
	}
	return result
}

// WriteKindFromMutation returns the lock kind a mutation prewrites. Only puts, deletes and locks can be prewritten.
func WriteKindFromMutation(op kvrpcpb.Op) (mvcc.WriteKind, error) {
	kind, err := mvcc.WriteKindFromProto(op)
	if err != nil {
		return 0, err
	}
	if kind == mvcc.WriteKindRollback {
		return 0, errors.Errorf("commands: cannot prewrite a %v mutation", op)
	}
	return kind, nil
}
