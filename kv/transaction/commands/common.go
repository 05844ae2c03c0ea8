package commands

import (
	"github.com/pingcap-incubator/txnkv/kv/transaction/mvcc"
	"github.com/pingcap/errors"
)

// commitKey turns the lock of txn on key into a write at commitTs. A key whose lock is already gone is fine when the
// transaction committed it, and a conflict otherwise.
func commitKey(key []byte, commitTs uint64, txn *mvcc.MvccTxn) error {
	lock, err := txn.GetLock(key)
	if err != nil {
		return err
	}

	if lock == nil || lock.Ts != txn.StartTS {
		// There is no lock of ours, check for an earlier commit or a rollback.
		write, _, err := txn.CurrentWrite(key)
		if err != nil {
			return err
		}
		if write == nil {
			return &mvcc.ErrTxnLockNotFound{StartTs: txn.StartTS, Key: key}
		}
		if write.Kind == mvcc.WriteKindRollback {
			return &mvcc.ErrAlreadyRolledBack{StartTs: txn.StartTS, Key: key}
		}
		// The key has already been committed. This could happen if the client crashes after a commit,
		// re-sending a committed request is fine.
		return nil
	}

	write := mvcc.Write{StartTS: txn.StartTS, Kind: lock.Kind, ShortValue: lock.ShortValue}
	txn.PutWrite(key, commitTs, &write)
	txn.DeleteLock(key)

	return nil
}

// rollbackKey removes the lock of txn on key and leaves a rollback marker at the start timestamp, so a late prewrite
// of the same transaction can not bring the key back.
func rollbackKey(key []byte, txn *mvcc.MvccTxn) error {
	lock, err := txn.GetLock(key)
	if err != nil {
		return err
	}

	if lock == nil || lock.Ts != txn.StartTS {
		// There is no lock of ours, check the key's history.
		existingWrite, commitTs, err := txn.CurrentWrite(key)
		if err != nil {
			return err
		}
		if existingWrite != nil {
			if existingWrite.Kind == mvcc.WriteKindRollback {
				// The key has already been rolled back, so nothing to do.
				return nil
			}
			// The key has already been committed. This should not happen since the client should never send both
			// commit and rollback requests.
			return &mvcc.ErrAlreadyCommitted{StartTs: txn.StartTS, CommitTs: commitTs, Key: key}
		}
		// Never prewritten, or the prewrite has not arrived yet.
		txn.PutWrite(key, txn.StartTS, &mvcc.Write{StartTS: txn.StartTS, Kind: mvcc.WriteKindRollback})
		return nil
	}

	if lock.Kind == mvcc.WriteKindPut && lock.ShortValue == nil {
		txn.DeleteValue(key)
	}
	txn.PutWrite(key, txn.StartTS, &mvcc.Write{StartTS: txn.StartTS, Kind: mvcc.WriteKindRollback})
	txn.DeleteLock(key)

	return nil
}

func checkKeys(txn *mvcc.MvccTxn, keys [][]byte) error {
	for _, key := range keys {
		if err := txn.CheckKey(key); err != nil {
			return err
		}
	}
	return nil
}

// ErrInvalidCommitTs is returned for a commit timestamp that is not after the start timestamp.
var ErrInvalidCommitTs = errors.New("commands: commit ts must be greater than start ts")
