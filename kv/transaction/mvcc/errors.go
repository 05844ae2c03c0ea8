package mvcc

import (
	"fmt"
	"strings"

	"github.com/pingcap/errors"
)

// ErrKeyIsLocked means a key is locked by another transaction.
type ErrKeyIsLocked struct {
	Key  []byte
	Lock *Lock
}

func (e *ErrKeyIsLocked) Error() string {
	return fmt.Sprintf("key %q is locked by txn %d, primary %q, ttl %d", e.Key, e.Lock.Ts, e.Lock.Primary, e.Lock.Ttl)
}

// ErrWriteConflict means a write record newer than the transaction's start timestamp exists, or the key is
// locked by a transaction writing it.
type ErrWriteConflict struct {
	StartTs    uint64
	ConflictTs uint64
	Key        []byte
	Primary    []byte
}

func (e *ErrWriteConflict) Error() string {
	return fmt.Sprintf("write conflict on key %q, txn %d conflicts with %d, primary %q", e.Key, e.StartTs, e.ConflictTs, e.Primary)
}

// ErrAlreadyRolledBack means the transaction has been rolled back on this key.
type ErrAlreadyRolledBack struct {
	StartTs uint64
	Key     []byte
}

func (e *ErrAlreadyRolledBack) Error() string {
	return fmt.Sprintf("txn %d has been rolled back on key %q", e.StartTs, e.Key)
}

// ErrTxnLockNotFound means the lock a commit expected is gone and the transaction left no write.
type ErrTxnLockNotFound struct {
	StartTs uint64
	Key     []byte
}

func (e *ErrTxnLockNotFound) Error() string {
	return fmt.Sprintf("lock of txn %d on key %q not found", e.StartTs, e.Key)
}

// ErrAlreadyCommitted means a rollback found the transaction committed.
type ErrAlreadyCommitted struct {
	StartTs  uint64
	CommitTs uint64
	Key      []byte
}

func (e *ErrAlreadyCommitted) Error() string {
	return fmt.Sprintf("txn %d has been committed at %d on key %q", e.StartTs, e.CommitTs, e.Key)
}

// KeyErrors collects the per-key errors of a command that failed on more than one key.
type KeyErrors []error

func (e KeyErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// IsConflict reports whether err is a transactional conflict: the command was valid but lost against another
// transaction, and the client has to resolve or abort.
func IsConflict(err error) bool {
	switch errors.Cause(err).(type) {
	case *ErrKeyIsLocked, *ErrWriteConflict, *ErrAlreadyRolledBack, *ErrTxnLockNotFound, *ErrAlreadyCommitted, KeyErrors:
		return true
	}
	return false
}
