package commands

import (
	"github.com/pingcap-incubator/txnkv/kv/transaction/mvcc"
	"github.com/pingcap/kvproto/pkg/kvrpcpb"
)

// Command is an abstraction which covers the process from receiving a request to producing its result. The scheduler
// drives it: WillWrite decides whether latches are needed up front, Read runs against a snapshot without latches and
// PrepareWrites runs against a snapshot taken after every latch is held.
type Command interface {
	Context() *kvrpcpb.Context
	StartTs() uint64
	// Kind names the command in logs and metrics.
	Kind() string
	// WillWrite returns a list of all keys that might be written by this command. Return nil if the command is readonly
	// or can only tell which keys it writes after reading.
	WillWrite() [][]byte
	// Read executes a readonly part of the command. Only called if WillWrite returns nil. If the command needs to write
	// to the DB it should return a non-empty set of keys that the command will write.
	Read(txn *mvcc.RoTxn) (interface{}, [][]byte, error)
	// PrepareWrites is for building writes in an mvcc transaction. Commands can also make non-transactional
	// reads and writes using txn. Returning without modifying txn means that no transaction will be executed.
	// Any error discards every write added to txn.
	PrepareWrites(txn *mvcc.MvccTxn) (interface{}, error)
}

// CommandBase provides some default function implementations for the Command interface.
type CommandBase struct {
	context *kvrpcpb.Context
	startTs uint64
}

func (base CommandBase) Context() *kvrpcpb.Context {
	return base.context
}

func (base CommandBase) StartTs() uint64 {
	return base.startTs
}

func (base CommandBase) Read(txn *mvcc.RoTxn) (interface{}, [][]byte, error) {
	return nil, nil, nil
}

// ReadOnly is a helper type for commands which will never write anything to the database. It provides some default
// function implementations.
type ReadOnly struct{}

func (ro ReadOnly) WillWrite() [][]byte {
	return nil
}

func (ro ReadOnly) PrepareWrites(txn *mvcc.MvccTxn) (interface{}, error) {
	return nil, nil
}

// GetResult is the result of a point read.
type GetResult struct {
	Value    []byte
	NotFound bool
}

// KvPair is one entry of a scan. Err is set instead of Value when the key is locked.
type KvPair struct {
	Key   []byte
	Value []byte
	Err   error
}
