package scheduler

import (
	"github.com/pingcap-incubator/txnkv/kv/region"
	"github.com/pingcap-incubator/txnkv/kv/transaction/mvcc"
)

// ErrorKind sorts the outcome of a command by what the caller has to do about it.
type ErrorKind int

const (
	// Success means the command ran and its writes, if any, are applied.
	Success ErrorKind = iota
	// Conflict means the command lost against another transaction. Nothing was written; the client resolves
	// the conflict at the transaction level.
	Conflict
	// Retryable means the routing information of the command is stale. Nothing was written; the client
	// refreshes its view of the region and submits again.
	Retryable
	// Fatal covers engine failures, corrupted data and invalid requests.
	Fatal
)

func (k ErrorKind) String() string {
	switch k {
	case Success:
		return "success"
	case Conflict:
		return "conflict"
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	}
	return "unknown"
}

// Classify returns the kind of err. A nil error is a Success.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return Success
	case mvcc.IsConflict(err):
		return Conflict
	case region.IsRegionError(err):
		return Retryable
	}
	return Fatal
}

// Result is the outcome of one command, delivered exactly once.
type Result struct {
	// Value is command specific, see the commands package. It is only meaningful for a Success.
	Value interface{}
	Err   error
	Kind  ErrorKind
}

func newResult(value interface{}, err error) *Result {
	kind := Classify(err)
	if kind != Success {
		value = nil
	}
	return &Result{Value: value, Err: err, Kind: kind}
}
