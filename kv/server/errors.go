package server

import (
	"github.com/pingcap-incubator/txnkv/kv/region"
	"github.com/pingcap-incubator/txnkv/kv/transaction/mvcc"
	"github.com/pingcap/errors"
	"github.com/pingcap/kvproto/pkg/errorpb"
	"github.com/pingcap/kvproto/pkg/kvrpcpb"
)

// RegionErrToPbError converts a staleness error into the protocol's region error.
func RegionErrToPbError(e error) *errorpb.Error {
	ret := new(errorpb.Error)
	switch err := errors.Cause(e).(type) {
	case *region.ErrNotLeader:
		ret.NotLeader = &errorpb.NotLeader{RegionId: err.RegionId, Leader: err.Leader}
	case *region.ErrRegionNotFound:
		ret.RegionNotFound = &errorpb.RegionNotFound{RegionId: err.RegionId}
	case *region.ErrKeyNotInRegion:
		ret.KeyNotInRegion = &errorpb.KeyNotInRegion{Key: err.Key, RegionId: err.Region.Id,
			StartKey: err.Region.StartKey, EndKey: err.Region.EndKey}
	case *region.ErrEpochNotMatch:
		ret.EpochNotMatch = &errorpb.EpochNotMatch{CurrentRegions: err.Regions}
	case *region.ErrStaleCommand:
		ret.StaleCommand = &errorpb.StaleCommand{}
	case *region.ErrStoreNotMatch:
		ret.StoreNotMatch = &errorpb.StoreNotMatch{RequestStoreId: err.RequestStoreId, ActualStoreId: err.ActualStoreId}
	}
	ret.Message = e.Error()
	return ret
}

// KeyErrToPb converts a transactional conflict into the protocol's key error.
func KeyErrToPb(e error) *kvrpcpb.KeyError {
	ret := new(kvrpcpb.KeyError)
	switch err := errors.Cause(e).(type) {
	case *mvcc.ErrKeyIsLocked:
		ret.Locked = err.Lock.Info(err.Key)
	case *mvcc.ErrWriteConflict:
		ret.Conflict = &kvrpcpb.WriteConflict{
			StartTs:    err.StartTs,
			ConflictTs: err.ConflictTs,
			Key:        err.Key,
			Primary:    err.Primary,
		}
	default:
		ret.Abort = e.Error()
	}
	return ret
}

// keyErrsToPb flattens a multi-key conflict.
func keyErrsToPb(e error) []*kvrpcpb.KeyError {
	if errs, ok := errors.Cause(e).(mvcc.KeyErrors); ok {
		ret := make([]*kvrpcpb.KeyError, 0, len(errs))
		for _, err := range errs {
			ret = append(ret, KeyErrToPb(err))
		}
		return ret
	}
	return []*kvrpcpb.KeyError{KeyErrToPb(e)}
}
