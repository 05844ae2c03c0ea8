package region

import (
	"fmt"

	"github.com/pingcap/errors"
	"github.com/pingcap/kvproto/pkg/metapb"
)

type ErrNotLeader struct {
	RegionId uint64
	Leader   *metapb.Peer
}

func (e *ErrNotLeader) Error() string {
	return fmt.Sprintf("region %v is not leader", e.RegionId)
}

type ErrRegionNotFound struct {
	RegionId uint64
}

func (e *ErrRegionNotFound) Error() string {
	return fmt.Sprintf("region %v is not found", e.RegionId)
}

type ErrKeyNotInRegion struct {
	Key    []byte
	Region *metapb.Region
}

func (e *ErrKeyNotInRegion) Error() string {
	return fmt.Sprintf("key %q is not in region %v", e.Key, e.Region)
}

type ErrEpochNotMatch struct {
	Message string
	Regions []*metapb.Region
}

func (e *ErrEpochNotMatch) Error() string {
	return fmt.Sprintf("epoch not match, error msg %v, regions %v", e.Message, e.Regions)
}

// ErrStaleCommand means the term or epoch a request was admitted under has moved on.
type ErrStaleCommand struct {
	RegionId uint64
}

func (e *ErrStaleCommand) Error() string {
	return fmt.Sprintf("stale command for region %v", e.RegionId)
}

type ErrStoreNotMatch struct {
	RequestStoreId uint64
	ActualStoreId  uint64
}

func (e *ErrStoreNotMatch) Error() string {
	return fmt.Sprintf("store not match, request store id is %v, but actual store id is %v", e.RequestStoreId, e.ActualStoreId)
}

// IsRegionError reports whether err means the caller's routing information is stale. Such errors are
// retryable after the caller refreshes its view of the region.
func IsRegionError(err error) bool {
	switch errors.Cause(err).(type) {
	case *ErrNotLeader, *ErrRegionNotFound, *ErrKeyNotInRegion, *ErrEpochNotMatch, *ErrStaleCommand, *ErrStoreNotMatch:
		return true
	}
	return false
}
