package region

import (
	"bytes"
	"fmt"

	"github.com/gogo/protobuf/proto"
	"github.com/pingcap/kvproto/pkg/metapb"
)

/// Check if key in region range [`start_key`, `end_key`).
func CheckKeyInRegion(key []byte, region *metapb.Region) error {
	if bytes.Compare(key, region.StartKey) >= 0 && (len(region.EndKey) == 0 || bytes.Compare(key, region.EndKey) < 0) {
		return nil
	}
	return &ErrKeyNotInRegion{Key: key, Region: region}
}

/// Check if key in region range (`start_key`, `end_key`).
func CheckKeyInRegionExclusive(key []byte, region *metapb.Region) error {
	if bytes.Compare(region.StartKey, key) < 0 && (len(region.EndKey) == 0 || bytes.Compare(key, region.EndKey) < 0) {
		return nil
	}
	return &ErrKeyNotInRegion{Key: key, Region: region}
}

/// check whether epoch is staler than check_epoch.
func IsEpochStale(epoch *metapb.RegionEpoch, checkEpoch *metapb.RegionEpoch) bool {
	return epoch.Version < checkEpoch.Version || epoch.ConfVer < checkEpoch.ConfVer
}

// CheckRegionEpoch compares the epoch a request carries with the current one. Data requests only care about
// the version, membership changes also compare the conf version.
func CheckRegionEpoch(fromEpoch *metapb.RegionEpoch, region *metapb.Region, checkConfVer bool) error {
	if fromEpoch == nil {
		return &ErrEpochNotMatch{Message: "missing epoch", Regions: []*metapb.Region{CloneRegion(region)}}
	}
	currentEpoch := region.RegionEpoch
	if (checkConfVer && fromEpoch.ConfVer != currentEpoch.ConfVer) || fromEpoch.Version != currentEpoch.Version {
		return &ErrEpochNotMatch{
			Message: fmt.Sprintf("current epoch of region %v is %v, but you sent %v", region.Id, currentEpoch, fromEpoch),
			Regions: []*metapb.Region{CloneRegion(region)},
		}
	}
	return nil
}

func EpochEqual(l, r *metapb.RegionEpoch) bool {
	return l.Version == r.Version && l.ConfVer == r.ConfVer
}

func FindPeer(region *metapb.Region, storeID uint64) *metapb.Peer {
	for _, peer := range region.Peers {
		if peer.StoreId == storeID {
			return peer
		}
	}
	return nil
}

func PeerEqual(l, r *metapb.Peer) bool {
	return l.Id == r.Id && l.StoreId == r.StoreId
}

func RegionEqual(l, r *metapb.Region) bool {
	if l == nil || r == nil {
		return false
	}
	return l.Id == r.Id && EpochEqual(l.RegionEpoch, r.RegionEpoch)
}

func CloneRegion(region *metapb.Region) *metapb.Region {
	return proto.Clone(region).(*metapb.Region)
}
