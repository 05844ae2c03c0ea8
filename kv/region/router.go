package region

import (
	"bytes"
	"sort"
	"sync"

	"github.com/gogo/protobuf/proto"
	"github.com/pingcap/errors"
	"github.com/pingcap/kvproto/pkg/kvrpcpb"
	"github.com/pingcap/kvproto/pkg/metapb"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

type EventKind int

const (
	EventSplit EventKind = iota + 1
	EventMerge
	EventConfChange
	EventLeaderChange
)

func (k EventKind) String() string {
	switch k {
	case EventSplit:
		return "split"
	case EventMerge:
		return "merge"
	case EventConfChange:
		return "conf_change"
	case EventLeaderChange:
		return "leader_change"
	}
	return "unknown"
}

// Event describes a change of region metadata. Regions holds the regions as they are after the change,
// Removed the ids of regions that no longer exist on this store.
type Event struct {
	Kind    EventKind
	Regions []*metapb.Region
	Removed []uint64
}

// Observer is called after a region change took effect, outside of the router lock.
type Observer func(Event)

// Binding pins the region metadata and term a request was admitted under.
type Binding struct {
	Region *metapb.Region
	Term   uint64
}

type regionState struct {
	region *metapb.Region
	leader *metapb.Peer
	term   uint64
}

// Router keeps the regions this store serves together with their leader and term. It stands in for the
// replication layer: admin operations bump the epoch or the term exactly like a replicated change would, and
// requests carrying stale routing information are rejected.
type Router struct {
	storeID uint64

	mu        sync.RWMutex
	regions   map[uint64]*regionState
	observers []Observer
}

func NewRouter(storeID uint64) *Router {
	return &Router{
		storeID: storeID,
		regions: make(map[uint64]*regionState),
	}
}

func (r *Router) StoreID() uint64 {
	return r.storeID
}

// Subscribe registers an observer for region changes.
func (r *Router) Subscribe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Bootstrap adds a region led by this store's peer.
func (r *Router) Bootstrap(region *metapb.Region) error {
	if region.RegionEpoch == nil {
		return errors.Errorf("region %d has no epoch", region.Id)
	}
	leader := FindPeer(region, r.storeID)
	if leader == nil {
		return errors.Errorf("region %d has no peer on store %d", region.Id, r.storeID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, state := range r.regions {
		if state.region.Id == region.Id {
			return errors.Errorf("region %d already exists", region.Id)
		}
		if overlaps(state.region, region) {
			return errors.Errorf("region %d overlaps region %d", region.Id, state.region.Id)
		}
	}
	r.regions[region.Id] = &regionState{
		region: CloneRegion(region),
		leader: proto.Clone(leader).(*metapb.Peer),
		term:   1,
	}
	log.Info("bootstrap region", zap.Uint64("region-id", region.Id), zap.Uint64("store-id", r.storeID))
	return nil
}

func (r *Router) GetRegion(regionID uint64) (*metapb.Region, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.regions[regionID]
	if !ok {
		return nil, &ErrRegionNotFound{RegionId: regionID}
	}
	return CloneRegion(state.region), nil
}

// Leader returns the current leader peer and term of a region.
func (r *Router) Leader(regionID uint64) (*metapb.Peer, uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.regions[regionID]
	if !ok {
		return nil, 0, &ErrRegionNotFound{RegionId: regionID}
	}
	return proto.Clone(state.leader).(*metapb.Peer), state.term, nil
}

// Regions returns every region ordered by start key.
func (r *Router) Regions() []*metapb.Region {
	r.mu.RLock()
	regions := make([]*metapb.Region, 0, len(r.regions))
	for _, state := range r.regions {
		regions = append(regions, CloneRegion(state.region))
	}
	r.mu.RUnlock()
	sort.Slice(regions, func(i, j int) bool {
		return bytes.Compare(regions[i].StartKey, regions[j].StartKey) < 0
	})
	return regions
}

// RegionByKey returns the region containing key.
func (r *Router) RegionByKey(key []byte) (*metapb.Region, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, state := range r.regions {
		if CheckKeyInRegion(key, state.region) == nil {
			return CloneRegion(state.region), nil
		}
	}
	return nil, &ErrKeyNotInRegion{Key: key, Region: &metapb.Region{}}
}

// Context builds a request context that currently passes Check for the region.
func (r *Router) Context(regionID uint64) (*kvrpcpb.Context, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.regions[regionID]
	if !ok {
		return nil, &ErrRegionNotFound{RegionId: regionID}
	}
	return &kvrpcpb.Context{
		RegionId:    regionID,
		RegionEpoch: proto.Clone(state.region.RegionEpoch).(*metapb.RegionEpoch),
		Peer:        proto.Clone(state.leader).(*metapb.Peer),
	}, nil
}

// Check admits a request and returns what it was admitted under.
func (r *Router) Check(ctx *kvrpcpb.Context) (*Binding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, err := r.check(ctx)
	if err != nil {
		return nil, err
	}
	return &Binding{Region: CloneRegion(state.region), Term: state.term}, nil
}

// Validate fails once the binding's region was removed or its term or epoch changed.
func (r *Router) Validate(b *Binding) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.validate(b)
}

// Apply admits ctx and runs fn while no region change can take effect.
func (r *Router) Apply(ctx *kvrpcpb.Context, fn func(region *metapb.Region) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, err := r.check(ctx)
	if err != nil {
		return err
	}
	return fn(state.region)
}

// ApplyBound runs fn while the binding is still current.
func (r *Router) ApplyBound(b *Binding, fn func() error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.validate(b); err != nil {
		return err
	}
	return fn()
}

func (r *Router) check(ctx *kvrpcpb.Context) (*regionState, error) {
	state, ok := r.regions[ctx.RegionId]
	if !ok {
		return nil, &ErrRegionNotFound{RegionId: ctx.RegionId}
	}
	if ctx.Peer != nil && ctx.Peer.StoreId != 0 && ctx.Peer.StoreId != r.storeID {
		return nil, &ErrStoreNotMatch{RequestStoreId: ctx.Peer.StoreId, ActualStoreId: r.storeID}
	}
	if state.leader.StoreId != r.storeID {
		return nil, &ErrNotLeader{RegionId: ctx.RegionId, Leader: proto.Clone(state.leader).(*metapb.Peer)}
	}
	if ctx.Term != 0 && ctx.Term != state.term {
		return nil, &ErrStaleCommand{RegionId: ctx.RegionId}
	}
	if err := CheckRegionEpoch(ctx.RegionEpoch, state.region, false); err != nil {
		return nil, err
	}
	return state, nil
}

func (r *Router) validate(b *Binding) error {
	state, ok := r.regions[b.Region.Id]
	if !ok {
		return &ErrRegionNotFound{RegionId: b.Region.Id}
	}
	if state.term != b.Term || !EpochEqual(state.region.RegionEpoch, b.Region.RegionEpoch) {
		return &ErrStaleCommand{RegionId: b.Region.Id}
	}
	return nil
}

// Split cuts a region at splitKey. The left half keeps the region id, the right half takes newRegionID and
// newPeerIDs, one per existing peer in order. Both halves get a bumped version.
func (r *Router) Split(regionID uint64, splitKey []byte, newRegionID uint64, newPeerIDs []uint64) (*metapb.Region, *metapb.Region, error) {
	r.mu.Lock()
	state, ok := r.regions[regionID]
	if !ok {
		r.mu.Unlock()
		return nil, nil, &ErrRegionNotFound{RegionId: regionID}
	}
	if _, ok := r.regions[newRegionID]; ok {
		r.mu.Unlock()
		return nil, nil, errors.Errorf("region %d already exists", newRegionID)
	}
	if err := CheckKeyInRegionExclusive(splitKey, state.region); err != nil {
		r.mu.Unlock()
		return nil, nil, err
	}
	if len(newPeerIDs) != len(state.region.Peers) {
		r.mu.Unlock()
		return nil, nil, errors.Errorf("split region %d needs %d peer ids, got %d",
			regionID, len(state.region.Peers), len(newPeerIDs))
	}

	left := CloneRegion(state.region)
	left.RegionEpoch.Version++
	right := CloneRegion(left)
	left.EndKey = append([]byte(nil), splitKey...)
	right.Id = newRegionID
	right.StartKey = append([]byte(nil), splitKey...)
	var rightLeader *metapb.Peer
	for i, peer := range right.Peers {
		peer.Id = newPeerIDs[i]
		if peer.StoreId == state.leader.StoreId {
			rightLeader = proto.Clone(peer).(*metapb.Peer)
		}
	}
	state.region = left
	r.regions[newRegionID] = &regionState{region: right, leader: rightLeader, term: state.term}
	observers := r.observers
	r.mu.Unlock()

	log.Info("split region", zap.Uint64("region-id", regionID), zap.Uint64("new-region-id", newRegionID),
		zap.Binary("split-key", splitKey))
	notify(observers, Event{Kind: EventSplit, Regions: []*metapb.Region{CloneRegion(left), CloneRegion(right)}})
	return CloneRegion(left), CloneRegion(right), nil
}

// Merge folds source into the adjacent target region. Source stops existing; target covers both ranges and
// gets a version greater than either.
func (r *Router) Merge(sourceID, targetID uint64) (*metapb.Region, error) {
	r.mu.Lock()
	source, ok := r.regions[sourceID]
	if !ok {
		r.mu.Unlock()
		return nil, &ErrRegionNotFound{RegionId: sourceID}
	}
	target, ok := r.regions[targetID]
	if !ok {
		r.mu.Unlock()
		return nil, &ErrRegionNotFound{RegionId: targetID}
	}
	merged := CloneRegion(target.region)
	switch {
	case len(source.region.EndKey) != 0 && bytes.Equal(source.region.EndKey, target.region.StartKey):
		merged.StartKey = source.region.StartKey
	case len(target.region.EndKey) != 0 && bytes.Equal(target.region.EndKey, source.region.StartKey):
		merged.EndKey = source.region.EndKey
	default:
		r.mu.Unlock()
		return nil, errors.Errorf("regions %d and %d are not adjacent", sourceID, targetID)
	}
	version := merged.RegionEpoch.Version
	if source.region.RegionEpoch.Version > version {
		version = source.region.RegionEpoch.Version
	}
	merged.RegionEpoch.Version = version + 1
	target.region = merged
	delete(r.regions, sourceID)
	observers := r.observers
	r.mu.Unlock()

	log.Info("merge region", zap.Uint64("source", sourceID), zap.Uint64("target", targetID))
	notify(observers, Event{Kind: EventMerge, Regions: []*metapb.Region{CloneRegion(merged)}, Removed: []uint64{sourceID}})
	return CloneRegion(merged), nil
}

// ChangePeer adds or removes a peer and bumps the conf version.
func (r *Router) ChangePeer(regionID uint64, peer *metapb.Peer, add bool) (*metapb.Region, error) {
	r.mu.Lock()
	state, ok := r.regions[regionID]
	if !ok {
		r.mu.Unlock()
		return nil, &ErrRegionNotFound{RegionId: regionID}
	}
	changed := CloneRegion(state.region)
	idx := -1
	for i, p := range changed.Peers {
		if p.Id == peer.Id {
			idx = i
		}
	}
	switch {
	case add && idx >= 0:
		r.mu.Unlock()
		return nil, errors.Errorf("peer %d already in region %d", peer.Id, regionID)
	case add:
		changed.Peers = append(changed.Peers, proto.Clone(peer).(*metapb.Peer))
	case idx < 0:
		r.mu.Unlock()
		return nil, errors.Errorf("peer %d not in region %d", peer.Id, regionID)
	case PeerEqual(changed.Peers[idx], state.leader):
		r.mu.Unlock()
		return nil, errors.Errorf("cannot remove leader peer %d of region %d", peer.Id, regionID)
	default:
		changed.Peers = append(changed.Peers[:idx], changed.Peers[idx+1:]...)
	}
	changed.RegionEpoch.ConfVer++
	state.region = changed
	observers := r.observers
	r.mu.Unlock()

	notify(observers, Event{Kind: EventConfChange, Regions: []*metapb.Region{CloneRegion(changed)}})
	return CloneRegion(changed), nil
}

// TransferLeader hands leadership to peer and starts a new term.
func (r *Router) TransferLeader(regionID uint64, peer *metapb.Peer) (uint64, error) {
	r.mu.Lock()
	state, ok := r.regions[regionID]
	if !ok {
		r.mu.Unlock()
		return 0, &ErrRegionNotFound{RegionId: regionID}
	}
	var target *metapb.Peer
	for _, p := range state.region.Peers {
		if PeerEqual(p, peer) {
			target = p
		}
	}
	if target == nil {
		r.mu.Unlock()
		return 0, errors.Errorf("peer %v not in region %d", peer, regionID)
	}
	state.leader = proto.Clone(target).(*metapb.Peer)
	state.term++
	term := state.term
	region := CloneRegion(state.region)
	observers := r.observers
	r.mu.Unlock()

	log.Info("transfer leader", zap.Uint64("region-id", regionID), zap.Uint64("peer-id", peer.Id),
		zap.Uint64("term", term))
	notify(observers, Event{Kind: EventLeaderChange, Regions: []*metapb.Region{region}})
	return term, nil
}

func notify(observers []Observer, e Event) {
	for _, o := range observers {
		o(e)
	}
}

func overlaps(a, b *metapb.Region) bool {
	aBeforeB := len(a.EndKey) != 0 && bytes.Compare(a.EndKey, b.StartKey) <= 0
	bBeforeA := len(b.EndKey) != 0 && bytes.Compare(b.EndKey, a.StartKey) <= 0
	return !aBeforeB && !bBeforeA
}
