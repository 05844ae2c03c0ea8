package region_storage

import (
	"sync"
	"time"

	"github.com/pingcap-incubator/txnkv/kv/region"
	"github.com/pingcap-incubator/txnkv/kv/storage"
	"github.com/pingcap-incubator/txnkv/kv/util/engine_util"
	"github.com/pingcap/errors"
	"github.com/pingcap/failpoint"
	"github.com/pingcap/kvproto/pkg/kvrpcpb"
	"github.com/pingcap/kvproto/pkg/metapb"
	"go.uber.org/atomic"
)

var ErrStorageStopped = errors.New("region storage is stopped")

// snapshotPauseFailpoint delays snapshots once enabled: `pause` holds them until it is disabled, `return(ms)`
// sleeps for ms milliseconds.
const snapshotPauseFailpoint = "github.com/pingcap-incubator/txnkv/kv/storage/region_storage/asyncSnapshotPause"

// RegionStorage serves snapshots and writes for the regions a Router knows about, on top of one local
// Engine. A snapshot is bound to the region epoch and term it was requested under.
type RegionStorage struct {
	engine storage.Engine
	router *region.Router

	hookMu       sync.RWMutex
	snapshotHook func(ctx *kvrpcpb.Context)

	lifeMu  sync.Mutex
	wg      sync.WaitGroup
	stopped atomic.Bool
}

func NewRegionStorage(engine storage.Engine, router *region.Router) *RegionStorage {
	return &RegionStorage{
		engine: engine,
		router: router,
	}
}

func (rs *RegionStorage) Start() error {
	rs.stopped.Store(false)
	return nil
}

// Stop waits for snapshots in flight. It does not close the engine.
func (rs *RegionStorage) Stop() error {
	rs.lifeMu.Lock()
	rs.stopped.Store(true)
	rs.lifeMu.Unlock()
	rs.wg.Wait()
	return nil
}

func (rs *RegionStorage) Engine() storage.Engine {
	return rs.engine
}

func (rs *RegionStorage) Router() *region.Router {
	return rs.router
}

// SetSnapshotHook installs fn to run on the snapshot goroutine after the request was admitted and before the
// snapshot is taken. Blocking in fn stalls the snapshot.
func (rs *RegionStorage) SetSnapshotHook(fn func(ctx *kvrpcpb.Context)) {
	rs.hookMu.Lock()
	defer rs.hookMu.Unlock()
	rs.snapshotHook = fn
}

func (rs *RegionStorage) hook() func(ctx *kvrpcpb.Context) {
	rs.hookMu.RLock()
	defer rs.hookMu.RUnlock()
	return rs.snapshotHook
}

func (rs *RegionStorage) AsyncSnapshot(ctx *kvrpcpb.Context, cb storage.SnapshotCallback) {
	binding, err := rs.router.Check(ctx)
	if err != nil {
		cb(nil, err)
		return
	}
	rs.lifeMu.Lock()
	if rs.stopped.Load() {
		rs.lifeMu.Unlock()
		cb(nil, ErrStorageStopped)
		return
	}
	rs.wg.Add(1)
	rs.lifeMu.Unlock()
	go func() {
		defer rs.wg.Done()
		if val, ok := failpoint.Eval(snapshotPauseFailpoint); ok {
			if ms, ok := val.(int); ok {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		}
		if hook := rs.hook(); hook != nil {
			hook(ctx)
		}
		var reader storage.Reader
		err := rs.router.ApplyBound(binding, func() error {
			var err error
			reader, err = rs.engine.Snapshot()
			return err
		})
		if err != nil {
			cb(nil, err)
			return
		}
		cb(&regionSnapshot{reader: reader, binding: binding, router: rs.router}, nil)
	}()
}

// Write applies batch atomically if ctx is still current. A non-zero ctx.Term must equal the region's term.
func (rs *RegionStorage) Write(ctx *kvrpcpb.Context, batch []storage.Modify) error {
	if rs.stopped.Load() {
		return ErrStorageStopped
	}
	wb := storage.ToWriteBatch(batch)
	return rs.router.Apply(ctx, func(*metapb.Region) error {
		return errors.Trace(rs.engine.Write(wb))
	})
}

type regionSnapshot struct {
	reader  storage.Reader
	binding *region.Binding
	router  *region.Router
}

func (s *regionSnapshot) GetCF(cf string, key []byte) ([]byte, error) {
	if err := s.router.Validate(s.binding); err != nil {
		return nil, err
	}
	return s.reader.GetCF(cf, key)
}

func (s *regionSnapshot) IterCF(cf string) engine_util.DBIterator {
	return s.reader.IterCF(cf)
}

func (s *regionSnapshot) Close() {
	s.reader.Close()
}

func (s *regionSnapshot) Region() *metapb.Region {
	return s.binding.Region
}

func (s *regionSnapshot) Term() uint64 {
	return s.binding.Term
}

func (s *regionSnapshot) Validate() error {
	return s.router.Validate(s.binding)
}
