package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pingcap-incubator/txnkv/kv/config"
	"github.com/pingcap-incubator/txnkv/kv/region"
	"github.com/pingcap-incubator/txnkv/kv/storage"
	"github.com/pingcap-incubator/txnkv/kv/storage/region_storage"
	"github.com/pingcap-incubator/txnkv/kv/transaction/commands"
	"github.com/pingcap-incubator/txnkv/kv/transaction/mvcc"
	"github.com/pingcap-incubator/txnkv/kv/util/engine_util"
	"github.com/pingcap/errors"
	"github.com/pingcap/kvproto/pkg/kvrpcpb"
	"github.com/pingcap/kvproto/pkg/metapb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type testCluster struct {
	sched   *Scheduler
	storage *region_storage.RegionStorage
	engine  *storage.MemEngine
	router  *region.Router
}

func newTestCluster(t *testing.T, cfg *config.Scheduler) *testCluster {
	if cfg == nil {
		cfg = &config.NewTestConfig().Scheduler
	}
	router := region.NewRouter(1)
	require.Nil(t, router.Bootstrap(&metapb.Region{
		Id:          1,
		RegionEpoch: &metapb.RegionEpoch{ConfVer: 1, Version: 1},
		Peers:       []*metapb.Peer{{Id: 11, StoreId: 1}, {Id: 12, StoreId: 2}},
	}))
	engine := storage.NewMemEngine()
	rs := region_storage.NewRegionStorage(engine, router)
	require.Nil(t, rs.Start())
	sched, err := NewScheduler(rs, cfg)
	require.Nil(t, err)
	return &testCluster{sched: sched, storage: rs, engine: engine, router: router}
}

func (c *testCluster) stop() {
	c.sched.Stop()
	c.storage.Stop()
}

func (c *testCluster) ctx(t *testing.T) *kvrpcpb.Context {
	ctx, err := c.router.Context(1)
	require.Nil(t, err)
	return ctx
}

func (c *testCluster) run(t *testing.T, cmd commands.Command) *Result {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := c.sched.Execute(ctx, cmd)
	require.Nil(t, err)
	return res
}

func (c *testCluster) prewrite(t *testing.T, key, value []byte, startTs uint64) commands.Command {
	return commands.NewPrewrite(&kvrpcpb.PrewriteRequest{
		Context:      c.ctx(t),
		Mutations:    []*kvrpcpb.Mutation{{Op: kvrpcpb.Op_Put, Key: key, Value: value}},
		PrimaryLock:  key,
		StartVersion: startTs,
		LockTtl:      3000,
	})
}

func (c *testCluster) commit(t *testing.T, key []byte, startTs, commitTs uint64) commands.Command {
	return commands.NewCommit(&kvrpcpb.CommitRequest{
		Context:       c.ctx(t),
		StartVersion:  startTs,
		Keys:          [][]byte{key},
		CommitVersion: commitTs,
	})
}

func (c *testCluster) get(t *testing.T, key []byte, version uint64) commands.Command {
	return commands.NewGet(&kvrpcpb.GetRequest{Context: c.ctx(t), Key: key, Version: version})
}

// hookCmd is a command that runs fn in its write phase.
type hookCmd struct {
	ctx  *kvrpcpb.Context
	keys [][]byte
	fn   func()
}

func (p *hookCmd) Context() *kvrpcpb.Context { return p.ctx }
func (p *hookCmd) StartTs() uint64           { return 0 }
func (p *hookCmd) Kind() string              { return "hook" }
func (p *hookCmd) WillWrite() [][]byte       { return p.keys }
func (p *hookCmd) Read(txn *mvcc.RoTxn) (interface{}, [][]byte, error) {
	return nil, nil, nil
}
func (p *hookCmd) PrepareWrites(txn *mvcc.MvccTxn) (interface{}, error) {
	p.fn()
	return nil, nil
}

func TestPrewriteCommitRead(t *testing.T) {
	c := newTestCluster(t, nil)
	defer c.stop()
	k1 := []byte("k1")

	res := c.run(t, c.prewrite(t, k1, []byte("a"), 10))
	require.Equal(t, Success, res.Kind, "%v", res.Err)
	res = c.run(t, c.commit(t, k1, 10, 11))
	require.Equal(t, Success, res.Kind, "%v", res.Err)

	res = c.run(t, c.get(t, k1, 11))
	require.Equal(t, Success, res.Kind, "%v", res.Err)
	assert.Equal(t, &commands.GetResult{Value: []byte("a")}, res.Value)

	res = c.run(t, c.get(t, k1, 10))
	require.Equal(t, Success, res.Kind, "%v", res.Err)
	assert.True(t, res.Value.(*commands.GetResult).NotFound)

	assert.Equal(t, 0, c.engine.Len(engine_util.CfLock))
	assert.Equal(t, 1, c.engine.Len(engine_util.CfWrite))
	assert.Equal(t, uint64(4), c.sched.Delivered())
}

func TestConcurrentPrewritesOnOneKey(t *testing.T) {
	c := newTestCluster(t, nil)
	defer c.stop()
	key := []byte("k")

	cb1, cb2 := NewCallback(), NewCallback()
	c.sched.Submit(c.prewrite(t, key, []byte("v10"), 10), cb1)
	c.sched.Submit(c.prewrite(t, key, []byte("v20"), 20), cb2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res1, err := cb1.Wait(ctx)
	require.Nil(t, err)
	res2, err := cb2.Wait(ctx)
	require.Nil(t, err)

	kinds := []ErrorKind{res1.Kind, res2.Kind}
	assert.ElementsMatch(t, []ErrorKind{Success, Conflict}, kinds)
	loser := res1
	if res1.Kind == Success {
		loser = res2
	}
	keyErrs, ok := errors.Cause(loser.Err).(mvcc.KeyErrors)
	require.True(t, ok)
	require.Len(t, keyErrs, 1)
	_, locked := keyErrs[0].(*mvcc.ErrKeyIsLocked)
	assert.True(t, locked)
	assert.Equal(t, 1, c.engine.Len(engine_util.CfLock))
}

func TestSnapshotStaleAfterLeaderChanges(t *testing.T) {
	c := newTestCluster(t, nil)
	defer c.stop()

	paused := make(chan struct{})
	resume := make(chan struct{})
	var once sync.Once
	c.storage.SetSnapshotHook(func(*kvrpcpb.Context) {
		once.Do(func() {
			close(paused)
			<-resume
		})
	})

	cb := NewCallback()
	c.sched.Submit(c.prewrite(t, []byte("k"), []byte("v"), 10), cb)
	<-paused
	_, err := c.router.TransferLeader(1, &metapb.Peer{Id: 12, StoreId: 2})
	require.Nil(t, err)
	_, err = c.router.TransferLeader(1, &metapb.Peer{Id: 11, StoreId: 1})
	require.Nil(t, err)
	close(resume)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := cb.Wait(ctx)
	require.Nil(t, err)
	assert.Equal(t, Retryable, res.Kind)
	_, ok := errors.Cause(res.Err).(*region.ErrStaleCommand)
	assert.True(t, ok)
	assert.Equal(t, 0, c.engine.Len(engine_util.CfLock))

	// A command with a fresh context goes through.
	res = c.run(t, c.prewrite(t, []byte("k"), []byte("v"), 10))
	assert.Equal(t, Success, res.Kind, "%v", res.Err)
}

func TestStaleEpochRejected(t *testing.T) {
	c := newTestCluster(t, nil)
	defer c.stop()

	cmd := c.prewrite(t, []byte("a"), []byte("v"), 10)
	_, _, err := c.router.Split(1, []byte("m"), 2, []uint64{21, 22})
	require.Nil(t, err)

	res := c.run(t, cmd)
	assert.Equal(t, Retryable, res.Kind)
	_, ok := errors.Cause(res.Err).(*region.ErrEpochNotMatch)
	assert.True(t, ok)

	// The key now belongs to the right half.
	res = c.run(t, c.prewrite(t, []byte("z"), []byte("v"), 10))
	assert.Equal(t, Retryable, res.Kind)
	_, ok = errors.Cause(res.Err).(*region.ErrKeyNotInRegion)
	assert.True(t, ok)
}

func TestDroppedResult(t *testing.T) {
	c := newTestCluster(t, nil)
	defer c.stop()
	key := []byte("k")

	paused := make(chan struct{})
	resume := make(chan struct{})
	var once sync.Once
	c.storage.SetSnapshotHook(func(*kvrpcpb.Context) {
		once.Do(func() {
			close(paused)
			<-resume
		})
	})

	cb := NewCallback()
	c.sched.Submit(c.prewrite(t, key, []byte("v"), 10), cb)
	<-paused
	cb.Close()
	close(resume)

	// The prewrite still completes and releases its latch, so the commit behind it runs.
	res := c.run(t, c.commit(t, key, 10, 11))
	require.Equal(t, Success, res.Kind, "%v", res.Err)
	assert.Equal(t, uint64(1), c.sched.Canceled())
	select {
	case <-cb.Done():
		t.Fatal("result delivered to a closed callback")
	default:
	}

	res = c.run(t, c.get(t, key, 12))
	assert.Equal(t, &commands.GetResult{Value: []byte("v")}, res.Value)
}

func TestSharedKeySerialized(t *testing.T) {
	c := newTestCluster(t, nil)
	defer c.stop()

	const n = 50
	var active, maxActive atomic.Int32
	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		cmd := &hookCmd{
			ctx:  c.ctx(t),
			keys: [][]byte{[]byte("shared")},
			fn: func() {
				cur := active.Inc()
				if cur > maxActive.Load() {
					maxActive.Store(cur)
				}
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				time.Sleep(time.Millisecond)
				active.Dec()
			},
		}
		c.sched.Submit(cmd, SinkFunc(func(res *Result) {
			assert.Equal(t, Success, res.Kind)
			wg.Done()
		}))
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive.Load())
	// Latches are granted in submission order.
	for i := range order {
		assert.Equal(t, i, order[i])
	}
}

func TestDisjointKeysConcurrent(t *testing.T) {
	cfg := config.NewTestConfig().Scheduler
	cfg.LatchSlots = 1 << 20
	c := newTestCluster(t, &cfg)
	defer c.stop()

	// Every command blocks until all of them are running at once.
	const n = 4
	var barrier sync.WaitGroup
	barrier.Add(n)
	allIn := make(chan struct{})
	go func() {
		barrier.Wait()
		close(allIn)
	}()

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		cmd := &hookCmd{
			ctx:  c.ctx(t),
			keys: [][]byte{{'k', byte(i)}},
			fn: func() {
				barrier.Done()
				select {
				case <-allIn:
				case <-time.After(5 * time.Second):
				}
			},
		}
		c.sched.Submit(cmd, SinkFunc(func(*Result) { wg.Done() }))
	}
	select {
	case <-allIn:
	case <-time.After(5 * time.Second):
		t.Fatal("commands with disjoint keys did not run concurrently")
	}
	wg.Wait()
}

func TestResolveLockThroughReadPhase(t *testing.T) {
	c := newTestCluster(t, nil)
	defer c.stop()

	res := c.run(t, commands.NewPrewrite(&kvrpcpb.PrewriteRequest{
		Context: c.ctx(t),
		Mutations: []*kvrpcpb.Mutation{
			{Op: kvrpcpb.Op_Put, Key: []byte("a"), Value: []byte("1")},
			{Op: kvrpcpb.Op_Put, Key: []byte("b"), Value: []byte("2")},
		},
		PrimaryLock:  []byte("a"),
		StartVersion: 10,
	}))
	require.Equal(t, Success, res.Kind, "%v", res.Err)

	var validated [][]byte
	c.sched.Latches().Validation = func(txn *mvcc.MvccTxn, keys [][]byte) {
		validated = keys
	}
	res = c.run(t, commands.NewResolveLock(&kvrpcpb.ResolveLockRequest{
		Context:       c.ctx(t),
		StartVersion:  10,
		CommitVersion: 15,
	}))
	require.Equal(t, Success, res.Kind, "%v", res.Err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, validated)
	assert.Equal(t, 0, c.engine.Len(engine_util.CfLock))
	assert.Equal(t, 2, c.engine.Len(engine_util.CfWrite))

	// Nothing left to resolve: the command ends after its read phase.
	res = c.run(t, commands.NewResolveLock(&kvrpcpb.ResolveLockRequest{
		Context:       c.ctx(t),
		StartVersion:  10,
		CommitVersion: 15,
	}))
	assert.Equal(t, Success, res.Kind, "%v", res.Err)
}

func TestStoppedScheduler(t *testing.T) {
	c := newTestCluster(t, nil)
	c.stop()

	res := c.run(t, c.get(t, []byte("k"), 1))
	assert.Equal(t, Fatal, res.Kind)
	assert.Equal(t, ErrSchedulerStopped, res.Err)
}

func TestMissingContext(t *testing.T) {
	c := newTestCluster(t, nil)
	defer c.stop()

	res := c.run(t, commands.NewGet(&kvrpcpb.GetRequest{Key: []byte("k"), Version: 1}))
	assert.Equal(t, Fatal, res.Kind)
	assert.Equal(t, ErrMissingContext, res.Err)
}

func TestCommandPanicReleasesLatches(t *testing.T) {
	c := newTestCluster(t, nil)
	defer c.stop()

	res := c.run(t, &hookCmd{ctx: c.ctx(t), keys: [][]byte{[]byte("k")}, fn: func() { panic("boom") }})
	assert.Equal(t, Fatal, res.Kind)
	res = c.run(t, &hookCmd{ctx: c.ctx(t), keys: [][]byte{[]byte("k")}, fn: func() {}})
	assert.Equal(t, Success, res.Kind)
}
