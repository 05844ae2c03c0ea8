package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/gogo/protobuf/proto"
	"github.com/panjf2000/ants/v2"
	"github.com/pingcap-incubator/txnkv/kv/config"
	"github.com/pingcap-incubator/txnkv/kv/storage"
	"github.com/pingcap-incubator/txnkv/kv/transaction/commands"
	"github.com/pingcap-incubator/txnkv/kv/transaction/latches"
	"github.com/pingcap-incubator/txnkv/kv/transaction/mvcc"
	"github.com/pingcap/errors"
	"github.com/pingcap/kvproto/pkg/kvrpcpb"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var (
	// ErrSchedulerStopped is delivered to commands submitted after Stop.
	ErrSchedulerStopped = errors.New("scheduler is stopped")
	// ErrMissingContext is delivered to commands without a request context.
	ErrMissingContext = errors.New("command has no context")
)

// Scheduler runs commands against a Storage. Commands writing a common key run one at a time in the order they got
// their latches; all others run in parallel on a worker pool. Waiting for latches or a snapshot never holds a
// worker.
type Scheduler struct {
	storage storage.Storage
	latches *latches.Latches

	pool             *ants.Pool
	highPriorityPool *ants.Pool

	idAlloc atomic.Uint64

	mu    sync.Mutex
	tasks map[uint64]*task

	lifeMu  sync.Mutex
	wg      sync.WaitGroup
	stopped atomic.Bool

	metrics   *metrics
	delivered atomic.Uint64
	canceled  atomic.Uint64
}

func NewScheduler(store storage.Storage, cfg *config.Scheduler) (*Scheduler, error) {
	panicHandler := ants.WithPanicHandler(func(p interface{}) {
		log.Error("scheduler worker panicked", zap.Any("panic", p), zap.Stack("stack"))
	})
	pool, err := ants.NewPool(cfg.WorkerPoolSize, panicHandler)
	if err != nil {
		return nil, errors.Trace(err)
	}
	highPriorityPool, err := ants.NewPool(cfg.HighPriorityPoolSize, panicHandler)
	if err != nil {
		pool.Release()
		return nil, errors.Trace(err)
	}
	return &Scheduler{
		storage:          store,
		latches:          latches.NewLatches(cfg.LatchSlots),
		pool:             pool,
		highPriorityPool: highPriorityPool,
		tasks:            make(map[uint64]*task),
		metrics:          newMetrics(),
	}, nil
}

// Latches exposes the latch table, tests use it to install a validation hook.
func (s *Scheduler) Latches() *latches.Latches {
	return s.latches
}

// Collectors returns the scheduler's metrics.
func (s *Scheduler) Collectors() []prometheus.Collector {
	return s.metrics.collectors()
}

func (s *Scheduler) Register(reg prometheus.Registerer) error {
	for _, c := range s.Collectors() {
		if err := reg.Register(c); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Delivered counts results that reached their sink.
func (s *Scheduler) Delivered() uint64 {
	return s.delivered.Load()
}

// Canceled counts results dropped because the sink was closed.
func (s *Scheduler) Canceled() uint64 {
	return s.canceled.Load()
}

// Stop rejects new commands, waits for every command in flight to deliver its result and releases the workers.
func (s *Scheduler) Stop() {
	s.lifeMu.Lock()
	s.stopped.Store(true)
	s.lifeMu.Unlock()
	s.wg.Wait()
	s.pool.Release()
	s.highPriorityPool.Release()
}

// Execute submits cmd and waits for its result. When ctx is done first the result is dropped and the context error
// returned; the command itself still completes.
func (s *Scheduler) Execute(ctx context.Context, cmd commands.Command) (*Result, error) {
	cb := NewCallback()
	s.Submit(cmd, cb)
	return cb.Wait(ctx)
}

// Submit schedules cmd and returns immediately. The result goes to sink.
func (s *Scheduler) Submit(cmd commands.Command, sink Sink) {
	t := newTask(s.idAlloc.Inc(), cmd, sink)
	if cmd.Context() == nil {
		s.deliver(t, nil, ErrMissingContext)
		return
	}
	s.lifeMu.Lock()
	if s.stopped.Load() {
		s.lifeMu.Unlock()
		s.deliver(t, nil, ErrSchedulerStopped)
		return
	}
	s.wg.Add(1)
	s.lifeMu.Unlock()
	s.metrics.inflight.Inc()

	if keys := cmd.WillWrite(); len(keys) > 0 {
		t.keys = keys
	} else {
		t.readPhase = true
	}
	t.lock = s.latches.GenLock(t.keys)

	log.Debug("command submitted",
		zap.Uint64("cid", t.cid),
		zap.String("type", cmd.Kind()),
		zap.Uint64("start-ts", cmd.StartTs()),
		zap.Int("keys", len(t.keys)))

	s.mu.Lock()
	s.tasks[t.cid] = t
	s.mu.Unlock()

	s.acquireAndRun(t)
}

// acquireAndRun continues t once all of its latches are held. Otherwise t stays queued and the command that
// releases the latch in front of it picks it up.
func (s *Scheduler) acquireAndRun(t *task) {
	t.latchStart = time.Now()
	if s.latches.Acquire(t.lock, t.cid) {
		s.onLatchesAcquired(t)
	}
}

func (s *Scheduler) onLatchesAcquired(t *task) {
	s.metrics.latchWait.Observe(time.Since(t.latchStart).Seconds())
	s.getSnapshotAndRun(t)
}

func (s *Scheduler) getSnapshotAndRun(t *task) {
	t.snapStart = time.Now()
	s.storage.AsyncSnapshot(t.cmd.Context(), func(snap storage.Snapshot, err error) {
		s.metrics.snapshotWait.Observe(time.Since(t.snapStart).Seconds())
		if err != nil {
			log.Debug("get snapshot failed", zap.Uint64("cid", t.cid), zap.Error(err))
			s.finish(t, nil, err)
			return
		}
		if err := s.poolFor(t).Submit(func() { s.process(t, snap) }); err != nil {
			snap.Close()
			s.finish(t, nil, errors.Trace(err))
		}
	})
}

func (s *Scheduler) poolFor(t *task) *ants.Pool {
	if t.cmd.Context().Priority == kvrpcpb.CommandPri_High {
		return s.highPriorityPool
	}
	return s.pool
}

// process runs on a worker with every latch of t held.
func (s *Scheduler) process(t *task, snap storage.Snapshot) {
	start := time.Now()
	defer func() {
		s.metrics.processDuration.WithLabelValues(t.cmd.Kind()).Observe(time.Since(start).Seconds())
	}()

	if t.readPhase {
		s.processRead(t, snap)
		return
	}
	s.processWrite(t, snap)
}

func (s *Scheduler) processRead(t *task, snap storage.Snapshot) {
	var (
		value interface{}
		keys  [][]byte
	)
	txn := mvcc.NewRoTxn(snap, t.cmd.StartTs())
	err := safeRun(func() (err error) {
		value, keys, err = t.cmd.Read(txn)
		return err
	})
	if err == nil {
		// Iterators do not check the snapshot on their own.
		err = snap.Validate()
	}
	snap.Close()
	if err != nil || len(keys) == 0 {
		s.finish(t, value, err)
		return
	}

	// The command found the keys it writes: latch them and run the write phase on a fresh snapshot.
	t.readPhase = false
	t.keys = keys
	t.lock = s.latches.GenLock(keys)
	s.acquireAndRun(t)
}

func (s *Scheduler) processWrite(t *task, snap storage.Snapshot) {
	var value interface{}
	txn := mvcc.NewTxn(snap, t.cmd.StartTs())
	err := safeRun(func() (err error) {
		value, err = t.cmd.PrepareWrites(txn)
		return err
	})
	if err == nil {
		err = snap.Validate()
	}
	snap.Close()
	if err == nil && len(txn.Writes()) > 0 {
		s.latches.Validate(txn, t.keys)
		// The write must land under the term the snapshot was read under.
		ctx := proto.Clone(t.cmd.Context()).(*kvrpcpb.Context)
		ctx.Term = snap.Term()
		err = s.storage.Write(ctx, txn.Writes())
	}
	s.finish(t, value, err)
}

// finish releases the latches of t, delivers its result and then lets the commands queued behind it go on, so
// results of commands sharing a key are delivered in execution order.
func (s *Scheduler) finish(t *task, value interface{}, err error) {
	wakeup := s.latches.Release(t.lock, t.cid)
	s.mu.Lock()
	delete(s.tasks, t.cid)
	s.mu.Unlock()

	s.deliver(t, value, err)
	s.metrics.inflight.Dec()
	s.wg.Done()

	for _, cid := range wakeup {
		s.wake(cid)
	}
}

func (s *Scheduler) wake(cid uint64) {
	s.mu.Lock()
	t, ok := s.tasks[cid]
	s.mu.Unlock()
	if !ok {
		log.Fatal("woken command is not scheduled", zap.Uint64("cid", cid))
	}
	if s.latches.Acquire(t.lock, t.cid) {
		s.onLatchesAcquired(t)
	}
}

func (s *Scheduler) deliver(t *task, value interface{}, err error) {
	res := newResult(value, err)
	s.metrics.commandCounter.WithLabelValues(t.cmd.Kind(), res.Kind.String()).Inc()
	if res.Kind == Fatal {
		log.Warn("command failed",
			zap.Uint64("cid", t.cid),
			zap.String("type", t.cmd.Kind()),
			zap.Error(err))
	}
	if t.sink.Deliver(res) {
		s.delivered.Inc()
		return
	}
	s.canceled.Inc()
	log.Debug("command result dropped, sink closed",
		zap.Uint64("cid", t.cid),
		zap.String("type", t.cmd.Kind()),
		zap.Stringer("result", res.Kind),
		zap.Duration("elapsed", time.Since(t.submitTime)))
}

// safeRun turns a panic in a command into an error, so the command's latches are still released.
func safeRun(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("command panicked: %v", r)
		}
	}()
	return fn()
}
