package scheduler

import (
	"time"

	"github.com/pingcap-incubator/txnkv/kv/transaction/commands"
	"github.com/pingcap-incubator/txnkv/kv/transaction/latches"
)

// task is the scheduler's state for one submitted command. At any time exactly one goroutine drives a task: the
// submitter, a snapshot callback, a pool worker, or the command that woke it from the latch queue.
type task struct {
	cid  uint64
	cmd  commands.Command
	sink Sink

	lock *latches.Lock
	// keys the command writes, nil until known.
	keys [][]byte
	// readPhase is set while the command still has to find out what it writes.
	readPhase bool

	submitTime time.Time
	latchStart time.Time
	snapStart  time.Time
}

func newTask(cid uint64, cmd commands.Command, sink Sink) *task {
	return &task{
		cid:        cid,
		cmd:        cmd,
		sink:       sink,
		submitTime: time.Now(),
	}
}
