package latches

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dgryski/go-farm"
	"github.com/pingcap-incubator/txnkv/kv/transaction/mvcc"
	"github.com/phf/go-queue/queue"
)

// Latching provides atomicity of commands. This should not be confused with SQL transactions which provide atomicity
// for multiple commands. For example, consider two commit commands, these write to multiple keys/CFs so if they race,
// then it is possible for inconsistent data to be written. By latching the keys each command might write, we ensure that the
// two commands will not race to write the same keys.
//
// Keys are hashed into a fixed table of slots, so two keys may share a latch. Each slot holds a FIFO queue of command
// ids; the command at the front owns the slot. A command's slots are sorted and taken in that order, so two commands
// with overlapping key sets can never wait on each other in a cycle. A waiting command sits in exactly one queue at a
// time and is resumed by whichever command releases the slot in front of it.

// Lock is the set of latch slots a command needs. It is owned by that command and only touched by whichever goroutine
// currently drives it.
type Lock struct {
	requiredSlots []int
	// The first ownedCount slots of requiredSlots are held.
	ownedCount int
}

// Acquired reports whether every required slot is held.
func (l *Lock) Acquired() bool {
	return l.ownedCount == len(l.requiredSlots)
}

// IsEmpty reports whether the lock covers no keys at all.
func (l *Lock) IsEmpty() bool {
	return len(l.requiredSlots) == 0
}

type latch struct {
	mu      sync.Mutex
	waiting *queue.Queue
}

type Latches struct {
	slots []latch
	mask  uint64
	// An optional validation function, only used for testing.
	Validation func(txn *mvcc.MvccTxn, keys [][]byte)
}

// NewLatches creates a latch table with at least size slots. The table is rounded up to a power of two. There should
// be one table per scheduler.
func NewLatches(size int) *Latches {
	n := 1
	for n < size {
		n <<= 1
	}
	l := &Latches{
		slots: make([]latch, n),
		mask:  uint64(n - 1),
	}
	for i := range l.slots {
		l.slots[i].waiting = queue.New()
	}
	return l
}

// Size returns the number of slots.
func (l *Latches) Size() int {
	return len(l.slots)
}

// GenLock builds the Lock covering keys.
func (l *Latches) GenLock(keys [][]byte) *Lock {
	slots := make([]int, 0, len(keys))
	for _, key := range keys {
		slots = append(slots, int(farm.Fingerprint64(key)&l.mask))
	}
	sort.Ints(slots)
	deduped := slots[:0]
	for i, slot := range slots {
		if i == 0 || slot != slots[i-1] {
			deduped = append(deduped, slot)
		}
	}
	return &Lock{requiredSlots: deduped}
}

// Acquire tries to take the slots of lock for the command who, continuing from where an earlier call stopped. It
// returns true once every slot is held. Otherwise who is queued on the first slot it could not take, and it must call
// Acquire again when a Release names it as woken. After a false return the caller must not touch lock: the command
// that releases the slot may already be driving it.
func (l *Latches) Acquire(lock *Lock, who uint64) bool {
	for lock.ownedCount < len(lock.requiredSlots) {
		idx := lock.requiredSlots[lock.ownedCount]
		slot := &l.slots[idx]
		slot.mu.Lock()
		front := slot.waiting.Front()
		if front == nil {
			slot.waiting.PushBack(who)
		} else if front.(uint64) != who {
			slot.waiting.PushBack(who)
			slot.mu.Unlock()
			return false
		}
		lock.ownedCount++
		slot.mu.Unlock()
	}
	return true
}

// Release gives up every slot of lock held by who and returns the commands that moved to the front of a queue. Each of
// them has to call Acquire again.
func (l *Latches) Release(lock *Lock, who uint64) []uint64 {
	var wakeup []uint64
	for _, idx := range lock.requiredSlots[:lock.ownedCount] {
		slot := &l.slots[idx]
		slot.mu.Lock()
		owner := slot.waiting.PopFront()
		if owner == nil || owner.(uint64) != who {
			slot.mu.Unlock()
			panic(fmt.Sprintf("latch slot %d is owned by %v, not %d", idx, owner, who))
		}
		if next := slot.waiting.Front(); next != nil {
			wakeup = append(wakeup, next.(uint64))
		}
		slot.mu.Unlock()
	}
	lock.ownedCount = 0
	return wakeup
}

// Validate calls the function in Validation, if it exists.
func (l *Latches) Validate(txn *mvcc.MvccTxn, latched [][]byte) {
	if l.Validation != nil {
		l.Validation(txn, latched)
	}
}
